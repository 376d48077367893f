package relay

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default signal traffic limits: enough for chatty SDP renegotiation, not
// enough to use the relay as a data pipe.
const (
	defaultSignalRate  = 64 * 1024  // bytes/sec per connection
	defaultSignalBurst = 256 * 1024 // bytes
)

// SignalMeter applies per-connection rate limiting on inbound relay traffic.
type SignalMeter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter // conn id → limiter
	rateVal  rate.Limit
	burst    int
}

// NewSignalMeter creates a meter with the given sustained rate (bytes/sec)
// and burst (bytes). Zero values fall back to the defaults.
func NewSignalMeter(bytesPerSec, burst int) *SignalMeter {
	if bytesPerSec <= 0 {
		bytesPerSec = defaultSignalRate
	}
	if burst <= 0 {
		burst = defaultSignalBurst
	}
	return &SignalMeter{
		limiters: make(map[string]*rate.Limiter),
		rateVal:  rate.Limit(bytesPerSec),
		burst:    burst,
	}
}

// Wait blocks until the connection's limiter allows n bytes, or ctx is done.
func (m *SignalMeter) Wait(ctx context.Context, connID string, n int) error {
	lim := m.limiter(connID)
	if n <= m.burst {
		return lim.WaitN(ctx, n)
	}
	// Chunk oversized frames so WaitN doesn't reject (n > burst).
	for n > 0 {
		chunk := n
		if chunk > m.burst {
			chunk = m.burst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Forget drops the limiter for a closed connection.
func (m *SignalMeter) Forget(connID string) {
	m.mu.Lock()
	delete(m.limiters, connID)
	m.mu.Unlock()
}

func (m *SignalMeter) limiter(connID string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[connID]
	if !ok {
		lim = rate.NewLimiter(m.rateVal, m.burst)
		m.limiters[connID] = lim
	}
	return lim
}

// RateLimiter applies per-IP request rate limiting on the HTTP surface.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a per-IP rate limiter. reqPerSec is the sustained
// rate, burst the max burst size.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(reqPerSec),
		burst:    burst,
	}
	// Evict stale entries every 5 minutes
	go func() {
		for range time.Tick(5 * time.Minute) {
			rl.mu.Lock()
			for ip, l := range rl.limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(rl.limiters, ip)
				}
			}
			rl.mu.Unlock()
		}
	}()
	return rl
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.lim
}

// Allow returns true if the request is within rate limits for the given IP.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getLimiter(ip).Allow()
}

// Middleware wraps an http.Handler with rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First hop is the client
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
