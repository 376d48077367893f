package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignalMeterWithinBurst(t *testing.T) {
	m := NewSignalMeter(1024, 4096)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// A burst-sized frame passes without blocking meaningfully.
	start := time.Now()
	if err := m.Wait(ctx, "c1", 4096); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("within-burst wait should not block")
	}
}

func TestSignalMeterOversizedFrame(t *testing.T) {
	// Generous rate so chunking completes quickly; the point is that a frame
	// larger than the burst does not error out of WaitN.
	m := NewSignalMeter(1<<20, 1024)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Wait(ctx, "c1", 10*1024); err != nil {
		t.Fatalf("oversized wait: %v", err)
	}
}

func TestSignalMeterCancel(t *testing.T) {
	m := NewSignalMeter(1, 1) // 1 byte/sec: the second wait must block
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := m.Wait(ctx, "c1", 1); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := m.Wait(ctx, "c1", 1); err == nil {
		t.Error("blocked wait should fail when the context expires")
	}
}

func TestSignalMeterForget(t *testing.T) {
	m := NewSignalMeter(1, 1)
	ctx := context.Background()
	if err := m.Wait(ctx, "c1", 1); err != nil {
		t.Fatalf("wait: %v", err)
	}
	m.Forget("c1")

	// A fresh limiter has a full burst again.
	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := m.Wait(ctx2, "c1", 1); err != nil {
		t.Errorf("wait after forget should use a fresh burst: %v", err)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) int {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = ip + ":12345"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if do("10.0.0.1") != http.StatusOK || do("10.0.0.1") != http.StatusOK {
		t.Fatal("burst requests should pass")
	}
	if do("10.0.0.1") != http.StatusTooManyRequests {
		t.Error("third rapid request should be limited")
	}
	// A different IP has its own bucket.
	if do("10.0.0.2") != http.StatusOK {
		t.Error("other clients should be unaffected")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:4242"
	if got := clientIP(req); got != "192.0.2.1" {
		t.Errorf("clientIP = %s", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 192.0.2.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("clientIP with XFF = %s, want first hop", got)
	}
}
