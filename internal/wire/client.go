package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrNotConnected is returned by Signal when the client has no live connection.
var ErrNotConnected = errors.New("not connected to relay")

const (
	pingInterval      = 30 * time.Second
	writeTimeout      = 10 * time.Second
	maxReconnectDelay = 10 * time.Second
)

// SignalHandler is called for every signal relayed to this agent.
type SignalHandler func(from string, payload json.RawMessage)

// Client is an outbound WebSocket client that keeps an agent registered with
// the relay. It reconnects with exponential backoff and re-registers after
// every reconnect.
type Client struct {
	RelayURL string // e.g. "wss://perch.example.com/ws/agent"
	AgentID  string

	OnSignal      SignalHandler
	OnRelayError  func(target, message string)  // error reply from the relay
	OnStateChange func(state string, err error) // "connecting", "registered", "disconnected"

	conn *websocket.Conn
	mu   sync.Mutex
}

// Run connects to the relay and processes messages until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.notifyState("connecting", nil)
	delay := time.Second
	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if connected {
			delay = time.Second
		}
		c.notifyState("disconnected", err)
		log.Printf("relay disconnected: %v — reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.notifyState("connecting", nil)
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) notifyState(state string, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(state, err)
	}
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	conn, _, dialErr := websocket.Dial(ctx, c.RelayURL, nil)
	if dialErr != nil {
		return false, fmt.Errorf("dial: %w", dialErr)
	}
	conn.SetReadLimit(256 * 1024) // match relay limit
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.CloseNow()
	connected = true

	if err := c.writeJSON(ctx, Register{Type: TypeRegister, AgentID: c.AgentID}); err != nil {
		return connected, fmt.Errorf("register: %w", err)
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("bad message: %v", err)
			continue
		}

		switch env.Type {
		case TypeConnected:
			// Greeting — registration ack follows.

		case TypeRegistered:
			var msg Registered
			json.Unmarshal(data, &msg)
			log.Printf("registered with relay as %s", msg.AgentID)
			c.notifyState("registered", nil)

		case TypeSignal:
			var sig Signal
			if err := json.Unmarshal(data, &sig); err != nil {
				log.Printf("bad signal: %v", err)
				continue
			}
			if c.OnSignal != nil {
				c.OnSignal(sig.From, sig.Payload)
			}

		case TypePong:
			// Liveness confirmed.

		case TypeError:
			var msg ErrorMsg
			json.Unmarshal(data, &msg)
			log.Printf("relay error: %s (target=%s)", msg.Message, msg.Target)
			if c.OnRelayError != nil {
				c.OnRelayError(msg.Target, msg.Message)
			}

		default:
			log.Printf("unknown message type: %s", env.Type)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(ctx, Ping{Type: TypePing}); err != nil {
				return
			}
		}
	}
}

// Signal sends an opaque payload to the named agent via the relay. The relay
// stamps the from field; any From set here is overwritten server-side.
func (c *Client) Signal(ctx context.Context, target string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.writeJSON(ctx, Signal{Type: TypeSignal, Target: target, Payload: raw})
}

// Ping sends a liveness probe. The reply arrives asynchronously on the read loop.
func (c *Client) Ping(ctx context.Context) error {
	return c.writeJSON(ctx, Ping{Type: TypePing})
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
