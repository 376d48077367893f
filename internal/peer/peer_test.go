package peer

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// Loopback negotiation: two Managers exchange offer/answer in-process the
// same way two agents would through the relay, then pass a message over the
// resulting DataChannel. Host-only ICE, no network beyond localhost.
func TestLoopbackDataChannel(t *testing.T) {
	dialer := NewManager(nil)
	defer dialer.Close()
	listener := NewManager(nil)
	defer listener.Close()

	received := make(chan string, 1)
	listener.OnDC(func(peerID string, dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			received <- string(msg.Data)
		})
	})

	dc, offerSDP, err := dialer.Offer("listener", "chat")
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offerSDP == "" {
		t.Fatal("offer SDP should be non-empty after ICE gathering")
	}

	answerSDP, err := listener.HandleOffer("dialer", offerSDP)
	if err != nil {
		t.Fatalf("handle offer: %v", err)
	}
	if err := dialer.HandleAnswer("listener", answerSDP); err != nil {
		t.Fatalf("handle answer: %v", err)
	}

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	select {
	case <-opened:
	case <-time.After(10 * time.Second):
		t.Fatal("data channel did not open")
	}

	if err := dc.SendText("hello from dialer"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-received:
		if msg != "hello from dialer" {
			t.Errorf("got %q", msg)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestHandleAnswerWithoutOffer(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()
	if err := m.HandleAnswer("nobody", "v=0"); err == nil {
		t.Error("expected error when no offer is pending")
	}
}
