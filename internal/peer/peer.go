package peer

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"
)

// SDP is the negotiation payload two agents exchange through the relay. The
// relay never looks inside it.
type SDP struct {
	Kind string `json:"kind"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// DCHandler is called when a DataChannel opens on an answered connection.
type DCHandler func(peerID string, dc *webrtc.DataChannel)

// Manager holds per-peer WebRTC connections negotiated over relayed signals.
// ICE is non-trickle: each side gathers all candidates before sending its
// description, so one offer and one answer complete the exchange.
type Manager struct {
	mu         sync.Mutex
	peers      map[string]*webrtc.PeerConnection // peer agent id → PC
	iceServers []webrtc.ICEServer
	dcHandler  DCHandler
}

// NewManager creates a Manager with the given ICE servers. Pass nil for
// host-only ICE (same-LAN only).
func NewManager(iceServers []webrtc.ICEServer) *Manager {
	return &Manager{
		peers:      make(map[string]*webrtc.PeerConnection),
		iceServers: iceServers,
	}
}

// OnDC registers a callback for DataChannels opened by dialing peers.
func (m *Manager) OnDC(handler DCHandler) {
	m.mu.Lock()
	m.dcHandler = handler
	m.mu.Unlock()
}

// Offer creates a connection to peerID with a DataChannel named label and
// returns the channel plus the offer SDP to relay. The channel opens once
// the peer's answer is applied via HandleAnswer.
func (m *Manager) Offer(peerID, label string) (*webrtc.DataChannel, string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.iceServers})
	if err != nil {
		return nil, "", fmt.Errorf("new peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel(label, nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("create data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	m.track(peerID, pc)

	localDesc := pc.LocalDescription()
	if localDesc == nil {
		pc.Close()
		return nil, "", fmt.Errorf("no local description after ICE gathering")
	}
	return dc, localDesc.SDP, nil
}

// HandleAnswer applies a relayed answer to the pending connection for peerID.
func (m *Manager) HandleAnswer(peerID, sdpAnswer string) error {
	m.mu.Lock()
	pc, ok := m.peers[peerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending offer for peer %s", peerID)
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdpAnswer,
	})
}

// HandleOffer processes a relayed offer from peerID, creating a
// PeerConnection and returning the answer SDP to relay back.
func (m *Manager) HandleOffer(peerID, sdpOffer string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.iceServers})
	if err != nil {
		return "", fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			log.Printf("[P2P] data channel %q opened for peer %s", dc.Label(), peerID)
			m.mu.Lock()
			handler := m.dcHandler
			m.mu.Unlock()
			if handler != nil {
				handler(peerID, dc)
			}
		})
	})

	m.track(peerID, pc)

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdpOffer,
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	localDesc := pc.LocalDescription()
	if localDesc == nil {
		pc.Close()
		return "", fmt.Errorf("no local description after ICE gathering")
	}
	return localDesc.SDP, nil
}

// track stores pc for peerID, closing any previous connection, and wires
// state-change cleanup so failed peers don't leak.
func (m *Manager) track(peerID string, pc *webrtc.PeerConnection) {
	m.mu.Lock()
	if old, ok := m.peers[peerID]; ok {
		old.Close()
	}
	m.peers[peerID] = pc
	m.mu.Unlock()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[P2P] peer %s connection state: %s", peerID, state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			m.mu.Lock()
			if m.peers[peerID] == pc {
				delete(m.peers, peerID)
			}
			m.mu.Unlock()
		}
	})
}

// Close shuts down all peer connections.
func (m *Manager) Close() {
	m.mu.Lock()
	peers := make(map[string]*webrtc.PeerConnection, len(m.peers))
	for k, v := range m.peers {
		peers[k] = v
	}
	m.peers = make(map[string]*webrtc.PeerConnection)
	m.mu.Unlock()

	for _, pc := range peers {
		pc.Close()
	}
}
