package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/coder/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/perch/internal/peer"
	"github.com/ehrlich-b/perch/internal/wire"
)

func main() {
	root := &cobra.Command{
		Use:   "perch",
		Short: "perch agent client",
	}

	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "register with the relay and open a P2P chat channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			relayURL, _ := cmd.Flags().GetString("relay")
			agentID, _ := cmd.Flags().GetString("id")
			peerID, _ := cmd.Flags().GetString("peer")
			stun, _ := cmd.Flags().GetString("stun")
			if agentID == "" {
				return fmt.Errorf("--id is required")
			}
			return runConnect(relayURL, agentID, peerID, stun)
		},
	}
	connectCmd.Flags().String("relay", "ws://localhost:8080/ws/agent", "relay WebSocket URL")
	connectCmd.Flags().String("id", "", "agent identifier to register")
	connectCmd.Flags().String("peer", "", "peer agent to dial (omit to wait for an inbound offer)")
	connectCmd.Flags().String("stun", "", "STUN server URL (empty for host-only ICE)")
	root.AddCommand(connectCmd)

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "check relay liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			relayURL, _ := cmd.Flags().GetString("relay")
			return runPing(relayURL)
		},
	}
	pingCmd.Flags().String("relay", "ws://localhost:8080/ws/agent", "relay WebSocket URL")
	root.AddCommand(pingCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runConnect(relayURL, agentID, peerID, stun string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var iceServers []webrtc.ICEServer
	if stun != "" {
		iceServers = []webrtc.ICEServer{{URLs: []string{stun}}}
	}
	mgr := peer.NewManager(iceServers)
	defer mgr.Close()

	dcReady := make(chan *webrtc.DataChannel, 1)
	mgr.OnDC(func(pid string, dc *webrtc.DataChannel) {
		fmt.Printf("p2p channel open with %s\n", pid)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			fmt.Printf("%s> %s\n", pid, string(msg.Data))
		})
		select {
		case dcReady <- dc:
		default:
		}
	})

	client := &wire.Client{RelayURL: relayURL, AgentID: agentID}
	registered := make(chan struct{}, 1)
	client.OnStateChange = func(state string, err error) {
		if state == "registered" {
			select {
			case registered <- struct{}{}:
			default:
			}
		}
	}
	client.OnSignal = func(from string, payload json.RawMessage) {
		var sdp peer.SDP
		if err := json.Unmarshal(payload, &sdp); err != nil {
			log.Printf("unreadable signal from %s: %v", from, err)
			return
		}
		switch sdp.Kind {
		case "offer":
			answer, err := mgr.HandleOffer(from, sdp.SDP)
			if err != nil {
				log.Printf("answer %s: %v", from, err)
				return
			}
			if err := client.Signal(ctx, from, peer.SDP{Kind: "answer", SDP: answer}); err != nil {
				log.Printf("send answer to %s: %v", from, err)
			}
		case "answer":
			if err := mgr.HandleAnswer(from, sdp.SDP); err != nil {
				log.Printf("apply answer from %s: %v", from, err)
			}
		default:
			log.Printf("unknown signal kind %q from %s", sdp.Kind, from)
		}
	}
	client.OnRelayError = func(target, message string) {
		fmt.Fprintf(os.Stderr, "relay: %s\n", message)
	}

	go client.Run(ctx)

	if peerID != "" {
		select {
		case <-registered:
		case <-ctx.Done():
			return ctx.Err()
		}

		dc, offer, err := mgr.Offer(peerID, "chat")
		if err != nil {
			return fmt.Errorf("offer: %w", err)
		}
		dc.OnOpen(func() {
			fmt.Printf("p2p channel open with %s\n", peerID)
			select {
			case dcReady <- dc:
			default:
			}
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			fmt.Printf("%s> %s\n", peerID, string(msg.Data))
		})
		if err := client.Signal(ctx, peerID, peer.SDP{Kind: "offer", SDP: offer}); err != nil {
			return fmt.Errorf("send offer: %w", err)
		}
		fmt.Printf("dialing %s via relay...\n", peerID)
	} else {
		fmt.Printf("registered as %s — waiting for a peer to dial in\n", agentID)
	}

	var dc *webrtc.DataChannel
	select {
	case dc = <-dcReady:
	case <-ctx.Done():
		return nil
	}

	// Everything typed from here on goes peer-to-peer; the relay is out of
	// the path.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := dc.SendText(scanner.Text()); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return scanner.Err()
}

func runPing(relayURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ping, _ := json.Marshal(wire.Ping{Type: wire.TypePing})
	start := time.Now()
	if err := conn.Write(ctx, websocket.MessageText, ping); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == wire.TypePong {
			fmt.Printf("pong in %s\n", time.Since(start).Round(time.Microsecond))
			return nil
		}
	}
}
