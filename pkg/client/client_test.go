package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/meshrelay/meshrelay/pkg/api"
	"github.com/meshrelay/meshrelay/pkg/config"
	"github.com/meshrelay/meshrelay/pkg/logger"
	"github.com/meshrelay/meshrelay/pkg/relay"
	"github.com/pion/webrtc/v4"
)

var socket = config.Socket{MaxMessageSize: 1 << 16, SendQueue: 16, PongWait: 10 * time.Second, WriteWait: time.Second}

func startRelay(t *testing.T) string {
	t.Helper()
	conf := config.RelayConfig{}
	conf.Relay.Socket = socket
	conf.Webrtc.IceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	r, err := relay.NewHandler(conf, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = r.Shutdown(context.Background())
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + relay.WsPath
}

func dial(t *testing.T, address string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, address, socket, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func next(t *testing.T, c *Client, tp api.Type) api.Message {
	t.Helper()
	select {
	case m, ok := <-c.Messages():
		if !ok {
			t.Fatalf("connection is closed")
		}
		if m.Type != tp {
			t.Fatalf("expected %v, got %+v", tp, m)
		}
		return m
	case <-time.After(3 * time.Second):
		t.Fatalf("no %v", tp)
	}
	return api.Message{}
}

func TestDialWelcome(t *testing.T) {
	c := dial(t, startRelay(t))
	if c.Id == "" {
		t.Errorf("no id")
	}
	if !strings.Contains(string(c.Ice), "stun:stun.example.com:3478") {
		t.Errorf("unexpected ice %s", c.Ice)
	}
}

func TestHandshake(t *testing.T) {
	address := startRelay(t)
	x, y := dial(t, address), dial(t, address)

	if err := x.Join("viRoom"); err != nil {
		t.Fatal(err)
	}
	if m := next(t, x, api.Joined); len(m.Peers) != 0 {
		t.Errorf("expected nobody, got %v", m.Peers)
	}
	if err := y.Join("viRoom"); err != nil {
		t.Fatal(err)
	}
	next(t, x, api.PeerJoined)
	next(t, y, api.Joined)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	if err := y.Offer(x.Id, offer); err != nil {
		t.Fatal(err)
	}
	m := next(t, x, api.Offer)
	var sd webrtc.SessionDescription
	if err := api.Unmarshal(m.Sdp, &sd); err != nil {
		t.Fatal(err)
	}
	if m.SenderId != y.Id || sd.Type != webrtc.SDPTypeOffer || sd.SDP != "v=0" {
		t.Errorf("unexpected offer %+v", m)
	}

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	if err := x.Candidate(y.Id, candidate); err != nil {
		t.Fatal(err)
	}
	if m := next(t, y, api.Candidate); m.SenderId != x.Id || !strings.Contains(string(m.Candidate), "10.0.0.1 5000") {
		t.Errorf("unexpected candidate %+v", m)
	}

	y.Close()
	if m := next(t, x, api.PeerLeft); m.PeerId != y.Id {
		t.Errorf("expected %v left, got %v", y.Id, m.PeerId)
	}
	if err := y.Answer(x.Id, offer); !errors.Is(err, ErrClosed) {
		t.Errorf("expected closed error, got %v", err)
	}
}

func TestRelayGone(t *testing.T) {
	conf := config.RelayConfig{}
	conf.Relay.Socket = socket
	r, err := relay.NewHandler(conf, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+relay.WsPath)
	_ = r.Shutdown(context.Background())

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("client is still open")
	}
	for range c.Messages() {
	}
}

func TestDialNoRelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/ws", socket, logger.Nop()); err == nil {
		t.Errorf("expected a dial error")
	}
}
