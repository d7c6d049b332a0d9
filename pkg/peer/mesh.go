// Package peer connects to every member of a signaling room
// with a WebRTC data channel.
//
// Connections are always started by the member who joined later:
// it gets the list of the members present before it and sends each of
// them an offer, while the old members only answer.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/meshrelay/meshrelay/pkg/api"
	"github.com/meshrelay/meshrelay/pkg/client"
	"github.com/meshrelay/meshrelay/pkg/logger"
	"github.com/pion/webrtc/v4"
)

const ChannelLabel = "mesh"

var ErrNoLink = errors.New("no open link to the peer")

// Signaler is the relay side of a mesh.
type Signaler interface {
	Join(room string) error
	Offer(target string, sdp any) error
	Answer(target string, sdp any) error
	Candidate(target string, candidate any) error
	Messages() <-chan api.Message
}

var _ Signaler = (*client.Client)(nil)

type Mesh struct {
	sig   Signaler
	api   *ApiFactory
	links map[string]*link
	mu    sync.Mutex
	log   *logger.Logger

	// OnOpen is called when a data channel with the peer opens.
	OnOpen func(id string)
	// OnClose is called when the peer leaves or its connection fails.
	OnClose func(id string)
	// OnMessage is called for every data channel message.
	OnMessage func(from string, data []byte)
}

func NewMesh(sig Signaler, api *ApiFactory, log *logger.Logger) *Mesh {
	return &Mesh{sig: sig, api: api, links: map[string]*link{}, log: log}
}

// Join enters the room, the links are made by Run.
func (m *Mesh) Join(room string) error { return m.sig.Join(room) }

// Run handles signaling messages until the relay connection
// ends or the context is done.
func (m *Mesh) Run(ctx context.Context) error {
	defer m.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-m.sig.Messages():
			if !ok {
				return client.ErrClosed
			}
			if err := m.handle(msg); err != nil {
				m.log.Warn().Err(err).Str("from", msg.SenderId).Msgf("%v", msg.Type)
			}
		}
	}
}

func (m *Mesh) handle(msg api.Message) error {
	switch msg.Type {
	case api.Joined:
		m.log.Info().Str(logger.RoomField, msg.RoomId).Int("peers", len(msg.Peers)).Msg("Joined")
		for _, id := range msg.Peers {
			if err := m.call(id); err != nil {
				m.log.Error().Err(err).Str("to", id).Msg("Call")
			}
		}
	case api.PeerJoined:
		m.log.Info().Str("peer", msg.PeerId).Msg("Peer joined, waiting for its offer")
	case api.PeerLeft:
		m.drop(msg.PeerId)
	case api.Offer:
		return m.answer(msg.SenderId, msg.Sdp)
	case api.Answer:
		return m.accept(msg.SenderId, msg.Sdp)
	case api.Candidate:
		return m.candidate(msg.SenderId, msg.Candidate)
	case api.Error:
		m.log.Warn().Str("code", string(msg.Code)).Msg(msg.Detail)
	}
	return nil
}

// call makes a link to an old member and sends it an offer.
func (m *Mesh) call(id string) error {
	l, err := m.newLink(id)
	if err != nil {
		return err
	}
	dc, err := l.pc.CreateDataChannel(ChannelLabel, nil)
	if err != nil {
		m.drop(id)
		return err
	}
	m.bind(l, dc)
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		m.drop(id)
		return err
	}
	if err = l.pc.SetLocalDescription(offer); err != nil {
		m.drop(id)
		return err
	}
	if err = m.sig.Offer(id, offer); err != nil {
		return err
	}
	return l.described(m.sig)
}

// answer makes a link for a newcomer who sent its offer.
func (m *Mesh) answer(id string, sdp json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := api.Unmarshal(sdp, &offer); err != nil {
		return err
	}
	if l := m.get(id); l != nil && l.pc != nil {
		// a fresh offer replaces the old link
		m.drop(id)
	}
	l, err := m.newLink(id)
	if err != nil {
		return err
	}
	l.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == ChannelLabel {
			m.bind(l, dc)
		}
	})
	if err = l.remote(offer); err != nil {
		m.drop(id)
		return err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		m.drop(id)
		return err
	}
	if err = l.pc.SetLocalDescription(answer); err != nil {
		m.drop(id)
		return err
	}
	if err = m.sig.Answer(id, answer); err != nil {
		return err
	}
	return l.described(m.sig)
}

func (m *Mesh) accept(id string, sdp json.RawMessage) error {
	l := m.get(id)
	if l == nil {
		return fmt.Errorf("answer from unknown peer %v", id)
	}
	var answer webrtc.SessionDescription
	if err := api.Unmarshal(sdp, &answer); err != nil {
		return err
	}
	return l.remote(answer)
}

func (m *Mesh) candidate(id string, raw json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := api.Unmarshal(raw, &c); err != nil {
		return err
	}
	m.mu.Lock()
	l := m.links[id]
	if l == nil {
		// the offer is late, keep it for the link
		l = &link{id: id}
		m.links[id] = l
	}
	m.mu.Unlock()
	return l.addCandidate(c)
}

func (m *Mesh) newLink(id string) (*link, error) {
	pc, err := m.api.NewPeer()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	l := m.links[id]
	if l == nil || l.pc != nil {
		l = &link{id: id}
		m.links[id] = l
	}
	l.pc = pc
	m.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := l.localCandidate(m.sig, c.ToJSON()); err != nil {
			m.log.Warn().Err(err).Str("to", id).Msg("Candidate")
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.log.Debug().Str("peer", id).Msgf("Connection %v", s)
		if s == webrtc.PeerConnectionStateFailed {
			m.dropLink(l)
		}
	})
	return l, nil
}

func (m *Mesh) bind(l *link, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		l.mu.Lock()
		l.dc = dc
		l.mu.Unlock()
		m.log.Info().Str("peer", l.id).Msg("Channel open")
		if m.OnOpen != nil {
			m.OnOpen(l.id)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if m.OnMessage != nil {
			m.OnMessage(l.id, msg.Data)
		}
	})
}

// Send sends the data to one peer.
func (m *Mesh) Send(id string, data []byte) error {
	l := m.get(id)
	if l == nil {
		return ErrNoLink
	}
	dc := l.channel()
	if dc == nil {
		return ErrNoLink
	}
	return dc.Send(data)
}

// Broadcast sends the data to every peer with an open channel.
func (m *Mesh) Broadcast(data []byte) error {
	var err error
	for _, id := range m.Peers() {
		err = errors.Join(err, m.Send(id, data))
	}
	return err
}

// Peers returns the ids of the peers with open channels.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, l := range m.links {
		if l.channel() != nil {
			out = append(out, id)
		}
	}
	return out
}

func (m *Mesh) get(id string) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[id]
}

func (m *Mesh) drop(id string) {
	if l := m.get(id); l != nil {
		m.dropLink(l)
	}
}

func (m *Mesh) dropLink(l *link) {
	m.mu.Lock()
	if m.links[l.id] != l {
		m.mu.Unlock()
		return
	}
	delete(m.links, l.id)
	m.mu.Unlock()

	wasOpen := l.channel() != nil
	l.close()
	m.log.Info().Str("peer", l.id).Msg("Link closed")
	if wasOpen && m.OnClose != nil {
		m.OnClose(l.id)
	}
}

// Close closes all the links.
func (m *Mesh) Close() {
	m.mu.Lock()
	links := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()
	for _, l := range links {
		m.dropLink(l)
	}
}
