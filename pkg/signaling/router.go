// Package signaling routes handshake messages between the connections
// that share a room.
package signaling

import (
	"fmt"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/meshrelay/meshrelay/pkg/api"
	"github.com/meshrelay/meshrelay/pkg/com"
	"github.com/meshrelay/meshrelay/pkg/logger"
	"github.com/meshrelay/meshrelay/pkg/registry"
)

type Router struct {
	rooms *registry.Registry
	peers *com.Map[com.Uid, *Peer]
	ice   atomic.Pointer[json.RawMessage]
	log   *logger.Logger
}

// NewRouter makes a router over the rooms of the registry.
// The ice list is sent as is to every new connection.
func NewRouter(rooms *registry.Registry, ice json.RawMessage, log *logger.Logger) *Router {
	r := &Router{
		rooms: rooms,
		peers: com.NewMap[com.Uid, *Peer](),
		log:   log,
	}
	r.SetIce(ice)
	return r
}

// SetIce replaces the ICE server list for the connections made after the call.
func (r *Router) SetIce(ice json.RawMessage) { r.ice.Store(&ice) }

// Connect registers a new client connection and sends it the greeting.
func (r *Router) Connect(conn Transport) *Peer {
	id := com.NewUid()
	p := &Peer{
		id:   id,
		conn: conn,
		log:  r.log.Extend(r.log.With().Str(logger.ClientField, id.Short())),
	}
	p.setState(Connected)
	r.peers.Put(id, p)
	peersGauge.Inc()
	p.log.Info().Str(logger.DirectionField, "→").Msg("Connect")
	r.send(p, api.NewWelcome(id.String(), *r.ice.Load()))
	return p
}

// Handle processes one inbound message of the peer.
// Messages of a peer should be handled one by one in the order they came.
func (r *Router) Handle(p *Peer, data []byte) {
	if p.State() == Closed {
		return
	}
	rq, err := api.Parse(data)
	if err != nil {
		p.log.Warn().Err(err).Msg("Malformed message")
		r.reject(p, api.CodeMalformed, err)
		return
	}
	messagesCounter.WithLabelValues(rq.Kind().String()).Inc()
	p.log.Debug().Str(logger.DirectionField, "←").Msgf("%s", rq.Kind())

	switch rq := rq.(type) {
	case api.JoinRoomRequest:
		err = r.join(p, rq.RoomId)
	case api.SignalRequest:
		err = r.signal(p, rq)
	}
	if err != nil {
		p.log.Debug().Err(err).Msgf("Rejected %s", rq.Kind())
		r.reject(p, codeOf(err), err)
	}
}

func (r *Router) join(p *Peer, roomId string) error {
	if p.State() == Joined {
		if p.room != roomId {
			return fmt.Errorf("%w [%s]", registry.ErrJoinedElsewhere, p.room)
		}
	}
	existing, err := r.rooms.Join(roomId, p.id)
	if err != nil {
		return err
	}
	ids := make([]string, len(existing))
	for i, id := range existing {
		ids[i] = id.String()
	}

	if p.State() == Joined {
		// same room again, just repeat the ack
		r.send(p, api.NewJoined(roomId, ids))
		return nil
	}

	p.room = roomId
	p.setState(Joined)
	p.log = p.log.Extend(p.log.With().Str(logger.RoomField, roomId))
	roomsGauge.Set(float64(r.rooms.Count()))
	p.log.Info().Int("peers", len(existing)).Msg("Joined")

	// notify the old members before the newcomer starts to call them
	r.broadcast(existing, api.NewPeerJoined(p.id.String()))
	r.send(p, api.NewJoined(roomId, ids))
	return nil
}

func (r *Router) signal(p *Peer, rq api.SignalRequest) error {
	if p.State() != Joined {
		return ErrUnjoined
	}
	id, err := com.ParseUid(rq.TargetId)
	if err != nil || id == p.id || !r.rooms.IsMember(p.room, id) {
		return fmt.Errorf("%w [%s]", ErrTargetNotFound, rq.TargetId)
	}
	target, err := r.peers.Find(id)
	if err != nil {
		return fmt.Errorf("%w [%s]", ErrTargetNotFound, rq.TargetId)
	}
	p.log.Debug().Str(logger.DirectionField, "→").Str("to", id.Short()).Msgf("%s", rq.T)
	r.send(target, api.NewSignal(rq, p.id.String()))
	return nil
}

// Disconnect runs the close path of the peer: it leaves its room,
// tells the rest of the room about it and releases the connection.
// Only the first call does anything.
func (r *Router) Disconnect(p *Peer) {
	if State(p.state.Swap(int32(Closed))) == Closed {
		return
	}
	room, ok := r.rooms.Leave(p.id)
	r.peers.RemoveByKey(p.id)
	peersGauge.Dec()
	if ok {
		roomsGauge.Set(float64(r.rooms.Count()))
		r.broadcast(r.rooms.Members(room), api.NewPeerLeft(p.id.String()))
	}
	p.conn.Close()
	p.log.Info().Str(logger.DirectionField, "x").Msg("Disconnect")
}

// CloseAll closes every connection, their close paths run as usual.
func (r *Router) CloseAll() {
	for _, p := range r.peers.Values() {
		p.conn.Close()
	}
}

// Rooms returns the number of members in every room.
func (r *Router) Rooms() map[string]int { return r.rooms.Rooms() }

// Peers returns the number of open connections.
func (r *Router) Peers() int { return r.peers.Len() }

func (r *Router) broadcast(ids []com.Uid, v any) {
	if len(ids) == 0 {
		return
	}
	data, err := api.Encode(v)
	if err != nil {
		r.log.Error().Err(err).Msg("Encode")
		return
	}
	for _, id := range ids {
		if p, err := r.peers.Find(id); err == nil {
			r.write(p, data)
		}
	}
}

func (r *Router) send(p *Peer, v any) {
	data, err := api.Encode(v)
	if err != nil {
		r.log.Error().Err(err).Msg("Encode")
		return
	}
	r.write(p, data)
}

// write queues the data for the peer, a peer that can't take it is
// closed and goes through its close path on its own goroutine.
func (r *Router) write(p *Peer, data []byte) {
	if err := p.conn.Write(data); err != nil {
		droppedCounter.Inc()
		r.log.Warn().Err(err).Str(logger.ClientField, p.id.Short()).Msg("Send failed, closing")
		p.conn.Close()
	}
}

func (r *Router) reject(p *Peer, code api.ErrorCode, err error) {
	errorsCounter.WithLabelValues(string(code)).Inc()
	r.send(p, api.NewError(code, err.Error()))
}
