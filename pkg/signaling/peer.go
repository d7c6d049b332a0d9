package signaling

import (
	"sync/atomic"

	"github.com/meshrelay/meshrelay/pkg/com"
	"github.com/meshrelay/meshrelay/pkg/logger"
)

type State int32

const (
	Connected State = iota
	Joined
	Closed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is a live message-framed connection with a client.
type Transport interface {
	// Write sends one message without blocking for long,
	// an error means the connection is broken.
	Write(data []byte) error
	Close()
}

// Peer is one client connection.
// Its room and state change only on the goroutine that reads the connection.
type Peer struct {
	id    com.Uid
	room  string
	state atomic.Int32
	conn  Transport
	log   *logger.Logger
}

func (p *Peer) Id() com.Uid      { return p.id }
func (p *Peer) Room() string     { return p.room }
func (p *Peer) State() State     { return State(p.state.Load()) }
func (p *Peer) String() string   { return p.id.String() }
func (p *Peer) setState(s State) { p.state.Store(int32(s)) }
