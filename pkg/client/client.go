// Package client is a Go client of the signaling relay.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/goccy/go-json"
	"github.com/meshrelay/meshrelay/pkg/api"
	"github.com/meshrelay/meshrelay/pkg/config"
	"github.com/meshrelay/meshrelay/pkg/logger"
	"github.com/meshrelay/meshrelay/pkg/network/websocket"
)

var ErrClosed = errors.New("signaling connection is closed")

type Client struct {
	// Id is the id the relay gave to the connection.
	Id string
	// Ice is the list of ICE servers from the relay.
	Ice json.RawMessage

	ws   *websocket.WS
	in   chan api.Message
	done chan struct{}
	once sync.Once
	log  *logger.Logger
}

// Dial connects to the relay WebSocket endpoint (ws://host/ws) and waits
// for its greeting.
func Dial(ctx context.Context, address string, conf config.Socket, log *logger.Logger) (*Client, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	ws, err := websocket.NewClient(*u, conf, log)
	if err != nil {
		return nil, err
	}
	c := &Client{
		ws:   ws,
		in:   make(chan api.Message, 32),
		done: make(chan struct{}),
		log:  log,
	}
	ws.OnMessage = c.receive
	ws.Listen()
	go func() {
		<-ws.Done
		c.Close()
		close(c.in)
	}()

	select {
	case m, ok := <-c.in:
		if !ok {
			return nil, ErrClosed
		}
		if m.Type != api.Welcome {
			c.Close()
			return nil, fmt.Errorf("expected welcome, got %v", m.Type)
		}
		c.Id, c.Ice = m.Id, m.Ice
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
	return c, nil
}

func (c *Client) receive(data []byte) {
	m, err := api.Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("Bad message from the relay")
		return
	}
	select {
	case c.in <- m:
	case <-c.done:
	}
}

// Messages returns the messages from the relay.
// The channel is closed when the connection ends.
func (c *Client) Messages() <-chan api.Message { return c.in }

func (c *Client) Join(room string) error { return c.send(api.JoinRoom, room, "", nil) }

func (c *Client) Offer(target string, sdp any) error  { return c.send(api.Offer, "", target, sdp) }
func (c *Client) Answer(target string, sdp any) error { return c.send(api.Answer, "", target, sdp) }

func (c *Client) Candidate(target string, candidate any) error {
	return c.send(api.Candidate, "", target, candidate)
}

func (c *Client) send(t api.Type, room, target string, payload any) error {
	data, err := api.Out(t, room, target, payload)
	if err != nil {
		return err
	}
	if err = c.ws.Write(data); errors.Is(err, websocket.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Close disconnects from the relay. The relay tells the room about it.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Done is closed when Close was called or the relay went away.
func (c *Client) Done() <-chan struct{} { return c.done }
