package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meshrelay/meshrelay/pkg/config"
	"github.com/meshrelay/meshrelay/pkg/logger"
)

var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("send queue is full")
)

type WS struct {
	conn deadlinedConn
	send chan []byte

	// OnMessage is called for every inbound message in the order of arrival.
	// It should be set before Listen.
	OnMessage WSMessageHandler

	pingPong  bool
	pongWait  time.Duration
	maxSize   int64
	log       *logger.Logger
	closeOnce sync.Once
	closed    chan struct{}
	shutdown  sync.WaitGroup
	Done      chan struct{}
}

type WSMessageHandler func(message []byte)

type Upgrader struct {
	websocket.Upgrader
}

// NewUpgrader makes an upgrader that accepts connections only from the origin,
// an empty origin allows everyone.
func NewUpgrader(origin string) *Upgrader {
	u := Upgrader{websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		WriteBufferPool: &sync.Pool{},
	}}
	if origin == "" {
		u.CheckOrigin = func(*http.Request) bool { return true }
	} else {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

// NewServer upgrades an HTTP request of some browser client.
func (u *Upgrader) NewServer(w http.ResponseWriter, r *http.Request, conf config.Socket, log *logger.Logger) (*WS, error) {
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, conf, log), nil
}

func NewClient(address url.URL, conf config.Socket, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, conf, log), nil
}

func newSocket(conn *websocket.Conn, pingPong bool, conf config.Socket, log *logger.Logger) *WS {
	if log == nil {
		log = logger.Default()
	}
	queue := conf.SendQueue
	if queue <= 0 {
		queue = 1
	}
	return &WS{
		conn:     deadlinedConn{sock: conn, wt: conf.WriteWait},
		send:     make(chan []byte, queue),
		pingPong: pingPong,
		pongWait: conf.PongWait,
		maxSize:  conf.MaxMessageSize,
		log:      log,
		closed:   make(chan struct{}),
		Done:     make(chan struct{}),
	}
}

// Listen starts the read and write pumps.
// The Done channel is closed when both have stopped.
func (ws *WS) Listen() {
	ws.shutdown.Add(2)
	go ws.writer()
	go ws.reader()
	go func() {
		ws.shutdown.Wait()
		_ = ws.conn.close()
		close(ws.Done)
	}()
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Serializes all websocket reads.
func (ws *WS) reader() {
	defer func() {
		ws.Close()
		ws.shutdown.Done()
	}()
	ws.conn.setup(func(conn *websocket.Conn) {
		if ws.maxSize > 0 {
			conn.SetReadLimit(ws.maxSize)
		}
		if ws.pingPong && ws.pongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(ws.pongWait))
			conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(ws.pongWait)) })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Debug().Err(err).Msg("read")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message)
		}
	}
}

// writer pumps messages from the send queue to the websocket connection.
// Serializes all websocket writes.
func (ws *WS) writer() {
	var ping <-chan time.Time
	if ws.pingPong && ws.pongWait > 0 {
		ticker := time.NewTicker(ws.pongWait * 9 / 10)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer ws.shutdown.Done()
	for {
		select {
		case message := <-ws.send:
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				ws.log.Debug().Err(err).Msg("write")
				ws.Close()
				_ = ws.conn.close()
				return
			}
		case <-ping:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				ws.Close()
				_ = ws.conn.close()
				return
			}
		case <-ws.closed:
			_ = ws.conn.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			// unblocks the reader
			_ = ws.conn.close()
			return
		}
	}
}

// Write puts a message into the send queue without waiting.
// A full queue means that the other side doesn't keep up.
func (ws *WS) Write(data []byte) error {
	select {
	case <-ws.closed:
		return ErrClosed
	default:
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.closed:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Close stops the connection, it's safe to call many times.
func (ws *WS) Close() { ws.closeOnce.Do(func() { close(ws.closed) }) }

func (ws *WS) IsClosed() bool {
	select {
	case <-ws.closed:
		return true
	default:
		return false
	}
}

func (ws *WS) RemoteAddr() string { return ws.conn.sock.RemoteAddr().String() }
