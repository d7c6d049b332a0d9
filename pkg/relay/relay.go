// Package relay serves the signaling router over WebSocket.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/meshrelay/meshrelay/pkg/config"
	"github.com/meshrelay/meshrelay/pkg/logger"
	"github.com/meshrelay/meshrelay/pkg/network/httpx"
	"github.com/meshrelay/meshrelay/pkg/network/websocket"
	"github.com/meshrelay/meshrelay/pkg/registry"
	"github.com/meshrelay/meshrelay/pkg/signaling"
)

const (
	WsPath     = "/ws"
	HealthPath = "/healthz"
	RoomsPath  = "/rooms"
)

type Relay struct {
	conf     config.RelayConfig
	router   *signaling.Router
	upgrader *websocket.Upgrader
	server   *httpx.Server
	conns    sync.WaitGroup
	stop     context.CancelFunc
	log      *logger.Logger
}

// New makes a relay with an empty room registry.
// The HTTP server is bound to its address but not started.
func New(conf config.RelayConfig, log *logger.Logger) (*Relay, error) {
	r, err := NewHandler(conf, log)
	if err != nil {
		return nil, err
	}
	r.server, err = httpx.NewServer(
		conf.Relay.Server.GetAddr(),
		func(*httpx.Server) httpx.Handler { return r.Handler() },
		httpx.WithServerConfig(conf.Relay.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewHandler makes a relay without its own server.
// Use Handler to mount it somewhere.
func NewHandler(conf config.RelayConfig, log *logger.Logger) (*Relay, error) {
	ice, err := conf.Webrtc.IceJSON()
	if err != nil {
		return nil, fmt.Errorf("ice servers: %w", err)
	}
	return &Relay{
		conf:     conf,
		router:   signaling.NewRouter(registry.New(), ice, log),
		upgrader: websocket.NewUpgrader(conf.Relay.Origin),
		log:      log,
	}, nil
}

func (r *Relay) Handler() http.Handler {
	h := httpx.NewServeMux("")
	h.HandleFunc(WsPath, r.handleWs)
	h.HandleFunc(HealthPath, r.handleHealth)
	h.HandleFunc(RoomsPath, r.handleRooms)
	return h
}

func (r *Relay) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	r.stop = cancel
	if r.conf.Relay.Reload {
		r.watchIce(ctx)
	}
	if r.server != nil {
		r.server.Run()
	}
}

// Shutdown stops accepting connections, closes the live ones
// and waits for them to leave their rooms.
func (r *Relay) Shutdown(ctx context.Context) error {
	if r.stop != nil {
		r.stop()
	}
	var err error
	if r.server != nil {
		err = r.server.Shutdown(ctx)
	}
	r.router.CloseAll()

	done := make(chan struct{})
	go func() { r.conns.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (r *Relay) Addr() string {
	if r.server == nil {
		return ""
	}
	return r.server.Addr
}

func (r *Relay) String() string { return "relay" }

func (r *Relay) handleWs(w http.ResponseWriter, rq *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			r.log.Error().Msgf("Recovered from panic in the ws handler: %v", err)
		}
	}()

	r.conns.Add(1)
	defer r.conns.Done()

	conn, err := r.upgrader.NewServer(w, rq, r.conf.Relay.Socket, r.log)
	if err != nil {
		r.log.Warn().Err(err).Str("from", rq.RemoteAddr).Msg("WebSocket upgrade fail")
		return
	}
	peer := r.router.Connect(conn)
	conn.OnMessage = func(data []byte) {
		defer func() {
			if err := recover(); err != nil {
				r.log.Error().Str(logger.ClientField, peer.Id().Short()).Msgf("Recovered from panic: %v", err)
				conn.Close()
			}
		}()
		r.router.Handle(peer, data)
	}
	conn.Listen()
	<-conn.Done
	r.router.Disconnect(peer)
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type RoomStats struct {
	Peers int            `json:"peers"`
	Rooms map[string]int `json:"rooms"`
}

func (r *Relay) handleRooms(w http.ResponseWriter, rq *http.Request) {
	if rq.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RoomStats{Peers: r.router.Peers(), Rooms: r.router.Rooms()})
}

func (r *Relay) watchIce(ctx context.Context) {
	file := r.conf.File()
	if file == "" {
		r.log.Warn().Msg("No config file to watch")
		return
	}
	err := config.Watch(ctx, file, func() {
		fresh, err := r.conf.Reload()
		if err != nil {
			r.log.Error().Err(err).Msg("Config reload")
			return
		}
		ice, err := fresh.Webrtc.IceJSON()
		if err != nil {
			r.log.Error().Err(err).Msg("Config reload")
			return
		}
		r.router.SetIce(ice)
		r.log.Info().Int("servers", len(fresh.Webrtc.IceServers)).Msg("ICE servers reloaded")
	})
	if err != nil {
		r.log.Error().Err(err).Msgf("Couldn't watch %v", file)
	}
}
