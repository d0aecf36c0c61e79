package posestub

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/danmuck/posewire/internal/megapose"
	"github.com/danmuck/posewire/internal/observability"
	"github.com/danmuck/posewire/internal/protocol"
	"github.com/danmuck/posewire/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Server serves any number of client connections. Requests on one
// connection are answered in order; connections share the intrinsics and
// grid size last pushed by any client.
type Server struct {
	cfg Config

	mu         sync.Mutex
	intrinsics *megapose.IntrinsicsParams
	gridSize   int

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup

	active   atomic.Int64
	requests atomic.Uint64
}

// State is a snapshot of the server for the admin endpoint.
type State struct {
	Intrinsics  *megapose.IntrinsicsParams `json:"intrinsics,omitempty"`
	SO3GridSize int                        `json:"so3_grid_size"`
	Connections int64                      `json:"connections"`
	Requests    uint64                     `json:"requests"`
}

func NewServer(cfg Config) *Server {
	observability.RegisterMetrics()
	return &Server{
		cfg:      cfg.withDefaults(),
		gridSize: defaultSO3GridSize,
		conns:    make(map[net.Conn]struct{}),
	}
}

func (s *Server) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		SO3GridSize: s.gridSize,
		Connections: s.active.Load(),
		Requests:    s.requests.Load(),
	}
	if s.intrinsics != nil {
		cp := *s.intrinsics
		st.Intrinsics = &cp
	}
	return st
}

// Run listens on the configured address, starts the admin endpoint when
// enabled, and blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp4", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("posestub listening")

	adminErr := make(chan error, 1)
	if s.cfg.AdminEnabled {
		admin := NewAdmin(s, s.cfg.AdminAddr, s.cfg.CorsOrigins)
		go func() {
			adminErr <- admin.Serve(ctx)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			stop()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

// Serve accepts connections on ln until ctx is done or ln is closed. It
// returns after every connection handler has exited. A Server serves once:
// connections arriving after shutdown starts are closed on accept.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.wg.Wait()
	defer s.closeAllConns()
	defer ln.Close()
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		_ = ln.Close()
		s.closeAllConns()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.trackConn(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	log.Info().Str("remote", remote).Int64("active_clients", s.active.Add(1)).Msg("posestub client connected")
	defer func() {
		log.Info().Str("remote", remote).Int64("active_clients", s.active.Add(-1)).Msg("posestub client disconnected")
	}()

	limits := s.cfg.limits()
	for {
		f, err := frame.ReadFrame(conn, limits)
		if err != nil {
			if !errors.Is(err, frame.ErrShortHeader) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Str("remote", remote).Msg("posestub read failed")
			}
			return
		}
		req := protocol.MessageFromFrame(f)
		if req.Command == protocol.CommandUnknown {
			log.Warn().Str("code", f.Code.String()).Str("remote", remote).Msg("posestub unknown code")
		}
		reply, err := s.Handle(req).Frame()
		if err == nil {
			err = frame.WriteFrame(conn, reply, limits)
		}
		if err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("posestub write failed")
			return
		}
	}
}

func (s *Server) trackConn(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

// closeAllConns also stops trackConn from admitting new connections.
func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}
