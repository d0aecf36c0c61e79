package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/danmuck/posewire/internal/observability"
	"github.com/danmuck/posewire/internal/protocol"
	"github.com/danmuck/posewire/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnection = errors.New("session: connection failed")
	ErrIO         = errors.New("session: i/o failure")
)

// Session owns one connected stream to the pose service. It implements
// sync.Locker: a caller holds the lock across Send and Receive so that one
// request/response cycle completes before the next one starts.
type Session struct {
	mu        sync.Mutex
	conn      net.Conn
	cfg       Config
	closeOnce sync.Once
	closeErr  error

	// broken is set once the stream position is unknown; guarded by mu.
	broken error
}

// Open dials host:port. host must be a literal IPv4 address; no name
// resolution is performed.
func Open(ctx context.Context, host string, port int, cfg Config) (*Session, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil || !addr.Is4() {
		return nil, fmt.Errorf("%w: invalid ip address %q", ErrConnection, host)
	}
	if port <= 0 || port > 0xffff {
		return nil, fmt.Errorf("%w: invalid port %d", ErrConnection, port)
	}
	target := netip.AddrPortFrom(addr, uint16(port)).String()

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: cfg.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp4", target)
	if err != nil {
		return nil, fmt.Errorf("%w: could not connect to server at %s: %w", ErrConnection, target, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok && cfg.NoDelay {
		if err := tcp.SetNoDelay(true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: set no delay: %w", ErrConnection, err)
		}
	}
	log.Debug().Str("addr", target).Msg("session.Open connected")
	return New(conn, cfg), nil
}

// New wraps an already connected stream.
func New(conn net.Conn, cfg Config) *Session {
	return &Session{
		conn: conn,
		cfg:  cfg.WithDefaults(),
	}
}

func (s *Session) Lock() {
	s.mu.Lock()
}

func (s *Session) Unlock() {
	s.mu.Unlock()
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Send writes msg as one complete frame. The caller must hold the lock.
func (s *Session) Send(msg protocol.Message) error {
	if s.broken != nil {
		return s.broken
	}
	f, err := msg.Frame()
	if err != nil {
		return err
	}
	if err := frame.WriteFrame(s.conn, f, s.cfg.limits()); err != nil {
		log.Warn().Err(err).Stringer("command", msg.Command).Msg("session.Send failed")
		return s.fail(fmt.Errorf("%w: send %s: %w", ErrIO, msg.Command, err))
	}
	observability.RecordFrameBytes(observability.DirectionSent, frame.HeaderLen+len(f.Payload))
	log.Debug().Stringer("command", msg.Command).Int("payload_bytes", len(f.Payload)).Msg("session.Send")
	return nil
}

// Receive blocks until one complete frame arrives. The caller must hold the
// lock.
func (s *Session) Receive() (protocol.Message, error) {
	if s.broken != nil {
		return protocol.Message{}, s.broken
	}
	f, err := frame.ReadFrame(s.conn, s.cfg.limits())
	if err != nil {
		log.Warn().Err(err).Msg("session.Receive failed")
		return protocol.Message{}, s.fail(fmt.Errorf("%w: receive: %w", ErrIO, err))
	}
	observability.RecordFrameBytes(observability.DirectionReceived, frame.HeaderLen+len(f.Payload))
	msg := protocol.MessageFromFrame(f)
	log.Debug().Stringer("command", msg.Command).Str("code", f.Code.String()).Int("payload_bytes", len(f.Payload)).Msg("session.Receive")
	return msg, nil
}

// fail marks the session unusable. A failed read or write leaves the stream
// at an unknown frame boundary, so every later exchange fails with err.
func (s *Session) fail(err error) error {
	s.broken = err
	return err
}

// Broken reports the error that made the session unusable, if any. The
// caller must hold the lock.
func (s *Session) Broken() error {
	return s.broken
}

// RoundTrip sends req and waits for its reply while holding the lock.
func (s *Session) RoundTrip(req protocol.Message) (protocol.Message, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.Send(req); err != nil {
		return protocol.Message{}, err
	}
	return s.Receive()
}

// Close releases the connection. It must not race an in-flight exchange.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
