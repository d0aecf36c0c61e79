package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/posewire/internal/protocol"
	"github.com/danmuck/posewire/internal/protocol/frame"
	"github.com/danmuck/posewire/internal/testutil/testlog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// serveEcho answers every frame with RET_SCORE carrying the request payload,
// splitting each reply into two writes with a short pause in between.
func serveEcho(ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
	defer conn.Close()

	rng := rand.New(rand.NewSource(1))
	code, _ := protocol.CommandRetScore.Code()
	for {
		f, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			if errors.Is(err, frame.ErrShortHeader) {
				return nil
			}
			return err
		}
		out, err := frame.Encode(frame.Frame{Code: code, Payload: f.Payload}, frame.DefaultLimits())
		if err != nil {
			return err
		}
		split := rng.Intn(len(out))
		if _, err := conn.Write(out[:split]); err != nil {
			return err
		}
		time.Sleep(time.Duration(rng.Intn(200)) * time.Microsecond)
		if _, err := conn.Write(out[split:]); err != nil {
			return err
		}
	}
}

func startEcho(t *testing.T) (*Session, func()) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- serveEcho(ln)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s, err := Open(context.Background(), "127.0.0.1", port, DefaultConfig())
	if err != nil {
		_ = ln.Close()
		<-done
		t.Fatalf("open: %v", err)
	}
	return s, func() {
		_ = s.Close()
		_ = ln.Close()
		if err := <-done; err != nil {
			t.Errorf("echo peer: %v", err)
		}
	}
}

func TestRoundTripEcho(t *testing.T) {
	testlog.Start(t)
	s, stop := startEcho(t)
	defer stop()

	payload := bytes.Repeat([]byte{0x5a}, 10_000)
	reply, err := s.RoundTrip(protocol.NewMessage(protocol.CommandGetScore, payload))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if reply.Command != protocol.CommandRetScore || !bytes.Equal(reply.Payload, payload) {
		t.Fatalf("unexpected reply: cmd=%s len=%d", reply.Command, len(reply.Payload))
	}
}

func TestConcurrentRoundTripsDoNotInterleave(t *testing.T) {
	testlog.Start(t)
	s, stop := startEcho(t)
	defer stop()

	const n = 48
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(tag int) {
			defer wg.Done()
			// Vary sizes so a torn exchange would misalign frames.
			payload := make([]byte, 4+tag*97)
			binary.BigEndian.PutUint32(payload, uint32(tag))
			for j := 4; j < len(payload); j++ {
				payload[j] = byte(tag)
			}
			reply, err := s.RoundTrip(protocol.NewMessage(protocol.CommandGetScore, payload))
			if err != nil {
				errs <- fmt.Errorf("tag %d: %w", tag, err)
				return
			}
			if !bytes.Equal(reply.Payload, payload) {
				errs <- fmt.Errorf("tag %d: got reply tagged %d", tag, binary.BigEndian.Uint32(reply.Payload))
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestOpenRejectsNonLiteralAddress(t *testing.T) {
	testlog.Start(t)
	for _, host := range []string{"localhost", "", "::1", "300.1.1.1", "10.0.0"} {
		if _, err := Open(context.Background(), host, 5555, DefaultConfig()); !errors.Is(err, ErrConnection) {
			t.Fatalf("host %q: expected ErrConnection, got %v", host, err)
		}
	}
	if _, err := Open(context.Background(), "127.0.0.1", 0, DefaultConfig()); !errors.Is(err, ErrConnection) {
		t.Fatalf("port 0: expected ErrConnection, got %v", err)
	}
}

func TestOpenRefused(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	_, err = Open(context.Background(), "127.0.0.1", port, DefaultConfig())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if want := "127.0.0.1:" + strconv.Itoa(port); !bytes.Contains([]byte(err.Error()), []byte(want)) {
		t.Fatalf("error should name %s: %v", want, err)
	}
}

func TestReceivePeerClosedMidFrame(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	s := New(client, DefaultConfig())
	defer s.Close()

	go func() {
		code, _ := protocol.CommandRetPose.Code()
		head := frame.EncodeHeader(frame.Header{PayloadLen: 100, Code: code})
		_, _ = server.Write(append(head, 1, 2, 3))
		_ = server.Close()
	}()

	s.Lock()
	_, err := s.Receive()
	s.Unlock()
	if !errors.Is(err, ErrIO) || !errors.Is(err, frame.ErrShortPayload) {
		t.Fatalf("expected ErrIO wrapping ErrShortPayload, got %v", err)
	}
}

func TestReceiveUnknownCodeIsNotAnError(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	s := New(client, DefaultConfig())
	defer s.Close()

	go func() {
		_ = frame.WriteFrame(server, frame.Frame{Code: frame.Code{'W', 'H', 'A', 'T'}, Payload: []byte{9}}, frame.DefaultLimits())
		_ = server.Close()
	}()

	s.Lock()
	msg, err := s.Receive()
	s.Unlock()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Command != protocol.CommandUnknown || !bytes.Equal(msg.Payload, []byte{9}) {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

type shortConn struct {
	net.Conn
}

func (c shortConn) Write(p []byte) (int, error) {
	return len(p) - 1, nil
}

func TestSendShortWriteIsIOError(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	s := New(shortConn{Conn: client}, DefaultConfig())
	defer s.Close()

	s.Lock()
	err := s.Send(protocol.NewMessage(protocol.CommandSetGridSize, []byte("x")))
	s.Unlock()
	if !errors.Is(err, ErrIO) || !errors.Is(err, frame.ErrShortWrite) {
		t.Fatalf("expected ErrIO wrapping ErrShortWrite, got %v", err)
	}
}

func TestSendAfterCloseIsIOError(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	s := New(client, DefaultConfig())
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := s.RoundTrip(protocol.NewMessage(protocol.CommandOK, nil)); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestSendUnknownCommandFailsBeforeWrite(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	s := New(client, DefaultConfig())
	defer s.Close()

	// net.Pipe writes block without a reader, so reaching the wire would hang.
	_, err := s.RoundTrip(protocol.NewMessage(protocol.CommandUnknown, nil))
	if !errors.Is(err, protocol.ErrUnencodable) {
		t.Fatalf("expected ErrUnencodable, got %v", err)
	}
}

func TestOversizedReplyBreaksSession(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	cfg := DefaultConfig()
	cfg.MaxPayloadBytes = 16
	s := New(client, cfg)
	defer s.Close()

	go func() {
		code, _ := protocol.CommandRetScore.Code()
		_ = frame.WriteFrame(server, frame.Frame{Code: code, Payload: bytes.Repeat([]byte{'x'}, 64)}, frame.DefaultLimits())
	}()

	s.Lock()
	defer s.Unlock()
	_, err := s.Receive()
	if !errors.Is(err, ErrIO) || !errors.Is(err, frame.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrIO wrapping ErrPayloadTooLarge, got %v", err)
	}
	if !errors.Is(s.Broken(), frame.ErrPayloadTooLarge) {
		t.Fatalf("session should be marked broken, got %v", s.Broken())
	}

	// The peer's unread payload would block a net.Pipe write, so reaching the
	// wire here would hang instead of failing.
	if err := s.Send(protocol.NewMessage(protocol.CommandGetScore, []byte{1})); !errors.Is(err, ErrIO) {
		t.Fatalf("send after broken stream: expected ErrIO, got %v", err)
	}
	if _, err := s.Receive(); !errors.Is(err, frame.ErrPayloadTooLarge) {
		t.Fatalf("receive after broken stream: expected sticky error, got %v", err)
	}
}
