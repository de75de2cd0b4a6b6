// Package replication implements the replica streamer (§4.6): a
// primary-side listener that streams newly appended WAL records to
// follower connections, and the follower-side client that applies them.
package replication

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tidekv/tidekv/pkg/crypto/adaptive"

	"github.com/tidekv/tidekv/internal/storage/wal"
)

// Wire constants (§6): the handshake is newline-delimited text, the
// record stream is length-prefixed binary.
const (
	helloPrefix = "HELLO\n"
	okLine      = "OK\n"
	ackMsg      = "ACK"
	errMsg      = "ERR"

	lenFieldSize = 8
)

// PrimaryConfig configures the primary-side listener.
type PrimaryConfig struct {
	BindAddr     string
	WALDir       string
	WALMaxSize   int64
	Cipher       adaptive.Cipher
	SyncMode     bool // if true, wait for the follower's ACK per record
	PollInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger

	// TLSConfig, when set (typically built from a tlsroots.Pool and/or
	// tlsroots.Watcher), upgrades the listener to mutual TLS so follower
	// connections are authenticated and encrypted in transit.
	TLSConfig *tls.Config
}

func (c *PrimaryConfig) applyDefaults() {
	if c.WALMaxSize <= 0 {
		c.WALMaxSize = wal.DefaultMaxFileSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Streamer is the primary-side replica streamer: it accepts follower
// connections and, for each, tails the WAL from the offset the follower
// requested at handshake.
type Streamer struct {
	cfg PrimaryConfig
	ln  net.Listener
	wg  sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewStreamer builds a Streamer. Call Start to begin accepting.
func NewStreamer(cfg PrimaryConfig) *Streamer {
	cfg.applyDefaults()
	return &Streamer{cfg: cfg}
}

// Start opens the listener and begins accepting follower connections,
// grounded on this codebase's slowloris-safe accept-loop shape: listener
// close plus a WaitGroup drive graceful shutdown.
func (s *Streamer) Start(ctx context.Context) error {
	var ln net.Listener
	var err error
	if s.cfg.TLSConfig != nil {
		ln, err = tls.Listen("tcp", s.cfg.BindAddr, s.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", s.cfg.BindAddr)
	}
	if err != nil {
		return fmt.Errorf("replication: listen: %w", err)
	}
	s.ln = ln

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.cfg.Logger.Info("replica streamer listening", "addr", s.cfg.BindAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sessionID := ulid.Make().String()
			if err := s.serveFollower(ctx, conn, sessionID); err != nil {
				s.cfg.Logger.Warn("replica session ended", "session", sessionID, "error", err)
			}
		}()
	}
}

// Stop closes the listener and waits for in-flight sessions to finish.
func (s *Streamer) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Streamer) serveFollower(ctx context.Context, conn net.Conn, sessionID string) error {
	defer conn.Close()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	offset, err := s.handshake(conn, br)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	s.cfg.Logger.Info("replica connected", "session", sessionID, "remote", conn.RemoteAddr(), "from_offset", offset)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		reader, err := wal.NewReader(wal.ReaderConfig{
			Dir:         s.cfg.WALDir,
			MaxFileSize: s.cfg.WALMaxSize,
			Cipher:      s.cfg.Cipher,
			Logger:      s.cfg.Logger,
		}, offset)
		if err != nil {
			return fmt.Errorf("open reader at offset %d: %w", offset, err)
		}

		sentAny := false
		for {
			rec, err := reader.Read()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				reader.Close()
				return fmt.Errorf("read wal: %w", err)
			}

			frame, err := wal.Encode(rec, s.cfg.Cipher)
			if err != nil {
				reader.Close()
				return fmt.Errorf("encode record: %w", err)
			}
			if err := s.sendFrame(conn, bw, frame); err != nil {
				reader.Close()
				return err
			}

			if s.cfg.SyncMode {
				if err := s.awaitAck(conn, br); err != nil {
					reader.Close()
					return err
				}
			}

			offset = reader.Offset()
			sentAny = true
		}
		reader.Close()

		if !sentAny {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
		}
	}
}

func (s *Streamer) sendFrame(conn net.Conn, bw *bufio.Writer, frame []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	var lenBuf [lenFieldSize]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(frame)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(frame); err != nil {
		return err
	}
	return bw.Flush()
}

func (s *Streamer) awaitAck(conn net.Conn, br *bufio.Reader) error {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	reply := make([]byte, 3)
	if _, err := io.ReadFull(br, reply); err != nil {
		return fmt.Errorf("await ack: %w", err)
	}
	switch string(reply) {
	case ackMsg:
		return nil
	case errMsg:
		return fmt.Errorf("follower reported apply failure")
	default:
		return fmt.Errorf("unexpected follower reply %q", reply)
	}
}

// handshake reads "HELLO\n<offset>\n" and replies "OK\n" (§6), using the
// same bufio.Reader the caller goes on to read the record stream from,
// so nothing buffered past the handshake lines is lost.
func (s *Streamer) handshake(conn net.Conn, br *bufio.Reader) (uint64, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

	line, err := br.ReadString('\n')
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(line, "HELLO") {
		return 0, fmt.Errorf("expected HELLO, got %q", line)
	}

	offsetLine, err := br.ReadString('\n')
	if err != nil {
		return 0, err
	}
	offset, err := strconv.ParseUint(strings.TrimSpace(offsetLine), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse offset: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := conn.Write([]byte(okLine)); err != nil {
		return 0, err
	}
	return offset, nil
}

// BroadcastTarget is one follower address the primary fans out to when
// it needs to push to several followers concurrently (e.g. a manual
// resync trigger), using errgroup to run and join the fan-out. No limit
// is set on how many targets run at once.
type BroadcastTarget struct {
	Addr string
}

// Broadcast dials each target and runs fn against the connection,
// collecting the first error. Used for operations that must reach every
// follower (not for the steady-state per-connection streaming above,
// which runs independently per accepted connection).
func Broadcast(ctx context.Context, targets []BroadcastTarget, dialTimeout time.Duration, fn func(ctx context.Context, conn net.Conn) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			conn, err := net.DialTimeout("tcp", target.Addr, dialTimeout)
			if err != nil {
				return fmt.Errorf("dial %s: %w", target.Addr, err)
			}
			defer conn.Close()
			return fn(ctx, conn)
		})
	}
	return g.Wait()
}
