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
	"sync/atomic"
	"time"

	"github.com/tidekv/tidekv/internal/checkpoint"
	"github.com/tidekv/tidekv/internal/storage"
	"github.com/tidekv/tidekv/internal/storage/wal"
	"github.com/tidekv/tidekv/pkg/crypto/adaptive"
)

// FollowerConfig configures the client side of the replica stream.
type FollowerConfig struct {
	PrimaryAddr  string
	Cipher       adaptive.Cipher
	SyncMode     bool // must match the primary's PrimaryConfig.SyncMode
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	RetryBackoff time.Duration
	Logger       *slog.Logger

	// TLSConfig, when set, dials the primary over mutual TLS instead of
	// plain TCP; it must trust the primary's certificate (e.g. via a
	// tlsroots.Pool) and, for mutual auth, carry this follower's own
	// client certificate.
	TLSConfig *tls.Config

	// ControlDir, when set, durably records the last primary WAL offset
	// this follower has applied, so a restart resumes the stream there
	// instead of re-streaming the primary's full retained history (§4.6).
	// Left empty, the follower always resumes from offset 0.
	ControlDir string
}

func (c *FollowerConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Follower connects to a primary's replica streamer and applies every
// record it receives to a local engine, reconnecting from the last
// successfully applied offset on any error (§4.6).
type Follower struct {
	cfg    FollowerConfig
	engine *storage.Engine

	control     *checkpoint.ControlStore
	lastApplied atomic.Uint64
}

// NewFollower builds a Follower that applies records to engine. If
// cfg.ControlDir is set, the last persisted primary offset is loaded so
// Run resumes the stream there rather than from the start of the log.
func NewFollower(cfg FollowerConfig, engine *storage.Engine) (*Follower, error) {
	cfg.applyDefaults()
	f := &Follower{cfg: cfg, engine: engine}

	if cfg.ControlDir != "" {
		store, err := checkpoint.OpenControlStore(cfg.ControlDir)
		if err != nil {
			return nil, fmt.Errorf("replication: open follower control store: %w", err)
		}
		f.control = store

		offset, err := store.WALOffset()
		if err != nil {
			return nil, fmt.Errorf("replication: load follower resume offset: %w", err)
		}
		f.lastApplied.Store(offset)
	}

	return f, nil
}

// Close releases the follower's control store, if any.
func (f *Follower) Close() error {
	if f.control == nil {
		return nil
	}
	return f.control.Close()
}

// Run connects and streams until ctx is cancelled, reconnecting after any
// session error with a fixed backoff. Each reconnect resumes from the
// last primary offset this follower has applied (persisted via
// cfg.ControlDir, if set), so a restart replays only what it has not yet
// durably applied instead of the primary's full retained history.
func (f *Follower) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := f.runOnce(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		f.cfg.Logger.Warn("replica session failed, retrying", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.RetryBackoff):
		}
	}
}

func (f *Follower) runOnce(ctx context.Context) error {
	var conn net.Conn
	var err error
	if f.cfg.TLSConfig != nil {
		dialer := &net.Dialer{Timeout: f.cfg.DialTimeout}
		conn, err = tls.DialWithDialer(dialer, "tcp", f.cfg.PrimaryAddr, f.cfg.TLSConfig)
	} else {
		conn, err = net.DialTimeout("tcp", f.cfg.PrimaryAddr, f.cfg.DialTimeout)
	}
	if err != nil {
		return fmt.Errorf("dial primary: %w", err)
	}
	defer conn.Close()

	offset := f.lastApplied.Load()
	br := bufio.NewReader(conn)
	if err := f.handshake(conn, br, offset); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	f.cfg.Logger.Info("replica session started", "primary", f.cfg.PrimaryAddr, "from_offset", offset)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, frameLen, err := f.readFrame(conn, br)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		applyErr := f.engine.ApplyWALRecord(rec)
		if f.cfg.SyncMode {
			if ackErr := f.sendAck(conn, applyErr); ackErr != nil {
				return fmt.Errorf("send ack: %w", ackErr)
			}
		}
		if applyErr != nil {
			return fmt.Errorf("apply record: %w", applyErr)
		}

		offset += frameLen
		f.lastApplied.Store(offset)
		if f.control != nil {
			if err := f.control.SetWALOffset(offset); err != nil {
				return fmt.Errorf("persist resume offset: %w", err)
			}
		}
	}
}

// handshake reads and writes over the same bufio.Reader the caller goes
// on to read the record stream from, so nothing buffered past the "OK\n"
// line is lost.
func (f *Follower) handshake(conn net.Conn, br *bufio.Reader, offset uint64) error {
	_ = conn.SetWriteDeadline(time.Now().Add(f.cfg.DialTimeout))
	if _, err := fmt.Fprintf(conn, "HELLO\n%d\n", offset); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	line, err := br.ReadString('\n')
	if err != nil {
		return err
	}
	if line != okLine {
		return fmt.Errorf("unexpected handshake reply %q", line)
	}
	return nil
}

func (f *Follower) readFrame(conn net.Conn, br *bufio.Reader) (*wal.Record, uint64, error) {
	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))

	var lenBuf [lenFieldSize]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return nil, 0, err
	}
	frameLen := binary.LittleEndian.Uint64(lenBuf[:])

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(br, frame); err != nil {
		return nil, 0, err
	}

	rec, err := wal.Decode(frame, f.cfg.Cipher)
	if err != nil {
		return nil, 0, err
	}
	return rec, uint64(len(frame)), nil
}

func (f *Follower) sendAck(conn net.Conn, applyErr error) error {
	_ = conn.SetWriteDeadline(time.Now().Add(f.cfg.ReadTimeout))
	reply := ackMsg
	if applyErr != nil {
		reply = errMsg
	}
	_, err := conn.Write([]byte(reply))
	return err
}
