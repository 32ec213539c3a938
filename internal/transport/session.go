package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/danmuck/earlink/internal/logging"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session owns the stream to one device. SendFrame is safe for concurrent
// use; ReceiveFrame must only be called by a single reader.
type Session struct {
	deviceID string
	dialer   Dialer
	services []uuid.UUID
	cfg      session.Config
	log      zerolog.Logger

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu      sync.Mutex
	conn    Conn
	reader  *frame.Reader
	service uuid.UUID
}

func NewSession(deviceID string, dialer Dialer, services []uuid.UUID, cfg session.Config) *Session {
	if len(services) == 0 {
		services = DefaultServices()
	}
	return &Session{
		deviceID: deviceID,
		dialer:   dialer,
		services: append([]uuid.UUID(nil), services...),
		cfg:      cfg.WithDefaults(),
		log:      logging.Component("transport").With().Str("device", deviceID).Logger(),
	}
}

func (s *Session) DeviceID() string {
	return s.deviceID
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Service returns the identifier of the current channel, or uuid.Nil.
func (s *Session) Service() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service
}

// Connect is a no-op when connected; otherwise it tries each candidate
// service in order and fails only when all of them fail.
func (s *Session) Connect(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	if s.Connected() {
		return nil
	}

	errs := make([]error, 0, len(s.services))
	for _, svc := range s.services {
		if err := ctx.Err(); err != nil {
			return &Error{Op: "connect", DeviceID: s.deviceID, Err: err}
		}
		dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		conn, err := s.dialer.Dial(dctx, s.deviceID, svc)
		cancel()
		if err != nil {
			s.log.Warn().Str("service", svc.String()).Err(err).Msg("transport: connect attempt failed")
			errs = append(errs, err)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.reader = frame.NewReader(conn, s.cfg.Limits)
		s.service = svc
		s.mu.Unlock()
		s.log.Info().Str("service", svc.String()).Msg("transport: connected")
		return nil
	}
	return &Error{Op: "connect", DeviceID: s.deviceID, Err: errors.Join(append([]error{ErrNoCandidates}, errs...)...)}
}

// SendFrame writes f in one piece, bounded by the write timeout and ctx.
func (s *Session) SendFrame(ctx context.Context, f frame.Frame) error {
	b, err := frame.Encode(f)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &Error{Op: "write", DeviceID: s.deviceID, Err: ErrNotConnected}
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return &Error{Op: "write", DeviceID: s.deviceID, Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
	})
	defer stop()
	defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()

	if _, err := conn.Write(b); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrWriteTimeout
		}
		return &Error{Op: "write", DeviceID: s.deviceID, Err: err}
	}
	s.log.Trace().Str("frame", f.String()).Msg("transport: sent")
	return nil
}

// ReceiveFrame blocks until one frame is decoded. Framing errors are
// returned as-is and the next call resynchronizes; stream failures are
// wrapped as transport errors.
func (s *Session) ReceiveFrame() (frame.Frame, error) {
	s.mu.Lock()
	r := s.reader
	s.mu.Unlock()
	if r == nil {
		return frame.Frame{}, &Error{Op: "read", DeviceID: s.deviceID, Err: ErrNotConnected}
	}
	f, err := r.ReadFrame()
	if err != nil {
		if frame.IsFraming(err) {
			return frame.Frame{}, err
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			err = errors.Join(ErrClosed, err)
		}
		return frame.Frame{}, &Error{Op: "read", DeviceID: s.deviceID, Err: err}
	}
	s.log.Trace().Str("frame", f.String()).Msg("transport: received")
	return f, nil
}

// Discarded reports bytes skipped while resynchronizing on the current stream.
func (s *Session) Discarded() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return 0
	}
	return s.reader.Discarded()
}

// Close drops the current stream; a blocked ReceiveFrame returns an error.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.reader = nil
	s.service = uuid.Nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	s.log.Debug().Msg("transport: closed")
	return conn.Close()
}
