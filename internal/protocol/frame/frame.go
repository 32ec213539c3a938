package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/earlink/internal/logging"
	"github.com/danmuck/earlink/internal/protocol/bytesutil"
	"github.com/rs/zerolog"
)

const (
	Terminator byte = 0xEF

	ControlRequest    byte = 0x80
	ControlNeedsReply byte = 0x40

	// HeaderLen covers preamble, control, opcode and the length field.
	HeaderLen = 7

	requestOverhead  = 1
	responseOverhead = 2
)

// Preamble opens every frame on the wire.
var Preamble = [3]byte{0xFE, 0xDC, 0xBA}

var (
	ErrFraming         = errors.New("frame: framing error")
	ErrNoPreamble      = errors.New("frame: missing preamble")
	ErrShortFrame      = errors.New("frame: short frame")
	ErrLengthMismatch  = errors.New("frame: length field mismatch")
	ErrBadTerminator   = errors.New("frame: bad terminator")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Error is a malformed-frame condition. It matches ErrFraming and its Reason
// under errors.Is.
type Error struct {
	Reason error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return e.Reason.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() []error {
	return []error{ErrFraming, e.Reason}
}

func framingErr(reason error, format string, args ...any) error {
	return &Error{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// IsFraming reports whether err is a recoverable framing error.
func IsFraming(err error) bool {
	return errors.Is(err, ErrFraming)
}

// Frame is one decoded protocol message. Status is meaningful only for
// replies; NeedsReply only for requests.
type Frame struct {
	Request    bool
	NeedsReply bool
	Opcode     uint8
	Seq        uint8
	Status     uint8
	Payload    []byte
}

// NewRequest builds an outbound request; the sequence number is stamped at send time.
func NewRequest(opcode uint8, payload []byte, needsReply bool) Frame {
	return Frame{Request: true, NeedsReply: needsReply, Opcode: opcode, Payload: payload}
}

// Reply builds the response frame answering req.
func Reply(req Frame, status uint8, payload []byte) Frame {
	return Frame{Opcode: req.Opcode, Seq: req.Seq, Status: status, Payload: payload}
}

func (f Frame) OK() bool {
	return !f.Request && f.Status == 0
}

func (f Frame) String() string {
	if f.Request {
		return fmt.Sprintf("request{op=0x%02X seq=%d reply=%t data=[%s]}",
			f.Opcode, f.Seq, f.NeedsReply, bytesutil.HexSpaced(f.Payload))
	}
	return fmt.Sprintf("response{op=0x%02X seq=%d status=0x%02X data=[%s]}",
		f.Opcode, f.Seq, f.Status, bytesutil.HexSpaced(f.Payload))
}

// Limits bounds the body a decoder will buffer after a preamble.
type Limits struct {
	MaxBodyLen int
}

func DefaultLimits() Limits {
	return Limits{MaxBodyLen: 4096}
}

func (f Frame) bodyLen() int {
	if f.Request {
		return requestOverhead + len(f.Payload)
	}
	return responseOverhead + len(f.Payload)
}

func (f Frame) control() byte {
	var c byte
	if f.Request {
		c |= ControlRequest
		if f.NeedsReply {
			c |= ControlNeedsReply
		}
	}
	return c
}

func Encode(f Frame) ([]byte, error) {
	n := f.bodyLen()
	if n > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	buf := make([]byte, 0, HeaderLen+n+1)
	buf = append(buf, Preamble[:]...)
	buf = append(buf, f.control(), f.Opcode, byte(n>>8), byte(n))
	if f.Request {
		buf = append(buf, f.Seq)
	} else {
		buf = append(buf, f.Status, f.Seq)
	}
	buf = append(buf, f.Payload...)
	buf = append(buf, Terminator)
	return buf, nil
}

func WriteFrame(w io.Writer, f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Decode parses exactly one complete frame from b.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderLen+1 {
		return Frame{}, framingErr(ErrShortFrame, "%d bytes", len(b))
	}
	if b[0] != Preamble[0] || b[1] != Preamble[1] || b[2] != Preamble[2] {
		return Frame{}, framingErr(ErrNoPreamble, "got % X", b[:3])
	}
	n := int(bytesutil.Join(b[5], b[6]))
	if len(b)-HeaderLen-1 != n {
		return Frame{}, framingErr(ErrLengthMismatch, "declared %d present %d", n, len(b)-HeaderLen-1)
	}
	if b[len(b)-1] != Terminator {
		return Frame{}, framingErr(ErrBadTerminator, "got 0x%02X", b[len(b)-1])
	}
	return parseBody(b[3], b[4], b[HeaderLen:HeaderLen+n])
}

func parseBody(control, opcode byte, body []byte) (Frame, error) {
	f := Frame{
		Request:    control&ControlRequest != 0,
		NeedsReply: control&ControlNeedsReply != 0,
		Opcode:     opcode,
	}
	if f.Request {
		if len(body) < requestOverhead {
			return Frame{}, framingErr(ErrShortFrame, "request body %d bytes", len(body))
		}
		f.Seq = body[0]
		f.Payload = payloadOf(body[requestOverhead:])
		return f, nil
	}
	f.NeedsReply = false
	if len(body) < responseOverhead {
		return Frame{}, framingErr(ErrShortFrame, "response body %d bytes", len(body))
	}
	f.Status = body[0]
	f.Seq = body[1]
	f.Payload = payloadOf(body[responseOverhead:])
	return f, nil
}

// payloadOf copies b, keeping an empty body as a nil payload.
func payloadOf(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// Reader decodes frames from a continuous byte stream, scanning for the
// preamble before every frame. It is not safe for concurrent use.
type Reader struct {
	r      *bufio.Reader
	limits Limits
	log    zerolog.Logger

	discarded uint64
}

func NewReader(r io.Reader, limits Limits) *Reader {
	if limits.MaxBodyLen <= 0 {
		limits = DefaultLimits()
	}
	return &Reader{
		r:      bufio.NewReader(r),
		limits: limits,
		log:    logging.Component("frame"),
	}
}

// Discarded reports the number of bytes skipped while resynchronizing.
func (fr *Reader) Discarded() uint64 {
	return fr.discarded
}

// ReadFrame blocks until one frame is decoded. Stream errors are returned
// unchanged; malformed frames return an *Error and leave the reader
// positioned to resynchronize on the next call.
func (fr *Reader) ReadFrame() (Frame, error) {
	if err := fr.seekPreamble(); err != nil {
		return Frame{}, err
	}

	var hdr [4]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(bytesutil.Join(hdr[2], hdr[3]))
	if n > fr.limits.MaxBodyLen {
		return Frame{}, framingErr(ErrPayloadTooLarge, "declared %d limit %d", n, fr.limits.MaxBodyLen)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return Frame{}, err
	}
	f, err := parseBody(hdr[0], hdr[1], body)
	if err != nil {
		return Frame{}, err
	}

	term, err := fr.r.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	if term != Terminator {
		fr.log.Warn().
			Str("frame", f.String()).
			Str("terminator", fmt.Sprintf("0x%02X", term)).
			Msg("frame: terminator mismatch")
		if term == Preamble[0] {
			_ = fr.r.UnreadByte()
		}
	}
	return f, nil
}

func (fr *Reader) seekPreamble() error {
	var window [3]byte
	filled := 0
	skipped := 0
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return err
		}
		if filled < 3 {
			window[filled] = b
			filled++
		} else {
			window[0], window[1], window[2] = window[1], window[2], b
			skipped++
		}
		if filled == 3 && window == Preamble {
			if skipped > 0 {
				fr.discarded += uint64(skipped)
				fr.log.Debug().Int("skipped", skipped).Msg("frame: resynchronized on preamble")
			}
			return nil
		}
	}
}
