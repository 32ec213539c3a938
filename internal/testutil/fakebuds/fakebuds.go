// Package fakebuds is an in-memory headset that speaks the wire protocol
// over net.Pipe. Tests use it in place of a Bluetooth channel.
package fakebuds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/earlink/internal/auth"
	"github.com/danmuck/earlink/internal/protocol"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
	"github.com/danmuck/earlink/internal/protocol/tlv"
	"github.com/danmuck/earlink/internal/transport"
	"github.com/google/uuid"
)

// TestKey is the shared key of devices built by New.
var TestKey = []byte("earlink-test-key")

var ErrDialRefused = errors.New("fakebuds: dial refused")

type Device struct {
	id  string
	key auth.Encryptor

	mu            sync.Mutex
	conn          net.Conn
	dials         int
	dialErr       error
	failServices  map[uuid.UUID]bool
	requireAuth   bool
	authenticated bool
	answerOK      bool
	challenge     []byte
	dropOps       map[uint8]bool
	replyDelay    func(frame.Frame) time.Duration
	stallWrites   bool
	requests      []frame.Frame
	seq           uint8

	info    map[uint8][]byte
	infoSet map[uint8][]byte
	config  map[uint16][]byte

	writeMu sync.Mutex
}

func New(id string) *Device {
	return &Device{
		id:           id,
		key:          auth.StaticKey{Key: TestKey},
		failServices: map[uuid.UUID]bool{},
		dropOps:      map[uint8]bool{},
		infoSet:      map[uint8][]byte{},
		info: map[uint8][]byte{
			schema.InfoVersion:      {0x01, 0x23},
			schema.InfoVidPid:       {0x27, 0x17, 0x50, 0x6C},
			schema.InfoUbootVersion: {0x00, 0x07},
			schema.InfoBattery:      {0x55, 0xE4, 0x32},
		},
		config: map[uint16][]byte{
			schema.ConfigGesture:               {0x04, 0x01, 0x01, 0x01, 0x08, 0x08, 0x02, 0x06, 0x06, 0x03, 0x00, 0x00},
			schema.ConfigMultiConnect:          {0x01},
			schema.ConfigEqualizerMode:         {0x00},
			schema.ConfigFindEarbuds:           {0x00, 0x03},
			schema.ConfigNoiseCancellationList: {0x07, 0x07},
			schema.ConfigNoiseCancellationMode: {0x01, 0x00},
			schema.ConfigInEarState:            {0x0C},
			schema.ConfigSerialNumber:          []byte("EL0000000000000000AB"),
		},
	}
}

func (d *Device) ID() string { return d.id }

// Dialer connects host sessions to d. Each successful dial replaces any
// previous stream.
func (d *Device) Dialer() transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context, deviceID string, service uuid.UUID) (transport.Conn, error) {
		if deviceID != d.id {
			return nil, fmt.Errorf("fakebuds: unknown device %q", deviceID)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.mu.Lock()
		if d.dialErr != nil || d.failServices[service] {
			err := d.dialErr
			d.mu.Unlock()
			if err == nil {
				err = ErrDialRefused
			}
			return nil, err
		}
		host, dev := net.Pipe()
		old := d.conn
		d.conn = dev
		d.dials++
		d.authenticated = false
		d.answerOK = false
		d.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		go d.serve(dev)
		return &hostConn{Conn: host, dev: d}, nil
	})
}

// Dials reports how many streams were opened.
func (d *Device) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// SetDialError makes every later dial fail with err; nil restores dialing.
func (d *Device) SetDialError(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *Device) FailService(service uuid.UUID) {
	d.mu.Lock()
	d.failServices[service] = true
	d.mu.Unlock()
}

// RequireAuth makes battery requests go unanswered until the challenge
// handshake has completed on the current stream.
func (d *Device) RequireAuth(on bool) {
	d.mu.Lock()
	d.requireAuth = on
	d.mu.Unlock()
}

func (d *Device) SetKey(key auth.Encryptor) {
	d.mu.Lock()
	d.key = key
	d.mu.Unlock()
}

// DropOpcode makes the device silently ignore requests with op.
func (d *Device) DropOpcode(op uint8) {
	d.mu.Lock()
	d.dropOps[op] = true
	d.mu.Unlock()
}

// StallWrites makes host writes block until their write deadline passes,
// as if the radio link stopped draining.
func (d *Device) StallWrites(on bool) {
	d.mu.Lock()
	d.stallWrites = on
	d.mu.Unlock()
}

func (d *Device) writesStalled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stallWrites
}

// hostConn is the host end of the pipe.
type hostConn struct {
	net.Conn
	dev *Device

	mu       sync.Mutex
	deadline time.Time
}

func (c *hostConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return c.Conn.SetWriteDeadline(t)
}

func (c *hostConn) Write(b []byte) (int, error) {
	for c.dev.writesStalled() {
		c.mu.Lock()
		deadline := c.deadline
		c.mu.Unlock()
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, os.ErrDeadlineExceeded
		}
		time.Sleep(2 * time.Millisecond)
	}
	return c.Conn.Write(b)
}

// SetReplyDelay delays each reply by fn(request). Replies with a delay are
// written from their own goroutine, so they may overtake one another.
func (d *Device) SetReplyDelay(fn func(frame.Frame) time.Duration) {
	d.mu.Lock()
	d.replyDelay = fn
	d.mu.Unlock()
}

func (d *Device) SetConfig(id uint16, value []byte) {
	d.mu.Lock()
	d.config[id] = bytes.Clone(value)
	d.mu.Unlock()
}

// Config returns the stored value for id, or nil.
func (d *Device) Config(id uint16) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Clone(d.config[id])
}

// InfoSetValue returns the last value written to a device-info key.
func (d *Device) InfoSetValue(key uint8) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Clone(d.infoSet[key])
}

func (d *Device) SetBattery(left, right, caseByte byte) {
	d.mu.Lock()
	d.info[schema.InfoBattery] = []byte{left, right, caseByte}
	d.mu.Unlock()
}

func (d *Device) SetModel(vendor, product uint16) {
	d.mu.Lock()
	d.info[schema.InfoVidPid] = []byte{byte(vendor >> 8), byte(vendor), byte(product >> 8), byte(product)}
	d.mu.Unlock()
}

func (d *Device) Authenticated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.authenticated
}

// Requests returns every host request received so far.
func (d *Device) Requests() []frame.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]frame.Frame(nil), d.requests...)
}

// CountRequests counts received host requests with op.
func (d *Device) CountRequests(op uint8) int {
	n := 0
	for _, f := range d.Requests() {
		if f.Opcode == op {
			n++
		}
	}
	return n
}

// Disconnect drops the current stream as if the link was lost.
func (d *Device) Disconnect() {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Push writes a device-originated frame on the current stream.
func (d *Device) Push(f frame.Frame) error {
	d.mu.Lock()
	conn := d.conn
	if f.Request && f.Seq == 0 {
		d.seq++
		f.Seq = d.seq
	}
	d.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	return d.write(conn, f)
}

// PushBattery sends a battery notification.
func (d *Device) PushBattery(left, right, caseByte byte) error {
	payload := protocol.BatteryNotification(left, right, caseByte)
	return d.Push(frame.NewRequest(schema.OpNotifyDeviceInfo, payload, false))
}

// PushConfig sends a config-change notification and stores value.
func (d *Device) PushConfig(id uint16, value []byte) error {
	d.SetConfig(id, value)
	payload := protocol.ConfigNotificationPayload(id, value)
	return d.Push(frame.NewRequest(schema.OpNotifyDeviceConfig, payload, false))
}

// PushRaw writes raw bytes on the current stream.
func (d *Device) PushRaw(b []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := conn.Write(b)
	return err
}

func (d *Device) write(conn net.Conn, f frame.Frame) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return frame.WriteFrame(conn, f)
}

func (d *Device) serve(conn net.Conn) {
	r := frame.NewReader(conn, frame.DefaultLimits())
	for {
		f, err := r.ReadFrame()
		if err != nil {
			if frame.IsFraming(err) {
				continue
			}
			return
		}
		if !f.Request {
			d.handleAnswer(f)
			continue
		}

		d.mu.Lock()
		d.requests = append(d.requests, f)
		drop := d.dropOps[f.Opcode]
		delay := d.replyDelay
		d.mu.Unlock()
		if drop {
			continue
		}

		reply, ok, after := d.handle(f)
		if !ok || !f.NeedsReply {
			continue
		}
		wait := time.Duration(0)
		if delay != nil {
			wait = delay(f)
		}
		if wait <= 0 {
			_ = d.write(conn, reply)
			if after != nil {
				after(conn)
			}
			continue
		}
		go func() {
			time.Sleep(wait)
			_ = d.write(conn, reply)
			if after != nil {
				after(conn)
			}
		}()
	}
}

// handle builds the reply for a host request. after runs once the reply
// has been written.
func (d *Device) handle(req frame.Frame) (frame.Frame, bool, func(net.Conn)) {
	switch req.Opcode {
	case schema.OpGetDeviceInfo:
		return d.handleInfoGet(req)
	case schema.OpSetDeviceInfo:
		return d.handleInfoSet(req), true, nil
	case schema.OpGetDeviceConfig:
		return d.handleConfigGet(req), true, nil
	case schema.OpSetDeviceConfig:
		return d.handleConfigSet(req), true, nil
	case schema.OpSendAuth:
		return d.handleAuthChallenge(req)
	case schema.OpNotifyAuth:
		return d.handleAuthConfirm(req), true, nil
	}
	return frame.Reply(req, schema.StatusUnknown, nil), true, nil
}

func (d *Device) handleInfoGet(req frame.Frame) (frame.Frame, bool, func(net.Conn)) {
	if len(req.Payload) != 4 {
		return frame.Reply(req, schema.StatusUnknown, nil), true, nil
	}
	var mask uint8
	for mask = 0; mask < 8; mask++ {
		if req.Payload[3] == 1<<mask {
			break
		}
	}
	d.mu.Lock()
	data, ok := d.info[mask]
	silent := mask == schema.InfoBattery && d.requireAuth && !d.authenticated
	d.mu.Unlock()
	if silent {
		return frame.Frame{}, false, nil
	}
	if !ok {
		return frame.Reply(req, schema.StatusUnknown, nil), true, nil
	}
	payload := append([]byte{byte(len(data) + 1), mask}, data...)
	return frame.Reply(req, schema.StatusOK, payload), true, nil
}

func (d *Device) handleInfoSet(req frame.Frame) frame.Frame {
	records, err := tlv.DecodeRecords(tlv.Tag8, req.Payload)
	if err != nil || len(records) != 1 {
		return frame.Reply(req, schema.StatusUnknown, nil)
	}
	d.mu.Lock()
	d.infoSet[uint8(records[0].Tag)] = bytes.Clone(records[0].Value)
	d.mu.Unlock()
	return frame.Reply(req, schema.StatusOK, nil)
}

func (d *Device) handleConfigGet(req frame.Frame) frame.Frame {
	if len(req.Payload) == 0 || len(req.Payload)%2 != 0 {
		return frame.Reply(req, schema.StatusUnknown, nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := len(req.Payload) / 2
	var out []byte
	for i := 0; i < ids; i++ {
		id := uint16(req.Payload[2*i])<<8 | uint16(req.Payload[2*i+1])
		value, ok := d.config[id]
		if !ok {
			if ids == 1 {
				return frame.Reply(req, schema.StatusOK, []byte{schema.Unsupported})
			}
			value = []byte{schema.Unsupported}
		}
		rec, err := tlv.EncodeRecord(tlv.Tag16, tlv.Record{Tag: id, Value: value})
		if err != nil {
			return frame.Reply(req, schema.StatusUnknown, nil)
		}
		out = append(out, rec...)
	}
	return frame.Reply(req, schema.StatusOK, out)
}

func (d *Device) handleConfigSet(req frame.Frame) frame.Frame {
	records, err := tlv.DecodeRecords(tlv.Tag16, req.Payload)
	if err != nil || len(records) == 0 {
		return frame.Reply(req, schema.StatusUnknown, nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range records {
		if _, ok := d.config[rec.Tag]; !ok {
			return frame.Reply(req, 0x01, nil)
		}
		d.config[rec.Tag] = bytes.Clone(rec.Value)
	}
	return frame.Reply(req, schema.StatusOK, nil)
}

// handleAuthChallenge answers the host challenge, then sends the device's
// own challenge.
func (d *Device) handleAuthChallenge(req frame.Frame) (frame.Frame, bool, func(net.Conn)) {
	if len(req.Payload) != 1+auth.ChallengeLen || req.Payload[0] != 0x01 {
		return frame.Reply(req, schema.StatusUnknown, nil), true, nil
	}
	d.mu.Lock()
	key := d.key
	d.mu.Unlock()
	answer, err := key.Encrypt(req.Payload[1:])
	if err != nil {
		return frame.Reply(req, schema.StatusUnknown, nil), true, nil
	}
	reply := frame.Reply(req, schema.StatusOK, append([]byte{0x01}, answer...))

	challenge, err := auth.NewChallenge(nil)
	if err != nil {
		return reply, true, nil
	}
	return reply, true, func(conn net.Conn) {
		d.mu.Lock()
		d.challenge = challenge
		d.seq++
		seq := d.seq
		d.mu.Unlock()
		f := frame.NewRequest(schema.OpSendAuth, append([]byte{0x01}, challenge...), true)
		f.Seq = seq
		_ = d.write(conn, f)
	}
}

func (d *Device) handleAnswer(f frame.Frame) {
	if f.Opcode != schema.OpSendAuth {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.challenge == nil || len(f.Payload) != 1+auth.ChallengeLen {
		d.answerOK = false
		return
	}
	want, err := d.key.Encrypt(d.challenge)
	d.answerOK = err == nil && auth.Verify(want, f.Payload[1:]) == nil
}

func (d *Device) handleAuthConfirm(req frame.Frame) frame.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.answerOK {
		return frame.Reply(req, schema.StatusOK, []byte{0x00})
	}
	d.authenticated = true
	return frame.Reply(req, schema.StatusOK, []byte{0x01})
}
