package engine

import (
	"sync"
	"time"

	"github.com/danmuck/earlink/internal/protocol/frame"
)

type pendingKey struct {
	device string
	seq    uint8
}

type outcome struct {
	reply frame.Frame
	err   error
}

// pending is one in-flight request. ch has room for exactly one outcome
// and only the party that removes the registration may send on it.
type pending struct {
	opcode uint8
	sent   time.Time
	ch     chan outcome
}

// correlator holds in-flight requests keyed by device and sequence number.
type correlator struct {
	m sync.Map
}

// register stamps f with the next free sequence number from d and records
// the pending request before anything is written.
func (c *correlator) register(d *device, f *frame.Frame) (pendingKey, *pending, error) {
	p := &pending{opcode: f.Opcode, ch: make(chan outcome, 1)}
	for range 256 {
		key := pendingKey{device: d.id, seq: d.nextSeq()}
		if _, loaded := c.m.LoadOrStore(key, p); !loaded {
			f.Seq = key.seq
			p.sent = time.Now()
			return key, p, nil
		}
	}
	return pendingKey{}, nil, ErrSequenceExhausted
}

// resolve delivers reply to the request it answers. It reports false when
// no request with the same sequence number and opcode is waiting.
func (c *correlator) resolve(deviceID string, reply frame.Frame) bool {
	key := pendingKey{device: deviceID, seq: reply.Seq}
	v, ok := c.m.Load(key)
	if !ok {
		return false
	}
	p := v.(*pending)
	if p.opcode != reply.Opcode {
		return false
	}
	if !c.m.CompareAndDelete(key, p) {
		return false
	}
	p.ch <- outcome{reply: reply}
	return true
}

// fail removes key and completes it with err. It is a no-op when the
// request was already resolved.
func (c *correlator) fail(key pendingKey, err error) bool {
	v, ok := c.m.LoadAndDelete(key)
	if !ok {
		return false
	}
	v.(*pending).ch <- outcome{err: err}
	return true
}

// failDevice fails every request pending on deviceID and returns the count.
func (c *correlator) failDevice(deviceID string, err error) int {
	n := 0
	c.m.Range(func(k, _ any) bool {
		key := k.(pendingKey)
		if key.device == deviceID && c.fail(key, err) {
			n++
		}
		return true
	})
	return n
}

func (c *correlator) count(deviceID string) int {
	n := 0
	c.m.Range(func(k, _ any) bool {
		if k.(pendingKey).device == deviceID {
			n++
		}
		return true
	})
	return n
}
