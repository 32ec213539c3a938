package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/earlink/internal/earbuds"
	"github.com/danmuck/earlink/internal/logging"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine drives every connected device: link lifecycle, authentication,
// request correlation and event dispatch. Instances are independent.
type Engine struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	bus     *bus
	corr    correlator
	devices sync.Map // device id -> *device

	ctx    context.Context
	cancel context.CancelFunc

	goMu    sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	listeners sync.Map // ListenerID -> *Subscription
}

// device is the live session for one peer. authInbox and inEar belong to
// the device's reader goroutine and its authenticator.
type device struct {
	id   string
	sess *transport.Session
	log  zerolog.Logger

	status  atomic.Int32
	seq     atomic.Uint32
	authGen atomic.Uint64
	// resync counts stream bytes skipped while hunting for a preamble,
	// across reconnects.
	resync atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc

	authInbox chan frame.Frame
	inEar     *earbuds.InEarState
	rng       *mrand.Rand
}

func (d *device) nextSeq() uint8 {
	return uint8(d.seq.Add(1))
}

func (d *device) Status() Status {
	return Status(d.status.Load())
}

// DeviceInfo is a point-in-time view of one device.
type DeviceInfo struct {
	ID      string    `json:"id"`
	Status  Status    `json:"status"`
	Service uuid.UUID `json:"service"`
	Pending int       `json:"pending"`
	// ResyncBytes is the number of stream bytes skipped as garbage.
	ResyncBytes uint64 `json:"resync_bytes"`
}

func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		log:    logging.Component("engine"),
		bus:    newBus(),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Start consumes peer link signals until ctx ends or the engine stops. It
// returns immediately when no PeerWatcher was supplied.
func (e *Engine) Start(ctx context.Context) error {
	if e.isStopped() {
		return ErrStopped
	}
	if e.deps.Peers == nil {
		return nil
	}
	events, err := e.deps.Peers.Watch(ctx)
	if err != nil {
		return fmt.Errorf("engine: watch peers: %w", err)
	}
	e.spawn(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.State {
				case transport.PeerConnected:
					e.HandlePeerConnected(ev.DeviceID)
				case transport.PeerDisconnected:
					e.HandlePeerDisconnected(ev.DeviceID)
				}
			}
		}
	})
	e.log.Info().Int("services", len(e.cfg.Services)).Msg("engine: started")
	return nil
}

// Stop tears down every device, waits for their goroutines and closes all
// listener feeds. It is safe to call more than once.
func (e *Engine) Stop() {
	e.goMu.Lock()
	if e.stopped {
		e.goMu.Unlock()
		return
	}
	e.stopped = true
	e.goMu.Unlock()

	e.cancel()
	e.devices.Range(func(_, v any) bool {
		e.teardown(v.(*device), "engine stopped")
		return true
	})
	e.wg.Wait()
	e.bus.close()
	e.log.Info().Msg("engine: stopped")
}

func (e *Engine) isStopped() bool {
	e.goMu.Lock()
	defer e.goMu.Unlock()
	return e.stopped
}

// spawn runs fn on a tracked goroutine unless the engine is stopping.
func (e *Engine) spawn(fn func()) bool {
	e.goMu.Lock()
	defer e.goMu.Unlock()
	if e.stopped {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

func (e *Engine) newDevice(id string) (*device, error) {
	var seed [9]byte
	r := e.deps.Rand
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return nil, fmt.Errorf("engine: seed device %s: %w", id, err)
	}
	ctx, cancel := context.WithCancel(e.ctx)
	d := &device{
		id:        id,
		sess:      transport.NewSession(id, e.deps.Dialer, e.cfg.Services, e.cfg.Session),
		log:       e.log.With().Str("device", id).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		authInbox: make(chan frame.Frame, 4),
		rng:       mrand.New(mrand.NewSource(time.Now().UnixNano() ^ int64(seed[1]))),
	}
	d.seq.Store(uint32(seed[0]))
	return d, nil
}

func (e *Engine) lookup(id string) (*device, error) {
	v, ok := e.devices.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return v.(*device), nil
}

// Status reports the lifecycle state of id; unknown devices are
// Disconnected.
func (e *Engine) Status(id string) Status {
	d, err := e.lookup(id)
	if err != nil {
		return StatusDisconnected
	}
	return d.Status()
}

// Devices lists known devices ordered by id.
func (e *Engine) Devices() []DeviceInfo {
	var out []DeviceInfo
	e.devices.Range(func(_, v any) bool {
		d := v.(*device)
		out = append(out, DeviceInfo{
			ID:          d.id,
			Status:      d.Status(),
			Service:     d.sess.Service(),
			Pending:     e.corr.count(d.id),
			ResyncBytes: d.resync.Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe opens a buffered event feed. Devices already connected are
// replayed as Connected events first. buffer <= 0 uses the configured
// listener buffer.
func (e *Engine) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = e.cfg.ListenerBuffer
	}
	return e.bus.subscribe(buffer, func() []Event {
		var replay []Event
		for _, info := range e.Devices() {
			if info.Status == StatusConnected {
				replay = append(replay, Connected{DeviceID: info.ID})
			}
		}
		return replay
	})
}

// RegisterListener delivers events to l on a dedicated goroutine until
// UnregisterListener or Stop.
func (e *Engine) RegisterListener(l Listener) ListenerID {
	sub := e.Subscribe(0)
	id := ListenerID(sub.id)
	e.listeners.Store(id, sub)
	go func() {
		for ev := range sub.C {
			l.OnDeviceEvent(ev)
		}
		e.listeners.Delete(id)
	}()
	return id
}

func (e *Engine) UnregisterListener(id ListenerID) bool {
	v, ok := e.listeners.LoadAndDelete(id)
	if !ok {
		return false
	}
	v.(*Subscription).Close()
	return true
}

// Disconnect tears down id as if its link was lost.
func (e *Engine) Disconnect(id string) error {
	d, err := e.lookup(id)
	if err != nil {
		return err
	}
	e.teardown(d, "disconnect requested")
	return nil
}

func isDisconnect(err error) bool {
	return errors.Is(err, ErrDisconnected) || errors.Is(err, ErrStopped)
}
