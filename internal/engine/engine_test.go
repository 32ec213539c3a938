package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/earlink/internal/auth"
	"github.com/danmuck/earlink/internal/earbuds"
	"github.com/danmuck/earlink/internal/protocol"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
	"github.com/danmuck/earlink/internal/testutil/fakebuds"
	"github.com/danmuck/earlink/internal/testutil/testlog"
	"github.com/danmuck/earlink/internal/transport"
	"github.com/google/uuid"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.ReplyTimeout = 300 * time.Millisecond
	cfg.Session.WriteTimeout = 200 * time.Millisecond
	cfg.Session.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Session.Backoff.Jitter = false
	return cfg
}

func dialerFor(buds ...*fakebuds.Device) transport.Dialer {
	byID := make(map[string]transport.Dialer, len(buds))
	for _, b := range buds {
		byID[b.ID()] = b.Dialer()
	}
	return transport.DialerFunc(func(ctx context.Context, id string, svc uuid.UUID) (transport.Conn, error) {
		d, ok := byID[id]
		if !ok {
			return nil, errors.New("no such peer")
		}
		return d.Dial(ctx, id, svc)
	})
}

func newTestEngine(t *testing.T, cfg Config, buds ...*fakebuds.Device) *Engine {
	t.Helper()
	e, err := New(Deps{
		Dialer:    dialerFor(buds...),
		Encryptor: auth.StaticKey{Key: fakebuds.TestKey},
	}, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

// waitEvent reads sub until an event of kind for device arrives.
func waitEvent(t *testing.T, sub *Subscription, kind EventKind, device string) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed waiting for %s", kind)
			}
			if ev.Kind() == kind && ev.Device() == device {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", kind, device)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func connectBuds(t *testing.T, e *Engine, sub *Subscription, buds *fakebuds.Device) {
	t.Helper()
	e.HandlePeerConnected(buds.ID())
	waitEvent(t, sub, KindConnected, buds.ID())
}

func TestBatteryCheckSkipsHandshake(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:01")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(16)

	e.HandlePeerConnected(buds.ID())
	waitEvent(t, sub, KindConnected, buds.ID())
	ev := waitEvent(t, sub, KindBatteryChanged, buds.ID()).(BatteryChanged)

	if ev.Left.Level != 85 || ev.Right.Level != 100 || !ev.Right.Charging || ev.Case.Level != 50 {
		t.Fatalf("unexpected battery event %+v", ev)
	}
	if ev.ChargingFlags != 0x02 {
		t.Fatalf("charging flags got=%#x want=0x02", ev.ChargingFlags)
	}
	if got := e.Status(buds.ID()); got != StatusConnected {
		t.Fatalf("status got=%s want=connected", got)
	}
	if n := buds.CountRequests(schema.OpSendAuth); n != 0 {
		t.Fatalf("handshake should be skipped, saw %d auth requests", n)
	}
}

func TestHandshakeAfterFailedBatteryCheck(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:02")
	buds.RequireAuth(true)
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(16)

	connectBuds(t, e, sub, buds)
	if !buds.Authenticated() {
		t.Fatalf("device should have completed the handshake")
	}
	if n := buds.CountRequests(schema.OpNotifyAuth); n != 1 {
		t.Fatalf("confirm requests got=%d want=1", n)
	}
}

func TestHandshakeWithoutBatteryCheck(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:03")
	cfg := testConfig()
	cfg.Auth.SkipBatteryCheck = true
	e := newTestEngine(t, cfg, buds)
	sub := e.Subscribe(16)

	connectBuds(t, e, sub, buds)
	if n := buds.CountRequests(schema.OpGetDeviceInfo); n != 0 {
		t.Fatalf("battery check disabled but saw %d info requests", n)
	}
	if !buds.Authenticated() {
		t.Fatalf("device should be authenticated")
	}
}

func TestHandshakeKeyMismatchTearsDown(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:04")
	buds.RequireAuth(true)
	buds.SetKey(auth.StaticKey{Key: []byte("another-16b-key!")})
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(16)

	e.HandlePeerConnected(buds.ID())
	ev := waitEvent(t, sub, KindDisconnected, buds.ID()).(Disconnected)
	if ev.Reason == "" {
		t.Fatalf("disconnect reason should be set")
	}
	if got := e.Status(buds.ID()); got != StatusDisconnected {
		t.Fatalf("status got=%s want=disconnected", got)
	}
	if len(e.Devices()) != 0 {
		t.Fatalf("device should be removed: %+v", e.Devices())
	}
}

func TestConcurrentRequestsOutOfOrderReplies(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:05")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(16)
	connectBuds(t, e, sub, buds)

	// Replies are held long enough for every request to be in flight and
	// are released in an order unrelated to send order.
	buds.SetReplyDelay(func(f frame.Frame) time.Duration {
		if f.Opcode != schema.OpGetDeviceConfig {
			return 0
		}
		return 100*time.Millisecond + time.Duration((int(f.Seq)*37)%60)*time.Millisecond
	})
	ids := []uint16{
		schema.ConfigGesture, schema.ConfigMultiConnect, schema.ConfigEqualizerMode,
		schema.ConfigFindEarbuds, schema.ConfigNoiseCancellationList,
		schema.ConfigNoiseCancellationMode, schema.ConfigInEarState, schema.ConfigSerialNumber,
	}

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		id := ids[i%len(ids)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := protocol.Do(context.Background(), e, buds.ID(), protocol.ConfigGet(id))
			if err != nil {
				errs <- err
				return
			}
			if string(value) != string(buds.Config(id)) {
				errs <- errors.New("value routed to wrong caller")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("request failed: %v", err)
	}

	seen := map[uint8]bool{}
	for _, f := range buds.Requests() {
		if f.Opcode != schema.OpGetDeviceConfig {
			continue
		}
		if seen[f.Seq] {
			t.Fatalf("sequence %d issued twice while in flight", f.Seq)
		}
		seen[f.Seq] = true
	}
	if len(seen) != n {
		t.Fatalf("distinct sequences got=%d want=%d", len(seen), n)
	}
}

func TestReplyTimeoutIsolation(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:06")
	cfg := testConfig()
	e := newTestEngine(t, cfg, buds)
	sub := e.Subscribe(16)
	connectBuds(t, e, sub, buds)
	buds.DropOpcode(schema.OpSetDeviceConfig)

	setErr := make(chan error, 1)
	start := time.Now()
	go func() {
		call, _ := protocol.ConfigSet(schema.ConfigEqualizerMode, []byte{0x01})
		_, err := protocol.Do(context.Background(), e, buds.ID(), call)
		setErr <- err
	}()

	value, err := protocol.Do(context.Background(), e, buds.ID(), protocol.ConfigGet(schema.ConfigEqualizerMode))
	if err != nil {
		t.Fatalf("get should not be affected: %v", err)
	}
	if len(value) != 1 {
		t.Fatalf("unexpected value % X", value)
	}

	err = <-setErr
	var te *TimeoutError
	if !errors.Is(err, ErrTimeout) || !errors.As(err, &te) || te.Phase != "reply" {
		t.Fatalf("expected reply TimeoutError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.Session.ReplyTimeout {
		t.Fatalf("timed out early after %s", elapsed)
	}
	if got := e.Status(buds.ID()); got != StatusConnected {
		t.Fatalf("a timeout must not change status, got %s", got)
	}
	if e.Devices()[0].Pending != 0 {
		t.Fatalf("timed out request should be removed")
	}
}

func TestDisconnectFailsPendingForThatDeviceOnly(t *testing.T) {
	testlog.Start(t)
	a := fakebuds.New("AA:07")
	b := fakebuds.New("BB:07")
	e := newTestEngine(t, testConfig(), a, b)
	sub := e.Subscribe(32)
	connectBuds(t, e, sub, a)
	connectBuds(t, e, sub, b)
	a.DropOpcode(schema.OpGetDeviceConfig)

	const n = 3
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := e.Request(context.Background(), a.ID(), protocol.ConfigGetRequest(schema.ConfigEqualizerMode))
			errs <- err
		}()
	}
	waitFor(t, "pending requests", func() bool {
		for _, d := range e.Devices() {
			if d.ID == a.ID() {
				return d.Pending == n
			}
		}
		return false
	})

	start := time.Now()
	e.HandlePeerDisconnected(a.ID())
	for i := 0; i < n; i++ {
		if err := <-errs; !errors.Is(err, ErrDisconnected) {
			t.Fatalf("expected ErrDisconnected, got %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed >= testConfig().Session.ReplyTimeout {
		t.Fatalf("cancellation waited for reply timeout: %s", elapsed)
	}
	waitEvent(t, sub, KindDisconnected, a.ID())

	if _, err := protocol.Do(context.Background(), e, b.ID(), protocol.Battery()); err != nil {
		t.Fatalf("other device affected: %v", err)
	}
	if _, err := e.Request(context.Background(), a.ID(), protocol.ConfigGetRequest(schema.ConfigEqualizerMode)); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice after teardown, got %v", err)
	}
}

func TestInEarDuplicateSuppression(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:08")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(32)
	connectBuds(t, e, sub, buds)

	for _, b := range []byte{0x0A, 0x0A, 0x05} {
		if err := buds.PushConfig(schema.ConfigInEarState, []byte{b}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if err := buds.PushConfig(schema.ConfigEqualizerMode, []byte{0x05}); err != nil {
		t.Fatalf("push: %v", err)
	}

	var configs, inEar []Event
	deadline := time.After(3 * time.Second)
	for len(configs) < 4 {
		select {
		case ev := <-sub.C:
			switch ev.(type) {
			case ConfigChanged:
				configs = append(configs, ev)
			case InEarStateChanged:
				inEar = append(inEar, ev)
			}
		case <-deadline:
			t.Fatalf("timed out, configs=%d", len(configs))
		}
	}
	if len(inEar) != 2 {
		t.Fatalf("in-ear events got=%d want=2: %+v", len(inEar), inEar)
	}
	first := inEar[0].(InEarStateChanged)
	if first.Left != earbuds.InEar || first.Right != earbuds.Outside {
		t.Fatalf("unexpected first state %+v", first)
	}
	second := inEar[1].(InEarStateChanged)
	if second.Left != earbuds.Outside || second.Right != earbuds.InEar {
		t.Fatalf("unexpected second state %+v", second)
	}
	last := configs[3].(ConfigChanged)
	if last.ConfigID != schema.ConfigEqualizerMode || string(last.Value) != "\x05" {
		t.Fatalf("unexpected config event %+v", last)
	}
}

func TestBatteryNotificationAfterGarbage(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:09")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(16)
	connectBuds(t, e, sub, buds)
	waitEvent(t, sub, KindBatteryChanged, buds.ID())

	if err := buds.PushRaw([]byte{0x00, 0x13, 0x37, 0xFE, 0x01}); err != nil {
		t.Fatalf("push raw: %v", err)
	}
	if err := buds.PushBattery(0x32, 0xE4, 0xFF); err != nil {
		t.Fatalf("push battery: %v", err)
	}
	ev := waitEvent(t, sub, KindBatteryChanged, buds.ID()).(BatteryChanged)
	if ev.Left.Level != 50 || ev.Right.Level != 100 || ev.Case.Valid {
		t.Fatalf("unexpected battery event %+v", ev)
	}
	if got := e.Devices()[0].ResyncBytes; got != 5 {
		t.Fatalf("resync bytes got=%d want=5", got)
	}
}

func TestNotificationsInDeviceLayout(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:0A")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(16)
	connectBuds(t, e, sub, buds)
	waitEvent(t, sub, KindBatteryChanged, buds.ID())

	if err := buds.Push(frame.NewRequest(schema.OpNotifyDeviceInfo, []byte{0x07, 0x32, 0x33, 0x64}, false)); err != nil {
		t.Fatalf("push battery: %v", err)
	}
	bat := waitEvent(t, sub, KindBatteryChanged, buds.ID()).(BatteryChanged)
	if bat.Left.Level != 50 || bat.Right.Level != 51 || bat.Case.Level != 100 {
		t.Fatalf("unexpected battery event %+v", bat)
	}

	if err := buds.Push(frame.NewRequest(schema.OpNotifyDeviceConfig, []byte{0x00, 0x0C, 0x08}, false)); err != nil {
		t.Fatalf("push in-ear: %v", err)
	}
	ev := waitEvent(t, sub, KindInEarStateChanged, buds.ID()).(InEarStateChanged)
	if ev.Left != earbuds.InEar || ev.Right != earbuds.Outside {
		t.Fatalf("unexpected in-ear event %+v", ev)
	}
}

func TestWriteTimeoutFailsRequestWithoutWaitingForReply(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Session.ReplyTimeout = 3 * time.Second
	buds := fakebuds.New("AA:0B")
	e := newTestEngine(t, cfg, buds)
	sub := e.Subscribe(16)
	connectBuds(t, e, sub, buds)

	buds.StallWrites(true)
	start := time.Now()
	_, err := e.Request(context.Background(), buds.ID(), protocol.ConfigGetRequest(schema.ConfigEqualizerMode))
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) || te.Phase != "write" {
		t.Fatalf("expected write timeout, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("write timeout should match ErrTimeout: %v", err)
	}
	if elapsed >= cfg.Session.ReplyTimeout/2 {
		t.Fatalf("write timeout waited %s, reply timeout is %s", elapsed, cfg.Session.ReplyTimeout)
	}
	for _, d := range e.Devices() {
		if d.ID == buds.ID() && d.Pending != 0 {
			t.Fatalf("pending got=%d want=0", d.Pending)
		}
	}

	buds.StallWrites(false)
	if _, err := protocol.Do(context.Background(), e, buds.ID(), protocol.Battery()); err != nil {
		t.Fatalf("request after stall: %v", err)
	}
}

func TestReconnectAfterLinkLoss(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:10")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(32)
	connectBuds(t, e, sub, buds)

	buds.Disconnect()
	waitEvent(t, sub, KindConnected, buds.ID())
	if got := buds.Dials(); got != 2 {
		t.Fatalf("dials got=%d want=2", got)
	}
	if got := e.Status(buds.ID()); got != StatusConnected {
		t.Fatalf("status got=%s want=connected", got)
	}
	if _, err := protocol.Do(context.Background(), e, buds.ID(), protocol.Model()); err != nil {
		t.Fatalf("request after reconnect: %v", err)
	}
}

func TestReconnectFailureTearsDown(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:11")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(32)
	connectBuds(t, e, sub, buds)

	buds.SetDialError(errors.New("out of range"))
	buds.Disconnect()
	ev := waitEvent(t, sub, KindDisconnected, buds.ID()).(Disconnected)
	if ev.Reason == "" {
		t.Fatalf("missing reason")
	}
	waitFor(t, "device removal", func() bool { return len(e.Devices()) == 0 })
}

func TestZeroConfigChecksBatteryAndReconnects(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:12")
	e := newTestEngine(t, Config{}, buds)
	if got := e.Config().Session.ReconnectAttempts; got != 1 {
		t.Fatalf("reconnect attempts got=%d want=1", got)
	}
	sub := e.Subscribe(32)
	connectBuds(t, e, sub, buds)
	if n := buds.CountRequests(schema.OpSendAuth); n != 0 {
		t.Fatalf("battery check should skip the handshake, saw %d auth requests", n)
	}

	buds.Disconnect()
	waitEvent(t, sub, KindConnected, buds.ID())
	if got := buds.Dials(); got != 2 {
		t.Fatalf("dials got=%d want=2", got)
	}
}

func TestNoReconnectTearsDownOnLinkLoss(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Session.NoReconnect = true
	buds := fakebuds.New("AA:13")
	e := newTestEngine(t, cfg, buds)
	sub := e.Subscribe(32)
	connectBuds(t, e, sub, buds)

	buds.Disconnect()
	waitEvent(t, sub, KindDisconnected, buds.ID())
	if got := buds.Dials(); got != 1 {
		t.Fatalf("dials got=%d want=1", got)
	}
}

func TestRequestPreconditions(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, testConfig())
	if _, err := e.Request(context.Background(), "nope", protocol.InfoGetRequest(schema.InfoBattery)); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
	if _, err := New(Deps{}, DefaultConfig()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without dialer, got %v", err)
	}
}

func TestFireAndForgetDoesNotWait(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:12")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(16)
	connectBuds(t, e, sub, buds)
	buds.DropOpcode(schema.OpSetDeviceInfo)

	start := time.Now()
	if err := e.RequestFireAndForget(context.Background(), buds.ID(), protocol.DisableInEarDetect().Request); err != nil {
		t.Fatalf("fire and forget: %v", err)
	}
	if time.Since(start) >= testConfig().Session.ReplyTimeout {
		t.Fatalf("fire and forget waited for a reply")
	}
	waitFor(t, "request delivery", func() bool { return buds.CountRequests(schema.OpSetDeviceInfo) == 1 })
	for _, f := range buds.Requests() {
		if f.Opcode == schema.OpSetDeviceInfo && f.NeedsReply {
			t.Fatalf("frame should not ask for a reply: %s", f)
		}
	}
}

func TestListenerReplayAndUnregister(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:13")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(16)
	connectBuds(t, e, sub, buds)

	got := make(chan Event, 16)
	id := e.RegisterListener(ListenerFunc(func(ev Event) { got <- ev }))
	select {
	case ev := <-got:
		if _, ok := ev.(Connected); !ok || ev.Device() != buds.ID() {
			t.Fatalf("expected replayed Connected, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no replay event")
	}
	if !e.UnregisterListener(id) {
		t.Fatalf("unregister should report true")
	}
	if e.UnregisterListener(id) {
		t.Fatalf("second unregister should report false")
	}
}

func TestStopDisconnectsAndClosesFeeds(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:14")
	e := newTestEngine(t, testConfig(), buds)
	sub := e.Subscribe(16)
	connectBuds(t, e, sub, buds)

	e.Stop()
	waitEvent(t, sub, KindDisconnected, buds.ID())
	for range sub.C {
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	e.HandlePeerConnected(buds.ID())
	if len(e.Devices()) != 0 {
		t.Fatalf("stopped engine accepted a device")
	}
}

type chanWatcher chan transport.PeerEvent

func (c chanWatcher) Watch(ctx context.Context) (<-chan transport.PeerEvent, error) {
	return c, nil
}

func TestStartFollowsPeerSignals(t *testing.T) {
	testlog.Start(t)
	buds := fakebuds.New("AA:15")
	peers := make(chanWatcher, 4)
	e, err := New(Deps{
		Dialer:    dialerFor(buds),
		Encryptor: auth.StaticKey{Key: fakebuds.TestKey},
		Peers:     peers,
	}, testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(e.Stop)
	sub := e.Subscribe(16)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	peers <- transport.PeerEvent{DeviceID: buds.ID(), State: transport.PeerConnected}
	waitEvent(t, sub, KindConnected, buds.ID())
	peers <- transport.PeerEvent{DeviceID: buds.ID(), State: transport.PeerDisconnected}
	waitEvent(t, sub, KindDisconnected, buds.ID())
}
