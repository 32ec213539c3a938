// Package bluez connects earlink to paired headsets through the BlueZ
// daemon on the system bus. Each candidate service is registered as a
// client profile; ConnectProfile hands the RFCOMM socket back through
// Profile1.NewConnection.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/danmuck/earlink/internal/logging"
	"github.com/danmuck/earlink/internal/transport"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	busName           = "org.bluez"
	ifaceDevice       = "org.bluez.Device1"
	ifaceProfile      = "org.bluez.Profile1"
	ifaceProfileMgr   = "org.bluez.ProfileManager1"
	ifaceProperties   = "org.freedesktop.DBus.Properties"
	ifaceObjectMgr    = "org.freedesktop.DBus.ObjectManager"
	profileRootPath   = "/org/earlink/profile"
	propertiesChanged = ifaceProperties + ".PropertiesChanged"
)

var ErrNoProfile = errors.New("bluez: service not registered")

type Config struct {
	// Adapter is the controller object path.
	Adapter dbus.ObjectPath
	// Services are registered as client profiles, in connect order.
	Services []uuid.UUID
	// Devices limits the peer feed to these addresses; empty means every
	// device that advertises one of Services.
	Devices []string
}

func DefaultConfig() Config {
	return Config{
		Adapter:  "/org/bluez/hci0",
		Services: transport.DefaultServices(),
	}
}

type waitKey struct {
	device  dbus.ObjectPath
	service uuid.UUID
}

// Transport implements transport.Dialer and transport.PeerWatcher.
type Transport struct {
	cfg  Config
	conn *dbus.Conn
	log  zerolog.Logger

	profiles map[uuid.UUID]dbus.ObjectPath

	mu      sync.Mutex
	waiters map[waitKey]chan *os.File
	allowed map[string]bool
}

// Open registers one client profile per service on the system bus.
func Open(cfg Config) (*Transport, error) {
	if cfg.Adapter == "" {
		cfg.Adapter = DefaultConfig().Adapter
	}
	if len(cfg.Services) == 0 {
		cfg.Services = transport.DefaultServices()
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: system bus: %w", err)
	}
	t := &Transport{
		cfg:      cfg,
		conn:     conn,
		log:      logging.Component("bluez"),
		profiles: make(map[uuid.UUID]dbus.ObjectPath, len(cfg.Services)),
		waiters:  make(map[waitKey]chan *os.File),
		allowed:  make(map[string]bool, len(cfg.Devices)),
	}
	for _, addr := range cfg.Devices {
		t.allowed[strings.ToUpper(addr)] = true
	}

	mgr := conn.Object(busName, "/org/bluez")
	for i, svc := range cfg.Services {
		path := dbus.ObjectPath(fmt.Sprintf("%s/%d", profileRootPath, i))
		if err := conn.Export(&profile{t: t, service: svc}, path, ifaceProfile); err != nil {
			t.Close()
			return nil, fmt.Errorf("bluez: export profile %s: %w", svc, err)
		}
		opts := map[string]dbus.Variant{
			"Role":                  dbus.MakeVariant("client"),
			"AutoConnect":           dbus.MakeVariant(false),
			"RequireAuthentication": dbus.MakeVariant(false),
			"RequireAuthorization":  dbus.MakeVariant(false),
		}
		if err := mgr.Call(ifaceProfileMgr+".RegisterProfile", 0, path, svc.String(), opts).Err; err != nil {
			t.Close()
			return nil, fmt.Errorf("bluez: register profile %s: %w", svc, err)
		}
		t.profiles[svc] = path
		t.log.Debug().Str("service", svc.String()).Str("path", string(path)).Msg("bluez: profile registered")
	}
	return t, nil
}

// Dial asks BlueZ to connect service on deviceID and waits for the socket.
func (t *Transport) Dial(ctx context.Context, deviceID string, service uuid.UUID) (transport.Conn, error) {
	if _, ok := t.profiles[service]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProfile, service)
	}
	dev := DevicePath(t.cfg.Adapter, deviceID)
	key := waitKey{device: dev, service: service}
	ch := make(chan *os.File, 1)

	t.mu.Lock()
	if old, ok := t.waiters[key]; ok {
		close(old)
	}
	t.waiters[key] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.waiters[key] == ch {
			delete(t.waiters, key)
		}
		t.mu.Unlock()
	}()

	call := t.conn.Object(busName, dev).CallWithContext(ctx, ifaceDevice+".ConnectProfile", 0, service.String())
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: connect profile %s on %s: %w", service, deviceID, call.Err)
	}
	select {
	case f, ok := <-ch:
		if !ok || f == nil {
			return nil, fmt.Errorf("bluez: connect %s on %s superseded", service, deviceID)
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver hands a new socket to the waiting Dial, or closes it.
func (t *Transport) deliver(dev dbus.ObjectPath, service uuid.UUID, f *os.File) {
	key := waitKey{device: dev, service: service}
	t.mu.Lock()
	ch, ok := t.waiters[key]
	if ok {
		delete(t.waiters, key)
	}
	t.mu.Unlock()
	if !ok {
		t.log.Debug().Str("device", string(dev)).Msg("bluez: unsolicited connection closed")
		_ = f.Close()
		return
	}
	ch <- f
}

// Watch reports Device1.Connected changes for devices that pass the
// filter. Devices already connected are reported first.
func (t *Transport) Watch(ctx context.Context) (<-chan transport.PeerEvent, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(ifaceProperties),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, ifaceDevice),
	}
	if err := t.conn.AddMatchSignal(match...); err != nil {
		return nil, fmt.Errorf("bluez: add match: %w", err)
	}
	signals := make(chan *dbus.Signal, 32)
	t.conn.Signal(signals)

	out := make(chan transport.PeerEvent, 16)
	initial, err := t.connectedDevices()
	if err != nil {
		t.log.Warn().Err(err).Msg("bluez: list devices failed")
	}

	go func() {
		defer close(out)
		defer func() {
			t.conn.RemoveSignal(signals)
			_ = t.conn.RemoveMatchSignal(match...)
		}()
		for _, addr := range initial {
			select {
			case out <- transport.PeerEvent{DeviceID: addr, State: transport.PeerConnected}:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				ev, ok := t.peerEvent(sig)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *Transport) peerEvent(sig *dbus.Signal) (transport.PeerEvent, bool) {
	if sig == nil || sig.Name != propertiesChanged {
		return transport.PeerEvent{}, false
	}
	addr, ok := AddressFromPath(sig.Path)
	if !ok {
		return transport.PeerEvent{}, false
	}
	connected, ok := ConnectedChange(sig.Body)
	if !ok {
		return transport.PeerEvent{}, false
	}
	if !t.accepts(sig.Path, addr) {
		return transport.PeerEvent{}, false
	}
	state := transport.PeerDisconnected
	if connected {
		state = transport.PeerConnected
	}
	t.log.Debug().Str("device", addr).Str("state", state.String()).Msg("bluez: peer signal")
	return transport.PeerEvent{DeviceID: addr, State: state}, true
}

func (t *Transport) accepts(path dbus.ObjectPath, addr string) bool {
	if len(t.allowed) > 0 {
		return t.allowed[addr]
	}
	var v dbus.Variant
	if err := t.conn.Object(busName, path).Call(ifaceProperties+".Get", 0, ifaceDevice, "UUIDs").Store(&v); err != nil {
		return false
	}
	uuids, _ := v.Value().([]string)
	return t.offersService(uuids)
}

func (t *Transport) offersService(uuids []string) bool {
	for _, s := range uuids {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		if _, ok := t.profiles[id]; ok {
			return true
		}
	}
	return false
}

func (t *Transport) connectedDevices() ([]string, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := t.conn.Object(busName, "/").Call(ifaceObjectMgr+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, err
	}
	var out []string
	for path, ifaces := range objects {
		props, ok := ifaces[ifaceDevice]
		if !ok || !strings.HasPrefix(string(path), string(t.cfg.Adapter)+"/") {
			continue
		}
		if c, _ := props["Connected"].Value().(bool); !c {
			continue
		}
		addr, ok := AddressFromPath(path)
		if !ok {
			continue
		}
		if len(t.allowed) > 0 {
			if t.allowed[addr] {
				out = append(out, addr)
			}
			continue
		}
		uuids, _ := props["UUIDs"].Value().([]string)
		if t.offersService(uuids) {
			out = append(out, addr)
		}
	}
	return out, nil
}

// Close unregisters the profiles and drops the bus connection.
func (t *Transport) Close() error {
	mgr := t.conn.Object(busName, "/org/bluez")
	for svc, path := range t.profiles {
		if err := mgr.Call(ifaceProfileMgr+".UnregisterProfile", 0, path).Err; err != nil {
			t.log.Debug().Err(err).Str("service", svc.String()).Msg("bluez: unregister profile")
		}
		_ = t.conn.Export(nil, path, ifaceProfile)
	}
	t.mu.Lock()
	for k, ch := range t.waiters {
		close(ch)
		delete(t.waiters, k)
	}
	t.mu.Unlock()
	return t.conn.Close()
}

// profile is the exported org.bluez.Profile1 object for one service.
type profile struct {
	t       *Transport
	service uuid.UUID
}

func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	f, err := socketFile(int(fd), string(dev))
	if err != nil {
		p.t.log.Error().Err(err).Str("device", string(dev)).Msg("bluez: socket setup failed")
		return dbus.MakeFailedError(err)
	}
	p.t.deliver(dev, p.service, f)
	return nil
}

func (p *profile) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error {
	p.t.log.Debug().Str("device", string(dev)).Str("service", p.service.String()).Msg("bluez: disconnection requested")
	return nil
}

func (p *profile) Release() *dbus.Error {
	return nil
}

// AdapterPath accepts "hci0" or a full object path.
func AdapterPath(name string) dbus.ObjectPath {
	if strings.HasPrefix(name, "/") {
		return dbus.ObjectPath(name)
	}
	return dbus.ObjectPath("/org/bluez/" + name)
}

// DevicePath maps "AA:BB:CC:DD:EE:FF" to "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func DevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapter, strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

// AddressFromPath is the inverse of DevicePath.
func AddressFromPath(path dbus.ObjectPath) (string, bool) {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return "", false
	}
	raw := s[i+len("/dev_"):]
	if len(raw) != 17 || strings.Contains(raw, "/") {
		return "", false
	}
	return strings.ReplaceAll(raw, "_", ":"), true
}

// ConnectedChange extracts Device1.Connected from a PropertiesChanged body.
func ConnectedChange(body []any) (bool, bool) {
	if len(body) < 2 {
		return false, false
	}
	if iface, _ := body[0].(string); iface != ifaceDevice {
		return false, false
	}
	changed, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changed["Connected"]
	if !ok {
		return false, false
	}
	connected, ok := v.Value().(bool)
	return connected, ok
}
