package engine

import "github.com/danmuck/earlink/internal/earbuds"

// Status is the lifecycle state of a device.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusAuthenticating
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticating:
		return "authenticating"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind names an Event variant.
type EventKind string

const (
	KindConnected         EventKind = "connected"
	KindDisconnected      EventKind = "disconnected"
	KindBatteryChanged    EventKind = "battery_changed"
	KindConfigChanged     EventKind = "config_changed"
	KindInEarStateChanged EventKind = "in_ear_state_changed"
)

// Event is a device event. The set of variants is closed; switch on the
// concrete type.
type Event interface {
	Device() string
	Kind() EventKind
	event()
}

type Connected struct {
	DeviceID string `json:"device"`
}

type Disconnected struct {
	DeviceID string `json:"device"`
	Reason   string `json:"reason,omitempty"`
}

type BatteryChanged struct {
	DeviceID      string         `json:"device"`
	Left          earbuds.Earbud `json:"left"`
	Right         earbuds.Earbud `json:"right"`
	Case          earbuds.Earbud `json:"case"`
	ChargingFlags uint8          `json:"charging_flags"`
}

type ConfigChanged struct {
	DeviceID string `json:"device"`
	ConfigID uint16 `json:"config_id"`
	Value    []byte `json:"value"`
}

type InEarStateChanged struct {
	DeviceID string            `json:"device"`
	Left     earbuds.Placement `json:"left"`
	Right    earbuds.Placement `json:"right"`
}

func (e Connected) Device() string         { return e.DeviceID }
func (e Disconnected) Device() string      { return e.DeviceID }
func (e BatteryChanged) Device() string    { return e.DeviceID }
func (e ConfigChanged) Device() string     { return e.DeviceID }
func (e InEarStateChanged) Device() string { return e.DeviceID }

func (Connected) Kind() EventKind         { return KindConnected }
func (Disconnected) Kind() EventKind      { return KindDisconnected }
func (BatteryChanged) Kind() EventKind    { return KindBatteryChanged }
func (ConfigChanged) Kind() EventKind     { return KindConfigChanged }
func (InEarStateChanged) Kind() EventKind { return KindInEarStateChanged }

func (Connected) event()         {}
func (Disconnected) event()      {}
func (BatteryChanged) event()    {}
func (ConfigChanged) event()     {}
func (InEarStateChanged) event() {}

func batteryEvent(deviceID string, b earbuds.Earbuds) BatteryChanged {
	return BatteryChanged{
		DeviceID:      deviceID,
		Left:          b.Left,
		Right:         b.Right,
		Case:          b.Case,
		ChargingFlags: b.ChargingFlags(),
	}
}
