package params

import (
	"encoding/json"
	"sort"

	"github.com/danmuck/earlink/internal/protocol/schema"
)

type GestureType uint8

const (
	GestureDoubleClick GestureType = 0x01
	GestureTrebleClick GestureType = 0x02
	GestureLongPress   GestureType = 0x03
	GestureSingleClick GestureType = 0x04
)

var gestureTypeNames = enum[GestureType]{names: map[GestureType]string{
	GestureSingleClick: "single_click",
	GestureDoubleClick: "double_click",
	GestureTrebleClick: "treble_click",
	GestureLongPress:   "long_press",
}}

func (g GestureType) String() string { return gestureTypeNames.name(g) }

func (g GestureType) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *GestureType) UnmarshalText(b []byte) error {
	v, err := gestureTypeNames.parse("gesture type", string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

type GestureFunction uint8

const (
	FunctionVoiceAssistant GestureFunction = 0x00
	FunctionPlayPause      GestureFunction = 0x01
	FunctionPreviousTrack  GestureFunction = 0x02
	FunctionNextTrack      GestureFunction = 0x03
	FunctionVolumeUp       GestureFunction = 0x04
	FunctionVolumeDown     GestureFunction = 0x05
	FunctionNoiseControl   GestureFunction = 0x06
	FunctionDisabled       GestureFunction = 0x08
	FunctionScreenshot     GestureFunction = 0x09
)

var gestureFunctionNames = enum[GestureFunction]{names: map[GestureFunction]string{
	FunctionDisabled:       "disabled",
	FunctionVoiceAssistant: "voice_assistant",
	FunctionPlayPause:      "play_pause",
	FunctionPreviousTrack:  "previous_track",
	FunctionNextTrack:      "next_track",
	FunctionVolumeUp:       "volume_up",
	FunctionVolumeDown:     "volume_down",
	FunctionNoiseControl:   "noise_control",
	FunctionScreenshot:     "screenshot",
}}

func (f GestureFunction) String() string { return gestureFunctionNames.name(f) }

func (f GestureFunction) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *GestureFunction) UnmarshalText(b []byte) error {
	v, err := gestureFunctionNames.parse("gesture function", string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

type GestureKey struct {
	Ear  Ear
	Type GestureType
}

// GestureMap binds gestures to functions. On write, an ear missing for a
// gesture type is left unmodified.
type GestureMap map[GestureKey]GestureFunction

// GestureBinding is the JSON form of one GestureMap entry.
type GestureBinding struct {
	Ear      Ear             `json:"ear"`
	Type     GestureType     `json:"type"`
	Function GestureFunction `json:"function"`
}

func (m GestureMap) Bindings() []GestureBinding {
	out := make([]GestureBinding, 0, len(m))
	for k, f := range m {
		out = append(out, GestureBinding{Ear: k.Ear, Type: k.Type, Function: f})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return gestureOrder(out[i].Type) < gestureOrder(out[j].Type)
		}
		return out[i].Ear < out[j].Ear
	})
	return out
}

func (m GestureMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Bindings())
}

func (m *GestureMap) UnmarshalJSON(b []byte) error {
	var bindings []GestureBinding
	if err := json.Unmarshal(b, &bindings); err != nil {
		return err
	}
	out := make(GestureMap, len(bindings))
	for _, bd := range bindings {
		out[GestureKey{Ear: bd.Ear, Type: bd.Type}] = bd.Function
	}
	*m = out
	return nil
}

var gestureTypes = []GestureType{GestureSingleClick, GestureDoubleClick, GestureTrebleClick, GestureLongPress}

func gestureOrder(t GestureType) int {
	for i, g := range gestureTypes {
		if g == t {
			return i
		}
	}
	return len(gestureTypes)
}

type gestureCodec struct{}

// Gesture is a list of [type, left, right] records. Records with an unknown
// type are skipped; unknown functions read back as FunctionDisabled.
var Gesture Codec[GestureMap] = gestureCodec{}

func (gestureCodec) ID() uint16   { return schema.ConfigGesture }
func (gestureCodec) Name() string { return "gesture" }
func (gestureCodec) Length() int  { return 0 }

func (c gestureCodec) Decode(b []byte) (GestureMap, error) {
	if len(b)%3 != 0 {
		return nil, invalid(c.Name(), "length %d is not a multiple of 3", len(b))
	}
	out := make(GestureMap, len(b)/3*2)
	for i := 0; i < len(b); i += 3 {
		t := GestureType(b[i])
		if !gestureTypeNames.known(t) {
			continue
		}
		out[GestureKey{Ear: EarLeft, Type: t}] = gestureFunction(b[i+1])
		out[GestureKey{Ear: EarRight, Type: t}] = gestureFunction(b[i+2])
	}
	return out, nil
}

func gestureFunction(b byte) GestureFunction {
	f := GestureFunction(b)
	if !gestureFunctionNames.known(f) {
		return FunctionDisabled
	}
	return f
}

func (c gestureCodec) Encode(m GestureMap) ([]byte, error) {
	var out []byte
	for _, t := range gestureTypes {
		left, hasLeft := m[GestureKey{Ear: EarLeft, Type: t}]
		right, hasRight := m[GestureKey{Ear: EarRight, Type: t}]
		if !hasLeft && !hasRight {
			continue
		}
		rec := []byte{byte(t), notModify, notModify}
		if hasLeft {
			if !gestureFunctionNames.known(left) {
				return nil, invalid(c.Name(), "function 0x%02X", uint8(left))
			}
			rec[1] = byte(left)
		}
		if hasRight {
			if !gestureFunctionNames.known(right) {
				return nil, invalid(c.Name(), "function 0x%02X", uint8(right))
			}
			rec[2] = byte(right)
		}
		out = append(out, rec...)
	}
	for k := range m {
		if !gestureTypeNames.known(k.Type) {
			return nil, invalid(c.Name(), "gesture type 0x%02X", uint8(k.Type))
		}
	}
	return out, nil
}
