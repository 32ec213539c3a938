package params

import "github.com/danmuck/earlink/internal/protocol/schema"

type EqualizerMode uint8

const (
	EqualizerDefault      EqualizerMode = 0x00
	EqualizerVocalEnhance EqualizerMode = 0x01
	EqualizerBassBoost    EqualizerMode = 0x05
	EqualizerTrebleBoost  EqualizerMode = 0x06
	EqualizerVolumeBoost  EqualizerMode = 0x07
	EqualizerHarman       EqualizerMode = 0x14
	EqualizerHarmanMaster EqualizerMode = 0x15
)

var equalizerNames = enum[EqualizerMode]{names: map[EqualizerMode]string{
	EqualizerDefault:      "default",
	EqualizerVocalEnhance: "vocal_enhance",
	EqualizerBassBoost:    "bass_boost",
	EqualizerTrebleBoost:  "treble_boost",
	EqualizerVolumeBoost:  "volume_boost",
	EqualizerHarman:       "harman",
	EqualizerHarmanMaster: "harman_master",
}}

// EqualizerModes lists every mode in wire order.
func EqualizerModes() []EqualizerMode {
	return []EqualizerMode{
		EqualizerDefault, EqualizerVocalEnhance, EqualizerBassBoost,
		EqualizerTrebleBoost, EqualizerVolumeBoost, EqualizerHarman, EqualizerHarmanMaster,
	}
}

func (m EqualizerMode) String() string { return equalizerNames.name(m) }

func (m EqualizerMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *EqualizerMode) UnmarshalText(b []byte) error {
	v, err := equalizerNames.parse("equalizer mode", string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

type equalizerCodec struct{}

// Equalizer is a one-byte mode; unknown values read back as
// EqualizerDefault.
var Equalizer Codec[EqualizerMode] = equalizerCodec{}

func (equalizerCodec) ID() uint16   { return schema.ConfigEqualizerMode }
func (equalizerCodec) Name() string { return "equalizer" }
func (equalizerCodec) Length() int  { return 1 }

func (equalizerCodec) Decode(b []byte) (EqualizerMode, error) {
	m := EqualizerMode(b[0])
	if !equalizerNames.known(m) {
		return EqualizerDefault, nil
	}
	return m, nil
}

func (c equalizerCodec) Encode(m EqualizerMode) ([]byte, error) {
	if !equalizerNames.known(m) {
		return nil, invalid(c.Name(), "mode 0x%02X", uint8(m))
	}
	return []byte{byte(m)}, nil
}
