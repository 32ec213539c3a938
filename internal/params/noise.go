package params

import (
	"sort"

	"github.com/danmuck/earlink/internal/protocol/schema"
)

type NoiseMode uint8

const (
	NoiseOff          NoiseMode = 0x00
	NoiseOn           NoiseMode = 0x01
	NoiseTransparency NoiseMode = 0x02
)

var noiseModeNames = enum[NoiseMode]{names: map[NoiseMode]string{
	NoiseOff:          "off",
	NoiseOn:           "on",
	NoiseTransparency: "transparency",
}}

func (m NoiseMode) String() string { return noiseModeNames.name(m) }

func (m NoiseMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *NoiseMode) UnmarshalText(b []byte) error {
	v, err := noiseModeNames.parse("noise mode", string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

var noiseModes = []NoiseMode{NoiseOff, NoiseOn, NoiseTransparency}

// NoiseModeList holds the modes the noise-control gesture cycles through
// per ear. An ear missing from the map is left unmodified on write.
type NoiseModeList map[Ear][]NoiseMode

type noiseListCodec struct{}

var NoiseCancellationList Codec[NoiseModeList] = noiseListCodec{}

func (noiseListCodec) ID() uint16   { return schema.ConfigNoiseCancellationList }
func (noiseListCodec) Name() string { return "noise_cancellation_list" }
func (noiseListCodec) Length() int  { return 2 }

func (noiseListCodec) Decode(b []byte) (NoiseModeList, error) {
	return NoiseModeList{
		EarLeft:  modesFromMask(b[0]),
		EarRight: modesFromMask(b[1]),
	}, nil
}

func modesFromMask(mask byte) []NoiseMode {
	out := []NoiseMode{}
	for _, m := range noiseModes {
		if mask&(1<<m) != 0 {
			out = append(out, m)
		}
	}
	return out
}

func (c noiseListCodec) Encode(l NoiseModeList) ([]byte, error) {
	out := []byte{notModify, notModify}
	for ear, modes := range l {
		if ear > EarRight {
			return nil, invalid(c.Name(), "ear %d", ear)
		}
		var mask byte
		for _, m := range modes {
			if !noiseModeNames.known(m) {
				return nil, invalid(c.Name(), "mode 0x%02X", uint8(m))
			}
			mask |= 1 << m
		}
		out[ear] = mask
	}
	return out, nil
}

// Sorted returns the modes of ear in wire order.
func (l NoiseModeList) Sorted(ear Ear) []NoiseMode {
	modes := append([]NoiseMode(nil), l[ear]...)
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

type noiseModeCodec struct{}

// NoiseCancellationMode is the active mode as [mode, 0]; unknown values
// read back as NoiseOff.
var NoiseCancellationMode Codec[NoiseMode] = noiseModeCodec{}

func (noiseModeCodec) ID() uint16   { return schema.ConfigNoiseCancellationMode }
func (noiseModeCodec) Name() string { return "noise_cancellation_mode" }
func (noiseModeCodec) Length() int  { return 2 }

func (noiseModeCodec) Decode(b []byte) (NoiseMode, error) {
	m := NoiseMode(b[0])
	if !noiseModeNames.known(m) {
		return NoiseOff, nil
	}
	return m, nil
}

func (c noiseModeCodec) Encode(m NoiseMode) ([]byte, error) {
	if !noiseModeNames.known(m) {
		return nil, invalid(c.Name(), "mode 0x%02X", uint8(m))
	}
	return []byte{byte(m), 0x00}, nil
}
