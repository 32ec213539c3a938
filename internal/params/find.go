package params

import "github.com/danmuck/earlink/internal/protocol/schema"

// FindEarbudsState is the find-my-earbuds chirp setting.
type FindEarbudsState struct {
	Enabled bool  `json:"enabled"`
	Ears    []Ear `json:"ears"`
}

type findCodec struct{}

var FindEarbuds Codec[FindEarbudsState] = findCodec{}

func (findCodec) ID() uint16   { return schema.ConfigFindEarbuds }
func (findCodec) Name() string { return "find_earbuds" }
func (findCodec) Length() int  { return 2 }

func earMask(e Ear) byte { return 1 << e }

func (c findCodec) Decode(b []byte) (FindEarbudsState, error) {
	var s FindEarbudsState
	switch b[0] {
	case 0x01:
		s.Enabled = true
	case 0x00:
	default:
		return FindEarbudsState{}, invalid(c.Name(), "type 0x%02X", b[0])
	}
	s.Ears = []Ear{}
	for _, e := range []Ear{EarLeft, EarRight} {
		if b[1]&earMask(e) != 0 {
			s.Ears = append(s.Ears, e)
		}
	}
	return s, nil
}

func (c findCodec) Encode(s FindEarbudsState) ([]byte, error) {
	out := []byte{0x00, 0x00}
	if s.Enabled {
		out[0] = 0x01
	}
	for _, e := range s.Ears {
		if e > EarRight {
			return nil, invalid(c.Name(), "ear %d", e)
		}
		out[1] |= earMask(e)
	}
	return out, nil
}
