package earbuds

// Placement is where one earbud currently sits.
type Placement int

const (
	Outside Placement = iota
	InCase
	InEar
)

func (p Placement) String() string {
	switch p {
	case InEar:
		return "in_ear"
	case InCase:
		return "in_case"
	default:
		return "outside"
	}
}

func (p Placement) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Status bits of the in-ear state byte, two per ear.
const (
	leftInEar   = 1 << 3
	rightInEar  = 1 << 2
	leftInCase  = 1 << 1
	rightInCase = 1 << 0
)

// InEarState is the decoded placement of both earbuds.
type InEarState struct {
	Left  Placement `json:"left"`
	Right Placement `json:"right"`
}

// DecodeInEar decodes the in-ear status byte. In-ear wins over in-case.
func DecodeInEar(b byte) InEarState {
	return InEarState{
		Left:  placement(b, leftInEar, leftInCase),
		Right: placement(b, rightInEar, rightInCase),
	}
}

func placement(b, inEar, inCase byte) Placement {
	switch {
	case b&inEar != 0:
		return InEar
	case b&inCase != 0:
		return InCase
	default:
		return Outside
	}
}

// Encode is the inverse of DecodeInEar.
func (s InEarState) Encode() byte {
	var b byte
	switch s.Left {
	case InEar:
		b |= leftInEar
	case InCase:
		b |= leftInCase
	}
	switch s.Right {
	case InEar:
		b |= rightInEar
	case InCase:
		b |= rightInCase
	}
	return b
}
