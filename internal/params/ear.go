package params

type Ear uint8

const (
	EarLeft Ear = iota
	EarRight
)

func (e Ear) String() string {
	if e == EarRight {
		return "right"
	}
	return "left"
}

func (e Ear) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *Ear) UnmarshalText(b []byte) error {
	switch string(b) {
	case "left":
		*e = EarLeft
	case "right":
		*e = EarRight
	default:
		return invalid("ear", "unknown name %q", b)
	}
	return nil
}

// notModify leaves one ear's setting untouched on write.
const notModify byte = 0xFF
