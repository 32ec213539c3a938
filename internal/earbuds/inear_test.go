package earbuds

import "testing"

func TestDecodeInEar(t *testing.T) {
	cases := []struct {
		raw   byte
		left  Placement
		right Placement
	}{
		{raw: 0x00, left: Outside, right: Outside},
		{raw: 0x0C, left: InEar, right: InEar},
		{raw: 0x03, left: InCase, right: InCase},
		{raw: 0x09, left: InEar, right: InCase},
		{raw: 0x0A, left: InEar, right: Outside},
		{raw: 0x04, left: Outside, right: InEar},
	}
	for _, tc := range cases {
		got := DecodeInEar(tc.raw)
		if got.Left != tc.left || got.Right != tc.right {
			t.Fatalf("DecodeInEar(0x%02X) got=%+v", tc.raw, got)
		}
	}
}

func TestInEarEncodeRoundTrip(t *testing.T) {
	for _, l := range []Placement{Outside, InCase, InEar} {
		for _, r := range []Placement{Outside, InCase, InEar} {
			s := InEarState{Left: l, Right: r}
			if got := DecodeInEar(s.Encode()); got != s {
				t.Fatalf("round trip mismatch: in=%+v out=%+v", s, got)
			}
		}
	}
	if InEar.String() != "in_ear" || Outside.String() != "outside" {
		t.Fatalf("unexpected placement names")
	}
}
