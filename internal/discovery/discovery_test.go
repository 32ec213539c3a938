package discovery

import (
	"errors"
	"net"
	"slices"
	"testing"

	"github.com/danmuck/earlink/internal/testutil/testlog"
	"github.com/hashicorp/mdns"
)

func TestAdvertZone(t *testing.T) {
	testlog.Start(t)
	a := Advert{
		Instance: "earlink-test",
		Port:     8420,
		IPs:      []net.IP{net.ParseIP("127.0.0.1")},
		Version:  "0.1.0",
	}
	zone, err := a.Zone()
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	if zone.Service != DefaultService || zone.Port != 8420 {
		t.Fatalf("unexpected zone service=%q port=%d", zone.Service, zone.Port)
	}
	if !slices.Contains(zone.TXT, "version=0.1.0") {
		t.Fatalf("version missing from txt %v", zone.TXT)
	}
}

func TestAdvertZoneRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	for _, a := range []Advert{
		{Instance: "", Port: 8420},
		{Instance: "x", Port: 0},
		{Instance: "x", Port: 70000},
	} {
		if _, err := a.Zone(); !errors.Is(err, ErrInvalidAdvert) {
			t.Fatalf("advert %+v: expected ErrInvalidAdvert, got %v", a, err)
		}
	}
}

func TestPeerFromEntry(t *testing.T) {
	testlog.Start(t)
	if _, ok := peerFromEntry(&mdns.ServiceEntry{Name: "no-addr"}); ok {
		t.Fatalf("entry without address should be skipped")
	}
	p, ok := peerFromEntry(&mdns.ServiceEntry{
		Name:   "earlink-test._earlink._tcp.local.",
		Host:   "box.local.",
		AddrV4: net.ParseIP("192.168.1.20"),
		Port:   8420,
	})
	if !ok {
		t.Fatalf("entry with address should map to a peer")
	}
	if p.URL() != "http://192.168.1.20:8420" {
		t.Fatalf("unexpected url %s", p.URL())
	}
}
