// Package discovery advertises the admin API on the local network over
// mDNS and finds other earlink daemons.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/earlink/internal/logging"
	"github.com/hashicorp/mdns"
)

const DefaultService = "_earlink._tcp"

var ErrInvalidAdvert = errors.New("discovery: invalid advertisement")

type Advert struct {
	Instance string
	Service  string
	Port     int
	// IPs are looked up from the host name when empty.
	IPs     []net.IP
	Version string
}

// Zone builds the mDNS records for a.
func (a Advert) Zone() (*mdns.MDNSService, error) {
	if strings.TrimSpace(a.Instance) == "" || a.Port <= 0 || a.Port > 65535 {
		return nil, fmt.Errorf("%w: instance=%q port=%d", ErrInvalidAdvert, a.Instance, a.Port)
	}
	service := a.Service
	if service == "" {
		service = DefaultService
	}
	txt := []string{"path=/", "events=/events"}
	if a.Version != "" {
		txt = append(txt, "version="+a.Version)
	}
	return mdns.NewMDNSService(a.Instance, service, "", "", a.Port, a.IPs, txt)
}

// Advertise answers mDNS queries for a until ctx ends.
func Advertise(ctx context.Context, a Advert) error {
	zone, err := a.Zone()
	if err != nil {
		return err
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return fmt.Errorf("discovery: start responder: %w", err)
	}
	log := logging.Component("discovery")
	log.Info().Str("instance", a.Instance).Str("service", zone.Service).Int("port", a.Port).Msg("discovery: advertising")
	<-ctx.Done()
	if err := srv.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("discovery: responder shutdown")
	}
	return nil
}

type Peer struct {
	Name   string   `json:"name"`
	Host   string   `json:"host"`
	Addr   string   `json:"addr"`
	Port   int      `json:"port"`
	Fields []string `json:"fields,omitempty"`
}

// URL is the base admin URL of p.
func (p Peer) URL() string {
	return "http://" + net.JoinHostPort(p.Addr, fmt.Sprint(p.Port))
}

// Browse collects the daemons that answer within timeout.
func Browse(service string, timeout time.Duration) ([]Peer, error) {
	if service == "" {
		service = DefaultService
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []Peer, 1)
	go func() {
		var peers []Peer
		for e := range entries {
			if p, ok := peerFromEntry(e); ok {
				peers = append(peers, p)
			}
		}
		done <- peers
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	peers := <-done
	if err != nil {
		return peers, fmt.Errorf("discovery: query %s: %w", service, err)
	}
	return peers, nil
}

func peerFromEntry(e *mdns.ServiceEntry) (Peer, bool) {
	if e == nil {
		return Peer{}, false
	}
	var addr string
	switch {
	case e.AddrV4 != nil:
		addr = e.AddrV4.String()
	case e.AddrV6 != nil:
		addr = e.AddrV6.String()
	default:
		return Peer{}, false
	}
	return Peer{
		Name:   e.Name,
		Host:   e.Host,
		Addr:   addr,
		Port:   e.Port,
		Fields: e.InfoFields,
	}, true
}
