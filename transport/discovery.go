package transport

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_meshswitch._tcp"

// DiscoveredHub is a mesh hub found on the local network.
type DiscoveredHub struct {
	Name       string
	Address    string
	Port       int
	Net        string
	TXTRecords []string
}

func (h DiscoveredHub) URL() string {
	return "ws://" + net.JoinHostPort(h.Address, strconv.Itoa(h.Port)) + "/mesh"
}

// Serves reports whether the hub relays netName. A hub that advertises no
// network relays every one.
func (h DiscoveredHub) Serves(netName string) bool {
	return h.Net == "" || h.Net == netName
}

// HubFromEntry reads a hub from an mDNS answer, or nil when it has no IPv4 address.
func HubFromEntry(entry *mdns.ServiceEntry) *DiscoveredHub {
	if entry.AddrV4 == nil {
		return nil
	}
	return &DiscoveredHub{
		Name:       entry.Name,
		Address:    entry.AddrV4.String(),
		Port:       entry.Port,
		Net:        txtValue(entry.InfoFields, "net"),
		TXTRecords: entry.InfoFields,
	}
}

func txtValue(fields []string, key string) string {
	for _, f := range fields {
		if v, ok := strings.CutPrefix(f, key+"="); ok {
			return v
		}
	}
	return ""
}

// Discover looks up hubs over mDNS and returns the first one serving netName.
func Discover(netName string, timeout time.Duration) (*DiscoveredHub, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	go func() {
		defer close(entriesCh)
		params := mdns.DefaultParams(ServiceType)
		params.Entries = entriesCh
		params.Timeout = timeout
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "service", ServiceType, "error", err)
		}
	}()

	deadline := time.After(timeout)
	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				return nil, fmt.Errorf("no %s hub found for net %q", ServiceType, netName)
			}
			hub := HubFromEntry(entry)
			if hub == nil {
				continue
			}
			if !hub.Serves(netName) {
				slog.Debug("Skipping hub of other mesh", "name", hub.Name, "net", hub.Net)
				continue
			}
			slog.Info("Discovered mesh hub", "name", hub.Name, "address", hub.Address, "port", hub.Port, "net", hub.Net)
			return hub, nil

		case <-deadline:
			return nil, fmt.Errorf("mDNS discovery timeout for %s", ServiceType)
		}
	}
}
