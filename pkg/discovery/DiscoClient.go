package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/settings"
)

// DefaultDiscoveryTimeout is the time to wait for a server to answer a discovery request
const DefaultDiscoveryTimeout = 3 * time.Second

// ParamBinding is the discovery parameter with the binding name of the server endpoint
const ParamBinding = "binding"

// ErrNotDiscovered is returned when no server answered within the timeout
var ErrNotDiscovered = errors.New("no server discovered")

// DiscoveredServer is a server found on the local network
type DiscoveredServer struct {
	Instance string
	Address  string
	Port     int
	Params   map[string]string
}

// DiscoverServer searches the local network for a server with the given service name.
// The first server that answers is returned.
//  serviceName is the discover name the server was published with
//  timeout to wait for an answer. 0 for DefaultDiscoveryTimeout
func DiscoverServer(ctx context.Context, serviceName string, timeout time.Duration) (*DiscoveredServer, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("DiscoverServer: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	err = resolver.Browse(ctx, ServiceType(serviceName), "local.", entries)
	if err != nil {
		return nil, fmt.Errorf("DiscoverServer: %w", err)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				// browsing ended, wait for the timeout
				entries = nil
				continue
			}
			server := toDiscoveredServer(entry)
			if server.Address == "" {
				continue
			}
			logrus.Infof("DiscoverServer: found '%s' at %s:%d", server.Instance, server.Address, server.Port)
			return server, nil
		case <-ctx.Done():
			logrus.Warningf("DiscoverServer: no '%s' server found", serviceName)
			return nil, ErrNotDiscovered
		}
	}
}

func toDiscoveredServer(entry *zeroconf.ServiceEntry) *DiscoveredServer {
	server := &DiscoveredServer{
		Instance: entry.Instance,
		Port:     entry.Port,
		Params:   make(map[string]string),
	}
	if len(entry.AddrIPv4) > 0 {
		server.Address = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		server.Address = entry.AddrIPv6[0].String()
	}
	for _, txt := range entry.Text {
		kv := strings.SplitN(txt, "=", 2)
		if len(kv) == 2 {
			server.Params[kv[0]] = kv[1]
		}
	}
	return server
}

// ResolveSettings returns the connection settings with the host and port of a discovered server.
// Settings that don't request discovery are returned as-is.
func ResolveSettings(ctx context.Context, cs *settings.ConnectionSettings, timeout time.Duration) (*settings.ConnectionSettings, error) {
	if !cs.NeedsDiscovery() {
		return cs, nil
	}
	server, err := DiscoverServer(ctx, cs.DiscoveryService(), timeout)
	if err != nil {
		return nil, err
	}
	return cs.WithHostPort(server.Address, server.Port)
}
