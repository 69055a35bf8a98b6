// Package discovery to publish and discover session servers on the local network
package discovery

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

// ErrNoServiceName is returned when a server is announced without a discovery name
var ErrNoServiceName = errors.New("missing discovery service name")

// Announcement is a session server published on the local network.
// Discovery requests are answered until Shutdown is called.
type Announcement struct {
	Instance    string
	ServiceName string
	Host        string
	IPs         []string
	Port        int
	Params      map[string]string

	server *zeroconf.Server
}

// Shutdown stops answering discovery requests
func (ann *Announcement) Shutdown() {
	if ann.server != nil {
		ann.server.Shutdown()
		ann.server = nil
	}
	logrus.Infof("Announcement.Shutdown: '%s' is no longer announced", ann.Instance)
}

// AnnounceServer publishes how the session server is reached, for use by DiscoverServer.
// The server is registered with DNS-SD under ServiceType(serviceName) in the local domain.
//  instanceID is the unique ID of the server instance
//  serviceName is the discover name. For example "wost-session"
//  address is the listening IP address or a resolvable host name
//  port the server listens on
//  params are published as key=value text records, for example {binding:session}
func AnnounceServer(instanceID string, serviceName string, address string, port int,
	params map[string]string) (*Announcement, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("AnnounceServer '%s': %w", instanceID, ErrNoServiceName)
	}
	host, ips, err := resolveAddress(address)
	if err != nil {
		return nil, fmt.Errorf("AnnounceServer '%s': %w", instanceID, err)
	}
	ifaces, err := GetInterfaces(ips[0])
	if err != nil || len(ifaces) == 0 {
		// zeroconf falls back to all multicast interfaces
		logrus.Warningf("AnnounceServer: no interface carries %s", ips[0])
		ifaces = nil
	}
	ann := &Announcement{
		Instance:    instanceID,
		ServiceName: serviceName,
		Host:        host,
		IPs:         ips,
		Port:        port,
		Params:      params,
	}
	ann.server, err = zeroconf.RegisterProxy(instanceID, ServiceType(serviceName), "local.",
		port, host, ips, textRecords(params), ifaces)
	if err != nil {
		return nil, fmt.Errorf("AnnounceServer '%s': %w", instanceID, err)
	}
	logrus.Infof("AnnounceServer: '%s' announced as %s on %s:%d", instanceID, ServiceType(serviceName), ips[0], port)
	return ann, nil
}

// resolveAddress returns the host name and IP addresses to publish for the address.
// An IP address is published with the name of this host.
func resolveAddress(address string) (string, []string, error) {
	if net.ParseIP(address) != nil {
		hostname, _ := os.Hostname()
		return hostname, []string{address}, nil
	}
	resolved, err := net.LookupIP(address)
	if err != nil {
		return "", nil, err
	}
	if len(resolved) == 0 {
		return "", nil, fmt.Errorf("'%s' has no IP address", address)
	}
	ips := make([]string, 0, len(resolved))
	for _, ip := range resolved {
		ips = append(ips, ip.String())
	}
	return address, ips, nil
}

// textRecords returns the params as sorted key=value records
func textRecords(params map[string]string) []string {
	records := make([]string, 0, len(params))
	for key, value := range params {
		records = append(records, key+"="+value)
	}
	sort.Strings(records)
	return records
}

// ServiceType returns the DNS-SD service type of the discovery service name
func ServiceType(serviceName string) string {
	return fmt.Sprintf("_%s._tcp", serviceName)
}

// GetInterfaces returns the network interfaces that carry the given IP address
func GetInterfaces(ipAddr string) ([]net.Interface, error) {
	ip := net.ParseIP(ipAddr)
	if ip == nil {
		return nil, fmt.Errorf("GetInterfaces: '%s' is not an IP address", ipAddr)
	}
	result := make([]net.Interface, 0)
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				result = append(result, iface)
				break
			}
		}
	}
	return result, nil
}

// GetOutboundIP returns the IP address used to reach the outside world, "127.0.0.1" if offline.
// No connection is made; UDP dial only selects the route.
func GetOutboundIP() string {
	conn, err := net.Dial("udp", "1.1.1.1:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
