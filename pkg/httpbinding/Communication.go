// Package httpbinding with the session protocol as JSON-RPC over HTTP(S).
//
// The client side is a Communication that supports both stateful sessions and stateless
// entries. The server side exposes a remoteserver backend on a gorilla/mux router.
package httpbinding

import (
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/discovery"
	"github.com/wostzone/wost-session/pkg/executor"
	"github.com/wostzone/wost-session/pkg/metrics"
	"github.com/wostzone/wost-session/pkg/rpc"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/settings"
)

// Protocol id of this binding
const Protocol = "http"

// DefaultBinding is the binding name used when the connection settings have none
const DefaultBinding = "session"

// Communication implements the session protocol over HTTP
type Communication struct {
	communication.Base

	metrics *metrics.Metrics
	// DiscoveryTimeout is the time to wait for a server when the settings request discovery
	DiscoveryTimeout time.Duration
}

// Protocol id
func (comm *Communication) Protocol() string { return Protocol }

// ShouldRetryOnFailure returns true for errors that a new connection can resolve:
// a handle the server no longer knows, a dropped connection or an unavailable server.
func (comm *Communication) ShouldRetryOnFailure(err error) bool {
	if err == nil {
		return false
	}
	if communication.HasRemoteCode(err, communication.CodeStaleHandle) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, ErrServerUnavailable)
}

// newTransport creates the transport for the connection settings, discovering the server if needed
func (comm *Communication) newTransport(ctx context.Context, cs *settings.ConnectionSettings) (*Transport, error) {
	cs, err := discovery.ResolveSettings(ctx, cs, comm.DiscoveryTimeout)
	if err != nil {
		return nil, err
	}
	client, err := NewRestyClient(cs)
	if err != nil {
		return nil, err
	}
	return NewTransport(client, BaseURL(cs)), nil
}

// CodebaseClient returns a client with the TLS and proxy settings of the connection,
// so types can be fetched from a codebase served on the mutual TLS listener
func (comm *Communication) CodebaseClient(info *session.LoginInfo) (*resty.Client, error) {
	return NewRestyClient(info.ConnectionSettings())
}

// Connect establishes a stateful session
func (comm *Communication) Connect(ctx context.Context, info *session.LoginInfo) (communication.RemoteEntryPoint, error) {
	transport, err := comm.newTransport(ctx, info.ConnectionSettings())
	if err != nil {
		return nil, err
	}
	entry, err := rpc.Connect(ctx, transport, info)
	if err != nil {
		_ = transport.Close()
		logrus.Warningf("Connect: to '%s' failed: %s", transport.Endpoint(), err)
		return nil, err
	}
	return entry, nil
}

// dialStateless obtains a raw stateless entry
func (comm *Communication) dialStateless(ctx context.Context, info *session.LoginInfo) (communication.StatelessEntry, error) {
	transport, err := comm.newTransport(ctx, info.ConnectionSettings())
	if err != nil {
		return nil, err
	}
	entry, err := rpc.ConnectStateless(ctx, transport, info)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}
	return entry, nil
}

// GetStatelessEntry returns an entry whose calls reconnect and retry once on transient failures
func (comm *Communication) GetStatelessEntry(ctx context.Context, info *session.LoginInfo) (communication.StatelessEntry, error) {
	conn, err := communication.OpenStatelessConnection(ctx, info, comm.dialStateless)
	if err != nil {
		return nil, err
	}
	return executor.NewRetryingEntry(comm, conn, comm.metrics), nil
}

// Register adds the stateful and stateless transport IDs of this communication to the registry
//  name of the transport, eg the server binding
func (comm *Communication) Register(registry *communication.Registry, name string) {
	registry.Register(settings.TransportID{Protocol: Protocol, Kind: settings.KindStateful, Name: name}, comm)
	registry.Register(settings.TransportID{Protocol: Protocol, Kind: settings.KindStateless, Name: name}, comm)
}

// NewCommunication creates the HTTP communication
//  m is optional and can be nil
func NewCommunication(m *metrics.Metrics) *Communication {
	return &Communication{metrics: m, DiscoveryTimeout: discovery.DefaultDiscoveryTimeout}
}
