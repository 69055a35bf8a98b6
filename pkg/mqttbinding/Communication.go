// Package mqttbinding with the stateless session protocol over an MQTT message broker.
//
// Clients publish JSON-RPC requests on the request topic of the server binding and receive
// the responses on their own response topic. Only stateless entries are supported as a
// broker connection can't carry a server side session handle.
package mqttbinding

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/discovery"
	"github.com/wostzone/wost-session/pkg/executor"
	"github.com/wostzone/wost-session/pkg/keystore"
	"github.com/wostzone/wost-session/pkg/metrics"
	"github.com/wostzone/wost-session/pkg/rpc"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/settings"
)

// Protocol id of this binding
const Protocol = "mqtt"

// DefaultBinding is the binding name used when the connection settings have none
const DefaultBinding = "session"

// Communication implements stateless session access over MQTT
type Communication struct {
	communication.Base

	metrics *metrics.Metrics
	// Timeout of the broker connection and of each call
	Timeout time.Duration
}

// Protocol id
func (comm *Communication) Protocol() string { return Protocol }

// ShouldRetryOnFailure returns true when the broker connection was lost
func (comm *Communication) ShouldRetryOnFailure(err error) bool {
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, mqtt.ErrNotConnected)
}

// Connect is not supported, use GetStatelessEntry
func (comm *Communication) Connect(_ context.Context, _ *session.LoginInfo) (communication.RemoteEntryPoint, error) {
	return nil, fmt.Errorf("mqtt stateful session: %w", communication.ErrNotSupported)
}

// CodebaseClient returns a client that presents the keystore certificate when the
// connection uses mutual TLS, nil for a default client otherwise
func (comm *Communication) CodebaseClient(info *session.LoginInfo) (*resty.Client, error) {
	enc := info.ConnectionSettings().Encryption()
	if enc.Mode != settings.EncryptionMutualTLS {
		return nil, nil
	}
	tlsConfig, err := keystore.LoadTLSConfig(enc.KeystorePath, enc.KeystorePassword)
	if err != nil {
		return nil, err
	}
	return resty.New().SetTimeout(comm.Timeout).SetTLSClientConfig(tlsConfig), nil
}

// BrokerURL returns the broker URL of the connection settings
func BrokerURL(cs *settings.ConnectionSettings) string {
	scheme := "tcp"
	if cs.Encryption().Mode == settings.EncryptionMutualTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, cs.Address())
}

// dialStateless connects to the broker and verifies the login with the server
func (comm *Communication) dialStateless(ctx context.Context, info *session.LoginInfo) (communication.StatelessEntry, error) {
	cs, err := discovery.ResolveSettings(ctx, info.ConnectionSettings(), 0)
	if err != nil {
		return nil, err
	}
	var tlsConfig *tls.Config
	if enc := cs.Encryption(); enc.Mode == settings.EncryptionMutualTLS {
		tlsConfig, err = keystore.LoadTLSConfig(enc.KeystorePath, enc.KeystorePassword)
		if err != nil {
			return nil, err
		}
	}
	binding := cs.Binding()
	if binding == "" {
		binding = DefaultBinding
	}
	transport, err := Dial(BrokerURL(cs), binding, tlsConfig, comm.Timeout)
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

// GetStatelessEntry returns an entry whose calls reconnect and retry once when the broker connection is lost
func (comm *Communication) GetStatelessEntry(ctx context.Context, info *session.LoginInfo) (communication.StatelessEntry, error) {
	conn, err := communication.OpenStatelessConnection(ctx, info, comm.dialStateless)
	if err != nil {
		return nil, err
	}
	return executor.NewRetryingEntry(comm, conn, comm.metrics), nil
}

// Register adds the stateless transport ID of this communication to the registry
func (comm *Communication) Register(registry *communication.Registry, name string) {
	registry.Register(settings.TransportID{Protocol: Protocol, Kind: settings.KindStateless, Name: name}, comm)
}

// NewCommunication creates the MQTT communication
//  m is optional and can be nil
func NewCommunication(m *metrics.Metrics) *Communication {
	return &Communication{metrics: m, Timeout: DefaultTimeout}
}
