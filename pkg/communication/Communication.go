// Package communication with the transport-agnostic session abstraction.
//
// A Communication implements one protocol. It establishes stateful sessions (Connect),
// obtains stateless entry points (GetStatelessEntry), builds client-side proxies that forward
// calls through an Executor, and classifies errors as reconnect-eligible or fatal.
package communication

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/settings"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// LoginResult is returned by the server on a successful login
type LoginResult struct {
	SessionID     string    `json:"sessionId"`
	User          string    `json:"user"`
	LoginTime     time.Time `json:"loginTime"`
	Transient     bool      `json:"transient"`
	CorrelationID string    `json:"correlationId"`
}

// Session creates the client side session record for this login result
func (lr *LoginResult) Session(info *session.LoginInfo) (*session.Session, error) {
	return session.CreateSession(lr.SessionID, lr.User, info, lr.LoginTime, lr.Transient)
}

// ServiceDescriptor describes a service offered by the server
type ServiceDescriptor struct {
	// Name the service is registered under
	Name string `json:"name"`
	// Interfaces implemented by the service
	Interfaces []string `json:"interfaces"`
	// Shared services also have a client-local instance that is bridged with the remote one
	Shared bool `json:"shared,omitempty"`
}

// MenuItem of a menu or toolbar
type MenuItem struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Action string `json:"action,omitempty"`
}

// MenuDefinition is a named group of items
type MenuDefinition struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Items []MenuItem `json:"items"`
}

// UIDefinition is the server-declared main UI scaffold
type UIDefinition struct {
	Title    string           `json:"title"`
	Menus    []MenuDefinition `json:"menus"`
	Toolbars []MenuDefinition `json:"toolbars"`
}

// StatelessEntry is a handle for per-call interaction. Each invocation carries its own LoginInfo.
type StatelessEntry interface {
	Invoker
	// ResolveType asks the server for a type descriptor. This is the remote channel of the resolver chain.
	ResolveType(ctx context.Context, typeName string) (*typeresolver.Type, error)
	// Codebase is the server-declared codebase URL or ""
	Codebase() string
	// Close releases the transport resources. A stateful entry is not logged out.
	Close() error
}

// RemoteEntryPoint is the handle of a stateful session through which server-side services are obtained
type RemoteEntryPoint interface {
	StatelessEntry
	// LoginInfo as possibly amended by the server on connect
	LoginInfo() *session.LoginInfo
	// GenerateSecretEntry exchanges the raw credential for a one-time secret token
	GenerateSecretEntry(ctx context.Context, info *session.LoginInfo) (*session.SecretEntry, error)
	// ApplicableContexts returns the contexts the user may choose from
	ApplicableContexts(ctx context.Context, info *session.LoginInfo) ([]session.ContextSelection, error)
	// Login performs the actual login with the finalized LoginInfo
	Login(ctx context.Context, info *session.LoginInfo) (*LoginResult, error)
	// Services returns the server service registry
	Services(ctx context.Context) ([]ServiceDescriptor, error)
	// MainUIDefinition returns the main menus and toolbars
	MainUIDefinition(ctx context.Context) (*UIDefinition, error)
	// Logout ends the server session
	Logout(ctx context.Context) error
}

// Communication is the protocol abstraction over a remote session
type Communication interface {
	FailureClassifier

	// Protocol id this communication implements
	Protocol() string

	// Connect establishes a stateful session
	Connect(ctx context.Context, info *session.LoginInfo) (RemoteEntryPoint, error)

	// GetStatelessEntry obtains a handle for per-call interaction.
	// Calls made through the handle reconnect and retry once on transient failures.
	GetStatelessEntry(ctx context.Context, info *session.LoginInfo) (StatelessEntry, error)

	// CodebaseClient returns the http client that fetches types from the server codebase,
	// configured with the TLS and proxy settings of the login info. nil for a default client.
	CodebaseClient(info *session.LoginInfo) (*resty.Client, error)

	// CreateStatefulProxy returns a proxy whose calls are forwarded to the executor
	CreateStatefulProxy(executor Executor, env *Environment, service string, interfaces []*typeresolver.Type) *Proxy

	// CreateStatelessProxy returns a proxy whose calls re-supply the login info
	CreateStatelessProxy(executor Executor, env *Environment, service string,
		interfaces []*typeresolver.Type, info *session.LoginInfo) *Proxy
}

// Base implements the protocol independent parts of a Communication.
// Protocol implementations embed it and override ShouldRetryOnFailure.
type Base struct{}

// ShouldRetryOnFailure default policy is to not retry
func (b *Base) ShouldRetryOnFailure(err error) bool {
	return false
}

// CodebaseClient default is a plain http client
func (b *Base) CodebaseClient(_ *session.LoginInfo) (*resty.Client, error) {
	return nil, nil
}

// NewResolverChain creates the resolver chain of one connection of the communication.
// The codebase loader uses the client of comm.CodebaseClient. If that client can't be
// created the codebase is fetched with a default client.
//  channel asks the connected server for types
//  codebase URL declared by the server, "" if none
//  localTypes are the types compiled into the client, resolved last
func NewResolverChain(comm Communication, info *session.LoginInfo, channel typeresolver.RemoteChannel,
	codebase string, localTypes ...*typeresolver.Type) *typeresolver.Chain {
	var client *resty.Client
	if codebase != "" && info != nil {
		var err error
		client, err = comm.CodebaseClient(info)
		if err != nil {
			logrus.Warningf("NewResolverChain: no codebase client for '%s': %s", codebase, err)
			client = nil
		}
	}
	return typeresolver.NewConnectionChain(channel, codebase, client, localTypes...)
}

// CreateStatefulProxy returns a proxy for a stateful session
func (b *Base) CreateStatefulProxy(executor Executor, env *Environment,
	service string, interfaces []*typeresolver.Type) *Proxy {
	return newProxy(executor, env, service, interfaces, nil)
}

// CreateStatelessProxy returns a proxy for a stateless entry
func (b *Base) CreateStatelessProxy(executor Executor, env *Environment,
	service string, interfaces []*typeresolver.Type, info *session.LoginInfo) *Proxy {
	return newProxy(executor, env, service, interfaces, info)
}

// Registry of Communication implementations by transport ID
type Registry struct {
	comms      map[settings.TransportID]Communication
	commsMutex sync.RWMutex
}

// Register adds a communication under the given ID, replacing any existing one
func (reg *Registry) Register(id settings.TransportID, comm Communication) {
	reg.commsMutex.Lock()
	defer reg.commsMutex.Unlock()
	reg.comms[id] = comm
}

// Lookup returns the communication for the ID or nil if not registered
func (reg *Registry) Lookup(id settings.TransportID) Communication {
	reg.commsMutex.RLock()
	defer reg.commsMutex.RUnlock()
	return reg.comms[id]
}

// NewRegistry creates an empty transport registry
func NewRegistry() *Registry {
	return &Registry{comms: make(map[settings.TransportID]Communication)}
}
