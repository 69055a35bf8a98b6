package session

import (
	"errors"
	"time"

	"github.com/wostzone/wost-session/pkg/settings"
)

// DeploymentKind of the client
type DeploymentKind string

const (
	// DeploymentOffline for console or offline clients
	DeploymentOffline DeploymentKind = "offline"
	// DeploymentManaged for interactive clients installed by a managed deployment
	DeploymentManaged DeploymentKind = "managed"
)

// ClientIdentity identifies the client component that logs in
type ClientIdentity struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Version    string            `json:"version" yaml:"version"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
	Platform   string            `json:"platform,omitempty" yaml:"platform,omitempty"`
	Deployment DeploymentKind    `json:"deployment,omitempty" yaml:"deployment,omitempty"`
}

func (ci ClientIdentity) clone() ClientIdentity {
	if ci.Properties != nil {
		props := make(map[string]string, len(ci.Properties))
		for k, v := range ci.Properties {
			props[k] = v
		}
		ci.Properties = props
	}
	return ci
}

// ContextSelection is the application context the user works in
type ContextSelection struct {
	ApplicationContext string    `json:"context" yaml:"context"`
	Locale             string    `json:"locale" yaml:"locale"`
	DateContext        time.Time `json:"date" yaml:"date"`
}

// IsEmpty returns true if no application context is selected
func (cs ContextSelection) IsEmpty() bool {
	return cs.ApplicationContext == ""
}

// LoginInfo describes who logs in, in which context, with which credential and over which connection.
// LoginInfo is immutable. The With... methods return a new instance.
type LoginInfo struct {
	identity      ClientIdentity
	context       ContextSelection
	entry         AuthenticationEntry
	connection    *settings.ConnectionSettings
	address       string
	correlationID string
}

// Identity of the client. The properties map is a copy.
func (li *LoginInfo) Identity() ClientIdentity { return li.identity.clone() }

// Context selected for this login
func (li *LoginInfo) Context() ContextSelection { return li.context }

// AuthenticationEntry with the credential
func (li *LoginInfo) AuthenticationEntry() AuthenticationEntry { return li.entry }

// ConnectionSettings used to reach the server
func (li *LoginInfo) ConnectionSettings() *settings.ConnectionSettings { return li.connection }

// Address is the originating network address of the client
func (li *LoginInfo) Address() string { return li.address }

// CorrelationID is the client-UI correlation id last issued by the server
func (li *LoginInfo) CorrelationID() string { return li.correlationID }

func (li *LoginInfo) clone() *LoginInfo {
	clone := *li
	clone.identity = li.identity.clone()
	return &clone
}

// WithAuthenticationEntry returns a copy using the given credential
func (li *LoginInfo) WithAuthenticationEntry(entry AuthenticationEntry) *LoginInfo {
	clone := li.clone()
	clone.entry = entry
	return clone
}

// WithContext returns a copy using the given context selection
func (li *LoginInfo) WithContext(context ContextSelection) *LoginInfo {
	clone := li.clone()
	clone.context = context
	return clone
}

// WithConnectionSettings returns a copy using the given connection settings
func (li *LoginInfo) WithConnectionSettings(connection *settings.ConnectionSettings) *LoginInfo {
	clone := li.clone()
	clone.connection = connection
	return clone
}

// WithAddress returns a copy with the given originating address
func (li *LoginInfo) WithAddress(address string) *LoginInfo {
	clone := li.clone()
	clone.address = address
	return clone
}

// WithCorrelationID returns a copy with the given correlation id
func (li *LoginInfo) WithCorrelationID(correlationID string) *LoginInfo {
	clone := li.clone()
	clone.correlationID = correlationID
	return clone
}

// CreateLoginInfo validates and constructs a new LoginInfo
//
//  identity of the client component. The ID is required.
//  context selection, which can be empty until the user has chosen one
//  entry with the credential. Required.
//  connection settings. Required.
//  address of the client, or "" if not known
func CreateLoginInfo(identity ClientIdentity, context ContextSelection,
	entry AuthenticationEntry, connection *settings.ConnectionSettings, address string) (*LoginInfo, error) {

	if identity.ID == "" {
		return nil, errors.New("login info: client identity ID is required")
	}
	if entry == nil {
		return nil, errors.New("login info: authentication entry is required")
	}
	if connection == nil {
		return nil, errors.New("login info: connection settings are required")
	}
	li := &LoginInfo{
		identity:   identity.clone(),
		context:    context,
		entry:      entry,
		connection: connection,
		address:    address,
	}
	return li, nil
}

// LoginPayload is the wire representation of a LoginInfo
type LoginPayload struct {
	Identity      ClientIdentity   `json:"identity"`
	Context       ContextSelection `json:"context"`
	Entry         *EntryPayload    `json:"entry"`
	Address       string           `json:"address,omitempty"`
	CorrelationID string           `json:"correlationId,omitempty"`
}

// Payload returns the wire representation. This fails if the credential was cleared.
func (li *LoginInfo) Payload() (*LoginPayload, error) {
	entry, err := EncodeEntry(li.entry)
	if err != nil {
		return nil, err
	}
	return &LoginPayload{
		Identity:      li.Identity(),
		Context:       li.context,
		Entry:         entry,
		Address:       li.address,
		CorrelationID: li.correlationID,
	}, nil
}
