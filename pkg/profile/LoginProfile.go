// Package profile with the local store of login profiles
package profile

import (
	"time"

	"github.com/wostzone/wost-session/pkg/session"
)

// LoginProfile holds what the client remembers about logging in to a server
type LoginProfile struct {
	// Name of the profile, unique within the store
	Name string `yaml:"name"`

	// Protocol to connect with, eg "http"
	Protocol string `yaml:"protocol"`

	// Host and Port of the server. Host "" to use discovery.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Binding name on the server
	Binding string `yaml:"binding,omitempty"`

	// LoginName of the user
	LoginName string `yaml:"loginName"`

	// Context selected on the last login, used to skip the context selection
	Context session.ContextSelection `yaml:"context,omitempty"`

	// CorrelationID last issued by the server
	CorrelationID string `yaml:"correlationId,omitempty"`

	// Mandatory makes a failure to persist this profile abort the login
	Mandatory bool `yaml:"mandatory,omitempty"`

	// LastLogin time of the last successful login
	LastLogin time.Time `yaml:"lastLogin,omitempty"`
}

// HasContext returns true if the profile remembers a context selection
func (p *LoginProfile) HasContext() bool {
	return !p.Context.IsEmpty()
}
