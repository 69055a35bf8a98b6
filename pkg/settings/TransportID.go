// Package settings with the immutable connection settings used to reach a session server
package settings

import "fmt"

// SessionKind identifies whether a transport keeps server-side session state
type SessionKind string

const (
	// KindStateful is a connection-bound session that requires explicit connect, login and logout
	KindStateful SessionKind = "stateful"
	// KindStateless is a per-call interaction where each call supplies its own credentials
	KindStateless SessionKind = "stateless"
)

// TransportID is the (protocol, session-kind, name) triple used to look up a Communication
type TransportID struct {
	Protocol string
	Kind     SessionKind
	Name     string
}

// String returns the "protocol/kind/name" representation of the ID
func (id TransportID) String() string {
	return fmt.Sprintf("%s/%s/%s", id.Protocol, id.Kind, id.Name)
}
