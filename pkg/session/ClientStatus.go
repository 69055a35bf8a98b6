package session

// ClientStatus is the position of the client in the connect->login->ready lifecycle.
// The values are ordered.
type ClientStatus int

const (
	StatusNotConnected ClientStatus = iota
	StatusConnected
	StatusContextsAvailable
	StatusLoggedIn
	StatusRunning
)

var statusNames = map[ClientStatus]string{
	StatusNotConnected:      "NOT_CONNECTED",
	StatusConnected:         "CONNECTED",
	StatusContextsAvailable: "CONTEXTS_AVAILABLE",
	StatusLoggedIn:          "LOGGED_IN",
	StatusRunning:           "RUNNING",
}

func (s ClientStatus) String() string {
	name, found := statusNames[s]
	if !found {
		return "UNKNOWN"
	}
	return name
}

// AtLeast returns true if this status is the given status or further along
func (s ClientStatus) AtLeast(other ClientStatus) bool {
	return s >= other
}
