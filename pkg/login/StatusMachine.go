package login

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/metrics"
	"github.com/wostzone/wost-session/pkg/session"
)

// StatusListener is notified after a status change
type StatusListener func(from session.ClientStatus, to session.ClientStatus)

// forward transitions of the login sequence. Any status can be reset to NOT_CONNECTED.
var statusTransitions = map[session.ClientStatus]session.ClientStatus{
	session.StatusNotConnected:      session.StatusConnected,
	session.StatusConnected:         session.StatusContextsAvailable,
	session.StatusContextsAvailable: session.StatusLoggedIn,
	session.StatusLoggedIn:          session.StatusRunning,
}

// StatusMachine holds the client status and the current session.
// The session is only available from LOGGED_IN onwards.
type StatusMachine struct {
	status    session.ClientStatus
	session   *session.Session
	listeners []StatusListener
	metrics   *metrics.Metrics

	// statusMutex for safe concurrent access to status, session and listeners
	statusMutex sync.RWMutex
}

// Status returns the current client status
func (sm *StatusMachine) Status() session.ClientStatus {
	sm.statusMutex.RLock()
	defer sm.statusMutex.RUnlock()
	return sm.status
}

// Session returns the current session or nil if not logged in
func (sm *StatusMachine) Session() *session.Session {
	sm.statusMutex.RLock()
	defer sm.statusMutex.RUnlock()
	return sm.session
}

// AddListener adds a listener for status changes
func (sm *StatusMachine) AddListener(listener StatusListener) {
	sm.statusMutex.Lock()
	defer sm.statusMutex.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// Advance moves the status one step forward.
// This fails if the current status isn't the expected one.
//  from is the status the client must be in
//  to must be the status that follows it
func (sm *StatusMachine) Advance(from session.ClientStatus, to session.ClientStatus) error {
	sm.statusMutex.Lock()
	if sm.status != from || statusTransitions[from] != to {
		current := sm.status
		sm.statusMutex.Unlock()
		return fmt.Errorf("illegal status transition %s -> %s while %s", from, to, current)
	}
	listeners := sm.change(to)
	sm.statusMutex.Unlock()
	sm.notify(listeners, from, to)
	return nil
}

// LoggedIn moves from CONTEXTS_AVAILABLE to LOGGED_IN with the new session
func (sm *StatusMachine) LoggedIn(s *session.Session) error {
	if s == nil {
		return fmt.Errorf("logged in without a session")
	}
	sm.statusMutex.Lock()
	from := sm.status
	if from != session.StatusContextsAvailable {
		sm.statusMutex.Unlock()
		return fmt.Errorf("illegal status transition %s -> %s", from, session.StatusLoggedIn)
	}
	sm.session = s
	listeners := sm.change(session.StatusLoggedIn)
	sm.statusMutex.Unlock()
	sm.notify(listeners, from, session.StatusLoggedIn)
	return nil
}

// Reset forces the status to NOT_CONNECTED and drops the session
func (sm *StatusMachine) Reset() {
	sm.statusMutex.Lock()
	from := sm.status
	sm.session = nil
	if from == session.StatusNotConnected {
		sm.statusMutex.Unlock()
		return
	}
	listeners := sm.change(session.StatusNotConnected)
	sm.statusMutex.Unlock()
	sm.notify(listeners, from, session.StatusNotConnected)
}

// change sets the status and returns the listeners to notify. The lock must be held.
func (sm *StatusMachine) change(to session.ClientStatus) []StatusListener {
	logrus.Infof("StatusMachine: %s -> %s", sm.status, to)
	sm.metrics.SetClientStatus(sm.status.String(), to.String(), int(to))
	sm.status = to
	return append([]StatusListener(nil), sm.listeners...)
}

func (sm *StatusMachine) notify(listeners []StatusListener, from, to session.ClientStatus) {
	for _, listener := range listeners {
		listener(from, to)
	}
}

// NewStatusMachine creates a status machine in NOT_CONNECTED
//  m is optional and can be nil
func NewStatusMachine(m *metrics.Metrics) *StatusMachine {
	sm := &StatusMachine{
		status:  session.StatusNotConnected,
		metrics: m,
	}
	return sm
}
