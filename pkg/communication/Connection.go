package communication

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// ErrNotConnected is returned when using a connection that is closed
var ErrNotConnected = errors.New("not connected")

// StatefulConnection holds the current entry point of a stateful session and can rebuild it.
// It is the connection factory used by the retrying executor.
type StatefulConnection struct {
	comm       Communication
	info       *session.LoginInfo
	entry      RemoteEntryPoint
	entryMutex sync.RWMutex
}

// Entry returns the current entry point or nil if closed
func (conn *StatefulConnection) Entry() RemoteEntryPoint {
	conn.entryMutex.RLock()
	defer conn.entryMutex.RUnlock()
	return conn.entry
}

// LoginInfo returns the login info used to (re)connect
func (conn *StatefulConnection) LoginInfo() *session.LoginInfo {
	conn.entryMutex.RLock()
	defer conn.entryMutex.RUnlock()
	return conn.info
}

// SetLoginInfo replaces the login info used on the next reconnect
func (conn *StatefulConnection) SetLoginInfo(info *session.LoginInfo) {
	conn.entryMutex.Lock()
	defer conn.entryMutex.Unlock()
	conn.info = info
}

// SessionResumer is implemented by entry points whose logged in server session can be
// attached to a new transport connection
type SessionResumer interface {
	// SessionID of the logged in session or "" if not logged in
	SessionID() string
	// Resume attaches the session to this entry point
	Resume(ctx context.Context, sessionID string) error
}

// Reconnect establishes a new connection and replaces the current entry point.
// If the previous entry point was logged in, its session is resumed on the new one.
// The previous entry point is closed without logging out.
func (conn *StatefulConnection) Reconnect(ctx context.Context) error {
	info := conn.LoginInfo()
	logrus.Infof("Reconnect: %s", info.ConnectionSettings())
	entry, err := conn.comm.Connect(ctx, info)
	if err != nil {
		return err
	}
	if prev, ok := conn.Entry().(SessionResumer); ok && prev.SessionID() != "" {
		if next, ok := entry.(SessionResumer); ok {
			if err = next.Resume(ctx, prev.SessionID()); err != nil {
				_ = entry.Close()
				return err
			}
		}
	}
	conn.entryMutex.Lock()
	old := conn.entry
	conn.entry = entry
	conn.entryMutex.Unlock()
	if old != nil {
		if err2 := old.Close(); err2 != nil {
			logrus.Warningf("Reconnect: closing previous connection failed: %s", err2)
		}
	}
	return nil
}

// Invoke forwards the call to the current entry point
func (conn *StatefulConnection) Invoke(ctx context.Context, call *Invocation) (*InvocationResult, error) {
	entry := conn.Entry()
	if entry == nil {
		return nil, ErrNotConnected
	}
	return entry.Invoke(ctx, call)
}

// ResolveType asks the current entry point for a type descriptor
func (conn *StatefulConnection) ResolveType(ctx context.Context, typeName string) (*typeresolver.Type, error) {
	entry := conn.Entry()
	if entry == nil {
		return nil, ErrNotConnected
	}
	return entry.ResolveType(ctx, typeName)
}

// Close the current entry point without logging out
func (conn *StatefulConnection) Close() error {
	conn.entryMutex.Lock()
	entry := conn.entry
	conn.entry = nil
	conn.entryMutex.Unlock()
	if entry == nil {
		return nil
	}
	return entry.Close()
}

// OpenStatefulConnection connects using the communication and returns the connection holder
func OpenStatefulConnection(ctx context.Context, comm Communication, info *session.LoginInfo) (*StatefulConnection, error) {
	entry, err := comm.Connect(ctx, info)
	if err != nil {
		return nil, err
	}
	conn := &StatefulConnection{comm: comm, info: info, entry: entry}
	// the server may have amended the login info
	if amended := entry.LoginInfo(); amended != nil {
		conn.info = amended
	}
	return conn, nil
}

// StatelessDialer obtains a raw stateless entry
type StatelessDialer func(ctx context.Context, info *session.LoginInfo) (StatelessEntry, error)

// StatelessConnection holds the current stateless entry and can rebuild it
type StatelessConnection struct {
	dial       StatelessDialer
	info       *session.LoginInfo
	entry      StatelessEntry
	entryMutex sync.RWMutex
}

func (conn *StatelessConnection) current() StatelessEntry {
	conn.entryMutex.RLock()
	defer conn.entryMutex.RUnlock()
	return conn.entry
}

// LoginInfo re-supplied with each call
func (conn *StatelessConnection) LoginInfo() *session.LoginInfo { return conn.info }

// Reconnect obtains a new stateless entry and closes the one it replaces
func (conn *StatelessConnection) Reconnect(ctx context.Context) error {
	logrus.Infof("Reconnect: stateless entry to %s", conn.info.ConnectionSettings())
	entry, err := conn.dial(ctx, conn.info)
	if err != nil {
		return err
	}
	conn.entryMutex.Lock()
	old := conn.entry
	conn.entry = entry
	conn.entryMutex.Unlock()
	if old != nil {
		if err2 := old.Close(); err2 != nil {
			logrus.Warningf("Reconnect: closing previous stateless entry failed: %s", err2)
		}
	}
	return nil
}

// Close releases the current entry. Calls after close fail with ErrNotConnected.
func (conn *StatelessConnection) Close() error {
	conn.entryMutex.Lock()
	entry := conn.entry
	conn.entry = nil
	conn.entryMutex.Unlock()
	if entry == nil {
		return nil
	}
	return entry.Close()
}

// Invoke forwards the call to the current entry. The login info is supplied if the call has none.
func (conn *StatelessConnection) Invoke(ctx context.Context, call *Invocation) (*InvocationResult, error) {
	entry := conn.current()
	if entry == nil {
		return nil, ErrNotConnected
	}
	if call.LoginInfo == nil {
		withInfo := *call
		withInfo.LoginInfo = conn.info
		call = &withInfo
	}
	return entry.Invoke(ctx, call)
}

// ResolveType asks the current entry for a type descriptor
func (conn *StatelessConnection) ResolveType(ctx context.Context, typeName string) (*typeresolver.Type, error) {
	entry := conn.current()
	if entry == nil {
		return nil, ErrNotConnected
	}
	return entry.ResolveType(ctx, typeName)
}

// Codebase declared by the server
func (conn *StatelessConnection) Codebase() string {
	entry := conn.current()
	if entry == nil {
		return ""
	}
	return entry.Codebase()
}

// OpenStatelessConnection dials the first stateless entry and returns the connection holder
func OpenStatelessConnection(ctx context.Context, info *session.LoginInfo, dial StatelessDialer) (*StatelessConnection, error) {
	conn := &StatelessConnection{dial: dial, info: info}
	if err := conn.Reconnect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}
