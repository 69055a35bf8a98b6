package rpc

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// Transport carries a JSON-RPC call to the server and decodes its result.
// A server side error is returned as a *communication.RemoteError.
type Transport interface {
	Call(ctx context.Context, method string, params any, result any) error
	Close() error
}

// StatefulEntry is the client side entry point of a stateful session over a JSON-RPC transport
type StatefulEntry struct {
	transport Transport
	info      *session.LoginInfo
	handle    string
	codebase  string
	sessionID string
	mutex     sync.RWMutex
}

// Handle of the connection on the server
func (entry *StatefulEntry) Handle() string { return entry.handle }

// LoginInfo as amended by the server
func (entry *StatefulEntry) LoginInfo() *session.LoginInfo { return entry.info }

// Codebase declared by the server
func (entry *StatefulEntry) Codebase() string { return entry.codebase }

// SessionID of the logged in session or ""
func (entry *StatefulEntry) SessionID() string {
	entry.mutex.RLock()
	defer entry.mutex.RUnlock()
	return entry.sessionID
}

func (entry *StatefulEntry) setSessionID(sessionID string) {
	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	entry.sessionID = sessionID
}

// Invoke a service method on the server
func (entry *StatefulEntry) Invoke(ctx context.Context, call *communication.Invocation) (*communication.InvocationResult, error) {
	params, err := NewInvokeParams(entry.handle, call)
	if err != nil {
		return nil, err
	}
	result := &communication.InvocationResult{}
	err = entry.transport.Call(ctx, MethodInvoke, params, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveType asks the server for the type descriptor
func (entry *StatefulEntry) ResolveType(ctx context.Context, typeName string) (*typeresolver.Type, error) {
	return resolveType(ctx, entry.transport, typeName)
}

// GenerateSecretEntry exchanges the credential of the connection for a one-time secret
func (entry *StatefulEntry) GenerateSecretEntry(ctx context.Context, info *session.LoginInfo) (*session.SecretEntry, error) {
	result := SecretResult{}
	err := entry.transport.Call(ctx, MethodGenerateSecret, &HandleParams{Handle: entry.handle}, &result)
	if err != nil {
		return nil, err
	}
	return session.NewSecretEntry(info.AuthenticationEntry().UserName(), result.Secret), nil
}

// ApplicableContexts returns the contexts the user of the connection may choose from
func (entry *StatefulEntry) ApplicableContexts(ctx context.Context, _ *session.LoginInfo) ([]session.ContextSelection, error) {
	result := ContextsResult{}
	err := entry.transport.Call(ctx, MethodContexts, &HandleParams{Handle: entry.handle}, &result)
	return result.Contexts, err
}

// Login with the final login info
func (entry *StatefulEntry) Login(ctx context.Context, info *session.LoginInfo) (*communication.LoginResult, error) {
	payload, err := info.Payload()
	if err != nil {
		return nil, err
	}
	result := &communication.LoginResult{}
	err = entry.transport.Call(ctx, MethodLogin, &LoginParams{Handle: entry.handle, Login: payload}, result)
	if err != nil {
		return nil, err
	}
	entry.setSessionID(result.SessionID)
	return result, nil
}

// Resume attaches an existing session to this connection
func (entry *StatefulEntry) Resume(ctx context.Context, sessionID string) error {
	err := entry.transport.Call(ctx, MethodResume, &ResumeParams{Handle: entry.handle, SessionID: sessionID}, nil)
	if err == nil {
		entry.setSessionID(sessionID)
	}
	return err
}

// Services returns the service registry of the server
func (entry *StatefulEntry) Services(ctx context.Context) ([]communication.ServiceDescriptor, error) {
	result := ServicesResult{}
	err := entry.transport.Call(ctx, MethodServices, &HandleParams{Handle: entry.handle}, &result)
	return result.Services, err
}

// MainUIDefinition returns the main menus and toolbars
func (entry *StatefulEntry) MainUIDefinition(ctx context.Context) (*communication.UIDefinition, error) {
	result := &communication.UIDefinition{}
	err := entry.transport.Call(ctx, MethodMainUI, &HandleParams{Handle: entry.handle}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Logout ends the session
func (entry *StatefulEntry) Logout(ctx context.Context) error {
	err := entry.transport.Call(ctx, MethodLogout, &HandleParams{Handle: entry.handle}, nil)
	entry.setSessionID("")
	return err
}

// Close releases the connection handle without logging out
func (entry *StatefulEntry) Close() error {
	err := entry.transport.Call(context.Background(), MethodClose, &HandleParams{Handle: entry.handle}, nil)
	if err != nil {
		logrus.Debugf("StatefulEntry.Close: %s", err)
	}
	return entry.transport.Close()
}

// Connect opens a stateful connection over the transport
func Connect(ctx context.Context, transport Transport, info *session.LoginInfo) (*StatefulEntry, error) {
	payload, err := info.Payload()
	if err != nil {
		return nil, err
	}
	result := ConnectResult{}
	if err = transport.Call(ctx, MethodConnect, &ConnectParams{Login: payload}, &result); err != nil {
		return nil, err
	}
	entry := &StatefulEntry{
		transport: transport,
		info:      info,
		handle:    result.Handle,
		codebase:  result.Codebase,
	}
	if result.Address != "" && result.Address != info.Address() {
		entry.info = info.WithAddress(result.Address)
	}
	logrus.Infof("Connect: connected with handle '%s'", entry.handle)
	return entry, nil
}

// StatelessEntry is the client side entry for per-call interaction over a JSON-RPC transport
type StatelessEntry struct {
	transport Transport
	codebase  string
}

// Invoke a service method. The call must carry the login info.
func (entry *StatelessEntry) Invoke(ctx context.Context, call *communication.Invocation) (*communication.InvocationResult, error) {
	params, err := NewInvokeParams("", call)
	if err != nil {
		return nil, err
	}
	result := &communication.InvocationResult{}
	err = entry.transport.Call(ctx, MethodInvokeStateless, params, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveType asks the server for the type descriptor
func (entry *StatelessEntry) ResolveType(ctx context.Context, typeName string) (*typeresolver.Type, error) {
	return resolveType(ctx, entry.transport, typeName)
}

// Codebase declared by the server
func (entry *StatelessEntry) Codebase() string { return entry.codebase }

// Close releases the transport
func (entry *StatelessEntry) Close() error {
	return entry.transport.Close()
}

// ConnectStateless verifies the login info with the server and returns a stateless entry
func ConnectStateless(ctx context.Context, transport Transport, info *session.LoginInfo) (*StatelessEntry, error) {
	payload, err := info.Payload()
	if err != nil {
		return nil, err
	}
	result := ConnectResult{}
	if err = transport.Call(ctx, MethodStatelessConnect, &ConnectParams{Login: payload}, &result); err != nil {
		return nil, err
	}
	return &StatelessEntry{transport: transport, codebase: result.Codebase}, nil
}

func resolveType(ctx context.Context, transport Transport, typeName string) (*typeresolver.Type, error) {
	t := &typeresolver.Type{}
	err := transport.Call(ctx, MethodResolveType, &ResolveTypeParams{Name: typeName}, t)
	if communication.HasRemoteCode(err, communication.CodeTypeNotFound) {
		return nil, typeresolver.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return t, nil
}
