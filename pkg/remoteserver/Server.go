// Package remoteserver with an in-memory session server backend.
//
// The server authenticates users by password or by a one-time secret, offers the contexts
// each user may work in, keeps logged in sessions and dispatches service calls to the
// registered service hosts. Transport bindings call Dispatch with decoded JSON-RPC requests.
package remoteserver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/rpc"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// User account known to the server
type User struct {
	Name     string
	Password string
	// Contexts the user may log in to
	Contexts []session.ContextSelection
	// Transient marks the sessions of this user as transient
	Transient bool
}

// mayUse returns true if the user may work in the application context
func (user *User) mayUse(applicationContext string) bool {
	for _, c := range user.Contexts {
		if c.ApplicationContext == applicationContext {
			return true
		}
	}
	return false
}

// connectionHandle is the server side state of a stateful client connection
type connectionHandle struct {
	user      string
	address   string
	sessionID string
	created   time.Time
}

// serverSession is a logged in session
type serverSession struct {
	id            string
	user          string
	context       session.ContextSelection
	correlationID string
	loginTime     time.Time
	transient     bool
}

// Server is the in-memory session server
type Server struct {
	secrets *SecretIssuer

	users    map[string]*User
	types    map[string]*typeresolver.Type
	hosts    map[string]*ServiceHost
	mainUI   *communication.UIDefinition
	codebase string

	handles  map[string]*connectionHandle
	sessions map[string]*serverSession
	// correlation ids issued by this server
	correlationIDs map[string]bool
	// consumed secret id to the session it logged in
	secretSessions map[string]string

	// mutex guarding all maps above
	serverMutex sync.RWMutex
}

// AddUser adds or replaces a user account
func (srv *Server) AddUser(user User) {
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	srv.users[user.Name] = &user
}

// AddTypes makes the interface types resolvable by clients
func (srv *Server) AddTypes(types ...*typeresolver.Type) {
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	for _, t := range types {
		srv.types[t.Name] = t
	}
}

// LookupType returns the type with the given name
func (srv *Server) LookupType(name string) (*typeresolver.Type, bool) {
	srv.serverMutex.RLock()
	defer srv.serverMutex.RUnlock()
	t, found := srv.types[name]
	return t, found
}

// RegisterService adds a service host. The interfaces of the host must be known types.
func (srv *Server) RegisterService(host *ServiceHost) error {
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	for _, iface := range host.Descriptor.Interfaces {
		if _, found := srv.types[iface]; !found {
			return communication.NewRemoteError(communication.CodeTypeNotFound,
				"service '%s': unknown interface '%s'", host.Descriptor.Name, iface)
		}
	}
	srv.hosts[host.Descriptor.Name] = host
	return nil
}

// SetMainUI sets the UI definition returned to logged in clients
func (srv *Server) SetMainUI(def *communication.UIDefinition) {
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	srv.mainUI = def
}

// SetCodebase sets the codebase URL announced to clients. "" for none.
func (srv *Server) SetCodebase(codebase string) {
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	srv.codebase = codebase
}

// Codebase URL announced to clients
func (srv *Server) Codebase() string {
	srv.serverMutex.RLock()
	defer srv.serverMutex.RUnlock()
	return srv.codebase
}

// SessionCount returns the number of logged in sessions
func (srv *Server) SessionCount() int {
	srv.serverMutex.RLock()
	defer srv.serverMutex.RUnlock()
	return len(srv.sessions)
}

// Restart drops all connection handles, as a server restart would.
// Logged in sessions survive and can be resumed on a new connection.
func (srv *Server) Restart() {
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	logrus.Infof("Restart: dropping %d connection handles", len(srv.handles))
	srv.handles = make(map[string]*connectionHandle)
}

// authenticate checks the credential of the payload and returns the user.
// A secret is verified but not consumed.
//  resuming accepts an expired secret that logged in a session which is still alive
func (srv *Server) authenticate(payload *session.LoginPayload, resuming bool) (*User, *communication.RemoteError) {
	if payload == nil || payload.Entry == nil {
		return nil, communication.NewRemoteError(communication.CodeInvalidParams, "missing login")
	}
	srv.serverMutex.RLock()
	user, found := srv.users[payload.Entry.UserName]
	srv.serverMutex.RUnlock()
	if !found {
		return nil, communication.NewRemoteError(communication.CodeAuthFailed, "authentication failed")
	}
	switch payload.Entry.Kind {
	case session.EntryKindPassword:
		if payload.Entry.Password != user.Password {
			return nil, communication.NewRemoteError(communication.CodeAuthFailed, "authentication failed")
		}
	case session.EntryKindSecret:
		claims, err := srv.secrets.Verify(user.Name, payload.Entry.Secret)
		if err != nil && resuming && errors.Is(err, ErrSecretExpired) && srv.hasLiveSession(claims.Id) {
			logrus.Infof("authenticate: expired secret '%s' of user '%s' accepted to resume its session",
				claims.Id, user.Name)
			err = nil
		}
		if err != nil {
			logrus.Infof("authenticate: secret of user '%s' rejected: %s", user.Name, err)
			return nil, communication.NewRemoteError(communication.CodeAuthFailed, "authentication failed")
		}
	default:
		return nil, communication.NewRemoteError(communication.CodeAuthFailed,
			"unsupported credential '%s'", payload.Entry.Kind)
	}
	return user, nil
}

// hasLiveSession returns true if the consumed secret logged in a session that has not ended
func (srv *Server) hasLiveSession(secretID string) bool {
	srv.serverMutex.RLock()
	defer srv.serverMutex.RUnlock()
	sessionID, found := srv.secretSessions[secretID]
	if !found {
		return false
	}
	_, found = srv.sessions[sessionID]
	return found
}

// getHandle returns the handle or a stale handle error
func (srv *Server) getHandle(handle string) (*connectionHandle, *communication.RemoteError) {
	srv.serverMutex.RLock()
	defer srv.serverMutex.RUnlock()
	h, found := srv.handles[handle]
	if !found {
		return nil, communication.NewRemoteError(communication.CodeStaleHandle, "unknown connection handle")
	}
	return h, nil
}

// getSession returns the session of the handle or a not logged in error
func (srv *Server) getSession(handle string) (*connectionHandle, *serverSession, *communication.RemoteError) {
	h, rpcErr := srv.getHandle(handle)
	if rpcErr != nil {
		return nil, nil, rpcErr
	}
	srv.serverMutex.RLock()
	defer srv.serverMutex.RUnlock()
	sess, found := srv.sessions[h.sessionID]
	if !found {
		return h, nil, communication.NewRemoteError(communication.CodeNotLoggedIn, "not logged in")
	}
	return h, sess, nil
}

// Connect authenticates the client and opens a connection handle
//  payload with the login info of the client
//  remoteAddr is the network address the request came from
func (srv *Server) Connect(payload *session.LoginPayload, remoteAddr string) (*rpc.ConnectResult, *communication.RemoteError) {
	user, rpcErr := srv.authenticate(payload, true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	address := payload.Address
	if address == "" {
		address = remoteAddr
	}
	handle := uuid.NewString()
	srv.serverMutex.Lock()
	srv.handles[handle] = &connectionHandle{user: user.Name, address: address, created: time.Now()}
	codebase := srv.codebase
	srv.serverMutex.Unlock()
	logrus.Infof("Connect: user '%s' connected from '%s'", user.Name, address)
	return &rpc.ConnectResult{Handle: handle, Address: address, Codebase: codebase}, nil
}

// StatelessConnect authenticates the client without opening a handle
func (srv *Server) StatelessConnect(payload *session.LoginPayload) (*rpc.ConnectResult, *communication.RemoteError) {
	if _, rpcErr := srv.authenticate(payload, false); rpcErr != nil {
		return nil, rpcErr
	}
	return &rpc.ConnectResult{Codebase: srv.Codebase()}, nil
}

// GenerateSecret issues a one-time secret for the user of the handle
func (srv *Server) GenerateSecret(handle string) (*rpc.SecretResult, *communication.RemoteError) {
	h, rpcErr := srv.getHandle(handle)
	if rpcErr != nil {
		return nil, rpcErr
	}
	secret, err := srv.secrets.Issue(h.user)
	if err != nil {
		return nil, communication.NewRemoteError(communication.CodeInternalError, "issuing secret failed: %s", err)
	}
	return &rpc.SecretResult{Secret: secret}, nil
}

// ApplicableContexts returns the contexts of the user of the handle
func (srv *Server) ApplicableContexts(handle string) (*rpc.ContextsResult, *communication.RemoteError) {
	h, rpcErr := srv.getHandle(handle)
	if rpcErr != nil {
		return nil, rpcErr
	}
	srv.serverMutex.RLock()
	defer srv.serverMutex.RUnlock()
	user := srv.users[h.user]
	contexts := make([]session.ContextSelection, 0)
	if user != nil {
		contexts = append(contexts, user.Contexts...)
	}
	return &rpc.ContextsResult{Contexts: contexts}, nil
}

// Login creates a session for the handle.
// A secret credential is consumed and cannot be used for a second login.
// A correlation id issued earlier by this server is kept, any other is replaced.
func (srv *Server) Login(handle string, payload *session.LoginPayload) (*communication.LoginResult, *communication.RemoteError) {
	h, rpcErr := srv.getHandle(handle)
	if rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := srv.authenticate(payload, false)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if user.Name != h.user {
		return nil, communication.NewRemoteError(communication.CodeAuthFailed, "login user differs from connection user")
	}
	if !user.mayUse(payload.Context.ApplicationContext) {
		return nil, communication.NewRemoteError(communication.CodeContextForbidden,
			"user '%s' may not use context '%s'", user.Name, payload.Context.ApplicationContext)
	}
	secretID := ""
	if payload.Entry.Kind == session.EntryKindSecret {
		id, err := srv.secrets.Consume(user.Name, payload.Entry.Secret)
		if err != nil {
			return nil, communication.NewRemoteError(communication.CodeAuthFailed, "%s", err)
		}
		secretID = id
	}
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	correlationID := payload.CorrelationID
	if !srv.correlationIDs[correlationID] {
		correlationID = uuid.NewString()
		srv.correlationIDs[correlationID] = true
	}
	sess := &serverSession{
		id:            uuid.NewString(),
		user:          user.Name,
		context:       payload.Context,
		correlationID: correlationID,
		loginTime:     time.Now(),
		transient:     user.Transient,
	}
	srv.sessions[sess.id] = sess
	if secretID != "" {
		srv.secretSessions[secretID] = sess.id
	}
	h.sessionID = sess.id
	logrus.Infof("Login: user '%s' logged in to context '%s' with session '%s'",
		user.Name, sess.context.ApplicationContext, sess.id)
	return &communication.LoginResult{
		SessionID:     sess.id,
		User:          sess.user,
		LoginTime:     sess.loginTime,
		Transient:     sess.transient,
		CorrelationID: sess.correlationID,
	}, nil
}

// Resume attaches an existing session of the same user to the handle
func (srv *Server) Resume(handle string, sessionID string) *communication.RemoteError {
	h, rpcErr := srv.getHandle(handle)
	if rpcErr != nil {
		return rpcErr
	}
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	sess, found := srv.sessions[sessionID]
	if !found || sess.user != h.user {
		return communication.NewRemoteError(communication.CodeNotLoggedIn, "session '%s' can't be resumed", sessionID)
	}
	h.sessionID = sessionID
	logrus.Infof("Resume: session '%s' of user '%s' resumed", sessionID, h.user)
	return nil
}

// Services returns the descriptors of the registered services, sorted by name
func (srv *Server) Services(handle string) (*rpc.ServicesResult, *communication.RemoteError) {
	if _, _, rpcErr := srv.getSession(handle); rpcErr != nil {
		return nil, rpcErr
	}
	srv.serverMutex.RLock()
	defer srv.serverMutex.RUnlock()
	result := &rpc.ServicesResult{Services: make([]communication.ServiceDescriptor, 0, len(srv.hosts))}
	for _, host := range srv.hosts {
		result.Services = append(result.Services, host.Descriptor)
	}
	sort.Slice(result.Services, func(i, j int) bool {
		return result.Services[i].Name < result.Services[j].Name
	})
	return result, nil
}

// MainUI returns the main UI definition
func (srv *Server) MainUI(handle string) (*communication.UIDefinition, *communication.RemoteError) {
	if _, _, rpcErr := srv.getSession(handle); rpcErr != nil {
		return nil, rpcErr
	}
	srv.serverMutex.RLock()
	defer srv.serverMutex.RUnlock()
	if srv.mainUI == nil {
		return &communication.UIDefinition{}, nil
	}
	return srv.mainUI, nil
}

// Logout ends the session of the handle. The handle stays open.
func (srv *Server) Logout(handle string) *communication.RemoteError {
	h, sess, rpcErr := srv.getSession(handle)
	if rpcErr != nil {
		return rpcErr
	}
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	delete(srv.sessions, sess.id)
	for _, other := range srv.handles {
		if other.sessionID == sess.id {
			other.sessionID = ""
		}
	}
	for secretID, sessionID := range srv.secretSessions {
		if sessionID == sess.id {
			delete(srv.secretSessions, secretID)
		}
	}
	logrus.Infof("Logout: session '%s' of user '%s' ended", sess.id, h.user)
	return nil
}

// Close releases the handle. Closing an unknown handle is not an error.
func (srv *Server) Close(handle string) {
	srv.serverMutex.Lock()
	defer srv.serverMutex.Unlock()
	delete(srv.handles, handle)
}

// Invoke a service method on behalf of the session of the handle
func (srv *Server) Invoke(ctx context.Context, params *rpc.InvokeParams) (*communication.InvocationResult, *communication.RemoteError) {
	h, sess, rpcErr := srv.getSession(params.Handle)
	if rpcErr != nil {
		return nil, rpcErr
	}
	call := &Call{
		User:      h.user,
		SessionID: sess.id,
		Context:   sess.context.ApplicationContext,
		Interface: params.Interface,
		Method:    params.Method,
		Args:      params.Args,
	}
	return srv.invokeService(ctx, params.Service, call)
}

// InvokeStateless authenticates the login carried by the call and invokes the service method
func (srv *Server) InvokeStateless(ctx context.Context, params *rpc.InvokeParams) (*communication.InvocationResult, *communication.RemoteError) {
	user, rpcErr := srv.authenticate(params.Login, false)
	if rpcErr != nil {
		return nil, rpcErr
	}
	applicationContext := params.Login.Context.ApplicationContext
	if applicationContext != "" && !user.mayUse(applicationContext) {
		return nil, communication.NewRemoteError(communication.CodeContextForbidden,
			"user '%s' may not use context '%s'", user.Name, applicationContext)
	}
	call := &Call{
		User:      user.Name,
		Context:   applicationContext,
		Interface: params.Interface,
		Method:    params.Method,
		Args:      params.Args,
	}
	return srv.invokeService(ctx, params.Service, call)
}

func (srv *Server) invokeService(ctx context.Context, service string, call *Call) (*communication.InvocationResult, *communication.RemoteError) {
	srv.serverMutex.RLock()
	host, found := srv.hosts[service]
	srv.serverMutex.RUnlock()
	if !found {
		return nil, communication.NewRemoteError(communication.CodeServiceNotFound, "service '%s' not found", service)
	}
	result, rpcErr := host.invoke(ctx, call)
	if rpcErr != nil {
		logrus.Infof("Invoke: %s/%s.%s failed: %s", service, call.Interface, call.Method, rpcErr)
	}
	return result, rpcErr
}

// ResolveType returns the type descriptor
func (srv *Server) ResolveType(name string) (*typeresolver.Type, *communication.RemoteError) {
	t, found := srv.LookupType(name)
	if !found {
		return nil, communication.NewRemoteError(communication.CodeTypeNotFound, "type '%s' not found", name)
	}
	return t, nil
}

// NewServer creates an empty server
//  secretValidity is the validity of one-time secrets, 0 for DefaultSecretValidity
func NewServer(secretValidity time.Duration) *Server {
	return &Server{
		secrets:        NewSecretIssuer(secretValidity),
		users:          make(map[string]*User),
		types:          make(map[string]*typeresolver.Type),
		hosts:          make(map[string]*ServiceHost),
		handles:        make(map[string]*connectionHandle),
		sessions:       make(map[string]*serverSession),
		correlationIDs: make(map[string]bool),
		secretSessions: make(map[string]string),
	}
}
