package remoteserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/logging"
	"github.com/wostzone/wost-session/pkg/remoteserver"
	"github.com/wostzone/wost-session/pkg/rpc"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/settings"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

const testUser = "alice"
const testPassword = "secret123"

var echoType = &typeresolver.Type{Name: "demo.Echo", Methods: []string{"echo", "fail"}}

// TestMain sets logging
func TestMain(m *testing.M) {
	logging.SetLogging("info", "")
	os.Exit(m.Run())
}

func createTestServer(t *testing.T) *remoteserver.Server {
	return createServer(t, 0)
}

func createServer(t *testing.T, secretValidity time.Duration) *remoteserver.Server {
	srv := remoteserver.NewServer(secretValidity)
	srv.AddUser(remoteserver.User{
		Name:     testUser,
		Password: testPassword,
		Contexts: []session.ContextSelection{{ApplicationContext: "sales", Locale: "en"}},
	})
	srv.AddTypes(echoType)
	srv.SetMainUI(&communication.UIDefinition{Title: "demo"})
	host := remoteserver.NewServiceHost("echo", false, echoType)
	err := host.HandleValue(echoType, "echo", func(ctx context.Context, call *remoteserver.Call) (any, error) {
		var text string
		err := call.Arg(0, &text)
		return call.User + ":" + text, err
	})
	require.NoError(t, err)
	err = host.HandleValue(echoType, "fail", func(ctx context.Context, call *remoteserver.Call) (any, error) {
		return nil, errors.New("failing on purpose")
	})
	require.NoError(t, err)
	require.NoError(t, srv.RegisterService(host))
	return srv
}

func createLoginInfo(t *testing.T, entry session.AuthenticationEntry) *session.LoginInfo {
	cs, err := settings.CreateConnectionSettings("http", "localhost", 8443)
	require.NoError(t, err)
	info, err := session.CreateLoginInfo(session.ClientIdentity{ID: "test-client"},
		session.ContextSelection{}, entry, cs, "")
	require.NoError(t, err)
	return info
}

func TestLoginWithSecret(t *testing.T) {
	logrus.Infof("--- TestLoginWithSecret ---")
	ctx := context.Background()
	srv := createTestServer(t)
	info := createLoginInfo(t, session.NewPasswordEntry(testUser, testPassword))

	// step 1 connect with the password
	entry, err := rpc.Connect(ctx, remoteserver.NewLoopbackTransport(srv, "10.0.0.5"), info)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.Handle())
	assert.Equal(t, "10.0.0.5", entry.LoginInfo().Address())

	// step 2 exchange it for a secret
	secretEntry, err := entry.GenerateSecretEntry(ctx, info)
	require.NoError(t, err)
	expires, ok := secretEntry.ExpiresAt()
	assert.True(t, ok)
	assert.True(t, expires.After(time.Now()))

	// step 3 contexts and login
	contexts, err := entry.ApplicableContexts(ctx, info)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	loginInfo := info.WithAuthenticationEntry(secretEntry).WithContext(contexts[0])
	result, err := entry.Login(ctx, loginInfo)
	require.NoError(t, err)
	assert.Equal(t, testUser, result.User)
	assert.NotEmpty(t, result.SessionID)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Equal(t, result.SessionID, entry.SessionID())
	assert.Equal(t, 1, srv.SessionCount())

	// step 4 a second login with the same secret fails
	_, err = entry.Login(ctx, loginInfo)
	assert.True(t, communication.IsAuthenticationFailure(err))

	// step 5 services, ui and calls
	services, err := entry.Services(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "echo", services[0].Name)
	ui, err := entry.MainUIDefinition(ctx)
	require.NoError(t, err)
	assert.Equal(t, "demo", ui.Title)

	res, err := entry.Invoke(ctx, &communication.Invocation{
		Service: "echo", Interface: echoType.Name, Method: "echo", Args: []any{"hi"}})
	require.NoError(t, err)
	var text string
	require.NoError(t, json.Unmarshal(res.Value, &text))
	assert.Equal(t, "alice:hi", text)

	_, err = entry.Invoke(ctx, &communication.Invocation{
		Service: "echo", Interface: echoType.Name, Method: "fail"})
	assert.True(t, communication.HasRemoteCode(err, communication.CodeServiceFailed))

	// step 6 logout and close
	err = entry.Logout(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, srv.SessionCount())
	_, err = entry.Services(ctx)
	assert.True(t, communication.HasRemoteCode(err, communication.CodeNotLoggedIn))
	assert.NoError(t, entry.Close())
}

func TestWrongPassword(t *testing.T) {
	logrus.Infof("--- TestWrongPassword ---")
	srv := createTestServer(t)
	info := createLoginInfo(t, session.NewPasswordEntry(testUser, "wrong"))
	_, err := rpc.Connect(context.Background(), remoteserver.NewLoopbackTransport(srv, ""), info)
	assert.True(t, communication.IsAuthenticationFailure(err))

	info = createLoginInfo(t, session.NewPasswordEntry("bob", testPassword))
	_, err = rpc.Connect(context.Background(), remoteserver.NewLoopbackTransport(srv, ""), info)
	assert.True(t, communication.IsAuthenticationFailure(err))
}

func TestForbiddenContext(t *testing.T) {
	logrus.Infof("--- TestForbiddenContext ---")
	ctx := context.Background()
	srv := createTestServer(t)
	info := createLoginInfo(t, session.NewPasswordEntry(testUser, testPassword))
	entry, err := rpc.Connect(ctx, remoteserver.NewLoopbackTransport(srv, ""), info)
	require.NoError(t, err)

	_, err = entry.Login(ctx, info.WithContext(session.ContextSelection{ApplicationContext: "finance"}))
	assert.True(t, communication.HasRemoteCode(err, communication.CodeContextForbidden))
	assert.Equal(t, 0, srv.SessionCount())
}

func TestCorrelationID(t *testing.T) {
	logrus.Infof("--- TestCorrelationID ---")
	ctx := context.Background()
	srv := createTestServer(t)
	info := createLoginInfo(t, session.NewPasswordEntry(testUser, testPassword)).
		WithContext(session.ContextSelection{ApplicationContext: "sales"}).
		WithCorrelationID("made-up")

	entry, err := rpc.Connect(ctx, remoteserver.NewLoopbackTransport(srv, ""), info)
	require.NoError(t, err)
	first, err := entry.Login(ctx, info)
	require.NoError(t, err)
	assert.NotEqual(t, "made-up", first.CorrelationID)

	// an issued id is kept
	second, err := entry.Login(ctx, info.WithCorrelationID(first.CorrelationID))
	require.NoError(t, err)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestRestartAndResume(t *testing.T) {
	logrus.Infof("--- TestRestartAndResume ---")
	ctx := context.Background()
	srv := createTestServer(t)
	info := createLoginInfo(t, session.NewPasswordEntry(testUser, testPassword)).
		WithContext(session.ContextSelection{ApplicationContext: "sales"})
	entry, err := rpc.Connect(ctx, remoteserver.NewLoopbackTransport(srv, ""), info)
	require.NoError(t, err)
	result, err := entry.Login(ctx, info)
	require.NoError(t, err)

	srv.Restart()
	_, err = entry.Services(ctx)
	assert.True(t, communication.HasRemoteCode(err, communication.CodeStaleHandle))

	entry2, err := rpc.Connect(ctx, remoteserver.NewLoopbackTransport(srv, ""), info)
	require.NoError(t, err)
	err = entry2.Resume(ctx, result.SessionID)
	require.NoError(t, err)
	services, err := entry2.Services(ctx)
	assert.NoError(t, err)
	assert.Len(t, services, 1)

	err = entry2.Resume(ctx, "not-a-session")
	assert.True(t, communication.HasRemoteCode(err, communication.CodeNotLoggedIn))
}

func TestResumeWithExpiredSecret(t *testing.T) {
	logrus.Infof("--- TestResumeWithExpiredSecret ---")
	ctx := context.Background()
	srv := createServer(t, time.Second)
	info := createLoginInfo(t, session.NewPasswordEntry(testUser, testPassword)).
		WithContext(session.ContextSelection{ApplicationContext: "sales"})

	// step 1 login with a secret
	entry, err := rpc.Connect(ctx, remoteserver.NewLoopbackTransport(srv, ""), info)
	require.NoError(t, err)
	secretEntry, err := entry.GenerateSecretEntry(ctx, info)
	require.NoError(t, err)
	secretInfo := info.WithAuthenticationEntry(secretEntry)
	result, err := entry.Login(ctx, secretInfo)
	require.NoError(t, err)

	// step 2 after the secret expired the session is resumed on a new connection
	time.Sleep(2100 * time.Millisecond)
	srv.Restart()
	entry2, err := rpc.Connect(ctx, remoteserver.NewLoopbackTransport(srv, ""), secretInfo)
	require.NoError(t, err)
	require.NoError(t, entry2.Resume(ctx, result.SessionID))
	_, err = entry2.Services(ctx)
	assert.NoError(t, err)

	// step 3 the expired secret can't log in a new session
	_, err = entry2.Login(ctx, secretInfo)
	assert.True(t, communication.IsAuthenticationFailure(err))

	// step 4 once the session ended the expired secret is refused
	require.NoError(t, entry2.Logout(ctx))
	_, err = rpc.Connect(ctx, remoteserver.NewLoopbackTransport(srv, ""), secretInfo)
	assert.True(t, communication.IsAuthenticationFailure(err))

	// step 5 an unused expired secret is refused as well
	unused, err := entry2.GenerateSecretEntry(ctx, info)
	require.NoError(t, err)
	time.Sleep(2100 * time.Millisecond)
	_, err = rpc.Connect(ctx, remoteserver.NewLoopbackTransport(srv, ""), info.WithAuthenticationEntry(unused))
	assert.True(t, communication.IsAuthenticationFailure(err))
}

func TestStatelessInvoke(t *testing.T) {
	logrus.Infof("--- TestStatelessInvoke ---")
	ctx := context.Background()
	srv := createTestServer(t)
	srv.SetCodebase("https://localhost/codebase")
	info := createLoginInfo(t, session.NewPasswordEntry(testUser, testPassword))

	entry, err := rpc.ConnectStateless(ctx, remoteserver.NewLoopbackTransport(srv, ""), info)
	require.NoError(t, err)
	assert.Equal(t, "https://localhost/codebase", entry.Codebase())

	res, err := entry.Invoke(ctx, &communication.Invocation{
		Service: "echo", Interface: echoType.Name, Method: "echo", Args: []any{"there"}, LoginInfo: info})
	require.NoError(t, err)
	assert.Equal(t, `"alice:there"`, string(res.Value))

	_, err = entry.Invoke(ctx, &communication.Invocation{
		Service: "nope", Interface: echoType.Name, Method: "echo", LoginInfo: info})
	assert.True(t, communication.HasRemoteCode(err, communication.CodeServiceNotFound))

	_, err = entry.Invoke(ctx, &communication.Invocation{
		Service: "echo", Interface: echoType.Name, Method: "echo",
		LoginInfo: info.WithContext(session.ContextSelection{ApplicationContext: "finance"})})
	assert.True(t, communication.HasRemoteCode(err, communication.CodeContextForbidden))

	// type resolution
	resolved, err := entry.ResolveType(ctx, echoType.Name)
	require.NoError(t, err)
	assert.Equal(t, echoType.Methods, resolved.Methods)
	_, err = entry.ResolveType(ctx, "demo.Unknown")
	assert.ErrorIs(t, err, typeresolver.ErrNotFound)
}

func TestStatelessReconnectReleasesTransport(t *testing.T) {
	logrus.Infof("--- TestStatelessReconnectReleasesTransport ---")
	ctx := context.Background()
	srv := createTestServer(t)
	info := createLoginInfo(t, session.NewPasswordEntry(testUser, testPassword))
	transports := make([]*remoteserver.LoopbackTransport, 0)
	dial := func(ctx context.Context, info *session.LoginInfo) (communication.StatelessEntry, error) {
		tp := remoteserver.NewLoopbackTransport(srv, "")
		transports = append(transports, tp)
		return rpc.ConnectStateless(ctx, tp, info)
	}

	// step 1 reconnect closes the transport of the replaced entry
	conn, err := communication.OpenStatelessConnection(ctx, info, dial)
	require.NoError(t, err)
	require.NoError(t, conn.Reconnect(ctx))
	require.Len(t, transports, 2)
	assert.True(t, transports[0].Closed())
	assert.False(t, transports[1].Closed())
	_, err = conn.Invoke(ctx, &communication.Invocation{
		Service: "echo", Interface: echoType.Name, Method: "echo", Args: []any{"again"}})
	assert.NoError(t, err)

	// step 2 closing the connection closes the current transport
	assert.NoError(t, conn.Close())
	assert.True(t, transports[1].Closed())
	_, err = conn.Invoke(ctx, &communication.Invocation{Service: "echo", Interface: echoType.Name, Method: "echo"})
	assert.ErrorIs(t, err, communication.ErrNotConnected)
	assert.NoError(t, conn.Close())
}

func TestDispatchErrors(t *testing.T) {
	logrus.Infof("--- TestDispatchErrors ---")
	ctx := context.Background()
	srv := createTestServer(t)

	_, rpcErr := srv.Dispatch(ctx, "no.such.method", json.RawMessage(`{}`), "")
	require.NotNil(t, rpcErr)
	assert.Equal(t, communication.CodeMethodNotFound, rpcErr.Code)

	_, rpcErr = srv.Dispatch(ctx, rpc.MethodLogin, nil, "")
	require.NotNil(t, rpcErr)
	assert.Equal(t, communication.CodeInvalidParams, rpcErr.Code)

	_, rpcErr = srv.Dispatch(ctx, rpc.MethodContexts, json.RawMessage(`{"handle":"gone"}`), "")
	require.NotNil(t, rpcErr)
	assert.Equal(t, communication.CodeStaleHandle, rpcErr.Code)

	resp := srv.HandleRequest(ctx, &rpc.Request{JSONRPC: "1.0", Method: rpc.MethodContexts}, "")
	require.NotNil(t, resp.Error)
	assert.Equal(t, communication.CodeInvalidRequest, resp.Error.Code)
}

func TestRegisterUnknownInterface(t *testing.T) {
	logrus.Infof("--- TestRegisterUnknownInterface ---")
	srv := remoteserver.NewServer(0)
	host := remoteserver.NewServiceHost("echo", false, echoType)
	err := srv.RegisterService(host)
	assert.Error(t, err)

	err = host.Handle(echoType, "undeclared", nil)
	assert.Error(t, err)
}

func TestSecretIssuer(t *testing.T) {
	logrus.Infof("--- TestSecretIssuer ---")
	issuer := remoteserver.NewSecretIssuer(time.Minute)
	secret, err := issuer.Issue(testUser)
	require.NoError(t, err)

	_, err = issuer.Verify("bob", secret)
	assert.Error(t, err)
	_, err = remoteserver.NewSecretIssuer(time.Minute).Verify(testUser, secret)
	assert.Error(t, err, "other signing key")

	id, err := issuer.Consume(testUser, secret)
	assert.NoError(t, err)
	assert.NotEmpty(t, id)
	_, err = issuer.Consume(testUser, secret)
	assert.ErrorIs(t, err, remoteserver.ErrSecretConsumed)
}

func TestSecretExpiry(t *testing.T) {
	logrus.Infof("--- TestSecretExpiry ---")
	issuer := remoteserver.NewSecretIssuer(time.Second)
	secret, err := issuer.Issue(testUser)
	require.NoError(t, err)
	time.Sleep(2100 * time.Millisecond)

	// an expired secret still carries its claims
	claims, err := issuer.Verify(testUser, secret)
	assert.ErrorIs(t, err, remoteserver.ErrSecretExpired)
	require.NotNil(t, claims)
	assert.Equal(t, testUser, claims.Subject)
	_, err = issuer.Consume(testUser, secret)
	assert.ErrorIs(t, err, remoteserver.ErrSecretExpired)

	// but not for another user
	_, err = issuer.Verify("bob", secret)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, remoteserver.ErrSecretExpired)
}
