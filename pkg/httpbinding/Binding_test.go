package httpbinding_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/executor"
	"github.com/wostzone/wost-session/pkg/httpbinding"
	"github.com/wostzone/wost-session/pkg/keystore"
	"github.com/wostzone/wost-session/pkg/logging"
	"github.com/wostzone/wost-session/pkg/login"
	"github.com/wostzone/wost-session/pkg/metrics"
	"github.com/wostzone/wost-session/pkg/profile"
	"github.com/wostzone/wost-session/pkg/remoteserver"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/settings"
	"github.com/wostzone/wost-session/pkg/testenv"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// TestMain sets logging
func TestMain(m *testing.M) {
	logging.SetLogging("info", "")
	os.Exit(m.Run())
}

// localEcho is the client-local instance of the shared echo service
type localEcho struct {
	remote *communication.Proxy
}

func (echo *localEcho) AttachRemote(remote *communication.Proxy) { echo.remote = remote }

// createSettings returns connection settings for the started server
func createSettings(t *testing.T, server *httpbinding.Server, opts ...settings.Option) *settings.ConnectionSettings {
	u, err := url.Parse(server.BaseURL())
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	cs, err := settings.CreateConnectionSettings(httpbinding.Protocol, u.Hostname(), port, opts...)
	require.NoError(t, err)
	return cs
}

func createLoginInfo(t *testing.T, cs *settings.ConnectionSettings, user, password string) *session.LoginInfo {
	info, err := session.CreateLoginInfo(session.ClientIdentity{ID: "http-test", Name: "http test client"},
		session.ContextSelection{}, session.NewPasswordEntry(user, password), cs, "")
	require.NoError(t, err)
	return info
}

func TestFullLogin(t *testing.T) {
	logrus.Infof("--- TestFullLogin ---")
	ctx := context.Background()
	server, backend, err := testenv.StartServices(nil)
	require.NoError(t, err)
	defer server.Stop()

	store, err := profile.NewStore(filepath.Join(t.TempDir(), profile.DefaultProfileFile))
	require.NoError(t, err)
	ui := testenv.NewTestUI()
	ui.ChooseContext = func(contexts []session.ContextSelection) session.ContextSelection {
		return contexts[len(contexts)-1]
	}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	info := createLoginInfo(t, createSettings(t, server), remoteserver.DemoUser, remoteserver.DemoPassword)
	orc := login.NewOrchestrator(httpbinding.NewCommunication(m), info, ui.Collaborators(),
		store, "demo", nil, m)
	echo := &localEcho{}
	orc.Services().RegisterLocal(remoteserver.DemoEchoService, echo)

	// step 1 login over http
	err = orc.Login(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, orc.Status().Status())
	sess := orc.Status().Session()
	require.NotNil(t, sess)
	assert.Equal(t, remoteserver.DemoUser, sess.User())
	assert.Equal(t, remoteserver.DemoContextSupport.ApplicationContext,
		sess.LoginInfo().Context().ApplicationContext)
	assert.Equal(t, 1, backend.SessionCount())
	assert.Empty(t, ui.Errors())
	require.NotNil(t, ui.Built())
	assert.Equal(t, "Demo", ui.Built().Title)
	assert.Equal(t, []string{remoteserver.DemoClockService, remoteserver.DemoEchoService}, orc.Services().GetNames())

	// step 2 the shared echo service is bridged with the local instance
	require.NotNil(t, echo.remote)
	reply, err := echo.remote.Call(ctx, "upper", "hello")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", reply)

	// step 3 a restart of the server invalidates the handle. The call reconnects and resumes the session.
	backend.Restart()
	reply, err = echo.remote.Call(ctx, "echo", "again")
	require.NoError(t, err)
	assert.Equal(t, "again", reply)
	assert.Equal(t, 1, backend.SessionCount())

	// step 4 results referring to services are proxied
	clock := orc.Services().GetByName(remoteserver.DemoClockService)
	require.NotNil(t, clock)
	status, err := clock.Remote.Call(ctx, "status")
	require.NoError(t, err)
	fields := status.(map[string]any)
	assert.Equal(t, remoteserver.DemoUser, fields["user"])
	assert.Equal(t, "support", fields["context"])
	echoProxy, ok := fields["echo"].(*communication.Proxy)
	require.True(t, ok)
	reply, err = echoProxy.Call(ctx, "echo", "nested")
	require.NoError(t, err)
	assert.Equal(t, "nested", reply)

	// step 5 the profile keeps the server issued correlation id
	p, err := store.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, sess.LoginInfo().CorrelationID(), p.CorrelationID)

	// step 6 logout ends the server session
	orc.Logout(ctx)
	assert.Equal(t, 0, backend.SessionCount())
	assert.Equal(t, session.StatusNotConnected, orc.Status().Status())
}

func TestResumeAfterSecretExpiry(t *testing.T) {
	logrus.Infof("--- TestResumeAfterSecretExpiry ---")
	ctx := context.Background()
	backend := remoteserver.NewDemoServer(time.Second)
	server, err := testenv.StartServer(backend, nil)
	require.NoError(t, err)
	defer server.Stop()

	ui := testenv.NewTestUI()
	info := createLoginInfo(t, createSettings(t, server), remoteserver.DemoSingleUser, remoteserver.DemoSinglePassword)
	orc := login.NewOrchestrator(httpbinding.NewCommunication(nil), info, ui.Collaborators(),
		nil, "", nil, nil)
	echo := &localEcho{}
	orc.Services().RegisterLocal(remoteserver.DemoEchoService, echo)

	// step 1 login exchanges the password for a short lived secret
	err = orc.Login(ctx)
	require.NoError(t, err)
	require.NotNil(t, echo.remote)
	sess := orc.Status().Session()
	require.NotNil(t, sess)
	assert.Equal(t, session.EntryKindSecret, sess.LoginInfo().AuthenticationEntry().Kind())

	// step 2 the restart happens after the secret expired. The session is still resumed.
	time.Sleep(2100 * time.Millisecond)
	backend.Restart()
	reply, err := echo.remote.Call(ctx, "echo", "later")
	require.NoError(t, err)
	assert.Equal(t, "later", reply)
	assert.Equal(t, 1, backend.SessionCount())

	orc.Logout(ctx)
	assert.Equal(t, 0, backend.SessionCount())
}

func TestLoginWrongPassword(t *testing.T) {
	logrus.Infof("--- TestLoginWrongPassword ---")
	server, backend, err := testenv.StartServices(nil)
	require.NoError(t, err)
	defer server.Stop()

	ui := testenv.NewTestUI()
	info := createLoginInfo(t, createSettings(t, server), remoteserver.DemoUser, "wrong")
	orc := login.NewOrchestrator(httpbinding.NewCommunication(nil), info, ui.Collaborators(),
		nil, "", nil, nil)
	err = orc.Login(context.Background())
	require.Error(t, err)
	assert.True(t, communication.IsAuthenticationFailure(err))
	assert.Equal(t, session.StatusNotConnected, orc.Status().Status())
	assert.Len(t, ui.Errors(), 1)
	assert.True(t, ui.Enabled())
	assert.Equal(t, 0, backend.SessionCount())
}

func TestStatelessEntry(t *testing.T) {
	logrus.Infof("--- TestStatelessEntry ---")
	ctx := context.Background()
	server, _, err := testenv.StartServices(nil)
	require.NoError(t, err)
	defer server.Stop()

	comm := httpbinding.NewCommunication(nil)
	info := createLoginInfo(t, createSettings(t, server), remoteserver.DemoSingleUser, remoteserver.DemoSinglePassword)
	env, err := communication.NewStatelessEnvironment(ctx, comm, info, executor.NewDirectExecutor(nil))
	require.NoError(t, err)

	clock, err := env.NewProxy(ctx, &communication.ServiceDescriptor{
		Name: remoteserver.DemoClockService, Interfaces: []string{remoteserver.DemoClockType.Name}})
	require.NoError(t, err)
	assert.True(t, clock.Stateless())

	now, err := clock.Call(ctx, "now")
	require.NoError(t, err)
	assert.NotEmpty(t, now)

	result, err := clock.Call(ctx, "echoService")
	require.NoError(t, err)
	echo, ok := result.(*communication.Proxy)
	require.True(t, ok)
	assert.True(t, echo.Stateless())
	var upper string
	err = echo.CallInto(ctx, &upper, "upper", "quiet")
	require.NoError(t, err)
	assert.Equal(t, "QUIET", upper)

	_, err = clock.Call(ctx, "undeclared")
	assert.ErrorIs(t, err, communication.ErrUnknownMethod)

	// a bad credential is rejected when the entry is obtained
	badInfo := createLoginInfo(t, createSettings(t, server), remoteserver.DemoSingleUser, "wrong")
	_, err = comm.GetStatelessEntry(ctx, badInfo)
	assert.True(t, communication.IsAuthenticationFailure(err))

	// proxies of a closed environment are disconnected
	assert.NoError(t, env.Close())
	_, err = clock.Call(ctx, "now")
	assert.ErrorIs(t, err, communication.ErrNotConnected)
}

func TestMutualTLS(t *testing.T) {
	logrus.Infof("--- TestMutualTLS ---")
	ctx := context.Background()
	certs, err := testenv.CreateCertificates("http-test")
	require.NoError(t, err)
	server, _, err := testenv.StartServices(certs)
	require.NoError(t, err)
	defer server.Stop()

	ks, err := certs.ClientKeystore()
	require.NoError(t, err)
	ksPath := filepath.Join(t.TempDir(), "client.jwe")
	require.NoError(t, keystore.Write(ksPath, "ks-password", ks))

	// step 1 connect with the client certificate
	cs := createSettings(t, server, settings.WithMutualTLS(ksPath, "ks-password"))
	info := createLoginInfo(t, cs, remoteserver.DemoUser, remoteserver.DemoPassword)
	comm := httpbinding.NewCommunication(nil)
	entry, err := comm.Connect(ctx, info)
	require.NoError(t, err)
	contexts, err := entry.ApplicableContexts(ctx, info)
	assert.NoError(t, err)
	assert.Len(t, contexts, 2)

	// step 2 types are fetched from the codebase on the mutual TLS listener
	require.True(t, strings.HasPrefix(entry.Codebase(), "https://"))
	client, err := comm.CodebaseClient(info)
	require.NoError(t, err)
	loader := typeresolver.NewCodebaseLoader(entry.Codebase(), client)
	echoType, err := loader.Load(ctx, remoteserver.DemoEchoType.Name)
	require.NoError(t, err)
	assert.Equal(t, remoteserver.DemoEchoType.Methods, echoType.Methods)
	// without the client certificate the codebase can't be reached
	_, err = typeresolver.NewCodebaseLoader(entry.Codebase(), nil).Load(ctx, remoteserver.DemoEchoType.Name)
	assert.Error(t, err)
	// the connection chain uses the certificate as well
	chain := communication.NewResolverChain(comm, info, nil, entry.Codebase())
	clockType, err := chain.Resolve(ctx, remoteserver.DemoClockType.Name)
	require.NoError(t, err)
	assert.Equal(t, typeresolver.LoaderCodebase, clockType.Loader)
	assert.NoError(t, entry.Close())

	// step 3 a wrong keystore password fails before connecting
	cs = createSettings(t, server, settings.WithMutualTLS(ksPath, "wrong"))
	_, err = comm.Connect(ctx, createLoginInfo(t, cs, remoteserver.DemoUser, remoteserver.DemoPassword))
	assert.ErrorIs(t, err, keystore.ErrWrongPassword)

	// step 4 plain http is refused by the tls server
	cs = createSettings(t, server)
	_, err = comm.Connect(ctx, createLoginInfo(t, cs, remoteserver.DemoUser, remoteserver.DemoPassword))
	assert.Error(t, err)
}

func TestCodebase(t *testing.T) {
	logrus.Infof("--- TestCodebase ---")
	ctx := context.Background()
	server, backend, err := testenv.StartServices(nil)
	require.NoError(t, err)
	defer server.Stop()
	assert.Equal(t, server.BaseURL()+httpbinding.CodebasePath, backend.Codebase())

	loader := typeresolver.NewCodebaseLoader(backend.Codebase(), nil)
	echoType, err := loader.Load(ctx, remoteserver.DemoEchoType.Name)
	require.NoError(t, err)
	assert.Equal(t, remoteserver.DemoEchoType.Methods, echoType.Methods)

	_, err = loader.Load(ctx, "demo.Unknown")
	assert.ErrorIs(t, err, typeresolver.ErrNotFound)
}

func TestRPCErrors(t *testing.T) {
	logrus.Infof("--- TestRPCErrors ---")
	server, _, err := testenv.StartServices(nil)
	require.NoError(t, err)
	defer server.Stop()
	client := resty.New()
	rpcURL := server.BaseURL() + httpbinding.RPCPath

	// step 1 invalid json is a parse error
	resp, err := client.R().SetBody("{not json").SetHeader("Content-Type", "application/json").Post(rpcURL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, resp.String(), fmt.Sprint(communication.CodeParseError))

	// step 2 unknown methods
	resp, err = client.R().SetBody(`{"jsonrpc":"2.0","id":"1","method":"nope","params":{}}`).
		SetHeader("Content-Type", "application/json").Post(rpcURL)
	require.NoError(t, err)
	assert.Contains(t, resp.String(), fmt.Sprint(communication.CodeMethodNotFound))

	// step 3 only POST is routed
	resp, err = client.R().Get(rpcURL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode())

	// step 4 browser preflight requests are answered
	resp, err = client.R().
		SetHeader("Origin", "http://console.local").
		SetHeader("Access-Control-Request-Method", http.MethodPost).
		Options(rpcURL)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header().Get("Access-Control-Allow-Origin"))

	// step 5 a transport to a stopped server fails
	tp := httpbinding.NewTransport(client, server.BaseURL())
	server.Stop()
	err = tp.Call(context.Background(), "session.contexts", nil, nil)
	assert.Error(t, err)
	assert.NoError(t, tp.Close())
	err = tp.Call(context.Background(), "session.contexts", nil, nil)
	assert.ErrorIs(t, err, communication.ErrNotConnected)
}

func TestShouldRetryOnFailure(t *testing.T) {
	logrus.Infof("--- TestShouldRetryOnFailure ---")
	comm := httpbinding.NewCommunication(nil)

	assert.True(t, comm.ShouldRetryOnFailure(
		communication.NewRemoteError(communication.CodeStaleHandle, "gone")))
	assert.True(t, comm.ShouldRetryOnFailure(fmt.Errorf("call: %w", syscall.ECONNRESET)))
	assert.True(t, comm.ShouldRetryOnFailure(fmt.Errorf("call: %w", io.ErrUnexpectedEOF)))
	assert.True(t, comm.ShouldRetryOnFailure(fmt.Errorf("call: %w", httpbinding.ErrServerUnavailable)))

	assert.False(t, comm.ShouldRetryOnFailure(nil))
	assert.False(t, comm.ShouldRetryOnFailure(errors.New("boom")))
	assert.False(t, comm.ShouldRetryOnFailure(
		communication.NewRemoteError(communication.CodeAuthFailed, "denied")))
	assert.False(t, comm.ShouldRetryOnFailure(
		communication.NewRemoteError(communication.CodeServiceFailed, "failed")))
}

func TestRegisterAndProxies(t *testing.T) {
	logrus.Infof("--- TestRegisterAndProxies ---")
	registry := communication.NewRegistry()
	comm := httpbinding.NewCommunication(nil)
	comm.Register(registry, httpbinding.DefaultBinding)

	stateful := registry.Lookup(settings.TransportID{
		Protocol: httpbinding.Protocol, Kind: settings.KindStateful, Name: httpbinding.DefaultBinding})
	stateless := registry.Lookup(settings.TransportID{
		Protocol: httpbinding.Protocol, Kind: settings.KindStateless, Name: httpbinding.DefaultBinding})
	assert.Same(t, comm, stateful)
	assert.Same(t, comm, stateless)
	assert.Equal(t, httpbinding.Protocol, stateful.Protocol())
}

func TestSocksProxy(t *testing.T) {
	logrus.Infof("--- TestSocksProxy ---")
	cs, err := settings.CreateConnectionSettings(httpbinding.Protocol, "localhost", 9443,
		settings.WithProxies(settings.ProxySettings{URL: "socks5://127.0.0.1:1"}))
	require.NoError(t, err)
	client, err := httpbinding.NewRestyClient(cs)
	require.NoError(t, err)

	// the proxy doesn't exist so the call fails in the dialer
	tp := httpbinding.NewTransport(client, httpbinding.BaseURL(cs))
	err = tp.Call(context.Background(), "session.contexts", nil, nil)
	assert.Error(t, err)
	assert.Equal(t, "http://localhost:9443/session", httpbinding.BaseURL(cs))
}
