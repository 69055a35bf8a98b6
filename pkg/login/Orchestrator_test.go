package login_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wostzone/wost-session/pkg/command"
	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/logging"
	"github.com/wostzone/wost-session/pkg/login"
	"github.com/wostzone/wost-session/pkg/metrics"
	"github.com/wostzone/wost-session/pkg/profile"
	"github.com/wostzone/wost-session/pkg/services"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/settings"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

const serverCorrelationID = "6f1c3e52-0a9e-4d8b-a0b4-5d2f0e6b7c11"

var testContexts = []session.ContextSelection{
	{ApplicationContext: "sales", Locale: "en"},
	{ApplicationContext: "support", Locale: "nl"},
}

// fakeServer holds the server side state shared by all entry points of a fake communication
type fakeServer struct {
	loginErr   error
	logoutErr  error
	connects   int
	logins     int
	logouts    int
	loginInfo  *session.LoginInfo
	secretUser string
	mutex      sync.Mutex
}

type fakeComm struct {
	communication.Base
	server *fakeServer
}

func (c *fakeComm) Protocol() string { return "fake" }

func (c *fakeComm) Connect(_ context.Context, info *session.LoginInfo) (communication.RemoteEntryPoint, error) {
	c.server.mutex.Lock()
	defer c.server.mutex.Unlock()
	c.server.connects++
	return &fakeEntry{server: c.server}, nil
}

func (c *fakeComm) GetStatelessEntry(_ context.Context, _ *session.LoginInfo) (communication.StatelessEntry, error) {
	return &fakeEntry{server: c.server}, nil
}

type fakeEntry struct {
	server *fakeServer
}

func (e *fakeEntry) Invoke(_ context.Context, call *communication.Invocation) (*communication.InvocationResult, error) {
	return communication.NewValueResult(call.Args)
}
func (e *fakeEntry) ResolveType(_ context.Context, name string) (*typeresolver.Type, error) {
	if name == "demo.Echo" {
		return &typeresolver.Type{Methods: []string{"echo"}}, nil
	}
	return nil, typeresolver.ErrNotFound
}
func (e *fakeEntry) Codebase() string              { return "" }
func (e *fakeEntry) LoginInfo() *session.LoginInfo { return nil }
func (e *fakeEntry) Close() error                  { return nil }

func (e *fakeEntry) GenerateSecretEntry(_ context.Context, info *session.LoginInfo) (*session.SecretEntry, error) {
	pe, ok := info.AuthenticationEntry().(*session.PasswordEntry)
	if !ok {
		return nil, errors.New("expected a password")
	}
	if _, err := pe.Password(); err != nil {
		return nil, err
	}
	e.server.secretUser = pe.UserName()
	return session.NewSecretEntry(pe.UserName(), "one-time-secret"), nil
}

func (e *fakeEntry) ApplicableContexts(_ context.Context, _ *session.LoginInfo) ([]session.ContextSelection, error) {
	return testContexts, nil
}

func (e *fakeEntry) Login(_ context.Context, info *session.LoginInfo) (*communication.LoginResult, error) {
	e.server.mutex.Lock()
	defer e.server.mutex.Unlock()
	if e.server.loginErr != nil {
		return nil, e.server.loginErr
	}
	if info.AuthenticationEntry().Kind() != session.EntryKindSecret {
		return nil, communication.NewRemoteError(communication.CodeAuthFailed, "secret required")
	}
	e.server.logins++
	e.server.loginInfo = info
	return &communication.LoginResult{
		SessionID:     "session-1",
		User:          info.AuthenticationEntry().UserName(),
		CorrelationID: serverCorrelationID,
	}, nil
}

func (e *fakeEntry) Services(_ context.Context) ([]communication.ServiceDescriptor, error) {
	return []communication.ServiceDescriptor{
		{Name: "echo", Interfaces: []string{"demo.Echo"}, Shared: true},
	}, nil
}

func (e *fakeEntry) MainUIDefinition(_ context.Context) (*communication.UIDefinition, error) {
	return &communication.UIDefinition{Title: "Demo"}, nil
}

func (e *fakeEntry) Logout(_ context.Context) error {
	e.server.mutex.Lock()
	defer e.server.mutex.Unlock()
	e.server.logouts++
	return e.server.logoutErr
}

// fakeUI implements all collaborators
type fakeUI struct {
	errors    []string
	enabled   bool
	disables  int
	built     *communication.UIDefinition
	disposed  int
	presented int
	progress  []int
	mutex     sync.Mutex
}

func (ui *fakeUI) ShowError(title string, message string) {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	ui.errors = append(ui.errors, title+": "+message)
}
func (ui *fakeUI) SetEnabled(enabled bool) {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	ui.enabled = enabled
	if !enabled {
		ui.disables++
	}
}
func (ui *fakeUI) PresentContexts(_ context.Context, contexts []session.ContextSelection) (session.ContextSelection, error) {
	ui.presented++
	return contexts[1], nil
}
func (ui *fakeUI) BuildMainUI(def *communication.UIDefinition) error {
	ui.built = def
	return nil
}
func (ui *fakeUI) Dispose() { ui.disposed++ }
func (ui *fakeUI) OnProgress(report command.ProgressReport) {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	ui.progress = append(ui.progress, report.Percentage)
}

func (ui *fakeUI) collaborators() login.Collaborators {
	return login.Collaborators{
		Dialogs:   ui,
		Surface:   ui,
		Presenter: ui,
		UIBuilder: ui,
		Disposer:  ui,
		Progress:  ui,
	}
}

type sharedEcho struct {
	remote *communication.Proxy
}

func (s *sharedEcho) AttachRemote(remote *communication.Proxy) { s.remote = remote }

func TestMain(m *testing.M) {
	logging.SetLogging("info", "")
	os.Exit(m.Run())
}

func createTestLoginInfo(t *testing.T) *session.LoginInfo {
	cs, err := settings.CreateConnectionSettings("fake", "localhost", 8443)
	require.NoError(t, err)
	info, err := session.CreateLoginInfo(
		session.ClientIdentity{ID: "client-1", Name: "test client", Version: "1.0"},
		session.ContextSelection{}, session.NewPasswordEntry("user1", "pass1"), cs, "")
	require.NoError(t, err)
	return info
}

func createTestOrchestrator(t *testing.T, store *profile.Store, profileName string) (
	*login.Orchestrator, *fakeServer, *fakeUI) {
	server := &fakeServer{}
	ui := &fakeUI{enabled: true}
	orc := login.NewOrchestrator(&fakeComm{server: server}, createTestLoginInfo(t), ui.collaborators(),
		store, profileName, services.NewServiceRegistry(), metrics.NewMetrics(prometheus.NewRegistry()))
	return orc, server, ui
}

func assertMonotonic(t *testing.T, progress []int) {
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
		assert.LessOrEqual(t, progress[i], 100)
	}
}

func TestFullLogin(t *testing.T) {
	logrus.Infof("--- TestFullLogin ---")
	store, err := profile.NewStore(filepath.Join(t.TempDir(), profile.DefaultProfileFile))
	require.NoError(t, err)
	orc, server, ui := createTestOrchestrator(t, store, "office")
	local := &sharedEcho{}
	orc.Services().RegisterLocal("echo", local)

	statuses := make([]session.ClientStatus, 0)
	orc.Status().AddListener(func(from, to session.ClientStatus) {
		statuses = append(statuses, to)
	})
	originalEntry := orc.LoginInfo().AuthenticationEntry()

	// step 1 run the login
	err = orc.Login(context.Background())
	require.NoError(t, err)

	// step 2 the client is running with a session and the server correlation id
	assert.Equal(t, session.StatusRunning, orc.Status().Status())
	sess := orc.Status().Session()
	require.NotNil(t, sess)
	assert.Equal(t, "session-1", sess.ID())
	assert.Equal(t, serverCorrelationID, sess.LoginInfo().CorrelationID())
	assert.Equal(t, serverCorrelationID, orc.LoginInfo().CorrelationID())
	assert.Equal(t, []session.ClientStatus{session.StatusConnected, session.StatusContextsAvailable,
		session.StatusLoggedIn, session.StatusRunning}, statuses)

	// step 3 the raw credential was exchanged and cleared, the presenter chose the context
	assert.True(t, originalEntry.IsSensitiveDataCleared())
	assert.Equal(t, "user1", server.secretUser)
	assert.Equal(t, 1, ui.presented)
	assert.Equal(t, "support", server.loginInfo.Context().ApplicationContext)

	// step 4 the shared service is bridged and the UI is built
	entry := orc.Services().GetByName("echo")
	require.NotNil(t, entry)
	assert.True(t, entry.Bridged())
	require.NotNil(t, local.remote)
	reply, err := local.remote.Call(context.Background(), "echo", "hi")
	assert.NoError(t, err)
	assert.Equal(t, []any{"hi"}, reply)
	require.NotNil(t, ui.built)
	assert.Equal(t, "Demo", ui.built.Title)

	// step 5 the profile holds the new correlation id and context
	p, err := store.Get("office")
	require.NoError(t, err)
	assert.Equal(t, serverCorrelationID, p.CorrelationID)
	assert.Equal(t, "support", p.Context.ApplicationContext)
	assert.Equal(t, "user1", p.LoginName)

	// step 6 progress is non-decreasing up to 100, surface is enabled and no errors shown
	assertMonotonic(t, ui.progress)
	assert.Equal(t, 100, ui.progress[len(ui.progress)-1])
	assert.Len(t, ui.progress, 8)
	assert.True(t, ui.enabled)
	assert.Equal(t, 8, ui.disables)
	assert.Empty(t, ui.errors)
}

func TestLoginFailureKeepsContextsAvailable(t *testing.T) {
	logrus.Infof("--- TestLoginFailureKeepsContextsAvailable ---")
	orc, server, ui := createTestOrchestrator(t, nil, "")
	server.loginErr = communication.NewRemoteError(communication.CodeContextForbidden, "context not allowed")

	err := orc.Login(context.Background())
	require.Error(t, err)
	assert.True(t, communication.HasRemoteCode(err, communication.CodeContextForbidden))
	assert.Equal(t, session.StatusContextsAvailable, orc.Status().Status())
	assert.Nil(t, orc.Status().Session())
	assert.Len(t, ui.errors, 1)
	assert.True(t, ui.enabled)
	assertMonotonic(t, ui.progress)

	// step 2 the login can be retried with another context
	server.loginErr = nil
	err = orc.CompleteLogin(context.Background(), testContexts[0])
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, orc.Status().Status())
	assert.Len(t, ui.errors, 1)
	assertMonotonic(t, ui.progress)

	// contexts that are not applicable are refused
	orc2, _, _ := createTestOrchestrator(t, nil, "")
	_, err = orc2.Connect(context.Background())
	require.NoError(t, err)
	err = orc2.CompleteLogin(context.Background(), session.ContextSelection{ApplicationContext: "other"})
	assert.Error(t, err)
}

func TestStoredProfileContext(t *testing.T) {
	logrus.Infof("--- TestStoredProfileContext ---")
	store, err := profile.NewStore(filepath.Join(t.TempDir(), profile.DefaultProfileFile))
	require.NoError(t, err)
	require.NoError(t, store.Save(&profile.LoginProfile{
		Name:          "office",
		Context:       testContexts[0],
		CorrelationID: "previous-id",
	}))
	orc, server, ui := createTestOrchestrator(t, store, "office")

	err = orc.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ui.presented)
	assert.Equal(t, "sales", server.loginInfo.Context().ApplicationContext)
	// the stored correlation id was offered and the server replaced it
	p, _ := store.Get("office")
	assert.Equal(t, serverCorrelationID, p.CorrelationID)
}

func TestPersistFailure(t *testing.T) {
	logrus.Infof("--- TestPersistFailure ---")
	for _, mandatory := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), profile.DefaultProfileFile)
		store, err := profile.NewStore(path)
		require.NoError(t, err)
		require.NoError(t, store.Save(&profile.LoginProfile{Name: "office", Mandatory: mandatory}))
		// a directory in place of the temp file makes the next save fail
		require.NoError(t, os.Mkdir(path+".tmp", 0700))

		orc, _, ui := createTestOrchestrator(t, store, "office")
		err = orc.Login(context.Background())
		assert.Len(t, ui.errors, 1)
		assert.True(t, ui.enabled)
		if mandatory {
			assert.Error(t, err)
			assert.Equal(t, session.StatusLoggedIn, orc.Status().Status())
		} else {
			assert.NoError(t, err)
			assert.Equal(t, session.StatusRunning, orc.Status().Status())
		}
	}
}

func TestLogoutAndShutdown(t *testing.T) {
	logrus.Infof("--- TestLogoutAndShutdown ---")
	orc, server, ui := createTestOrchestrator(t, nil, "")
	require.NoError(t, orc.Login(context.Background()))

	// step 1 a failing remote logout still ends in NOT_CONNECTED
	server.logoutErr = errors.New("server gone")
	orc.Logout(context.Background())
	assert.Equal(t, session.StatusNotConnected, orc.Status().Status())
	assert.Nil(t, orc.Status().Session())
	assert.Nil(t, orc.Environment())
	assert.Nil(t, orc.Services().GetByName("echo"))
	assert.Equal(t, 1, server.logouts)
	assert.Empty(t, ui.errors)

	// step 2 logging out again does nothing
	orc.Logout(context.Background())
	assert.Equal(t, 1, server.logouts)

	// step 3 shutdown disposes and exits
	orc2, server2, ui2 := createTestOrchestrator(t, nil, "")
	require.NoError(t, orc2.Login(context.Background()))
	exitCode := -1
	orc2.ExitHook = func(code int) { exitCode = code }
	orc2.Shutdown(context.Background())
	assert.Equal(t, 0, exitCode)
	assert.Equal(t, 1, ui2.disposed)
	assert.Equal(t, 1, server2.logouts)
	assert.Equal(t, session.StatusNotConnected, orc2.Status().Status())
}

func TestConnectRequiresNotConnected(t *testing.T) {
	orc, _, _ := createTestOrchestrator(t, nil, "")
	require.NoError(t, orc.Login(context.Background()))
	_, err := orc.Connect(context.Background())
	assert.Error(t, err)
}

func TestStatusMachine(t *testing.T) {
	sm := login.NewStatusMachine(nil)
	assert.Error(t, sm.Advance(session.StatusNotConnected, session.StatusLoggedIn))
	assert.Error(t, sm.Advance(session.StatusConnected, session.StatusContextsAvailable))
	require.NoError(t, sm.Advance(session.StatusNotConnected, session.StatusConnected))
	assert.Error(t, sm.LoggedIn(nil))

	sess, _ := session.CreateSession("s1", "user1", nil, time.Time{}, false)
	assert.Error(t, sm.LoggedIn(sess))
	require.NoError(t, sm.Advance(session.StatusConnected, session.StatusContextsAvailable))
	require.NoError(t, sm.LoggedIn(sess))
	assert.Same(t, sess, sm.Session())

	sm.Reset()
	assert.Equal(t, session.StatusNotConnected, sm.Status())
	assert.Nil(t, sm.Session())
}
