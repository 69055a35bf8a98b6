// Package login with the login orchestrator that brings a client from NOT_CONNECTED to RUNNING.
//
// The login runs as two sequences of request commands. The first connects, exchanges the
// credential for a one-time secret and fetches the applicable contexts. After a context is
// selected, by the user or from the stored profile, the second logs in, bridges the server
// services, builds the UI, persists the profile and confirms.
package login

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/command"
	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/executor"
	"github.com/wostzone/wost-session/pkg/metrics"
	"github.com/wostzone/wost-session/pkg/profile"
	"github.com/wostzone/wost-session/pkg/services"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// Step names
const (
	StepConnect      = "connect"
	StepAuthenticate = "authenticate"
	StepContexts     = "contexts"
	StepLogin        = "login"
	StepServices     = "services"
	StepBuildUI      = "build-ui"
	StepPersist      = "persist-profile"
	StepConfirm      = "confirm"
)

// progress percentage reported when each step completes
var stepProgress = map[string]int{
	StepConnect:      10,
	StepAuthenticate: 20,
	StepContexts:     30,
	StepLogin:        50,
	StepServices:     65,
	StepBuildUI:      80,
	StepPersist:      90,
	StepConfirm:      100,
}

// ErrNoContextSelected is returned when the login can't continue without a context selection
var ErrNoContextSelected = errors.New("no context selected")

// bridgedService is a remote service with its proxy, ready to be bridged
type bridgedService struct {
	descriptor communication.ServiceDescriptor
	proxy      *communication.Proxy
}

// Orchestrator runs the login sequence of a stateful client session
type Orchestrator struct {
	comm        communication.Communication
	collab      Collaborators
	profiles    *profile.Store
	profileName string
	registry    *services.ServiceRegistry
	metrics     *metrics.Metrics

	status       *StatusMachine
	queue        *executor.QueueExecutor
	runner       *command.Runner
	errorHandler *command.ErrorHandler
	tracker      *command.ProgressTracker

	// ExitHook terminates the process on Shutdown. Default is os.Exit.
	ExitHook func(code int)

	// ResolverHook creates the resolver chain of a new connection.
	// Default is the standard chain of the communication without local types.
	ResolverHook func(info *session.LoginInfo, channel typeresolver.RemoteChannel, codebase string) *typeresolver.Chain

	// connection state, guarded by stateMutex
	info       *session.LoginInfo
	conn       *communication.StatefulConnection
	env        *communication.Environment
	contexts   []session.ContextSelection
	uiDef      *communication.UIDefinition
	stateMutex sync.RWMutex
}

// Status returns the status machine of the client
func (orc *Orchestrator) Status() *StatusMachine { return orc.status }

// Progress returns the progress tracker of the login
func (orc *Orchestrator) Progress() *command.ProgressTracker { return orc.tracker }

// Services returns the local service registry
func (orc *Orchestrator) Services() *services.ServiceRegistry { return orc.registry }

// Runner returns the command runner of this client, for running application commands
func (orc *Orchestrator) Runner() *command.Runner { return orc.runner }

// LoginInfo returns the current login info
func (orc *Orchestrator) LoginInfo() *session.LoginInfo {
	orc.stateMutex.RLock()
	defer orc.stateMutex.RUnlock()
	return orc.info
}

// SetLoginInfo replaces the login info for the next Login, for example with a new credential
func (orc *Orchestrator) SetLoginInfo(info *session.LoginInfo) {
	orc.stateMutex.Lock()
	defer orc.stateMutex.Unlock()
	orc.info = info
}

// Environment returns the proxy environment of the connection, or nil if not connected
func (orc *Orchestrator) Environment() *communication.Environment {
	orc.stateMutex.RLock()
	defer orc.stateMutex.RUnlock()
	return orc.env
}

// Contexts returns the contexts the user may choose from
func (orc *Orchestrator) Contexts() []session.ContextSelection {
	orc.stateMutex.RLock()
	defer orc.stateMutex.RUnlock()
	return append([]session.ContextSelection(nil), orc.contexts...)
}

// UIDefinition returns the main UI definition received from the server, or nil
func (orc *Orchestrator) UIDefinition() *communication.UIDefinition {
	orc.stateMutex.RLock()
	defer orc.stateMutex.RUnlock()
	return orc.uiDef
}

func (orc *Orchestrator) entry() (communication.RemoteEntryPoint, error) {
	orc.stateMutex.RLock()
	conn := orc.conn
	orc.stateMutex.RUnlock()
	if conn == nil {
		return nil, communication.ErrNotConnected
	}
	entry := conn.Entry()
	if entry == nil {
		return nil, communication.ErrNotConnected
	}
	return entry, nil
}

func (orc *Orchestrator) setSurfaceEnabled(enabled bool) {
	if orc.collab.Surface != nil {
		orc.collab.Surface.SetEnabled(enabled)
	}
}

func (orc *Orchestrator) text(key string, args ...any) string {
	return orc.collab.Localizer.Text(key, args...)
}

// storedProfile returns the active profile or nil if there is none
func (orc *Orchestrator) storedProfile() *profile.LoginProfile {
	if orc.profiles == nil || orc.profileName == "" {
		return nil
	}
	p, err := orc.profiles.Get(orc.profileName)
	if err != nil {
		return nil
	}
	return p
}

// newStep creates a step that disables the interactive surface while it runs and reports
// its progress on success. Failures abort the sequence.
func newStep[T any](orc *Orchestrator, name string,
	execute func(ctx context.Context) (T, error), after func(ctx context.Context, result T)) *command.Request[T] {

	req := command.NewRequest(name, execute)
	req.Before = func(ctx context.Context) bool {
		orc.setSurfaceEnabled(false)
		return true
	}
	req.After = func(ctx context.Context, result T) {
		if after != nil {
			after(ctx, result)
		}
		orc.setSurfaceEnabled(true)
		orc.tracker.Report(command.ProgressReport{
			Percentage: stepProgress[name],
			Unit:       command.ProgressRelative,
			Label:      name,
		})
	}
	req.OnError = func(ctx context.Context, err *command.TracedError) command.Policy {
		orc.setSurfaceEnabled(true)
		return command.PolicyAbort
	}
	return req
}

// connectStep opens the stateful connection and creates the proxy environment
func (orc *Orchestrator) connectStep() command.Command {
	return newStep(orc, StepConnect, func(ctx context.Context) (*communication.StatefulConnection, error) {
		info := orc.LoginInfo()
		if info == nil {
			return nil, errors.New("no login info")
		}
		return communication.OpenStatefulConnection(ctx, orc.comm, info)
	}, func(ctx context.Context, conn *communication.StatefulConnection) {
		entry := conn.Entry()
		env := &communication.Environment{
			Communication: orc.comm,
			Executor:      executor.NewRetryingExecutor(orc.comm, conn, nil, orc.metrics),
			Invoker:       conn,
			Resolver:      orc.ResolverHook(conn.LoginInfo(), conn.ResolveType, entry.Codebase()),
		}
		orc.stateMutex.Lock()
		orc.conn = conn
		orc.info = conn.LoginInfo()
		orc.env = env
		orc.stateMutex.Unlock()
		if err := orc.status.Advance(session.StatusNotConnected, session.StatusConnected); err != nil {
			logrus.Errorf("connect: %s", err)
		}
	})
}

// authenticateStep exchanges the raw credential for a one-time secret
func (orc *Orchestrator) authenticateStep() command.Command {
	return newStep(orc, StepAuthenticate, func(ctx context.Context) (*session.SecretEntry, error) {
		entry, err := orc.entry()
		if err != nil {
			return nil, err
		}
		return entry.GenerateSecretEntry(ctx, orc.LoginInfo())
	}, func(ctx context.Context, secret *session.SecretEntry) {
		orc.stateMutex.Lock()
		raw := orc.info.AuthenticationEntry()
		orc.info = orc.info.WithAuthenticationEntry(secret)
		orc.conn.SetLoginInfo(orc.info)
		orc.stateMutex.Unlock()
		if err := raw.ClearSensitiveData(); err != nil && !errors.Is(err, session.ErrAlreadyCleared) {
			logrus.Warningf("authenticate: clearing the credential failed: %s", err)
		}
	})
}

// contextsStep fetches the applicable contexts
func (orc *Orchestrator) contextsStep() command.Command {
	return newStep(orc, StepContexts, func(ctx context.Context) ([]session.ContextSelection, error) {
		entry, err := orc.entry()
		if err != nil {
			return nil, err
		}
		return entry.ApplicableContexts(ctx, orc.LoginInfo())
	}, func(ctx context.Context, contexts []session.ContextSelection) {
		orc.stateMutex.Lock()
		orc.contexts = contexts
		orc.stateMutex.Unlock()
		if err := orc.status.Advance(session.StatusConnected, session.StatusContextsAvailable); err != nil {
			logrus.Errorf("contexts: %s", err)
		}
	})
}

// loginStep re-establishes the session with the final login info and logs in
func (orc *Orchestrator) loginStep(selection session.ContextSelection) command.Command {
	return newStep(orc, StepLogin, func(ctx context.Context) (*session.Session, error) {
		orc.stateMutex.RLock()
		conn := orc.conn
		info := orc.info.WithContext(selection)
		orc.stateMutex.RUnlock()
		if conn == nil {
			return nil, communication.ErrNotConnected
		}
		conn.SetLoginInfo(info)
		if err := conn.Reconnect(ctx); err != nil {
			return nil, err
		}
		result, err := conn.Entry().Login(ctx, info)
		if err != nil {
			return nil, err
		}
		if result.CorrelationID != "" && result.CorrelationID != info.CorrelationID() {
			logrus.Infof("login: server issued correlation id '%s'", result.CorrelationID)
			info = info.WithCorrelationID(result.CorrelationID)
		}
		conn.SetLoginInfo(info)
		return result.Session(info)
	}, func(ctx context.Context, sess *session.Session) {
		orc.stateMutex.Lock()
		orc.info = sess.LoginInfo()
		orc.stateMutex.Unlock()
		if err := orc.status.LoggedIn(sess); err != nil {
			logrus.Errorf("login: %s", err)
		}
	})
}

// servicesStep creates proxies for the server services and bridges them into the local registry
func (orc *Orchestrator) servicesStep() command.Command {
	return newStep(orc, StepServices, func(ctx context.Context) ([]bridgedService, error) {
		entry, err := orc.entry()
		if err != nil {
			return nil, err
		}
		descriptors, err := entry.Services(ctx)
		if err != nil {
			return nil, err
		}
		env := orc.Environment()
		bridged := make([]bridgedService, 0, len(descriptors))
		for _, descriptor := range descriptors {
			descriptor := descriptor
			proxy, err := env.NewProxy(ctx, &descriptor)
			if err != nil {
				return nil, fmt.Errorf("service '%s': %w", descriptor.Name, err)
			}
			bridged = append(bridged, bridgedService{descriptor: descriptor, proxy: proxy})
		}
		return bridged, nil
	}, func(ctx context.Context, bridged []bridgedService) {
		for _, b := range bridged {
			orc.registry.Bridge(b.descriptor, b.proxy)
		}
	})
}

// buildUIStep fetches the main UI definition and hands it to the UI builder
func (orc *Orchestrator) buildUIStep() command.Command {
	return newStep(orc, StepBuildUI, func(ctx context.Context) (*communication.UIDefinition, error) {
		entry, err := orc.entry()
		if err != nil {
			return nil, err
		}
		return entry.MainUIDefinition(ctx)
	}, func(ctx context.Context, def *communication.UIDefinition) {
		orc.stateMutex.Lock()
		orc.uiDef = def
		orc.stateMutex.Unlock()
		if orc.collab.UIBuilder != nil && def != nil {
			if err := orc.collab.UIBuilder.BuildMainUI(def); err != nil {
				orc.errorHandler.Handle(command.Trace(err, StepBuildUI))
			}
		}
	})
}

// persistStep stores the profile. A failure only aborts when the profile is mandatory.
func (orc *Orchestrator) persistStep() command.Command {
	req := newStep(orc, StepPersist, func(ctx context.Context) (bool, error) {
		if orc.profiles == nil || orc.profileName == "" {
			return false, nil
		}
		info := orc.LoginInfo()
		p := orc.storedProfile()
		if p == nil {
			p = &profile.LoginProfile{Name: orc.profileName}
		}
		cs := info.ConnectionSettings()
		p.Protocol = cs.Protocol()
		p.Host = cs.Host()
		p.Port = cs.Port()
		p.Binding = cs.Binding()
		p.LoginName = info.AuthenticationEntry().UserName()
		p.Context = info.Context()
		p.CorrelationID = info.CorrelationID()
		p.LastLogin = time.Now()
		return true, orc.profiles.Save(p)
	}, nil)
	req.OnError = func(ctx context.Context, err *command.TracedError) command.Policy {
		orc.setSurfaceEnabled(true)
		if p := orc.storedProfile(); p != nil && p.Mandatory {
			return command.PolicyAbort
		}
		return command.PolicyContinue
	}
	return req
}

// confirmStep marks the client as running
func (orc *Orchestrator) confirmStep() command.Command {
	return newStep(orc, StepConfirm, func(ctx context.Context) (bool, error) {
		return true, nil
	}, func(ctx context.Context, _ bool) {
		if err := orc.status.Advance(session.StatusLoggedIn, session.StatusRunning); err != nil {
			logrus.Errorf("confirm: %s", err)
		}
	})
}

// Connect runs the first part of the login: connect, authenticate and fetch the contexts.
// On success the client is CONTEXTS_AVAILABLE and the applicable contexts are returned.
func (orc *Orchestrator) Connect(ctx context.Context) ([]session.ContextSelection, error) {
	if orc.status.Status() != session.StatusNotConnected {
		return nil, fmt.Errorf("cannot connect while %s", orc.status.Status())
	}
	orc.tracker.Reset()
	orc.stateMutex.Lock()
	if orc.info != nil && orc.info.CorrelationID() == "" {
		correlationID := uuid.NewString()
		if p := orc.storedProfile(); p != nil && p.CorrelationID != "" {
			correlationID = p.CorrelationID
		}
		orc.info = orc.info.WithCorrelationID(correlationID)
	}
	orc.stateMutex.Unlock()

	seq := command.NewSequence("connect", orc.runner,
		orc.connectStep(),
		orc.authenticateStep(),
		orc.contextsStep(),
	)
	if outcome := seq.Run(ctx); outcome.Aborted {
		return nil, orc.abortError(outcome)
	}
	return orc.Contexts(), nil
}

// CompleteLogin runs the second part of the login with the selected context.
// On success the client is RUNNING. On failure of the login step the client remains
// CONTEXTS_AVAILABLE and CompleteLogin can be retried.
func (orc *Orchestrator) CompleteLogin(ctx context.Context, selection session.ContextSelection) error {
	if orc.status.Status() != session.StatusContextsAvailable {
		return fmt.Errorf("cannot login while %s", orc.status.Status())
	}
	contexts := orc.Contexts()
	if len(contexts) > 0 && !containsContext(contexts, selection) {
		return errors.New(orc.text(TextUnknownContext, selection.ApplicationContext))
	}
	seq := command.NewSequence("login", orc.runner,
		orc.loginStep(selection),
		orc.servicesStep(),
		orc.buildUIStep(),
		orc.persistStep(),
		orc.confirmStep(),
	)
	if outcome := seq.Run(ctx); outcome.Aborted {
		return orc.abortError(outcome)
	}
	return nil
}

// Login runs the full login. The context is taken from the stored profile if it is still
// applicable, otherwise the ContextPresenter is asked to let the user choose.
func (orc *Orchestrator) Login(ctx context.Context) error {
	contexts, err := orc.Connect(ctx)
	if err != nil {
		return err
	}
	selection, err := orc.chooseContext(ctx, contexts)
	if err != nil {
		return err
	}
	return orc.CompleteLogin(ctx, selection)
}

func (orc *Orchestrator) chooseContext(ctx context.Context, contexts []session.ContextSelection) (session.ContextSelection, error) {
	if p := orc.storedProfile(); p != nil && p.HasContext() {
		if len(contexts) == 0 || containsContext(contexts, p.Context) {
			logrus.Infof("Login: using context '%s' of profile '%s'", p.Context.ApplicationContext, p.Name)
			return p.Context, nil
		}
	}
	switch {
	case len(contexts) == 0:
		return session.ContextSelection{}, nil
	case orc.collab.Presenter != nil:
		return orc.collab.Presenter.PresentContexts(ctx, contexts)
	case len(contexts) == 1:
		return contexts[0], nil
	}
	return session.ContextSelection{}, ErrNoContextSelected
}

// abortError returns the error of an aborted sequence
func (orc *Orchestrator) abortError(outcome command.SequenceOutcome) error {
	if err := outcome.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s: aborted", outcome.Last.Command)
}

// Logout ends the session. The remote logout is best-effort. Afterwards the client is NOT_CONNECTED.
func (orc *Orchestrator) Logout(ctx context.Context) {
	if orc.status.Status() == session.StatusNotConnected {
		return
	}
	orc.stateMutex.Lock()
	conn := orc.conn
	orc.conn = nil
	orc.env = nil
	orc.contexts = nil
	orc.uiDef = nil
	orc.stateMutex.Unlock()

	if conn != nil {
		_, err := orc.queue.Execute(ctx, func(ctx context.Context) (any, error) {
			if entry := conn.Entry(); entry != nil {
				if err := entry.Logout(ctx); err != nil {
					logrus.Warningf("Logout: remote logout failed: %s", err)
				}
			}
			return nil, conn.Close()
		})
		if err != nil {
			logrus.Warningf("Logout: closing the connection failed: %s", err)
		}
	}
	orc.registry.RemoveRemote()
	orc.status.Reset()
	orc.tracker.Reset()
}

// Shutdown logs out, disposes the UI resources and terminates the process
func (orc *Orchestrator) Shutdown(ctx context.Context) {
	orc.Logout(ctx)
	if orc.collab.Disposer != nil {
		orc.collab.Disposer.Dispose()
	}
	orc.queue.Close()
	logrus.Infof("Shutdown: exiting")
	orc.ExitHook(0)
}

func containsContext(contexts []session.ContextSelection, selection session.ContextSelection) bool {
	for _, c := range contexts {
		if c.ApplicationContext == selection.ApplicationContext && c.Locale == selection.Locale {
			return true
		}
	}
	return false
}

// NewOrchestrator creates the login orchestrator of a client
//
//  comm is the communication of the protocol to log in with
//  info with the client identity, credential and connection settings
//  collab with the UI collaborators
//  profiles store to persist the profile in. nil to not persist.
//  profileName of the active profile
//  registry of local services to bridge the server services into. nil for a new registry.
//  m is optional and can be nil
func NewOrchestrator(comm communication.Communication, info *session.LoginInfo, collab Collaborators,
	profiles *profile.Store, profileName string, registry *services.ServiceRegistry, m *metrics.Metrics) *Orchestrator {

	if collab.Localizer == nil {
		collab.Localizer = defaultLocalizer{}
	}
	if registry == nil {
		registry = services.NewServiceRegistry()
	}
	orc := &Orchestrator{
		comm:        comm,
		collab:      collab,
		profiles:    profiles,
		profileName: profileName,
		registry:    registry,
		metrics:     m,
		info:        info,
		status:      NewStatusMachine(m),
		tracker:     command.NewProgressTracker(),
		queue:       executor.NewQueueExecutor("login", executor.NewDirectExecutor(m)),
		ExitHook:    os.Exit,
	}
	orc.ResolverHook = func(info *session.LoginInfo, channel typeresolver.RemoteChannel, codebase string) *typeresolver.Chain {
		return communication.NewResolverChain(orc.comm, info, channel, codebase)
	}
	orc.errorHandler = command.NewErrorHandler(func(err *command.TracedError) {
		if orc.collab.Dialogs == nil {
			return
		}
		title := orc.text(TextLoginFailed)
		if err.Command != "" {
			title = orc.text(TextStepFailed, err.Command)
		}
		orc.collab.Dialogs.ShowError(title, err.Error())
	})
	orc.runner = command.NewRunner(orc.queue, orc.errorHandler, m)
	if collab.Progress != nil {
		orc.tracker.Subscribe(collab.Progress)
	}
	return orc
}
