package testenv

import (
	"context"
	"sync"

	"github.com/wostzone/wost-session/pkg/command"
	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/login"
	"github.com/wostzone/wost-session/pkg/session"
)

// TestUI is an in-memory UI that implements all login collaborators
type TestUI struct {
	// ChooseContext selects the context to present. Default is the first.
	ChooseContext func(contexts []session.ContextSelection) session.ContextSelection

	errors   []string
	enabled  bool
	built    *communication.UIDefinition
	disposed bool
	progress []int
	mutex    sync.Mutex
}

// ShowError records the error message
func (ui *TestUI) ShowError(title string, message string) {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	ui.errors = append(ui.errors, title+": "+message)
}

// SetEnabled records the enabled state of the surface
func (ui *TestUI) SetEnabled(enabled bool) {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	ui.enabled = enabled
}

// PresentContexts picks a context using ChooseContext
func (ui *TestUI) PresentContexts(_ context.Context, contexts []session.ContextSelection) (session.ContextSelection, error) {
	if ui.ChooseContext != nil {
		return ui.ChooseContext(contexts), nil
	}
	return contexts[0], nil
}

// BuildMainUI records the definition
func (ui *TestUI) BuildMainUI(def *communication.UIDefinition) error {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	ui.built = def
	return nil
}

// Dispose marks the UI disposed
func (ui *TestUI) Dispose() {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	ui.disposed = true
}

// OnProgress records the progress percentage
func (ui *TestUI) OnProgress(report command.ProgressReport) {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	ui.progress = append(ui.progress, report.Percentage)
}

// Errors shown so far
func (ui *TestUI) Errors() []string {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	return append([]string(nil), ui.errors...)
}

// Enabled returns the state of the surface
func (ui *TestUI) Enabled() bool {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	return ui.enabled
}

// Built returns the main UI definition, nil if not built
func (ui *TestUI) Built() *communication.UIDefinition {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	return ui.built
}

// Disposed returns true after Dispose
func (ui *TestUI) Disposed() bool {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	return ui.disposed
}

// Progress returns the reported percentages
func (ui *TestUI) Progress() []int {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	return append([]int(nil), ui.progress...)
}

// Collaborators returns the login collaborators backed by this UI
func (ui *TestUI) Collaborators() login.Collaborators {
	return login.Collaborators{
		Dialogs:   ui,
		Surface:   ui,
		Presenter: ui,
		UIBuilder: ui,
		Disposer:  ui,
		Progress:  ui,
	}
}

// NewTestUI creates an enabled test UI
func NewTestUI() *TestUI {
	return &TestUI{enabled: true}
}
