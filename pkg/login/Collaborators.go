package login

import (
	"context"
	"fmt"

	"github.com/wostzone/wost-session/pkg/command"
	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/session"
)

// Dialogs shows messages to the user
type Dialogs interface {
	ShowError(title string, message string)
}

// InteractiveSurface is the part of the UI that is disabled while a step runs
type InteractiveSurface interface {
	SetEnabled(enabled bool)
}

// ContextPresenter lets the user choose one of the applicable contexts.
// PresentContexts blocks until the user made a choice or the context is done.
type ContextPresenter interface {
	PresentContexts(ctx context.Context, contexts []session.ContextSelection) (session.ContextSelection, error)
}

// UIBuilder builds the main UI from the server-declared definition
type UIBuilder interface {
	BuildMainUI(definition *communication.UIDefinition) error
}

// Localizer translates message keys
type Localizer interface {
	Text(key string, args ...any) string
}

// Disposer releases UI resources on shutdown
type Disposer interface {
	Dispose()
}

// Collaborators are the external parts the orchestrator talks to. All are optional.
type Collaborators struct {
	Dialogs   Dialogs
	Surface   InteractiveSurface
	Presenter ContextPresenter
	UIBuilder UIBuilder
	Localizer Localizer
	Disposer  Disposer
	Progress  command.ProgressObserver
}

// defaultLocalizer formats the key with its arguments
type defaultLocalizer struct{}

func (defaultLocalizer) Text(key string, args ...any) string {
	if len(args) == 0 {
		return key
	}
	return fmt.Sprintf(key, args...)
}

// Message keys used by the orchestrator
const (
	TextLoginFailed    = "Login failed"
	TextStepFailed     = "%s failed"
	TextNoContexts     = "No applicable contexts for this user"
	TextUnknownContext = "Context '%s' is not applicable"
)
