package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wostzone/wost-session/pkg/command"
	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/login"
	"github.com/wostzone/wost-session/pkg/session"
)

// ConsoleUI implements the login collaborators on a terminal
type ConsoleUI struct {
	in  *bufio.Reader
	out io.Writer
}

// ShowError prints the error
func (ui *ConsoleUI) ShowError(title string, message string) {
	fmt.Fprintf(ui.out, "ERROR %s: %s\n", title, message)
}

// PresentContexts lists the contexts and reads the number of the chosen one
func (ui *ConsoleUI) PresentContexts(ctx context.Context, contexts []session.ContextSelection) (session.ContextSelection, error) {
	fmt.Fprintln(ui.out, "Available contexts:")
	for i, c := range contexts {
		fmt.Fprintf(ui.out, "  %d) %s (%s)\n", i+1, c.ApplicationContext, c.Locale)
	}
	for {
		if err := ctx.Err(); err != nil {
			return session.ContextSelection{}, err
		}
		fmt.Fprintf(ui.out, "Choose a context [1-%d]: ", len(contexts))
		line, err := ui.in.ReadString('\n')
		if err != nil {
			return session.ContextSelection{}, fmt.Errorf("no context chosen: %w", err)
		}
		choice, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && choice >= 1 && choice <= len(contexts) {
			return contexts[choice-1], nil
		}
	}
}

// BuildMainUI prints the menus and toolbars of the main UI
func (ui *ConsoleUI) BuildMainUI(def *communication.UIDefinition) error {
	fmt.Fprintf(ui.out, "== %s ==\n", def.Title)
	for _, menu := range def.Menus {
		fmt.Fprintf(ui.out, "menu %s:", menu.Label)
		for _, item := range menu.Items {
			fmt.Fprintf(ui.out, " [%s]", item.Label)
		}
		fmt.Fprintln(ui.out)
	}
	for _, bar := range def.Toolbars {
		fmt.Fprintf(ui.out, "toolbar %s: %d items\n", bar.Label, len(bar.Items))
	}
	return nil
}

// OnProgress prints the login progress
func (ui *ConsoleUI) OnProgress(report command.ProgressReport) {
	fmt.Fprintf(ui.out, "%3d%% %s\n", report.Percentage, report.Label)
}

// Dispose prints a goodbye
func (ui *ConsoleUI) Dispose() {
	fmt.Fprintln(ui.out, "bye")
}

// ReadLine prompts for a line of input
func (ui *ConsoleUI) ReadLine(prompt string) (string, error) {
	fmt.Fprint(ui.out, prompt)
	line, err := ui.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Collaborators returns the login collaborators backed by the console
func (ui *ConsoleUI) Collaborators() login.Collaborators {
	return login.Collaborators{
		Dialogs:   ui,
		Presenter: ui,
		UIBuilder: ui,
		Disposer:  ui,
		Progress:  ui,
	}
}

// NewConsoleUI creates a console UI reading from in and writing to out
func NewConsoleUI(in io.Reader, out io.Writer) *ConsoleUI {
	return &ConsoleUI{in: bufio.NewReader(in), out: out}
}
