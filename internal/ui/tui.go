// Package ui presents status and transcript to the user and collects
// their utterances, either as a terminal UI or as log lines.
package ui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/normanking/astraavatar/internal/bus"
)

// TUI is the interactive terminal interface
type TUI struct {
	program *tea.Program
}

// Options configures the TUI
type Options struct {
	Assistant  string
	MaxEntries int
	// Submit receives each line the user enters
	Submit func(string)
	// ProgramOptions are passed to tea.NewProgram after the defaults
	ProgramOptions []tea.ProgramOption
}

// NewTUI creates the terminal interface. Calls made before Run block
// until the program starts reading messages.
func NewTUI(opts Options) *TUI {
	if opts.Assistant == "" {
		opts.Assistant = "astra"
	}
	model := NewModel(opts.Assistant, opts.MaxEntries, opts.Submit)

	programOpts := append([]tea.ProgramOption{tea.WithAltScreen()}, opts.ProgramOptions...)
	return &TUI{program: tea.NewProgram(model, programOpts...)}
}

// Run starts the program and blocks until the user quits or ctx ends
func (t *TUI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.program.Quit()
	}()

	if _, err := t.program.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// WatchConnection mirrors connection state into the status bar
func (t *TUI) WatchConnection(eventBus *bus.EventBus) {
	eventBus.Subscribe(bus.EventTypeConnected, func(bus.Event) {
		t.program.Send(connectionMsg{connected: true})
	})
	eventBus.Subscribe(bus.EventTypeDisconnected, func(bus.Event) {
		t.program.Send(connectionMsg{connected: false})
	})
}

func (t *TUI) SetStatus(label string) {
	t.program.Send(statusMsg{label: label})
}

func (t *TUI) AppendUserMessage(text string) {
	t.program.Send(userMessageMsg{text: text})
}

func (t *TUI) StartStreamingMessage() {
	t.program.Send(streamStartMsg{})
}

func (t *TUI) AppendToStreamingMessage(text string) {
	t.program.Send(streamAppendMsg{text: text})
}

func (t *TUI) FinalizeStreamingMessage(text string) {
	t.program.Send(streamFinalMsg{text: text})
}
