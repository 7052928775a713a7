package ui

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func TestModel_StreamedMessage(t *testing.T) {
	m := NewModel("astra", 0, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m, _ = update(t, m, userMessageMsg{text: "Hi"})
	m, _ = update(t, m, streamStartMsg{})
	m, _ = update(t, m, streamAppendMsg{text: "Hel"})
	m, _ = update(t, m, streamAppendMsg{text: "lo"})

	require.Len(t, m.lines, 2)
	assert.Equal(t, "Hello", m.lines[1].text)
	assert.True(t, m.lines[1].open)

	m, _ = update(t, m, streamFinalMsg{text: "Hello!"})
	assert.Equal(t, "Hello!", m.lines[1].text)
	assert.False(t, m.lines[1].open)
	assert.Equal(t, -1, m.openIndex())

	view := m.View()
	assert.Contains(t, view, "You: Hi")
	assert.Contains(t, view, "astra: Hello!")
}

func TestModel_StartClosesPreviousMessage(t *testing.T) {
	m := NewModel("astra", 0, nil)

	m, _ = update(t, m, streamStartMsg{})
	m, _ = update(t, m, streamAppendMsg{text: "first"})
	m, _ = update(t, m, streamStartMsg{})
	m, _ = update(t, m, streamAppendMsg{text: "second"})

	require.Len(t, m.lines, 2)
	assert.False(t, m.lines[0].open)
	assert.Equal(t, "first", m.lines[0].text)
	assert.Equal(t, "second", m.lines[1].text)

	// nothing open, nothing to append to
	m, _ = update(t, m, streamFinalMsg{text: "second"})
	m, _ = update(t, m, streamAppendMsg{text: "stray"})
	assert.Equal(t, "second", m.lines[1].text)
}

func TestModel_TrimsLines(t *testing.T) {
	m := NewModel("astra", 3, nil)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		m, _ = update(t, m, userMessageMsg{text: text})
	}

	require.Len(t, m.lines, 3)
	assert.Equal(t, "c", m.lines[0].text)
	assert.Equal(t, "e", m.lines[2].text)
}

func TestModel_StatusAndConnection(t *testing.T) {
	m := NewModel("astra", 0, nil)

	m, _ = update(t, m, statusMsg{label: "Astra is Thinking..."})
	assert.Contains(t, m.View(), "Astra is Thinking...")
	assert.Contains(t, m.View(), "offline")

	m, _ = update(t, m, connectionMsg{connected: true})
	assert.Contains(t, m.View(), "online")
}

func TestModel_EnterSubmitsTrimmedInput(t *testing.T) {
	var submitted []string
	m := NewModel("astra", 0, func(text string) { submitted = append(submitted, text) })

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("  hi there ")})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())

	assert.Equal(t, []string{"hi there"}, submitted)
	assert.Empty(t, m.input.Value())
	// the core echoes the message back; nothing is added locally
	assert.Empty(t, m.lines)

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Len(t, submitted, 1)
}

func TestModel_Quit(t *testing.T) {
	m := NewModel("astra", 0, nil)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTUI_RunStopsWithContext(t *testing.T) {
	ui := NewTUI(Options{
		ProgramOptions: []tea.ProgramOption{tea.WithInput(nil), tea.WithOutput(io.Discard)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ui.Run(ctx) }()

	ui.SetStatus("Astra is Idle")
	ui.AppendUserMessage("Hi")
	ui.StartStreamingMessage()
	ui.AppendToStreamingMessage("Hel")
	ui.FinalizeStreamingMessage("Hello")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("TUI did not stop")
	}
}

func TestTUI_StatusBeforeRunIsDeliveredOnStart(t *testing.T) {
	ui := NewTUI(Options{
		ProgramOptions: []tea.ProgramOption{tea.WithInput(nil), tea.WithOutput(io.Discard)},
	})

	// the executor reports its first status while the program is still starting
	sent := make(chan struct{})
	go func() {
		ui.SetStatus("Astra is Idle")
		close(sent)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ui.Run(ctx) }()

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("status was never taken by the running program")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("TUI did not stop")
	}
}

func TestLogUI(t *testing.T) {
	var buf bytes.Buffer
	u := NewLogUI("astra", zerolog.New(&buf).Level(zerolog.DebugLevel))

	u.SetStatus("Astra is Responding")
	u.AppendUserMessage("Hi")
	u.StartStreamingMessage()
	u.AppendToStreamingMessage("Hel")
	u.AppendToStreamingMessage("lo")
	u.FinalizeStreamingMessage("Hello")

	out := buf.String()
	assert.Contains(t, out, `"status":"Astra is Responding"`)
	assert.Contains(t, out, `"sender":"user","text":"Hi"`)
	assert.Contains(t, out, `"chunk":"Hel"`)
	assert.Contains(t, out, `"text":"Hello","streamed":5`)
	assert.Contains(t, out, `"component":"ui"`)
}

func TestReadLines(t *testing.T) {
	var got []string
	err := ReadLines(context.Background(), strings.NewReader("hello\n\n   \n  again  \n"), func(s string) {
		got = append(got, s)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "again"}, got)
}

func TestReadLines_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err := ReadLines(ctx, strings.NewReader("one\ntwo\nthree\n"), func(s string) {
		got = append(got, s)
		cancel()
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, got)
}
