package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const roleUser = "user"

// chatLine is one rendered transcript entry
type chatLine struct {
	role string
	text string
	open bool
}

// Model is the bubbletea model of the chat screen. It only mirrors what
// the coordination core tells it; the transcript itself lives in the core.
type Model struct {
	width  int
	height int

	assistant  string
	maxEntries int
	status     string
	connected  bool

	lines    []chatLine
	viewport viewport.Model
	input    textinput.Model
	help     help.Model

	styles Styles
	keys   KeyMap

	submit func(string)
}

// NewModel creates the chat model. submit receives every non-empty line
// the user enters.
func NewModel(assistant string, maxEntries int, submit func(string)) Model {
	ti := textinput.New()
	ti.Placeholder = "Say something to " + assistant + "..."
	ti.CharLimit = 4096
	ti.Width = 76
	ti.Focus()

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return Model{
		assistant:  assistant,
		maxEntries: maxEntries,
		viewport:   vp,
		input:      ti,
		help:       help.New(),
		styles:     DefaultStyles(),
		keys:       DefaultKeyMap(),
		submit:     submit,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m = m.updateDimensions()
		return m, nil

	case statusMsg:
		m.status = msg.label
		return m, nil

	case connectionMsg:
		m.connected = msg.connected
		return m, nil

	case userMessageMsg:
		m = m.addLine(chatLine{role: roleUser, text: msg.text})

	case streamStartMsg:
		m = m.closeOpen()
		m = m.addLine(chatLine{role: m.assistant, open: true})

	case streamAppendMsg:
		if i := m.openIndex(); i >= 0 {
			m.lines[i].text += msg.text
		}

	case streamFinalMsg:
		if i := m.openIndex(); i >= 0 {
			m.lines[i].text = msg.text
			m.lines[i].open = false
		}

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	m.viewport.SetContent(m.renderChat())
	m.viewport.GotoBottom()
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		submit := m.submit
		return m, func() tea.Msg {
			if submit != nil {
				submit(text)
			}
			return nil
		}

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model
func (m Model) View() string {
	header := m.styles.Header.Render(strings.ToUpper(m.assistant))

	conn := m.styles.Disconnected.Render("offline")
	if m.connected {
		conn = m.styles.Connected.Render("online")
	}
	status := lipgloss.JoinHorizontal(lipgloss.Top, m.styles.StatusBar.Render(m.status), conn)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.styles.ChatPanel.Render(m.viewport.View()),
		status,
		m.styles.InputBar.Render(m.input.View()),
		m.styles.Help.Render(m.help.View(m.keys)),
	)
}

func (m Model) updateDimensions() Model {
	headerHeight := 1
	statusHeight := 1
	inputHeight := 3
	helpHeight := 1
	borders := 2

	chatHeight := m.height - headerHeight - statusHeight - inputHeight - helpHeight - borders
	if chatHeight < 1 {
		chatHeight = 1
	}

	m.viewport.Width = max(m.width-4, 10)
	m.viewport.Height = chatHeight
	m.input.Width = max(m.width-6, 10)
	m.help.Width = m.width

	m.viewport.SetContent(m.renderChat())
	return m
}

func (m Model) addLine(l chatLine) Model {
	m.lines = append(m.lines, l)
	if m.maxEntries > 0 && len(m.lines) > m.maxEntries {
		m.lines = append([]chatLine(nil), m.lines[len(m.lines)-m.maxEntries:]...)
	}
	return m
}

func (m Model) closeOpen() Model {
	if i := m.openIndex(); i >= 0 {
		m.lines[i].open = false
	}
	return m
}

func (m Model) openIndex() int {
	for i := len(m.lines) - 1; i >= 0; i-- {
		if m.lines[i].open {
			return i
		}
	}
	return -1
}

func (m Model) renderChat() string {
	var sb strings.Builder

	for _, l := range m.lines {
		if l.role == roleUser {
			sb.WriteString(m.styles.UserMsg.Render("You: "))
			sb.WriteString(l.text)
		} else {
			sb.WriteString(m.styles.BotMsg.Render(l.role + ": "))
			if l.open {
				sb.WriteString(m.styles.Streaming.Render(l.text + "▍"))
			} else {
				sb.WriteString(l.text)
			}
		}
		sb.WriteString("\n\n")
	}

	return sb.String()
}

// Messages sent into the program

type statusMsg struct{ label string }

type connectionMsg struct{ connected bool }

type userMessageMsg struct{ text string }

type streamStartMsg struct{}

type streamAppendMsg struct{ text string }

type streamFinalMsg struct{ text string }
