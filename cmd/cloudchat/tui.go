package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/config"
)

type chatTheme struct {
	header lipgloss.Style
	user   lipgloss.Style
	bot    lipgloss.Style
	status lipgloss.Style
	errLn  lipgloss.Style
	input  lipgloss.Style
}

func newChatTheme() chatTheme {
	orange := lipgloss.Color("#ff9900")
	blue := lipgloss.Color("#01cdfe")
	muted := lipgloss.Color("#9ca3d8")
	pink := lipgloss.Color("#ff71ce")

	return chatTheme{
		header: lipgloss.NewStyle().Foreground(orange).Bold(true),
		user:   lipgloss.NewStyle().Foreground(blue).Bold(true),
		bot:    lipgloss.NewStyle().Foreground(orange).Bold(true),
		status: lipgloss.NewStyle().Foreground(muted),
		errLn:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
	}
}

type chatLine struct {
	speaker string
	text    string
}

type chatReadyMsg struct {
	toolCount int
	err       error
}

type chatReplyMsg struct {
	user  string
	reply string
}

type chatModel struct {
	cfg       *config.Config
	assistant Assistant

	ready    bool
	inflight bool
	lines    []chatLine
	status   string

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    chatTheme
}

func newChatModel(cfg *config.Config, assistant Assistant) chatModel {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Placeholder = "Ask about your AWS account..."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff9900"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true

	return chatModel{
		cfg:       cfg,
		assistant: assistant,
		status:    "starting tool servers...",
		input:     input,
		timeline:  timeline,
		spinner:   sp,
		theme:     newChatTheme(),
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.initCmd())
}

func (m chatModel) initCmd() tea.Cmd {
	assistant := m.assistant
	return func() tea.Msg {
		if err := assistant.Initialize(); err != nil {
			return chatReadyMsg{err: err}
		}
		return chatReadyMsg{toolCount: len(assistant.Tools())}
	}
}

func (m chatModel) askCmd(text string) tea.Cmd {
	assistant := m.assistant
	return func() tea.Msg {
		reply := assistant.ProcessMessage(context.Background(), text)
		return chatReplyMsg{user: text, reply: reply}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.timeline.Width = msg.Width - 2
		m.timeline.Height = msg.Height - 6
		m.input.Width = msg.Width - 6
		m.timeline.SetContent(m.renderLines())

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || !m.ready || m.inflight {
				break
			}
			if text == "exit" || text == "quit" {
				return m, tea.Quit
			}
			m.input.SetValue("")
			m.inflight = true
			m.lines = append(m.lines, chatLine{speaker: "you", text: text})
			m.timeline.SetContent(m.renderLines())
			m.timeline.GotoBottom()
			cmds = append(cmds, m.askCmd(text))
		}

	case chatReadyMsg:
		if msg.err != nil {
			m.status = "startup failed: " + msg.err.Error()
			break
		}
		m.ready = true
		m.status = fmt.Sprintf("ready (%d tools)", msg.toolCount)

	case chatReplyMsg:
		m.inflight = false
		m.lines = append(m.lines, chatLine{speaker: "cloudchat", text: msg.reply})
		m.timeline.SetContent(m.renderLines())
		m.timeline.GotoBottom()
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)
	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m chatModel) renderLines() string {
	var sb strings.Builder
	for _, line := range m.lines {
		label := m.theme.user
		if line.speaker != "you" {
			label = m.theme.bot
		}
		sb.WriteString(label.Render(line.speaker+":") + " " + line.text + "\n\n")
	}
	return sb.String()
}

func (m chatModel) View() string {
	header := m.theme.header.Render("cloudchat") + "  " +
		m.theme.status.Render(m.cfg.Agent.Model+" / "+m.cfg.AWS.Region)

	statusLine := m.theme.status.Render(m.status)
	if !m.ready && !strings.HasPrefix(m.status, "startup failed") {
		statusLine = m.spinner.View() + " " + statusLine
	} else if strings.HasPrefix(m.status, "startup failed") {
		statusLine = m.theme.errLn.Render(m.status)
	}

	inputView := m.input.View()
	if m.inflight {
		inputView = m.spinner.View() + " thinking... " + inputView
	}

	return header + "\n" +
		statusLine + "\n\n" +
		m.timeline.View() + "\n" +
		m.theme.input.Render(inputView)
}

func runChatUI(cfg *config.Config, assistant Assistant) error {
	defer assistant.Cleanup()
	p := tea.NewProgram(newChatModel(cfg, assistant), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat ui: %w", err)
	}
	return nil
}
