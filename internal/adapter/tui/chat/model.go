package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"searchchat/internal/adapter/tui/theme"
	"searchchat/internal/domain"
)

const (
	headerHeight = 1
	statusHeight = 1
	inputHeight  = 3
	inputChrome  = 2 // rounded border
	inputLimit   = 4000
)

// ChatService runs the chat session behind the terminal UI.
type ChatService interface {
	Start(ctx context.Context, sessionID, threadID string, sink domain.ReplySink) error
	HandleMessage(ctx context.Context, sessionID, text string) error
	End(ctx context.Context, sessionID string) error
	Discard(ctx context.Context, sessionID string)
}

// ChatModelDeps holds the dependencies of ChatModel.
type ChatModelDeps struct {
	Chat      ChatService
	Ctx       context.Context
	SessionID string
	ThreadID  string
	Sink      domain.ReplySink
	ModelName string
	// MarkdownStyle is a glamour standard style name. Empty picks a style
	// from the terminal background.
	MarkdownStyle string
}

type entry struct {
	user     bool
	isError  bool
	content  string
	rendered string
}

// ChatModel is the Bubble Tea model of a single chat session.
type ChatModel struct {
	deps ChatModelDeps

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	md       *glamour.TermRenderer
	mdWidth  int

	entries []entry
	byID    map[string]int

	width, height int
	sized         bool
	started       bool
	busy          bool
	ending        bool
	ended         bool
	tool          string
	cancelTurn    context.CancelFunc
	err           error
}

// NewChatModel creates the chat model. The session is started by Init.
func NewChatModel(deps ChatModelDeps) ChatModel {
	if deps.Ctx == nil {
		deps.Ctx = context.Background()
	}

	ta := textarea.New()
	ta.Placeholder = "Ask about the weather, the news, or anything else" + theme.SymbolEllipsis
	ta.ShowLineNumbers = false
	ta.CharLimit = inputLimit
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.TextInfo

	return ChatModel{
		deps:     deps,
		viewport: viewport.New(80, 20),
		input:    ta,
		spinner:  sp,
		byID:     make(map[string]int),
	}
}

// Init implements tea.Model.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		startSessionCmd(m.deps.Ctx, m.deps.Chat, m.deps.SessionID, m.deps.ThreadID, m.deps.Sink),
	)
}

// Update implements tea.Model.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.sized = true
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SessionStartedMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, tea.Quit
		}
		m.started = true
		return m, nil

	case ReplyMsg:
		m.applyReply(msg)
		return m, nil

	case ToolStartedMsg:
		m.tool = msg.Name
		return m, nil

	case HandlerDoneMsg:
		m.busy = false
		m.tool = ""
		if m.cancelTurn != nil {
			m.cancelTurn()
			m.cancelTurn = nil
		}
		if msg.Err != nil && !errors.Is(msg.Err, context.Canceled) {
			m.entries = append(m.entries, entry{isError: true, content: msg.Err.Error()})
			m.refresh()
		}
		return m, nil

	case SessionEndedMsg:
		m.ended = msg.Err == nil
		return m, tea.Quit

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m.quit()
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	switch text {
	case "":
		return m, nil
	case "/quit", "/exit":
		m.input.Reset()
		return m.quit()
	}
	if !m.started || m.busy || m.ending {
		return m, nil
	}

	m.input.Reset()
	m.entries = append(m.entries, entry{user: true, content: text})
	m.refresh()
	m.viewport.GotoBottom()

	ctx, cancel := context.WithCancel(m.deps.Ctx)
	m.cancelTurn = cancel
	m.busy = true
	return m, tea.Batch(
		sendMessageCmd(ctx, m.deps.Chat, m.deps.SessionID, text),
		m.spinner.Tick,
	)
}

// quit cancels any running turn and ends the session. A second request
// exits without waiting for the farewell.
func (m ChatModel) quit() (tea.Model, tea.Cmd) {
	if m.ending || !m.started {
		return m, tea.Quit
	}
	m.ending = true
	if m.cancelTurn != nil {
		m.cancelTurn()
	}
	return m, endSessionCmd(m.deps.Ctx, m.deps.Chat, m.deps.SessionID)
}

func (m *ChatModel) applyReply(msg ReplyMsg) {
	out := msg.Message
	if i, ok := m.byID[out.ID]; ok {
		m.entries[i].content = out.Content
		m.entries[i].isError = out.IsError
		m.entries[i].rendered = ""
	} else {
		m.byID[out.ID] = len(m.entries)
		m.entries = append(m.entries, entry{content: out.Content, isError: out.IsError})
	}
	m.refresh()
}

// View implements tea.Model.
func (m ChatModel) View() string {
	if !m.sized {
		return "Starting" + theme.SymbolEllipsis
	}

	header := theme.Header.Render("searchchat")
	if m.deps.ModelName != "" {
		header += theme.TextMuted.Render(m.deps.ModelName)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.statusLine(),
		theme.InputBorder.Render(m.input.View()),
	)
}

func (m ChatModel) statusLine() string {
	var s string
	switch {
	case m.ending:
		s = "Ending session" + theme.SymbolEllipsis
	case m.busy && m.tool != "":
		s = m.spinner.View() + " " + theme.ToolLabel.Render(theme.SymbolSearch+" "+m.tool)
	case m.busy:
		s = m.spinner.View() + " Thinking" + theme.SymbolEllipsis
	case !m.started:
		s = "Connecting" + theme.SymbolEllipsis
	default:
		s = "enter send · pgup/pgdn scroll · /quit leave"
	}
	return theme.StatusBar.Width(max(m.width, 1)).Render(s)
}

func (m *ChatModel) layout() {
	m.input.SetWidth(max(m.width-inputChrome, 10))
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-headerHeight-statusHeight-inputHeight-inputChrome, 1)
}

func (m *ChatModel) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderEntries())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *ChatModel) renderEntries() string {
	width := m.contentWidth()
	if width != m.mdWidth {
		for i := range m.entries {
			m.entries[i].rendered = ""
		}
	}
	var b strings.Builder
	for i := range m.entries {
		e := &m.entries[i]
		if i > 0 {
			b.WriteString("\n")
		}
		switch {
		case e.user:
			b.WriteString(theme.UserLabel.Render(theme.SymbolUser))
			b.WriteString("\n")
			b.WriteString(lipgloss.NewStyle().Width(width).Render(e.content))
		case e.isError:
			b.WriteString(theme.ErrorLabel.Render(theme.SymbolError + " " + theme.SymbolBot))
			b.WriteString("\n")
			b.WriteString(lipgloss.NewStyle().Width(width).Render(e.content))
		default:
			b.WriteString(theme.BotLabel.Render(theme.SymbolBot))
			b.WriteString("\n")
			if e.rendered == "" {
				e.rendered = m.renderMarkdown(e.content, width)
			}
			b.WriteString(e.rendered)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *ChatModel) renderMarkdown(content string, width int) string {
	if content == "" {
		return theme.Dim.Render(theme.SymbolEllipsis)
	}
	if m.md == nil || m.mdWidth != width {
		opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
		if m.deps.MarkdownStyle != "" {
			opts = append(opts, glamour.WithStandardStyle(m.deps.MarkdownStyle))
		} else {
			opts = append(opts, glamour.WithAutoStyle())
		}
		r, err := glamour.NewTermRenderer(opts...)
		if err != nil {
			return content
		}
		m.md, m.mdWidth = r, width
	}
	out, err := m.md.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}

func (m ChatModel) contentWidth() int {
	return theme.Clamp(m.width-2, 20, theme.MaxContentWidth)
}
