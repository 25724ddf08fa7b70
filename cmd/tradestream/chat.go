package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tradestream/internal/chat"
	"github.com/mattjoyce/tradestream/internal/config"
	"github.com/mattjoyce/tradestream/internal/storage"
	"github.com/mattjoyce/tradestream/internal/store"
	"github.com/mattjoyce/tradestream/internal/stream"
	"github.com/mattjoyce/tradestream/internal/tools"
	"github.com/mattjoyce/tradestream/internal/view"
)

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	baseURL := fs.String("url", "", "chat backend base URL (overrides chat.base_url)")
	token := fs.String("token", os.Getenv("TRADESTREAM_TOKEN"), "Bearer token (overrides chat.token)")
	record := fs.Bool("record", false, "record every response into the capture database")
	logFile := fs.String("log-file", "", "write JSON logs to this file instead of discarding them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *baseURL != "" {
		cfg.Chat.BaseURL = *baseURL
	}
	if *token != "" {
		cfg.Chat.Token = *token
	}

	// The TUI owns the terminal, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(logOut, cfg.Service.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := chat.NewClient(chat.ClientConfig{
		BaseURL:           cfg.Chat.BaseURL,
		Path:              cfg.Chat.Path,
		Token:             cfg.Chat.Token,
		Timeout:           cfg.Chat.Timeout,
		RequestsPerMinute: cfg.Chat.RequestsPerMinute,
		Burst:             cfg.Chat.Burst,
		Breaker: chat.BreakerConfig{
			MaxFailures: cfg.Chat.Breaker.MaxFailures,
			Timeout:     cfg.Chat.Breaker.Timeout,
			Interval:    cfg.Chat.Breaker.Interval,
		},
	}, logger)

	opts := []chat.ConversationOption{
		chat.WithProvider(cfg.Chat.Provider),
		chat.WithExtendedThinking(cfg.Chat.ExtendedThinking),
	}
	if *record || cfg.Chat.Record {
		db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		opts = append(opts, chat.WithRecorder(store.NewCaptureStore(db)))
	}

	viewStore := view.NewStore()
	conv := chat.NewConversation(client, viewStore, logger, opts...)
	defer conv.Cancel()

	p := tea.NewProgram(newChatUI(ctx, conv, viewStore, cfg.Chat.BaseURL), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// turnEventMsg carries one event of the turn whose channel is events.
type turnEventMsg struct {
	events <-chan chat.Event
	event  chat.Event
	closed bool
}

type cancelledMsg struct{}

type chatUI struct {
	ctx     context.Context
	conv    *chat.Conversation
	baseURL string

	events  <-chan chat.Event
	busy    bool
	live    *stream.Message
	view    view.State
	notices []string
	input   []rune
	width   int
	height  int
}

func newChatUI(ctx context.Context, conv *chat.Conversation, viewStore *view.Store, baseURL string) chatUI {
	return chatUI{
		ctx:     ctx,
		conv:    conv,
		baseURL: baseURL,
		view:    viewStore.Snapshot(),
	}
}

func (m chatUI) Init() tea.Cmd {
	return nil
}

func (m chatUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case turnEventMsg:
		if msg.events != m.events {
			// Left over from a turn that was replaced.
			return m, nil
		}
		if msg.closed {
			m.busy = false
			m.live = nil
			return m, nil
		}
		m.applyEvent(msg.event)
		return m, waitForTurnEventCmd(m.events)
	case cancelledMsg:
		return m, nil
	default:
		return m, nil
	}
}

func (m chatUI) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		if !m.busy {
			return m, nil
		}
		conv := m.conv
		return m, func() tea.Msg {
			conv.Cancel()
			return cancelledMsg{}
		}
	case tea.KeyEnter:
		text := strings.TrimSpace(string(m.input))
		if text == "" {
			return m, nil
		}
		m.input = nil
		m.events = m.conv.Send(m.ctx, text)
		m.busy = true
		m.live = nil
		return m, waitForTurnEventCmd(m.events)
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeySpace:
		m.input = append(m.input, ' ')
		return m, nil
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
		return m, nil
	}
	return m, nil
}

func (m *chatUI) applyEvent(e chat.Event) {
	switch e.Kind {
	case chat.EventMessage:
		msg := e.Message
		m.live = &msg
	case chat.EventView:
		m.view = e.View
		m.appendNotice(fmt.Sprintf("view: %s", describeView(e.View)))
	case chat.EventError:
		m.appendNotice("backend error: " + e.Err.Error())
	case chat.EventFailed:
		if e.Aborted {
			m.appendNotice("stopped")
		} else if e.Err != nil {
			m.appendNotice("failed: " + trimForLog(e.Err.Error(), 120))
		}
	}
}

func (m *chatUI) appendNotice(line string) {
	m.notices = append(m.notices, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), line))
	if len(m.notices) > 200 {
		m.notices = m.notices[len(m.notices)-200:]
	}
}

func (m chatUI) View() string {
	accent := lipgloss.Color("#22C55E")
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#052E16")).
		Background(accent).
		Padding(0, 1).
		Render("Tradestream")

	state := "READY"
	stateStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1).
		Foreground(lipgloss.Color("#052E16")).Background(lipgloss.Color("#86EFAC"))
	if m.busy {
		state = "STREAMING"
		stateStyle = stateStyle.Background(lipgloss.Color("#FACC15"))
	}

	meta := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#86EFAC")).
		Render(fmt.Sprintf("api=%s  %s", m.baseURL, describeView(m.view)))

	width := bodyWidth(m.width)
	transcriptHeight, noticesHeight := panelHeights(m.height)

	history := withLive(m.conv.History(), m.live)
	liveID := ""
	if m.busy && m.live != nil {
		liveID = m.live.ID
	}
	lines := transcriptLines(history, width-4, liveID)
	if len(lines) == 0 {
		lines = []string{"ask about a ticker, e.g. \"how is nvidia doing?\""}
	}
	transcript := renderPanel("Conversation", lines, width, transcriptHeight, accent, false)
	notices := renderPanel("Activity", m.notices, width, noticesHeight, accent, false)

	prompt := lipgloss.NewStyle().Foreground(accent).Render("> ") + string(m.input)
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#86EFAC")).
		Render("enter: send  esc: stop  ctrl+c: quit")

	return strings.Join([]string{title + " " + stateStyle.Render(state), meta, transcript, notices, prompt, footer}, "\n")
}

func waitForTurnEventCmd(events <-chan chat.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return turnEventMsg{events: events, closed: true}
		}
		return turnEventMsg{events: events, event: e}
	}
}

// withLive appends the streaming message unless the turn already stored it.
func withLive(history []stream.Message, live *stream.Message) []stream.Message {
	if live == nil {
		return history
	}
	for _, msg := range history {
		if msg.ID == live.ID {
			return history
		}
	}
	return append(history, *live)
}

func describeView(st view.State) string {
	symbol := st.ActiveSymbol
	if symbol == "" {
		symbol = "-"
	}
	return fmt.Sprintf("panel=%s symbol=%s", st.ActivePanel, symbol)
}

// transcriptLines renders messages oldest first, wrapping text at width. Only
// the message with liveID gets a running-tool indicator.
func transcriptLines(msgs []stream.Message, width int, liveID string) []string {
	var lines []string
	for _, msg := range msgs {
		prefix := "you: "
		if msg.Role == stream.RoleAssistant {
			prefix = "assistant: "
		}
		if msg.Thinking != "" {
			for _, l := range wrap("(thinking) "+msg.Thinking, width) {
				lines = append(lines, lipgloss.NewStyle().Faint(true).Render(l))
			}
		}
		for _, inv := range msg.ToolInvocations {
			lines = append(lines, "  "+formatInvocation(inv))
		}
		if active, ok := stream.ActiveInvocation(msg.ToolInvocations); ok && msg.ID == liveID {
			lines = append(lines, fmt.Sprintf("  running %s...", active.ToolName))
		}
		if msg.Content != "" || msg.Role != stream.RoleAssistant {
			lines = append(lines, wrap(prefix+msg.Content, width)...)
		}
		lines = append(lines, "")
	}
	return lines
}

func formatInvocation(inv stream.ToolInvocation) string {
	line := fmt.Sprintf("[%s] %s", inv.State, inv.ToolName)
	switch args := tools.ParseArgs(inv.ToolName, inv.Args).(type) {
	case tools.SymbolArgs:
		line += " " + args.Symbol
	case tools.Unstructured:
		if len(args.Raw) > 0 {
			line += " " + trimForLog(string(args.Raw), 48)
		}
	}
	return line
}

func wrap(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	var out []string
	for _, para := range strings.Split(s, "\n") {
		runes := []rune(para)
		for len(runes) > width {
			cut := width
			for i := width; i > width/2; i-- {
				if runes[i] == ' ' {
					cut = i
					break
				}
			}
			out = append(out, string(runes[:cut]))
			runes = []rune(strings.TrimLeft(string(runes[cut:]), " "))
		}
		out = append(out, string(runes))
	}
	return out
}

func panelHeights(terminalHeight int) (transcript, notices int) {
	available := terminalHeight - 6
	if available < 12 {
		available = 12
	}
	notices = 6
	transcript = available - notices
	if transcript < 6 {
		transcript = 6
	}
	return transcript, notices
}

func renderPanel(title string, lines []string, width, height int, accent lipgloss.Color, keepHead bool) string {
	if height < 3 {
		height = 3
	}
	contentHeight := height - 1
	if len(lines) > contentHeight {
		if keepHead {
			lines = lines[:contentHeight]
		} else {
			lines = lines[len(lines)-contentHeight:]
		}
	}
	padded := make([]string, len(lines), contentHeight)
	copy(padded, lines)
	for len(padded) < contentHeight {
		padded = append(padded, "")
	}
	content := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title) + "\n" + strings.Join(padded, "\n")

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Foreground(lipgloss.Color("#F0FDF4")).
		Background(lipgloss.Color("#0B1F12")).
		Width(width).
		Height(height).
		Padding(0, 1).
		Render(content)
}

func trimForLog(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func bodyWidth(terminalWidth int) int {
	if terminalWidth <= 0 {
		return 80
	}
	w := terminalWidth - 2
	if w < 40 {
		return 40
	}
	return w
}
