package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pkt.systems/tunnelchat/core"
	"pkt.systems/tunnelchat/internal/console"
	"pkt.systems/tunnelchat/internal/eventbus"
	"pkt.systems/tunnelchat/schema"
)

// Turner runs one chat turn. *core.Session satisfies it.
type Turner interface {
	Turn(ctx context.Context, text string) (core.TurnResult, error)
	Model() schema.ModelID
}

type (
	eventMsg   eventbus.Event
	busClosed  struct{}
	turnResult struct {
		result core.TurnResult
		err    error
	}
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

// Model is the full-screen chat view. Turns run on a command goroutine and
// their segments arrive over the event bus channel.
type Model struct {
	ctx    context.Context
	turner Turner
	events <-chan eventbus.Event

	input    textinput.Model
	view     viewport.Model
	content  *strings.Builder
	renderer *console.Sink

	busy   bool
	cancel context.CancelFunc
	status string
}

// Options configures the view.
type Options struct {
	ShowThinking bool
}

// New constructs the model. events must be a subscription for the session
// that turner drives.
func New(ctx context.Context, turner Turner, events <-chan eventbus.Event, opts Options) Model {
	input := textinput.New()
	input.Placeholder = "Ask something (enter to send, esc to stop, ctrl+c to quit)"
	input.Prompt = "> "
	input.Focus()

	content := &strings.Builder{}
	return Model{
		ctx:      ctx,
		turner:   turner,
		events:   events,
		input:    input,
		view:     viewport.New(80, 20),
		content:  content,
		renderer: console.NewSink(content, console.WithThinking(opts.ShowThinking), console.WithRenderer(lipgloss.DefaultRenderer())),
		status:   fmt.Sprintf("model %s", turner.Model()),
	}
}

// Init starts listening on the event channel.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.events))
}

func waitForEvent(events <-chan eventbus.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return busClosed{}
		}
		return eventMsg(ev)
	}
}

func runTurn(ctx context.Context, turner Turner, text string) tea.Cmd {
	return func() tea.Msg {
		result, err := turner.Turn(ctx, text)
		return turnResult{result: result, err: err}
	}
}

// Update handles input, window, bus and turn messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case eventMsg:
		m.apply(eventbus.Event(msg))
		return m, waitForEvent(m.events)
	case busClosed:
		return m, nil
	case turnResult:
		m.finish(msg)
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	case tea.KeyEsc:
		if m.busy && m.cancel != nil {
			m.cancel()
			m.status = "stopping..."
		}
		return m, nil
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.busy {
			return m, nil
		}
		m.input.SetValue("")
		ctx, cancel := context.WithCancel(m.ctx)
		m.busy = true
		m.cancel = cancel
		m.status = "streaming..."
		return m, runTurn(ctx, m.turner, text)
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) apply(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.EventTurnStart:
		if m.content.Len() > 0 {
			m.content.WriteString("\n")
		}
		m.content.WriteString(promptStyle.Render("> "+ev.Start.Prompt) + "\n")
		_ = m.renderer.BeginTurn(ev.Start)
	case eventbus.EventSegment:
		_ = m.renderer.Write(ev.Segment)
	case eventbus.EventTurnEnd:
		_ = m.renderer.EndTurn(ev.End)
	}
	m.view.SetContent(m.content.String())
	m.view.GotoBottom()
}

func (m *Model) finish(msg turnResult) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.busy = false
	switch {
	case msg.err == nil:
		m.status = fmt.Sprintf("model %s | turn %d | %d segments in %s", m.turner.Model(), msg.result.Turn, msg.result.Segments, msg.result.Duration.Round(time.Millisecond))
	case errors.Is(msg.err, context.Canceled):
		m.status = "turn stopped"
	default:
		m.status = errStyle.Render("turn failed: " + msg.err.Error())
	}
}

func (m *Model) resize(width, height int) {
	inputHeight := 1
	statusHeight := 1
	m.view.Width = width
	m.view.Height = max(height-inputHeight-statusHeight-1, 1)
	m.input.Width = max(width-len(m.input.Prompt)-1, 1)
	m.view.SetContent(m.content.String())
}

// View renders the transcript, status line and input.
func (m Model) View() string {
	return m.view.View() + "\n" + statusStyle.Render(m.status) + "\n" + m.input.View()
}

// Run shows the model full screen until the user quits or ctx ends.
func Run(ctx context.Context, turner Turner, events <-chan eventbus.Event, opts Options) error {
	program := tea.NewProgram(New(ctx, turner, events, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Busy reports whether a turn is streaming.
func (m Model) Busy() bool {
	return m.busy
}

// Transcript returns the rendered conversation.
func (m Model) Transcript() string {
	return m.content.String()
}
