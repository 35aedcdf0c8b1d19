package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"pkt.systems/tunnelchat/schema"
)

const footerWidth = 30

var (
	thinkingColor = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	bannerColor   = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#06B6D4"}
	errorColor    = lipgloss.Color("#EF4444")
)

// SinkOption configures a console Sink.
type SinkOption func(*Sink)

// WithThinking toggles rendering of thinking segments.
func WithThinking(show bool) SinkOption {
	return func(s *Sink) {
		s.showThinking = show
	}
}

// WithRenderer styles output with r instead of a renderer probed from the
// output writer.
func WithRenderer(r *lipgloss.Renderer) SinkOption {
	return func(s *Sink) {
		s.renderer = r
	}
}

// Sink renders turns to a terminal: a "Thinking..." marker, a reply banner,
// faint reasoning text and the answer as streamed.
type Sink struct {
	out io.Writer

	thinking lipgloss.Style
	banner   lipgloss.Style
	errStyle lipgloss.Style

	showThinking bool
	renderer     *lipgloss.Renderer

	mu        sync.Mutex
	model     schema.ModelID
	header    bool
	lineStart bool
}

// NewSink constructs a console sink writing to out.
func NewSink(out io.Writer, opts ...SinkOption) *Sink {
	s := &Sink{
		out:          out,
		showThinking: true,
		lineStart:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.renderer == nil {
		s.renderer = lipgloss.NewRenderer(out)
	}
	s.thinking = s.renderer.NewStyle().Foreground(thinkingColor).Faint(true).Italic(true)
	s.banner = s.renderer.NewStyle().Foreground(bannerColor).Bold(true)
	s.errStyle = s.renderer.NewStyle().Foreground(errorColor).Bold(true)
	return s
}

// BeginTurn prints the waiting marker.
func (s *Sink) BeginTurn(turn schema.TurnStart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = turn.Model
	s.header = false
	s.lineStart = true
	return s.write(s.banner.Render("Thinking...") + "\n")
}

// Write prints one segment, opening the reply banner on the first one.
func (s *Sink) Write(seg schema.Segment) error {
	if seg.Text == "" || (seg.IsThinking() && !s.showThinking) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	if !s.header {
		s.header = true
		fmt.Fprintf(&b, "%s\n", s.banner.Render(fmt.Sprintf("========== %s reply ==========", s.model)))
	}
	if seg.IsThinking() {
		b.WriteString(renderLines(s.thinking, seg.Text))
	} else {
		b.WriteString(seg.Text)
	}
	s.lineStart = strings.HasSuffix(seg.Text, "\n")
	return s.write(b.String())
}

// EndTurn closes the reply with a footer, or prints the abort reason.
func (s *Sink) EndTurn(turn schema.TurnEnd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	if !s.lineStart {
		b.WriteString("\n")
	}
	if turn.Err != nil {
		fmt.Fprintf(&b, "%s\n", s.errStyle.Render("error: "+turn.Err.Error()))
	}
	if s.header {
		fmt.Fprintf(&b, "%s\n", s.banner.Render(strings.Repeat("=", footerWidth)))
	}
	if turn.Skipped > 0 {
		fmt.Fprintf(&b, "%s\n", s.thinking.Render(fmt.Sprintf("(%d malformed stream events skipped)", turn.Skipped)))
	}
	s.header = false
	s.lineStart = true
	return s.write(b.String())
}

func (s *Sink) write(text string) error {
	if text == "" {
		return nil
	}
	_, err := io.WriteString(s.out, text)
	return err
}

// renderLines styles each line separately so line breaks are preserved
// verbatim and no alignment padding is introduced.
func renderLines(style lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}
