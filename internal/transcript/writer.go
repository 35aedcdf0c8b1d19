package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/schema"
)

const (
	thinkingOpen  = "<details>\n<summary>Thinking</summary>\n\n"
	thinkingClose = "\n</details>\n\n"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("transcript closed")

// Writer appends turns to a markdown transcript. Every write is flushed and
// synced before it returns.
type Writer struct {
	path string
	log  pslog.Logger

	mu         sync.Mutex
	file       *os.File
	inThinking bool
	lineStart  bool
}

// Open opens (creating if needed) the transcript at path for appending and
// takes an exclusive advisory lock on it.
func Open(path string, logger pslog.Logger) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("transcript path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create transcript dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	if err := lockFile(file); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("lock transcript %s: %w", path, err)
	}
	if logger != nil {
		logger = logger.With("transcript", path)
		logger.Debug("transcript open ok")
	}
	return &Writer{path: path, log: logger, file: file, lineStart: true}, nil
}

// Path returns the transcript path.
func (w *Writer) Path() string {
	return w.path
}

// BeginTurn writes the user heading, the prompt and the assistant heading.
func (w *Writer) BeginTurn(turn schema.TurnStart) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inThinking = false
	prompt := strings.TrimRight(turn.Prompt, "\n")
	return w.writeLocked("## User\n\n" + prompt + "\n\n## Assistant\n\n")
}

// Write appends one segment. Thinking runs are wrapped in a collapsible block.
func (w *Writer) Write(seg schema.Segment) error {
	if seg.Text == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var b strings.Builder
	switch {
	case seg.IsThinking() && !w.inThinking:
		b.WriteString(thinkingOpen)
		w.inThinking = true
	case !seg.IsThinking() && w.inThinking:
		b.WriteString(thinkingClose)
		w.inThinking = false
	}
	b.WriteString(seg.Text)
	return w.writeLocked(b.String())
}

// EndTurn closes an open thinking block and writes the turn separator.
func (w *Writer) EndTurn(turn schema.TurnEnd) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var b strings.Builder
	if w.inThinking {
		b.WriteString(thinkingClose)
		w.inThinking = false
	}
	if turn.Err != nil {
		if !w.lineStart {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n> turn aborted: %s\n", turn.Err)
	}
	b.WriteString("\n\n")
	return w.writeLocked(b.String())
}

func (w *Writer) writeLocked(text string) error {
	if w.file == nil {
		return ErrClosed
	}
	if _, err := w.file.WriteString(text); err != nil {
		w.warn("transcript write failed", err)
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.warn("transcript sync failed", err)
		return err
	}
	if text != "" {
		w.lineStart = strings.HasSuffix(text, "\n")
	}
	return nil
}

func (w *Writer) warn(msg string, err error) {
	if w.log != nil {
		w.log.Warn(msg, "err", err)
	}
}

// Close releases the lock and closes the file. It is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	file := w.file
	w.file = nil
	unlockErr := unlockFile(file)
	closeErr := file.Close()
	if w.log != nil {
		w.log.Debug("transcript closed")
	}
	return errors.Join(unlockErr, closeErr)
}
