package console

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"pkt.systems/pslog"

	"pkt.systems/tunnelchat/internal/persist"
)

// DefaultPrompt is shown before each user turn.
const DefaultPrompt = "Input: "

// LineInput reads user turns with line editing and persistent history.
type LineInput struct {
	line        *liner.State
	prompt      string
	historyPath string
	log         pslog.Logger
}

// NewLineInput opens a line editor on the controlling terminal. History is
// loaded from historyPath when set.
func NewLineInput(prompt, historyPath string, logger pslog.Logger) *LineInput {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	in := &LineInput{line: line, prompt: prompt, historyPath: historyPath, log: logger}
	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			if _, err := line.ReadHistory(f); err != nil {
				logger.Debug("console history read failed", "path", historyPath, "err", err)
			}
			_ = f.Close()
		}
	}
	return in
}

// NextInput prompts for the next turn. Ctrl-C and Ctrl-D end the session.
func (l *LineInput) NextInput(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := l.line.Prompt(l.prompt)
	if err != nil {
		return "", inputErr(err)
	}
	if strings.TrimSpace(text) != "" {
		l.line.AppendHistory(text)
	}
	return text, nil
}

// Close restores the terminal and saves history.
func (l *LineInput) Close() error {
	var saveErr error
	if l.historyPath != "" {
		saveErr = l.saveHistory()
	}
	return errors.Join(saveErr, l.line.Close())
}

func (l *LineInput) saveHistory() error {
	var buf bytes.Buffer
	if _, err := l.line.WriteHistory(&buf); err != nil {
		l.log.Warn("console history save failed", "path", l.historyPath, "err", err)
		return err
	}
	return persist.WriteFile(l.historyPath, buf.Bytes(), 0o600, l.log)
}

func inputErr(err error) error {
	if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}

// ReaderInput reads one turn per line from a plain reader, for piped input.
type ReaderInput struct {
	r *bufio.Reader
}

// NewReaderInput wraps r.
func NewReaderInput(r io.Reader) *ReaderInput {
	return &ReaderInput{r: bufio.NewReader(r)}
}

// NextInput returns the next line without its terminator. A final unterminated
// line is returned before io.EOF.
func (r *ReaderInput) NextInput(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := r.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && text != "" {
			return strings.TrimRight(text, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(text, "\r\n"), nil
}
