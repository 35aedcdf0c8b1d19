package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// ReadSecret prompts on out and reads a secret from in without echo when in
// is a terminal.
func ReadSecret(in *os.File, out io.Writer, prompt string) (string, error) {
	if in == nil {
		return "", errors.New("no input for secret prompt")
	}
	if out != nil {
		fmt.Fprint(out, prompt)
	}
	if IsTerminal(in) {
		secret, err := term.ReadPassword(int(in.Fd()))
		if out != nil {
			fmt.Fprintln(out)
		}
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}
	text, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(text, "\r\n"), nil
}
