// Package passwordprompt reads the shared password for the client handshake.
// The interactive implementation disables terminal echo while the user types.
package passwordprompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrExhausted is returned by a SequenceReader that has no passwords left.
var ErrExhausted = errors.New("passwordprompt: no more passwords")

// Reader supplies one password per call, without the trailing newline.
type Reader interface {
	ReadPassword(prompt string) (string, error)
}

// TerminalReader prompts on Out and reads a line from In. When In is a
// terminal, echo is disabled for the duration of the read; otherwise a plain
// line is read, which lets the client take the password from a pipe.
type TerminalReader struct {
	In  *os.File
	Out io.Writer

	once   sync.Once
	reader *bufio.Reader
}

// NewTerminalReader returns a TerminalReader on stdin and stdout.
func NewTerminalReader() *TerminalReader {
	return &TerminalReader{In: os.Stdin, Out: os.Stdout}
}

// ReadPassword implements Reader.
func (t *TerminalReader) ReadPassword(prompt string) (string, error) {
	if _, err := fmt.Fprint(t.Out, prompt); err != nil {
		return "", err
	}

	fd := int(t.In.Fd())
	if term.IsTerminal(fd) {
		line, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(t.Out)
		if err != nil {
			return "", fmt.Errorf("passwordprompt: read terminal: %w", err)
		}

		return TrimNewline(string(line)), nil
	}

	t.once.Do(func() { t.reader = bufio.NewReader(t.In) })
	line, err := t.reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("passwordprompt: read line: %w", err)
	}

	return TrimNewline(line), nil
}

// SequenceReader hands out a fixed list of passwords in order, then fails
// with ErrExhausted. It backs non-interactive clients.
type SequenceReader struct {
	mu        sync.Mutex
	passwords []string
	prompts   int
}

// NewSequenceReader returns a SequenceReader over passwords.
func NewSequenceReader(passwords ...string) *SequenceReader {
	return &SequenceReader{passwords: passwords}
}

// ReadPassword implements Reader.
func (s *SequenceReader) ReadPassword(prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts++
	if len(s.passwords) == 0 {
		return "", ErrExhausted
	}

	next := s.passwords[0]
	s.passwords = s.passwords[1:]
	return TrimNewline(next), nil
}

// Prompts returns how many passwords were requested so far.
func (s *SequenceReader) Prompts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

// TrimNewline strips one trailing "\n" or "\r\n".
func TrimNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
