package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase from an environment variable or by
// prompting on the terminal. The first result is cached.
type Source struct {
	envVar string
	prompt string

	once  sync.Once
	value string
	err   error

	stdin    *os.File
	stderr   io.Writer
	isTTY    func(fd int) bool
	readPass func(fd int) ([]byte, error)
}

// NewSource checks envVar before prompting with prompt.
func NewSource(envVar, prompt string) *Source {
	if strings.TrimSpace(prompt) == "" {
		prompt = "Enter keystore passphrase: "
	}
	return &Source{
		envVar:   strings.TrimSpace(envVar),
		prompt:   prompt,
		stdin:    os.Stdin,
		stderr:   os.Stderr,
		isTTY:    term.IsTerminal,
		readPass: term.ReadPassword,
	}
}

// Get returns the passphrase. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}
		fd := int(s.stdin.Fd())
		if !s.isTTY(fd) {
			if s.envVar != "" {
				s.err = fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("keystore passphrase required and no terminal available")
			}
			return
		}
		fmt.Fprint(s.stderr, s.prompt)
		raw, err := s.readPass(fd)
		fmt.Fprintln(s.stderr)
		if err != nil {
			s.err = fmt.Errorf("read passphrase: %w", err)
			return
		}
		if strings.TrimSpace(string(raw)) == "" {
			s.err = errors.New("passphrase must not be empty")
			return
		}
		s.value = string(raw)
	})
	return s.value, s.err
}
