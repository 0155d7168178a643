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

// Source lazily resolves a keystore passphrase. A value already resolved
// from configuration wins; otherwise the operator is prompted on the
// terminal. The result is cached after the first call.
type Source struct {
	configured string
	input      *os.File
	prompt     io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source that falls back to prompting on stdin.
func NewSource(configured string) *Source {
	return &Source{configured: configured, input: os.Stdin, prompt: os.Stderr}
}

// WithTerminal overrides the prompt input and output.
func (s *Source) WithTerminal(input *os.File, prompt io.Writer) *Source {
	s.input = input
	s.prompt = prompt
	return s
}

// Get returns the cached passphrase or resolves it on first use.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.configured != "" {
			s.value = s.configured
			return
		}
		fd := int(s.input.Fd())
		if !term.IsTerminal(fd) {
			s.err = errors.New("keystore passphrase required; set chain.keystore_passphrase_env or run interactively")
			return
		}

		fmt.Fprint(s.prompt, "Enter keystore passphrase: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("failed to read passphrase: %w", err)
			return
		}
		if strings.TrimSpace(string(raw)) == "" {
			s.err = errors.New("keystore passphrase cannot be empty")
			return
		}
		s.value = string(raw)
	})
	return s.value, s.err
}
