// Package cli provides interactive terminal prompt helpers for the setup
// wizard and password tooling.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

// ErrPasswordMismatch is returned when a confirmation does not match.
var ErrPasswordMismatch = errors.New("passwords do not match")

// Prompter reads answers from In and writes questions to Out.
type Prompter struct {
	In      io.Reader
	Out     io.Writer
	scanner *bufio.Scanner
}

func (p *Prompter) readLine() string {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	return ""
}

// Ask prints a question with a default value and reads one line.
// Returns the default if the user presses Enter without typing.
func (p *Prompter) Ask(question, defaultVal string) string {
	if defaultVal != "" {
		_, _ = fmt.Fprintf(p.Out, "%s [%s]: ", question, defaultVal)
	} else {
		_, _ = fmt.Fprintf(p.Out, "%s: ", question)
	}
	if line := p.readLine(); line != "" {
		return line
	}
	return defaultVal
}

// AskPassword reads a line without echoing when In is a terminal, and as
// plain text otherwise (piped input, tests).
func (p *Prompter) AskPassword(question string) string {
	_, _ = fmt.Fprintf(p.Out, "%s: ", question)

	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(p.Out)
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return p.readLine()
}

// AskNewPassword asks for a password twice. It re-prompts while the entry is
// shorter than minLen and fails if the confirmation differs.
func (p *Prompter) AskNewPassword(question string, minLen int) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		pw := p.AskPassword(question)
		if len(pw) < minLen {
			_, _ = fmt.Fprintf(p.Out, "  Use at least %d characters.\n", minLen)
			continue
		}
		if p.AskPassword("  Confirm") != pw {
			return "", ErrPasswordMismatch
		}
		return pw, nil
	}
	return "", fmt.Errorf("no password of at least %d characters entered", minLen)
}

// AskInt asks for a non-negative integer with a default value.
func (p *Prompter) AskInt(question string, defaultVal int) int {
	for {
		n, err := strconv.Atoi(p.Ask(question, strconv.Itoa(defaultVal)))
		if err == nil && n >= 0 {
			return n
		}
		_, _ = fmt.Fprintln(p.Out, "  Please enter a whole number (0 or more).")
	}
}

// AskDuration asks for a Go duration such as "30m" or "720h".
func (p *Prompter) AskDuration(question string, defaultVal time.Duration) time.Duration {
	for {
		d, err := time.ParseDuration(p.Ask(question, defaultVal.String()))
		if err == nil && d > 0 {
			return d
		}
		_, _ = fmt.Fprintln(p.Out, `  Please enter a positive duration like "30m" or "12h".`)
	}
}

// Choose presents a numbered list of options and returns the selected value.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	_, _ = fmt.Fprintln(p.Out, question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		_, _ = fmt.Fprintf(p.Out, "%s%d) %s\n", marker, i+1, opt)
	}

	for {
		n, err := strconv.Atoi(p.Ask("Choice", strconv.Itoa(defaultIdx+1)))
		if err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		_, _ = fmt.Fprintf(p.Out, "  Please enter a number between 1 and %d.\n", len(options))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := p.Ask(fmt.Sprintf("%s [%s]", question, hint), "")
	if ans == "" {
		return defaultYes
	}
	return strings.HasPrefix(strings.ToLower(ans), "y")
}
