// Package prompt implements the interactive selection capability the resolver
// uses to disambiguate targets. A bubbletea list picker is used when both ends
// of the conversation are a real terminal; otherwise a plain line-oriented
// prompter takes over.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ErrAborted is returned when the user backs out of a selection instead of
// choosing an option.
var ErrAborted = errors.New("selection aborted")

// New returns the best chooser for the given streams: the bubbletea picker on
// a real terminal, the plain prompter everywhere else.
func New(in io.Reader, out io.Writer) *Select {
	return &Select{
		terminal: newTerminalSelect(in, out),
		tea:      canUseTea(in, out),
		in:       in,
		out:      out,
	}
}

// Select picks one option from a list. It satisfies the resolver's Chooser
// capability.
type Select struct {
	terminal *terminalSelect
	tea      bool
	in       io.Reader
	out      io.Writer
}

// runTea is a seam so tests can exercise the fallback without a live TUI.
var runTea = chooseTea

// Choose presents title and options and returns the index of the selection.
func (s *Select) Choose(ctx context.Context, title string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("choose %s: no options", title)
	}
	if s.tea {
		idx, err := runTea(ctx, s.in, s.out, title, options)
		if err == nil || errors.Is(err, ErrAborted) {
			return idx, err
		}
		if ctx.Err() != nil {
			// An interrupt killed the TUI; re-prompting would block on a user
			// who is leaving.
			return 0, ctx.Err()
		}
		// Fall back to the plain prompter when the TUI cannot run.
	}
	return s.terminal.choose(ctx, title, options)
}

type terminalSelect struct {
	in          *bufio.Reader
	out         io.Writer
	color       bool
	accentColor string
}

func newTerminalSelect(in io.Reader, out io.Writer) *terminalSelect {
	return &terminalSelect{
		in:          bufio.NewReader(in),
		out:         out,
		color:       supportsColor(out),
		accentColor: "\033[38;5;75m",
	}
}

func (p *terminalSelect) choose(ctx context.Context, title string, options []string) (int, error) {
	if err := p.renderList(title, options); err != nil {
		return 0, err
	}

	question := fmt.Sprintf("%s Select an option [1-%d]: ", p.promptArrow(), len(options))
	for {
		if _, err := fmt.Fprint(p.out, question); err != nil {
			return 0, err
		}
		line, err := p.readLine()
		if err != nil {
			return 0, err
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.EqualFold(trimmed, "q") {
			return 0, ErrAborted
		}
		idx, err := strconv.Atoi(trimmed)
		if err == nil && idx >= 1 && idx <= len(options) {
			return idx - 1, nil
		}
		if _, err := fmt.Fprintf(p.out, "%s Please enter a number between %s and %s.\n", p.muted("•"), p.bold("1"), p.bold(strconv.Itoa(len(options)))); err != nil {
			return 0, err
		}
	}
}

func (p *terminalSelect) renderList(title string, options []string) error {
	if _, err := fmt.Fprintln(p.out); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(p.out, "%s %s\n", p.accent("╭"), p.bold(title)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(p.out, "%s\n", p.accent("╰──────────────────────────────────────")); err != nil {
		return err
	}
	for i, option := range options {
		if _, err := fmt.Fprintf(p.out, "  %s %s\n", p.number(strconv.Itoa(i+1)), option); err != nil {
			return err
		}
	}
	return nil
}

func (p *terminalSelect) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if err == io.EOF && line == "" {
		return "", ErrAborted
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *terminalSelect) accent(text string) string {
	return p.wrap(p.accentColor, text)
}

func (p *terminalSelect) bold(text string) string {
	return p.wrap("\033[1m", text)
}

func (p *terminalSelect) muted(text string) string {
	return p.wrap("\033[2m", text)
}

func (p *terminalSelect) number(n string) string {
	return p.accent(n + ".")
}

func (p *terminalSelect) promptArrow() string {
	if p.color {
		return p.accent("›")
	}
	return ">"
}

func (p *terminalSelect) wrap(code, text string) string {
	if !p.color || code == "" {
		return text
	}
	return code + text + "\033[0m"
}

func supportsColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	type fd interface {
		Fd() uintptr
	}
	f, ok := w.(fd)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func canUseTea(in io.Reader, out io.Writer) bool {
	type fd interface {
		Fd() uintptr
	}
	fin, okIn := in.(fd)
	fout, okOut := out.(fd)
	if !okIn || !okOut {
		return false
	}
	return term.IsTerminal(int(fin.Fd())) && term.IsTerminal(int(fout.Fd()))
}
