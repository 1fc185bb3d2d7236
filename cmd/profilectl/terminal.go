package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// terminal is the page's view: it prints toasts, answers confirmations from
// the input stream and remembers where the page navigated to.
type terminal struct {
	in  *bufio.Reader
	out io.Writer

	mu       sync.Mutex
	location string
}

func newTerminal(in *bufio.Reader, out io.Writer) *terminal {
	return &terminal{in: in, out: out, location: "/profile"}
}

func (t *terminal) Success(msg string) {
	fmt.Fprintln(t.out, "[ok]", msg)
}

func (t *terminal) Error(msg string) {
	fmt.Fprintln(t.out, "[error]", msg)
}

func (t *terminal) Navigate(path string) {
	t.mu.Lock()
	t.location = path
	t.mu.Unlock()
	fmt.Fprintln(t.out, "->", path)
}

func (t *terminal) Location() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location
}

// Confirm reads one line; only "y" or "yes" confirm.
func (t *terminal) Confirm(ctx context.Context, prompt string) bool {
	if ctx.Err() != nil {
		return false
	}
	fmt.Fprintf(t.out, "%s [y/N] ", prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
