// Command profilectl is a terminal front end for the profile page. It drives
// profileview.Page against a running profile service.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"
	"homefinder/internal/util"
	"homefinder/pkg/profileclient"
	"homefinder/pkg/profileview"
)

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

func main() {
	server := flag.String("server", "http://localhost:8085", "profile service base URL")
	token := flag.String("token", os.Getenv("PROFILE_TOKEN"), "bearer token (prompted for when empty)")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	util.InitLogger(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in := bufio.NewReader(os.Stdin)
	tok := strings.TrimSpace(*token)
	if tok == "" {
		var err error
		tok, err = promptToken(in)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read token:", err)
			os.Exit(2)
		}
	}

	client := profileclient.New(*server, tok)
	ui := newTerminal(in, os.Stdout)
	page, err := profileview.New(profileview.Deps{
		Auth:      client,
		Backend:   client,
		Navigator: ui,
		Notifier:  ui,
		Confirmer: ui,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := page.Mount(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "mount:", err)
		os.Exit(1)
	}
	defer page.Unmount()

	runREPL(ctx, page, ui)
}

func promptToken(in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, "Access token: ")
	if term.IsTerminal(fd) {
		raw, err := readPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
