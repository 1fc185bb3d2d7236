package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"homefinder/pkg/domain"
	"homefinder/pkg/profileview"
)

// page is the command surface the REPL needs; *profileview.Page satisfies it.
type page interface {
	Session() domain.Session
	Form() domain.ProfileForm
	Listings() []domain.Listing
	Loading() bool
	LoadErr() error
	ControlLabel() string
	ToggleEdit(ctx context.Context) error
	SetField(field, value string) error
	Delete(ctx context.Context, listingID string) error
	Logout(ctx context.Context) error
	Reload(ctx context.Context) error
	CreateListing()
}

const helpText = `Commands:
  show                 profile and listings
  change | done        toggle edit mode (done submits)
  set name|email VAL   edit a field while editing
  delete ID            delete one of your listings
  reload               reload listings
  sell | new           sell or rent your home (create a listing)
  logout               sign out
  exit | quit          leave`

// runREPL reads commands from ui until EOF, exit or a navigation away from
// the profile page.
func runREPL(ctx context.Context, p page, ui *terminal) {
	render(ui.out, p)
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(ui.out, "profile [%s]> ", p.ControlLabel())
		line, err := ui.in.ReadString('\n')
		if err != nil && line == "" {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintln(ui.out, "read:", err)
			}
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch cmd := strings.ToLower(fields[0]); cmd {
		case "help", "?":
			fmt.Fprintln(ui.out, helpText)
		case "show", "ls":
			render(ui.out, p)
		case "change", "done", "edit":
			_ = p.ToggleEdit(ctx)
			render(ui.out, p)
		case "set":
			if len(fields) < 3 {
				fmt.Fprintln(ui.out, "usage: set name|email VALUE")
				continue
			}
			value := strings.TrimSpace(strings.SplitN(strings.TrimSpace(line), " ", 3)[2])
			if err := p.SetField(fields[1], value); err != nil {
				fmt.Fprintln(ui.out, err)
			}
		case "delete", "rm":
			if len(fields) != 2 {
				fmt.Fprintln(ui.out, "usage: delete ID")
				continue
			}
			_ = p.Delete(ctx, fields[1])
		case "reload":
			_ = p.Reload(ctx)
			render(ui.out, p)
		case "sell", "new":
			p.CreateListing()
		case "logout":
			_ = p.Logout(ctx)
		case "exit", "quit":
			return
		default:
			fmt.Fprintln(ui.out, "unknown command:", cmd)
		}
		if ui.Location() != "/profile" {
			return
		}
	}
}

func render(w io.Writer, p page) {
	s := p.Session()
	f := p.Form()
	fmt.Fprintf(w, "My Profile (%s)\n", s.ID)
	fmt.Fprintf(w, "  name:  %s\n  email: %s\n", f.Name, f.Email)
	switch {
	case p.Loading():
		fmt.Fprintln(w, "Loading listings...")
		return
	case p.LoadErr() != nil:
		fmt.Fprintln(w, "Listings unavailable:", p.LoadErr())
		return
	}
	listings := p.Listings()
	if len(listings) == 0 {
		fmt.Fprintln(w, "You have no listings.")
		return
	}
	fmt.Fprintln(w, "Your Listings")
	for _, l := range listings {
		fmt.Fprintf(w, "  %s  %-24s %-4s %s\n", l.ID, l.Data.Name, l.Data.Type, l.Data.Timestamp.Format("2006-01-02"))
	}
}

var _ page = (*profileview.Page)(nil)
