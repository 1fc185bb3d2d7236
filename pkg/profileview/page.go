// Package profileview is the profile page controller: it seeds the edit form
// from the signed-in session, loads the user's listings and runs the
// delete, submit and logout commands. Rendering is left to the caller, which
// drives the page through its event methods and reads state back through the
// accessors.
package profileview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"homefinder/internal/util"
	"homefinder/pkg/domain"
)

// Notification texts shown to the user.
const (
	MsgDeleted       = "Successfully deleted listing"
	MsgDeleteFailed  = "Could not delete listing"
	MsgUpdateFailed  = "Could not update profile details"
	MsgLoadFailed    = "Could not fetch listings"
	MsgSessionFailed = "Could not load your profile"
	MsgSignOutFailed = "Could not sign out"
)

// Paths the page navigates to.
const (
	PathHome          = "/"
	PathCreateListing = "/create-listing"
)

// DeletePrompt is the question put to the Confirmer before a delete.
const DeletePrompt = "Are you sure you want to delete?"

// Form field names accepted by SetField.
const (
	FieldName  = "name"
	FieldEmail = "email"
)

var (
	ErrNotEditing   = errors.New("profile form is not in edit mode")
	ErrUnknownField = errors.New("unknown profile field")
	ErrNotMounted   = errors.New("page is not mounted")
	// ErrSubmit wraps any failure of the two-step profile submit.
	ErrSubmit = errors.New("submit profile")
)

// Auth is the signed-in user's view of the auth provider.
type Auth interface {
	Session(ctx context.Context) (domain.Session, error)
	UpdateDisplayName(ctx context.Context, name string) error
	SignOut(ctx context.Context) error
}

// Backend is the document database as seen by the page. store.Store
// satisfies it.
type Backend interface {
	ListListingsByOwner(ctx context.Context, ownerRef string) ([]domain.Listing, error)
	DeleteListing(ctx context.Context, id string) error
	UpdateUserProfile(ctx context.Context, userID string, form domain.ProfileForm) error
}

type Navigator interface {
	Navigate(path string)
}

// Notifier shows fire-and-forget toasts.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// Deps are the collaborators of a Page. All are required.
type Deps struct {
	Auth      Auth
	Backend   Backend
	Navigator Navigator
	Notifier  Notifier
	Confirmer Confirmer
}

// Page holds the state of one profile page. It is safe for concurrent use;
// backend calls run without holding the lock.
type Page struct {
	deps Deps

	mu         sync.Mutex
	mounted    bool
	session    domain.Session
	form       domain.ProfileForm
	editing    bool
	listings   []domain.Listing
	loading    bool
	loadErr    error
	gen        uint64
	cancelLoad context.CancelFunc
	// deleted holds ids removed while the current load was in flight.
	deleted    map[string]struct{}
	submitting bool
}

// New builds an unmounted page. Loading reports true until the first load
// finishes.
func New(deps Deps) (*Page, error) {
	switch {
	case deps.Auth == nil:
		return nil, errors.New("profileview: auth is required")
	case deps.Backend == nil:
		return nil, errors.New("profileview: backend is required")
	case deps.Navigator == nil:
		return nil, errors.New("profileview: navigator is required")
	case deps.Notifier == nil:
		return nil, errors.New("profileview: notifier is required")
	case deps.Confirmer == nil:
		return nil, errors.New("profileview: confirmer is required")
	}
	return &Page{deps: deps, loading: true}, nil
}

// Mount reads the session, seeds the form from it and loads the owner's
// listings. A session or load failure is recorded, notified and returned.
func (p *Page) Mount(ctx context.Context) error {
	session, err := p.deps.Auth.Session(ctx)
	if err != nil {
		err = fmt.Errorf("read session: %w", err)
		p.mu.Lock()
		p.loading = false
		p.loadErr = err
		p.mu.Unlock()
		p.deps.Notifier.Error(MsgSessionFailed)
		return err
	}
	p.mu.Lock()
	p.mounted = true
	p.session = session
	p.form = domain.ProfileForm{Name: session.DisplayName, Email: session.Email}
	p.editing = false
	p.mu.Unlock()
	return p.load(ctx, session.ID)
}

// SessionChanged applies a new session. A different user id reseeds the
// form, leaves edit mode and reloads listings; a same-id change only
// refreshes the stored session.
func (p *Page) SessionChanged(ctx context.Context, session domain.Session) error {
	p.mu.Lock()
	if !p.mounted {
		p.mu.Unlock()
		return ErrNotMounted
	}
	changed := session.ID != p.session.ID
	p.session = session
	if changed {
		p.form = domain.ProfileForm{Name: session.DisplayName, Email: session.Email}
		p.editing = false
	}
	p.mu.Unlock()
	if !changed {
		return nil
	}
	return p.load(ctx, session.ID)
}

// Reload queries the current owner's listings again.
func (p *Page) Reload(ctx context.Context) error {
	p.mu.Lock()
	mounted, owner := p.mounted, p.session.ID
	p.mu.Unlock()
	if !mounted {
		return ErrNotMounted
	}
	return p.load(ctx, owner)
}

// Unmount cancels any in-flight load; its result will not be applied.
func (p *Page) Unmount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mounted = false
	p.gen++
	if p.cancelLoad != nil {
		p.cancelLoad()
		p.cancelLoad = nil
	}
}

func (p *Page) load(ctx context.Context, owner string) error {
	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancelLoad != nil {
		p.cancelLoad()
	}
	p.gen++
	gen := p.gen
	p.cancelLoad = cancel
	p.deleted = make(map[string]struct{})
	p.loading = true
	p.loadErr = nil
	p.mu.Unlock()

	listings, err := p.deps.Backend.ListListingsByOwner(loadCtx, owner)

	p.mu.Lock()
	if gen != p.gen || !p.mounted {
		p.mu.Unlock()
		util.LoggerFromContext(ctx).Debug("discarding stale listing load", "owner", owner)
		return nil
	}
	p.cancelLoad = nil
	p.loading = false
	if err != nil {
		p.loadErr = fmt.Errorf("load listings: %w", err)
		p.mu.Unlock()
		p.deps.Notifier.Error(MsgLoadFailed)
		return p.loadErr
	}
	p.listings = withoutIDs(listings, p.deleted)
	p.deleted = nil
	p.mu.Unlock()
	return nil
}

func withoutIDs(listings []domain.Listing, ids map[string]struct{}) []domain.Listing {
	if len(ids) == 0 {
		return listings
	}
	kept := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if _, gone := ids[l.ID]; !gone {
			kept = append(kept, l)
		}
	}
	return kept
}

// Delete asks for confirmation, deletes the listing in the backend and then
// drops it from local state. Declining is a silent no-op.
func (p *Page) Delete(ctx context.Context, listingID string) error {
	if !p.deps.Confirmer.Confirm(ctx, DeletePrompt) {
		return nil
	}
	if err := p.deps.Backend.DeleteListing(ctx, listingID); err != nil {
		p.deps.Notifier.Error(MsgDeleteFailed)
		return fmt.Errorf("delete listing %s: %w", listingID, err)
	}
	p.mu.Lock()
	gone := map[string]struct{}{listingID: {}}
	p.listings = withoutIDs(p.listings, gone)
	if p.deleted != nil {
		p.deleted[listingID] = struct{}{}
	}
	p.mu.Unlock()
	p.deps.Notifier.Success(MsgDeleted)
	return nil
}

// ToggleEdit flips between viewing and editing. Leaving edit mode submits
// the form first and flips regardless of the outcome; the submit error is
// returned. A toggle that arrives while a submit is running is ignored.
func (p *Page) ToggleEdit(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.submitting:
		p.mu.Unlock()
		return nil
	case !p.editing:
		p.editing = true
		p.mu.Unlock()
		return nil
	}
	p.submitting = true
	p.mu.Unlock()

	err := p.submit(ctx)
	p.mu.Lock()
	p.editing = false
	p.submitting = false
	p.mu.Unlock()
	return err
}

func (p *Page) submit(ctx context.Context) error {
	p.mu.Lock()
	p.form.Name = strings.TrimSpace(p.form.Name)
	p.form.Email = strings.TrimSpace(p.form.Email)
	session := p.session
	form := p.form
	p.mu.Unlock()

	if form.Name != session.DisplayName {
		if err := p.deps.Auth.UpdateDisplayName(ctx, form.Name); err != nil {
			p.deps.Notifier.Error(MsgUpdateFailed)
			return fmt.Errorf("%w: display name: %w", ErrSubmit, err)
		}
		p.mu.Lock()
		if p.session.ID == session.ID {
			p.session.DisplayName = form.Name
		}
		p.mu.Unlock()
	}
	if err := p.deps.Backend.UpdateUserProfile(ctx, session.ID, form); err != nil {
		p.deps.Notifier.Error(MsgUpdateFailed)
		return fmt.Errorf("%w: profile document: %w", ErrSubmit, err)
	}
	return nil
}

// SetField edits one form field. Only allowed in edit mode, and not while
// a submit is running.
func (p *Page) SetField(field, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.editing || p.submitting {
		return ErrNotEditing
	}
	switch field {
	case FieldName:
		p.form.Name = value
	case FieldEmail:
		p.form.Email = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Logout signs out and always navigates to the root. A sign-out failure is
// notified and returned.
func (p *Page) Logout(ctx context.Context) error {
	err := p.deps.Auth.SignOut(ctx)
	if err != nil {
		p.deps.Notifier.Error(MsgSignOutFailed)
		err = fmt.Errorf("sign out: %w", err)
	}
	p.deps.Navigator.Navigate(PathHome)
	return err
}

// CreateListing follows the "Sell or rent your home" link.
func (p *Page) CreateListing() {
	p.deps.Navigator.Navigate(PathCreateListing)
}

func (p *Page) Session() domain.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *Page) Form() domain.ProfileForm {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.form
}

// Listings returns a copy of the loaded listings.
func (p *Page) Listings() []domain.Listing {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Listing(nil), p.listings...)
}

func (p *Page) Editing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.editing
}

// ControlLabel is the label of the edit toggle: "change" or "done".
func (p *Page) ControlLabel() string {
	if p.Editing() {
		return "done"
	}
	return "change"
}

func (p *Page) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// LoadErr is the error of the last applied load, if any.
func (p *Page) LoadErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadErr
}
