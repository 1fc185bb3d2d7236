package app

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"homefinder/internal/util"
	"homefinder/pkg/domain"
	"homefinder/pkg/events"
	"homefinder/pkg/storage"
	"homefinder/pkg/store"
)

// AuthProvider is the subset of the auth service the profile page needs.
type AuthProvider interface {
	Me(ctx context.Context, token string) (domain.Session, error)
	UpdateDisplayName(ctx context.Context, token, displayName string) (domain.Session, error)
	Logout(ctx context.Context, token string) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Auth        AuthProvider
	// Objects is optional; without it listing images are left in place.
	Objects storage.ObjectStore
	// Events is optional; defaults to a no-op publisher.
	Events events.Publisher
}

// App implements the profile page commands on top of the auth provider and
// the document store.
type App struct {
	store   store.Store
	auth    AuthProvider
	objects storage.ObjectStore
	events  events.Publisher
}

// New constructs the application, opening Postgres when no store is given.
func New(cfg Config) (*App, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth provider required")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &App{
		store:   dataStore,
		auth:    cfg.Auth,
		objects: cfg.Objects,
		events:  publisher,
	}, nil
}

// Session resolves the current identity for token.
func (a *App) Session(ctx context.Context, token string) (domain.Session, error) {
	return a.auth.Me(ctx, token)
}

// ListListings returns the owner's listings, newest first.
func (a *App) ListListings(ctx context.Context, owner domain.Session) ([]domain.Listing, error) {
	listings, err := a.store.ListListingsByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	return listings, nil
}

// DeleteListing removes a listing the owner holds, then cleans up its images
// and announces the deletion. Cleanup and announcement failures are logged,
// not returned: the document is already gone.
func (a *App) DeleteListing(ctx context.Context, owner domain.Session, id string) error {
	listing, ok, err := a.store.GetListing(ctx, id)
	if err != nil {
		return fmt.Errorf("get listing: %w", err)
	}
	if !ok {
		return ErrListingNotFound
	}
	if listing.Data.UserRef != owner.ID {
		return ErrForbidden
	}
	if err := a.store.DeleteListing(ctx, id); err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	a.removeImages(ctx, listing)
	a.publish(ctx, events.New(events.ListingDeleted, id, map[string]string{"ownerRef": owner.ID}))
	return nil
}

// UpdateDisplayName pushes a new display name to the auth provider when it
// differs from the session's, returning the resulting session.
func (a *App) UpdateDisplayName(ctx context.Context, token string, session domain.Session, name string) (domain.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return session, ErrNameRequired
	}
	if name == session.DisplayName {
		return session, nil
	}
	updated, err := a.auth.UpdateDisplayName(ctx, token, name)
	if err != nil {
		return session, err
	}
	return updated, nil
}

// WriteProfile stores {name, email} in users/{userID}.
func (a *App) WriteProfile(ctx context.Context, userID string, form domain.ProfileForm) error {
	form, err := NormalizeForm(form)
	if err != nil {
		return err
	}
	if err := a.store.UpdateUserProfile(ctx, userID, form); err != nil {
		return err
	}
	a.publish(ctx, events.New(events.ProfileUpdated, userID, form))
	return nil
}

// SubmitProfile runs the full submit: display name first (only if changed),
// then the profile document, unconditionally. Backend failures from either
// step come back wrapped in ErrProfileUpdate; the two writes are not atomic.
func (a *App) SubmitProfile(ctx context.Context, token string, session domain.Session, form domain.ProfileForm) (domain.Session, error) {
	form, err := NormalizeForm(form)
	if err != nil {
		return session, err
	}
	updated, err := a.UpdateDisplayName(ctx, token, session, form.Name)
	if err != nil {
		return session, fmt.Errorf("%w: %w", ErrProfileUpdate, err)
	}
	if err := a.WriteProfile(ctx, session.ID, form); err != nil {
		return updated, fmt.Errorf("%w: %w", ErrProfileUpdate, err)
	}
	return updated, nil
}

// Logout signs the session out at the auth provider.
func (a *App) Logout(ctx context.Context, token string) error {
	return a.auth.Logout(ctx, token)
}

// NormalizeForm trims the form and validates it.
func NormalizeForm(form domain.ProfileForm) (domain.ProfileForm, error) {
	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)
	if form.Name == "" {
		return form, ErrNameRequired
	}
	addr, err := mail.ParseAddress(form.Email)
	if err != nil || addr.Address != form.Email {
		return form, ErrInvalidEmail
	}
	return form, nil
}

func (a *App) removeImages(ctx context.Context, listing domain.Listing) {
	if a.objects == nil {
		return
	}
	logger := util.LoggerFromContext(ctx)
	for _, u := range listing.Data.ImageURLs {
		key, ok := a.objects.KeyForURL(u)
		if !ok {
			continue
		}
		if err := a.objects.Delete(ctx, key); err != nil {
			logger.Warn("failed to delete listing image", "listing_id", listing.ID, "key", key, "err", err)
		}
	}
}

func (a *App) publish(ctx context.Context, ev events.Event) {
	if err := a.events.Publish(ctx, ev); err != nil {
		util.LoggerFromContext(ctx).Warn("failed to publish event", "type", ev.Type, "subject", ev.Subject, "err", err)
	}
}
