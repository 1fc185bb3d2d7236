package store

import (
	"context"

	"homefinder/pkg/domain"
)

// Store is the document database behind the profile page.
type Store interface {
	// listings
	SaveListing(ctx context.Context, l domain.Listing) error
	GetListing(ctx context.Context, id string) (domain.Listing, bool, error)
	// ListListingsByOwner returns every listing whose owner reference equals
	// ownerRef, newest first.
	ListListingsByOwner(ctx context.Context, ownerRef string) ([]domain.Listing, error)
	DeleteListing(ctx context.Context, id string) error

	// user profiles
	UpdateUserProfile(ctx context.Context, userID string, form domain.ProfileForm) error
	GetUserProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error)
}
