package app

import "errors"

var (
	// ErrListingNotFound is returned when the listing id does not exist.
	ErrListingNotFound = errors.New("listing not found")
	// ErrForbidden is returned when a listing is owned by someone else.
	ErrForbidden = errors.New("forbidden")

	ErrNameRequired  = errors.New("name required")
	ErrInvalidEmail  = errors.New("invalid email")
	ErrOwnerMismatch = errors.New("owner does not match session")

	// ErrConfirmationRequired is returned when a delete arrives without the
	// explicit confirmation flag.
	ErrConfirmationRequired = errors.New("delete confirmation required")

	// ErrProfileUpdate wraps any failure of the two-step profile submit. The
	// user only ever sees a generic message for it.
	ErrProfileUpdate = errors.New("could not update profile details")
)
