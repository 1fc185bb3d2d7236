package util

import "github.com/google/uuid"

// NewID returns a random identifier for requests, events and seeded documents.
func NewID() string {
	return uuid.NewString()
}
