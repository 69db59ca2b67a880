package datastore

import "github.com/google/uuid"

// NewID mints a fresh opaque 128-bit identifier (spec.md §3).
func NewID() ID {
	return uuid.NewString()
}
