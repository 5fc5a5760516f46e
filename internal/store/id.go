package store

import "github.com/google/uuid"

// NewID returns a new entity identifier.
func NewID() string {
	return uuid.NewString()
}
