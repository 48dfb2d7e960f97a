package domain

import "github.com/oklog/ulid/v2"

// NewID returns a new lexicographically sortable identifier (ULID).
// IDs generated within the same millisecond are strictly increasing.
func NewID() string {
	return ulid.Make().String()
}
