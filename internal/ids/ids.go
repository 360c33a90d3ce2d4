// Package ids mints request identifiers.
package ids

import "github.com/oklog/ulid/v2"

// New returns a ULID for request and log correlation. It is sortable, not
// secret; session tokens come from crypto/rand.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
