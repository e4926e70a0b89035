// Package idgen generates identifiers for permit runs and retrieval notes.
//
// Constructors that persist records (permit, store, retrieve) accept a
// Generator so tests can pin IDs.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so runs list in creation order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator yielding prefix-1, prefix-2, ...
// Not safe for concurrent use.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// RunID identifies one pipeline invocation ("run_<uuidv7>").
var RunID Generator = Prefixed("run_", Default)

// NoteID identifies a stored product-page note ("note_<uuidv7>").
var NoteID Generator = Prefixed("note_", Default)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates the UUID part of a possibly prefixed ID.
func Parse(id string) (string, error) {
	raw := id
	if i := lastUnderscore(id); i >= 0 {
		raw = id[i+1:]
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", id, err)
	}
	return u.String(), nil
}

func lastUnderscore(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '_' {
			return i
		}
	}
	return -1
}
