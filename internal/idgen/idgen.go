// Package idgen mints the random identifiers used for flows and canvas
// sessions.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Kind is the prefix that marks what an identifier names.
type Kind string

const (
	Flow    Kind = "cf-"
	Session Kind = "cs-"
)

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 12
)

// New returns a fresh identifier of kind k.
func (k Kind) New() (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return string(k) + id, nil
}

// Owns reports whether id has the shape of an identifier minted by k.New.
func (k Kind) Owns(id string) bool {
	rest, ok := strings.CutPrefix(id, string(k))
	if !ok || len(rest) != length {
		return false
	}
	for _, c := range rest {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	return true
}

// FlowID returns a new flow identifier.
func FlowID() (string, error) { return Flow.New() }

// SessionID returns a new canvas session identifier.
func SessionID() (string, error) { return Session.New() }
