// Package player holds player identities, the pending-reconciliation queue, and the
// liveness registry of connected players.
package player

import (
	"strings"

	"github.com/google/uuid"
)

// Identity is the player identity a client presents in its init message.
// The ID is generated by the client.
type Identity struct {
	ID       string
	Username string
	Email    string
}

// NewIdentity builds an Identity with a canonical id and trimmed fields.
func NewIdentity(id, username, email string) Identity {
	return Identity{
		ID:       CanonicalID(id),
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
	}
}

// CanonicalID renders ids that parse as UUIDs in lowercase hyphenated form and returns
// any other id trimmed of surrounding whitespace.
//
// Postcondition: CanonicalID(CanonicalID(x)) == CanonicalID(x).
func CanonicalID(id string) string {
	id = strings.TrimSpace(id)
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

// SameID reports whether a and b name the same player after canonicalization.
func SameID(a, b string) bool {
	return CanonicalID(a) == CanonicalID(b)
}
