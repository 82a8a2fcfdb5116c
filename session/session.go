// Package session turns an external authentication capability into the
// logged-in/logged-out signal that gates the reconciliation layer.
package session

import "context"

// Identity is the signed-in user.
type Identity struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Household string `json:"household"`
}

// Authenticator is the auth capability the gate consumes.
type Authenticator interface {
	// OnSessionChange calls fn with the current identity, or nil when signed
	// out, right away and again on every change. The returned function
	// stops the notifications and is safe to call more than once.
	OnSessionChange(fn func(*Identity)) func()

	// SignOut ends the current session.
	SignOut(ctx context.Context) error
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
