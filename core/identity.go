package core

import "fmt"

// IdentityKind discriminates the two identity variants a session can be
// bound to.
type IdentityKind string

const (
	// IdentityGuest identifies an anonymous visitor by an opaque token.
	IdentityGuest IdentityKind = "guest"
	// IdentityAuthenticated identifies a logged-in customer.
	IdentityAuthenticated IdentityKind = "authenticated"
)

// Identity binds a session to an end user. Exactly one Active session may
// exist per identity key at any time; logging in merges the guest session
// into the authenticated one (a move, never a duplication).
type Identity struct {
	Kind         IdentityKind `json:"kind"`
	VisitorToken string       `json:"visitor_token,omitempty"`
	CustomerID   string       `json:"customer_id,omitempty"`
}

// GuestIdentity constructs a guest identity from an opaque visitor token.
func GuestIdentity(visitorToken string) Identity {
	return Identity{Kind: IdentityGuest, VisitorToken: visitorToken}
}

// AuthenticatedIdentity constructs an identity for a known customer.
func AuthenticatedIdentity(customerID string) Identity {
	return Identity{Kind: IdentityAuthenticated, CustomerID: customerID}
}

// IsGuest reports whether the identity is an anonymous visitor.
func (i Identity) IsGuest() bool { return i.Kind == IdentityGuest }

// Key returns the uniqueness key enforcing the one-active-session-per-identity
// invariant in session stores.
func (i Identity) Key() string {
	if i.Kind == IdentityAuthenticated {
		return fmt.Sprintf("customer:%s", i.CustomerID)
	}
	return fmt.Sprintf("guest:%s", i.VisitorToken)
}
