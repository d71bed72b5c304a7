package notify

import "context"

// Identity is one contactable user resolved from a recipient descriptor.
// Missing Email or Phone narrows which channels can be built; push is
// always deliverable through the device registry.
type Identity struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

// Directory resolves logical recipients against the platform's user
// records. Domain persistence is outside this core, so the directory is
// an injected collaborator; tests use a hand-written mock.
type Directory interface {
	// User returns the identity for a user ID, or
	// domain.ErrRecipientNotFound.
	User(ctx context.Context, id string) (*Identity, error)
	// AcademyOwner returns the identity of the user owning an academy
	// profile, or domain.ErrRecipientNotFound.
	AcademyOwner(ctx context.Context, academyID string) (*Identity, error)
	// UsersByRoles returns every user holding any of the given role
	// names. An empty result is not an error.
	UsersByRoles(ctx context.Context, roles []string) ([]Identity, error)
}
