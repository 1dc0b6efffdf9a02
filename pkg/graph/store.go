package graph

import "context"

// Store persists the directory-scoped authorization sets. Reads happen
// once at pass start; the only mutation path is Apply, which commits a
// whole ChangeSet atomically (one transaction, or nothing).
type Store interface {
	Identities(ctx context.Context, directoryID string) ([]Identity, error)
	Groups(ctx context.Context, directoryID string) ([]Group, error)
	Memberships(ctx context.Context, directoryID string) ([]Membership, error)
	Apply(ctx context.Context, directoryID string, cs ChangeSet) error
}
