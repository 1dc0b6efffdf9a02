package graph

import "time"

// Identity is a local copy of a provider user, scoped to one directory.
// Unique on (DirectoryID, IdpID). Email is required: it is the join key
// to the local actor model.
type Identity struct {
	ID           string // uuid
	DirectoryID  string
	IdpID        string // provider-native identifier
	Email        string
	DisplayName  string
	LastSyncedAt time.Time
}

// Group is a local copy of a provider group, scoped to one directory.
type Group struct {
	ID           string
	DirectoryID  string
	IdpID        string
	Name         string
	LastSyncedAt time.Time
}

// Membership relates one identity to one group within a directory.
// Persisted against local row ids; carried here by natural key so the
// diff never depends on local id assignment.
type Membership struct {
	ID           string
	DirectoryID  string
	UserIdpID    string
	GroupIdpID   string
	LastSyncedAt time.Time
}

// MembershipKey is the natural key of a membership.
type MembershipKey struct {
	UserIdpID  string
	GroupIdpID string
}

func (m Membership) Key() MembershipKey {
	return MembershipKey{UserIdpID: m.UserIdpID, GroupIdpID: m.GroupIdpID}
}

// ChangeSet is the full outcome of one reconciliation pass. Apply
// commits it in one transaction, ordered so that identities and groups
// exist before memberships that reference them and membership deletions
// precede identity/group deletions.
type ChangeSet struct {
	PassStart time.Time

	CreateIdentities []Identity
	UpdateIdentities []Identity
	DeleteIdentities []string // idp ids

	CreateGroups []Group
	UpdateGroups []Group
	DeleteGroups []string // idp ids

	CreateMemberships []Membership
	UpdateMemberships []Membership
	DeleteMemberships []MembershipKey
}

// Empty reports whether the change set would write nothing.
func (cs ChangeSet) Empty() bool {
	return len(cs.CreateIdentities)+len(cs.UpdateIdentities)+len(cs.DeleteIdentities)+
		len(cs.CreateGroups)+len(cs.UpdateGroups)+len(cs.DeleteGroups)+
		len(cs.CreateMemberships)+len(cs.UpdateMemberships)+len(cs.DeleteMemberships) == 0
}
