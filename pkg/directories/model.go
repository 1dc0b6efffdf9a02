package directories

import "time"

// Directory represents one configured connection to an external
// identity provider for one account. Sync health fields are mutated
// only by the sync pass; credentials only by administrator action.
type Directory struct {
	ID           string // uuid
	AccountID    string // uuid of the owning account
	ProviderType string // e.g. "okta"
	Name         string

	Credentials Credentials

	// Sync health, surfaced to operators.
	SyncedAt        *time.Time // last successful pass start; nil before first sync
	ErroredAt       *time.Time
	ErrorMessage    string
	ErrorEmailCount int // failures whose message mentioned an email address
	IsDisabled      bool
	DisabledReason  string
}

// Credentials holds the proof-of-possession OAuth material for the
// provider's service app.
type Credentials struct {
	Domain     string // provider tenant, e.g. acme.okta.com
	ClientID   string
	KeyID      string
	PrivateKey string // PEM-encoded private signing key
}

// FirstSync reports whether the directory has never completed a pass.
func (d Directory) FirstSync() bool { return d.SyncedAt == nil }
