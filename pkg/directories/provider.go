package directories

import (
	"context"
	"regexp"
	"time"
)

type Provider interface {
	// Get fetches a directory with its credentials and sync health.
	Get(ctx context.Context, id string) (Directory, error)
	// ListEnabled returns directories eligible for scheduled syncing.
	ListEnabled(ctx context.Context) ([]Directory, error)
	// MarkSynced records a successful pass: sets synced_at to the pass
	// start, clears the error fields and any auto-disable.
	MarkSynced(ctx context.Context, id string, passStart time.Time) error
	// MarkErrored records a failed pass. synced_at is left untouched;
	// the email-mention counter is bumped when the message contains an
	// email address.
	MarkErrored(ctx context.Context, id, message string, at time.Time) error
}

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// MentionsEmail reports whether an error message contains an email
// address. Used to triage failures caused by individual user records.
func MentionsEmail(message string) bool { return emailRe.MatchString(message) }
