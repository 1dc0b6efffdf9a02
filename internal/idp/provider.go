// Package idp defines the provider-facing contract of a sync pass. One
// implementation exists per provider type; the registry dispatches on
// the directory's provider type at pass entry.
package idp

import "context"

// Application is a provider app integration assigned to the directory.
type Application struct {
	ID    string
	Label string
}

// User is a provider user as observed through an app assignment or a
// group membership. Email may be empty here; the reconciler treats that
// as fatal.
type User struct {
	ID          string
	Email       string
	DisplayName string
}

// Group is a provider group assigned to an application.
type Group struct {
	ID   string
	Name string
}

// Stream is a lazy sequence over one paginated collection. Next fetches
// the following page only when the current one is exhausted. A stream
// has a single terminal state: exhaustion (ok=false, err=nil) or error
// (ok=false, err!=nil); after either it yields nothing further. Streams
// are not restartable; pull a fresh one to re-read.
type Stream[T any] interface {
	Next(ctx context.Context) (T, bool, error)
}

// Provider is one identity-provider integration. Streams are lazy;
// FetchToken must succeed before any stream is advanced.
type Provider interface {
	FetchToken(ctx context.Context) error
	ListApplications(ctx context.Context) Stream[Application]
	StreamUsers(ctx context.Context, appID string) Stream[User]
	StreamGroups(ctx context.Context, appID string) Stream[Group]
	StreamGroupMembers(ctx context.Context, groupID string) Stream[User]
}
