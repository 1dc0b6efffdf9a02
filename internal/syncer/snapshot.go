// internal/syncer/snapshot.go
package syncer

import (
	"context"

	"dirsync/internal/idp"
	"dirsync/pkg/faults"
	"dirsync/pkg/graph"
)

// Snapshot is the complete remote state reachable from the directory's
// assigned applications, deduplicated by provider-native id. A user or
// group reachable through several applications counts once.
type Snapshot struct {
	Users       map[string]idp.User
	Groups      map[string]idp.Group
	Memberships map[graph.MembershipKey]struct{}
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Users:       map[string]idp.User{},
		Groups:      map[string]idp.Group{},
		Memberships: map[graph.MembershipKey]struct{}{},
	}
}

// addUser records a user observation. An empty email is fatal: the
// local actor model joins on email, so the pass cannot continue.
func (s *Snapshot) addUser(u idp.User) error {
	if u.Email == "" {
		return faults.MissingEmail(u.ID)
	}
	s.Users[u.ID] = u
	return nil
}

// BuildSnapshot crawls applications, their assigned users and groups,
// and each group's members. Any stream error aborts the whole build;
// a partial listing is never reconciled.
func BuildSnapshot(ctx context.Context, provider idp.Provider) (*Snapshot, error) {
	snap := newSnapshot()

	apps := provider.ListApplications(ctx)
	for {
		app, ok, err := apps.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		users := provider.StreamUsers(ctx, app.ID)
		for {
			u, ok, err := users.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if err := snap.addUser(u); err != nil {
				return nil, err
			}
		}

		groups := provider.StreamGroups(ctx, app.ID)
		for {
			g, ok, err := groups.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if _, seen := snap.Groups[g.ID]; seen {
				continue // members already crawled via another app
			}
			snap.Groups[g.ID] = g

			members := provider.StreamGroupMembers(ctx, g.ID)
			for {
				m, ok, err := members.Next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				if err := snap.addUser(m); err != nil {
					return nil, err
				}
				snap.Memberships[graph.MembershipKey{UserIdpID: m.ID, GroupIdpID: g.ID}] = struct{}{}
			}
		}
	}
	return snap, nil
}
