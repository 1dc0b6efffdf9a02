// internal/syncer/diff.go
package syncer

import (
	"time"

	"dirsync/pkg/graph"
)

// Diff compares the remote snapshot against the persisted local sets
// and produces the change set for this pass. Every observed record is
// refreshed (last_synced_at = pass start); records absent from the
// snapshot become deletion candidates only if their last_synced_at
// predates the pass start, which protects rows written concurrently by
// another path during the crawl window.
func Diff(snap *Snapshot, localIdentities []graph.Identity, localGroups []graph.Group, localMemberships []graph.Membership, passStart time.Time) graph.ChangeSet {
	cs := graph.ChangeSet{PassStart: passStart}

	localByIdp := make(map[string]graph.Identity, len(localIdentities))
	for _, i := range localIdentities {
		localByIdp[i.IdpID] = i
	}
	for id, u := range snap.Users {
		rec := graph.Identity{IdpID: id, Email: u.Email, DisplayName: u.DisplayName}
		if _, ok := localByIdp[id]; ok {
			cs.UpdateIdentities = append(cs.UpdateIdentities, rec)
		} else {
			cs.CreateIdentities = append(cs.CreateIdentities, rec)
		}
	}
	for _, i := range localIdentities {
		if _, ok := snap.Users[i.IdpID]; !ok && i.LastSyncedAt.Before(passStart) {
			cs.DeleteIdentities = append(cs.DeleteIdentities, i.IdpID)
		}
	}

	groupByIdp := make(map[string]graph.Group, len(localGroups))
	for _, g := range localGroups {
		groupByIdp[g.IdpID] = g
	}
	for id, g := range snap.Groups {
		rec := graph.Group{IdpID: id, Name: g.Name}
		if _, ok := groupByIdp[id]; ok {
			cs.UpdateGroups = append(cs.UpdateGroups, rec)
		} else {
			cs.CreateGroups = append(cs.CreateGroups, rec)
		}
	}
	for _, g := range localGroups {
		if _, ok := snap.Groups[g.IdpID]; !ok && g.LastSyncedAt.Before(passStart) {
			cs.DeleteGroups = append(cs.DeleteGroups, g.IdpID)
		}
	}

	msByKey := make(map[graph.MembershipKey]graph.Membership, len(localMemberships))
	for _, m := range localMemberships {
		msByKey[m.Key()] = m
	}
	for k := range snap.Memberships {
		rec := graph.Membership{UserIdpID: k.UserIdpID, GroupIdpID: k.GroupIdpID}
		if _, ok := msByKey[k]; ok {
			cs.UpdateMemberships = append(cs.UpdateMemberships, rec)
		} else {
			cs.CreateMemberships = append(cs.CreateMemberships, rec)
		}
	}
	for _, m := range localMemberships {
		if _, ok := snap.Memberships[m.Key()]; !ok && m.LastSyncedAt.Before(passStart) {
			cs.DeleteMemberships = append(cs.DeleteMemberships, m.Key())
		}
	}

	return cs
}
