// pkg/graph/memory.go
package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store (tests, dev bring-up). Apply
// mirrors the transactional semantics of the Postgres store: the change
// set is validated first and state swaps in whole or not at all.
type MemoryStore struct {
	mu          sync.RWMutex
	identities  map[string]map[string]Identity      // directory -> idp_id -> record
	groups      map[string]map[string]Group         // directory -> idp_id -> record
	memberships map[string]map[MembershipKey]Membership // directory -> key -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities:  map[string]map[string]Identity{},
		groups:      map[string]map[string]Group{},
		memberships: map[string]map[MembershipKey]Membership{},
	}
}

func (s *MemoryStore) Identities(ctx context.Context, directoryID string) ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Identity
	for _, i := range s.identities[directoryID] {
		out = append(out, i)
	}
	return out, nil
}

func (s *MemoryStore) Groups(ctx context.Context, directoryID string) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Group
	for _, g := range s.groups[directoryID] {
		out = append(out, g)
	}
	return out, nil
}

func (s *MemoryStore) Memberships(ctx context.Context, directoryID string) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Membership
	for _, m := range s.memberships[directoryID] {
		out = append(out, m)
	}
	return out, nil
}

// Seed installs records directly, bypassing ChangeSet ordering. Test helper.
func (s *MemoryStore) Seed(directoryID string, ids []Identity, gs []Group, ms []Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(directoryID)
	for _, i := range ids {
		if i.ID == "" {
			i.ID = uuid.NewString()
		}
		i.DirectoryID = directoryID
		s.identities[directoryID][i.IdpID] = i
	}
	for _, g := range gs {
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		g.DirectoryID = directoryID
		s.groups[directoryID][g.IdpID] = g
	}
	for _, m := range ms {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.DirectoryID = directoryID
		s.memberships[directoryID][m.Key()] = m
	}
}

func (s *MemoryStore) ensure(directoryID string) {
	if s.identities[directoryID] == nil {
		s.identities[directoryID] = map[string]Identity{}
	}
	if s.groups[directoryID] == nil {
		s.groups[directoryID] = map[string]Group{}
	}
	if s.memberships[directoryID] == nil {
		s.memberships[directoryID] = map[MembershipKey]Membership{}
	}
}

func (s *MemoryStore) Apply(ctx context.Context, directoryID string, cs ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(directoryID)

	// Work on copies so a validation failure commits nothing.
	ids := cloneMap(s.identities[directoryID])
	gs := cloneMap(s.groups[directoryID])
	ms := cloneMap(s.memberships[directoryID])

	upsertIdentity := func(i Identity) {
		prev, ok := ids[i.IdpID]
		if ok {
			i.ID = prev.ID
		} else {
			i.ID = uuid.NewString()
		}
		i.DirectoryID = directoryID
		i.LastSyncedAt = cs.PassStart
		ids[i.IdpID] = i
	}
	upsertGroup := func(g Group) {
		prev, ok := gs[g.IdpID]
		if ok {
			g.ID = prev.ID
		} else {
			g.ID = uuid.NewString()
		}
		g.DirectoryID = directoryID
		g.LastSyncedAt = cs.PassStart
		gs[g.IdpID] = g
	}

	for _, i := range cs.CreateIdentities {
		upsertIdentity(i)
	}
	for _, i := range cs.UpdateIdentities {
		upsertIdentity(i)
	}
	for _, g := range cs.CreateGroups {
		upsertGroup(g)
	}
	for _, g := range cs.UpdateGroups {
		upsertGroup(g)
	}
	for _, m := range append(append([]Membership{}, cs.CreateMemberships...), cs.UpdateMemberships...) {
		// Same referential rule the database enforces.
		if _, ok := ids[m.UserIdpID]; !ok {
			return fmt.Errorf("membership references unknown identity %q", m.UserIdpID)
		}
		if _, ok := gs[m.GroupIdpID]; !ok {
			return fmt.Errorf("membership references unknown group %q", m.GroupIdpID)
		}
		prev, ok := ms[m.Key()]
		if ok {
			m.ID = prev.ID
		} else {
			m.ID = uuid.NewString()
		}
		m.DirectoryID = directoryID
		m.LastSyncedAt = cs.PassStart
		ms[m.Key()] = m
	}

	for _, k := range cs.DeleteMemberships {
		delete(ms, k)
	}
	for _, idp := range cs.DeleteGroups {
		for k := range ms {
			if k.GroupIdpID == idp {
				return fmt.Errorf("group %q still referenced by membership", idp)
			}
		}
		delete(gs, idp)
	}
	for _, idp := range cs.DeleteIdentities {
		for k := range ms {
			if k.UserIdpID == idp {
				return fmt.Errorf("identity %q still referenced by membership", idp)
			}
		}
		delete(ids, idp)
	}

	s.identities[directoryID] = ids
	s.groups[directoryID] = gs
	s.memberships[directoryID] = ms
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
