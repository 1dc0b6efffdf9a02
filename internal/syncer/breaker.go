// internal/syncer/breaker.go
package syncer

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"dirsync/pkg/faults"
	"dirsync/pkg/graph"
)

// The deletion guard is a rego policy so the safety rule is data, not
// control flow: a pass proposing to delete more than max_ratio of an
// entity type's existing records trips it, unless the set is below
// min_records or the directory has never synced.
const guardModule = `package dirsync.deletionguard

default unsafe = false

unsafe {
	not input.first_sync
	input.existing >= input.min_records
	input.deletions > input.max_ratio * input.existing
}
`

// Guard aborts a pass before any mutation when the proposed deletions
// for any entity type are an unsafe share of the persisted set.
type Guard struct {
	maxRatio   float64
	minRecords int
	query      rego.PreparedEvalQuery
}

func NewGuard(maxRatio float64, minRecords int) (*Guard, error) {
	q, err := rego.New(
		rego.Query("data.dirsync.deletionguard.unsafe"),
		rego.Module("deletionguard.rego", guardModule),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, err
	}
	return &Guard{maxRatio: maxRatio, minRecords: minRecords, query: q}, nil
}

// Check evaluates the guard for one entity type. firstSync exempts a
// directory that has never completed a pass.
func (g *Guard) Check(ctx context.Context, entity string, deletions, existing int, firstSync bool) error {
	if existing == 0 {
		return nil
	}
	rs, err := g.query.Eval(ctx, rego.EvalInput(map[string]any{
		"deletions":   deletions,
		"existing":    existing,
		"first_sync":  firstSync,
		"max_ratio":   g.maxRatio,
		"min_records": g.minRecords,
	}))
	if err != nil {
		return err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("deletion guard produced no result")
	}
	unsafe, _ := rs[0].Expressions[0].Value.(bool)
	if !unsafe {
		return nil
	}
	guardTripsTotal.WithLabelValues(entity).Inc()
	ratio := float64(deletions) / float64(existing)
	return faults.New(faults.KindDeletionGuard,
		fmt.Sprintf("Sync aborted: it would delete %d of %d %s (%.0f%%)", deletions, existing, entity, ratio*100),
		"The provider returned an unexpectedly small snapshot; if the shrinkage is intentional, re-run once the provider data is confirmed",
		nil)
}

// CheckPlan runs the guard over every entity type of a change set.
// Tripping any one aborts the whole pass; nothing has been written yet.
func (g *Guard) CheckPlan(ctx context.Context, cs graph.ChangeSet, localIdentities, localGroups, localMemberships int, firstSync bool) error {
	if err := g.Check(ctx, "identities", len(cs.DeleteIdentities), localIdentities, firstSync); err != nil {
		return err
	}
	if err := g.Check(ctx, "groups", len(cs.DeleteGroups), localGroups, firstSync); err != nil {
		return err
	}
	return g.Check(ctx, "memberships", len(cs.DeleteMemberships), localMemberships, firstSync)
}
