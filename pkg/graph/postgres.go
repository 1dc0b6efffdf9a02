// pkg/graph/postgres.go
package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent). Assumes directories exists.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS external_identities (
  id uuid PRIMARY KEY,
  directory_id uuid NOT NULL REFERENCES directories(id) ON DELETE CASCADE,
  idp_id text NOT NULL,
  email text NOT NULL,
  display_name text NOT NULL DEFAULT '',
  last_synced_at timestamptz NOT NULL DEFAULT NOW(),
  UNIQUE(directory_id, idp_id)
);
CREATE TABLE IF NOT EXISTS directory_groups (
  id uuid PRIMARY KEY,
  directory_id uuid NOT NULL REFERENCES directories(id) ON DELETE CASCADE,
  idp_id text NOT NULL,
  name text NOT NULL DEFAULT '',
  last_synced_at timestamptz NOT NULL DEFAULT NOW(),
  UNIQUE(directory_id, idp_id)
);
CREATE TABLE IF NOT EXISTS group_memberships (
  id uuid PRIMARY KEY,
  directory_id uuid NOT NULL REFERENCES directories(id) ON DELETE CASCADE,
  identity_id uuid NOT NULL REFERENCES external_identities(id),
  group_id uuid NOT NULL REFERENCES directory_groups(id),
  last_synced_at timestamptz NOT NULL DEFAULT NOW(),
  UNIQUE(directory_id, identity_id, group_id)
);
`)
	return err
}

func (s *pgStore) Identities(ctx context.Context, directoryID string) ([]Identity, error) {
	rows, err := s.dbPool.Query(ctx, `SELECT id, directory_id, idp_id, email, display_name, last_synced_at
	  FROM external_identities WHERE directory_id=$1`, directoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Identity
	for rows.Next() {
		var i Identity
		if err := rows.Scan(&i.ID, &i.DirectoryID, &i.IdpID, &i.Email, &i.DisplayName, &i.LastSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *pgStore) Groups(ctx context.Context, directoryID string) ([]Group, error) {
	rows, err := s.dbPool.Query(ctx, `SELECT id, directory_id, idp_id, name, last_synced_at
	  FROM directory_groups WHERE directory_id=$1`, directoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.DirectoryID, &g.IdpID, &g.Name, &g.LastSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *pgStore) Memberships(ctx context.Context, directoryID string) ([]Membership, error) {
	rows, err := s.dbPool.Query(ctx, `SELECT m.id, m.directory_id, i.idp_id, g.idp_id, m.last_synced_at
	  FROM group_memberships m
	  JOIN external_identities i ON m.identity_id = i.id
	  JOIN directory_groups g ON m.group_id = g.id
	  WHERE m.directory_id=$1`, directoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.DirectoryID, &m.UserIdpID, &m.GroupIdpID, &m.LastSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Apply commits the change set in one transaction. Upserts run before
// deletions; membership deletions run before identity/group deletions
// so no foreign key is ever dangling mid-commit.
func (s *pgStore) Apply(ctx context.Context, directoryID string, cs ChangeSet) error {
	tx, err := s.dbPool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	upsertIdentity := func(i Identity) error {
		_, err := tx.Exec(ctx, `INSERT INTO external_identities(id, directory_id, idp_id, email, display_name, last_synced_at)
		  VALUES ($1,$2,$3,$4,$5,$6)
		  ON CONFLICT (directory_id, idp_id) DO UPDATE SET email=EXCLUDED.email, display_name=EXCLUDED.display_name, last_synced_at=EXCLUDED.last_synced_at`,
			uuid.NewString(), directoryID, i.IdpID, i.Email, i.DisplayName, cs.PassStart)
		return err
	}
	upsertGroup := func(g Group) error {
		_, err := tx.Exec(ctx, `INSERT INTO directory_groups(id, directory_id, idp_id, name, last_synced_at)
		  VALUES ($1,$2,$3,$4,$5)
		  ON CONFLICT (directory_id, idp_id) DO UPDATE SET name=EXCLUDED.name, last_synced_at=EXCLUDED.last_synced_at`,
			uuid.NewString(), directoryID, g.IdpID, g.Name, cs.PassStart)
		return err
	}
	upsertMembership := func(m Membership) error {
		_, err := tx.Exec(ctx, `INSERT INTO group_memberships(id, directory_id, identity_id, group_id, last_synced_at)
		  SELECT $1, $2, i.id, g.id, $5
		  FROM external_identities i, directory_groups g
		  WHERE i.directory_id=$2 AND i.idp_id=$3 AND g.directory_id=$2 AND g.idp_id=$4
		  ON CONFLICT (directory_id, identity_id, group_id) DO UPDATE SET last_synced_at=EXCLUDED.last_synced_at`,
			uuid.NewString(), directoryID, m.UserIdpID, m.GroupIdpID, cs.PassStart)
		return err
	}

	for _, i := range cs.CreateIdentities {
		if err := upsertIdentity(i); err != nil {
			return err
		}
	}
	for _, i := range cs.UpdateIdentities {
		if err := upsertIdentity(i); err != nil {
			return err
		}
	}
	for _, g := range cs.CreateGroups {
		if err := upsertGroup(g); err != nil {
			return err
		}
	}
	for _, g := range cs.UpdateGroups {
		if err := upsertGroup(g); err != nil {
			return err
		}
	}
	for _, m := range cs.CreateMemberships {
		if err := upsertMembership(m); err != nil {
			return err
		}
	}
	for _, m := range cs.UpdateMemberships {
		if err := upsertMembership(m); err != nil {
			return err
		}
	}

	for _, k := range cs.DeleteMemberships {
		if _, err := tx.Exec(ctx, `DELETE FROM group_memberships m
		  USING external_identities i, directory_groups g
		  WHERE m.directory_id=$1 AND m.identity_id=i.id AND m.group_id=g.id
		    AND i.idp_id=$2 AND g.idp_id=$3`, directoryID, k.UserIdpID, k.GroupIdpID); err != nil {
			return err
		}
	}
	if len(cs.DeleteGroups) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM directory_groups WHERE directory_id=$1 AND idp_id = ANY($2)`, directoryID, cs.DeleteGroups); err != nil {
			return err
		}
	}
	if len(cs.DeleteIdentities) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM external_identities WHERE directory_id=$1 AND idp_id = ANY($2)`, directoryID, cs.DeleteIdentities); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
