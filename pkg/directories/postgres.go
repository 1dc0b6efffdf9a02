// pkg/directories/postgres.go
package directories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresProvider constructs a PostgreSQL-backed directory provider.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS directories (
  id uuid PRIMARY KEY,
  account_id uuid NOT NULL,
  provider_type text NOT NULL DEFAULT 'okta',
  name text,
  domain text,
  client_id text,
  key_id text,
  private_key text,
  synced_at timestamptz,
  errored_at timestamptz,
  error_message text NOT NULL DEFAULT '',
  error_email_count int NOT NULL DEFAULT 0,
  is_disabled boolean NOT NULL DEFAULT false,
  disabled_reason text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
-- Backfill / ensure new columns exist (for upgrades)
ALTER TABLE directories ADD COLUMN IF NOT EXISTS error_email_count int NOT NULL DEFAULT 0;
ALTER TABLE directories ADD COLUMN IF NOT EXISTS is_disabled boolean NOT NULL DEFAULT false;
ALTER TABLE directories ADD COLUMN IF NOT EXISTS disabled_reason text NOT NULL DEFAULT '';
`)
	return err
}

// SeedFromEnv ingests initial directory data.
// jsonSeed format (DIRECTORY_SEED_JSON):
// [
//
//	{
//	  "id":"...","account_id":"...","provider_type":"okta","name":"...",
//	  "domain":"acme.okta.com","client_id":"...","key_id":"...","private_key":"..."
//	}
//
// ]
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []struct {
		ID           string `json:"id"`
		AccountID    string `json:"account_id"`
		ProviderType string `json:"provider_type"`
		Name         string `json:"name"`
		Domain       string `json:"domain"`
		ClientID     string `json:"client_id"`
		KeyID        string `json:"key_id"`
		PrivateKey   string `json:"private_key"`
	}
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.ProviderType == "" {
			entry.ProviderType = "okta"
		}
		_, err := dbPool.Exec(ctx, `INSERT INTO directories(id,account_id,provider_type,name,domain,client_id,key_id,private_key)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		  ON CONFLICT (id) DO UPDATE SET provider_type=EXCLUDED.provider_type,name=EXCLUDED.name,domain=EXCLUDED.domain,client_id=EXCLUDED.client_id,key_id=EXCLUDED.key_id,private_key=EXCLUDED.private_key,updated_at=NOW()`,
			entry.ID, entry.AccountID, entry.ProviderType, entry.Name, entry.Domain, entry.ClientID, entry.KeyID, entry.PrivateKey)
		if err != nil {
			return err
		}
	}
	return nil
}

const directoryCols = `id,account_id,provider_type,COALESCE(name,''),COALESCE(domain,''),COALESCE(client_id,''),COALESCE(key_id,''),COALESCE(private_key,''),synced_at,errored_at,error_message,error_email_count,is_disabled,disabled_reason`

func scanDirectory(row interface{ Scan(...any) error }) (Directory, error) {
	var d Directory
	if err := row.Scan(&d.ID, &d.AccountID, &d.ProviderType, &d.Name,
		&d.Credentials.Domain, &d.Credentials.ClientID, &d.Credentials.KeyID, &d.Credentials.PrivateKey,
		&d.SyncedAt, &d.ErroredAt, &d.ErrorMessage, &d.ErrorEmailCount, &d.IsDisabled, &d.DisabledReason); err != nil {
		return Directory{}, err
	}
	return d, nil
}

func (p *pgProvider) Get(ctx context.Context, id string) (Directory, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+directoryCols+` FROM directories WHERE id=$1`, id)
	d, err := scanDirectory(row)
	if err != nil {
		return Directory{}, errors.New("directory not found")
	}
	return d, nil
}

func (p *pgProvider) ListEnabled(ctx context.Context) ([]Directory, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT `+directoryCols+` FROM directories WHERE NOT is_disabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Directory
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *pgProvider) MarkSynced(ctx context.Context, id string, passStart time.Time) error {
	_, err := p.dbPool.Exec(ctx, `UPDATE directories SET
	  synced_at=$2, errored_at=NULL, error_message='', error_email_count=0,
	  is_disabled=false, disabled_reason='', updated_at=NOW()
	  WHERE id=$1`, id, passStart)
	return err
}

func (p *pgProvider) MarkErrored(ctx context.Context, id, message string, at time.Time) error {
	bump := 0
	if MentionsEmail(message) {
		bump = 1
	}
	_, err := p.dbPool.Exec(ctx, `UPDATE directories SET
	  errored_at=$2, error_message=$3, error_email_count=error_email_count+$4, updated_at=NOW()
	  WHERE id=$1`, id, at, message, bump)
	return err
}
