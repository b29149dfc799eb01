package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/identity"
)

// Schema is the DDL this package expects (migrations applied out of band,
// same as the teacher's SQL files).
const Schema = `
CREATE TABLE IF NOT EXISTS trust_state (
	subject     TEXT PRIMARY KEY,
	trust_level TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS revocations (
	vc_hash    TEXT PRIMARY KEY,
	revoker    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore is the production Store, wrapping a shared *pgxpool.Pool
// exactly like internal/repository/postgres/user.go's *UserStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) RecordRevocation(ctx context.Context, vcHash canon.Hash, revoker identity.PersonID, createdAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO revocations (vc_hash, revoker, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (vc_hash) DO NOTHING`,
		vcHash.Hex(), string(revoker), createdAt)
	if err != nil {
		return fmt.Errorf("insert revocation: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsRevoked(ctx context.Context, vcHash canon.Hash) (bool, error) {
	var revoker string
	err := s.pool.QueryRow(ctx, `SELECT revoker FROM revocations WHERE vc_hash = $1`, vcHash.Hex()).Scan(&revoker)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup revocation: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) SetTrust(ctx context.Context, subject identity.PersonID, level TrustLevel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trust_state (subject, trust_level, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (subject) DO UPDATE SET trust_level = EXCLUDED.trust_level, updated_at = now()`,
		string(subject), string(level))
	if err != nil {
		return fmt.Errorf("upsert trust state: %w", err)
	}
	return nil
}

func (s *PostgresStore) TrustLevelOf(ctx context.Context, subject identity.PersonID) (TrustLevel, bool, error) {
	var level string
	err := s.pool.QueryRow(ctx, `SELECT trust_level FROM trust_state WHERE subject = $1`, string(subject)).Scan(&level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup trust state: %w", err)
	}
	return TrustLevel(level), true, nil
}
