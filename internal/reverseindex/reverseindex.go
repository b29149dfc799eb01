// Package reverseindex holds the two Postgres-backed indexes the Object
// Store needs but that are awkward to keep as flat files: the id-hash to
// latest-content-hash pointer (and its full version chain), and the
// reverse map from a referenced hash to every object that references it
// (spec.md §4.1, §6 "reverse/ namespace"). Both are natural relational
// lookups, so they are modeled the same way the teacher models
// `channel_members` and `channels`: a `*Store`-shaped type wrapping a
// shared `*pgxpool.Pool`, `ON CONFLICT DO NOTHING` for idempotent writes,
// and `QueryRow`/`Query` + `Scan` for reads.
package reverseindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/canon"
)

// Schema is the DDL this package expects to already exist (migrations are
// applied out of band, same as the teacher's SQL files — not shown here).
const Schema = `
CREATE TABLE IF NOT EXISTS id_index (
	id_hash             TEXT PRIMARY KEY,
	latest_content_hash TEXT NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS version_chain (
	id_hash           TEXT NOT NULL,
	content_hash      TEXT NOT NULL,
	prev_content_hash TEXT,
	seq               BIGSERIAL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id_hash, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_version_chain_id_seq ON version_chain (id_hash, seq DESC);

CREATE TABLE IF NOT EXISTS reverse_map (
	referenced_hash  TEXT NOT NULL,
	referencing_type TEXT NOT NULL,
	referencing_hash TEXT NOT NULL,
	PRIMARY KEY (referenced_hash, referencing_type, referencing_hash)
);
`

type Index struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Index {
	return &Index{pool: pool, logger: logger}
}

// RecordVersion upserts the id-index pointer to contentHash and appends a
// version_chain row linking it to prevHash (nil for the first version of
// an id). Both writes happen in one transaction so a concurrent reader
// never observes a version_chain row without a matching id_index update.
func (x *Index) RecordVersion(ctx context.Context, idHash, contentHash canon.Hash, prevHash *canon.Hash) error {
	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record version: %w", err)
	}
	defer tx.Rollback(ctx)

	var prev any
	if prevHash != nil {
		prev = prevHash.Hex()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO version_chain (id_hash, content_hash, prev_content_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (id_hash, content_hash) DO NOTHING`,
		idHash.Hex(), contentHash.Hex(), prev)
	if err != nil {
		return fmt.Errorf("insert version chain: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO id_index (id_hash, latest_content_hash, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id_hash) DO UPDATE SET latest_content_hash = EXCLUDED.latest_content_hash, updated_at = now()`,
		idHash.Hex(), contentHash.Hex())
	if err != nil {
		return fmt.Errorf("upsert id index: %w", err)
	}

	return tx.Commit(ctx)
}

// LatestContentHash returns the most recent content hash stored for
// idHash, or ok=false if no version has ever been recorded.
func (x *Index) LatestContentHash(ctx context.Context, idHash canon.Hash) (canon.Hash, bool, error) {
	var hex string
	err := x.pool.QueryRow(ctx, `SELECT latest_content_hash FROM id_index WHERE id_hash = $1`, idHash.Hex()).Scan(&hex)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return canon.Hash{}, false, nil
		}
		return canon.Hash{}, false, fmt.Errorf("lookup latest content hash: %w", err)
	}
	h, err := canon.ParseHash(hex)
	if err != nil {
		return canon.Hash{}, false, fmt.Errorf("parse latest content hash: %w", err)
	}
	return h, true, nil
}

// IterateVersions returns every content hash ever recorded for idHash,
// newest first.
func (x *Index) IterateVersions(ctx context.Context, idHash canon.Hash) ([]canon.Hash, error) {
	rows, err := x.pool.Query(ctx, `
		SELECT content_hash FROM version_chain
		WHERE id_hash = $1
		ORDER BY seq DESC`, idHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	defer rows.Close()

	var out []canon.Hash
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		h, err := canon.ParseHash(hex)
		if err != nil {
			return nil, fmt.Errorf("parse version hash: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version rows: %w", err)
	}
	return out, nil
}

// AddReverseRef records that referencingHash (of referencingType)
// references referencedHash, so a later reverseLookup(referencedHash,
// referencingType) finds it.
func (x *Index) AddReverseRef(ctx context.Context, referencedHash canon.Hash, referencingType string, referencingHash canon.Hash) error {
	_, err := x.pool.Exec(ctx, `
		INSERT INTO reverse_map (referenced_hash, referencing_type, referencing_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (referenced_hash, referencing_type, referencing_hash) DO NOTHING`,
		referencedHash.Hex(), referencingType, referencingHash.Hex())
	if err != nil {
		return fmt.Errorf("add reverse ref: %w", err)
	}
	return nil
}

// ReverseLookup returns every hash of referencingType that references
// referencedHash.
func (x *Index) ReverseLookup(ctx context.Context, referencedHash canon.Hash, referencingType string) ([]canon.Hash, error) {
	rows, err := x.pool.Query(ctx, `
		SELECT referencing_hash FROM reverse_map
		WHERE referenced_hash = $1 AND referencing_type = $2`,
		referencedHash.Hex(), referencingType)
	if err != nil {
		return nil, fmt.Errorf("reverse lookup: %w", err)
	}
	defer rows.Close()

	var out []canon.Hash
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("scan reverse ref: %w", err)
		}
		h, err := canon.ParseHash(hex)
		if err != nil {
			return nil, fmt.Errorf("parse reverse ref hash: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reverse refs: %w", err)
	}
	return out, nil
}
