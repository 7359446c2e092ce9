package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/smelt/internal/spec"
)

// Record is one installed node.
type Record struct {
	Spec        *spec.ConcreteSpec
	Prefix      string
	Phases      []string
	Explicit    bool
	InstalledAt time.Time
	// Seq is assigned on insert and orders records by install time.
	Seq int64
}

// Hash returns the record's full dag hash.
func (r *Record) Hash() string { return r.Spec.DAGHash() }

// Insert records an installed node.
//
// Uses ON CONFLICT(hash) DO NOTHING: inserting a hash that is already
// present returns inserted=false and leaves the stored record untouched.
// Every dependency of rec.Spec must already be installed.
func (s *Store) Insert(ctx context.Context, rec Record) (inserted bool, err error) {
	if rec.Spec == nil || rec.Spec.DAGHash() == "" {
		return false, errors.New("write record: spec is not finalized")
	}
	node, err := rec.Spec.MarshalNode()
	if err != nil {
		return false, fmt.Errorf("write record: %w", err)
	}
	phases := rec.Phases
	if phases == nil {
		phases = []string{}
	}
	phasesJSON, err := json.Marshal(phases)
	if err != nil {
		return false, fmt.Errorf("write record: %w", err)
	}
	at := rec.InstalledAt
	if at.IsZero() {
		at = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	hash := rec.Spec.DAGHash()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO specs
		(hash, name, version, node_json, prefix, phases, explicit, installed_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM specs))
		ON CONFLICT(hash) DO NOTHING
	`,
		hash,
		rec.Spec.Name,
		rec.Spec.Version.String(),
		string(node),
		rec.Prefix,
		string(phasesJSON),
		rec.Explicit,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("write record %s: %w", rec.Spec.Name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write record: rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	for _, d := range rec.Spec.Deps {
		virtuals := d.Virtuals
		if virtuals == nil {
			virtuals = []string{}
		}
		virtualsJSON, err := json.Marshal(virtuals)
		if err != nil {
			return false, fmt.Errorf("write record: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dependencies (parent_hash, child_hash, dep_types, virtuals)
			VALUES (?, ?, ?, ?)
		`, hash, d.Spec.DAGHash(), d.Types.String(), string(virtualsJSON))
		if err != nil {
			return false, fmt.Errorf("write record %s: dependency %s not installed: %w",
				rec.Spec.Name, d.Spec.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write record: commit: %w", err)
	}
	s.interner.Intern(rec.Spec)
	s.logger.Debug("recorded install", "package", rec.Spec.Name, "hash", rec.Spec.ShortHash(7))
	return true, nil
}
