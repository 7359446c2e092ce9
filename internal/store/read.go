package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/smelt/internal/spec"
)

const recordColumns = `hash, node_json, prefix, phases, explicit, installed_at, seq`

// row is a specs row before its DAG is rebuilt.
type row struct {
	hash        string
	node        string
	prefix      string
	phases      string
	explicit    bool
	installedAt string
	seq         int64
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (row, error) {
	var r row
	if err := sc.Scan(&r.hash, &r.node, &r.prefix, &r.phases, &r.explicit, &r.installedAt, &r.seq); err != nil {
		return row{}, fmt.Errorf("scan record: %w", err)
	}
	return r, nil
}

// LookupByHash returns the record with exactly this full hash.
func (s *Store) LookupByHash(ctx context.Context, hash string) (*Record, error) {
	r, err := scanRow(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM specs WHERE hash = ?`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Query: "/" + hash}
	}
	if err != nil {
		return nil, err
	}
	return s.toRecord(ctx, r)
}

// Has reports whether hash is installed.
func (s *Store) Has(ctx context.Context, hash string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM specs WHERE hash = ?`, hash).Scan(&n); err != nil {
		return false, fmt.Errorf("query record: %w", err)
	}
	return n > 0, nil
}

// All returns every record in install order.
func (s *Store) All(ctx context.Context) ([]*Record, error) {
	return s.selectRecords(ctx, "", nil)
}

// Query returns every record whose DAG satisfies q, in install order.
// A name or hash prefix in q narrows the scan; every other constraint,
// including '^' dependency constraints, is checked against the rebuilt DAG.
func (s *Store) Query(ctx context.Context, q *spec.AbstractSpec) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if q.Name != "" {
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}
	if q.Hash != "" {
		where = append(where, "hash LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(q.Hash)+"%")
	}
	candidates, err := s.selectRecords(ctx, strings.Join(where, " AND "), args)
	if err != nil {
		return nil, err
	}
	out := []*Record{}
	for _, rec := range candidates {
		if rec.Spec.Satisfies(q) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// QueryOne parses query ("callpath^mpich", "/3f2a9c") and returns the one
// record it matches. It fails with NotFoundError when nothing matches and
// AmbiguousQueryError when several records do.
func (s *Store) QueryOne(ctx context.Context, query string) (*Record, error) {
	q, err := spec.Parse(query)
	if err != nil {
		return nil, err
	}
	matches, err := s.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Query: query}
	case 1:
		return matches[0], nil
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Spec.ShortHash(7) + " " + m.Spec.Name + "@" + m.Spec.Version.String()
	}
	return nil, &AmbiguousQueryError{Query: query, Matches: names}
}

// Dependents returns the hashes of installed records with a direct edge to
// hash, in install order.
func (s *Store) Dependents(ctx context.Context, hash string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.parent_hash
		FROM dependencies d
		JOIN specs s ON s.hash = d.parent_hash
		WHERE d.child_hash = ?
		ORDER BY s.seq ASC, s.hash COLLATE BINARY ASC
	`, hash)
	if err != nil {
		return nil, fmt.Errorf("query dependents: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependents: %w", err)
	}
	return out, nil
}

func (s *Store) selectRecords(ctx context.Context, where string, args []any) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM specs`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY seq ASC, hash COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	var raw []row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	// Rebuilding a DAG issues further queries; with a single connection
	// the cursor must be closed first.
	rows.Close()

	out := make([]*Record, 0, len(raw))
	for _, r := range raw {
		rec, err := s.toRecord(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) toRecord(ctx context.Context, r row) (*Record, error) {
	node, err := s.loadSpec(ctx, r.hash, r.node)
	if err != nil {
		return nil, err
	}
	var phases []string
	if err := json.Unmarshal([]byte(r.phases), &phases); err != nil {
		return nil, fmt.Errorf("record %s: phases: %w", spec.ShortHash(r.hash, 7), err)
	}
	at, err := time.Parse(time.RFC3339Nano, r.installedAt)
	if err != nil {
		return nil, fmt.Errorf("record %s: installed_at: %w", spec.ShortHash(r.hash, 7), err)
	}
	return &Record{
		Spec:        node,
		Prefix:      r.prefix,
		Phases:      phases,
		Explicit:    r.explicit,
		InstalledAt: at,
		Seq:         r.seq,
	}, nil
}

// loadSpec rebuilds the node for hash, and recursively its dependencies,
// through the interner. node may be empty, in which case it is read.
func (s *Store) loadSpec(ctx context.Context, hash, node string) (*spec.ConcreteSpec, error) {
	if cached, ok := s.interner.Get(hash); ok {
		return cached, nil
	}
	if node == "" {
		err := s.db.QueryRowContext(ctx, `SELECT node_json FROM specs WHERE hash = ?`, hash).Scan(&node)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Query: "/" + hash}
		}
		if err != nil {
			return nil, fmt.Errorf("read node %s: %w", spec.ShortHash(hash, 7), err)
		}
	}
	rebuilt, err := spec.UnmarshalNode([]byte(node), func(dep string) (*spec.ConcreteSpec, error) {
		return s.loadSpec(ctx, dep, "")
	})
	if err != nil {
		return nil, fmt.Errorf("read node %s: %w", spec.ShortHash(hash, 7), err)
	}
	if rebuilt.DAGHash() != hash {
		return nil, fmt.Errorf("read node %s: stored record hashes to %s",
			spec.ShortHash(hash, 7), spec.ShortHash(rebuilt.DAGHash(), 7))
	}
	return s.interner.Intern(rebuilt), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
