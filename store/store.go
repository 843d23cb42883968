// Package store persists gap sweep results in sqlite, so interrupted sweeps
// can resume without recomputing finished chains.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"spingap"
)

const (
	tableGap = "gap"
)

// Record is one estimated chain.
type Record struct {
	Spec spingap.ChainSpec
	Gap  spingap.Gap
}

// Store is a sqlite backed result store keyed by chain.
type Store struct {
	Path string
	db   *sql.DB
}

// Open opens or creates the store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (length INTEGER, j REAL, spin TEXT, value REAL, status TEXT, method TEXT, PRIMARY KEY (length, j, spin)) STRICT`, tableGap)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}

	return &Store{Path: dbPath, db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Put saves r, replacing any previous record of the same chain.
func (s *Store) Put(ctx context.Context, r Record) error {
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (length, j, spin, value, status, method) VALUES (?, ?, ?, ?, ?, ?)`, tableGap)
	args := []any{r.Spec.Length, r.Spec.J, string(r.Spec.Spin), r.Gap.Value, string(r.Gap.Status), string(r.Gap.Method)}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return nil
}

// Get looks up the record of spec.
// ok is false when the chain has not been estimated yet.
func (s *Store) Get(ctx context.Context, spec spingap.ChainSpec) (Record, bool, error) {
	sqlStr := fmt.Sprintf(`SELECT value, status, method FROM %s WHERE length=? AND j=? AND spin=?`, tableGap)
	r := Record{Spec: spec}
	var status, method string
	err := s.db.QueryRowContext(ctx, sqlStr, spec.Length, spec.J, string(spec.Spin)).Scan(&r.Gap.Value, &status, &method)
	switch {
	case err == sql.ErrNoRows:
		return Record{}, false, nil
	case err != nil:
		return Record{}, false, errors.Wrap(err, "")
	}
	r.Gap.Status = spingap.Status(status)
	r.Gap.Method = spingap.Method(method)
	return r, true, nil
}

// All returns every record ordered by chain length.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	sqlStr := fmt.Sprintf(`SELECT length, j, spin, value, status, method FROM %s ORDER BY length, j, spin`, tableGap)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var spin, status, method string
		if err := rows.Scan(&r.Spec.Length, &r.Spec.J, &spin, &r.Gap.Value, &status, &method); err != nil {
			return nil, errors.Wrap(err, "")
		}
		r.Spec.Spin = spingap.Spin(spin)
		r.Gap.Status = spingap.Status(status)
		r.Gap.Method = spingap.Method(method)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return records, nil
}
