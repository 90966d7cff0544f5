package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	extraColumnPrefix = "x_"
	columnMetaPrefix  = "extra_column_"
)

// ColumnName maps an extra field key to its column name: lower case,
// characters outside [a-z0-9_] replaced by '_', prefixed with "x_".
func ColumnName(key string) string {
	var b strings.Builder
	b.Grow(len(extraColumnPrefix) + len(key))
	b.WriteString(extraColumnPrefix)
	for _, r := range strings.ToLower(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// loadColumns reads the promoted extra columns recorded in metadata.
func (s *SQLiteStore) loadColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM metadata WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(columnMetaPrefix)+"%")
	if err != nil {
		return fmt.Errorf("load columns: %w", err)
	}
	defer rows.Close()

	s.colMu.Lock()
	defer s.colMu.Unlock()
	for rows.Next() {
		var k, field string
		if err := rows.Scan(&k, &field); err != nil {
			return fmt.Errorf("load columns: %w", err)
		}
		col := strings.TrimPrefix(k, columnMetaPrefix)
		s.columns[field] = col
		s.owners[col] = field
	}
	return rows.Err()
}

// Columns returns the promoted extra keys mapped to their columns.
func (s *SQLiteStore) Columns(_ context.Context) (map[string]string, error) {
	s.colMu.RLock()
	defer s.colMu.RUnlock()
	out := make(map[string]string, len(s.columns))
	for k, c := range s.columns {
		out[k] = c
	}
	return out, nil
}

// EnsureColumns adds a nullable TEXT column for every key without one. Keys
// whose column name is taken by another key, or that arrive after the column
// cap is reached, are not promoted and are not retried; each yields a
// *SchemaError in the joined error. A key whose column could not be added is
// tried again next time. Existing rows keep their values. It returns the
// columns added.
func (s *SQLiteStore) EnsureColumns(ctx context.Context, keys []string) ([]string, error) {
	s.colMu.Lock()
	defer s.colMu.Unlock()

	var added []string
	var errs []error
	for _, key := range keys {
		if _, ok := s.columns[key]; ok {
			continue
		}
		if _, ok := s.rejected[key]; ok {
			continue
		}
		col := ColumnName(key)
		switch {
		case s.owners[col] != "":
			errs = append(errs, s.reject(key, col, errColumnCollision))
			continue
		case len(s.columns) >= s.opts.maxExtraColumns:
			errs = append(errs, s.reject(key, col, errColumnLimit))
			continue
		}
		if err := s.addColumn(ctx, key, col); err != nil {
			// retried on the next call
			errs = append(errs, &SchemaError{Key: key, Column: col, Err: err})
			continue
		}
		s.columns[key] = col
		s.owners[col] = key
		added = append(added, col)
	}
	if len(added) > 0 {
		s.insertSQL = ""
	}
	return added, errors.Join(errs...)
}

func (s *SQLiteStore) reject(key, col string, err error) error {
	s.rejected[key] = struct{}{}
	return &SchemaError{Key: key, Column: col, Err: err}
}

func (s *SQLiteStore) addColumn(ctx context.Context, key, col string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE leaderboard ADD COLUMN %q TEXT`, col)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`,
		columnMetaPrefix+col, key); err != nil {
		return err
	}
	return tx.Commit()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
