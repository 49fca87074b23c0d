package bus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteRepository persists address records in the addresses table.
//
// Schema (see migrations):
//
//	addresses(key TEXT PRIMARY KEY, name TEXT, dpt TEXT, internal INTEGER,
//	          group_label TEXT, last_value TEXT, last_updated TEXT,
//	          initial_value TEXT, created_at TEXT, updated_at TEXT)
//
// Values are stored in their textual wire form together with the DPT
// hint; load re-types them with Infer plus the DPT.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository backed by the given database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns all persisted addresses.
func (r *SQLiteRepository) List(ctx context.Context) ([]Address, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, name, dpt, internal, group_label,
		       last_value, last_updated, initial_value,
		       created_at, updated_at
		FROM addresses
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("querying addresses: %w", err)
	}
	defer rows.Close()

	var out []Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating addresses: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces an address record.
func (r *SQLiteRepository) Upsert(ctx context.Context, addr Address) error {
	var initial sql.NullString
	if addr.InitialValue != nil {
		initial = sql.NullString{String: addr.InitialValue.Text(), Valid: true}
	}
	var lastValue sql.NullString
	if !addr.LastValue.IsNull() {
		lastValue = sql.NullString{String: addr.LastValue.Text(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO addresses
			(key, name, dpt, internal, group_label,
			 last_value, last_updated, initial_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name = excluded.name,
			dpt = excluded.dpt,
			internal = excluded.internal,
			group_label = excluded.group_label,
			initial_value = excluded.initial_value,
			updated_at = excluded.updated_at
	`,
		addr.Key, addr.Name, addr.DPT, boolToInt(addr.Internal), addr.GroupLabel,
		lastValue, formatTime(addr.LastUpdated), initial,
		formatTime(addr.CreatedAt), formatTime(addr.UpdatedAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %q", ErrConflict, addr.Key)
		}
		return fmt.Errorf("upserting address %q: %w", addr.Key, err)
	}
	return nil
}

// UpdateValue records a new last value. This is the hot path (every
// telegram), so it touches only the two value columns.
func (r *SQLiteRepository) UpdateValue(ctx context.Context, key string, value Value, updated time.Time) error {
	var text sql.NullString
	if !value.IsNull() {
		text = sql.NullString{String: value.Text(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE addresses SET last_value = ?, last_updated = ? WHERE key = ? COLLATE NOCASE
	`, text, formatTime(updated), key)
	if err != nil {
		return fmt.Errorf("updating value for %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 supports RowsAffected
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return nil
}

// Delete removes an address record.
func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM addresses WHERE key = ? COLLATE NOCASE`, key)
	if err != nil {
		return fmt.Errorf("deleting address %q: %w", key, err)
	}
	return nil
}

// scanAddress builds an Address from a row, re-typing the stored
// textual values with the DPT hint.
func scanAddress(rows *sql.Rows) (Address, error) {
	var (
		a           Address
		internal    int
		lastValue   sql.NullString
		lastUpdated sql.NullString
		initial     sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := rows.Scan(
		&a.Key, &a.Name, &a.DPT, &internal, &a.GroupLabel,
		&lastValue, &lastUpdated, &initial, &createdAt, &updatedAt,
	); err != nil {
		return Address{}, fmt.Errorf("scanning address row: %w", err)
	}

	a.Internal = internal != 0
	if lastValue.Valid {
		a.LastValue = retype(lastValue.String, a.DPT)
	}
	if lastUpdated.Valid {
		a.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated.String) //nolint:errcheck // format is ours
	}
	if initial.Valid {
		v := retype(initial.String, a.DPT)
		a.InitialValue = &v
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // format is ours
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // format is ours
	return a, nil
}

// retype restores a typed value from the stored text using the DPT hint
// where one exists, falling back to generic inference.
func retype(text, dpt string) Value {
	v := Infer(text)
	switch {
	case dpt == "":
		return v
	case len(dpt) >= 2 && dpt[:2] == "1.":
		if b, ok := v.AsBool(); ok {
			return Bool(b)
		}
	case dptIsInt(dpt):
		if i, ok := v.AsInt(); ok {
			return Int(i)
		}
	case dptIsReal(dpt):
		if f, ok := v.AsReal(); ok {
			return Real(f)
		}
	}
	return v
}

func dptIsInt(dpt string) bool {
	for _, fam := range []string{"5.", "6.", "7.", "8.", "12.", "13.", "17.", "18."} {
		if len(dpt) >= len(fam) && dpt[:len(fam)] == fam {
			return true
		}
	}
	return false
}

func dptIsReal(dpt string) bool {
	return (len(dpt) >= 2 && dpt[:2] == "9.") || (len(dpt) >= 3 && dpt[:3] == "14.")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
