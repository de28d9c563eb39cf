package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/timewell/syncengine/internal/collections"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/repository"
)

// RowRepo implements RowRepository using PostgreSQL. All SQL is derived
// from the collections registry; placeholders carry explicit casts so
// JSON-decoded values land in typed columns.
type RowRepo struct{ db *DB }

// NewRowRepo constructs a row repository.
func NewRowRepo(db *DB) *RowRepo { return &RowRepo{db: db} }

// Upsert inserts or updates rows one statement at a time inside a single
// transaction. The conflict update is guarded so a row with an older range
// timestamp never overwrites a newer one.
func (r *RowRepo) Upsert(
	ctx context.Context, col collections.Collection, rows []map[string]any,
) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	stmt := upsertSQL(col)
	for i, row := range rows {
		args := make([]any, len(col.Columns))
		for j, c := range col.Columns {
			args[j], err = pgValue(col, c, row[c])
			if err != nil {
				return fmt.Errorf("row[%d].%s: %w", i, c, err)
			}
		}
		if _, err = tx.Exec(ctx, stmt, args...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("row[%d]: %w", i, errs.ErrConflict)
			}
			return fmt.Errorf("row[%d]: %w", i, err)
		}
	}
	return nil
}

// Query returns matching rows in ascending range-column order. Rows are
// serialized by Postgres itself (row_to_json), so column typing and
// timestamp formatting stay in one place.
func (r *RowRepo) Query(
	ctx context.Context, col collections.Collection, q repository.RowQuery,
) ([]map[string]any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	tsCol := q.SinceColumn
	if tsCol == "" {
		tsCol = col.TimeColumn
	}
	fmt.Fprintf(&sb, "SELECT row_to_json(t) FROM %s AS t WHERE %s",
		col.Table, scopeSQL(col, q.Scope, &args))
	if q.Since != nil {
		args = append(args, *q.Since)
		fmt.Fprintf(&sb, " AND t.%s > $%d", tsCol, len(args))
	}
	if q.NotDevice != "" && col.DeviceColumn != "" {
		args = append(args, q.NotDevice)
		fmt.Fprintf(&sb, " AND t.%s <> $%d::uuid", col.DeviceColumn, len(args))
	}
	appendFilters(col, q.Filters, &sb, &args)
	fmt.Fprintf(&sb, " ORDER BY t.%s ASC", tsCol)
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := r.db.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes rows strictly older than the cutoff.
func (r *RowRepo) Delete(
	ctx context.Context, col collections.Collection, q repository.RowDelete,
) (int64, error) {
	var (
		sb   strings.Builder
		args []any
	)
	tsCol := q.BeforeColumn
	if tsCol == "" {
		tsCol = col.TimeColumn
	}
	fmt.Fprintf(&sb, "DELETE FROM %s AS t WHERE %s",
		col.Table, scopeSQL(col, q.Scope, &args))
	args = append(args, q.Before)
	fmt.Fprintf(&sb, " AND t.%s < $%d", tsCol, len(args))
	appendFilters(col, q.Filters, &sb, &args)

	tag, err := r.db.Pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// upsertSQL builds the INSERT ... ON CONFLICT statement for a collection.
func upsertSQL(col collections.Collection) string {
	cols := col.Columns
	ph := make([]string, len(cols))
	for i, c := range cols {
		ph[i] = fmt.Sprintf("$%d::%s", i+1, col.TypeOf(c))
	}
	var set []string
	for _, c := range cols {
		if !col.IsKey(c) {
			set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s AS t (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s WHERE t.%s <= EXCLUDED.%s",
		col.Table,
		strings.Join(cols, ", "),
		strings.Join(ph, ", "),
		strings.Join(col.KeyColumns, ", "),
		strings.Join(set, ", "),
		col.TimeColumn, col.TimeColumn,
	)
}

// scopeSQL renders the visibility predicate and appends its argument.
func scopeSQL(col collections.Collection, s repository.Scope, args *[]any) string {
	if s.Kind == repository.ScopeAny {
		return "true"
	}
	*args = append(*args, s.Caller.String())
	n := len(*args)
	switch s.Kind {
	case repository.ScopeOwner:
		return fmt.Sprintf("t.%s = $%d::uuid", col.OwnerColumn, n)
	case repository.ScopeParticipant:
		return fmt.Sprintf("(t.%s = $%d::uuid OR t.%s = $%d::uuid)",
			col.ParticipantColumns[0], n, col.ParticipantColumns[1], n)
	case repository.ScopeOwnerOrFriend:
		return fmt.Sprintf(
			"(t.%[1]s = $%[2]d::uuid OR EXISTS (SELECT 1 FROM friendships f WHERE (f.user_id = $%[2]d::uuid AND f.friend_id = t.%[1]s) OR (f.friend_id = $%[2]d::uuid AND f.user_id = t.%[1]s)))",
			col.OwnerColumn, n)
	default:
		return "false"
	}
}

// appendFilters renders eq/in conditions. Single values compare with =,
// multi values with ANY over a casted array.
func appendFilters(col collections.Collection, conds []repository.Cond, sb *strings.Builder, args *[]any) {
	for _, c := range conds {
		typ := col.TypeOf(c.Column)
		if len(c.Values) == 1 {
			*args = append(*args, c.Values[0])
			fmt.Fprintf(sb, " AND t.%s = $%d::%s", c.Column, len(*args), typ)
			continue
		}
		*args = append(*args, c.Values)
		fmt.Fprintf(sb, " AND t.%s = ANY($%d::%s[])", c.Column, len(*args), typ)
	}
}

// pgValue converts a JSON-decoded value into a driver argument.
func pgValue(col collections.Collection, column string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if col.TypeOf(column) == "jsonb" {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
	switch v.(type) {
	case string, float64, bool:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
