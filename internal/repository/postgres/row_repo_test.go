package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/timewell/syncengine/internal/collections"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func mustCollection(t *testing.T, name string) collections.Collection {
	t.Helper()
	col, ok := collections.Get(name)
	require.True(t, ok)
	return col
}

func TestUpsertSQL_Ledger(t *testing.T) {
	col := mustCollection(t, collections.LedgerEntries)

	want := "INSERT INTO ledger_entries AS t " +
		"(sync_id, user_id, device_id, kind, amount, note, occurred_at) " +
		"VALUES ($1::uuid, $2::uuid, $3::uuid, $4::text, $5::bigint, $6::text, $7::timestamptz) " +
		"ON CONFLICT (sync_id) DO UPDATE SET " +
		"user_id = EXCLUDED.user_id, device_id = EXCLUDED.device_id, kind = EXCLUDED.kind, " +
		"amount = EXCLUDED.amount, note = EXCLUDED.note, occurred_at = EXCLUDED.occurred_at " +
		"WHERE t.occurred_at <= EXCLUDED.occurred_at"
	require.Equal(t, want, upsertSQL(col))
}

func TestScopeSQL(t *testing.T) {
	caller := uuid.Must(uuid.NewV4())
	ledger := mustCollection(t, collections.LedgerEntries)
	requests := mustCollection(t, collections.FriendRequests)

	var args []any
	got := scopeSQL(ledger, repository.Scope{Kind: repository.ScopeOwner, Caller: caller}, &args)
	require.Equal(t, "t.user_id = $1::uuid", got)
	require.Equal(t, []any{caller.String()}, args)

	args = nil
	got = scopeSQL(ledger, repository.Scope{Kind: repository.ScopeAny}, &args)
	require.Equal(t, "true", got)
	require.Empty(t, args)

	args = nil
	got = scopeSQL(requests, repository.Scope{Kind: repository.ScopeParticipant, Caller: caller}, &args)
	require.Equal(t, "(t.requester_id = $1::uuid OR t.recipient_id = $1::uuid)", got)

	args = nil
	got = scopeSQL(ledger, repository.Scope{Kind: repository.ScopeOwnerOrFriend, Caller: caller}, &args)
	require.Contains(t, got, "EXISTS (SELECT 1 FROM friendships f")
	require.Len(t, args, 1)
}

func TestAppendFilters(t *testing.T) {
	col := mustCollection(t, collections.ConsumptionLog)

	var (
		sb   = &strings.Builder{}
		args []any
	)
	appendFilters(col, []repository.Cond{
		{Column: "kind", Values: []string{"emergency"}},
		{Column: "user_id", Values: []string{"a", "b"}},
	}, sb, &args)
	require.Equal(t, " AND t.kind = $1::text AND t.user_id = ANY($2::uuid[])", sb.String())
	require.Equal(t, []any{"emergency", []string{"a", "b"}}, args)
}

func TestPgValue(t *testing.T) {
	col := mustCollection(t, collections.Profiles)

	v, err := pgValue(col, "handle", nil)
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = pgValue(col, "pinned_achievements", []any{"early_bird"})
	require.NoError(t, err)
	require.Equal(t, `["early_bird"]`, v)

	v, err = pgValue(col, "display_name", "Ada")
	require.NoError(t, err)
	require.Equal(t, "Ada", v)

	_, err = pgValue(col, "display_name", map[int]int{1: 2})
	require.Error(t, err)
}

func TestRowRepo_Upsert_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRowRepo(db)
	ctx := context.Background()
	col := mustCollection(t, collections.LedgerEntries)

	syncID := uuid.Must(uuid.NewV4()).String()
	userID := uuid.Must(uuid.NewV4()).String()
	devID := uuid.Must(uuid.NewV4()).String()
	at := "2026-02-01T10:00:00Z"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ledger_entries AS t`).
		WithArgs(syncID, userID, devID, "earn", float64(30), nil, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := r.Upsert(ctx, col, []map[string]any{{
		"sync_id":     syncID,
		"user_id":     userID,
		"device_id":   devID,
		"kind":        "earn",
		"amount":      float64(30),
		"occurred_at": at,
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowRepo_Upsert_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRowRepo(db)
	ctx := context.Background()
	col := mustCollection(t, collections.Friendships)

	id := uuid.Must(uuid.NewV4()).String()
	a := uuid.Must(uuid.NewV4()).String()
	b := uuid.Must(uuid.NewV4()).String()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO friendships AS t`).
		WithArgs(id, a, b, "2026-02-01T10:00:00Z").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := r.Upsert(ctx, col, []map[string]any{{
		"id":         id,
		"user_id":    a,
		"friend_id":  b,
		"created_at": "2026-02-01T10:00:00Z",
	}})
	require.ErrorIs(t, err, errs.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowRepo_Upsert_Empty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRowRepo(db)
	col := mustCollection(t, collections.LedgerEntries)

	// No transaction expected at all.
	require.NoError(t, r.Upsert(context.Background(), col, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowRepo_Query(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRowRepo(db)
	ctx := context.Background()
	col := mustCollection(t, collections.LedgerEntries)

	caller := uuid.Must(uuid.NewV4())
	dev := uuid.Must(uuid.NewV4()).String()
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT row_to_json\(t\) FROM ledger_entries AS t WHERE t\.user_id = \$1::uuid AND t\.occurred_at > \$2 AND t\.device_id <> \$3::uuid ORDER BY t\.occurred_at ASC LIMIT 10`).
		WithArgs(caller.String(), since, dev).
		WillReturnRows(pgxmock.NewRows([]string{"row_to_json"}).
			AddRow([]byte(`{"sync_id":"a","amount":30}`)).
			AddRow([]byte(`{"sync_id":"b","amount":-15}`)))

	rows, err := r.Query(ctx, col, repository.RowQuery{
		Scope:     repository.Scope{Kind: repository.ScopeOwner, Caller: caller},
		Since:     &since,
		NotDevice: dev,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "a", rows[0]["sync_id"])
	require.Equal(t, float64(-15), rows[1]["amount"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowRepo_Query_AltTimeColumn(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRowRepo(db)
	col := mustCollection(t, collections.ActivityRollups)

	caller := uuid.Must(uuid.NewV4())
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT row_to_json\(t\) FROM activity_rollups AS t WHERE .* AND t\.hour_start > \$2 ORDER BY t\.hour_start ASC`).
		WithArgs(caller.String(), since).
		WillReturnRows(pgxmock.NewRows([]string{"row_to_json"}))

	_, err := r.Query(context.Background(), col, repository.RowQuery{
		Scope:       repository.Scope{Kind: repository.ScopeOwnerOrFriend, Caller: caller},
		Since:       &since,
		SinceColumn: "hour_start",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowRepo_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRowRepo(db)
	col := mustCollection(t, collections.ConsumptionLog)

	caller := uuid.Must(uuid.NewV4())
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM consumption_log AS t WHERE t\.user_id = \$1::uuid AND t\.occurred_at < \$2`).
		WithArgs(caller.String(), before).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	n, err := r.Delete(context.Background(), col, repository.RowDelete{
		Scope:  repository.Scope{Kind: repository.ScopeOwner, Caller: caller},
		Before: before,
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
