package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/timewell/syncengine/internal/collections"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/repository"
)

type fakeRowRepo struct {
	upsertCol collections.Collection
	upserted  []map[string]any
	queryQ    repository.RowQuery
	deleteQ   repository.RowDelete

	rows    []map[string]any
	deleted int64
	err     error
}

var _ repository.RowRepository = (*fakeRowRepo)(nil)

func (f *fakeRowRepo) Upsert(_ context.Context, col collections.Collection, rows []map[string]any) error {
	f.upsertCol, f.upserted = col, rows
	return f.err
}
func (f *fakeRowRepo) Query(_ context.Context, _ collections.Collection, q repository.RowQuery) ([]map[string]any, error) {
	f.queryQ = q
	return f.rows, f.err
}
func (f *fakeRowRepo) Delete(_ context.Context, _ collections.Collection, q repository.RowDelete) (int64, error) {
	f.deleteQ = q
	return f.deleted, f.err
}

func ledgerRow(caller uuid.UUID) map[string]any {
	return map[string]any{
		"sync_id":     uuid.Must(uuid.NewV4()).String(),
		"user_id":     caller.String(),
		"device_id":   uuid.Must(uuid.NewV4()).String(),
		"kind":        "earn",
		"amount":      float64(30),
		"occurred_at": "2026-02-01T10:00:00Z",
	}
}

func TestRows_Upsert_Validation(t *testing.T) {
	t.Parallel()
	repo := &fakeRowRepo{}
	s := NewRowsService(repo)
	caller := uuid.Must(uuid.NewV4())
	ctx := context.Background()

	if err := s.Upsert(ctx, caller, "nope", []map[string]any{{}}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound on unknown collection, got %v", err)
	}

	if err := s.Upsert(ctx, caller, collections.LedgerEntries, nil); err != nil {
		t.Fatalf("empty batch must be a no-op: %v", err)
	}

	row := ledgerRow(caller)
	row["bogus"] = "x"
	if err := s.Upsert(ctx, caller, collections.LedgerEntries, []map[string]any{row}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("want ErrInvalid on unknown column, got %v", err)
	}

	row = ledgerRow(caller)
	delete(row, "sync_id")
	if err := s.Upsert(ctx, caller, collections.LedgerEntries, []map[string]any{row}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("want ErrInvalid on missing key, got %v", err)
	}

	big := make([]map[string]any, maxBatch+1)
	for i := range big {
		big[i] = ledgerRow(caller)
	}
	if err := s.Upsert(ctx, caller, collections.LedgerEntries, big); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("want ErrInvalid on oversized batch, got %v", err)
	}
}

func TestRows_Upsert_PinsOwner(t *testing.T) {
	t.Parallel()
	repo := &fakeRowRepo{}
	s := NewRowsService(repo)
	caller := uuid.Must(uuid.NewV4())

	row := ledgerRow(caller)
	row["user_id"] = uuid.Must(uuid.NewV4()).String() // someone else
	if err := s.Upsert(context.Background(), caller, collections.LedgerEntries, []map[string]any{row}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got := repo.upserted[0]["user_id"]; got != caller.String() {
		t.Fatalf("owner column not pinned to caller: %v", got)
	}
	if repo.upsertCol.Name != collections.LedgerEntries {
		t.Fatalf("wrong collection passed: %s", repo.upsertCol.Name)
	}
}

func TestRows_Upsert_ParticipantRules(t *testing.T) {
	t.Parallel()
	repo := &fakeRowRepo{}
	s := NewRowsService(repo)
	caller := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())
	ctx := context.Background()

	// Friendship rows must be written by the side named first.
	row := map[string]any{
		"id":         uuid.Must(uuid.NewV4()).String(),
		"user_id":    other.String(),
		"friend_id":  caller.String(),
		"created_at": "2026-02-01T10:00:00Z",
	}
	if err := s.Upsert(ctx, caller, collections.Friendships, []map[string]any{row}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden when caller is not the first participant, got %v", err)
	}
	row["user_id"], row["friend_id"] = caller.String(), other.String()
	if err := s.Upsert(ctx, caller, collections.Friendships, []map[string]any{row}); err != nil {
		t.Fatalf("Upsert friendship: %v", err)
	}

	// Friend requests may be written by either participant.
	req := map[string]any{
		"id":           uuid.Must(uuid.NewV4()).String(),
		"requester_id": other.String(),
		"recipient_id": caller.String(),
		"status":       "pending",
		"created_at":   "2026-02-01T10:00:00Z",
		"updated_at":   "2026-02-01T10:00:00Z",
	}
	if err := s.Upsert(ctx, caller, collections.FriendRequests, []map[string]any{req}); err != nil {
		t.Fatalf("Upsert request as recipient: %v", err)
	}
	req["requester_id"] = uuid.Must(uuid.NewV4()).String()
	req["recipient_id"] = other.String()
	if err := s.Upsert(ctx, caller, collections.FriendRequests, []map[string]any{req}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden when caller is not a participant, got %v", err)
	}
}

func TestRows_Query_ScopeAndLimits(t *testing.T) {
	t.Parallel()
	repo := &fakeRowRepo{}
	s := NewRowsService(repo)
	caller := uuid.Must(uuid.NewV4())
	ctx := context.Background()

	if _, err := s.Query(ctx, caller, "nope", RowsQuery{}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	if _, err := s.Query(ctx, caller, collections.LedgerEntries, RowsQuery{SinceColumn: "note"}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("want ErrInvalid on bad range column, got %v", err)
	}

	bad := RowsQuery{Filters: []repository.Cond{{Column: "note", Values: []string{"x"}}}}
	if _, err := s.Query(ctx, caller, collections.LedgerEntries, bad); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("want ErrInvalid on unfilterable column, got %v", err)
	}

	if _, err := s.Query(ctx, caller, collections.LedgerEntries, RowsQuery{}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if repo.queryQ.Scope.Kind != repository.ScopeOwner || repo.queryQ.Scope.Caller != caller {
		t.Fatalf("ledger must read with owner scope: %+v", repo.queryQ.Scope)
	}
	if repo.queryQ.Limit != defaultLimit {
		t.Fatalf("default limit not applied: %d", repo.queryQ.Limit)
	}

	if _, err := s.Query(ctx, caller, collections.ConsumptionLog, RowsQuery{Limit: 5000}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if repo.queryQ.Scope.Kind != repository.ScopeOwnerOrFriend {
		t.Fatalf("consumption log must read with friend scope: %+v", repo.queryQ.Scope)
	}
	if repo.queryQ.Limit != maxLimit {
		t.Fatalf("limit not capped: %d", repo.queryQ.Limit)
	}

	if _, err := s.Query(ctx, caller, collections.Profiles, RowsQuery{}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if repo.queryQ.Scope.Kind != repository.ScopeAny {
		t.Fatalf("profiles must be public read: %+v", repo.queryQ.Scope)
	}

	if _, err := s.Query(ctx, caller, collections.FriendRequests, RowsQuery{}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if repo.queryQ.Scope.Kind != repository.ScopeParticipant {
		t.Fatalf("requests must read with participant scope: %+v", repo.queryQ.Scope)
	}
}

func TestRows_Delete(t *testing.T) {
	t.Parallel()
	repo := &fakeRowRepo{deleted: 7}
	s := NewRowsService(repo)
	caller := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.Delete(ctx, caller, collections.FriendRequests, RowsDelete{Before: cutoff}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden on participant collection, got %v", err)
	}
	if _, err := s.Delete(ctx, caller, collections.ConsumptionLog, RowsDelete{}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("want ErrInvalid without cutoff, got %v", err)
	}
	if _, err := s.Delete(ctx, caller, collections.ConsumptionLog, RowsDelete{Before: cutoff, BeforeColumn: "kind"}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("want ErrInvalid on bad range column, got %v", err)
	}

	n, err := s.Delete(ctx, caller, collections.ConsumptionLog, RowsDelete{Before: cutoff})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 7 {
		t.Fatalf("want 7 deleted, got %d", n)
	}
	if repo.deleteQ.Scope.Kind != repository.ScopeOwner || !repo.deleteQ.Before.Equal(cutoff) {
		t.Fatalf("bad delete request: %+v", repo.deleteQ)
	}
}
