package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/timewell/syncengine/internal/collections"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/repository"
)

const (
	maxBatch     = 1000
	maxLimit     = 1000
	defaultLimit = 500
)

// RowsQuery is a validated read request against one collection.
type RowsQuery struct {
	Since         *time.Time
	SinceColumn   string
	ExcludeDevice string
	Filters       []repository.Cond
	Limit         int
}

// RowsDelete is a validated retention delete against one collection.
type RowsDelete struct {
	Before       time.Time
	BeforeColumn string
	Filters      []repository.Cond
}

// RowsService validates row requests against the collection registry,
// enforces the collection's access policy and delegates to the repository.
type RowsService interface {
	// Upsert writes rows on behalf of caller. Owner columns are pinned to
	// the caller; participant collections require the caller in the row.
	Upsert(ctx context.Context, caller uuid.UUID, collection string, rows []map[string]any) error
	// Query reads rows visible to caller under the collection policy.
	Query(ctx context.Context, caller uuid.UUID, collection string, q RowsQuery) ([]map[string]any, error)
	// Delete removes the caller's own rows older than the cutoff.
	Delete(ctx context.Context, caller uuid.UUID, collection string, q RowsDelete) (int64, error)
}

type RowsServiceImpl struct {
	repo repository.RowRepository
}

// NewRowsService constructs RowsService.
func NewRowsService(repo repository.RowRepository) *RowsServiceImpl {
	return &RowsServiceImpl{repo: repo}
}

// Upsert validates and writes a batch of rows.
func (s *RowsServiceImpl) Upsert(
	ctx context.Context, caller uuid.UUID, collection string, rows []map[string]any,
) error {
	col, ok := collections.Get(collection)
	if !ok {
		return errs.ErrNotFound
	}
	if len(rows) == 0 {
		return nil
	}
	if len(rows) > maxBatch {
		return fmt.Errorf("%w: batch exceeds %d rows", errs.ErrInvalid, maxBatch)
	}
	for i, row := range rows {
		if err := checkRow(col, caller, row); err != nil {
			return fmt.Errorf("row[%d]: %w", i, err)
		}
	}
	return s.repo.Upsert(ctx, col, rows)
}

// Query validates and runs a scoped range read.
func (s *RowsServiceImpl) Query(
	ctx context.Context, caller uuid.UUID, collection string, q RowsQuery,
) ([]map[string]any, error) {
	col, ok := collections.Get(collection)
	if !ok {
		return nil, errs.ErrNotFound
	}
	if q.SinceColumn != "" && !col.TimeColumnAllowed(q.SinceColumn) {
		return nil, fmt.Errorf("%w: column %q cannot drive a range query", errs.ErrInvalid, q.SinceColumn)
	}
	if err := checkFilters(col, q.Filters); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return s.repo.Query(ctx, col, repository.RowQuery{
		Scope:       repository.Scope{Kind: readScope(col.Policy), Caller: caller},
		Since:       q.Since,
		SinceColumn: q.SinceColumn,
		NotDevice:   q.ExcludeDevice,
		Filters:     q.Filters,
		Limit:       limit,
	})
}

// Delete validates and runs a retention delete over the caller's own rows.
func (s *RowsServiceImpl) Delete(
	ctx context.Context, caller uuid.UUID, collection string, q RowsDelete,
) (int64, error) {
	col, ok := collections.Get(collection)
	if !ok {
		return 0, errs.ErrNotFound
	}
	if col.OwnerColumn == "" {
		// participant collections are managed through upserts only
		return 0, errs.ErrForbidden
	}
	if q.Before.IsZero() {
		return 0, fmt.Errorf("%w: delete requires a cutoff", errs.ErrInvalid)
	}
	if q.BeforeColumn != "" && !col.TimeColumnAllowed(q.BeforeColumn) {
		return 0, fmt.Errorf("%w: column %q cannot drive a range delete", errs.ErrInvalid, q.BeforeColumn)
	}
	if err := checkFilters(col, q.Filters); err != nil {
		return 0, err
	}
	return s.repo.Delete(ctx, col, repository.RowDelete{
		Scope:        repository.Scope{Kind: repository.ScopeOwner, Caller: caller},
		Before:       q.Before,
		BeforeColumn: q.BeforeColumn,
		Filters:      q.Filters,
	})
}

// checkRow rejects unmapped columns, requires the conflict key, and binds
// the row to the caller per the collection policy.
func checkRow(col collections.Collection, caller uuid.UUID, row map[string]any) error {
	for c := range row {
		if !col.HasColumn(c) {
			return fmt.Errorf("%w: unknown column %q", errs.ErrInvalid, c)
		}
	}
	for _, k := range col.KeyColumns {
		if v, ok := row[k]; !ok || v == nil || v == "" {
			return fmt.Errorf("%w: missing key column %q", errs.ErrInvalid, k)
		}
	}
	if col.OwnerColumn != "" {
		// the caller can only ever write rows as themselves
		row[col.OwnerColumn] = caller.String()
		return nil
	}
	if col.Policy == collections.PolicyParticipant {
		me := caller.String()
		if col.Name == collections.Friendships {
			// friendship rows are inserted by the side named first
			if row[col.ParticipantColumns[0]] != me {
				return errs.ErrForbidden
			}
			return nil
		}
		if row[col.ParticipantColumns[0]] != me && row[col.ParticipantColumns[1]] != me {
			return errs.ErrForbidden
		}
	}
	return nil
}

func checkFilters(col collections.Collection, conds []repository.Cond) error {
	for _, c := range conds {
		if !col.Filterable(c.Column) {
			return fmt.Errorf("%w: column %q is not filterable", errs.ErrInvalid, c.Column)
		}
		if len(c.Values) == 0 {
			return fmt.Errorf("%w: filter on %q has no values", errs.ErrInvalid, c.Column)
		}
	}
	return nil
}

func readScope(p collections.Policy) repository.ScopeKind {
	switch p {
	case collections.PolicyOwnWriteFriendRead:
		return repository.ScopeOwnerOrFriend
	case collections.PolicyPublicReadOwnWrite:
		return repository.ScopeAny
	case collections.PolicyParticipant:
		return repository.ScopeParticipant
	default:
		return repository.ScopeOwner
	}
}
