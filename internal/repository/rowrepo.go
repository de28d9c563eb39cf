// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/timewell/syncengine/internal/collections"
)

// ScopeKind selects the visibility predicate applied to a row query.
type ScopeKind int

const (
	// ScopeOwner restricts rows to those owned by the caller.
	ScopeOwner ScopeKind = iota
	// ScopeOwnerOrFriend admits the caller's rows plus rows of users the
	// caller holds an accepted friendship with.
	ScopeOwnerOrFriend
	// ScopeAny admits every row (public-read collections).
	ScopeAny
	// ScopeParticipant admits rows where the caller appears in either
	// participant column.
	ScopeParticipant
)

// Scope binds a visibility predicate to the calling user.
type Scope struct {
	Kind   ScopeKind
	Caller uuid.UUID
}

// Cond is an equality or membership filter on a single column.
type Cond struct {
	Column string
	Values []string
}

// RowQuery describes a scoped range read over a collection.
type RowQuery struct {
	Scope       Scope
	Since       *time.Time // strictly greater than, when set
	SinceColumn string     // range column; empty means the collection default
	NotDevice   string     // exclude rows originated by this device id
	Filters     []Cond
	Limit       int
}

// RowDelete describes a scoped retention delete over a collection.
type RowDelete struct {
	Scope        Scope
	Before       time.Time // strictly less than
	BeforeColumn string    // range column; empty means the collection default
	Filters      []Cond
}

// RowRepository provides registry-driven access to synced collections.
type RowRepository interface {
	// Upsert inserts or updates rows keyed by the collection's conflict
	// target; a stale row (older range timestamp) never overwrites a
	// newer one.
	Upsert(ctx context.Context, col collections.Collection, rows []map[string]any) error
	// Query returns rows matching the scoped range query in ascending
	// range-column order.
	Query(ctx context.Context, col collections.Collection, q RowQuery) ([]map[string]any, error)
	// Delete removes rows older than the cutoff and returns the count.
	Delete(ctx context.Context, col collections.Collection, q RowDelete) (int64, error)
}
