package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Filter is one equality constraint on a whitelisted column. A single
// value encodes as eq.<col>=v, multiple values as in.<col>=a,b.
type Filter struct {
	Column string
	Values []string
}

// Eq builds a single-value filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Values: []string{value}}
}

// In builds an in-list filter.
func In(column string, values ...string) Filter {
	return Filter{Column: column, Values: values}
}

// RowQuery selects rows changed strictly after Since, ordered ascending by
// the collection's timestamp column.
type RowQuery struct {
	Since         time.Time
	SinceColumn   string // overrides the collection's default time column
	ExcludeDevice uuid.UUID
	Filters       []Filter
	Limit         int
}

// DeleteQuery selects rows older than Before for retention deletes.
type DeleteQuery struct {
	Before       time.Time
	BeforeColumn string // overrides the collection's default time column
	Filters      []Filter
}

func encodeFilters(q url.Values, filters []Filter) {
	for _, f := range filters {
		if len(f.Values) == 1 {
			q.Set("eq."+f.Column, f.Values[0])
			continue
		}
		q.Set("in."+f.Column, strings.Join(f.Values, ","))
	}
}

// Upsert pushes a batch of rows to a collection. The server upserts each
// row keyed by the collection's conflict target, so re-sending an already
// stored row is a harmless overwrite with identical content.
func Upsert[T any](ctx context.Context, c *Client, token, collection string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/v1/rows/"+collection, nil, token, rows, nil)
}

// Query pulls rows matching q, ascending by the collection's timestamp
// column.
func Query[T any](ctx context.Context, c *Client, token, collection string, q RowQuery) ([]T, error) {
	vals := url.Values{}
	if !q.Since.IsZero() {
		vals.Set("since", q.Since.UTC().Format(time.RFC3339Nano))
	}
	if q.SinceColumn != "" {
		vals.Set("since_col", q.SinceColumn)
	}
	if q.ExcludeDevice != uuid.Nil {
		vals.Set("exclude_device", q.ExcludeDevice.String())
	}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	encodeFilters(vals, q.Filters)

	var out []T
	if err := c.do(ctx, http.MethodGet, "/v1/rows/"+collection, vals, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRows removes rows older than q.Before matching the filters. Used
// by housekeeping only; the server restricts deletes to the caller's own
// rows regardless of filters.
func DeleteRows(ctx context.Context, c *Client, token, collection string, q DeleteQuery) error {
	vals := url.Values{}
	if !q.Before.IsZero() {
		vals.Set("before", q.Before.UTC().Format(time.RFC3339Nano))
	}
	if q.BeforeColumn != "" {
		vals.Set("before_col", q.BeforeColumn)
	}
	encodeFilters(vals, q.Filters)
	return c.do(ctx, http.MethodDelete, "/v1/rows/"+collection, vals, token, nil, nil)
}
