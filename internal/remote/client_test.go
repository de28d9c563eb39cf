package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/model"
)

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: srv.URL, CallbackURL: "http://127.0.0.1:1/cb"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(Config{}, zap.NewNop()); !errors.Is(err, errs.ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}

func TestUpsert_PostsBatchWithToken(t *testing.T) {
	t.Parallel()
	var gotAuth string
	var gotRows []model.LedgerEntry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/rows/ledger_entries" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotRows)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newClient(t, srv)
	rows := []model.LedgerEntry{{SyncID: uuid.Must(uuid.NewV4()), Kind: "earn", Amount: 30, OccurredAt: time.Now().UTC()}}
	if err := Upsert(context.Background(), c, "tok", "ledger_entries", rows); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header %q", gotAuth)
	}
	if len(gotRows) != 1 || gotRows[0].SyncID != rows[0].SyncID {
		t.Fatalf("rows %+v", gotRows)
	}

	// Empty batches never hit the network.
	srv.Close()
	if err := Upsert(context.Background(), c, "tok", "ledger_entries", []model.LedgerEntry{}); err != nil {
		t.Fatalf("empty Upsert: %v", err)
	}
}

func TestQuery_EncodesParams(t *testing.T) {
	t.Parallel()
	since := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	dev := uuid.Must(uuid.NewV4())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("since") != since.Format(time.RFC3339Nano) {
			t.Errorf("since %q", q.Get("since"))
		}
		if q.Get("since_col") != "hour_start" || q.Get("exclude_device") != dev.String() || q.Get("limit") != "100" {
			t.Errorf("params %v", q)
		}
		if q.Get("eq.kind") != "emergency" || q.Get("in.user_id") != "a,b" {
			t.Errorf("filters %v", q)
		}
		_ = json.NewEncoder(w).Encode([]model.ConsumptionEntry{{SyncID: uuid.Must(uuid.NewV4())}})
	}))
	defer srv.Close()

	c := newClient(t, srv)
	rows, err := Query[model.ConsumptionEntry](context.Background(), c, "tok", "consumption_log", RowQuery{
		Since:         since,
		SinceColumn:   "hour_start",
		ExcludeDevice: dev,
		Limit:         100,
		Filters:       []Filter{Eq("kind", "emergency"), In("user_id", "a", "b")},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows %+v", rows)
	}
}

func TestDo_MapsStatusToSentinels(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, errs.ErrUnauthorized},
		{http.StatusForbidden, errs.ErrForbidden},
		{http.StatusNotFound, errs.ErrNotFound},
		{http.StatusConflict, errs.ErrConflict},
		{http.StatusGone, errs.ErrExpired},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		c := newClient(t, srv)
		err := Upsert(context.Background(), c, "tok", "ledger_entries", []model.LedgerEntry{{}})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: got %v, want %v", tc.status, err, tc.want)
		}
		srv.Close()
	}
}

func TestDo_RetriesGetOn5xx(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]model.LedgerEntry{})
	}))
	defer srv.Close()

	c := newClient(t, srv)
	if _, err := Query[model.LedgerEntry](context.Background(), c, "tok", "ledger_entries", RowQuery{}); err != nil {
		t.Fatalf("Query after retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("want one retry, got %d calls", calls.Load())
	}
}

func TestDo_DoesNotRetryPost(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv)
	if err := Upsert(context.Background(), c, "tok", "ledger_entries", []model.LedgerEntry{{}}); err == nil {
		t.Fatalf("want error")
	}
	if calls.Load() != 1 {
		t.Fatalf("POST must not be retried, got %d calls", calls.Load())
	}
}
