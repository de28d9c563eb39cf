package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/model"
	"github.com/timewell/syncengine/internal/service"
)

type fakeAuthSvc struct {
	code         string
	authorizeErr error
	sess         model.Session
	exchangeErr  error
	refreshErr   error
	user         *model.User
}

var _ service.AuthService = (*fakeAuthSvc)(nil)

func (f *fakeAuthSvc) Register(_ context.Context, email, _ string) (string, error) {
	if email == "" {
		return "", errs.ErrInvalid
	}
	return uuid.Must(uuid.NewV4()).String(), nil
}
func (f *fakeAuthSvc) Authorize(_ context.Context, _, _, _, _, _ string) (string, error) {
	return f.code, f.authorizeErr
}
func (f *fakeAuthSvc) Exchange(_ context.Context, _, _, _ string) (model.Session, error) {
	return f.sess, f.exchangeErr
}
func (f *fakeAuthSvc) Refresh(_ context.Context, _ string) (model.Session, error) {
	return f.sess, f.refreshErr
}
func (f *fakeAuthSvc) Logout(context.Context, string) error { return nil }
func (f *fakeAuthSvc) GetUser(context.Context, uuid.UUID) (*model.User, error) {
	if f.user == nil {
		return nil, errs.ErrNotFound
	}
	return f.user, nil
}

type fakeRowsSvc struct {
	caller     uuid.UUID
	collection string
	upserted   []map[string]any
	query      service.RowsQuery
	del        service.RowsDelete

	rows    []map[string]any
	deleted int64
	err     error
}

var _ service.RowsService = (*fakeRowsSvc)(nil)

func (f *fakeRowsSvc) Upsert(_ context.Context, caller uuid.UUID, collection string, rows []map[string]any) error {
	f.caller, f.collection, f.upserted = caller, collection, rows
	return f.err
}
func (f *fakeRowsSvc) Query(_ context.Context, caller uuid.UUID, collection string, q service.RowsQuery) ([]map[string]any, error) {
	f.caller, f.collection, f.query = caller, collection, q
	return f.rows, f.err
}
func (f *fakeRowsSvc) Delete(_ context.Context, caller uuid.UUID, collection string, q service.RowsDelete) (int64, error) {
	f.caller, f.collection, f.del = caller, collection, q
	return f.deleted, f.err
}

var testKey = []byte("test-sign-key")

func newTestServer(auth service.AuthService, rows service.RowsService) http.Handler {
	return New(auth, rows, zap.NewNop()).Router(testKey, []string{"*"})
}

func accessToken(t *testing.T, userID uuid.UUID, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestRouter_Healthz(t *testing.T) {
	h := newTestServer(&fakeAuthSvc{}, &fakeRowsSvc{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}

func TestRouter_Token_AuthorizationCode(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	auth := &fakeAuthSvc{sess: model.Session{
		UserID:       userID,
		Email:        "ada@example.com",
		AccessToken:  "acc",
		RefreshToken: "ref",
		ExpiresAt:    time.Now().Add(time.Minute),
	}}
	h := newTestServer(auth, &fakeRowsSvc{})

	body := `{"grant_type":"authorization_code","code":"c","code_verifier":"v","redirect_uri":"http://127.0.0.1:1/cb"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/token", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("token status %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		User         struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken != "acc" || resp.RefreshToken != "ref" {
		t.Fatalf("bad tokens: %+v", resp)
	}
	if resp.User.ID != userID.String() || resp.User.Email != "ada@example.com" {
		t.Fatalf("bad user: %+v", resp.User)
	}
}

func TestRouter_Token_ErrorsAndGrants(t *testing.T) {
	auth := &fakeAuthSvc{exchangeErr: errs.ErrExpired, refreshErr: errs.ErrNotAuthenticated}
	h := newTestServer(auth, &fakeRowsSvc{})

	cases := []struct {
		body string
		want int
	}{
		{`{"grant_type":"authorization_code","code":"x"}`, http.StatusGone},
		{`{"grant_type":"refresh_token","refresh_token":"x"}`, http.StatusUnauthorized},
		{`{"grant_type":"password"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/token", strings.NewReader(tc.body)))
		if rec.Code != tc.want {
			t.Fatalf("body %q: status %d, want %d", tc.body, rec.Code, tc.want)
		}
	}
}

func TestRouter_Authorize_RedirectsWithCode(t *testing.T) {
	auth := &fakeAuthSvc{code: "onetime"}
	h := newTestServer(auth, &fakeRowsSvc{})

	form := url.Values{
		"email":          {"ada@example.com"},
		"password":       {"pw"},
		"redirect_uri":   {"http://127.0.0.1:48219/cb"},
		"code_challenge": {"chal"},
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status %d, want 302: %s", rec.Code, rec.Body)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Host != "127.0.0.1:48219" || loc.Query().Get("code") != "onetime" {
		t.Fatalf("bad redirect: %s", loc)
	}
}

func TestRouter_Authorize_WrongPasswordRendersForm(t *testing.T) {
	auth := &fakeAuthSvc{authorizeErr: errs.ErrUnauthorized}
	h := newTestServer(auth, &fakeRowsSvc{})

	form := url.Values{
		"email":          {"ada@example.com"},
		"password":       {"wrong"},
		"redirect_uri":   {"http://127.0.0.1:48219/cb"},
		"code_challenge": {"chal"},
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Wrong email or password") {
		t.Fatalf("form not re-rendered with error: %s", rec.Body)
	}
}

func TestRouter_SignInPage_RequiresParams(t *testing.T) {
	h := newTestServer(&fakeAuthSvc{}, &fakeRowsSvc{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/authorize", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/auth/authorize?redirect_uri=http%3A%2F%2F127.0.0.1%3A1%2Fcb&code_challenge=c", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type %q", ct)
	}
}

func TestRouter_Rows_RequireAuth(t *testing.T) {
	rows := &fakeRowsSvc{}
	h := newTestServer(&fakeAuthSvc{}, rows)
	userID := uuid.Must(uuid.NewV4())

	// No token.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rows/ledger_entries", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401 without token", rec.Code)
	}

	// Expired token.
	req := httptest.NewRequest(http.MethodGet, "/v1/rows/ledger_entries", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, userID, -time.Hour))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401 for expired token", rec.Code)
	}

	// Valid token.
	req = httptest.NewRequest(http.MethodGet, "/v1/rows/ledger_entries", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, userID, time.Minute))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body)
	}
	if rows.caller != userID {
		t.Fatalf("caller %s, want %s", rows.caller, userID)
	}
}

func TestRouter_Rows_QueryParams(t *testing.T) {
	rows := &fakeRowsSvc{rows: []map[string]any{{"sync_id": "a"}}}
	h := newTestServer(&fakeAuthSvc{}, rows)
	userID := uuid.Must(uuid.NewV4())

	u := "/v1/rows/consumption_log?since=2026-02-01T10:00:00Z&since_col=occurred_at" +
		"&exclude_device=d1&limit=7&eq.kind=emergency&in.user_id=a,b"
	req := httptest.NewRequest(http.MethodGet, u, nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, userID, time.Minute))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	if rows.collection != "consumption_log" {
		t.Fatalf("collection %q", rows.collection)
	}
	q := rows.query
	if q.Since == nil || !q.Since.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("since not parsed: %v", q.Since)
	}
	if q.SinceColumn != "occurred_at" || q.ExcludeDevice != "d1" || q.Limit != 7 {
		t.Fatalf("bad query: %+v", q)
	}
	got := map[string][]string{}
	for _, c := range q.Filters {
		got[c.Column] = c.Values
	}
	if len(got["kind"]) != 1 || got["kind"][0] != "emergency" {
		t.Fatalf("eq filter not parsed: %+v", got)
	}
	if len(got["user_id"]) != 2 || got["user_id"][1] != "b" {
		t.Fatalf("in filter not parsed: %+v", got)
	}

	var body []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body) != 1 {
		t.Fatalf("bad body: %v %s", err, rec.Body)
	}
}

func TestRouter_Rows_UpsertAndDelete(t *testing.T) {
	rows := &fakeRowsSvc{deleted: 3}
	h := newTestServer(&fakeAuthSvc{}, rows)
	tok := accessToken(t, uuid.Must(uuid.NewV4()), time.Minute)

	payload, _ := json.Marshal([]map[string]any{{"sync_id": "a"}, {"sync_id": "b"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/rows/ledger_entries", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status %d: %s", rec.Code, rec.Body)
	}
	if len(rows.upserted) != 2 {
		t.Fatalf("rows not passed through: %+v", rows.upserted)
	}

	req = httptest.NewRequest(http.MethodDelete,
		"/v1/rows/consumption_log?before=2026-01-01T00:00:00Z", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d: %s", rec.Code, rec.Body)
	}
	var out map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out["deleted"] != 3 {
		t.Fatalf("bad delete body: %s", rec.Body)
	}
	if rows.del.Before.IsZero() {
		t.Fatalf("before not parsed")
	}
}

func TestRouter_Rows_SentinelMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.ErrInvalid, http.StatusBadRequest},
		{errs.ErrNotFound, http.StatusNotFound},
		{errs.ErrForbidden, http.StatusForbidden},
		{errs.ErrConflict, http.StatusConflict},
		{errs.ErrRateLimited, http.StatusTooManyRequests},
	}
	tok := accessToken(t, uuid.Must(uuid.NewV4()), time.Minute)
	for _, tc := range cases {
		h := newTestServer(&fakeAuthSvc{}, &fakeRowsSvc{err: tc.err})
		req := httptest.NewRequest(http.MethodGet, "/v1/rows/ledger_entries", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%v: status %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}
