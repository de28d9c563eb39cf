// Package remote implements the client for the row-store service: a
// row-oriented HTTPS API with upsert-by-key collections, filtered range
// queries and an OAuth-style sign-in flow. One strict row schema per
// stream crosses this boundary; unmapped fields are rejected by the
// server, not passed through.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/errs"
)

// Config holds the remote endpoint settings. An empty BaseURL means sync
// is not configured; the engine degrades to local-only behavior.
type Config struct {
	BaseURL     string
	CallbackURL string // platform callback the OAuth flow redirects to
	Timeout     time.Duration
}

// Client is a thin HTTP client over the row-store API. Authorization is
// per-call: every request carries the access token it was given.
type Client struct {
	base *url.URL
	http *http.Client
	log  *zap.Logger

	callbackURL string
}

// NewClient validates the config and constructs a client.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errs.ErrNotConfigured
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: bad base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:        u,
		http:        &http.Client{Timeout: timeout},
		log:         log,
		callbackURL: cfg.CallbackURL,
	}, nil
}

type apiError struct {
	Error string `json:"error"`
}

// do performs one request. Idempotent GETs are retried with exponential
// backoff on transport errors and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: marshal: %w", err)
		}
		payload = b
	}

	attempt := func(ctx context.Context) error {
		u := *c.base
		u.Path = strings.TrimRight(u.Path, "/") + path
		if query != nil {
			u.RawQuery = query.Encode()
		}
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if method == http.MethodGet {
				return retry.RetryableError(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			err := responseError(resp)
			if method == http.MethodGet && resp.StatusCode >= 500 {
				return retry.RetryableError(err)
			}
			return err
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	if err := retry.Do(ctx, backoff, attempt); err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	return nil
}

// responseError maps an HTTP failure onto the sentinel taxonomy, keeping
// the server's message for user-facing conflicts.
func responseError(resp *http.Response) error {
	var ae apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ae)
	msg := ae.Error
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", msg, errs.ErrUnauthorized)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, errs.ErrForbidden)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, errs.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, errs.ErrConflict)
	case http.StatusGone:
		return fmt.Errorf("%s: %w", msg, errs.ErrExpired)
	default:
		return errors.New(msg)
	}
}
