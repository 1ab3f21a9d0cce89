// Package source reads the system of record: its REST query API, the
// change-log table listing pending changes, and the poller turning that table
// into a stream of change notifications.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/drblury/syncflow/internal/runtime/jsoncodec"
)

var (
	ErrUnavailable    = errors.New("syncflow: source system unavailable")
	ErrRecordNotFound = errors.New("syncflow: source record not found")
)

// StatusError carries an unexpected HTTP status from the source system.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source %s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnavailable }

// TokenSourceFunc builds a fresh token source. The client calls it again
// whenever the source system rejects the current token.
type TokenSourceFunc func(ctx context.Context) oauth2.TokenSource

// Credentials configure the OAuth2 JWT bearer flow.
type Credentials struct {
	TokenURL   string
	ClientID   string
	Subject    string
	Audience   string
	PrivateKey []byte
	Expires    time.Duration
}

// JWTTokenSource returns a TokenSourceFunc signing assertions with creds.
func JWTTokenSource(creds Credentials) TokenSourceFunc {
	cfg := &jwt.Config{
		Email:      creds.ClientID,
		Subject:    creds.Subject,
		PrivateKey: creds.PrivateKey,
		TokenURL:   creds.TokenURL,
		Audience:   creds.Audience,
		Expires:    creds.Expires,
	}
	return cfg.TokenSource
}

// Client talks to the source system REST API. It owns the access token; a
// 401 response drops the cached token and the request is retried once.
type Client struct {
	baseURL   string
	http      *http.Client
	newTokens TokenSourceFunc

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// NewClient returns a client for the API rooted at baseURL, for example
// https://example.my.salesforce.com/services/data/v60.0/.
func NewClient(baseURL string, tokens TokenSourceFunc, hc *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("source: base url is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("source: token source is required")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/") + "/",
		http:      hc,
		newTokens: tokens,
	}, nil
}

func (c *Client) token(ctx context.Context, refresh bool) (*oauth2.Token, error) {
	c.mu.Lock()
	if c.tokens == nil || refresh {
		c.tokens = c.newTokens(context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, c.http))
	}
	ts := c.tokens
	c.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch access token: %w", ErrUnavailable, err)
	}
	return tok, nil
}

// rawRecord keeps one query result row undecoded until its type is known.
type rawRecord []byte

func (r *rawRecord) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

type queryResponse struct {
	TotalSize int         `json:"totalSize"`
	Done      bool        `json:"done"`
	Records   []rawRecord `json:"records"`
}

// Query runs a SOQL statement and returns the raw records.
func (c *Client) Query(ctx context.Context, soql string) ([][]byte, error) {
	var resp queryResponse
	if _, err := c.do(ctx, http.MethodGet, "query?q="+url.QueryEscape(soql), &resp); err != nil {
		return nil, err
	}
	out := make([][]byte, len(resp.Records))
	for i, rec := range resp.Records {
		out[i] = rec
	}
	return out, nil
}

// Delete removes one sobject. A record that is already gone counts as deleted.
func (c *Client) Delete(ctx context.Context, object, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "sobjects/"+url.PathEscape(object)+"/"+url.PathEscape(id), nil)
	var status *StatusError
	if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, out any) (int, error) {
	status, body, err := c.roundTrip(ctx, method, path, false)
	if err == nil && status == http.StatusUnauthorized {
		status, body, err = c.roundTrip(ctx, method, path, true)
	}
	if err != nil {
		return 0, err
	}
	if status < 200 || status > 299 {
		return status, &StatusError{Method: method, Path: path, StatusCode: status, Body: strings.TrimSpace(string(body))}
	}
	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := jsoncodec.Unmarshal(body, out); err != nil {
			return status, fmt.Errorf("%w: %s %s: decode response: %w", ErrUnavailable, method, path, err)
		}
	}
	return status, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, refresh bool) (int, []byte, error) {
	tok, err := c.token(ctx, refresh)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("source %s %s: build request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: read response: %w", ErrUnavailable, method, path, err)
	}
	return resp.StatusCode, body, nil
}
