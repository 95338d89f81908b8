// Package fetch performs the single bounded HTTP call made for each provider
// endpoint during a sync.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"integration_syncer/internal/domain"
	"integration_syncer/internal/provider"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxResponseBytes = 10 * 1024 * 1024
	DefaultUserAgent        = "IntegrationSyncer/1.0"
)

// Config holds fetch executor configuration.
type Config struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	UserAgent        string
}

// Executor fetches raw payloads from provider endpoints. Calls are never
// retried; the next scheduled sync is the retry.
type Executor struct {
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
	userAgent  string
	logger     *slog.Logger

	mu           sync.Mutex
	tokenSources map[string]oauth2.TokenSource
}

// New creates a new fetch executor.
func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	return &Executor{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		timeout:      cfg.Timeout,
		maxBytes:     cfg.MaxResponseBytes,
		userAgent:    cfg.UserAgent,
		logger:       logger,
		tokenSources: make(map[string]oauth2.TokenSource),
	}
}

// Fetch performs one call against endpoint e of provider p for conn.
func (x *Executor) Fetch(
	ctx context.Context,
	p provider.Provider,
	e provider.Endpoint,
	conn *domain.Connection,
	creds domain.Credentials,
) (domain.RawPayload, error) {
	target, err := x.buildURL(p, e, conn)
	if err != nil {
		return nil, &Error{Endpoint: e.DataType, Message: err.Error(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, e.Method, target, nil)
	if err != nil {
		return nil, &Error{Endpoint: e.DataType, Message: fmt.Sprintf("create request: %v", err), Err: err}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", x.userAgent)

	if err := x.authorize(req, p, conn, creds); err != nil {
		return nil, classify(e.DataType, fmt.Errorf("authorize: %w", err))
	}

	start := time.Now()
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, classify(e.DataType, fmt.Errorf("execute request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	x.logger.Debug("endpoint responded",
		"connection_id", conn.ID,
		"provider", p.ID,
		"endpoint", e.DataType,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Endpoint:   e.DataType,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, x.maxBytes+1))
	if err != nil {
		return nil, classify(e.DataType, fmt.Errorf("read response body: %w", err))
	}
	if int64(len(body)) > x.maxBytes {
		return nil, &Error{
			Endpoint: e.DataType,
			Message:  fmt.Sprintf("response exceeds %d bytes", x.maxBytes),
		}
	}
	if !json.Valid(body) {
		return nil, &Error{Endpoint: e.DataType, Message: "malformed payload: invalid json"}
	}

	return domain.RawPayload(body), nil
}

func (x *Executor) buildURL(p provider.Provider, e provider.Endpoint, conn *domain.Connection) (string, error) {
	base := p.EndpointBaseURL(e)
	if override := conn.Config["base_url"]; override != "" {
		base = override
	}

	base, err := expandBase(base, conn.Config)
	if err != nil {
		return "", err
	}

	path, err := provider.Expand(e.Path, conn.Config)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(base, "/") + path, nil
}

// expandBase expands placeholders in a base URL. The scheme separator is kept
// out of the expansion so host values are not escaped into the path.
func expandBase(base string, params map[string]string) (string, error) {
	scheme, rest, ok := strings.Cut(base, "://")
	if !ok {
		return provider.Expand(base, params)
	}
	expanded, err := provider.Expand(rest, params)
	if err != nil {
		return "", err
	}
	return scheme + "://" + expanded, nil
}

func (x *Executor) authorize(req *http.Request, p provider.Provider, conn *domain.Connection, creds domain.Credentials) error {
	authType := p.Auth
	if conn.AuthType != "" {
		authType = provider.AuthType(conn.AuthType)
	}

	switch authType {
	case provider.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	case provider.AuthSSWS:
		req.Header.Set("Authorization", "SSWS "+creds.Token)
	case provider.AuthToken:
		req.Header.Set("Authorization", "token "+creds.Token)
	case provider.AuthAPIKeyHeader:
		if p.APIKeyHeader == "" {
			return fmt.Errorf("provider %s has no api key header", p.ID)
		}
		req.Header.Set(p.APIKeyHeader, creds.Token)
		if p.AppKeyHeader != "" && creds.ClientSecret != "" {
			req.Header.Set(p.AppKeyHeader, creds.ClientSecret)
		}
	case provider.AuthBasicAPIKey:
		req.SetBasicAuth(creds.Token, "x")
	case provider.AuthOAuth2ClientCredentials:
		tok, err := x.clientCredentialsToken(req.Context(), p, conn, creds)
		if err != nil {
			return err
		}
		tok.SetAuthHeader(req)
	default:
		return fmt.Errorf("unsupported auth type %q", authType)
	}

	return nil
}

func (x *Executor) clientCredentialsToken(
	ctx context.Context, p provider.Provider, conn *domain.Connection, creds domain.Credentials,
) (*oauth2.Token, error) {
	key := conn.ID + "|" + creds.ClientID

	x.mu.Lock()
	ts, ok := x.tokenSources[key]
	if !ok {
		tokenURL, err := x.tokenURL(p, conn)
		if err != nil {
			x.mu.Unlock()
			return nil, err
		}
		cc := &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       p.Scopes,
		}
		// The token source outlives this request, so it must not capture the
		// per-call context.
		tsCtx := context.WithValue(context.Background(), oauth2.HTTPClient, x.httpClient)
		ts = cc.TokenSource(tsCtx)
		x.tokenSources[key] = ts
	}
	x.mu.Unlock()

	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := ts.Token()
		ch <- result{tok, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("obtain oauth2 token: %w", r.err)
		}
		return r.tok, nil
	}
}

func (x *Executor) tokenURL(p provider.Provider, conn *domain.Connection) (string, error) {
	if p.TokenURL == "" {
		return "", fmt.Errorf("provider %s has no token url", p.ID)
	}
	if strings.HasPrefix(p.TokenURL, "/") {
		base := p.BaseURL
		if override := conn.Config["base_url"]; override != "" {
			base = override
		}
		base, err := expandBase(base, conn.Config)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(base, "/") + p.TokenURL, nil
	}
	return expandBase(p.TokenURL, conn.Config)
}

// classify wraps transport errors, marking deadline expiry as a timeout.
func classify(endpoint string, err error) *Error {
	if isTimeout(err) {
		return &Error{Endpoint: endpoint, Timeout: true, Message: "timeout", Err: err}
	}
	return &Error{Endpoint: endpoint, Message: err.Error(), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
