package fetch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"integration_syncer/internal/domain"
	"integration_syncer/internal/provider"
)

type ExecutorTestSuite struct {
	suite.Suite
	server   *httptest.Server
	mux      *http.ServeMux
	executor *Executor
	conn     *domain.Connection
}

func (s *ExecutorTestSuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.executor = New(Config{Timeout: 200 * time.Millisecond, MaxResponseBytes: 1024}, logger)

	s.conn = &domain.Connection{
		ID:         "conn-1",
		TenantID:   "tenant-1",
		ProviderID: "test",
		Config:     domain.ConnectionConfig{"organization": "acme"},
	}
}

func (s *ExecutorTestSuite) TearDownTest() {
	s.server.Close()
}

func TestExecutorTestSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}

func (s *ExecutorTestSuite) testProvider(auth provider.AuthType) provider.Provider {
	return provider.Provider{
		ID:           "test",
		BaseURL:      s.server.URL,
		Auth:         auth,
		APIKeyHeader: "X-Api-Key",
		AppKeyHeader: "X-App-Key",
		TokenURL:     "/oauth2/token",
	}
}

func endpoint(path string) provider.Endpoint {
	return provider.Endpoint{DataType: "members", Path: path, Method: http.MethodGet}
}

func (s *ExecutorTestSuite) TestFetch_SubstitutesPathParameters() {
	s.mux.HandleFunc("/orgs/acme/members", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("application/json", r.Header.Get("Accept"))
		s.Equal(DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[{"id":1}]`))
	})

	raw, err := s.executor.Fetch(context.Background(), s.testProvider(provider.AuthBearer),
		endpoint("/orgs/{organization}/members"), s.conn, domain.Credentials{Token: "t"})

	s.Require().NoError(err)
	s.JSONEq(`[{"id":1}]`, string(raw))
}

func (s *ExecutorTestSuite) TestFetch_AuthHeaders() {
	tests := []struct {
		auth   provider.AuthType
		creds  domain.Credentials
		header string
		want   string
	}{
		{provider.AuthBearer, domain.Credentials{Token: "abc"}, "Authorization", "Bearer abc"},
		{provider.AuthSSWS, domain.Credentials{Token: "abc"}, "Authorization", "SSWS abc"},
		{provider.AuthToken, domain.Credentials{Token: "abc"}, "Authorization", "token abc"},
		{provider.AuthAPIKeyHeader, domain.Credentials{Token: "abc", ClientSecret: "app"}, "X-Api-Key", "abc"},
		{provider.AuthAPIKeyHeader, domain.Credentials{Token: "abc", ClientSecret: "app"}, "X-App-Key", "app"},
	}

	var got http.Header
	s.mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	})

	for _, tt := range tests {
		_, err := s.executor.Fetch(context.Background(), s.testProvider(tt.auth), endpoint("/echo"), s.conn, tt.creds)
		s.Require().NoError(err, tt.auth)
		s.Equal(tt.want, got.Get(tt.header), tt.auth)
	}
}

func (s *ExecutorTestSuite) TestFetch_BasicAPIKey() {
	s.mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		s.True(ok)
		s.Equal("key", user)
		s.Equal("x", pass)
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := s.executor.Fetch(context.Background(), s.testProvider(provider.AuthBasicAPIKey),
		endpoint("/echo"), s.conn, domain.Credentials{Token: "key"})
	s.NoError(err)
}

func (s *ExecutorTestSuite) TestFetch_ConnectionAuthTypeOverridesProvider() {
	s.mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("SSWS abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	})

	s.conn.AuthType = string(provider.AuthSSWS)
	_, err := s.executor.Fetch(context.Background(), s.testProvider(provider.AuthBearer),
		endpoint("/echo"), s.conn, domain.Credentials{Token: "abc"})
	s.NoError(err)
}

func (s *ExecutorTestSuite) TestFetch_OAuth2ClientCredentials() {
	var tokenCalls atomic.Int32
	s.mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		s.Require().NoError(r.ParseForm())
		s.Equal("client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "issued-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	s.mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("Bearer issued-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"resources":[]}`))
	})

	creds := domain.Credentials{ClientID: "id", ClientSecret: "secret"}
	p := s.testProvider(provider.AuthOAuth2ClientCredentials)

	for i := 0; i < 2; i++ {
		_, err := s.executor.Fetch(context.Background(), p, endpoint("/devices"), s.conn, creds)
		s.Require().NoError(err)
	}
	s.Equal(int32(1), tokenCalls.Load(), "token should be reused while valid")
}

func (s *ExecutorTestSuite) TestFetch_Non2xxIsTypedFailure() {
	s.mux.HandleFunc("/denied", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := s.executor.Fetch(context.Background(), s.testProvider(provider.AuthBearer),
		endpoint("/denied"), s.conn, domain.Credentials{Token: "t"})

	s.Require().Error(err)
	s.Equal(http.StatusForbidden, StatusCode(err))
	s.False(IsTimeout(err))
	s.Contains(err.Error(), "HTTP 403")
}

func (s *ExecutorTestSuite) TestFetch_TimeoutIsTypedFailure() {
	release := make(chan struct{})
	defer close(release)
	s.mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	_, err := s.executor.Fetch(context.Background(), s.testProvider(provider.AuthBearer),
		endpoint("/slow"), s.conn, domain.Credentials{Token: "t"})

	s.Require().Error(err)
	s.True(IsTimeout(err))
	s.Equal("timeout", err.Error())
}

func (s *ExecutorTestSuite) TestFetch_NoRetryOnFailure() {
	var calls atomic.Int32
	s.mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := s.executor.Fetch(context.Background(), s.testProvider(provider.AuthBearer),
		endpoint("/flaky"), s.conn, domain.Credentials{Token: "t"})

	s.Error(err)
	s.Equal(int32(1), calls.Load())
}

func (s *ExecutorTestSuite) TestFetch_MalformedPayload() {
	s.mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := s.executor.Fetch(context.Background(), s.testProvider(provider.AuthBearer),
		endpoint("/html"), s.conn, domain.Credentials{Token: "t"})

	s.Require().Error(err)
	s.Contains(err.Error(), "malformed payload")
}

func (s *ExecutorTestSuite) TestFetch_ResponseTooLarge() {
	s.mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"` + strings.Repeat("a", 2048) + `"`))
	})

	_, err := s.executor.Fetch(context.Background(), s.testProvider(provider.AuthBearer),
		endpoint("/big"), s.conn, domain.Credentials{Token: "t"})

	s.Require().Error(err)
	s.Contains(err.Error(), "exceeds")
}

func (s *ExecutorTestSuite) TestFetch_MissingPathParameter() {
	s.conn.Config = domain.ConnectionConfig{}

	_, err := s.executor.Fetch(context.Background(), s.testProvider(provider.AuthBearer),
		endpoint("/orgs/{organization}/members"), s.conn, domain.Credentials{Token: "t"})

	s.Require().Error(err)
	s.Contains(err.Error(), "organization")
}

func (s *ExecutorTestSuite) TestFetch_BaseURLOverride() {
	s.mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	p := s.testProvider(provider.AuthBearer)
	p.BaseURL = "https://{domain}"
	s.conn.Config["base_url"] = s.server.URL

	raw, err := s.executor.Fetch(context.Background(), p, endpoint("/echo"), s.conn, domain.Credentials{Token: "t"})
	s.Require().NoError(err)
	s.JSONEq(`{"ok":true}`, string(raw))
}
