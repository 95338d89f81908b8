// Package provider holds the static catalog of third-party providers the
// pipeline can sync and the endpoints fetched for each of them.
package provider

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

type AuthType string

const (
	AuthBearer                  AuthType = "bearer"
	AuthSSWS                    AuthType = "ssws"
	AuthToken                   AuthType = "token"
	AuthAPIKeyHeader            AuthType = "api_key_header"
	AuthBasicAPIKey             AuthType = "basic_api_key"
	AuthOAuth2ClientCredentials AuthType = "oauth2_client_credentials"
)

// Pagination tags how a provider pages its collection endpoints. The fetch
// layer issues a single call per endpoint; the tag is kept for the normalizer
// and for operators reading the catalog.
type Pagination string

const (
	PaginationNone       Pagination = "none"
	PaginationLinkHeader Pagination = "link_header"
	PaginationCursor     Pagination = "cursor"
	PaginationOffset     Pagination = "offset"
)

// Endpoint is one provider API resource the pipeline fetches.
type Endpoint struct {
	DataType   string
	Path       string
	Method     string
	BaseURL    string // overrides Provider.BaseURL when set
	Pagination Pagination
}

// Provider describes how to reach one third-party API.
type Provider struct {
	ID       string
	Name     string
	Category string
	BaseURL  string
	Auth     AuthType

	// APIKeyHeader names the header carrying the token for AuthAPIKeyHeader.
	// AppKeyHeader optionally carries Credentials.ClientSecret alongside it.
	APIKeyHeader string
	AppKeyHeader string

	// TokenURL and Scopes configure AuthOAuth2ClientCredentials. A TokenURL
	// starting with "/" is resolved against the provider base URL.
	TokenURL string
	Scopes   []string

	Endpoints []Endpoint
}

// EndpointBaseURL returns the base URL template used for e.
func (p Provider) EndpointBaseURL(e Endpoint) string {
	if e.BaseURL != "" {
		return e.BaseURL
	}
	return p.BaseURL
}

// Registry is an immutable lookup of providers by ID.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry validates and indexes the given providers.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}

	for _, p := range providers {
		if p.ID == "" {
			return nil, fmt.Errorf("provider with empty id")
		}
		if _, dup := r.providers[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.ID)
		}
		if len(p.Endpoints) == 0 {
			return nil, fmt.Errorf("provider %q has no endpoints", p.ID)
		}

		seen := make(map[string]bool, len(p.Endpoints))
		for i := range p.Endpoints {
			e := &p.Endpoints[i]
			if e.DataType == "" || e.Path == "" {
				return nil, fmt.Errorf("provider %q: endpoint %d missing data type or path", p.ID, i)
			}
			if seen[e.DataType] {
				return nil, fmt.Errorf("provider %q: duplicate data type %q", p.ID, e.DataType)
			}
			seen[e.DataType] = true
			if e.Method == "" {
				e.Method = http.MethodGet
			}
			if e.Pagination == "" {
				e.Pagination = PaginationNone
			}
			if p.EndpointBaseURL(*e) == "" {
				return nil, fmt.Errorf("provider %q: endpoint %q has no base url", p.ID, e.DataType)
			}
		}

		r.providers[p.ID] = p
	}

	return r, nil
}

// MustNewRegistry is NewRegistry for static catalogs; it panics on invalid input.
func MustNewRegistry(providers ...Provider) *Registry {
	r, err := NewRegistry(providers...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the provider registered under id.
func (r *Registry) Lookup(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns all registered provider IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Expand substitutes {name} placeholders in template with URL-escaped values
// from params. Every placeholder must be present.
func Expand(template string, params map[string]string) (string, error) {
	var missing []string

	out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok || v == "" {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(v)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing connection parameter(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}
