// Package normalize turns raw provider payloads into summaries and mapped
// compliance-control identifiers. Every function here is pure.
package normalize

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"integration_syncer/internal/domain"
)

// Func normalizes one raw payload.
type Func func(raw []byte) (domain.Normalized, error)

type key struct {
	provider string
	dataType string
}

// Registry resolves (provider, data type) pairs to normalization functions.
type Registry struct {
	funcs map[key]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[key]Func)}
}

// Register adds fn for the given provider and data type. Later registrations
// replace earlier ones.
func (r *Registry) Register(providerID, dataType string, fn Func) {
	r.funcs[key{providerID, dataType}] = fn
}

// Has reports whether a specific function is registered for the pair.
func (r *Registry) Has(providerID, dataType string) bool {
	_, ok := r.funcs[key{providerID, dataType}]
	return ok
}

// Normalize applies the registered function, or a generic item count when
// the pair has no dedicated rule.
func (r *Registry) Normalize(providerID, dataType string, raw domain.RawPayload) (domain.Normalized, error) {
	if !gjson.ValidBytes(raw) {
		return domain.Normalized{}, fmt.Errorf("malformed payload: invalid json")
	}

	fn, ok := r.funcs[key{providerID, dataType}]
	if !ok {
		fn = Generic
	}

	n, err := fn(raw)
	if err != nil {
		return domain.Normalized{}, fmt.Errorf("normalize %s/%s: %w", providerID, dataType, err)
	}

	n.MappedControlIDs = dedupeSorted(n.MappedControlIDs)
	if n.Summary == nil {
		n.Summary = map[string]any{}
	}
	return n, nil
}

// Generic counts top-level items of an array payload, or reports a single
// object otherwise. It maps no controls.
func Generic(raw []byte) (domain.Normalized, error) {
	root := gjson.ParseBytes(raw)
	total := 1
	if root.IsArray() {
		total = len(root.Array())
	}
	return domain.Normalized{Summary: map[string]any{"total": total}}, nil
}

func dedupeSorted(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
