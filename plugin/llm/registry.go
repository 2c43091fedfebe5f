package llm

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Registry maps model names to providers. Resolution is fail-open: an
// unknown model falls through to the default provider, which forwards the
// name as-is and lets the vendor's own validation reject it.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Provider
	prefixes []prefixRule
	fallback Provider
}

type prefixRule struct {
	prefix   string
	provider Provider
}

func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]Provider)}
}

// RegisterModel binds one exact model name to a provider.
func (r *Registry) RegisterModel(model string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[model] = provider
}

// RegisterPrefix binds every model name starting with prefix to a
// provider. Longer prefixes win over shorter ones.
func (r *Registry) RegisterPrefix(prefix string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = append(r.prefixes, prefixRule{prefix: prefix, provider: provider})
}

// SetDefault sets the fallback provider for unknown model names.
func (r *Registry) SetDefault(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the provider responsible for model. It errors only when
// no provider at all is configured.
func (r *Registry) Resolve(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.exact[model]; ok {
		return p, nil
	}

	var best Provider
	bestLen := -1
	for _, rule := range r.prefixes {
		if strings.HasPrefix(model, rule.prefix) && len(rule.prefix) > bestLen {
			best, bestLen = rule.provider, len(rule.prefix)
		}
	}
	if best != nil {
		return best, nil
	}

	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, errors.Errorf("no provider configured for model %q", model)
}

// Models returns the exact model names registered, for catalog listings.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]string, 0, len(r.exact))
	for m := range r.exact {
		models = append(models, m)
	}
	return models
}
