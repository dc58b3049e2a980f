package providers

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Registry resolves a public model name to a registered Adapter.
//
// Resolution order:
//  1. An explicit "provider/model" prefix selects that provider directly.
//  2. An exact match against a registered model pattern.
//  3. A wildcard pattern match (patterns containing "*", e.g. "gpt-4*").
//  4. A last-resort probe of every registered adapter's SupportsModel.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Adapter
	// patterns maps a model pattern (exact or containing "*") to the
	// provider name that serves it.
	patterns map[string]string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Adapter),
		patterns:  make(map[string]string),
	}
}

// Register adds an adapter under a provider type name. Optional model
// patterns bind specific model names/wildcards to this provider so that
// Resolve can find it without a "provider/model" prefix or a SupportsModel
// probe.
func (r *Registry) Register(providerType string, adapter Adapter, modelPatterns ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[providerType] = adapter
	for _, pattern := range modelPatterns {
		r.patterns[pattern] = providerType
	}
}

// Unregister removes a provider and any model patterns bound to it.
func (r *Registry) Unregister(providerType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, providerType)
	for pattern, pt := range r.patterns {
		if pt == providerType {
			delete(r.patterns, pattern)
		}
	}
}

// Get returns the adapter registered for an exact provider type name.
func (r *Registry) Get(providerType string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.providers[providerType]
	return a, ok
}

// List returns every registered provider type name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// ErrModelNotSupported is returned by Resolve when no adapter can serve
// the requested model by any resolution strategy.
type ErrModelNotSupported struct {
	Model string
}

func (e *ErrModelNotSupported) Error() string {
	return fmt.Sprintf("model %q is not supported by any registered provider", e.Model)
}

// Resolve maps a public model name to an Adapter, trying each strategy in
// turn: explicit "provider/model" prefix, exact pattern, wildcard pattern,
// then a SupportsModel probe across every registered adapter.
func (r *Registry) Resolve(model string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if providerType, _, ok := strings.Cut(model, "/"); ok {
		if a, found := r.providers[providerType]; found {
			return a, nil
		}
	}

	if providerType, ok := r.patterns[model]; ok {
		if a, found := r.providers[providerType]; found {
			return a, nil
		}
	}

	// Longest-wildcard-match: among every wildcard
	// pattern that matches, the most specific (longest) one wins, so e.g.
	// "gpt-4-turbo*" beats "gpt-4*" for "gpt-4-turbo-preview".
	bestPattern, bestProvider := "", ""
	for pattern, providerType := range r.patterns {
		if !strings.Contains(pattern, "*") {
			continue
		}
		re, err := compileWildcard(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(model) && len(pattern) > len(bestPattern) {
			bestPattern, bestProvider = pattern, providerType
		}
	}
	if bestProvider != "" {
		if a, found := r.providers[bestProvider]; found {
			return a, nil
		}
	}

	for _, a := range r.providers {
		if probe, ok := a.(ModelProbe); ok && probe.SupportsModel(model) {
			return a, nil
		}
	}

	if a, found := r.providers["*"]; found {
		return a, nil
	}

	return nil, &ErrModelNotSupported{Model: model}
}

// ModelProbe is an optional Adapter capability for providers that can
// decide at runtime whether they serve a given model name, instead of
// relying solely on patterns registered up front (e.g. an adapter backed
// by a live model-listing cache). Resolve tries this after exact/wildcard
// pattern matching and before the "*" catch-all provider.
type ModelProbe interface {
	SupportsModel(model string) bool
}

func compileWildcard(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	return regexp.Compile("^" + escaped + "$")
}
