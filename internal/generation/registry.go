package generation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/phrazzld/reportgen/internal/domain"
)

// Providers lists every provider the worker knows about.
var Providers = []domain.Provider{domain.ProviderGemini, domain.ProviderOpenAI}

var openAIPrefixes = []string{"gpt-", "gpt4", "o1", "o3", "o4", "chatgpt-"}

// ParseModel resolves a model identifier onto its provider. Identifiers are
// either "provider:model" or a bare model name recognized by prefix.
func ParseModel(id string) (domain.Provider, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", fmt.Errorf("%w: empty model identifier", ErrUnsupportedModel)
	}

	if provider, model, ok := strings.Cut(id, ":"); ok {
		p := domain.Provider(strings.ToLower(provider))
		if !knownProvider(p) || model == "" {
			return "", "", fmt.Errorf("%w: %q", ErrUnsupportedModel, id)
		}
		return p, model, nil
	}

	lower := strings.ToLower(id)
	if strings.HasPrefix(lower, "gemini") {
		return domain.ProviderGemini, id, nil
	}
	for _, prefix := range openAIPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return domain.ProviderOpenAI, id, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedModel, id)
}

func knownProvider(p domain.Provider) bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// Registry maps providers onto configured generators. It is the only
// runtime table of the generation boundary.
type Registry struct {
	mu         sync.RWMutex
	generators map[domain.Provider]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[domain.Provider]Generator)}
}

// Register installs g for provider p, replacing any previous generator.
func (r *Registry) Register(p domain.Provider, g Generator) error {
	if !knownProvider(p) {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, p)
	}
	if g == nil {
		return fmt.Errorf("%w: nil generator for %q", ErrInvalidConfig, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[p] = g
	return nil
}

// Get returns the generator registered for p.
func (r *Registry) Get(p domain.Provider) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[p]
	return g, ok
}

// Resolve parses a model identifier and returns its provider's generator
// together with the provider-local model name.
func (r *Registry) Resolve(modelID string) (Generator, domain.Provider, string, error) {
	p, model, err := ParseModel(modelID)
	if err != nil {
		return nil, "", "", err
	}
	g, ok := r.Get(p)
	if !ok {
		return nil, "", "", fmt.Errorf("%w: provider %q is not configured", ErrUnsupportedModel, p)
	}
	return g, p, model, nil
}
