package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Factory constructs a Provider bound to the given config.
type Factory func(cfg Config) (Provider, error)

// Registry maps a provider tag to its adapter constructor, mirroring
// the chat platform's ai.Registry shape generalized to the five
// variants this system supports.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = f
}

func (r *Registry) Build(ctx context.Context, name string, cfg Config) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: unknown provider %q", name)
	}
	return f(cfg)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultRegistry wires every built-in variant against the configured
// default base URLs so callers only need to override per-session
// settings (api key, model, custom base url).
func DefaultRegistry(defaults Defaults) *Registry {
	reg := NewRegistry()
	reg.Register("openai", func(cfg Config) (Provider, error) {
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaults.OpenAIBaseURL
		}
		return NewOpenAICompatible("openai", cfg), nil
	})
	reg.Register("deepseek", func(cfg Config) (Provider, error) {
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaults.DeepSeekBaseURL
		}
		return NewOpenAICompatible("deepseek", cfg), nil
	})
	reg.Register("ollama", func(cfg Config) (Provider, error) {
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaults.OllamaBaseURL
		}
		return NewOllama(cfg), nil
	})
	reg.Register("gemini", func(cfg Config) (Provider, error) {
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaults.GeminiBaseURL
		}
		return NewGemini(cfg), nil
	})
	reg.Register("mock", func(cfg Config) (Provider, error) {
		return NewMock(cfg), nil
	})
	return reg
}

type Defaults struct {
	OpenAIBaseURL   string
	DeepSeekBaseURL string
	OllamaBaseURL   string
	GeminiBaseURL   string
}
