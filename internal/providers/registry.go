package providers

import (
	"sort"
	"strings"
)

type Registry struct {
	providers map[string]Provider
	hosts     map[string]string
}

func NewRegistry(providers ...Provider) *Registry {
	registry := &Registry{
		providers: make(map[string]Provider, len(providers)),
		hosts:     make(map[string]string),
	}
	for _, provider := range providers {
		registry.providers[provider.Name()] = provider
	}
	return registry
}

// DefaultRegistry knows the OpenAI and Anthropic APIs and their public hosts.
func DefaultRegistry() *Registry {
	registry := NewRegistry(OpenAIProvider{}, AnthropicProvider{})
	registry.MapHost("api.openai.com", "openai")
	registry.MapHost("api.anthropic.com", "anthropic")
	return registry
}

// MapHost routes HTTP traffic for host to the named provider.
func (r *Registry) MapHost(host, provider string) {
	r.hosts[strings.ToLower(strings.TrimSpace(host))] = provider
}

func (r *Registry) Get(name string) (Provider, bool) {
	provider, ok := r.providers[name]
	return provider, ok
}

// ForHost returns the provider mapped to host, ignoring any port.
func (r *Registry) ForHost(host string) (Provider, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if name, ok := r.hosts[host]; ok {
		return r.Get(name)
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		if name, ok := r.hosts[host[:idx]]; ok {
			return r.Get(name)
		}
	}
	return nil, false
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Price estimates the USD cost of one model call with whichever provider
// knows the model. Unknown models cost zero.
func (r *Registry) Price(model string, inputTokens, outputTokens int) float64 {
	for _, name := range r.Names() {
		if cost := r.providers[name].EstimateCost(model, inputTokens, outputTokens); cost > 0 {
			return cost
		}
	}
	return 0
}
