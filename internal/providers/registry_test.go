package providers

import (
	"math"
	"testing"
)

func TestRegistryDefaultProvidersAndNames(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()
	names := registry.Names()

	if len(names) != 2 {
		t.Fatalf("Names() len=%d, want 2", len(names))
	}
	if names[0] != "anthropic" || names[1] != "openai" {
		t.Fatalf("Names()=%v, want [anthropic openai]", names)
	}

	if _, ok := registry.Get("openai"); !ok {
		t.Fatalf("Get(openai)=missing")
	}
	if _, ok := registry.Get("anthropic"); !ok {
		t.Fatalf("Get(anthropic)=missing")
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatalf("Get(missing)=found, want not found")
	}
}

func TestRegistryForHost(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()
	registry.MapHost("LLM.internal", "openai")

	tests := []struct {
		host string
		want string
	}{
		{host: "api.openai.com", want: "openai"},
		{host: "api.anthropic.com:443", want: "anthropic"},
		{host: "llm.internal:8080", want: "openai"},
		{host: "example.com", want: ""},
	}
	for _, tt := range tests {
		provider, ok := registry.ForHost(tt.host)
		got := ""
		if ok {
			got = provider.Name()
		}
		if got != tt.want {
			t.Fatalf("ForHost(%q)=%q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestRegistryPrice(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()
	if got := registry.Price("gpt-4o", 1000, 500); math.Abs(got-0.0125) > 1e-9 {
		t.Fatalf("Price(gpt-4o)=%f, want 0.0125", got)
	}
	if got := registry.Price("claude-haiku-4-5-20251001", 1000, 500); math.Abs(got-0.0035) > 1e-9 {
		t.Fatalf("Price(claude-haiku)=%f, want 0.0035", got)
	}
	if got := registry.Price("mystery", 1000, 500); got != 0 {
		t.Fatalf("Price(mystery)=%f, want 0", got)
	}
}
