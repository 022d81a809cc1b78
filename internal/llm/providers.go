// Package llm provides the chat-completion client used for clarification
// and PRD generation. Providers expose an OpenAI-compatible chat API and
// are interchangeable behind the registry.
package llm

import (
	"fmt"
	"sort"
)

// Provider describes one named chat-completion backend.
type Provider struct {
	Name         string `json:"name"`
	BaseURL      string `json:"base_url"`
	DefaultModel string `json:"default_model"`
}

// The registry replaces string-keyed dispatch: configuration values are
// validated against it up front, so an unknown provider fails fast instead
// of silently falling back.
var registry = map[string]Provider{
	"deepseek": {Name: "deepseek", BaseURL: "https://api.deepseek.com/v1", DefaultModel: "deepseek-chat"},
	"openai":   {Name: "openai", BaseURL: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini"},
	"moonshot": {Name: "moonshot", BaseURL: "https://api.moonshot.cn/v1", DefaultModel: "moonshot-v1-8k"},
	"zhipu":    {Name: "zhipu", BaseURL: "https://open.bigmodel.cn/api/paas/v4", DefaultModel: "glm-4-flash"},
}

// LookupProvider resolves a provider by name.
func LookupProvider(name string) (Provider, error) {
	p, ok := registry[name]
	if !ok {
		return Provider{}, fmt.Errorf("unknown provider %q (known: %v)", name, ProviderNames())
	}
	return p, nil
}

// ProviderNames returns the registered provider names, sorted.
func ProviderNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Providers returns every registered provider, sorted by name.
func Providers() []Provider {
	out := make([]Provider, 0, len(registry))
	for _, name := range ProviderNames() {
		out = append(out, registry[name])
	}
	return out
}
