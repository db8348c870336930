package llm

import (
	"github.com/c360studio/draftloop/config"
)

// Capability names a semantic text-generation task. The registry routes each
// capability to a provider endpoint; unrouted capabilities use the default.
type Capability string

const (
	// CapabilityOutline generates a document outline from a prompt.
	CapabilityOutline Capability = "outline"
	// CapabilityContent expands an outline into a full draft.
	CapabilityContent Capability = "content"
	// CapabilityGrammar checks and corrects grammar.
	CapabilityGrammar Capability = "grammar"
	// CapabilityText is plain completion with no task framing.
	CapabilityText Capability = "text"
)

// Endpoint is a resolved provider target for one capability.
type Endpoint struct {
	Provider string
	Model    string
	URL      string
}

// Registry maps capabilities to provider endpoints, built from the service
// configuration.
type Registry struct {
	defaults     Endpoint
	capabilities map[Capability]Endpoint
}

// NewRegistry builds a registry from the LLM configuration.
func NewRegistry(cfg config.LLMConfig) *Registry {
	r := &Registry{
		defaults: Endpoint{
			Provider: cfg.Provider,
			Model:    cfg.Model,
			URL:      cfg.Endpoint,
		},
		capabilities: make(map[Capability]Endpoint),
	}
	for name, ep := range cfg.Capabilities {
		resolved := r.defaults
		if ep.Provider != "" {
			resolved.Provider = ep.Provider
		}
		if ep.Model != "" {
			resolved.Model = ep.Model
		}
		if ep.Endpoint != "" {
			resolved.URL = ep.Endpoint
		}
		r.capabilities[Capability(name)] = resolved
	}
	return r
}

// Endpoint resolves a capability to its endpoint, falling back to the
// default endpoint for unrouted capabilities.
func (r *Registry) Endpoint(c Capability) Endpoint {
	if ep, ok := r.capabilities[c]; ok {
		return ep
	}
	return r.defaults
}

// Configured reports whether the default provider is registered and able to
// authenticate. When false the gateway serves mock content instead of
// calling out.
func (r *Registry) Configured() bool {
	p := GetProvider(r.defaults.Provider)
	return p != nil && p.Configured()
}
