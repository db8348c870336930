package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360studio/draftloop/cache"
)

// Generation is the result of a text-generation operation.
type Generation struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model,omitempty"`
}

// GrammarReport is the result of a grammar check.
type GrammarReport struct {
	ErrorCount  int      `json:"error_count"`
	Corrected   string   `json:"corrected_content"`
	Suggestions []string `json:"suggestions,omitempty"`
	TokensUsed  int      `json:"tokens_used,omitempty"`
}

// Gateway exposes the narrow text-generation surface the pipeline stages
// use: outline, content, grammar, and plain text. Responses are cached in
// the llm_response namespace keyed by a hash of the request, and with no
// provider configured every operation serves deterministic mock content.
type Gateway struct {
	client      *Client
	registry    *Registry
	cache       *cache.Cache
	logger      *slog.Logger
	temperature float64
	maxTokens   int

	// onTokens, when set, observes token consumption per capability.
	onTokens func(capability string, tokens int)
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithCache enables response caching.
func WithCache(c *cache.Cache) GatewayOption {
	return func(g *Gateway) { g.cache = c }
}

// WithTokenHook registers a callback observing token usage. Used to feed
// metrics.
func WithTokenHook(fn func(capability string, tokens int)) GatewayOption {
	return func(g *Gateway) { g.onTokens = fn }
}

// NewGateway creates a gateway over the client and registry.
func NewGateway(client *Client, registry *Registry, temperature float64, maxTokens int, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		client:      client,
		registry:    registry,
		logger:      logger,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configured reports whether a real provider backs the gateway.
func (g *Gateway) Configured() bool {
	return g.registry.Configured()
}

// GenerateOutline produces a document outline for the prompt in the given
// writing mode.
func (g *Gateway) GenerateOutline(ctx context.Context, prompt, mode string) (*Generation, error) {
	if !g.Configured() {
		return &Generation{Content: mockOutline(prompt, mode)}, nil
	}
	return g.complete(ctx, CapabilityOutline, systemPrompt(mode, "outline"), prompt)
}

// GenerateContent expands an outline into a full draft in the given writing
// mode, aiming for targetWords words.
func (g *Gateway) GenerateContent(ctx context.Context, outline, mode string, targetWords int) (*Generation, error) {
	if !g.Configured() {
		return &Generation{Content: mockContent(outline, targetWords)}, nil
	}
	return g.complete(ctx, CapabilityContent, systemPrompt(mode, "content"), contentPrompt(outline, mode, targetWords))
}

// GenerateText is plain completion with no task framing.
func (g *Gateway) GenerateText(ctx context.Context, prompt string) (*Generation, error) {
	if !g.Configured() {
		return &Generation{Content: "Mock response: " + prompt}, nil
	}
	return g.complete(ctx, CapabilityText, "", prompt)
}

// CheckGrammar counts grammar errors and returns a corrected artifact. The
// model is asked for a strict JSON verdict; an unparseable response degrades
// to zero errors and the original content rather than failing the stage.
func (g *Gateway) CheckGrammar(ctx context.Context, content string) (*GrammarReport, error) {
	if !g.Configured() {
		return mockGrammar(content), nil
	}

	gen, err := g.complete(ctx, CapabilityGrammar, grammarSystemPrompt,
		"Check the following text for grammar errors:\n\n"+content)
	if err != nil {
		return nil, err
	}

	raw := ExtractJSON(gen.Content)
	if raw == "" {
		g.logger.Warn("grammar response contained no JSON, treating as clean")
		return &GrammarReport{Corrected: content, TokensUsed: gen.TokensUsed}, nil
	}

	var report GrammarReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		g.logger.Warn("grammar response undecodable, treating as clean", "error", err)
		return &GrammarReport{Corrected: content, TokensUsed: gen.TokensUsed}, nil
	}
	if report.Corrected == "" {
		report.Corrected = content
	}
	report.TokensUsed = gen.TokensUsed
	return &report, nil
}

// complete runs one completion through the cache and the client.
func (g *Gateway) complete(ctx context.Context, cap Capability, system, prompt string) (*Generation, error) {
	key := requestKey(cap, system, prompt)

	if g.cache != nil {
		var cached Generation
		if g.cache.Get(ctx, cache.NamespaceLLMResponse, key, &cached) {
			g.logger.Debug("llm response served from cache", "capability", cap)
			return &cached, nil
		}
	}

	var messages []Message
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	temp := g.temperature
	resp, err := g.client.Complete(ctx, Request{
		Capability:  cap,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", cap, err)
	}

	gen := &Generation{
		Content:    resp.Content,
		TokensUsed: resp.Usage.TotalTokens,
		Model:      resp.Model,
	}
	if g.onTokens != nil && gen.TokensUsed > 0 {
		g.onTokens(string(cap), gen.TokensUsed)
	}
	if g.cache != nil {
		g.cache.Set(ctx, cache.NamespaceLLMResponse, key, gen)
	}
	return gen, nil
}

// requestKey hashes the request so equal prompts share a cache entry.
func requestKey(cap Capability, system, prompt string) string {
	h := sha256.New()
	h.Write([]byte(cap))
	h.Write([]byte{0})
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
