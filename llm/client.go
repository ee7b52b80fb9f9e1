// ABOUTME: Client infrastructure for the unified LLM client SDK with provider routing and middleware.
// ABOUTME: Provides NewClient with functional options, middleware chain execution, and environment-based construction.

package llm

import (
	"context"
	"fmt"
	"os"
)

// Middleware is a function that wraps a blocking LLM call, enabling
// request/response transformation, logging, caching, and other cross-cutting
// concerns. Middleware executes in registration order for requests and reverse
// order for responses (onion/chain-of-responsibility pattern).
type Middleware func(ctx context.Context, req Request, next NextFunc) (*Response, error)

// NextFunc is the function signature passed to middleware to continue the chain.
type NextFunc func(ctx context.Context, req Request) (*Response, error)

// StreamMiddleware wraps a streaming LLM call. It may transform the request
// before calling next and may wrap the returned event channel.
type StreamMiddleware func(ctx context.Context, req Request, next StreamNextFunc) (<-chan StreamEvent, error)

// StreamNextFunc is the continuation signature for stream middleware.
type StreamNextFunc func(ctx context.Context, req Request) (<-chan StreamEvent, error)

// middlewareEntry holds one registered middleware. A blocking middleware is
// lifted into the stream chain as a pass-through, and vice versa, so that the
// registration order is preserved across both call paths.
type middlewareEntry struct {
	complete Middleware
	stream   StreamMiddleware
}

// Client is the primary entry point for making LLM API calls. It manages
// provider adapters, routes requests to the correct provider, and applies
// the middleware chain.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	chain           []middlewareEntry
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithProvider registers a ProviderAdapter under the given name. If this is
// the first provider registered and no default has been set, it becomes the
// default provider.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
		if c.defaultProvider == "" {
			c.defaultProvider = name
		}
	}
}

// WithDefaultProvider sets the name of the provider used when a Request does
// not specify a Provider field.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware appends one or more blocking middleware functions to the
// client's chain. On the streaming path they act as pass-throughs.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		for _, m := range mw {
			c.chain = append(c.chain, middlewareEntry{complete: m})
		}
	}
}

// WithStreamMiddleware appends one or more stream middleware functions to the
// client's chain. On the blocking path they act as pass-throughs.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		for _, m := range mw {
			c.chain = append(c.chain, middlewareEntry{stream: m})
		}
	}
}

// NewClient creates a new Client with the given options applied.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromEnv creates a Client by detecting API keys in the environment and
// instantiating real adapters for every provider whose credentials are
// present. Checked variables:
//
//	OPENAI_API_KEY    (+ OPENAI_BASE_URL, OPENAI_ORG_ID, OPENAI_PROJECT_ID)
//	ANTHROPIC_API_KEY (+ ANTHROPIC_BASE_URL)
//	GEMINI_API_KEY or GOOGLE_API_KEY (+ GEMINI_BASE_URL)
//	OPENAI_COMPAT_API_KEY + OPENAI_COMPAT_BASE_URL (+ OPENAI_COMPAT_MODEL)
//
// The compat pair registers an "openai-compat" provider speaking Chat
// Completions against the given base URL (Cerebras, OpenRouter, and other
// OpenAI-compatible gateways). The first detected provider (in the order
// above) becomes the default. Returns a ConfigurationError if no keys are
// found.
func FromEnv() (*Client, error) {
	var opts []ClientOption

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		var aOpts []OpenAIOption
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			aOpts = append(aOpts, WithOpenAIBaseURL(base))
		}
		if org := os.Getenv("OPENAI_ORG_ID"); org != "" {
			aOpts = append(aOpts, WithOpenAIOrganization(org))
		}
		if project := os.Getenv("OPENAI_PROJECT_ID"); project != "" {
			aOpts = append(aOpts, WithOpenAIProject(project))
		}
		opts = append(opts, WithProvider("openai", NewOpenAIAdapter(key, aOpts...)))
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		var aOpts []AnthropicOption
		if base := os.Getenv("ANTHROPIC_BASE_URL"); base != "" {
			aOpts = append(aOpts, WithAnthropicBaseURL(base))
		}
		opts = append(opts, WithProvider("anthropic", NewAnthropicAdapter(key, aOpts...)))
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		geminiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if geminiKey != "" {
		var aOpts []GeminiOption
		if base := os.Getenv("GEMINI_BASE_URL"); base != "" {
			aOpts = append(aOpts, WithGeminiBaseURL(base))
		}
		opts = append(opts, WithProvider("gemini", NewGeminiAdapter(geminiKey, aOpts...)))
	}

	compatKey := os.Getenv("OPENAI_COMPAT_API_KEY")
	compatBase := os.Getenv("OPENAI_COMPAT_BASE_URL")
	if compatKey != "" && compatBase != "" {
		compat := NewOpenAICompatClient(compatKey, os.Getenv("OPENAI_COMPAT_MODEL"), compatBase)
		opts = append(opts, WithProvider("openai-compat", NewMuxAdapter("openai-compat", compat)))
	}

	if len(opts) == 0 {
		return nil, &ConfigurationError{
			SDKError: SDKError{
				Message: "no API keys found in environment (checked OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, GOOGLE_API_KEY, OPENAI_COMPAT_API_KEY)",
			},
		}
	}

	return NewClient(opts...), nil
}

// Providers returns the names of all registered provider adapters.
func (c *Client) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	return names
}

// DefaultProvider returns the name of the provider used when a request does
// not specify one.
func (c *Client) DefaultProvider() string {
	return c.defaultProvider
}

// resolveProvider determines which ProviderAdapter should handle the request.
// It uses the request's Provider field if set, otherwise falls back to the
// client's default provider. Returns a ConfigurationError if no provider is found.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{
			SDKError: SDKError{
				Message: "no provider specified and no default provider configured",
			},
		}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{
			SDKError: SDKError{
				Message: fmt.Sprintf("provider %q not registered", name),
			},
		}
	}
	return adapter, nil
}

// Complete sends a completion request through the blocking middleware chain and
// then to the appropriate provider adapter. It routes based on req.Provider or
// the default provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	// Innermost handler resolves the provider and calls Complete.
	handler := func(ctx context.Context, req Request) (*Response, error) {
		adapter, err := c.resolveProvider(req)
		if err != nil {
			return nil, err
		}
		return adapter.Complete(ctx, req)
	}

	// Wrap with middleware in reverse order so the first middleware registered
	// is the outermost layer (executed first on the way in, last on the way out).
	// Stream-only entries pass through on this path.
	chain := handler
	for i := len(c.chain) - 1; i >= 0; i-- {
		mw := c.chain[i].complete
		if mw == nil {
			continue
		}
		next := chain
		chain = func(ctx context.Context, req Request) (*Response, error) {
			return mw(ctx, req, next)
		}
	}

	return chain(ctx, req)
}

// Stream sends a streaming request through the stream middleware chain and then
// to the appropriate provider adapter. Blocking-only middleware entries pass
// through on this path.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	handler := func(ctx context.Context, req Request) (<-chan StreamEvent, error) {
		adapter, err := c.resolveProvider(req)
		if err != nil {
			return nil, err
		}
		return adapter.Stream(ctx, req)
	}

	chain := handler
	for i := len(c.chain) - 1; i >= 0; i-- {
		mw := c.chain[i].stream
		if mw == nil {
			continue
		}
		next := chain
		chain = func(ctx context.Context, req Request) (<-chan StreamEvent, error) {
			return mw(ctx, req, next)
		}
	}

	return chain(ctx, req)
}

// Close shuts down all registered provider adapters. Errors from individual
// adapters are collected and returned as a combined error.
func (c *Client) Close() error {
	var errs []error
	for name, adapter := range c.providers {
		if err := adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing provider %q: %w", name, err))
		}
	}
	if len(errs) > 0 {
		combined := errs[0]
		for _, e := range errs[1:] {
			combined = fmt.Errorf("%w; %v", combined, e)
		}
		return combined
	}
	return nil
}

// RegisterProvider adds or replaces a provider adapter on the client.
// If no default provider is set, the newly registered provider becomes the default.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}
