// Package openai implements the turn provider over the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"net/http"

	"github.com/kestrelvoice/kestrel/pkg/core/types"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMaxTokens is the default max tokens if not specified.
	DefaultMaxTokens = 1024

	chatCompletionsPath = "/chat/completions"
)

// Provider implements core.Provider against the Chat Completions API.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// CreateCompletion sends a non-streaming request to OpenAI.
func (p *Provider) CreateCompletion(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	openaiReq := p.buildRequest(req)

	respBody, err := p.doRequest(ctx, openaiReq)
	if err != nil {
		return nil, err
	}

	return p.parseResponse(respBody)
}
