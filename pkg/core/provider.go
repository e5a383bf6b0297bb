// Package core defines the turn-provider abstraction shared by the live
// call agent and the simulation pipeline.
package core

import (
	"context"

	"github.com/kestrelvoice/kestrel/pkg/core/types"
)

// Provider is the interface a conversational-completion backend must
// implement. Given a role-tagged message history it returns the next
// utterance, possibly with tool invocations.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai").
	Name() string

	// CreateCompletion sends a non-streaming completion request.
	CreateCompletion(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error)
}
