package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrelvoice/kestrel/pkg/core"
	"github.com/kestrelvoice/kestrel/pkg/core/types"
)

// Simulator drives a fixed-turn-count dialogue between the agent's
// instruction script and a synthesized personality.
type Simulator struct {
	provider    core.Provider
	agentModel  string
	debtorModel string
	logger      *slog.Logger
}

// NewSimulator creates a Simulator.
func NewSimulator(provider core.Provider, agentModel, debtorModel string, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		provider:    provider,
		agentModel:  agentModel,
		debtorModel: debtorModel,
		logger:      logger,
	}
}

// Simulate runs maxTurns agent/debtor pairs against the personality. The
// transcript opens with the personality's starting line, then strictly
// alternates agent and debtor turns; each turn's prompt depends on all
// prior turns, so turns are sequential by construction. The returned
// transcript has exactly 2*maxTurns+1 entries. Any provider fault aborts
// the simulation.
func (s *Simulator) Simulate(ctx context.Context, agentScript string, personality *PersonalityProfile, maxTurns int) (Transcript, error) {
	if maxTurns < 1 {
		return nil, fmt.Errorf("simulate: max turns must be >= 1, got %d", maxTurns)
	}
	if personality == nil {
		return nil, fmt.Errorf("simulate: personality is required")
	}

	s.logger.Info("starting chat simulation", "max_turns", maxTurns)

	transcript := Transcript{{Role: RoleDebtor, Content: personality.StartingLine}}

	for turn := 0; turn < maxTurns; turn++ {
		agentLine, err := s.agentTurn(ctx, agentScript, transcript)
		if err != nil {
			return nil, fmt.Errorf("agent turn %d: %w", turn+1, err)
		}
		transcript = append(transcript, Entry{Role: RoleAgent, Content: agentLine})

		debtorLine, err := s.debtorTurn(ctx, personality, transcript)
		if err != nil {
			return nil, fmt.Errorf("debtor turn %d: %w", turn+1, err)
		}
		transcript = append(transcript, Entry{Role: RoleDebtor, Content: debtorLine})
	}

	s.logger.Info("chat simulation finished", "entries", len(transcript))
	return transcript, nil
}

func (s *Simulator) agentTurn(ctx context.Context, agentScript string, transcript Transcript) (string, error) {
	resp, err := s.provider.CreateCompletion(ctx, &types.CompletionRequest{
		Model:    s.agentModel,
		System:   agentScript,
		Messages: transcript.Messages(),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (s *Simulator) debtorTurn(ctx context.Context, personality *PersonalityProfile, transcript Transcript) (string, error) {
	resp, err := s.provider.CreateCompletion(ctx, &types.CompletionRequest{
		Model:    s.debtorModel,
		System:   rolePlayPrompt(personality),
		Messages: transcript.Messages(),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// rolePlayPrompt frames the debtor turn around the personality.
func rolePlayPrompt(personality *PersonalityProfile) string {
	return fmt.Sprintf(`You are role-playing as the following person:
%s

Based on this personality, what is your next response in the conversation?
Keep your response short and realistic.`, personality.Raw)
}
