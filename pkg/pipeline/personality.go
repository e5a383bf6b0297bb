package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kestrelvoice/kestrel/pkg/core"
	"github.com/kestrelvoice/kestrel/pkg/core/types"
)

// personalityPrompt asks for one synthetic debtor profile as JSON.
const personalityPrompt = `Create a brief, realistic personality profile for a credit card defaulter.
Include the following details:
- Name
- Age
- Occupation
- A short background explaining why they defaulted (e.g., job loss, medical emergency).
- Their current financial situation (e.g., struggling, looking for work).
- Their attitude towards the debt (e.g., cooperative, evasive, anxious).
- A starting line for the conversation (what they would say when they pick up the phone).

Present the output as a JSON object. Use the key "starting_line" for the starting line.`

// defaultStartingLine is used when a parsed profile has no starting line.
const defaultStartingLine = "Hello?"

// PersonalityProfile is a synthetic-debtor description. The structured
// keys are free-form apart from starting_line; the raw JSON is retained
// and drives the role-play framing during simulation. Read-only after
// generation.
type PersonalityProfile struct {
	StartingLine string
	Fields       map[string]any
	Raw          string
}

// MalformedProfileError reports personality output that is not a
// well-formed JSON object. The raw model text is preserved; callers must
// treat synthesis as fallible rather than defaulting.
type MalformedProfileError struct {
	Raw string
	Err error
}

func (e *MalformedProfileError) Error() string {
	return fmt.Sprintf("malformed personality profile: %v", e.Err)
}

func (e *MalformedProfileError) Unwrap() error { return e.Err }

// Synthesizer generates debtor personalities through the turn provider.
type Synthesizer struct {
	provider core.Provider
	model    string
	logger   *slog.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(provider core.Provider, model string, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{provider: provider, model: model, logger: logger}
}

// Generate produces a single, random debtor personality.
func (s *Synthesizer) Generate(ctx context.Context) (*PersonalityProfile, error) {
	s.logger.Info("generating a new debtor personality")

	resp, err := s.provider.CreateCompletion(ctx, &types.CompletionRequest{
		Model:          s.model,
		System:         personalityPrompt,
		Messages:       []types.Message{types.NewUserMessage("Generate the profile now.")},
		ResponseFormat: types.JSONResponseFormat(),
	})
	if err != nil {
		return nil, fmt.Errorf("personality generation: %w", err)
	}

	profile, err := ParsePersonality(resp.Text)
	if err != nil {
		return nil, err
	}
	s.logger.Info("generated personality", "starting_line", profile.StartingLine)
	return profile, nil
}

// ParsePersonality validates and decodes a personality payload.
func ParsePersonality(raw string) (*PersonalityProfile, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, &MalformedProfileError{Raw: raw, Err: err}
	}

	startingLine := defaultStartingLine
	if v, ok := fields["starting_line"].(string); ok && v != "" {
		startingLine = v
	}

	return &PersonalityProfile{
		StartingLine: startingLine,
		Fields:       fields,
		Raw:          raw,
	}, nil
}
