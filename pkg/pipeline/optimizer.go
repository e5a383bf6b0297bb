package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kestrelvoice/kestrel/pkg/core"
	"github.com/kestrelvoice/kestrel/pkg/core/types"
)

// Scores holds both behavioral metrics, each in [1,10].
type Scores struct {
	NegotiationEffectiveness int `json:"negotiation_effectiveness"`
	ResponseRelevance        int `json:"response_relevance"`
}

// Suggestion is one proposed script change with its rationale.
type Suggestion struct {
	Suggestion string `json:"suggestion"`
	Reason     string `json:"reason"`
}

// OptimizationReport is the terminal artifact of one batch: current
// scores, ranked suggestions, and projected post-change scores.
type OptimizationReport struct {
	CurrentScores                  Scores       `json:"current_scores"`
	Suggestions                    []Suggestion `json:"suggestions"`
	ExpectedScoresAfterImprovement Scores       `json:"expected_scores_after_improvement"`
}

// MalformedReportError reports optimizer output that does not match the
// required shape. The raw model text is preserved so callers can present
// it instead of fabricating scores.
type MalformedReportError struct {
	Raw string
	Err error
}

func (e *MalformedReportError) Error() string {
	return fmt.Sprintf("malformed optimization report: %v", e.Err)
}

func (e *MalformedReportError) Unwrap() error { return e.Err }

// Optimizer scores an agent script against a batch of transcripts and
// proposes revisions. Scoring itself is delegated to the model; this
// component owns the prompt and the shape of the result.
type Optimizer struct {
	provider core.Provider
	model    string
	logger   *slog.Logger
}

// NewOptimizer creates an Optimizer.
func NewOptimizer(provider core.Provider, model string, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{provider: provider, model: model, logger: logger}
}

// Optimize analyzes a batch of transcripts and returns the scored report.
func (o *Optimizer) Optimize(ctx context.Context, originalScript string, transcripts []Transcript) (*OptimizationReport, error) {
	if len(transcripts) == 0 {
		return nil, fmt.Errorf("optimize: at least one transcript is required")
	}
	o.logger.Info("optimizing agent script", "transcripts", len(transcripts))

	resp, err := o.provider.CreateCompletion(ctx, &types.CompletionRequest{
		Model:          o.model,
		System:         optimizerPrompt(originalScript, FormatAll(transcripts)),
		Messages:       []types.Message{types.NewUserMessage("Analyze the conversations and return the JSON report.")},
		ResponseFormat: types.JSONResponseFormat(),
		MaxTokens:      2048,
	})
	if err != nil {
		return nil, fmt.Errorf("script optimization: %w", err)
	}

	report, err := ParseReport(resp.Text)
	if err != nil {
		return nil, err
	}
	o.logger.Info("script optimization complete",
		"negotiation_effectiveness", report.CurrentScores.NegotiationEffectiveness,
		"response_relevance", report.CurrentScores.ResponseRelevance,
		"suggestions", len(report.Suggestions))
	return report, nil
}

// ParseReport validates and decodes an optimization report payload. All
// three top-level fields must be present and every score must be an
// integer in [1,10]; a report that scores below 10 on any metric must
// also carry at least one suggestion. A partial result is never
// silently accepted.
func ParseReport(raw string) (*OptimizationReport, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, &MalformedReportError{Raw: raw, Err: err}
	}
	for _, field := range []string{"current_scores", "suggestions", "expected_scores_after_improvement"} {
		if _, ok := envelope[field]; !ok {
			return nil, &MalformedReportError{Raw: raw, Err: fmt.Errorf("missing field %q", field)}
		}
	}

	var report OptimizationReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, &MalformedReportError{Raw: raw, Err: err}
	}

	for name, scores := range map[string]Scores{
		"current_scores":                    report.CurrentScores,
		"expected_scores_after_improvement": report.ExpectedScoresAfterImprovement,
	} {
		if err := validateScores(scores); err != nil {
			return nil, &MalformedReportError{Raw: raw, Err: fmt.Errorf("%s: %w", name, err)}
		}
	}

	// Imperfect scores without any suggestion mean the model skipped the
	// task; only a perfect report may be suggestion-free.
	if len(report.Suggestions) == 0 &&
		(report.CurrentScores.NegotiationEffectiveness < 10 || report.CurrentScores.ResponseRelevance < 10) {
		return nil, &MalformedReportError{Raw: raw, Err: fmt.Errorf("no suggestions despite imperfect scores")}
	}
	return &report, nil
}

func validateScores(s Scores) error {
	if s.NegotiationEffectiveness < 1 || s.NegotiationEffectiveness > 10 {
		return fmt.Errorf("negotiation_effectiveness %d out of range [1,10]", s.NegotiationEffectiveness)
	}
	if s.ResponseRelevance < 1 || s.ResponseRelevance > 10 {
		return fmt.Errorf("response_relevance %d out of range [1,10]", s.ResponseRelevance)
	}
	return nil
}

func optimizerPrompt(originalScript, formattedLogs string) string {
	return fmt.Sprintf(`You are an expert in conversational AI and prompt engineering.
Your task is to analyze a series of conversations and suggest improvements to an agent's instruction script.

Here is the agent's original script:
-------------------
%s
-------------------

Here are the logs of the conversations the agent had:
-------------------
%s
-------------------

Based on these conversations, please perform the following actions:

1. Rate the agent's performance on the following metrics, on a scale of 1 to 10:
   - negotiation_effectiveness: How well did the agent attempt to negotiate payment plans or settlements?
   - response_relevance: How relevant were the agent's responses to the user's queries?

2. Provide actionable suggestions for what to add or change in the original script to improve these scores.

3. Estimate the impact of your suggestions by providing the expected score for each metric after the changes are applied.

Return your response as a JSON object with the following structure:
{
    "current_scores": {
        "negotiation_effectiveness": <current_score>,
        "response_relevance": <current_score>
    },
    "suggestions": [
        {
            "suggestion": "<Your suggestion for what to add or change>",
            "reason": "<Brief reason for the suggestion>"
        }
    ],
    "expected_scores_after_improvement": {
        "negotiation_effectiveness": <expected_score>,
        "response_relevance": <expected_score>
    }
}`, originalScript, formattedLogs)
}
