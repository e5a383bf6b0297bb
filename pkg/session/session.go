// Package session implements the turn-taking runtime for a live call: it
// holds the role-tagged history, requests completions from the turn
// provider, dispatches tool calls, and submits agent speech for playout.
// One session serves one call; a single active turn at a time.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/kestrelvoice/kestrel/pkg/core"
	"github.com/kestrelvoice/kestrel/pkg/core/types"
)

// ToolHandler executes one named capability and returns its result.
type ToolHandler func(ctx context.Context, input json.RawMessage) (any, error)

// Speaker plays agent speech to the remote party. Satisfied by
// telephony.Room.
type Speaker interface {
	Say(ctx context.Context, text string) (string, error)
}

// SpokenResult is implemented by tool results that the agent should
// confirm out loud after the tool runs.
type SpokenResult interface {
	SpokenConfirmation() string
}

// Config configures a Session.
type Config struct {
	Provider    core.Provider
	Model       string
	System      string
	Speaker     Speaker
	Tools       []types.Tool
	Handlers    map[string]ToolHandler
	Logger      *slog.Logger
	MaxRetries  uint64        // transient provider fault retries per turn
	RetryBase   time.Duration // initial backoff
	Temperature *float64

	// OnMessage observes committed history entries. Must not block.
	OnMessage func(role, content string)
	// OnToolCall observes tool dispatches. Must not block.
	OnToolCall func(name string, input json.RawMessage, result any, err error)
}

// Session is the per-call turn runtime.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	history []types.Message

	playMu      sync.Mutex
	outstanding map[string]struct{}
	playoutDone chan struct{} // replaced each time the outstanding set drains
}

// New creates a session. Config.Provider, Config.Model and Config.Speaker
// are required.
func New(cfg Config) (*Session, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("session: provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("session: model is required")
	}
	if cfg.Speaker == nil {
		return nil, fmt.Errorf("session: speaker is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	done := make(chan struct{})
	close(done)
	return &Session{
		cfg:         cfg,
		logger:      cfg.Logger,
		outstanding: make(map[string]struct{}),
		playoutDone: done,
	}, nil
}

// History returns a copy of the committed conversation history.
func (s *Session) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// GenerateReply produces and speaks an agent utterance directed by extra
// instructions (greeting, silent-call re-prompt). Tool use stays enabled
// so a nudge can still end the call.
func (s *Session) GenerateReply(ctx context.Context, instructions string) error {
	system := s.cfg.System
	if instructions != "" {
		system = system + "\n\nCURRENT DIRECTIVE:\n" + instructions
	}
	return s.runTurn(ctx, system, nil)
}

// HandleUserTurn commits a transcribed caller utterance and produces the
// agent's response, dispatching any tool calls the model requests.
func (s *Session) HandleUserTurn(ctx context.Context, transcript string) error {
	s.commit(types.NewUserMessage(transcript))
	return s.runTurn(ctx, s.cfg.System, nil)
}

// runTurn requests one completion and acts on it. A transient provider
// fault is retried, then logged and swallowed: a single missed turn must
// not abort an in-progress negotiation.
func (s *Session) runTurn(ctx context.Context, system string, toolChoice *types.ToolChoice) error {
	resp, err := s.complete(ctx, system, s.cfg.Tools, toolChoice)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error("turn generation failed, continuing call", "error", err)
		return nil
	}

	if resp.Text != "" {
		if err := s.speak(ctx, resp.Text); err != nil {
			return err
		}
	}

	// Tool calls are executed sequentially; the session enforces a
	// single active turn, so no two invocations ever overlap.
	for _, call := range resp.ToolCalls {
		s.dispatchTool(ctx, call)
	}
	return nil
}

func (s *Session) complete(ctx context.Context, system string, tools []types.Tool, toolChoice *types.ToolChoice) (*types.CompletionResponse, error) {
	req := &types.CompletionRequest{
		Model:       s.cfg.Model,
		System:      system,
		Messages:    s.History(),
		Tools:       tools,
		ToolChoice:  toolChoice,
		Temperature: s.cfg.Temperature,
	}

	var resp *types.CompletionResponse
	backoff := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(s.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var cerr error
		resp, cerr = s.cfg.Provider.CreateCompletion(ctx, req)
		if cerr != nil && core.IsRetryable(cerr) {
			return retry.RetryableError(cerr)
		}
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Session) dispatchTool(ctx context.Context, call types.ToolCall) {
	handler, ok := s.cfg.Handlers[call.Name]
	if !ok {
		// The tool set is a closed enumeration; anything else is refused.
		s.logger.Warn("model requested unknown tool", "tool", call.Name)
		return
	}

	result, err := handler(ctx, call.Input)
	if s.cfg.OnToolCall != nil {
		s.cfg.OnToolCall(call.Name, call.Input, result, err)
	}
	if err != nil {
		s.logger.Error("tool failed", "tool", call.Name, "error", err)
		return
	}

	if spoken, ok := result.(SpokenResult); ok {
		s.confirmResult(ctx, spoken.SpokenConfirmation())
	}
}

// confirmResult phrases a tool outcome back to the caller.
func (s *Session) confirmResult(ctx context.Context, outcome string) {
	if outcome == "" {
		return
	}
	system := s.cfg.System + "\n\nCURRENT DIRECTIVE:\nThe following just happened: " +
		outcome + "\nConfirm it to the customer in one short spoken sentence."
	resp, err := s.complete(ctx, system, nil, types.ToolChoiceNone())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Fall back to the raw outcome text rather than dropping it.
		s.logger.Error("confirmation phrasing failed", "error", err)
		_ = s.speak(ctx, outcome)
		return
	}
	if resp.Text != "" {
		_ = s.speak(ctx, resp.Text)
	}
}

// speak submits text for playout and commits it to history.
func (s *Session) speak(ctx context.Context, text string) error {
	id, err := s.cfg.Speaker.Say(ctx, text)
	if err != nil {
		return fmt.Errorf("submit speech: %w", err)
	}
	s.trackPlayout(id)
	s.commit(types.NewAssistantMessage(text))
	return nil
}

func (s *Session) commit(msg types.Message) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.mu.Unlock()
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg.Role, msg.Content)
	}
}

func (s *Session) trackPlayout(utteranceID string) {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if len(s.outstanding) == 0 {
		s.playoutDone = make(chan struct{})
	}
	s.outstanding[utteranceID] = struct{}{}
}

// MarkPlayedOut records a playout_done event for a submitted utterance.
func (s *Session) MarkPlayedOut(utteranceID string) {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if _, ok := s.outstanding[utteranceID]; !ok {
		return
	}
	delete(s.outstanding, utteranceID)
	if len(s.outstanding) == 0 {
		close(s.playoutDone)
	}
}

// WaitForPlayout blocks until all in-flight speech has finished playing
// out, or ctx expires. Used by end_call so the agent finishes its goodbye
// before teardown.
func (s *Session) WaitForPlayout(ctx context.Context) error {
	s.playMu.Lock()
	done := s.playoutDone
	s.playMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
