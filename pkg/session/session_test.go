package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelvoice/kestrel/pkg/core"
	"github.com/kestrelvoice/kestrel/pkg/core/types"
)

type fakeSpeaker struct {
	mu   sync.Mutex
	said []string
}

func (s *fakeSpeaker) Say(_ context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)
	return fmt.Sprintf("u%d", len(s.said)), nil
}

func (s *fakeSpeaker) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

type stubProvider struct {
	mu      sync.Mutex
	respond func(req *types.CompletionRequest) (*types.CompletionResponse, error)
	calls   []*types.CompletionRequest
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) CreateCompletion(_ context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	return p.respond(req)
}

func newTestSession(t *testing.T, provider core.Provider, speaker Speaker, extra func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		Provider:  provider,
		Model:     "test-model",
		System:    "You are a collections agent.",
		Speaker:   speaker,
		RetryBase: time.Millisecond,
	}
	if extra != nil {
		extra(&cfg)
	}
	sess, err := New(cfg)
	require.NoError(t, err)
	return sess
}

func TestNew_RequiredFields(t *testing.T) {
	speaker := &fakeSpeaker{}
	provider := &stubProvider{}

	_, err := New(Config{Model: "m", Speaker: speaker})
	assert.Error(t, err)
	_, err = New(Config{Provider: provider, Speaker: speaker})
	assert.Error(t, err)
	_, err = New(Config{Provider: provider, Model: "m"})
	assert.Error(t, err)
}

func TestHandleUserTurn_CommitsAndSpeaks(t *testing.T) {
	provider := &stubProvider{
		respond: func(req *types.CompletionRequest) (*types.CompletionResponse, error) {
			return &types.CompletionResponse{Text: "I understand.", StopReason: types.StopReasonEndTurn}, nil
		},
	}
	speaker := &fakeSpeaker{}
	sess := newTestSession(t, provider, speaker, nil)

	require.NoError(t, sess.HandleUserTurn(context.Background(), "I lost my job."))

	assert.Equal(t, []string{"I understand."}, speaker.lines())
	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, types.Message{Role: types.RoleUser, Content: "I lost my job."}, history[0])
	assert.Equal(t, types.Message{Role: types.RoleAssistant, Content: "I understand."}, history[1])
}

func TestGenerateReply_CarriesDirective(t *testing.T) {
	provider := &stubProvider{
		respond: func(req *types.CompletionRequest) (*types.CompletionResponse, error) {
			return &types.CompletionResponse{Text: "Hello, this is Alex."}, nil
		},
	}
	speaker := &fakeSpeaker{}
	sess := newTestSession(t, provider, speaker, nil)

	require.NoError(t, sess.GenerateReply(context.Background(), "Greet the customer warmly."))

	require.Len(t, provider.calls, 1)
	system := provider.calls[0].System
	assert.Contains(t, system, "You are a collections agent.")
	assert.Contains(t, system, "CURRENT DIRECTIVE")
	assert.Contains(t, system, "Greet the customer warmly.")
	assert.Equal(t, []string{"Hello, this is Alex."}, speaker.lines())
}

func TestRunTurn_RetriesTransientFaults(t *testing.T) {
	attempts := 0
	provider := &stubProvider{
		respond: func(req *types.CompletionRequest) (*types.CompletionResponse, error) {
			attempts++
			if attempts < 3 {
				return nil, core.NewOverloadedError("try later")
			}
			return &types.CompletionResponse{Text: "Recovered."}, nil
		},
	}
	speaker := &fakeSpeaker{}
	sess := newTestSession(t, provider, speaker, nil)

	require.NoError(t, sess.HandleUserTurn(context.Background(), "hello?"))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []string{"Recovered."}, speaker.lines())
}

func TestRunTurn_SwallowsExhaustedFault(t *testing.T) {
	provider := &stubProvider{
		respond: func(req *types.CompletionRequest) (*types.CompletionResponse, error) {
			return nil, core.NewAuthenticationError("bad key")
		},
	}
	speaker := &fakeSpeaker{}
	sess := newTestSession(t, provider, speaker, nil)

	// A dropped turn must not abort the call.
	require.NoError(t, sess.HandleUserTurn(context.Background(), "hello?"))
	assert.Empty(t, speaker.lines())

	// The caller's words stay committed even when no reply came.
	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, types.RoleUser, history[0].Role)
}

type confirmable struct{ text string }

func (c confirmable) SpokenConfirmation() string { return c.text }

func TestDispatchTool_ConfirmsSpokenResult(t *testing.T) {
	step := 0
	provider := &stubProvider{
		respond: func(req *types.CompletionRequest) (*types.CompletionResponse, error) {
			step++
			if step == 1 {
				return &types.CompletionResponse{
					StopReason: types.StopReasonToolUse,
					ToolCalls: []types.ToolCall{
						{ID: "c1", Name: "book", Input: json.RawMessage(`{"x":1}`)},
					},
				}, nil
			}
			return &types.CompletionResponse{Text: "All set, your plan is active."}, nil
		},
	}
	speaker := &fakeSpeaker{}

	var handled json.RawMessage
	var observed []string
	sess := newTestSession(t, provider, speaker, func(cfg *Config) {
		cfg.Handlers = map[string]ToolHandler{
			"book": func(_ context.Context, input json.RawMessage) (any, error) {
				handled = input
				return confirmable{text: "Plan approved"}, nil
			},
		}
		cfg.OnToolCall = func(name string, _ json.RawMessage, _ any, err error) {
			observed = append(observed, name)
			assert.NoError(t, err)
		}
	})

	require.NoError(t, sess.HandleUserTurn(context.Background(), "set it up"))

	assert.JSONEq(t, `{"x":1}`, string(handled))
	assert.Equal(t, []string{"book"}, observed)
	assert.Equal(t, []string{"All set, your plan is active."}, speaker.lines())

	// The confirmation request forbids further tool use.
	require.Len(t, provider.calls, 2)
	confirm := provider.calls[1]
	require.NotNil(t, confirm.ToolChoice)
	assert.Equal(t, "none", confirm.ToolChoice.Type)
	assert.Empty(t, confirm.Tools)
	assert.Contains(t, confirm.System, "Plan approved")
}

func TestDispatchTool_FallsBackToRawOutcome(t *testing.T) {
	step := 0
	provider := &stubProvider{
		respond: func(req *types.CompletionRequest) (*types.CompletionResponse, error) {
			step++
			if step == 1 {
				return &types.CompletionResponse{
					StopReason: types.StopReasonToolUse,
					ToolCalls:  []types.ToolCall{{ID: "c1", Name: "book", Input: json.RawMessage(`{}`)}},
				}, nil
			}
			return nil, core.NewAuthenticationError("bad key")
		},
	}
	speaker := &fakeSpeaker{}
	sess := newTestSession(t, provider, speaker, func(cfg *Config) {
		cfg.Handlers = map[string]ToolHandler{
			"book": func(_ context.Context, _ json.RawMessage) (any, error) {
				return confirmable{text: "Callback scheduled for Friday"}, nil
			},
		}
	})

	require.NoError(t, sess.HandleUserTurn(context.Background(), "call me back"))
	assert.Equal(t, []string{"Callback scheduled for Friday"}, speaker.lines())
}

func TestDispatchTool_UnknownToolRefused(t *testing.T) {
	provider := &stubProvider{
		respond: func(req *types.CompletionRequest) (*types.CompletionResponse, error) {
			return &types.CompletionResponse{
				StopReason: types.StopReasonToolUse,
				ToolCalls:  []types.ToolCall{{ID: "c1", Name: "wire_funds", Input: json.RawMessage(`{}`)}},
			}, nil
		},
	}
	speaker := &fakeSpeaker{}
	toolCalls := 0
	sess := newTestSession(t, provider, speaker, func(cfg *Config) {
		cfg.Handlers = map[string]ToolHandler{}
		cfg.OnToolCall = func(string, json.RawMessage, any, error) { toolCalls++ }
	})

	require.NoError(t, sess.HandleUserTurn(context.Background(), "hm"))
	assert.Zero(t, toolCalls, "an unknown tool must never reach dispatch")
	assert.Empty(t, speaker.lines())
}

func TestWaitForPlayout(t *testing.T) {
	provider := &stubProvider{
		respond: func(req *types.CompletionRequest) (*types.CompletionResponse, error) {
			return &types.CompletionResponse{Text: "Goodbye."}, nil
		},
	}
	speaker := &fakeSpeaker{}
	sess := newTestSession(t, provider, speaker, nil)

	// Nothing outstanding: returns immediately.
	require.NoError(t, sess.WaitForPlayout(context.Background()))

	require.NoError(t, sess.GenerateReply(context.Background(), ""))

	// One utterance in flight: the wait must block until it drains.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, sess.WaitForPlayout(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		sess.MarkPlayedOut("u1")
	}()
	require.NoError(t, sess.WaitForPlayout(context.Background()))

	// Stale or duplicate playout ids are ignored.
	sess.MarkPlayedOut("u1")
	sess.MarkPlayedOut("never-issued")
}
