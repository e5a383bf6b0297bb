package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kestrelvoice/kestrel/pkg/config"
	"github.com/kestrelvoice/kestrel/pkg/core"
	"github.com/kestrelvoice/kestrel/pkg/core/types"
	"github.com/kestrelvoice/kestrel/pkg/session"
	"github.com/kestrelvoice/kestrel/pkg/telephony"
)

// Controller owns the lifecycle of a single outbound call: dial, connect,
// verify identity, negotiate, resolve, terminate. One Controller instance
// per call job; no state is shared across calls.
type Controller struct {
	cfg      config.Config
	platform telephony.Platform
	provider core.Provider
	obs      Observer
	logger   *slog.Logger
}

// NewController creates a controller. obs may be nil.
func NewController(cfg config.Config, platform telephony.Platform, provider core.Provider, obs Observer, logger *slog.Logger) *Controller {
	if obs == nil {
		obs = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, platform: platform, provider: provider, obs: obs, logger: logger}
}

// Run executes one call job to completion. The job payload is the inbound
// metadata described in the external interface: phone_number required,
// everything else defaulted.
func (c *Controller) Run(ctx context.Context, jobMetadata []byte) error {
	cc, err := ParseJobMetadata(jobMetadata)
	if err != nil {
		return err
	}

	roomName := "call-" + uuid.NewString()
	logger := c.logger.With("room", roomName, "phone_number", cc.PhoneNumber)
	logger.Info("job received", "customer", cc.CustomerName)

	machine := NewStateMachine(roomName, c.obs)

	// The whole call runs under a hard duration budget; when it elapses
	// the context cancels and the call is torn down.
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.MaxCallDuration)
	defer cancel()

	// Session start is issued and awaited before the dial request so the
	// gateway is fully listening when the remote party picks up. Losing
	// this ordering risks missing the first seconds of caller speech.
	room, err := c.platform.Connect(callCtx, roomName)
	if err != nil {
		_ = machine.TransitionTo(StateTerminated)
		c.obs.CallEnded(roomName, "session_failed")
		logger.Error("session setup failed", "error", err)
		return fmt.Errorf("session setup: %w", err)
	}
	defer room.Close()

	toolset := NewToolset(cc, machine, room, c.obs, logger)
	sess, err := session.New(session.Config{
		Provider: c.provider,
		Model:    c.cfg.AgentModel,
		System:   BuildScript(cc),
		Speaker:  room,
		Tools:    toolset.Definitions(),
		Handlers: toolset.Handlers(),
		Logger:   logger,
		OnMessage: func(role, content string) {
			c.obs.TranscriptItem(roomName, role, content)
		},
		OnToolCall: func(name string, input json.RawMessage, _ any, err error) {
			c.obs.ToolInvoked(roomName, name, input, err)
		},
	})
	if err != nil {
		_ = machine.TransitionTo(StateTerminated)
		return err
	}
	toolset.Bind(sess)

	// Playout receipts are handled off the turn loop: a tool handler
	// (end_call) blocks the loop in WaitForPlayout, and the receipts it
	// waits for arrive on the same event stream. The router marks them
	// as they land and forwards everything else to the loop.
	events := make(chan telephony.ServerMessage, eventBuffer)
	go routePlayout(callCtx, room.Events(), events, sess)

	if err := c.dial(callCtx, cc, room, machine, logger); err != nil {
		c.obs.CallEnded(roomName, "dial_failed")
		return err
	}

	// Remote party connected.
	if err := machine.TransitionTo(StateAwaitingHumanPickup); err != nil {
		return err
	}

	logger.Info("starting conversation with initial greeting")
	if err := sess.GenerateReply(callCtx, GreetingInstructions(cc)); err != nil {
		logger.Error("error sending initial greeting", "error", err)
	}
	// Greeting delivered; identity not yet confirmed.
	if err := machine.TransitionTo(StateIdentityUnverified); err != nil {
		return err
	}

	outcome := c.eventLoop(callCtx, cc, room, events, machine, sess, logger)
	c.obs.CallEnded(roomName, outcome)
	logger.Info("call finished", "outcome", outcome, "final_state", machine.State().String())
	return nil
}

// dial places the outbound call, blocking until answered or failed.
// Signaling failures are terminal for the job; the call is shut down
// cleanly and never retried.
func (c *Controller) dial(ctx context.Context, cc CallContext, room telephony.Room, machine *StateMachine, logger *slog.Logger) error {
	if err := machine.TransitionTo(StateRingingOrConnecting); err != nil {
		return err
	}

	logger.Info("dialing", "trunk_id", c.cfg.OutboundTrunkID)
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.AnswerTimeout)
	defer cancel()

	err := room.Dial(dialCtx, telephony.DialRequest{
		RoomName:            room.Name(),
		TrunkID:             c.cfg.OutboundTrunkID,
		CallTo:              cc.PhoneNumber,
		ParticipantIdentity: cc.ParticipantIdentity,
		WaitUntilAnswered:   true,
	})
	if err == nil {
		logger.Info("outbound call answered")
		return nil
	}

	var sigErr *telephony.SignalingError
	if errors.As(err, &sigErr) {
		logger.Error("error creating outbound participant",
			"message", sigErr.Message,
			"sip_status_code", sigErr.SIPStatusCode,
			"sip_status", sigErr.SIPStatus)
	} else {
		logger.Error("unexpected error placing call", "error", err)
	}
	_ = room.Hangup(ctx, "dial_failed")
	_ = machine.TransitionTo(StateTerminated)
	return fmt.Errorf("dial: %w", err)
}

// eventBuffer bounds the routed event stream feeding the turn loop.
const eventBuffer = 32

// routePlayout consumes raw gateway events, marking playout receipts on
// the session immediately and forwarding every other event to out. Runs
// until the gateway stream closes or ctx is cancelled.
func routePlayout(ctx context.Context, in <-chan telephony.ServerMessage, out chan<- telephony.ServerMessage, sess *session.Session) {
	defer close(out)
	for ev := range in {
		if pd, ok := ev.(telephony.PlayoutDone); ok {
			sess.MarkPlayedOut(pd.UtteranceID)
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// eventLoop consumes routed gateway events until the call terminates,
// driving state transitions and conversation turns. Returns the call
// outcome.
func (c *Controller) eventLoop(ctx context.Context, cc CallContext, room telephony.Room, events <-chan telephony.ServerMessage, machine *StateMachine, sess *session.Session, logger *slog.Logger) string {
	for {
		select {
		case <-ctx.Done():
			// Duration budget exhausted or operator cancellation.
			logger.Warn("call cancelled", "error", ctx.Err())
			hangupCtx := context.WithoutCancel(ctx)
			_ = room.Hangup(hangupCtx, "max_call_duration")
			_ = machine.TransitionTo(StateTerminated)
			return "cancelled"

		case ev, ok := <-events:
			if !ok {
				// Connection closed: expected after a teardown tool
				// ran, otherwise the session dropped on us.
				if machine.State() == StateTerminated {
					return "terminated"
				}
				_ = machine.TransitionTo(StateTerminated)
				return "disconnected"
			}

			switch msg := ev.(type) {
			case telephony.ParticipantJoined:
				logger.Info("participant joined", "identity", msg.Identity)

			case telephony.UserTranscript:
				if !msg.Final {
					continue
				}
				logger.Info("user speech committed", "transcript", msg.Text)
				if machine.State() == StateTerminated {
					continue
				}
				if machine.State() == StateIdentityUnverified && c.judgeIdentityConfirmed(ctx, cc, msg.Text) {
					if err := machine.TransitionTo(StateIdentityVerified); err == nil {
						// Identity confirmed always moves straight into negotiation.
						_ = machine.TransitionTo(StateNegotiating)
					}
				}
				if err := sess.HandleUserTurn(ctx, msg.Text); err != nil {
					logger.Error("turn handling failed", "error", err)
				}

			case telephony.Disconnected:
				logger.Info("remote party disconnected", "reason", msg.Reason)
				_ = machine.TransitionTo(StateConcluding)
				_ = machine.TransitionTo(StateTerminated)
				return "remote_hangup"

			case telephony.GatewayError:
				// Gateway faults are signaling faults: clean shutdown,
				// terminal for the job.
				logger.Error("gateway error", "code", msg.Code, "message", msg.Message)
				_ = room.Hangup(ctx, "gateway_error")
				_ = machine.TransitionTo(StateTerminated)
				return "gateway_error"
			}
		}

		if machine.State() == StateTerminated {
			return "terminated"
		}
	}
}

// judgeIdentityConfirmed asks the turn provider whether the caller's
// utterance affirmatively confirms their identity. Deliberately not a
// strict parser; a transient fault just leaves the call unverified until
// the next utterance.
func (c *Controller) judgeIdentityConfirmed(ctx context.Context, cc CallContext, utterance string) bool {
	req := &types.CompletionRequest{
		Model: c.cfg.AgentModel,
		System: fmt.Sprintf(
			"You verify identity on a phone call. The agent asked whether they are speaking with %s. "+
				"Given the caller's reply, answer with exactly one word: yes or no.",
			cc.CustomerName),
		Messages:  []types.Message{types.NewUserMessage(utterance)},
		MaxTokens: 4,
	}
	resp, err := c.provider.CreateCompletion(ctx, req)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp.Text)), "yes")
}
