package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelvoice/kestrel/pkg/core/types"
	"github.com/kestrelvoice/kestrel/pkg/session"
	"github.com/kestrelvoice/kestrel/pkg/telephony"
)

// Tool names. The set is a closed enumeration: the turn provider selects
// among these and nothing else.
const (
	ToolEndCall                  = "end_call"
	ToolSetupPaymentPlan         = "setup_payment_plan"
	ToolScheduleCallback         = "schedule_callback"
	ToolProcessPayment           = "process_payment"
	ToolHandlePaymentDispute     = "handle_payment_dispute"
	ToolHandleSilentCall         = "handle_silent_call"
	ToolDetectedAnsweringMachine = "detected_answering_machine"
)

// ToolResult is the tagged union of tool outcomes.
type ToolResult interface {
	Kind() string
}

// PlanApproved is the outcome of setup_payment_plan.
type PlanApproved struct {
	PlanID         string `json:"plan_id"`
	MonthlyAmount  string `json:"monthly_amount"`
	DurationMonths string `json:"duration_months"`
}

func (PlanApproved) Kind() string { return "approved" }

func (r PlanApproved) SpokenConfirmation() string {
	return fmt.Sprintf("Payment plan approved: $%s per month for %s months", r.MonthlyAmount, r.DurationMonths)
}

// CallbackScheduled is the outcome of schedule_callback.
type CallbackScheduled struct {
	CallbackID string `json:"callback_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

func (CallbackScheduled) Kind() string { return "scheduled" }

func (r CallbackScheduled) SpokenConfirmation() string {
	return fmt.Sprintf("Callback scheduled for %s at %s", r.Date, r.Time)
}

// PaymentProcessed is the outcome of process_payment.
type PaymentProcessed struct {
	Amount string `json:"amount"`
	Method string `json:"method"`
}

func (PaymentProcessed) Kind() string { return "processed" }

func (r PaymentProcessed) SpokenConfirmation() string {
	return fmt.Sprintf("Payment of $%s processed successfully via %s", r.Amount, r.Method)
}

// DisputeLogged is the outcome of handle_payment_dispute.
type DisputeLogged struct {
	DisputeID string `json:"dispute_id"`
	Reason    string `json:"reason"`
}

func (DisputeLogged) Kind() string { return "disputed" }

func (DisputeLogged) SpokenConfirmation() string {
	return "Dispute logged. The account will be reviewed within 3 to 5 business days"
}

// NoOp is the outcome of tools with no customer-facing result.
type NoOp struct{}

func (NoOp) Kind() string { return "no-op" }

// Toolset holds the capability handlers for one call. It binds to the
// session after construction because the session needs the handlers and
// the handlers need the session's playout tracking.
type Toolset struct {
	cc      CallContext
	machine *StateMachine
	room    telephony.Room
	obs     Observer
	logger  *slog.Logger

	sess *session.Session
}

// NewToolset creates the capability set for one call.
func NewToolset(cc CallContext, machine *StateMachine, room telephony.Room, obs Observer, logger *slog.Logger) *Toolset {
	if obs == nil {
		obs = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolset{cc: cc, machine: machine, room: room, obs: obs, logger: logger}
}

// Bind attaches the session once it exists.
func (t *Toolset) Bind(sess *session.Session) {
	t.sess = sess
}

// Definitions returns the tool definitions exposed to the turn provider.
func (t *Toolset) Definitions() []types.Tool {
	str := func(desc string) types.JSONSchema {
		return types.JSONSchema{Type: "string", Description: desc}
	}
	obj := func(props map[string]types.JSONSchema, required ...string) *types.JSONSchema {
		return &types.JSONSchema{Type: "object", Properties: props, Required: required}
	}

	return []types.Tool{
		types.NewFunctionTool(ToolEndCall,
			"End the call. Call this when the user wants to end the call.",
			obj(nil)),
		types.NewFunctionTool(ToolSetupPaymentPlan,
			"Set up a payment plan for the customer.",
			obj(map[string]types.JSONSchema{
				"monthly_amount":  str("The monthly payment amount the customer can afford"),
				"duration_months": str("Number of months for the payment plan"),
			}, "monthly_amount", "duration_months")),
		types.NewFunctionTool(ToolScheduleCallback,
			"Schedule a callback with the same customer if explicitly requested, or if the user says they're busy.",
			obj(map[string]types.JSONSchema{
				"callback_date": str("The date for the callback"),
				"callback_time": str("The preferred time for the callback"),
			}, "callback_date", "callback_time")),
		types.NewFunctionTool(ToolProcessPayment,
			"Process a payment from the customer.",
			obj(map[string]types.JSONSchema{
				"amount":         str("The payment amount the customer wants to make"),
				"payment_method": str("The payment method (credit_card, bank_transfer, etc.)"),
			}, "amount", "payment_method")),
		types.NewFunctionTool(ToolHandlePaymentDispute,
			"Handle a customer dispute about the debt.",
			obj(map[string]types.JSONSchema{
				"dispute_reason": str("The reason the customer gives for disputing (already paid, not theirs, etc.)"),
			}, "dispute_reason")),
		types.NewFunctionTool(ToolHandleSilentCall,
			"Handle cases where the user picks up but doesn't respond.",
			obj(nil)),
		types.NewFunctionTool(ToolDetectedAnsweringMachine,
			"Called when the call reaches voicemail. Use this tool AFTER you hear the voicemail greeting.",
			obj(nil)),
	}
}

// Handlers returns the handler map keyed by tool name.
func (t *Toolset) Handlers() map[string]session.ToolHandler {
	return map[string]session.ToolHandler{
		ToolEndCall:                  t.endCall,
		ToolSetupPaymentPlan:         t.setupPaymentPlan,
		ToolScheduleCallback:         t.scheduleCallback,
		ToolProcessPayment:           t.processPayment,
		ToolHandlePaymentDispute:     t.handlePaymentDispute,
		ToolHandleSilentCall:         t.handleSilentCall,
		ToolDetectedAnsweringMachine: t.detectedAnsweringMachine,
	}
}

// hangup tears the call down. Idempotent: the state machine absorbs
// repeated Terminated transitions and Room.Hangup is safe to repeat.
func (t *Toolset) hangup(ctx context.Context, reason string) error {
	t.logger.Info("hanging up the call", "identity", t.cc.ParticipantIdentity, "reason", reason)
	if err := t.room.Hangup(ctx, reason); err != nil {
		t.logger.Error("hangup failed", "error", err)
	}
	return t.machine.TransitionTo(StateTerminated)
}

func (t *Toolset) endCall(ctx context.Context, _ json.RawMessage) (any, error) {
	t.logger.Info("ending the call", "identity", t.cc.ParticipantIdentity)

	if err := t.machine.TransitionTo(StateConcluding); err != nil {
		return nil, err
	}

	// Let in-flight speech finish playing out before teardown.
	if t.sess != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := t.sess.WaitForPlayout(waitCtx); err != nil {
			t.logger.Warn("playout wait cut short", "error", err)
		}
	}

	if err := t.hangup(ctx, "agent_end_call"); err != nil {
		return nil, err
	}
	return NoOp{}, nil
}

func (t *Toolset) setupPaymentPlan(ctx context.Context, input json.RawMessage) (any, error) {
	var args struct {
		MonthlyAmount  string `json:"monthly_amount"`
		DurationMonths string `json:"duration_months"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("setup_payment_plan input: %w", err)
	}

	result := PlanApproved{
		PlanID:         mintID("PLAN"),
		MonthlyAmount:  args.MonthlyAmount,
		DurationMonths: args.DurationMonths,
	}
	t.logger.Info("setting up payment plan",
		"identity", t.cc.ParticipantIdentity,
		"plan_id", result.PlanID,
		"monthly_amount", args.MonthlyAmount,
		"duration_months", args.DurationMonths)

	// A recorded plan is the canonical negotiation outcome.
	if err := t.machine.TransitionTo(StateConcluding); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *Toolset) scheduleCallback(ctx context.Context, input json.RawMessage) (any, error) {
	var args struct {
		CallbackDate string `json:"callback_date"`
		CallbackTime string `json:"callback_time"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("schedule_callback input: %w", err)
	}

	result := CallbackScheduled{
		CallbackID: mintID("CB"),
		Date:       args.CallbackDate,
		Time:       args.CallbackTime,
	}
	t.logger.Info("scheduling callback",
		"identity", t.cc.ParticipantIdentity,
		"callback_id", result.CallbackID,
		"date", args.CallbackDate,
		"time", args.CallbackTime)

	if err := t.machine.TransitionTo(StateConcluding); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *Toolset) processPayment(ctx context.Context, input json.RawMessage) (any, error) {
	var args struct {
		Amount        string `json:"amount"`
		PaymentMethod string `json:"payment_method"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("process_payment input: %w", err)
	}

	t.logger.Info("processing payment",
		"identity", t.cc.ParticipantIdentity,
		"amount", args.Amount,
		"method", args.PaymentMethod)

	if err := t.machine.TransitionTo(StateConcluding); err != nil {
		return nil, err
	}
	return PaymentProcessed{Amount: args.Amount, Method: args.PaymentMethod}, nil
}

// handlePaymentDispute logs the dispute but keeps the call in
// Negotiating: a dispute is a non-terminal outcome and the conversation
// continues.
func (t *Toolset) handlePaymentDispute(ctx context.Context, input json.RawMessage) (any, error) {
	var args struct {
		DisputeReason string `json:"dispute_reason"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("handle_payment_dispute input: %w", err)
	}

	result := DisputeLogged{
		DisputeID: mintID("DISP"),
		Reason:    args.DisputeReason,
	}
	t.logger.Info("payment dispute",
		"identity", t.cc.ParticipantIdentity,
		"dispute_id", result.DisputeID,
		"reason", args.DisputeReason)
	return result, nil
}

// handleSilentCall re-prompts for a response; no state change.
func (t *Toolset) handleSilentCall(ctx context.Context, _ json.RawMessage) (any, error) {
	t.logger.Info("silent call detected", "identity", t.cc.ParticipantIdentity)
	if t.sess == nil {
		return NoOp{}, nil
	}
	err := t.sess.GenerateReply(ctx,
		"Try to get a response with 'Hello? Is anyone there?' If still no response, end the call.")
	if err != nil {
		return nil, err
	}
	return NoOp{}, nil
}

// detectedAnsweringMachine hangs up immediately, bypassing negotiation.
func (t *Toolset) detectedAnsweringMachine(ctx context.Context, _ json.RawMessage) (any, error) {
	t.logger.Info("detected answering machine", "identity", t.cc.ParticipantIdentity)
	if err := t.hangup(ctx, "answering_machine"); err != nil {
		return nil, err
	}
	return NoOp{}, nil
}

// mintID builds a short per-call identifier like PLAN-9F2C41D870AB.
func mintID(prefix string) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + raw[:12]
}
