package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelvoice/kestrel/pkg/core/types"
	"github.com/kestrelvoice/kestrel/pkg/telephony"
)

func TestStateMachine_HappyPath(t *testing.T) {
	m := NewStateMachine("room", nil)
	assert.Equal(t, StateDialing, m.State())

	for _, next := range []CallState{
		StateRingingOrConnecting,
		StateAwaitingHumanPickup,
		StateIdentityUnverified,
		StateIdentityVerified,
		StateNegotiating,
		StateConcluding,
		StateTerminated,
	} {
		require.NoError(t, m.TransitionTo(next))
		assert.Equal(t, next, m.State())
	}
}

func TestStateMachine_RejectsSkips(t *testing.T) {
	m := NewStateMachine("room", nil)
	assert.Error(t, m.TransitionTo(StateNegotiating))
	assert.Error(t, m.TransitionTo(StateIdentityVerified))
	assert.Equal(t, StateDialing, m.State())

	// Verification cannot be skipped on the way to negotiation.
	require.NoError(t, m.TransitionTo(StateRingingOrConnecting))
	require.NoError(t, m.TransitionTo(StateAwaitingHumanPickup))
	require.NoError(t, m.TransitionTo(StateIdentityUnverified))
	assert.Error(t, m.TransitionTo(StateNegotiating))
}

func TestStateMachine_TeardownFromAnyState(t *testing.T) {
	m := NewStateMachine("room", nil)
	require.NoError(t, m.TransitionTo(StateConcluding))
	require.NoError(t, m.TransitionTo(StateTerminated))

	m = NewStateMachine("room", nil)
	require.NoError(t, m.TransitionTo(StateRingingOrConnecting))
	require.NoError(t, m.TransitionTo(StateTerminated))
}

func TestStateMachine_TerminatedAbsorbs(t *testing.T) {
	m := NewStateMachine("room", nil)
	require.NoError(t, m.TransitionTo(StateTerminated))

	// Every further transition is accepted and ignored.
	require.NoError(t, m.TransitionTo(StateTerminated))
	require.NoError(t, m.TransitionTo(StateNegotiating))
	assert.Equal(t, StateTerminated, m.State())
}

func TestParseJobMetadata(t *testing.T) {
	cc, err := ParseJobMetadata([]byte(`{"phone_number":"+15551234567","customer_name":"John Doe"}`))
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", cc.PhoneNumber)
	assert.Equal(t, "+15551234567", cc.ParticipantIdentity)
	assert.Equal(t, "John Doe", cc.CustomerName)
	assert.Equal(t, DefaultAccountNumber, cc.AccountNumber)
	assert.Equal(t, DefaultOutstandingAmount, cc.OutstandingAmount)
	assert.Equal(t, DefaultDueDate, cc.DueDate)
	assert.Equal(t, DefaultCardType, cc.CardType)
}

func TestParseJobMetadata_PhoneNumberRequired(t *testing.T) {
	_, err := ParseJobMetadata([]byte(`{"customer_name":"John Doe"}`))
	require.Error(t, err)

	_, err = ParseJobMetadata([]byte(`not json`))
	require.Error(t, err)
}

func TestBuildScript_CarriesCallContext(t *testing.T) {
	cc, err := ParseJobMetadata([]byte(`{"phone_number":"+15550001111","customer_name":"Jane Roe","outstanding_amount":"2500"}`))
	require.NoError(t, err)

	script := BuildScript(cc)
	assert.Contains(t, script, "Jane Roe")
	assert.Contains(t, script, "2500")
	assert.Contains(t, script, DefaultAccountNumber)

	greeting := GreetingInstructions(cc)
	assert.Contains(t, greeting, "Jane Roe")
}

// fakeRoom is an in-memory telephony.Room. With autoPlayout set it
// reports a playout receipt for every utterance, like the gateway does.
type fakeRoom struct {
	name        string
	dialErr     error
	autoPlayout bool

	mu      sync.Mutex
	said    []string
	hangups []string
	dialed  []telephony.DialRequest

	events    chan telephony.ServerMessage
	closeOnce sync.Once
}

func newFakeRoom(name string) *fakeRoom {
	return &fakeRoom{name: name, events: make(chan telephony.ServerMessage, 32)}
}

func (r *fakeRoom) Name() string { return r.name }

func (r *fakeRoom) Dial(_ context.Context, req telephony.DialRequest) error {
	r.mu.Lock()
	r.dialed = append(r.dialed, req)
	r.mu.Unlock()
	return r.dialErr
}

func (r *fakeRoom) Say(_ context.Context, text string) (string, error) {
	r.mu.Lock()
	r.said = append(r.said, text)
	id := fmt.Sprintf("utt-%d", len(r.said))
	r.mu.Unlock()
	if r.autoPlayout {
		r.events <- telephony.PlayoutDone{Type: "playout_done", UtteranceID: id}
	}
	return id, nil
}

func (r *fakeRoom) Events() <-chan telephony.ServerMessage { return r.events }

func (r *fakeRoom) Hangup(_ context.Context, reason string) error {
	r.mu.Lock()
	r.hangups = append(r.hangups, reason)
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.events) })
	return nil
}

func (r *fakeRoom) Close() error {
	r.closeOnce.Do(func() { close(r.events) })
	return nil
}

func (r *fakeRoom) saidLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.said...)
}

func (r *fakeRoom) hangupReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.hangups...)
}

type fakePlatform struct {
	room *fakeRoom
}

func (p *fakePlatform) Connect(_ context.Context, roomName string) (telephony.Room, error) {
	p.room.name = roomName
	return p.room, nil
}

// queueProvider consumes canned responses in order.
type queueProvider struct {
	mu    sync.Mutex
	queue []*types.CompletionResponse
	calls []*types.CompletionRequest
}

func (p *queueProvider) Name() string { return "queue" }

func (p *queueProvider) CreateCompletion(_ context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if len(p.queue) == 0 {
		return &types.CompletionResponse{Text: "okay", StopReason: types.StopReasonEndTurn}, nil
	}
	resp := p.queue[0]
	p.queue = p.queue[1:]
	return resp, nil
}

func text(s string) *types.CompletionResponse {
	return &types.CompletionResponse{Text: s, StopReason: types.StopReasonEndTurn}
}

func toolUse(name string, input string) *types.CompletionResponse {
	return &types.CompletionResponse{
		StopReason: types.StopReasonToolUse,
		ToolCalls:  []types.ToolCall{{ID: "call_1", Name: name, Input: json.RawMessage(input)}},
	}
}

func textAndTool(s, name, input string) *types.CompletionResponse {
	resp := toolUse(name, input)
	resp.Text = s
	return resp
}

// recordingObserver captures lifecycle callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	states   []CallState
	outcomes []string
	tools    []string
}

func (o *recordingObserver) StateChanged(_ string, _, to CallState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

func (o *recordingObserver) TranscriptItem(_, _, _ string) {}

func (o *recordingObserver) ToolInvoked(_ string, tool string, _ json.RawMessage, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, tool)
}

func (o *recordingObserver) CallEnded(_ string, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) sawState(s CallState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, st := range o.states {
		if st == s {
			return true
		}
	}
	return false
}

func TestToolset_PaymentPlanConcludesCall(t *testing.T) {
	cc := CallContext{CustomerName: "John", ParticipantIdentity: "+15550001111"}
	m := negotiatingMachine(t)
	room := newFakeRoom("room")
	ts := NewToolset(cc, m, room, nil, nil)

	res, err := ts.Handlers()[ToolSetupPaymentPlan](context.Background(),
		json.RawMessage(`{"monthly_amount":"200","duration_months":"6"}`))
	require.NoError(t, err)

	plan, ok := res.(PlanApproved)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(plan.PlanID, "PLAN-"), "got %q", plan.PlanID)
	assert.Len(t, plan.PlanID, len("PLAN-")+12)
	assert.Equal(t, "200", plan.MonthlyAmount)
	assert.Contains(t, plan.SpokenConfirmation(), "$200 per month for 6 months")
	assert.Equal(t, StateConcluding, m.State())
}

func TestToolset_CallbackAndPaymentConclude(t *testing.T) {
	cc := CallContext{ParticipantIdentity: "+15550001111"}

	m := negotiatingMachine(t)
	ts := NewToolset(cc, m, newFakeRoom("room"), nil, nil)
	res, err := ts.Handlers()[ToolScheduleCallback](context.Background(),
		json.RawMessage(`{"callback_date":"tomorrow","callback_time":"2pm"}`))
	require.NoError(t, err)
	cb := res.(CallbackScheduled)
	assert.True(t, strings.HasPrefix(cb.CallbackID, "CB-"))
	assert.Equal(t, StateConcluding, m.State())

	m = negotiatingMachine(t)
	ts = NewToolset(cc, m, newFakeRoom("room"), nil, nil)
	res, err = ts.Handlers()[ToolProcessPayment](context.Background(),
		json.RawMessage(`{"amount":"500","payment_method":"credit_card"}`))
	require.NoError(t, err)
	assert.Contains(t, res.(PaymentProcessed).SpokenConfirmation(), "$500")
	assert.Equal(t, StateConcluding, m.State())
}

func TestToolset_DisputeKeepsNegotiating(t *testing.T) {
	m := negotiatingMachine(t)
	ts := NewToolset(CallContext{}, m, newFakeRoom("room"), nil, nil)

	res, err := ts.Handlers()[ToolHandlePaymentDispute](context.Background(),
		json.RawMessage(`{"dispute_reason":"already paid"}`))
	require.NoError(t, err)

	dispute := res.(DisputeLogged)
	assert.True(t, strings.HasPrefix(dispute.DisputeID, "DISP-"))
	assert.Equal(t, "already paid", dispute.Reason)
	assert.Equal(t, StateNegotiating, m.State(), "a dispute must not end the call")
}

func TestToolset_EndCallIsIdempotent(t *testing.T) {
	m := negotiatingMachine(t)
	room := newFakeRoom("room")
	ts := NewToolset(CallContext{}, m, room, nil, nil)

	_, err := ts.Handlers()[ToolEndCall](context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.State())

	// A duplicate end_call is absorbed, not an error.
	_, err = ts.Handlers()[ToolEndCall](context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.State())
	assert.Equal(t, []string{"agent_end_call", "agent_end_call"}, room.hangupReasons())
}

func TestToolset_AnsweringMachineHangsUp(t *testing.T) {
	m := NewStateMachine("room", nil)
	require.NoError(t, m.TransitionTo(StateRingingOrConnecting))
	require.NoError(t, m.TransitionTo(StateAwaitingHumanPickup))
	require.NoError(t, m.TransitionTo(StateIdentityUnverified))

	room := newFakeRoom("room")
	ts := NewToolset(CallContext{}, m, room, nil, nil)

	_, err := ts.Handlers()[ToolDetectedAnsweringMachine](context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.State())
	assert.Equal(t, []string{"answering_machine"}, room.hangupReasons())
}

func negotiatingMachine(t *testing.T) *StateMachine {
	t.Helper()
	m := NewStateMachine("room", nil)
	for _, next := range []CallState{
		StateRingingOrConnecting,
		StateAwaitingHumanPickup,
		StateIdentityUnverified,
		StateIdentityVerified,
		StateNegotiating,
	} {
		require.NoError(t, m.TransitionTo(next))
	}
	return m
}
