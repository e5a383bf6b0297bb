// Package metrics exposes prometheus counters for the live agent. The
// collector plugs into the agent's observer sink so call flow is never
// blocked by instrumentation.
package metrics

import (
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelvoice/kestrel/pkg/agent"
)

// Collector counts call lifecycle and tool activity.
type Collector struct {
	callsStarted    prometheus.Counter
	callsEnded      *prometheus.CounterVec
	stateChanges    *prometheus.CounterVec
	toolInvocations *prometheus.CounterVec
	toolFailures    *prometheus.CounterVec
	transcriptItems *prometheus.CounterVec
}

// NewCollector creates and registers the collector with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		callsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_calls_started_total",
			Help: "Outbound calls that began dialing.",
		}),
		callsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_calls_ended_total",
			Help: "Calls ended, by outcome.",
		}, []string{"outcome"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_call_state_changes_total",
			Help: "Call state transitions, by target state.",
		}, []string{"to"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_tool_invocations_total",
			Help: "Capability tool invocations, by tool.",
		}, []string{"tool"}),
		toolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_tool_failures_total",
			Help: "Failed capability tool invocations, by tool.",
		}, []string{"tool"}),
		transcriptItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_transcript_items_total",
			Help: "Committed transcript items, by role.",
		}, []string{"role"}),
	}
	reg.MustRegister(
		c.callsStarted,
		c.callsEnded,
		c.stateChanges,
		c.toolInvocations,
		c.toolFailures,
		c.transcriptItems,
	)
	return c
}

var _ agent.Observer = (*Collector)(nil)

func (c *Collector) StateChanged(_ string, from, to agent.CallState) {
	if from == agent.StateDialing && to == agent.StateRingingOrConnecting {
		c.callsStarted.Inc()
	}
	c.stateChanges.WithLabelValues(to.String()).Inc()
}

func (c *Collector) TranscriptItem(_ string, role, _ string) {
	c.transcriptItems.WithLabelValues(role).Inc()
}

func (c *Collector) ToolInvoked(_ string, tool string, _ json.RawMessage, err error) {
	c.toolInvocations.WithLabelValues(tool).Inc()
	if err != nil {
		c.toolFailures.WithLabelValues(tool).Inc()
	}
}

func (c *Collector) CallEnded(_ string, outcome string) {
	c.callsEnded.WithLabelValues(outcome).Inc()
}
