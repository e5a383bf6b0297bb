package agent

import (
	"encoding/json"
	"log/slog"
)

// Observer is the append-only event sink for session-lifecycle and
// transcript events. Implementations must not block and must not affect
// control flow; the sink is a pure side channel.
type Observer interface {
	StateChanged(room string, from, to CallState)
	TranscriptItem(room, role, content string)
	ToolInvoked(room, tool string, input json.RawMessage, err error)
	CallEnded(room, outcome string)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) StateChanged(string, CallState, CallState)          {}
func (NopObserver) TranscriptItem(string, string, string)              {}
func (NopObserver) ToolInvoked(string, string, json.RawMessage, error) {}
func (NopObserver) CallEnded(string, string)                           {}

// LogObserver writes events to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) StateChanged(room string, from, to CallState) {
	o.Logger.Info("call state changed", "room", room, "from", from.String(), "to", to.String())
}

func (o LogObserver) TranscriptItem(room, role, content string) {
	o.Logger.Info("transcript item", "room", room, "role", role, "content", content)
}

func (o LogObserver) ToolInvoked(room, tool string, input json.RawMessage, err error) {
	if err != nil {
		o.Logger.Error("tool invoked", "room", room, "tool", tool, "error", err)
		return
	}
	o.Logger.Info("tool invoked", "room", room, "tool", tool, "input", string(input))
}

func (o LogObserver) CallEnded(room, outcome string) {
	o.Logger.Info("call ended", "room", room, "outcome", outcome)
}

// MultiObserver fans events out to several sinks.
type MultiObserver []Observer

func (m MultiObserver) StateChanged(room string, from, to CallState) {
	for _, o := range m {
		o.StateChanged(room, from, to)
	}
}

func (m MultiObserver) TranscriptItem(room, role, content string) {
	for _, o := range m {
		o.TranscriptItem(room, role, content)
	}
}

func (m MultiObserver) ToolInvoked(room, tool string, input json.RawMessage, err error) {
	for _, o := range m {
		o.ToolInvoked(room, tool, input, err)
	}
}

func (m MultiObserver) CallEnded(room, outcome string) {
	for _, o := range m {
		o.CallEnded(room, outcome)
	}
}
