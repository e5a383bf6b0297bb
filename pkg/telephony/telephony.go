package telephony

import (
	"context"
	"fmt"
)

// DialRequest describes one outbound call. WaitUntilAnswered makes Dial
// block until the remote party picks up or signaling fails.
type DialRequest struct {
	RoomName            string
	TrunkID             string
	CallTo              string
	ParticipantIdentity string
	WaitUntilAnswered   bool
}

// SignalingError is a dial or session setup failure reported by the
// platform. It is terminal for the job; callers shut the call down
// cleanly and do not retry.
type SignalingError struct {
	Code          string
	Message       string
	SIPStatusCode int
	SIPStatus     string
}

func (e *SignalingError) Error() string {
	if e.SIPStatusCode != 0 {
		return fmt.Sprintf("signaling: %s (SIP %d %s)", e.Message, e.SIPStatusCode, e.SIPStatus)
	}
	return fmt.Sprintf("signaling: %s", e.Message)
}

// Room is a live call session. Exactly one goroutine consumes Events();
// Say and Hangup may be called from the controlling task.
type Room interface {
	// Name returns the room name for this call.
	Name() string

	// Dial places the outbound call into the room. With
	// WaitUntilAnswered set it blocks until pickup or failure; a
	// signaling failure is returned as *SignalingError.
	Dial(ctx context.Context, req DialRequest) error

	// Say submits text for synthesis and playout, returning an
	// utterance id that a later PlayoutDone event references.
	Say(ctx context.Context, text string) (string, error)

	// Events delivers gateway frames in arrival order. The channel
	// closes when the session ends.
	Events() <-chan ServerMessage

	// Hangup tears the room down. Safe to call more than once.
	Hangup(ctx context.Context, reason string) error

	// Close releases the underlying connection without signaling.
	Close() error
}

// Platform connects call sessions. The production implementation speaks
// the websocket control protocol; tests substitute in-memory fakes.
type Platform interface {
	Connect(ctx context.Context, roomName string) (Room, error)
}
