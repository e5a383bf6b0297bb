// Package telephony defines the boundary to the real-time media platform
// that establishes, carries, and tears down outbound calls. The agent sees
// calls only through this package: a control-frame protocol, a Room handle,
// and typed signaling errors. Audio, codecs, and SIP internals stay on the
// far side of the wire.
package telephony

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

// DecodeError reports a malformed or unsupported control frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// --- agent -> gateway frames ---

// HelloFrame opens a session for one call room. The gateway starts
// listening for caller speech as soon as it acknowledges the hello, which
// is why the controller sends it before dialing.
type HelloFrame struct {
	Type            string `json:"type"` // "hello"
	ProtocolVersion string `json:"protocol_version"`
	RoomName        string `json:"room_name"`
	AgentName       string `json:"agent_name,omitempty"`
}

// DialFrame asks the gateway to place the outbound SIP call.
type DialFrame struct {
	Type                string `json:"type"` // "dial"
	RoomName            string `json:"room_name"`
	TrunkID             string `json:"trunk_id"`
	CallTo              string `json:"call_to"`
	ParticipantIdentity string `json:"participant_identity"`
	WaitUntilAnswered   bool   `json:"wait_until_answered"`
}

// SayFrame submits agent speech for synthesis and playout.
type SayFrame struct {
	Type        string `json:"type"` // "say"
	UtteranceID string `json:"utterance_id"`
	Text        string `json:"text"`
}

// HangupFrame tears down the room and ends the call.
type HangupFrame struct {
	Type   string `json:"type"` // "hangup"
	Reason string `json:"reason,omitempty"`
}

// --- gateway -> agent frames ---

// ServerMessage is implemented by every frame the gateway can send.
type ServerMessage interface {
	serverMessageType() string
}

// SessionReady acknowledges the hello; the gateway is listening.
type SessionReady struct {
	Type      string `json:"type"` // "session_ready"
	SessionID string `json:"session_id"`
}

// DialResult reports the outcome of a dial frame.
type DialResult struct {
	Type          string `json:"type"`   // "dial_result"
	Status        string `json:"status"` // "answered" or "failed"
	Message       string `json:"message,omitempty"`
	SIPStatusCode int    `json:"sip_status_code,omitempty"`
	SIPStatus     string `json:"sip_status,omitempty"`
}

// ParticipantJoined reports the remote party connecting to the room.
type ParticipantJoined struct {
	Type     string `json:"type"` // "participant_joined"
	Identity string `json:"identity"`
}

// UserTranscript carries transcribed caller speech. Final transcripts are
// committed turns; partials are informational only.
type UserTranscript struct {
	Type  string `json:"type"` // "transcript"
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// PlayoutDone reports that a submitted utterance finished playing out.
type PlayoutDone struct {
	Type        string `json:"type"` // "playout_done"
	UtteranceID string `json:"utterance_id"`
}

// Disconnected reports the remote party or the gateway ending the call.
type Disconnected struct {
	Type   string `json:"type"` // "disconnected"
	Reason string `json:"reason,omitempty"`
}

// GatewayError reports a gateway-side fault for this session.
type GatewayError struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (SessionReady) serverMessageType() string      { return "session_ready" }
func (DialResult) serverMessageType() string        { return "dial_result" }
func (ParticipantJoined) serverMessageType() string { return "participant_joined" }
func (UserTranscript) serverMessageType() string    { return "transcript" }
func (PlayoutDone) serverMessageType() string       { return "playout_done" }
func (Disconnected) serverMessageType() string      { return "disconnected" }
func (GatewayError) serverMessageType() string      { return "error" }

// DecodeServerMessage parses one gateway frame.
func DecodeServerMessage(raw []byte) (ServerMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, badFrame("invalid JSON frame", "")
	}

	switch head.Type {
	case "session_ready":
		var msg SessionReady
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, badFrame("invalid session_ready frame", "")
		}
		return msg, nil
	case "dial_result":
		var msg DialResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, badFrame("invalid dial_result frame", "")
		}
		if msg.Status != "answered" && msg.Status != "failed" {
			return nil, badFrame("dial_result status must be answered or failed", "status")
		}
		return msg, nil
	case "participant_joined":
		var msg ParticipantJoined
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, badFrame("invalid participant_joined frame", "")
		}
		if msg.Identity == "" {
			return nil, badFrame("participant_joined requires identity", "identity")
		}
		return msg, nil
	case "transcript":
		var msg UserTranscript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, badFrame("invalid transcript frame", "")
		}
		return msg, nil
	case "playout_done":
		var msg PlayoutDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, badFrame("invalid playout_done frame", "")
		}
		return msg, nil
	case "disconnected":
		var msg Disconnected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, badFrame("invalid disconnected frame", "")
		}
		return msg, nil
	case "error":
		var msg GatewayError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unknown frame type", head.Type)
	}
}
