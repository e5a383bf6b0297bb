package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout     = 5 * time.Second
	defaultHandshakeTimeout = 5 * time.Second
	eventBuffer             = 32
)

// Client connects call rooms over the media gateway's websocket control
// protocol.
type Client struct {
	gatewayURL   string
	agentName    string
	writeTimeout time.Duration
	dialer       *websocket.Dialer
	logger       *slog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithWriteTimeout sets the per-frame write deadline.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithAgentName sets the agent name announced in the hello frame.
func WithAgentName(name string) ClientOption {
	return func(c *Client) { c.agentName = name }
}

// NewClient creates a gateway client.
func NewClient(gatewayURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		gatewayURL:   gatewayURL,
		agentName:    "kestrel-collections",
		writeTimeout: defaultWriteTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a session for one call room. The gateway is listening for
// caller speech once this returns.
func (c *Client) Connect(ctx context.Context, roomName string) (Room, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.gatewayURL, nil)
	if err != nil {
		return nil, &SignalingError{Code: "connect_failed", Message: err.Error()}
	}

	room := &wsRoom{
		name:         roomName,
		conn:         conn,
		writeTimeout: c.writeTimeout,
		events:       make(chan ServerMessage, eventBuffer),
		dialResult:   make(chan DialResult, 1),
		logger:       c.logger.With("room", roomName),
	}

	hello := HelloFrame{
		Type:            "hello",
		ProtocolVersion: ProtocolVersion1,
		RoomName:        roomName,
		AgentName:       c.agentName,
	}
	if err := room.writeJSON(hello); err != nil {
		_ = conn.Close()
		return nil, &SignalingError{Code: "hello_failed", Message: err.Error()}
	}

	ready, err := room.awaitSessionReady(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	room.logger.Info("session ready", "session_id", ready.SessionID)

	go room.readLoop()
	return room, nil
}

// wsRoom is a Room over one websocket connection.
type wsRoom struct {
	name         string
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	writeMu sync.Mutex

	events     chan ServerMessage
	dialResult chan DialResult

	closeOnce sync.Once
}

func (r *wsRoom) Name() string { return r.name }

func (r *wsRoom) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// awaitSessionReady reads frames synchronously until session_ready or an
// error frame arrives. Runs before the read loop starts.
func (r *wsRoom) awaitSessionReady(ctx context.Context) (SessionReady, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetReadDeadline(deadline)
		defer r.conn.SetReadDeadline(time.Time{})
	}
	for {
		_, raw, err := r.conn.ReadMessage()
		if err != nil {
			return SessionReady{}, &SignalingError{Code: "session_setup", Message: err.Error()}
		}
		msg, err := DecodeServerMessage(raw)
		if err != nil {
			return SessionReady{}, &SignalingError{Code: "bad_frame", Message: err.Error()}
		}
		switch m := msg.(type) {
		case SessionReady:
			return m, nil
		case GatewayError:
			return SessionReady{}, &SignalingError{Code: m.Code, Message: m.Message}
		}
	}
}

// readLoop decodes gateway frames and fans them out. Dial results are
// routed to the pending Dial call; everything else goes to Events().
func (r *wsRoom) readLoop() {
	defer close(r.events)
	for {
		_, raw, err := r.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("gateway read failed", "error", err)
			}
			return
		}
		msg, err := DecodeServerMessage(raw)
		if err != nil {
			r.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		if dr, ok := msg.(DialResult); ok {
			select {
			case r.dialResult <- dr:
			default:
			}
			continue
		}
		r.events <- msg
	}
}

func (r *wsRoom) Dial(ctx context.Context, req DialRequest) error {
	frame := DialFrame{
		Type:                "dial",
		RoomName:            req.RoomName,
		TrunkID:             req.TrunkID,
		CallTo:              req.CallTo,
		ParticipantIdentity: req.ParticipantIdentity,
		WaitUntilAnswered:   req.WaitUntilAnswered,
	}
	if err := r.writeJSON(frame); err != nil {
		return &SignalingError{Code: "dial_send", Message: err.Error()}
	}
	if !req.WaitUntilAnswered {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case result, ok := <-r.dialResult:
		if !ok {
			return &SignalingError{Code: "session_closed", Message: "session closed before dial result"}
		}
		if result.Status != "answered" {
			return &SignalingError{
				Code:          "dial_failed",
				Message:       result.Message,
				SIPStatusCode: result.SIPStatusCode,
				SIPStatus:     result.SIPStatus,
			}
		}
		return nil
	}
}

func (r *wsRoom) Say(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := r.writeJSON(SayFrame{Type: "say", UtteranceID: id, Text: text}); err != nil {
		return "", fmt.Errorf("send say frame: %w", err)
	}
	return id, nil
}

func (r *wsRoom) Events() <-chan ServerMessage {
	return r.events
}

func (r *wsRoom) Hangup(ctx context.Context, reason string) error {
	var sendErr error
	r.closeOnce.Do(func() {
		sendErr = r.writeJSON(HangupFrame{Type: "hangup", Reason: reason})
		r.writeMu.Lock()
		_ = r.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(r.writeTimeout),
		)
		r.writeMu.Unlock()
		_ = r.conn.Close()
	})
	if sendErr != nil && !errors.Is(sendErr, websocket.ErrCloseSent) {
		return sendErr
	}
	return nil
}

func (r *wsRoom) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.conn.Close()
	})
	return err
}
