// Package teamsbridge is the platform adapter for the Teams web client
// driver. The in-page driver payload dials back over a local WebSocket and
// speaks JSON; the bridge translates each native message onto exactly one
// canonical event and forwards canonical commands to the driver.
package teamsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-meetbot/backend/internal/adapter"
	"github.com/aura-meetbot/backend/internal/events"
)

// driverMessage is the native JSON envelope the driver payload emits.
type driverMessage struct {
	Type         string          `json:"type"`
	Change       string          `json:"change,omitempty"`
	IsSilent     *bool           `json:"isSilent,omitempty"`
	NewUsers     []driverUser    `json:"newUsers,omitempty"`
	RemovedUsers []driverUser    `json:"removedUsers,omitempty"`
	UpdatedUsers []driverUser    `json:"updatedUsers,omitempty"`
	Caption      json.RawMessage `json:"caption,omitempty"`
}

type driverUser struct {
	DeviceID      string `json:"deviceId"`
	DisplayName   string `json:"displayName"`
	Status        string `json:"status"`
	IsCurrentUser bool   `json:"isCurrentUser"`
	IsHost        bool   `json:"isHost"`
}

// driverCommand is a canonical command serialized for the driver payload.
type driverCommand struct {
	Type        string `json:"type"`
	MeetingURL  string `json:"meetingUrl,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Bridge adapts one Teams driver connection to the canonical adapter
// contract. It is created before the driver connects; commands issued early
// are queued and flushed once the driver attaches.
type Bridge struct {
	id     uuid.UUID
	logger *zap.Logger

	events  chan events.Event
	outbox  chan driverCommand
	done    chan struct{}
	onClose func()

	mu         sync.Mutex
	conn       *websocket.Conn
	users      map[string]driverUser
	joinedSeen bool
	closed     bool
}

// NewBridge creates a bridge for one session. onClose runs once when the
// bridge shuts down (the registry uses it to drop its entry).
func NewBridge(id uuid.UUID, logger *zap.Logger, onClose func()) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		id:      id,
		logger:  logger.With(zap.String("session_id", id.String())),
		events:  make(chan events.Event, 64),
		outbox:  make(chan driverCommand, 16),
		done:    make(chan struct{}),
		onClose: onClose,
		users:   make(map[string]driverUser),
	}
}

// Events returns the canonical event stream.
func (b *Bridge) Events() <-chan events.Event { return b.events }

// AttemptJoin forwards the join command to the driver.
func (b *Bridge) AttemptJoin(_ context.Context, creds adapter.Credentials) error {
	return b.send(driverCommand{Type: "JoinMeeting", MeetingURL: creds.MeetingURL, DisplayName: creds.DisplayName})
}

// Leave forwards the leave command to the driver.
func (b *Bridge) Leave(_ context.Context) error {
	return b.send(driverCommand{Type: "LeaveMeeting"})
}

// SendChat forwards a chat message to the driver.
func (b *Bridge) SendChat(_ context.Context, text string) error {
	return b.send(driverCommand{Type: "SendChatMessage", Text: text})
}

// RequestRecordingPermission forwards the permission request to the driver.
func (b *Bridge) RequestRecordingPermission(_ context.Context) error {
	return b.send(driverCommand{Type: "RequestRecordingPermission"})
}

// Close tears the bridge down and closes the event stream. Idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.conn = nil
	close(b.done)
	close(b.events)
	b.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if b.onClose != nil {
		b.onClose()
	}
	return nil
}

// Attach hands the bridge a connected driver socket and runs the read and
// write pumps until the socket drops or the bridge closes.
func (b *Bridge) Attach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.closed || b.conn != nil {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.conn = conn
	b.mu.Unlock()
	b.logger.Info("driver attached")

	go b.writePump(conn)
	b.readPump(conn)
}

func (b *Bridge) send(cmd driverCommand) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("bridge closed")
	}
	select {
	case b.outbox <- cmd:
		return nil
	default:
		return fmt.Errorf("driver command queue full")
	}
}

func (b *Bridge) writePump(conn *websocket.Conn) {
	for {
		select {
		case cmd := <-b.outbox:
			if err := conn.WriteJSON(cmd); err != nil {
				b.logger.Warn("driver write failed", zap.Error(err))
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) readPump(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		closed := b.closed
		b.mu.Unlock()
		_ = conn.Close()
		if !closed {
			b.emit(events.New(events.KindCouldNotConnect).WithDetail("driver connection lost"))
		}
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.handleNative(raw)
	}
}

func (b *Bridge) handleNative(raw []byte) {
	var msg driverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.emit(events.New(events.KindPlatformInternalError).WithDetail("undecodable driver message: " + string(raw)))
		return
	}
	for _, ev := range b.translate(msg, raw) {
		b.emit(ev)
	}
}

// translate maps one native driver message onto canonical events. A native
// signal with no canonical mapping becomes platform-internal-error with the
// raw payload preserved for diagnostics.
func (b *Bridge) translate(msg driverMessage, raw []byte) []events.Event {
	switch msg.Type {
	case "SilenceStatus":
		if msg.IsSilent != nil && !*msg.IsSilent {
			return []events.Event{events.New(events.KindUtteranceDetected).WithParticipants(b.participantCount())}
		}
		return nil

	case "MeetingStatusChange":
		switch msg.Change {
		case "meeting_ended":
			return []events.Event{events.New(events.KindMeetingEnded)}
		case "removed_from_meeting":
			return []events.Event{events.New(events.KindMeetingEnded).WithDetail("bot removed from meeting")}
		case "request_to_join_denied":
			return []events.Event{events.New(events.KindJoinRequestDenied)}
		}
		return []events.Event{events.New(events.KindPlatformInternalError).WithDetail("unknown meeting status change: " + msg.Change)}

	case "ChatStatusChange":
		if msg.Change == "ready_to_send" {
			return []events.Event{events.New(events.KindReadyToSendChat)}
		}
		return nil

	case "UsersUpdate":
		return b.applyRoster(msg)

	case "CaptionUpdate":
		// a caption means someone is speaking
		return []events.Event{events.New(events.KindUtteranceDetected).WithParticipants(b.participantCount())}

	case "ChatMessage":
		b.logger.Debug("chat message observed")
		return nil

	default:
		return []events.Event{events.New(events.KindPlatformInternalError).WithDetail("unmapped driver message: " + string(raw))}
	}
}

// applyRoster folds a UsersUpdate into the roster and reports the new count.
// The first roster containing the bot itself doubles as the joined signal.
func (b *Bridge) applyRoster(msg driverMessage) []events.Event {
	b.mu.Lock()
	for _, u := range msg.NewUsers {
		b.users[u.DeviceID] = u
	}
	for _, u := range msg.UpdatedUsers {
		b.users[u.DeviceID] = u
	}
	for _, u := range msg.RemovedUsers {
		delete(b.users, u.DeviceID)
	}
	count := len(b.users)
	joined := false
	if !b.joinedSeen {
		for _, u := range b.users {
			if u.IsCurrentUser {
				b.joinedSeen = true
				joined = true
				break
			}
		}
	}
	b.mu.Unlock()

	var out []events.Event
	if joined {
		out = append(out, events.New(events.KindJoinedMeeting).WithParticipants(count))
	}
	out = append(out, events.New(events.KindParticipantsUpdated).WithParticipants(count))
	return out
}

func (b *Bridge) participantCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.users) == 0 {
		return events.NoParticipants
	}
	return len(b.users)
}

// emit delivers one event without blocking; the mutex orders it against
// Close so it never sends on the closed stream.
func (b *Bridge) emit(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("event buffer full, dropping", zap.String("kind", string(ev.Kind)))
	}
}
