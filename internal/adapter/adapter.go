// Package adapter defines the contract every platform driver must satisfy:
// canonical commands in, canonical events out. The state machine never sees
// anything platform-specific beyond this boundary.
package adapter

import (
	"context"

	"github.com/google/uuid"

	"github.com/aura-meetbot/backend/internal/events"
)

// Platform identifies which meeting platform an adapter drives.
type Platform string

const (
	PlatformZoom     Platform = "zoom"
	PlatformTeams    Platform = "teams"
	PlatformMeet     Platform = "meet"
	// PlatformLoopback is an in-process adapter used for tests and smoke
	// checks; it never touches a real meeting client.
	PlatformLoopback Platform = "loopback"
)

// Command names the instruction kinds the state machine issues to its
// adapter. At most one command is outstanding per session at a time.
type Command string

const (
	CommandAttemptJoin                Command = "attempt_join"
	CommandLeave                      Command = "leave"
	CommandSendChat                   Command = "send_chat"
	CommandRequestRecordingPermission Command = "request_recording_permission"
)

// Credentials carries everything an adapter needs to attend one meeting.
type Credentials struct {
	Platform    Platform `json:"platform"`
	MeetingURL  string   `json:"meeting_url"`
	MeetingID   string   `json:"meeting_id,omitempty"`
	Passcode    string   `json:"passcode,omitempty"`
	DisplayName string   `json:"display_name"`
	// DebugRecording enables the adapter's debug screen recording, written
	// to the configured artifact path for post-mortem diagnostics.
	DebugRecording bool `json:"debug_recording,omitempty"`
}

// Adapter is the driver-side contract. Every operation either completes by
// emitting a corresponding canonical event on Events, or times out from the
// caller's perspective; an adapter never silently drops a requested
// operation. A returned error only reports that the command could not be
// handed to the platform client at all.
type Adapter interface {
	// Events is the asynchronous stream of canonical events. Closed when
	// the adapter shuts down.
	Events() <-chan events.Event

	AttemptJoin(ctx context.Context, creds Credentials) error
	Leave(ctx context.Context) error
	SendChat(ctx context.Context, text string) error
	RequestRecordingPermission(ctx context.Context) error

	// Close releases adapter resources. Idempotent.
	Close() error
}

// Factory builds an adapter for one session on the given platform. The
// session id lets the adapter name session-scoped resources (driver
// endpoints, debug artifacts).
type Factory func(ctx context.Context, sessionID uuid.UUID, platform Platform) (Adapter, error)
