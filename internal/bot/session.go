// Package bot implements the per-session lifecycle state machine that
// consumes canonical events from a platform adapter and drives the bot
// through join, participation, recording, and departure.
package bot

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-meetbot/backend/internal/adapter"
	"github.com/aura-meetbot/backend/internal/events"
)

// State is one node of the lifecycle state machine.
type State string

const (
	StateCreated                    State = "CREATED"
	StateJoining                    State = "JOINING"
	StateWaitingRoom                State = "WAITING_ROOM"
	StateJoined                     State = "JOINED"
	StateRecordingPermissionPending State = "RECORDING_PERMISSION_PENDING"
	StateRecording                  State = "RECORDING"
	StateParticipatingNoRecording   State = "PARTICIPATING_NO_RECORDING"
	StateAuthFailed                 State = "AUTH_FAILED"
	StateBlocked                    State = "BLOCKED"
	StateFatalError                 State = "FATAL_ERROR"
	StateLeaving                    State = "LEAVING"
	StateEnded                      State = "ENDED"
)

// InMeeting reports whether the bot is attending the meeting in this state.
func (s State) InMeeting() bool {
	switch s {
	case StateJoined, StateRecordingPermissionPending, StateRecording, StateParticipatingNoRecording:
		return true
	}
	return false
}

// TerminalBound reports whether the state can only funnel into LEAVING.
func (s State) TerminalBound() bool {
	switch s {
	case StateAuthFailed, StateBlocked, StateFatalError, StateLeaving, StateEnded:
		return true
	}
	return false
}

// Session is one bot's attendance of one meeting. It is owned exclusively by
// its Machine; everyone else sees read-only Snapshots. Terminal fields are
// write-once: nothing mutates after the session reaches ENDED.
type Session struct {
	ID             uuid.UUID
	Platform       adapter.Platform
	State          State
	Path           []State
	CreatedAt      time.Time
	JoinedAt       time.Time
	EndedAt        time.Time
	LastActivityAt time.Time
	// ParticipantCount is the last roster count the adapter reported,
	// including the bot. Zero until first observed.
	ParticipantCount int
	// SoloSince is when the bot became the only participant; zero while
	// others are present.
	SoloSince     time.Time
	ChatReady     bool
	Permission    Permission
	LeaveReason   events.LeaveReason
	FailureDetail string
}

// Snapshot is the read-only view of a Session surfaced to the supervisor and
// the external backend.
type Snapshot struct {
	ID               uuid.UUID           `json:"id"`
	Platform         adapter.Platform    `json:"platform"`
	State            State               `json:"state"`
	Path             []State             `json:"path"`
	CreatedAt        time.Time           `json:"created_at"`
	JoinedAt         *time.Time          `json:"joined_at,omitempty"`
	EndedAt          *time.Time          `json:"ended_at,omitempty"`
	LastActivityAt   *time.Time          `json:"last_activity_at,omitempty"`
	UptimeSeconds    int64               `json:"uptime_seconds"`
	ParticipantCount int                 `json:"participant_count"`
	ChatReady        bool                `json:"chat_ready"`
	Permission       PermissionState     `json:"permission"`
	DenialReason     events.DenialReason `json:"denial_reason,omitempty"`
	LeaveReason      events.LeaveReason  `json:"leave_reason,omitempty"`
	FailureDetail    string              `json:"failure_detail,omitempty"`
}

func (s *Session) snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		ID:               s.ID,
		Platform:         s.Platform,
		State:            s.State,
		Path:             append([]State(nil), s.Path...),
		CreatedAt:        s.CreatedAt,
		ParticipantCount: s.ParticipantCount,
		ChatReady:        s.ChatReady,
		Permission:       s.Permission.State,
		DenialReason:     s.Permission.DenialReason,
		LeaveReason:      s.LeaveReason,
		FailureDetail:    s.FailureDetail,
	}
	if !s.JoinedAt.IsZero() {
		t := s.JoinedAt
		snap.JoinedAt = &t
		end := now
		if !s.EndedAt.IsZero() {
			end = s.EndedAt
		}
		snap.UptimeSeconds = int64(end.Sub(s.JoinedAt).Seconds())
	}
	if !s.EndedAt.IsZero() {
		t := s.EndedAt
		snap.EndedAt = &t
	}
	if !s.LastActivityAt.IsZero() {
		t := s.LastActivityAt
		snap.LastActivityAt = &t
	}
	return snap
}
