// Package events defines the canonical vocabulary shared by all platform
// adapters and consumed by the bot lifecycle state machine. The vocabulary is
// a closed set: new platforms are integrated by mapping their native signals
// onto these kinds, never by extending the state machine.
package events

import "time"

// VocabularyVersion identifies the revision of the canonical vocabulary.
// Adapters and the state machine must agree on it.
const VocabularyVersion = 1

// Kind is one canonical signal a platform adapter can emit.
type Kind string

const (
	KindWaitingForHost               Kind = "waiting_for_host"
	KindWaitingRoomTimeout           Kind = "waiting_room_timeout"
	KindAuthorizationFailed          Kind = "authorization_failed"
	KindPlatformStatusFailed         Kind = "platform_status_failed"
	KindPlatformStatusFailedExternal Kind = "platform_status_failed_external_meeting"
	KindPlatformInternalError        Kind = "platform_internal_error"
	KindPutInWaitingRoom             Kind = "put_in_waiting_room"
	KindJoinedMeeting                Kind = "joined_meeting"
	KindRecordingPermissionGranted   Kind = "recording_permission_granted"
	KindRecordingPermissionDenied    Kind = "recording_permission_denied"
	KindMeetingEnded                 Kind = "meeting_ended"
	KindUtteranceDetected            Kind = "utterance_detected"
	KindUIElementNotFound            Kind = "ui_element_not_found"
	KindJoinRequestDenied            Kind = "join_request_denied"
	KindOperatorRequestedLeave       Kind = "operator_requested_leave"
	KindMeetingNotFound              Kind = "meeting_not_found"
	KindReadyToRenderPresence        Kind = "ready_to_render_presence"
	KindReadyToSendChat              Kind = "ready_to_send_chat"
	KindBlockedByPlatform            Kind = "blocked_by_platform_repeatedly"
	KindLoginRequired                Kind = "login_required"
	KindLoginAttemptFailed           Kind = "login_attempt_failed"
	KindCouldNotConnect              Kind = "could_not_connect"
	KindEnteredBreakoutRoom          Kind = "entered_breakout_room"
	KindLeftBreakoutRoom             Kind = "left_breakout_room"
	KindParticipantsUpdated          Kind = "participants_updated"
)

// DenialReason is the closed set of reasons a recording permission
// negotiation can resolve to denial with.
type DenialReason string

const (
	DenialHostDenied            DenialReason = "HOST_DENIED_PERMISSION"
	DenialRequestTimedOut       DenialReason = "REQUEST_TIMED_OUT"
	DenialHostClientCannotGrant DenialReason = "HOST_CLIENT_CANNOT_GRANT_PERMISSION"
)

// LeaveReason is the closed set of reasons recorded when a session reaches a
// terminal leaving state. Exactly one is recorded, never overwritten.
type LeaveReason string

const (
	LeaveAutoSilence         LeaveReason = "AUTO_LEAVE_SILENCE"
	LeaveAutoOnlyParticipant LeaveReason = "AUTO_LEAVE_ONLY_PARTICIPANT_IN_MEETING"
	LeaveAutoMaxUptime       LeaveReason = "AUTO_LEAVE_MAX_UPTIME"
	LeaveMeetingEnded        LeaveReason = "MEETING_ENDED"
	LeaveOperatorRequested   LeaveReason = "OPERATOR_REQUESTED"
	LeaveWaitingForHost      LeaveReason = "WAITING_FOR_HOST"
	LeaveWaitingRoomTimeout  LeaveReason = "WAITING_ROOM_TIMEOUT_EXCEEDED"
	LeaveAuthorizationFailed LeaveReason = "AUTHORIZATION_FAILED"
	LeaveJoinRequestDenied   LeaveReason = "JOIN_REQUEST_DENIED"
	LeaveMeetingNotFound     LeaveReason = "MEETING_NOT_FOUND"
	LeaveBlockedByPlatform   LeaveReason = "BLOCKED_BY_PLATFORM"
	LeaveRecordingDenied     LeaveReason = "RECORDING_PERMISSION_DENIED"
	LeaveFatalError          LeaveReason = "FATAL_ERROR"
)

// FailureClass tags how the state machine should react to a failure signal.
type FailureClass int

const (
	// FailureNone means the kind is not a failure signal.
	FailureNone FailureClass = iota
	// FailureRetryable is a transient failure retried with bounded backoff.
	FailureRetryable
	// FailurePermanent is a rejection that is never retried.
	FailurePermanent
	// FailureAnomaly is a recoverable anomaly that only escalates when
	// repeated beyond a threshold.
	FailureAnomaly
)

// FailureClass returns the retry class of the kind per the error taxonomy.
func (k Kind) FailureClass() FailureClass {
	switch k {
	case KindCouldNotConnect, KindLoginAttemptFailed, KindLoginRequired:
		return FailureRetryable
	case KindAuthorizationFailed, KindJoinRequestDenied, KindMeetingNotFound,
		KindPlatformStatusFailed, KindPlatformStatusFailedExternal:
		return FailurePermanent
	case KindUIElementNotFound, KindPlatformInternalError:
		return FailureAnomaly
	default:
		return FailureNone
	}
}

// NoParticipants is the Participants value on events where the adapter did
// not observe a roster count.
const NoParticipants = -1

// Event is one immutable canonical signal. Produced by exactly one adapter
// instance per occurrence; consumed exactly once by the owning session's
// state machine.
type Event struct {
	Kind         Kind         `json:"kind"`
	DenialReason DenialReason `json:"denial_reason,omitempty"`
	// Detail preserves native diagnostics (e.g. the raw platform signal when
	// it had no canonical mapping).
	Detail string `json:"detail,omitempty"`
	// Participants is the roster count observed alongside this signal, or
	// NoParticipants when not observed. The count includes the bot itself.
	Participants int       `json:"participants,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// New returns an event of the given kind stamped with now and no
// participant observation.
func New(kind Kind) Event {
	return Event{Kind: kind, Participants: NoParticipants, Timestamp: time.Now()}
}

// WithDetail returns a copy of the event carrying free-text detail.
func (e Event) WithDetail(detail string) Event {
	e.Detail = detail
	return e
}

// WithParticipants returns a copy of the event carrying a roster count.
func (e Event) WithParticipants(n int) Event {
	e.Participants = n
	return e
}

// WithDenialReason returns a copy of the event carrying a permission denial
// reason. Only meaningful on KindRecordingPermissionDenied.
func (e Event) WithDenialReason(r DenialReason) Event {
	e.DenialReason = r
	return e
}
