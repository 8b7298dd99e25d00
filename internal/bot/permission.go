package bot

import (
	"time"

	"github.com/aura-meetbot/backend/internal/events"
)

// PermissionState is one node of the recording permission sub-machine.
type PermissionState string

const (
	PermissionNotRequested PermissionState = "NOT_REQUESTED"
	PermissionPending      PermissionState = "PENDING"
	PermissionGranted      PermissionState = "GRANTED"
	PermissionDenied       PermissionState = "DENIED"
)

// Permission is the recording permission negotiation state embedded in the
// Session. It resolves exactly once for the life of the session; later
// permission events are ignored to avoid flapping.
type Permission struct {
	State        PermissionState     `json:"state"`
	DenialReason events.DenialReason `json:"denial_reason,omitempty"`
	RequestedAt  time.Time           `json:"requested_at,omitempty"`
	ResolvedAt   time.Time           `json:"resolved_at,omitempty"`
}

// Request moves NOT_REQUESTED to PENDING. Returns false if already past
// NOT_REQUESTED.
func (p *Permission) Request(now time.Time) bool {
	if p.State != "" && p.State != PermissionNotRequested {
		return false
	}
	p.State = PermissionPending
	p.RequestedAt = now
	return true
}

// Grant resolves PENDING to GRANTED. Returns false when not pending.
func (p *Permission) Grant(now time.Time) bool {
	if p.State != PermissionPending {
		return false
	}
	p.State = PermissionGranted
	p.ResolvedAt = now
	return true
}

// Deny resolves PENDING to DENIED with the given reason. Returns false when
// not pending.
func (p *Permission) Deny(reason events.DenialReason, now time.Time) bool {
	if p.State != PermissionPending {
		return false
	}
	p.State = PermissionDenied
	p.DenialReason = reason
	p.ResolvedAt = now
	return true
}

// Resolved reports whether the negotiation reached GRANTED or DENIED.
func (p Permission) Resolved() bool {
	return p.State == PermissionGranted || p.State == PermissionDenied
}
