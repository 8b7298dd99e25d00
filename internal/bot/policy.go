package bot

import (
	"time"

	"github.com/aura-meetbot/backend/internal/events"
)

// LeavePolicy decides when a bot should autonomously depart a meeting. It is
// a pure function of session state and the clock, evaluated on every
// canonical event and on the periodic tick. Platform-independent.
type LeavePolicy struct {
	MaxUptime        time.Duration
	SoloGrace        time.Duration
	SilenceThreshold time.Duration
}

// Evaluate returns the auto-leave reason that applies at now, if any.
// Evaluation order is fixed so ties resolve deterministically: max uptime
// first, then solo participant, then silence. A zero duration disables the
// corresponding rule.
func (p LeavePolicy) Evaluate(s *Session, now time.Time) (events.LeaveReason, bool) {
	if !s.State.InMeeting() || s.JoinedAt.IsZero() {
		return "", false
	}
	if p.MaxUptime > 0 && now.Sub(s.JoinedAt) >= p.MaxUptime {
		return events.LeaveAutoMaxUptime, true
	}
	if p.SoloGrace > 0 && !s.SoloSince.IsZero() && now.Sub(s.SoloSince) >= p.SoloGrace {
		return events.LeaveAutoOnlyParticipant, true
	}
	if p.SilenceThreshold > 0 && !s.LastActivityAt.IsZero() && now.Sub(s.LastActivityAt) >= p.SilenceThreshold {
		return events.LeaveAutoSilence, true
	}
	return "", false
}
