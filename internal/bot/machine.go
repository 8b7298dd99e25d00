package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-meetbot/backend/config"
	"github.com/aura-meetbot/backend/internal/adapter"
	"github.com/aura-meetbot/backend/internal/events"
	"github.com/aura-meetbot/backend/internal/metrics"
)

// TerminalFunc is called exactly once with the terminal snapshot when the
// session reaches ENDED.
type TerminalFunc func(Snapshot)

// Machine is one session's lifecycle state machine. A single goroutine
// (Run) owns the Session record and consumes canonical events strictly one
// at a time, so no two events ever race on the same session's state.
type Machine struct {
	creds   adapter.Credentials
	ad      adapter.Adapter
	cfg     config.BotConfig
	policy  LeavePolicy
	logger  *zap.Logger
	ops     chan events.Event
	chat    chan string
	onEnd   TerminalFunc
	pending adapter.Command

	mu      sync.RWMutex
	session Session

	// dedup state, touched only by the run goroutine
	lastSeen map[events.Kind]dedupKey
	// transient join failure timestamps inside the sliding retry window
	attempts  []time.Time
	anomalies int

	waitingRoomT *time.Timer
	joinT        *time.Timer
	permissionT  *time.Timer
	retryT       *time.Timer
	leaveGraceT  *time.Timer
}

type dedupKey struct {
	bucket       int64
	participants int
}

// New creates a machine in CREATED for the given adapter and credentials.
func New(id uuid.UUID, creds adapter.Credentials, ad adapter.Adapter, cfg config.BotConfig, logger *zap.Logger, onEnd TerminalFunc) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now()
	return &Machine{
		creds:  creds,
		ad:     ad,
		cfg:    cfg,
		policy: LeavePolicy{MaxUptime: cfg.MaxUptime, SoloGrace: cfg.SoloGrace, SilenceThreshold: cfg.SilenceThreshold},
		logger: logger.With(zap.String("session_id", id.String()), zap.String("platform", string(creds.Platform))),
		ops:    make(chan events.Event, 8),
		chat:   make(chan string, 8),
		onEnd:  onEnd,
		session: Session{
			ID:         id,
			Platform:   creds.Platform,
			State:      StateCreated,
			Path:       []State{StateCreated},
			CreatedAt:  now,
			Permission: Permission{State: PermissionNotRequested},
		},
		lastSeen: make(map[events.Kind]dedupKey),
	}
}

// Snapshot returns a read-only copy of the session at this instant.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.snapshot(time.Now())
}

// RequestLeave asks the session to leave on the operator's behalf. Idempotent:
// against an already LEAVING or ENDED session it is a no-op.
func (m *Machine) RequestLeave() {
	select {
	case m.ops <- events.New(events.KindOperatorRequestedLeave):
	default:
		// inbox full means a leave is already in flight
	}
}

// SendChat asks the adapter to post a chat message into the meeting.
func (m *Machine) SendChat(text string) error {
	select {
	case m.chat <- text:
		return nil
	default:
		return fmt.Errorf("chat queue full")
	}
}

// Run drives the session until ENDED. It is the only goroutine that mutates
// the Session. Cancelling ctx requests an operator leave; Run still runs the
// session to a clean terminal state before returning.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.setState(StateJoining)
	m.issueJoin(ctx)

	evs := m.ad.Events()
	done := ctx.Done()
	for {
		select {
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				m.onStreamClosed(ctx)
				break
			}
			m.handleEvent(ctx, ev)
		case ev := <-m.ops:
			m.handleEvent(ctx, ev)
		case text := <-m.chat:
			m.sendChat(ctx, text)
		case <-timerC(m.waitingRoomT):
			m.waitingRoomT = nil
			m.logger.Info("waiting room timeout expired")
			m.beginLeaving(ctx, events.LeaveWaitingRoomTimeout, "")
		case <-timerC(m.joinT):
			m.joinT = nil
			m.handleTransientFailure(ctx, events.New(events.KindCouldNotConnect).WithDetail("join attempt timed out"))
		case <-timerC(m.permissionT):
			m.permissionT = nil
			m.resolvePermissionDenied(ctx, events.DenialRequestTimedOut, time.Now())
		case <-timerC(m.retryT):
			m.retryT = nil
			m.issueJoin(ctx)
		case <-timerC(m.leaveGraceT):
			m.leaveGraceT = nil
			m.logger.Warn("leave not confirmed within grace period, forcing ENDED")
			m.end()
		case now := <-ticker.C:
			m.evaluatePolicy(ctx, now)
		case <-done:
			done = nil
			m.beginLeaving(ctx, events.LeaveOperatorRequested, "shutdown requested")
		}

		if m.state() == StateEnded {
			m.finish()
			return
		}
	}
}

func (m *Machine) state() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.State
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	from := m.session.State
	m.session.State = s
	m.session.Path = append(m.session.Path, s)
	m.mu.Unlock()
	m.logger.Info("state transition", zap.String("from", string(from)), zap.String("to", string(s)))
}

func (m *Machine) handleEvent(ctx context.Context, ev events.Event) {
	if m.state() == StateEnded {
		return
	}
	if m.duplicate(ev) {
		m.logger.Debug("duplicate event dropped", zap.String("kind", string(ev.Kind)))
		return
	}
	metrics.EventsProcessed.WithLabelValues(string(ev.Kind)).Inc()

	if ev.Participants != events.NoParticipants {
		m.observeParticipants(ev.Participants, ev.Timestamp)
	}

	switch ev.Kind {
	case events.KindUtteranceDetected:
		m.mu.Lock()
		m.session.LastActivityAt = ev.Timestamp
		m.mu.Unlock()

	case events.KindParticipantsUpdated:
		// roster observation only, handled above

	case events.KindPutInWaitingRoom:
		if m.state() == StateJoining {
			m.clearPending(adapter.CommandAttemptJoin)
			m.setState(StateWaitingRoom)
			m.waitingRoomT = time.NewTimer(m.cfg.WaitingRoomTimeout)
		}

	case events.KindJoinedMeeting:
		if s := m.state(); s == StateJoining || s == StateWaitingRoom {
			m.clearPending(adapter.CommandAttemptJoin)
			m.stopTimer(&m.waitingRoomT)
			now := ev.Timestamp
			m.mu.Lock()
			m.session.JoinedAt = now
			m.session.LastActivityAt = now
			m.mu.Unlock()
			m.setState(StateJoined)
			m.startPermissionNegotiation(ctx, now)
		}

	case events.KindWaitingForHost:
		if s := m.state(); s == StateJoining || s == StateWaitingRoom {
			m.beginLeaving(ctx, events.LeaveWaitingForHost, ev.Detail)
		}

	case events.KindWaitingRoomTimeout:
		if m.state() == StateWaitingRoom {
			m.beginLeaving(ctx, events.LeaveWaitingRoomTimeout, ev.Detail)
		}

	case events.KindAuthorizationFailed:
		if !m.state().TerminalBound() {
			m.setFailureDetail(ev.Detail)
			m.setState(StateAuthFailed)
			m.beginLeaving(ctx, events.LeaveAuthorizationFailed, ev.Detail)
		}

	case events.KindJoinRequestDenied:
		if !m.state().TerminalBound() {
			m.beginLeaving(ctx, events.LeaveJoinRequestDenied, ev.Detail)
		}

	case events.KindMeetingNotFound:
		if !m.state().TerminalBound() {
			m.beginLeaving(ctx, events.LeaveMeetingNotFound, ev.Detail)
		}

	case events.KindPlatformStatusFailed, events.KindPlatformStatusFailedExternal:
		if !m.state().TerminalBound() {
			m.setFailureDetail(string(ev.Kind) + ": " + ev.Detail)
			m.setState(StateFatalError)
			m.beginLeaving(ctx, events.LeaveFatalError, ev.Detail)
		}

	case events.KindCouldNotConnect, events.KindLoginAttemptFailed, events.KindLoginRequired:
		m.handleTransientFailure(ctx, ev)

	case events.KindBlockedByPlatform:
		if !m.state().TerminalBound() {
			m.setFailureDetail(ev.Detail)
			m.setState(StateBlocked)
			m.beginLeaving(ctx, events.LeaveBlockedByPlatform, ev.Detail)
		}

	case events.KindUIElementNotFound, events.KindPlatformInternalError:
		m.handleAnomaly(ctx, ev)

	case events.KindRecordingPermissionGranted:
		m.resolvePermissionGranted(ev.Timestamp)

	case events.KindRecordingPermissionDenied:
		reason := ev.DenialReason
		if reason == "" {
			reason = events.DenialHostDenied
		}
		m.resolvePermissionDenied(ctx, reason, ev.Timestamp)

	case events.KindMeetingEnded:
		if m.state() == StateLeaving {
			// adapter confirmed departure
			m.clearPending(adapter.CommandLeave)
			m.end()
			return
		}
		m.beginLeaving(ctx, events.LeaveMeetingEnded, ev.Detail)
		// the platform already tore the meeting down, no confirmation will come
		m.end()
		return

	case events.KindOperatorRequestedLeave:
		m.beginLeaving(ctx, events.LeaveOperatorRequested, ev.Detail)

	case events.KindReadyToSendChat:
		m.mu.Lock()
		m.session.ChatReady = true
		m.mu.Unlock()
		m.logger.Info("chat available")

	case events.KindReadyToRenderPresence:
		m.logger.Info("presence rendering available")

	case events.KindEnteredBreakoutRoom, events.KindLeftBreakoutRoom:
		m.logger.Info("breakout room change", zap.String("kind", string(ev.Kind)))

	default:
		m.logger.Warn("unhandled canonical event", zap.String("kind", string(ev.Kind)), zap.String("detail", ev.Detail))
	}

	m.evaluatePolicy(ctx, time.Now())
}

// duplicate drops a rare repeated adapter emission: same kind, same
// participant observation, same timestamp bucket.
func (m *Machine) duplicate(ev events.Event) bool {
	key := dedupKey{
		bucket:       ev.Timestamp.Truncate(m.cfg.DedupWindow).UnixNano(),
		participants: ev.Participants,
	}
	if prev, ok := m.lastSeen[ev.Kind]; ok && prev == key {
		return true
	}
	m.lastSeen[ev.Kind] = key
	return false
}

func (m *Machine) observeParticipants(n int, at time.Time) {
	m.mu.Lock()
	m.session.ParticipantCount = n
	if n <= 1 {
		if m.session.SoloSince.IsZero() {
			m.session.SoloSince = at
		}
	} else {
		m.session.SoloSince = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Machine) issueJoin(ctx context.Context) {
	if m.pending != "" {
		m.logger.Debug("command outstanding, join not issued", zap.String("pending", string(m.pending)))
		return
	}
	m.pending = adapter.CommandAttemptJoin
	if err := m.ad.AttemptJoin(ctx, m.creds); err != nil {
		m.pending = ""
		m.logger.Error("attempt_join command failed", zap.Error(err))
		m.handleTransientFailure(ctx, events.New(events.KindCouldNotConnect).WithDetail(err.Error()))
		return
	}
	m.stopTimer(&m.joinT)
	m.joinT = time.NewTimer(m.cfg.JoinTimeout)
}

func (m *Machine) handleTransientFailure(ctx context.Context, ev events.Event) {
	if s := m.state(); s != StateJoining && s != StateWaitingRoom {
		return
	}
	m.clearPending(adapter.CommandAttemptJoin)

	now := ev.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-m.cfg.RetryWindow)
	kept := m.attempts[:0]
	for _, t := range m.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.attempts = append(kept, now)

	if len(m.attempts) >= m.cfg.MaxJoinAttempts {
		m.logger.Warn("transient failure ceiling reached",
			zap.Int("attempts", len(m.attempts)), zap.String("kind", string(ev.Kind)))
		m.setFailureDetail(fmt.Sprintf("%s after %d attempts", ev.Kind, len(m.attempts)))
		m.setState(StateBlocked)
		m.beginLeaving(ctx, events.LeaveBlockedByPlatform, ev.Detail)
		return
	}

	delay := m.cfg.RetryBackoff
	for i := 1; i < len(m.attempts); i++ {
		delay *= 2
		if delay >= m.cfg.RetryBackoffCap {
			delay = m.cfg.RetryBackoffCap
			break
		}
	}
	m.logger.Info("transient join failure, retrying",
		zap.String("kind", string(ev.Kind)),
		zap.Int("attempt", len(m.attempts)),
		zap.Duration("backoff", delay))
	m.stopTimer(&m.retryT)
	m.retryT = time.NewTimer(delay)
}

func (m *Machine) handleAnomaly(ctx context.Context, ev events.Event) {
	m.anomalies++
	metrics.AnomaliesObserved.Inc()
	m.logger.Warn("recoverable anomaly",
		zap.String("kind", string(ev.Kind)),
		zap.String("detail", ev.Detail),
		zap.Int("count", m.anomalies))
	if m.anomalies >= m.cfg.AnomalyThreshold && !m.state().TerminalBound() {
		m.setFailureDetail(fmt.Sprintf("anomaly threshold exceeded (%d): last %s", m.anomalies, ev.Kind))
		m.setState(StateFatalError)
		m.beginLeaving(ctx, events.LeaveFatalError, ev.Detail)
	}
}

func (m *Machine) startPermissionNegotiation(ctx context.Context, now time.Time) {
	m.mu.Lock()
	requested := m.session.Permission.Request(now)
	m.mu.Unlock()
	if !requested {
		return
	}
	m.setState(StateRecordingPermissionPending)
	m.pending = adapter.CommandRequestRecordingPermission
	if err := m.ad.RequestRecordingPermission(ctx); err != nil {
		m.logger.Error("request_recording_permission command failed", zap.Error(err))
	}
	m.permissionT = time.NewTimer(m.cfg.PermissionTimeout)
}

func (m *Machine) resolvePermissionGranted(now time.Time) {
	m.mu.Lock()
	granted := m.session.Permission.Grant(now)
	m.mu.Unlock()
	if !granted {
		return
	}
	m.clearPending(adapter.CommandRequestRecordingPermission)
	m.stopTimer(&m.permissionT)
	if m.state() == StateRecordingPermissionPending {
		m.setState(StateRecording)
	}
}

func (m *Machine) resolvePermissionDenied(ctx context.Context, reason events.DenialReason, now time.Time) {
	m.mu.Lock()
	denied := m.session.Permission.Deny(reason, now)
	m.mu.Unlock()
	if !denied {
		return
	}
	m.clearPending(adapter.CommandRequestRecordingPermission)
	m.stopTimer(&m.permissionT)
	m.logger.Info("recording permission denied", zap.String("reason", string(reason)))
	if m.state() != StateRecordingPermissionPending {
		return
	}
	if m.cfg.LeaveOnDenied {
		m.beginLeaving(ctx, events.LeaveRecordingDenied, string(reason))
		return
	}
	m.setState(StateParticipatingNoRecording)
}

func (m *Machine) evaluatePolicy(ctx context.Context, now time.Time) {
	m.mu.RLock()
	reason, leave := m.policy.Evaluate(&m.session, now)
	m.mu.RUnlock()
	if leave {
		m.beginLeaving(ctx, reason, "")
	}
}

func (m *Machine) sendChat(ctx context.Context, text string) {
	m.mu.RLock()
	ready := m.session.ChatReady
	inMeeting := m.session.State.InMeeting()
	m.mu.RUnlock()
	if !inMeeting {
		m.logger.Warn("chat requested outside meeting, dropped")
		return
	}
	if !ready {
		m.logger.Warn("chat requested before platform chat is available, dropped")
		return
	}
	if err := m.ad.SendChat(ctx, text); err != nil {
		m.logger.Error("send_chat command failed", zap.Error(err))
	}
}

// beginLeaving records the leave reason and moves to LEAVING. First caller
// wins: against an already LEAVING or ENDED session it is a no-op, so a
// concurrently evaluated auto-leave can never overwrite an earlier reason.
func (m *Machine) beginLeaving(ctx context.Context, reason events.LeaveReason, detail string) {
	if s := m.state(); s == StateLeaving || s == StateEnded {
		return
	}
	m.stopTimer(&m.waitingRoomT)
	m.stopTimer(&m.joinT)
	m.stopTimer(&m.permissionT)
	m.stopTimer(&m.retryT)

	m.mu.Lock()
	m.session.LeaveReason = reason
	if detail != "" && m.session.FailureDetail == "" {
		m.session.FailureDetail = detail
	}
	m.mu.Unlock()
	m.setState(StateLeaving)
	m.logger.Info("leaving meeting", zap.String("reason", string(reason)))

	m.pending = adapter.CommandLeave
	if err := m.ad.Leave(ctx); err != nil {
		m.logger.Error("leave command failed", zap.Error(err))
	}
	m.leaveGraceT = time.NewTimer(m.cfg.LeaveGrace)
}

func (m *Machine) onStreamClosed(ctx context.Context) {
	switch m.state() {
	case StateLeaving:
		m.end()
	case StateEnded:
	default:
		m.setFailureDetail("adapter event stream closed")
		m.setState(StateFatalError)
		m.beginLeaving(ctx, events.LeaveFatalError, "adapter event stream closed")
		// nothing left to confirm the departure
		m.end()
	}
}

// end moves the session to ENDED and cancels every outstanding timer so no
// late-firing transition can touch terminal state.
func (m *Machine) end() {
	if m.state() == StateEnded {
		return
	}
	m.stopTimer(&m.waitingRoomT)
	m.stopTimer(&m.joinT)
	m.stopTimer(&m.permissionT)
	m.stopTimer(&m.retryT)
	m.stopTimer(&m.leaveGraceT)
	m.mu.Lock()
	m.session.EndedAt = time.Now()
	m.mu.Unlock()
	m.setState(StateEnded)
}

func (m *Machine) finish() {
	if err := m.ad.Close(); err != nil {
		m.logger.Warn("adapter close", zap.Error(err))
	}
	snap := m.Snapshot()
	m.logger.Info("session ended",
		zap.String("leave_reason", string(snap.LeaveReason)),
		zap.Int64("uptime_seconds", snap.UptimeSeconds))
	if m.onEnd != nil {
		m.onEnd(snap)
	}
}

func (m *Machine) setFailureDetail(detail string) {
	if detail == "" {
		return
	}
	m.mu.Lock()
	if m.session.FailureDetail == "" {
		m.session.FailureDetail = detail
	}
	m.mu.Unlock()
}

func (m *Machine) clearPending(c adapter.Command) {
	if m.pending == c {
		m.pending = ""
		if c == adapter.CommandAttemptJoin {
			m.stopTimer(&m.joinT)
		}
	}
}

func (m *Machine) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
