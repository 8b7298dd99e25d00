// Package supervisor owns the set of concurrently running bot sessions and
// surfaces their terminal outcomes to the external backend.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-meetbot/backend/config"
	"github.com/aura-meetbot/backend/internal/adapter"
	"github.com/aura-meetbot/backend/internal/bot"
	"github.com/aura-meetbot/backend/internal/metrics"
	"github.com/aura-meetbot/backend/internal/snapshots"
	"github.com/aura-meetbot/backend/pkg/queue"
)

// ErrNotFound is returned when no live or retained session matches the id.
var ErrNotFound = fmt.Errorf("session not found")

// Supervisor fans the adapter -> machine -> adapter pattern out across N
// concurrent sessions. There is no shared mutable state between sessions
// except the read-only configuration.
type Supervisor struct {
	cfg       config.BotConfig
	debugPath string
	factory   adapter.Factory
	store     snapshots.Store
	jobs      *queue.Queue // nil disables debug artifact uploads
	logger    *zap.Logger

	mu   sync.RWMutex
	live map[uuid.UUID]*bot.Machine
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a supervisor. jobs may be nil when no artifact pipeline is
// configured.
func New(cfg config.BotConfig, debugPath string, factory adapter.Factory, store snapshots.Store, jobs *queue.Queue, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:       cfg,
		debugPath: debugPath,
		factory:   factory,
		store:     store,
		jobs:      jobs,
		logger:    logger,
		live:      make(map[uuid.UUID]*bot.Machine),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start creates and runs one session for the given credentials, returning
// its id. At most one machine ever exists per id.
func (s *Supervisor) Start(ctx context.Context, creds adapter.Credentials) (uuid.UUID, error) {
	id := uuid.New()
	ad, err := s.factory(ctx, id, creds.Platform)
	if err != nil {
		return uuid.Nil, fmt.Errorf("adapter for %s: %w", creds.Platform, err)
	}
	m := bot.New(id, creds, ad, s.cfg, s.logger, func(snap bot.Snapshot) {
		s.onTerminal(creds, snap)
	})

	s.mu.Lock()
	s.live[id] = m
	s.mu.Unlock()

	metrics.SessionsStarted.WithLabelValues(string(creds.Platform)).Inc()
	metrics.ActiveSessions.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m.Run(s.ctx)
	}()

	s.logger.Info("session started",
		zap.String("session_id", id.String()),
		zap.String("platform", string(creds.Platform)))
	return id, nil
}

// RequestLeave asks a live session to leave. Idempotent: a session that is
// already leaving or ended is a no-op, and an ended-but-retained session
// returns nil.
func (s *Supervisor) RequestLeave(ctx context.Context, id uuid.UUID) error {
	s.mu.RLock()
	m, ok := s.live[id]
	s.mu.RUnlock()
	if ok {
		m.RequestLeave()
		return nil
	}
	if _, err := s.store.Get(ctx, id); err == nil {
		return nil
	}
	return ErrNotFound
}

// Status returns the session snapshot, live or retained.
func (s *Supervisor) Status(ctx context.Context, id uuid.UUID) (bot.Snapshot, error) {
	s.mu.RLock()
	m, ok := s.live[id]
	s.mu.RUnlock()
	if ok {
		return m.Snapshot(), nil
	}
	snap, err := s.store.Get(ctx, id)
	if err == snapshots.ErrNotFound {
		return bot.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return bot.Snapshot{}, err
	}
	return *snap, nil
}

// SendChat posts a chat message through a live session's adapter.
func (s *Supervisor) SendChat(id uuid.UUID, text string) error {
	s.mu.RLock()
	m, ok := s.live[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return m.SendChat(text)
}

// Shutdown requests leave on every live session and waits for them to end,
// bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("all sessions ended")
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with sessions still live")
	}
}

// onTerminal removes the session from the live set, retains its snapshot,
// and enqueues the debug artifact upload when one was recorded. The live set
// only shrinks here, after ENDED, so Status never loses sight of a session.
func (s *Supervisor) onTerminal(creds adapter.Credentials, snap bot.Snapshot) {
	s.mu.Lock()
	delete(s.live, snap.ID)
	s.mu.Unlock()

	metrics.ActiveSessions.Dec()
	metrics.SessionsEnded.WithLabelValues(string(snap.Platform), string(snap.LeaveReason)).Inc()
	metrics.SessionDuration.WithLabelValues(string(snap.Platform)).Observe(float64(snap.UptimeSeconds))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, snap); err != nil {
		s.logger.Error("retain terminal snapshot", zap.Error(err), zap.String("session_id", snap.ID.String()))
	}

	if creds.DebugRecording && s.jobs != nil {
		payload := queue.DebugUploadPayload{
			SessionID: snap.ID,
			FilePath:  queue.ArtifactPath(s.debugPath, snap.ID),
		}
		if err := s.jobs.EnqueueDebugUpload(ctx, payload); err != nil {
			s.logger.Error("enqueue debug upload", zap.Error(err), zap.String("session_id", snap.ID.String()))
		}
	}
}
