package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-meetbot/backend/config"
	"github.com/aura-meetbot/backend/internal/adapter"
	"github.com/aura-meetbot/backend/internal/bot"
	"github.com/aura-meetbot/backend/internal/events"
	"github.com/aura-meetbot/backend/internal/snapshots"
)

func fastBotConfig() config.BotConfig {
	return config.BotConfig{
		WaitingRoomTimeout: time.Second,
		JoinTimeout:        5 * time.Second,
		PermissionTimeout:  time.Second,
		MaxJoinAttempts:    3,
		RetryBackoff:       5 * time.Millisecond,
		RetryBackoffCap:    10 * time.Millisecond,
		RetryWindow:        time.Minute,
		AnomalyThreshold:   3,
		LeaveGrace:         50 * time.Millisecond,
		TickInterval:       10 * time.Millisecond,
	}
}

// newTestSupervisor wires a supervisor whose factory hands out scripted
// adapters and pushes each one onto the returned channel.
func newTestSupervisor(t *testing.T) (*Supervisor, *snapshots.MemoryStore, chan *adapter.Scripted) {
	t.Helper()
	scs := make(chan *adapter.Scripted, 4)
	factory := func(_ context.Context, _ uuid.UUID, _ adapter.Platform) (adapter.Adapter, error) {
		sc := adapter.NewScripted()
		scs <- sc
		return sc, nil
	}
	store := snapshots.NewMemoryStore()
	sup := New(fastBotConfig(), "/tmp/debug_screen_recording.mp4", factory, store, nil, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})
	return sup, store, scs
}

func testCreds() adapter.Credentials {
	return adapter.Credentials{
		Platform:    adapter.PlatformLoopback,
		MeetingURL:  "https://example.com/meet/abc",
		DisplayName: "Meeting Bot",
	}
}

func TestStartStatusAndRetention(t *testing.T) {
	sup, store, scs := newTestSupervisor(t)
	ctx := context.Background()

	id, err := sup.Start(ctx, testCreds())
	require.NoError(t, err)
	sc := <-scs

	snap, err := sup.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.ID)
	assert.NotEqual(t, bot.StateEnded, snap.State)

	sc.Emit(events.New(events.KindJoinedMeeting).WithParticipants(3))
	require.Eventually(t, func() bool {
		snap, err := sup.Status(ctx, id)
		return err == nil && snap.State.InMeeting()
	}, time.Second, 2*time.Millisecond)

	sc.Emit(events.New(events.KindMeetingEnded))
	require.Eventually(t, func() bool {
		snap, err := sup.Status(ctx, id)
		return err == nil && snap.State == bot.StateEnded
	}, time.Second, 2*time.Millisecond)

	// the terminal snapshot survives in the store after the machine is gone
	retained, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bot.StateEnded, retained.State)
	assert.Equal(t, events.LeaveMeetingEnded, retained.LeaveReason)
}

func TestStatusUnknownSession(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	_, err := sup.Status(context.Background(), uuid.New())
	assert.Equal(t, ErrNotFound, err)
}

func TestRequestLeave(t *testing.T) {
	sup, _, scs := newTestSupervisor(t)
	ctx := context.Background()

	assert.Equal(t, ErrNotFound, sup.RequestLeave(ctx, uuid.New()))

	id, err := sup.Start(ctx, testCreds())
	require.NoError(t, err)
	sc := <-scs
	sc.Emit(events.New(events.KindJoinedMeeting).WithParticipants(2))

	require.NoError(t, sup.RequestLeave(ctx, id))
	require.Eventually(t, func() bool {
		snap, err := sup.Status(ctx, id)
		return err == nil && snap.State == bot.StateEnded
	}, time.Second, 2*time.Millisecond)

	snap, err := sup.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, events.LeaveOperatorRequested, snap.LeaveReason)

	// leave against a retained session is still a success
	assert.NoError(t, sup.RequestLeave(ctx, id))
}

func TestSendChat(t *testing.T) {
	sup, _, scs := newTestSupervisor(t)
	ctx := context.Background()

	assert.Equal(t, ErrNotFound, sup.SendChat(uuid.New(), "hello"))

	id, err := sup.Start(ctx, testCreds())
	require.NoError(t, err)
	sc := <-scs
	sc.Emit(events.New(events.KindJoinedMeeting).WithParticipants(3))
	sc.Emit(events.New(events.KindReadyToSendChat))
	require.Eventually(t, func() bool {
		snap, err := sup.Status(ctx, id)
		return err == nil && snap.ChatReady
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, sup.SendChat(id, "hello"))
	require.Eventually(t, func() bool {
		chats := sc.Chats()
		return len(chats) == 1 && chats[0] == "hello"
	}, time.Second, 2*time.Millisecond)
}

func TestShutdownEndsEverySession(t *testing.T) {
	scs := make(chan *adapter.Scripted, 4)
	factory := func(_ context.Context, _ uuid.UUID, _ adapter.Platform) (adapter.Adapter, error) {
		sc := adapter.NewScripted()
		scs <- sc
		return sc, nil
	}
	store := snapshots.NewMemoryStore()
	sup := New(fastBotConfig(), "/tmp/debug_screen_recording.mp4", factory, store, nil, zap.NewNop())
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		id, err := sup.Start(ctx, testCreds())
		require.NoError(t, err)
		ids = append(ids, id)
		sc := <-scs
		sc.Emit(events.New(events.KindJoinedMeeting).WithParticipants(3))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	sup.Shutdown(shutdownCtx)

	for _, id := range ids {
		snap, err := sup.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, bot.StateEnded, snap.State)
		assert.Equal(t, events.LeaveOperatorRequested, snap.LeaveReason)
	}
}
