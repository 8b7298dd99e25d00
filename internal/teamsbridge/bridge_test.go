package teamsbridge

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-meetbot/backend/internal/adapter"
	"github.com/aura-meetbot/backend/internal/events"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b := NewBridge(uuid.New(), nil, nil)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// drain collects every event currently buffered on the bridge stream.
func drain(b *Bridge) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestTranslateSilenceStatus(t *testing.T) {
	b := newTestBridge(t)

	b.handleNative([]byte(`{"type":"SilenceStatus","isSilent":false}`))
	evs := drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindUtteranceDetected, evs[0].Kind)
	assert.Equal(t, events.NoParticipants, evs[0].Participants)

	// silence itself is not a signal, the state machine tracks its absence
	b.handleNative([]byte(`{"type":"SilenceStatus","isSilent":true}`))
	assert.Empty(t, drain(b))
}

func TestTranslateMeetingStatusChanges(t *testing.T) {
	cases := []struct {
		change string
		kind   events.Kind
	}{
		{"meeting_ended", events.KindMeetingEnded},
		{"removed_from_meeting", events.KindMeetingEnded},
		{"request_to_join_denied", events.KindJoinRequestDenied},
	}
	for _, tc := range cases {
		b := newTestBridge(t)
		b.handleNative([]byte(`{"type":"MeetingStatusChange","change":"` + tc.change + `"}`))
		evs := drain(b)
		require.Len(t, evs, 1, tc.change)
		assert.Equal(t, tc.kind, evs[0].Kind, tc.change)
	}

	b := newTestBridge(t)
	b.handleNative([]byte(`{"type":"MeetingStatusChange","change":"something_new"}`))
	evs := drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindPlatformInternalError, evs[0].Kind)
	assert.Contains(t, evs[0].Detail, "something_new")
}

func TestTranslateChatStatusChange(t *testing.T) {
	b := newTestBridge(t)
	b.handleNative([]byte(`{"type":"ChatStatusChange","change":"ready_to_send"}`))
	evs := drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindReadyToSendChat, evs[0].Kind)
}

func TestRosterFoldAndJoinDetection(t *testing.T) {
	b := newTestBridge(t)

	// roster without the bot is only a participant observation
	b.handleNative([]byte(`{"type":"UsersUpdate","newUsers":[
		{"deviceId":"d1","displayName":"Host","status":"active","isHost":true}
	]}`))
	evs := drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindParticipantsUpdated, evs[0].Kind)
	assert.Equal(t, 1, evs[0].Participants)

	// the first roster containing the bot doubles as the joined signal
	b.handleNative([]byte(`{"type":"UsersUpdate","newUsers":[
		{"deviceId":"d2","displayName":"Meeting Bot","status":"active","isCurrentUser":true}
	]}`))
	evs = drain(b)
	require.Len(t, evs, 2)
	assert.Equal(t, events.KindJoinedMeeting, evs[0].Kind)
	assert.Equal(t, 2, evs[0].Participants)
	assert.Equal(t, events.KindParticipantsUpdated, evs[1].Kind)

	// joined is emitted once, later rosters only update the count
	b.handleNative([]byte(`{"type":"UsersUpdate","removedUsers":[{"deviceId":"d1"}]}`))
	evs = drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindParticipantsUpdated, evs[0].Kind)
	assert.Equal(t, 1, evs[0].Participants)
}

func TestTranslateCaptionUpdate(t *testing.T) {
	b := newTestBridge(t)
	b.handleNative([]byte(`{"type":"UsersUpdate","newUsers":[
		{"deviceId":"d1","isCurrentUser":true},{"deviceId":"d2"}
	]}`))
	drain(b)

	b.handleNative([]byte(`{"type":"CaptionUpdate","caption":{"text":"hello"}}`))
	evs := drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindUtteranceDetected, evs[0].Kind)
	assert.Equal(t, 2, evs[0].Participants)
}

func TestTranslateUnknownAndUndecodable(t *testing.T) {
	b := newTestBridge(t)

	b.handleNative([]byte(`{"type":"SomethingElse"}`))
	evs := drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindPlatformInternalError, evs[0].Kind)
	assert.Contains(t, evs[0].Detail, "SomethingElse")

	b.handleNative([]byte(`not json`))
	evs = drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindPlatformInternalError, evs[0].Kind)
	assert.Contains(t, evs[0].Detail, "undecodable")
}

func TestCommandsQueueUntilAttach(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, b.AttemptJoin(ctx, adapter.Credentials{MeetingURL: "https://teams.example.com/m", DisplayName: "Meeting Bot"}))
	require.NoError(t, b.RequestRecordingPermission(ctx))
	require.NoError(t, b.SendChat(ctx, "hello"))
	require.NoError(t, b.Leave(ctx))

	var types []string
	for i := 0; i < 4; i++ {
		cmd := <-b.outbox
		types = append(types, cmd.Type)
	}
	assert.Equal(t, []string{"JoinMeeting", "RequestRecordingPermission", "SendChatMessage", "LeaveMeeting"}, types)
}

func TestCloseIsIdempotentAndStopsCommands(t *testing.T) {
	b := NewBridge(uuid.New(), nil, nil)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.Leave(context.Background())
	assert.Error(t, err)

	// the event stream is closed, not abandoned
	_, ok := <-b.Events()
	assert.False(t, ok)
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(nil)
	id := uuid.New()

	b := r.Create(id)
	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, b, got)

	require.NoError(t, b.Close())
	_, ok = r.Get(id)
	assert.False(t, ok)
}
