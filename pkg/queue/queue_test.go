package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), client
}

func TestArtifactPath(t *testing.T) {
	id := uuid.MustParse("9f1c7d3e-2a4b-4c5d-8e6f-0123456789ab")

	got := ArtifactPath("/tmp/debug_screen_recording.mp4", id)
	assert.Equal(t, "/tmp/debug_screen_recording.9f1c7d3e-2a4b-4c5d-8e6f-0123456789ab.mp4", got)

	// no extension still yields a unique per-session path
	got = ArtifactPath("/tmp/recording", id)
	assert.Equal(t, "/tmp/recording.9f1c7d3e-2a4b-4c5d-8e6f-0123456789ab", got)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	sessionID := uuid.New()
	payload := DebugUploadPayload{
		SessionID: sessionID,
		FilePath:  "/tmp/debug_screen_recording." + sessionID.String() + ".mp4",
	}
	require.NoError(t, q.EnqueueDebugUpload(ctx, payload))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeDebugUpload, job.Type)
	assert.Equal(t, 0, job.Attempt)

	var got DebugUploadPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestDequeueSkipsInvalidPayload(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, client.RPush(ctx, QueueDebugUploads, "not json").Err())

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryMovesToDLQAfterCeiling(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueDebugUpload(ctx, DebugUploadPayload{
		SessionID: uuid.New(),
		FilePath:  "/tmp/debug_screen_recording.mp4",
	}))
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	// attempts below the ceiling go back on the work queue
	for attempt := 1; attempt < MaxRetries; attempt++ {
		require.NoError(t, q.Retry(ctx, job))
		assert.Equal(t, attempt, job.Attempt)

		job, err = q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, attempt, job.Attempt)
	}

	// the final attempt lands in the DLQ, not the work queue
	require.NoError(t, q.Retry(ctx, job))
	assert.Equal(t, MaxRetries, job.Attempt)

	dlq, err := client.LLen(ctx, QueueDLQ).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, dlq)

	work, err := client.LLen(ctx, QueueDebugUploads).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, work)
}
