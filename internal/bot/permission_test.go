package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-meetbot/backend/internal/events"
)

func TestPermissionLifecycle(t *testing.T) {
	now := time.Now()
	var p Permission

	assert.False(t, p.Resolved())
	require.True(t, p.Request(now))
	assert.Equal(t, PermissionPending, p.State)
	assert.False(t, p.Resolved())

	require.True(t, p.Grant(now.Add(time.Second)))
	assert.Equal(t, PermissionGranted, p.State)
	assert.True(t, p.Resolved())
	assert.Equal(t, now.Add(time.Second), p.ResolvedAt)
}

func TestPermissionResolvesExactlyOnce(t *testing.T) {
	now := time.Now()
	var p Permission
	require.True(t, p.Request(now))
	require.True(t, p.Deny(events.DenialHostDenied, now))

	// every later resolution attempt is rejected
	assert.False(t, p.Grant(now))
	assert.False(t, p.Deny(events.DenialRequestTimedOut, now))
	assert.False(t, p.Request(now))

	assert.Equal(t, PermissionDenied, p.State)
	assert.Equal(t, events.DenialHostDenied, p.DenialReason)
}

func TestPermissionCannotResolveBeforeRequest(t *testing.T) {
	now := time.Now()
	var p Permission

	assert.False(t, p.Grant(now))
	assert.False(t, p.Deny(events.DenialHostDenied, now))
	assert.False(t, p.Resolved())

	require.True(t, p.Request(now))
	assert.False(t, p.Request(now))
}
