package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMirror(t *testing.T) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisMirror(client, zap.NewNop()), mr
}

func TestRedisMirrorAppendAndReplay(t *testing.T) {
	mirror, _ := newTestMirror(t)
	m := NewManager(8)
	m.SetMirror(mirror)

	for i := 0; i < 3; i++ {
		m.Publish("wf-9", Event{Type: EventMessageChunk, Role: RoleReporter, Content: "x", Timestamp: time.Now()})
	}

	events, err := mirror.Replay(context.Background(), "wf-9", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, RoleReporter, events[0].Role)
}

func TestRedisMirrorSurvivesRedisOutage(t *testing.T) {
	mirror, mr := newTestMirror(t)
	m := NewManager(8)
	m.SetMirror(mirror)

	mr.Close()
	// Publish must not panic or block when the mirror is down
	evt := m.Publish("wf-9", Event{Type: EventRoleStart})
	assert.Equal(t, uint64(1), evt.Seq)
}
