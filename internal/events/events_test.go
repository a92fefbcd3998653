package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/developers-live/live-session/internal/repo"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) *RedisBus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBus(rdb, repo.Keys{Prefix: "live:"}, zap.NewNop())
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, closeSub, err := bus.Subscribe(ctx, "roomA")
	require.NoError(t, err)
	defer closeSub()

	require.NoError(t, bus.Publish(ctx, Event{Type: UserEntered, RoomName: "roomB", UserName: "Eve"}))
	require.NoError(t, bus.Publish(ctx, Event{Type: UserEntered, RoomName: "roomA", UserName: "Alice", RoomURL: "u1"}))

	select {
	case ev := <-ch:
		assert.Equal(t, UserEntered, ev.Type)
		assert.Equal(t, "roomA", ev.RoomName)
		assert.Equal(t, "Alice", ev.UserName)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestSubscribeStopsWithContext(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, closeSub, err := bus.Subscribe(ctx, "roomA")
	require.NoError(t, err)
	defer closeSub()

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}
