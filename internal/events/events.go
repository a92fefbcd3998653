// Package events fans room lifecycle events out over Redis pub/sub so every instance can
// stream them to its websocket clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/developers-live/live-session/internal/idgen"
	"github.com/developers-live/live-session/internal/repo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Type string

const (
	UserEntered Type = "user_entered"
	RoomRemoved Type = "room_removed"
)

type Event struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	RoomName string    `json:"roomName"`
	UserName string    `json:"userName,omitempty"`
	RoomURL  string    `json:"roomUrl,omitempty"`
	At       time.Time `json:"at"`
}

// RedisBus publishes and subscribes to per-room event channels.
type RedisBus struct {
	rdb  *redis.Client
	keys repo.Keys
	log  *zap.Logger
}

func NewRedisBus(rdb *redis.Client, keys repo.Keys, log *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, keys: keys, log: log}
}

// Publish sends ev to the room's channel, stamping its id and time when unset.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = idgen.NewEventID()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.keys.Events(ev.RoomName), data).Err(); err != nil {
		return fmt.Errorf("publish %s for room %q: %w", ev.Type, ev.RoomName, err)
	}
	return nil
}

// Subscribe streams the room's events until ctx is done or the returned close func is
// called. The subscription is confirmed before Subscribe returns, so no event published
// afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context, room string) (<-chan Event, func() error, error) {
	ps := b.rdb.Subscribe(ctx, b.keys.Events(room))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe to room %q: %w", room, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn("Dropping malformed room event",
						zap.String("room", room),
						zap.Error(err),
					)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, ps.Close, nil
}
