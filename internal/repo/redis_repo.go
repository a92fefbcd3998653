package repo

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/developers-live/live-session/internal/metrics"
	"github.com/developers-live/live-session/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// addMemberScript adds a member only while the room still maps to the expected URL,
	// so a join racing a remove cannot resurrect the room.
	addMemberScript = redis.NewScript(`
		local url = redis.call('HGET', KEYS[1], ARGV[1])
		if (not url) or url ~= ARGV[2] then
			return 0
		end
		redis.call('SADD', KEYS[2], ARGV[3])
		redis.call('EXPIRE', KEYS[2], tonumber(ARGV[4]))
		return 1
	`)

	// deleteRoomScript drops mapping and membership together. -1 means the room was absent.
	deleteRoomScript = redis.NewScript(`
		if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
			return -1
		end
		redis.call('HDEL', KEYS[1], ARGV[1])
		return redis.call('DEL', KEYS[2])
	`)

	// releaseLockScript deletes the lock only for its owner.
	releaseLockScript = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0
	`)
)

type RedisSessionRepo struct {
	rdb    *redis.Client
	keys   Keys
	tracer trace.Tracer
}

func NewRedisSessionRepo(rdb *redis.Client, keys Keys, tracer trace.Tracer) *RedisSessionRepo {
	return &RedisSessionRepo{rdb: rdb, keys: keys, tracer: tracer}
}

// observe opens a span for op and returns the function that closes it and records metrics.
func (rr *RedisSessionRepo) observe(ctx context.Context, op, room string) (context.Context, func(error)) {
	ctx, span := rr.tracer.Start(ctx, "RedisSessionRepo."+op)
	if room != "" {
		span.SetAttributes(attribute.String("room.name", room))
	}
	started := time.Now()
	return ctx, func(err error) {
		metrics.ObserveRedis(op, started, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" failed")
		}
		span.End()
	}
}

func (rr *RedisSessionRepo) GetRoomURL(ctx context.Context, room string) (url string, ok bool, err error) {
	ctx, done := rr.observe(ctx, "get_room_url", room)
	defer func() { done(err) }()

	url, err = rr.rdb.HGet(ctx, rr.keys.Rooms(), room).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

func (rr *RedisSessionRepo) ClaimRoomURL(ctx context.Context, room, url string) (stored string, won bool, err error) {
	ctx, done := rr.observe(ctx, "claim_room_url", room)
	defer func() { done(err) }()

	won, err = rr.rdb.HSetNX(ctx, rr.keys.Rooms(), room, url).Result()
	if err != nil {
		return "", false, err
	}
	if won {
		return url, true, nil
	}
	stored, err = rr.rdb.HGet(ctx, rr.keys.Rooms(), room).Result()
	if errors.Is(err, redis.Nil) {
		// removed between HSETNX and HGET
		return "", false, nil
	}
	return stored, false, err
}

func (rr *RedisSessionRepo) AcquireProvisionLock(ctx context.Context, room, token string, ttl time.Duration) (ok bool, err error) {
	ctx, done := rr.observe(ctx, "acquire_lock", room)
	defer func() { done(err) }()

	return rr.rdb.SetNX(ctx, rr.keys.Lock(room), token, ttl).Result()
}

func (rr *RedisSessionRepo) ReleaseProvisionLock(ctx context.Context, room, token string) (err error) {
	ctx, done := rr.observe(ctx, "release_lock", room)
	defer func() { done(err) }()

	return releaseLockScript.Run(ctx, rr.rdb, []string{rr.keys.Lock(room)}, token).Err()
}

func (rr *RedisSessionRepo) ProvisionLockHeld(ctx context.Context, room string) (held bool, err error) {
	ctx, done := rr.observe(ctx, "lock_held", room)
	defer func() { done(err) }()

	n, err := rr.rdb.Exists(ctx, rr.keys.Lock(room)).Result()
	return n == 1, err
}

func (rr *RedisSessionRepo) AddMember(ctx context.Context, room, url, name string, ttl time.Duration) (ok bool, err error) {
	ctx, done := rr.observe(ctx, "add_member", room)
	defer func() { done(err) }()

	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	n, err := addMemberScript.Run(ctx, rr.rdb,
		[]string{rr.keys.Rooms(), rr.keys.Members(room)},
		room, url, name, seconds,
	).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (rr *RedisSessionRepo) ListRooms(ctx context.Context) (rooms []models.RoomView, err error) {
	ctx, done := rr.observe(ctx, "list_rooms", "")
	defer func() { done(err) }()

	urls, err := rr.rdb.HGetAll(ctx, rr.keys.Rooms()).Result()
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return []models.RoomView{}, nil
	}

	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)

	pipe := rr.rdb.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.SMembers(ctx, rr.keys.Members(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	rooms = make([]models.RoomView, 0, len(names))
	for i, name := range names {
		members, err := cmds[i].Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if members == nil {
			members = []string{}
		}
		sort.Strings(members)
		rooms = append(rooms, models.RoomView{Name: name, URL: urls[name], Members: members})
	}
	return rooms, nil
}

func (rr *RedisSessionRepo) DeleteRoom(ctx context.Context, room string) (membersDeleted int64, found bool, err error) {
	ctx, done := rr.observe(ctx, "delete_room", room)
	defer func() { done(err) }()

	n, err := deleteRoomScript.Run(ctx, rr.rdb,
		[]string{rr.keys.Rooms(), rr.keys.Members(room)},
		room,
	).Int64()
	if err != nil {
		return 0, false, err
	}
	if n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

func (rr *RedisSessionRepo) AddOrphan(ctx context.Context, externalID string) (err error) {
	ctx, done := rr.observe(ctx, "add_orphan", "")
	defer func() { done(err) }()

	return rr.rdb.SAdd(ctx, rr.keys.Orphans(), externalID).Err()
}

func (rr *RedisSessionRepo) Orphans(ctx context.Context) (ids []string, err error) {
	ctx, done := rr.observe(ctx, "orphans", "")
	defer func() { done(err) }()

	ids, err = rr.rdb.SMembers(ctx, rr.keys.Orphans()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (rr *RedisSessionRepo) RemoveOrphan(ctx context.Context, externalID string) (err error) {
	ctx, done := rr.observe(ctx, "remove_orphan", "")
	defer func() { done(err) }()

	return rr.rdb.SRem(ctx, rr.keys.Orphans(), externalID).Err()
}

func (rr *RedisSessionRepo) Ping(ctx context.Context) error {
	return rr.rdb.Ping(ctx).Err()
}
