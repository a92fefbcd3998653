// Package service holds the session-room registry: who may create, join and tear down a
// live session room, and how the room's external video call is provisioned exactly once.
package service

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/developers-live/live-session/internal/events"
	"github.com/developers-live/live-session/internal/idgen"
	"github.com/developers-live/live-session/internal/metrics"
	"github.com/developers-live/live-session/internal/models"
	"github.com/developers-live/live-session/internal/repo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RoomProvisioner creates and deletes externally hosted rooms.
type RoomProvisioner interface {
	Create(ctx context.Context) (string, error)
	Delete(ctx context.Context, externalRoomID string) error
}

// EventPublisher announces room lifecycle changes.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// MaxExpiryMinutes bounds the membership expiry an entry may request (7 days).
const MaxExpiryMinutes = 7 * 24 * 60

type Options struct {
	OracleTimeout    time.Duration // bound on a schedule lookup
	ProvisionTimeout time.Duration // bound on a single provisioner call
	LockTTL          time.Duration // hold time of the per-room provisioning lock
	LockWaitTimeout  time.Duration // how long an entry waits for another's provisioning
	LockPollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.OracleTimeout <= 0 {
		o.OracleTimeout = 3 * time.Second
	}
	if o.ProvisionTimeout <= 0 {
		o.ProvisionTimeout = 10 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = o.ProvisionTimeout + 5*time.Second
	}
	if o.LockWaitTimeout <= 0 {
		o.LockWaitTimeout = 2 * o.ProvisionTimeout
	}
	if o.LockPollInterval <= 0 {
		o.LockPollInterval = 50 * time.Millisecond
	}
	return o
}

// SessionService enforces the room state machine
//
//	ABSENT -(mentor enter)-> PROVISIONED -(enter)-> OCCUPIED -(mentor remove)-> ABSENT
//
// over state kept in the shared store, so any number of instances may serve it.
type SessionService struct {
	repo      repo.SessionRepo
	schedules repo.ScheduleRepo
	rooms     RoomProvisioner
	events    EventPublisher
	opts      Options
	log       *zap.Logger

	// collapses concurrent first entries for the same room inside this process; the
	// store lock covers other processes
	provisioning singleflight.Group
}

// NewSessionService creates a SessionService. pub may be nil.
func NewSessionService(
	r repo.SessionRepo,
	schedules repo.ScheduleRepo,
	rooms RoomProvisioner,
	pub EventPublisher,
	opts Options,
	log *zap.Logger,
) *SessionService {
	return &SessionService{
		repo:      r,
		schedules: schedules,
		rooms:     rooms,
		events:    pub,
		opts:      opts.withDefaults(),
		log:       log,
	}
}

// Enter puts a user into a room.
// The mentor of the schedule opens the room, provisioning the external call on first entry;
// the mentee may only join a room the mentor has opened; anyone else is rejected before any
// state is written. On success the display name joins the membership set and the set's
// expiry is reset to the requested minutes.
func (s *SessionService) Enter(ctx context.Context, req models.EnterRequest) (res models.EnterResult, err error) {
	role := models.RoleNone
	defer func() { metrics.RecordEnter(role.String(), Code(err)) }()

	req.RoomName = strings.TrimSpace(req.RoomName)
	req.UserName = strings.TrimSpace(req.UserName)
	if req.RoomName == "" {
		return res, fmt.Errorf("%w: room name required", ErrInvalidArgument)
	}
	if req.UserName == "" {
		return res, fmt.Errorf("%w: user name required", ErrInvalidArgument)
	}
	if req.ExpiryMinutes <= 0 || req.ExpiryMinutes > MaxExpiryMinutes {
		return res, fmt.Errorf("%w: expiry must be between 1 and %d minutes, got %d",
			ErrInvalidArgument, MaxExpiryMinutes, req.ExpiryMinutes)
	}

	schedule, err := s.findSchedule(ctx, req.ScheduleID)
	if err != nil {
		return res, err
	}

	role = schedule.RoleOf(req.UserID)

	var roomURL string
	switch role {
	case models.RoleMentor:
		roomURL, err = s.openRoom(ctx, req.RoomName)
	case models.RoleMentee:
		roomURL, err = s.joinableRoom(ctx, req.RoomName)
	default:
		s.log.Warn("Rejected entry from user outside the schedule",
			zap.Int64("schedule_id", req.ScheduleID),
			zap.Int64("user_id", req.UserID),
			zap.String("user_name", req.UserName),
			zap.String("room", req.RoomName),
		)
		return res, fmt.Errorf("%w: user %s (id %d) may not enter rooms of schedule %d",
			ErrUnauthorized, req.UserName, req.UserID, req.ScheduleID)
	}
	if err != nil {
		return res, err
	}

	ttl := time.Duration(req.ExpiryMinutes) * time.Minute
	ok, err := s.repo.AddMember(ctx, req.RoomName, roomURL, req.UserName, ttl)
	if err != nil {
		return res, storeError("add member", req.RoomName, err)
	}
	if !ok {
		return res, fmt.Errorf("%w: room %q was removed while %s was entering", ErrRoomNotFound, req.RoomName, req.UserName)
	}

	s.log.Info("User entered room",
		zap.String("room", req.RoomName),
		zap.String("user_name", req.UserName),
		zap.String("role", role.String()),
		zap.String("url", roomURL),
		zap.Duration("expiry", ttl),
	)
	s.publish(ctx, events.Event{Type: events.UserEntered, RoomName: req.RoomName, UserName: req.UserName, RoomURL: roomURL})

	return models.EnterResult{RoomName: req.RoomName, UserName: req.UserName, RoomURL: roomURL}, nil
}

// List returns every room the registry knows with its URL and current members. The read is
// not atomic across rooms.
func (s *SessionService) List(ctx context.Context) (models.SessionSnapshot, error) {
	rooms, err := s.repo.ListRooms(ctx)
	if err != nil {
		return models.SessionSnapshot{}, storeError("list rooms", "", err)
	}
	if len(rooms) == 0 {
		return models.SessionSnapshot{}, ErrNoActiveSessions
	}
	return models.SessionSnapshot{Rooms: rooms}, nil
}

// Remove tears a room down. Only the schedule's mentor may do so.
// Registry state goes first so nobody can enter a room that is being torn down; the external
// room is deleted afterwards. When that delete fails the external id is queued for the
// OrphanSweeper and ErrExternalProviderFailed is returned alongside the registry result.
func (s *SessionService) Remove(ctx context.Context, req models.RemoveRequest) (res models.RemoveResult, err error) {
	defer func() { metrics.RecordRemove(Code(err)) }()

	req.RoomName = strings.TrimSpace(req.RoomName)
	req.ExternalRoomID = strings.TrimSpace(req.ExternalRoomID)
	if req.RoomName == "" {
		return res, fmt.Errorf("%w: room name required", ErrInvalidArgument)
	}
	if req.ExternalRoomID == "" {
		return res, fmt.Errorf("%w: external room id required", ErrInvalidArgument)
	}

	schedule, err := s.findSchedule(ctx, req.ScheduleID)
	if err != nil {
		return res, err
	}
	if schedule.RoleOf(req.UserID) != models.RoleMentor {
		s.log.Warn("Rejected room removal by non-mentor",
			zap.Int64("schedule_id", req.ScheduleID),
			zap.Int64("user_id", req.UserID),
			zap.String("room", req.RoomName),
		)
		return res, fmt.Errorf("%w: only the mentor of schedule %d may remove room %q (requested by user %d)",
			ErrUnauthorized, req.ScheduleID, req.RoomName, req.UserID)
	}

	n, found, err := s.repo.DeleteRoom(ctx, req.RoomName)
	if err != nil {
		return res, storeError("remove room", req.RoomName, err)
	}
	if !found {
		return res, fmt.Errorf("%w: room %q", ErrRoomNotFound, req.RoomName)
	}
	res = models.RemoveResult{RoomName: req.RoomName, MembersDeleted: n}

	s.log.Info("Room removed from registry",
		zap.String("room", req.RoomName),
		zap.Int64("members_deleted", n),
	)
	s.publish(ctx, events.Event{Type: events.RoomRemoved, RoomName: req.RoomName})

	dctx, cancel := context.WithTimeout(ctx, s.opts.ProvisionTimeout)
	defer cancel()
	if err := s.rooms.Delete(dctx, req.ExternalRoomID); err != nil {
		s.log.Error("External room teardown failed",
			zap.String("room", req.RoomName),
			zap.String("external_room", req.ExternalRoomID),
			zap.Error(err),
		)
		s.recordOrphan(ctx, req.ExternalRoomID)
		return res, fmt.Errorf("%w: room %q left the registry but external room %q was not deleted and is queued for cleanup: %w",
			ErrExternalProviderFailed, req.RoomName, req.ExternalRoomID, err)
	}
	return res, nil
}

func (s *SessionService) findSchedule(ctx context.Context, id int64) (models.Schedule, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.OracleTimeout)
	defer cancel()

	schedule, ok, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		s.log.Error("Schedule lookup failed", zap.Int64("schedule_id", id), zap.Error(err))
		return models.Schedule{}, fmt.Errorf("%w: find schedule %d: %w", ErrStoreUnavailable, id, err)
	}
	if !ok {
		return models.Schedule{}, fmt.Errorf("%w: schedule %d", ErrScheduleNotFound, id)
	}
	return schedule, nil
}

// joinableRoom resolves the URL of a room the mentor already opened.
func (s *SessionService) joinableRoom(ctx context.Context, room string) (string, error) {
	roomURL, ok, err := s.repo.GetRoomURL(ctx, room)
	if err != nil {
		return "", storeError("get room url", room, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: room %q", ErrRoomNotReady, room)
	}
	return roomURL, nil
}

// openRoom resolves the room's URL, provisioning it when this is the first mentor entry.
func (s *SessionService) openRoom(ctx context.Context, room string) (string, error) {
	roomURL, ok, err := s.repo.GetRoomURL(ctx, room)
	if err != nil {
		return "", storeError("get room url", room, err)
	}
	if ok {
		return roomURL, nil
	}

	// Provisioning is detached from the caller's cancellation: once an external room is
	// created it must land in the registry even if the requester has gone away.
	ch := s.provisioning.DoChan(room, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.LockWaitTimeout+s.opts.ProvisionTimeout)
		defer cancel()
		return s.provision(pctx, room)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: room %q: %w", ErrRoomCreationFailed, room, ctx.Err())
	}
}

// provision takes the room's lock and creates the external room, or waits for whoever holds
// the lock and reuses their URL.
func (s *SessionService) provision(ctx context.Context, room string) (string, error) {
	for {
		token := idgen.NewULID()
		acquired, err := s.repo.AcquireProvisionLock(ctx, room, token, s.opts.LockTTL)
		if err != nil {
			return "", storeError("acquire provisioning lock", room, err)
		}
		if acquired {
			return s.provisionLocked(ctx, room, token)
		}

		roomURL, err := s.awaitRoomURL(ctx, room)
		if err != nil {
			return "", err
		}
		if roomURL != "" {
			return roomURL, nil
		}
		// the holder released without a URL (its provisioning failed); compete again
	}
}

func (s *SessionService) provisionLocked(ctx context.Context, room, token string) (string, error) {
	defer func() {
		if err := s.repo.ReleaseProvisionLock(ctx, room, token); err != nil {
			// the lock expires on its own after LockTTL
			s.log.Warn("Failed to release provisioning lock", zap.String("room", room), zap.Error(err))
		}
	}()

	// the previous holder may have finished between our read and the acquisition
	if roomURL, ok, err := s.repo.GetRoomURL(ctx, room); err != nil {
		return "", storeError("get room url", room, err)
	} else if ok {
		return roomURL, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.ProvisionTimeout)
	started := time.Now()
	roomURL, err := s.rooms.Create(pctx)
	cancel()
	metrics.RecordProvision(started, err)
	if err != nil {
		s.log.Error("Room provisioning failed", zap.String("room", room), zap.Error(err))
		return "", fmt.Errorf("%w: room %q: %w", ErrRoomCreationFailed, room, err)
	}

	stored, won, err := s.repo.ClaimRoomURL(ctx, room, roomURL)
	if err != nil {
		s.recordOrphan(ctx, externalRoomID(roomURL))
		return "", storeError("store room url", room, err)
	}
	if !won {
		// the lock expired mid-provisioning and another entry stored its URL first
		s.log.Warn("Discarding duplicate external room",
			zap.String("room", room),
			zap.String("duplicate_url", roomURL),
			zap.String("stored_url", stored),
		)
		s.discard(ctx, roomURL)
		if stored == "" {
			return "", fmt.Errorf("%w: room %q was removed during provisioning", ErrRoomNotFound, room)
		}
		return stored, nil
	}

	s.log.Info("Room provisioned",
		zap.String("room", room),
		zap.String("url", roomURL),
		zap.Duration("took", time.Since(started)),
	)
	return roomURL, nil
}

// awaitRoomURL polls until the room has a URL ("" when the lock is released without one).
func (s *SessionService) awaitRoomURL(ctx context.Context, room string) (string, error) {
	ticker := time.NewTicker(s.opts.LockPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: room %q: timed out waiting for concurrent provisioning: %w",
				ErrRoomCreationFailed, room, ctx.Err())
		case <-ticker.C:
		}

		roomURL, ok, err := s.repo.GetRoomURL(ctx, room)
		if err != nil {
			return "", storeError("get room url", room, err)
		}
		if ok {
			return roomURL, nil
		}
		held, err := s.repo.ProvisionLockHeld(ctx, room)
		if err != nil {
			return "", storeError("check provisioning lock", room, err)
		}
		if !held {
			return "", nil
		}
	}
}

// discard deletes an external room the registry will not reference.
func (s *SessionService) discard(ctx context.Context, roomURL string) {
	id := externalRoomID(roomURL)
	dctx, cancel := context.WithTimeout(ctx, s.opts.ProvisionTimeout)
	defer cancel()
	if err := s.rooms.Delete(dctx, id); err != nil {
		s.log.Warn("Failed to delete duplicate external room", zap.String("external_room", id), zap.Error(err))
		s.recordOrphan(ctx, id)
	}
}

func (s *SessionService) recordOrphan(ctx context.Context, externalID string) {
	if externalID == "" {
		return
	}
	if err := s.repo.AddOrphan(context.WithoutCancel(ctx), externalID); err != nil {
		s.log.Error("Failed to queue orphaned external room",
			zap.String("external_room", externalID),
			zap.Error(err),
		)
		return
	}
	metrics.RecordOrphan("recorded")
}

func (s *SessionService) publish(ctx context.Context, ev events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("Failed to publish room event",
			zap.String("room", ev.RoomName),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

func storeError(op, room string, err error) error {
	if room == "" {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s for room %q: %w", ErrStoreUnavailable, op, room, err)
}

// externalRoomID derives the provider's room name from its access URL
// (https://team.daily.co/<name>).
func externalRoomID(roomURL string) string {
	u, err := url.Parse(roomURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return path.Base(u.Path)
}
