package repo

import (
	"context"
	"time"

	"github.com/developers-live/live-session/internal/models"
)

// SessionRepo is the registry's view of the shared key-value store.
type SessionRepo interface {
	// GetRoomURL returns the room's URL, or ok=false when the room is not provisioned.
	GetRoomURL(ctx context.Context, room string) (url string, ok bool, err error)
	// ClaimRoomURL stores url only if the room has none yet. It returns the URL that is
	// stored afterwards and whether it was this call's url.
	ClaimRoomURL(ctx context.Context, room, url string) (stored string, won bool, err error)

	AcquireProvisionLock(ctx context.Context, room, token string, ttl time.Duration) (bool, error)
	ReleaseProvisionLock(ctx context.Context, room, token string) error
	ProvisionLockHeld(ctx context.Context, room string) (bool, error)

	// AddMember records name in the room's membership set and resets its expiry, provided
	// the room still maps to url. ok=false means the mapping is gone or differs.
	AddMember(ctx context.Context, room, url, name string, ttl time.Duration) (ok bool, err error)
	ListRooms(ctx context.Context) ([]models.RoomView, error)
	// DeleteRoom drops the mapping and membership of a room. found=false when the room
	// was not in the mapping, in which case nothing is deleted.
	DeleteRoom(ctx context.Context, room string) (membersDeleted int64, found bool, err error)

	AddOrphan(ctx context.Context, externalID string) error
	Orphans(ctx context.Context) ([]string, error)
	RemoveOrphan(ctx context.Context, externalID string) error

	Ping(ctx context.Context) error
}

// ScheduleRepo looks up scheduling facts. Implementations never write.
type ScheduleRepo interface {
	FindByID(ctx context.Context, id int64) (models.Schedule, bool, error)
}
