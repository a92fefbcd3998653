package service

import "errors"

// Error kinds surfaced by the registry. Callers match them with errors.Is; the wrapped
// message names the room, schedule or user involved.
var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrScheduleNotFound       = errors.New("schedule not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrRoomNotReady           = errors.New("room not ready: the mentor has not opened it yet")
	ErrRoomCreationFailed     = errors.New("room creation failed")
	ErrRoomNotFound           = errors.New("room not found")
	ErrNoActiveSessions       = errors.New("no active sessions")
	ErrStoreUnavailable       = errors.New("session store unavailable")
	ErrExternalProviderFailed = errors.New("external room provider failed")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidArgument, "INVALID_ARGUMENT"},
	{ErrScheduleNotFound, "SCHEDULE_NOT_FOUND"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrRoomNotReady, "ROOM_NOT_READY"},
	{ErrRoomCreationFailed, "ROOM_CREATION_FAILED"},
	{ErrRoomNotFound, "ROOM_NOT_FOUND"},
	{ErrNoActiveSessions, "NO_ACTIVE_SESSIONS"},
	{ErrStoreUnavailable, "STORE_UNAVAILABLE"},
	{ErrExternalProviderFailed, "EXTERNAL_PROVIDER_FAILED"},
}

// Code returns the machine-readable code of err's kind: "OK" for nil, "INTERNAL" for
// errors outside the taxonomy.
func Code(err error) string {
	if err == nil {
		return "OK"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
