package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "OK"},
		{fmt.Errorf("%w: room %q", ErrRoomNotReady, "roomA"), "ROOM_NOT_READY"},
		{fmt.Errorf("%w: get room url: %w", ErrStoreUnavailable, errors.New("dial tcp")), "STORE_UNAVAILABLE"},
		{fmt.Errorf("%w: teardown: %w", ErrExternalProviderFailed, errors.New("502")), "EXTERNAL_PROVIDER_FAILED"},
		{ErrNoActiveSessions, "NO_ACTIVE_SESSIONS"},
		{errors.New("boom"), "INTERNAL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err))
	}
}
