package repo

import (
	"context"
	"testing"

	"github.com/developers-live/live-session/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newScheduleDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Schedule{}))
	return db
}

func TestGormScheduleRepoFindByID(t *testing.T) {
	db := newScheduleDB(t)
	require.NoError(t, db.Create(&models.Schedule{ID: 7, MentorID: 100, MenteeID: 200}).Error)

	r := NewGormScheduleRepo(db)

	s, ok, err := r.FindByID(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), s.MentorID)
	assert.Equal(t, int64(200), s.MenteeID)
	assert.Equal(t, models.RoleMentor, s.RoleOf(100))
	assert.Equal(t, models.RoleMentee, s.RoleOf(200))
	assert.Equal(t, models.RoleNone, s.RoleOf(300))
}

func TestGormScheduleRepoMissing(t *testing.T) {
	r := NewGormScheduleRepo(newScheduleDB(t))

	_, ok, err := r.FindByID(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormScheduleRepoHonoursContext(t *testing.T) {
	r := NewGormScheduleRepo(newScheduleDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := r.FindByID(ctx, 1)
	assert.Error(t, err)
}
