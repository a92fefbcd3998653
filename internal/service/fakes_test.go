package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/developers-live/live-session/internal/events"
	"github.com/developers-live/live-session/internal/models"
)

type fakeSchedules struct {
	mu        sync.RWMutex
	schedules map[int64]models.Schedule

	block      bool // wait for ctx instead of answering
	shouldFail bool
}

func newFakeSchedules(ss ...models.Schedule) *fakeSchedules {
	f := &fakeSchedules{schedules: make(map[int64]models.Schedule)}
	for _, s := range ss {
		f.schedules[s.ID] = s
	}
	return f
}

func (f *fakeSchedules) FindByID(ctx context.Context, id int64) (models.Schedule, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.block {
		<-ctx.Done()
		return models.Schedule{}, false, ctx.Err()
	}
	if f.shouldFail {
		return models.Schedule{}, false, errors.New("database unavailable")
	}
	s, ok := f.schedules[id]
	return s, ok, nil
}

type fakeProvisioner struct {
	mu      sync.Mutex
	created []string
	deleted []string

	delay            time.Duration
	shouldFailCreate bool
	shouldFailDelete bool
}

func (f *fakeProvisioner) Create(ctx context.Context) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shouldFailCreate {
		return "", errors.New("provider down")
	}
	url := fmt.Sprintf("https://team.daily.co/room-%d", len(f.created)+1)
	f.created = append(f.created, url)
	return url, nil
}

func (f *fakeProvisioner) Delete(ctx context.Context, externalRoomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shouldFailDelete {
		return errors.New("provider down")
	}
	f.deleted = append(f.deleted, externalRoomID)
	return nil
}

func (f *fakeProvisioner) setFailures(create, del bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shouldFailCreate = create
	f.shouldFailDelete = del
}

func (f *fakeProvisioner) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeProvisioner) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(ctx context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) types() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Type, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}
