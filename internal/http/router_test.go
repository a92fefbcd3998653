package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/developers-live/live-session/internal/events"
	"github.com/developers-live/live-session/internal/handlers"
	"github.com/developers-live/live-session/internal/models"
	"github.com/developers-live/live-session/internal/repo"
	"github.com/developers-live/live-session/internal/service"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type stubSchedules map[int64]models.Schedule

func (s stubSchedules) FindByID(ctx context.Context, id int64) (models.Schedule, bool, error) {
	sc, ok := s[id]
	return sc, ok, nil
}

type stubRooms struct {
	mu         sync.Mutex
	n          int
	failDelete bool
}

func (s *stubRooms) Create(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("https://team.daily.co/room-%d", s.n), nil
}

func (s *stubRooms) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return errors.New("provider down")
	}
	return nil
}

type testServer struct {
	*httptest.Server
	mr    *miniredis.Miniredis
	bus   *events.RedisBus
	rooms *stubRooms
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := zap.NewNop()
	keys := repo.Keys{Prefix: "live:"}
	sessions := repo.NewRedisSessionRepo(rdb, keys, noop.NewTracerProvider().Tracer("test"))
	bus := events.NewRedisBus(rdb, keys, log)
	rooms := &stubRooms{}
	schedules := stubSchedules{1: {ID: 1, MentorID: 10, MenteeID: 20}}

	svc := service.NewSessionService(sessions, schedules, rooms, bus, service.Options{
		ProvisionTimeout: time.Second,
		LockPollInterval: 5 * time.Millisecond,
	}, log)

	router := NewRouter(
		handlers.NewSessionHandler(svc, log),
		handlers.NewEventStreamHandler(bus, []string{"*"}, log),
		handlers.NewHealthHandler(sessions, log),
		[]string{"http://localhost:3000"},
		log,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, mr: mr, bus: bus, rooms: rooms}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.ContentLength != 0 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/v1/sessions/enter",
		`{"scheduleId":1,"userId":10,"userName":"Alice","roomName":"roomA","time":30}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 200, body["statusCode"])
	assert.Equal(t, "roomA", body["roomName"])
	assert.Equal(t, "Alice", body["userName"])
	url := body["roomUrl"]
	assert.Equal(t, "https://team.daily.co/room-1", url)
	assert.NotEmpty(t, body["message"])

	status, body = s.do(t, http.MethodPost, "/api/v1/sessions/enter",
		`{"scheduleId":1,"userId":20,"userName":"Bob","roomName":"roomA","time":30}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, url, body["roomUrl"])

	status, body = s.do(t, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"roomA": url}, body["roomUrlsByName"])
	assert.Equal(t, map[string]any{"roomA": []any{"Alice", "Bob"}}, body["membersByName"])

	status, body = s.do(t, http.MethodDelete, "/api/v1/sessions/roomA",
		`{"scheduleId":1,"userId":10,"roomUuid":"room-1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["deletionResult"])

	status, body = s.do(t, http.MethodGet, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NO_ACTIVE_SESSIONS", body["code"])
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/api/v1/sessions/enter", `{"scheduleId":`, 400, "INVALID_ARGUMENT"},
		{"unknown field", http.MethodPost, "/api/v1/sessions/enter", `{"scheduleId":1,"extra":true}`, 400, "INVALID_ARGUMENT"},
		{"wrong type", http.MethodPost, "/api/v1/sessions/enter", `{"scheduleId":"one"}`, 400, "INVALID_ARGUMENT"},
		{"missing time", http.MethodPost, "/api/v1/sessions/enter",
			`{"scheduleId":1,"userId":10,"userName":"Alice","roomName":"roomA"}`, 400, "INVALID_ARGUMENT"},
		{"expiry too long", http.MethodPost, "/api/v1/sessions/enter",
			`{"scheduleId":1,"userId":10,"userName":"Alice","roomName":"roomA","time":200000000}`, 400, "INVALID_ARGUMENT"},
		{"unknown schedule", http.MethodPost, "/api/v1/sessions/enter",
			`{"scheduleId":9,"userId":10,"userName":"Alice","roomName":"roomA","time":5}`, 404, "SCHEDULE_NOT_FOUND"},
		{"mentee first", http.MethodPost, "/api/v1/sessions/enter",
			`{"scheduleId":1,"userId":20,"userName":"Bob","roomName":"roomA","time":5}`, 409, "ROOM_NOT_READY"},
		{"stranger", http.MethodPost, "/api/v1/sessions/enter",
			`{"scheduleId":1,"userId":99,"userName":"Eve","roomName":"roomA","time":5}`, 403, "UNAUTHORIZED"},
		{"remove missing room", http.MethodDelete, "/api/v1/sessions/roomZ",
			`{"scheduleId":1,"userId":10,"roomUuid":"x"}`, 404, "ROOM_NOT_FOUND"},
		{"remove without uuid", http.MethodDelete, "/api/v1/sessions/roomZ",
			`{"scheduleId":1,"userId":10}`, 400, "INVALID_ARGUMENT"},
		{"mentee remove", http.MethodDelete, "/api/v1/sessions/roomZ",
			`{"scheduleId":1,"userId":20,"roomUuid":"x"}`, 403, "UNAUTHORIZED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["code"])
			assert.EqualValues(t, tt.status, body["statusCode"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestRemoveReportsProviderFailure(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodPost, "/api/v1/sessions/enter",
		`{"scheduleId":1,"userId":10,"userName":"Alice","roomName":"roomA","time":30}`)
	require.Equal(t, http.StatusOK, status)

	s.rooms.mu.Lock()
	s.rooms.failDelete = true
	s.rooms.mu.Unlock()

	status, body := s.do(t, http.MethodDelete, "/api/v1/sessions/roomA",
		`{"scheduleId":1,"userId":10,"roomUuid":"room-1"}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "EXTERNAL_PROVIDER_FAILED", body["code"])
	assert.Contains(t, body["message"], "room-1")
	assert.EqualValues(t, 1, body["deletionResult"])

	members, err := s.mr.Members("live:orphans")
	require.NoError(t, err)
	assert.Equal(t, []string{"room-1"}, members)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	s.mr.Close()
	status, body = s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "STORE_UNAVAILABLE", body["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/sessions/roomA/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(handlers.WebSocketMessage{Type: "ping"}))
	var msg handlers.WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)

	status, _ := s.do(t, http.MethodPost, "/api/v1/sessions/enter",
		`{"scheduleId":1,"userId":10,"userName":"Alice","roomName":"roomA","time":30}`)
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(events.UserEntered), msg.Type)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", payload["userName"])

	status, _ = s.do(t, http.MethodDelete, "/api/v1/sessions/roomA",
		`{"scheduleId":1,"userId":10,"roomUuid":"room-1"}`)
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(events.RoomRemoved), msg.Type)

	// the server closes the stream once the room is gone
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
