package router_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/config"
	"github.com/iliyamo/room-reservation/internal/database"
	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/lock"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/observability"
	"github.com/iliyamo/room-reservation/internal/queue"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/router"
)

const secret = "router-test-secret"

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.ReservationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type testServer struct {
	e   *echo.Echo
	pub *recordingPublisher
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := config.Config{
		Env:            "dev",
		JWTSecret:      secret,
		AccessTTLMin:   15,
		RefreshTTLDays: 7,
		BcryptCost:     4,
	}
	cacheCfg := config.CacheConfig{
		Enabled:     true,
		Methods:     map[string]bool{http.MethodGet: true},
		TTL:         time.Minute,
		KeyStrategy: "route_query",
		Prefix:      "cache",
	}
	metrics := observability.NewMetrics("local")
	reservations := repository.NewReservationRepo(db)
	rooms := repository.NewRoomRepo(db)
	engine := booking.NewEngine(reservations,
		booking.WithLocker(lock.NewLocal()),
		booking.WithRooms(rooms),
		booking.WithCalendar(booking.NewCalendar(time.UTC)),
		booking.WithRecorder(metrics),
	)
	pub := &recordingPublisher{}

	e := echo.New()
	router.RegisterRoutes(e, db, metrics.Handler())
	users := repository.NewUserRepo(db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db)), secret)
	router.RegisterRooms(e,
		handler.NewRoomHandler(rooms, engine, func(ctx context.Context) error {
			return middleware.InvalidateCache(ctx, cacheCfg, rdb)
		}),
		handler.NewReviewHandler(repository.NewReviewRepo(db), rooms, reservations),
		secret,
		middleware.NewRedisCache(cacheCfg, rdb),
	)
	router.RegisterReservations(e, handler.NewReservationHandler(engine, rooms, users, pub), secret, nil)
	return &testServer{e: e, pub: pub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(bs))
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

type session struct {
	id      uint64
	access  string
	refresh string
}

func (s *testServer) register(t *testing.T, email, role string) session {
	t.Helper()
	rec, out := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "User " + email, "email": email, "password": "secret123", "role": role,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return sessionFrom(out)
}

func sessionFrom(out map[string]any) session {
	user := out["user"].(map[string]any)
	return session{
		id:      uint64(user["id"].(float64)),
		access:  out["access"].(map[string]any)["token"].(string),
		refresh: out["refresh"].(map[string]any)["token"].(string),
	}
}

func (s *testServer) createRoom(t *testing.T, admin session, name string) uint64 {
	t.Helper()
	rec, out := s.do(t, http.MethodPost, "/v1/rooms", admin.access, map[string]string{
		"name": name, "address": "1 Main St", "open_time": "8:00", "close_time": "22:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return itemID(out)
}

func itemID(out map[string]any) uint64 {
	return uint64(out["item"].(map[string]any)["id"].(float64))
}

func reservationPath(id uint64) string {
	return "/v1/reservations/" + strconv.FormatUint(id, 10)
}

func slot(room uint64, date, start, end string) map[string]any {
	return map[string]any{"room_id": room, "date": date, "start_time": start, "end_time": end}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)
	rec, _ := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec, out := s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", out["status"])

	rec, _ = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)
	alice := s.register(t, "Alice@Example.com", "")

	rec, out := s.do(t, http.MethodGet, "/v1/auth/me", alice.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := out["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "member", user["role"])

	rec, _ = s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Dup", "email": "alice@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Short", "email": "short@example.com", "password": "123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ALICE@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	login := sessionFrom(out)
	assert.Equal(t, alice.id, login.id)

	rec, out = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": login.refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := sessionFrom(out)
	assert.NotEqual(t, login.refresh, rotated.refresh)

	rec, _ = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": login.refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a rotated refresh token is spent")

	rec, _ = s.do(t, http.MethodPost, "/v1/auth/logout", "", map[string]string{"refresh_token": rotated.refresh})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": rotated.refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRooms(t *testing.T) {
	s := newServer(t)
	admin := s.register(t, "admin@example.com", "admin")
	member := s.register(t, "member@example.com", "")

	rec, _ := s.do(t, http.MethodPost, "/v1/rooms", member.access, map[string]string{
		"name": "Blue", "open_time": "08:00", "close_time": "20:00",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/v1/rooms", admin.access, map[string]string{
		"name": "Blue", "open_time": "20:00", "close_time": "08:00",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := s.createRoom(t, admin, "Blue")
	path := "/v1/rooms/" + strconv.FormatUint(id, 10)

	rec, _ = s.do(t, http.MethodPost, "/v1/rooms", admin.access, map[string]string{
		"name": "Blue", "open_time": "08:00", "close_time": "20:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, out := s.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "08:00", out["item"].(map[string]any)["open_time"])
	rec, _ = s.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec, _ = s.do(t, http.MethodPatch, path, admin.access, map[string]string{"name": "Green"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out = s.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"), "room writes invalidate the cache")
	assert.Equal(t, "Green", out["item"].(map[string]any)["name"])

	rec, out = s.do(t, http.MethodGet, "/v1/rooms", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["count"])

	rec, _ = s.do(t, http.MethodDelete, path, admin.access, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = s.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReservationLifecycle(t *testing.T) {
	s := newServer(t)
	admin := s.register(t, "admin@example.com", "admin")
	alice := s.register(t, "alice@example.com", "")
	bob := s.register(t, "bob@example.com", "")
	room := s.createRoom(t, admin, "Blue")
	other := s.createRoom(t, admin, "Red")

	rec, out := s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(room, "2025-06-01", "9:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := out["item"].(map[string]any)
	assert.Equal(t, "2025-06-01", item["date"])
	assert.Equal(t, "09:00", item["start_time"])
	assert.EqualValues(t, alice.id, item["user_id"])
	first := itemID(out)

	rec, out = s.do(t, http.MethodPost, "/v1/reservations", bob.access, slot(room, "2025-06-01T00:00:00Z", "09:30", "10:30"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", out["error"])

	rec, _ = s.do(t, http.MethodPost, "/v1/reservations", bob.access, slot(room, "2025-06-01", "10:00", "11:00"))
	assert.Equal(t, http.StatusCreated, rec.Code, "touching slots do not conflict")

	rec, out = s.do(t, http.MethodPost, "/v1/reservations", bob.access, slot(999, "2025-06-01", "12:00", "13:00"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "room not found", out["error"])

	rec, out = s.do(t, http.MethodPost, "/v1/reservations", bob.access, slot(room, "2025-06-01", "13:00", "12:00"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", out["error"])

	rec, _ = s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(other, "2025-06-01", "12:00", "13:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(other, "2025-06-01", "14:00", "15:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, out = s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(other, "2025-06-01T18:00:00Z", "16:00", "17:00"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "quota_exceeded", out["error"])

	rec, out = s.do(t, http.MethodGet, "/v1/reservations", alice.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, out["count"])
	rec, out = s.do(t, http.MethodGet, "/v1/reservations", admin.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, out["count"])

	rec, out = s.do(t, http.MethodGet, reservationPath(first), bob.access, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", out["error"])
	rec, _ = s.do(t, http.MethodGet, reservationPath(9999), alice.access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodPatch, reservationPath(first), alice.access, map[string]string{"end_time": "10:30"})
	assert.Equal(t, http.StatusConflict, rec.Code, "extending into bob's slot")

	rec, out = s.do(t, http.MethodPatch, reservationPath(first), alice.access, map[string]string{"start_time": "08:00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item = out["item"].(map[string]any)
	assert.Equal(t, "08:00", item["start_time"])
	assert.Equal(t, "10:00", item["end_time"])

	rec, _ = s.do(t, http.MethodPut, reservationPath(first), bob.access, map[string]string{"start_time": "07:00"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, reservationPath(first), bob.access, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = s.do(t, http.MethodDelete, reservationPath(first), alice.access, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = s.do(t, http.MethodDelete, reservationPath(first), alice.access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(other, "2025-06-01", "16:00", "17:00"))
	assert.Equal(t, http.StatusCreated, rec.Code, "a deleted reservation frees quota")

	rec, _ = s.do(t, http.MethodGet, "/v1/reservations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Eventually(t, func() bool { return len(s.pub.types()) == 7 }, time.Second, 10*time.Millisecond)
	counts := map[queue.EventType]int{}
	for _, typ := range s.pub.types() {
		counts[typ]++
	}
	assert.Equal(t, map[queue.EventType]int{
		queue.EventCreated: 5,
		queue.EventUpdated: 1,
		queue.EventDeleted: 1,
	}, counts)
}

func TestAdminBooksOnBehalf(t *testing.T) {
	s := newServer(t)
	admin := s.register(t, "admin@example.com", "admin")
	alice := s.register(t, "alice@example.com", "")
	bob := s.register(t, "bob@example.com", "")
	room := s.createRoom(t, admin, "Blue")

	body := slot(room, "2025-06-02", "09:00", "10:00")
	body["user_id"] = alice.id
	rec, out := s.do(t, http.MethodPost, "/v1/reservations", admin.access, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, alice.id, out["item"].(map[string]any)["user_id"])

	body = slot(room, "2025-06-02", "11:00", "12:00")
	body["user_id"] = alice.id
	rec, _ = s.do(t, http.MethodPost, "/v1/reservations", bob.access, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReviews(t *testing.T) {
	s := newServer(t)
	admin := s.register(t, "admin@example.com", "admin")
	alice := s.register(t, "alice@example.com", "")
	bob := s.register(t, "bob@example.com", "")
	room := s.createRoom(t, admin, "Blue")
	path := "/v1/rooms/" + strconv.FormatUint(room, 10) + "/reviews"

	rec, _ := s.do(t, http.MethodPost, path, "", map[string]any{"rating": 5})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodPost, path, alice.access, map[string]any{"rating": 5})
	assert.Equal(t, http.StatusForbidden, rec.Code, "no reservation for the room yet")

	rec, _ = s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(room, "2025-06-01", "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = s.do(t, http.MethodPost, path, alice.access, map[string]any{"rating": 6})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = s.do(t, http.MethodPost, path, alice.access, map[string]any{"rating": 4, "comment": strings.Repeat("x", 501)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, path, alice.access, map[string]any{"rating": 4, "comment": " quiet "})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, out := s.do(t, http.MethodPost, path, alice.access, map[string]any{"rating": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already reviewed", out["error"])

	rec, _ = s.do(t, http.MethodPost, path, bob.access, map[string]any{"rating": 2})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out = s.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["count"])
	items := out["items"].([]any)
	assert.Equal(t, "quiet", items[0].(map[string]any)["comment"])

	rec, _ = s.do(t, http.MethodGet, "/v1/rooms/999/reviews", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReservationUpdateAuthorizesBeforeRoomLookup(t *testing.T) {
	s := newServer(t)
	admin := s.register(t, "admin@example.com", "admin")
	alice := s.register(t, "alice@example.com", "")
	bob := s.register(t, "bob@example.com", "")
	room := s.createRoom(t, admin, "Blue")

	rec, out := s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(room, "2025-06-01", "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := itemID(out)

	rec, out = s.do(t, http.MethodPatch, reservationPath(id), bob.access, map[string]any{"room_id": 999})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", out["error"])

	rec, out = s.do(t, http.MethodPatch, reservationPath(id), alice.access, map[string]any{"room_id": 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "room not found", out["error"])
}

func TestReservationResponsesEmbedRoomAndOwner(t *testing.T) {
	s := newServer(t)
	admin := s.register(t, "admin@example.com", "admin")
	alice := s.register(t, "alice@example.com", "")
	room := s.createRoom(t, admin, "Blue")

	rec, out := s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(room, "2025-06-01", "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	item := out["item"].(map[string]any)
	assert.Equal(t, "Blue", item["room"].(map[string]any)["name"])
	assert.NotContains(t, item, "owner", "members do not see contact details")
	id := itemID(out)

	rec, out = s.do(t, http.MethodGet, reservationPath(id), admin.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	item = out["item"].(map[string]any)
	owner := item["owner"].(map[string]any)
	assert.Equal(t, "alice@example.com", owner["email"])
	assert.Equal(t, "User alice@example.com", owner["name"])
	assert.Equal(t, "08:00", item["room"].(map[string]any)["open_time"])

	rec, out = s.do(t, http.MethodGet, "/v1/reservations", admin.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := out["items"].([]any)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].(map[string]any), "owner")
}

func TestRoomDeleteRemovesReservations(t *testing.T) {
	s := newServer(t)
	admin := s.register(t, "admin@example.com", "admin")
	alice := s.register(t, "alice@example.com", "")
	room := s.createRoom(t, admin, "Blue")

	rec, _ := s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(room, "2025-06-01", "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, "/v1/rooms/"+strconv.FormatUint(room, 10), admin.access, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, out := s.do(t, http.MethodGet, "/v1/reservations", alice.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, out["count"])

	rec, out = s.do(t, http.MethodPost, "/v1/reservations", alice.access, slot(room, "2025-06-01", "09:00", "10:00"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "room not found", out["error"])
}
