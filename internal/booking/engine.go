package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/iliyamo/room-reservation/internal/lock"
	"github.com/iliyamo/room-reservation/internal/model"
)

// DefaultDailyQuota is the number of reservations one user may hold on
// one calendar day.
const DefaultDailyQuota = 3

// Actor is the authenticated caller on whose behalf an operation runs.
type Actor struct {
	UserID uint64
	Role   string
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == model.RoleAdmin }

func (a Actor) canAccess(res *model.Reservation) bool {
	return a.IsAdmin() || res.UserID == a.UserID
}

// CreateRequest holds the raw slot fields of a new reservation.  OwnerID
// lets an admin book on another user's behalf; zero means the actor.
type CreateRequest struct {
	RoomID    uint64
	Date      string
	StartTime string
	EndTime   string
	OwnerID   uint64
}

// UpdateRequest is a partial update.  Only non-nil fields are applied.
type UpdateRequest struct {
	RoomID    *uint64
	Date      *string
	StartTime *string
	EndTime   *string
}

// Engine decides whether reservations may be created or changed.  All
// create and update decisions for an owner and a room go through the
// Locker, first on the owner key and then on the room key, so the
// check-then-write sequence never interleaves for the same room or the
// same owner.
type Engine struct {
	store       Store
	locker      Locker
	rooms       RoomDirectory
	cal         Calendar
	quota       int
	lockTimeout time.Duration
	log         *slog.Logger
	rec         Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// WithRooms makes the engine reject reservations for unknown rooms.
// Without it room ids are not checked.
func WithRooms(r RoomDirectory) Option { return func(e *Engine) { e.rooms = r } }

// WithCalendar sets the reference timezone used to normalize dates.
func WithCalendar(c Calendar) Option { return func(e *Engine) { e.cal = c } }

// WithDailyQuota overrides DefaultDailyQuota.
func WithDailyQuota(n int) Option { return func(e *Engine) { e.quota = n } }

// WithLockTimeout bounds how long an operation waits for the guard.
func WithLockTimeout(d time.Duration) Option { return func(e *Engine) { e.lockTimeout = d } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.rec = r } }

// NewEngine builds an Engine over store.  Without options it uses UTC,
// a quota of DefaultDailyQuota and an in-process locker, which is only
// sufficient when a single instance writes to the store.
func NewEngine(store Store, opts ...Option) *Engine {
	if store == nil {
		panic("nil store passed to NewEngine")
	}
	e := &Engine{
		store:       store,
		locker:      lock.NewLocal(),
		cal:         NewCalendar(time.UTC),
		quota:       DefaultDailyQuota,
		lockTimeout: 5 * time.Second,
		log:         slog.Default(),
		rec:         nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.quota < 1 {
		e.quota = DefaultDailyQuota
	}
	return e
}

// Calendar returns the calendar used for day normalization.
func (e *Engine) Calendar() Calendar { return e.cal }

// Create admits and persists a new reservation.  The slot is rejected
// with ErrConflict when it overlaps a live reservation of the same room
// on the same day, and with ErrQuotaExceeded when the owner already
// holds the quota on that day.  Nothing is written on rejection.
func (e *Engine) Create(ctx context.Context, actor Actor, req CreateRequest) (res *model.Reservation, err error) {
	defer func() { e.observe(ctx, "create", err) }()

	if actor.UserID == 0 {
		return nil, fmt.Errorf("%w: no authenticated user", ErrForbidden)
	}
	if req.RoomID == 0 {
		return nil, fmt.Errorf("%w: room_id is required", ErrInvalidRequest)
	}
	day, err := e.cal.ParseDay(req.Date)
	if err != nil {
		return nil, err
	}
	start, end, err := parseSlot(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	owner := actor.UserID
	if req.OwnerID != 0 && req.OwnerID != actor.UserID {
		if !actor.IsAdmin() {
			return nil, fmt.Errorf("%w: cannot reserve on behalf of another user", ErrForbidden)
		}
		owner = req.OwnerID
	}

	g := e.newGuard(ctx)
	defer g.release()
	if err := g.lock(ownerKey(owner), roomKey(req.RoomID)); err != nil {
		return nil, err
	}

	if err := e.checkRoom(g.ctx, req.RoomID); err != nil {
		return nil, err
	}
	if err := e.checkOverlap(g.ctx, req.RoomID, day, start, end, 0); err != nil {
		return nil, err
	}
	if err := e.checkQuota(g.ctx, owner, day, 0); err != nil {
		return nil, err
	}
	res = &model.Reservation{
		UserID:    owner,
		RoomID:    req.RoomID,
		Date:      day.Start,
		StartTime: start,
		EndTime:   end,
	}
	if err := g.confirm(); err != nil {
		return nil, err
	}
	if err := e.store.Insert(g.ctx, res); err != nil {
		return nil, e.storeErr(g.ctx, "insert", err)
	}
	return res, nil
}

// Update merges req into reservation id.  Any change to a slot field
// re-checks the overlap rule against all other reservations using the
// merged values; moving the reservation to another day also re-checks
// the quota of the reservation's owner, whoever the requester is.
func (e *Engine) Update(ctx context.Context, actor Actor, id uint64, req UpdateRequest) (res *model.Reservation, err error) {
	defer func() { e.observe(ctx, "update", err) }()

	cur, err := e.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	patch, err := e.parsePatch(req)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return cur, nil
	}

	// The owner key covers every mutation of this reservation, so the
	// record re-read under it is stable until release.
	g := e.newGuard(ctx)
	defer g.release()
	if err := g.lock(ownerKey(cur.UserID)); err != nil {
		return nil, err
	}
	if cur, err = e.load(g.ctx, actor, id); err != nil {
		return nil, err
	}

	roomID, day, start, end := e.merge(cur, patch)
	if start >= end {
		return nil, fmt.Errorf("%w: start_time must be before end_time", ErrInvalidRequest)
	}
	if err := g.lock(roomKey(roomID)); err != nil {
		return nil, err
	}

	if patch.RoomID != nil {
		if err := e.checkRoom(g.ctx, roomID); err != nil {
			return nil, err
		}
	}
	if err := e.checkOverlap(g.ctx, roomID, day, start, end, id); err != nil {
		return nil, err
	}
	if patch.Date != nil && !e.cal.Day(cur.Date).Start.Equal(day.Start) {
		if err := e.checkQuota(g.ctx, cur.UserID, day, id); err != nil {
			return nil, err
		}
	}
	if err := g.confirm(); err != nil {
		return nil, err
	}
	res, err = e.store.UpdateFields(g.ctx, id, patch)
	if err != nil {
		return nil, e.storeErr(g.ctx, "update", err)
	}
	return res, nil
}

// Delete removes reservation id.  Removal only loosens both rules, so
// no admission check runs.
func (e *Engine) Delete(ctx context.Context, actor Actor, id uint64) (err error) {
	defer func() { e.observe(ctx, "delete", err) }()

	if _, err := e.load(ctx, actor, id); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return e.storeErr(ctx, "delete", err)
	}
	return nil
}

// LockRoom runs fn while holding the key of roomID, so no create or
// update for that room interleaves with it.  Room removal goes through
// here.
func (e *Engine) LockRoom(ctx context.Context, roomID uint64, fn func(ctx context.Context) error) error {
	g := e.newGuard(ctx)
	defer g.release()
	if err := g.lock(roomKey(roomID)); err != nil {
		return err
	}
	if err := g.confirm(); err != nil {
		return err
	}
	return fn(g.ctx)
}

// Get returns reservation id.  A member asking for someone else's
// reservation receives ErrForbidden.
func (e *Engine) Get(ctx context.Context, actor Actor, id uint64) (*model.Reservation, error) {
	return e.load(ctx, actor, id)
}

// List returns every reservation for an admin and only the actor's own
// reservations otherwise.
func (e *Engine) List(ctx context.Context, actor Actor) ([]model.Reservation, error) {
	var (
		items []model.Reservation
		err   error
	)
	if actor.IsAdmin() {
		items, err = e.store.ListAll(ctx)
	} else {
		items, err = e.store.ListForOwner(ctx, actor.UserID)
	}
	if err != nil {
		return nil, e.storeErr(ctx, "list", err)
	}
	return items, nil
}

func (e *Engine) load(ctx context.Context, actor Actor, id uint64) (*model.Reservation, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: invalid reservation id", ErrInvalidRequest)
	}
	res, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, e.storeErr(ctx, "get", err)
	}
	if !actor.canAccess(res) {
		return nil, fmt.Errorf("%w: reservation %d belongs to another user", ErrForbidden, id)
	}
	return res, nil
}

func (e *Engine) checkRoom(ctx context.Context, roomID uint64) error {
	if e.rooms == nil {
		return nil
	}
	ok, err := e.rooms.RoomExists(ctx, roomID)
	if err != nil {
		return e.storeErr(ctx, "room exists", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRoom, roomID)
	}
	return nil
}

func (e *Engine) checkOverlap(ctx context.Context, roomID uint64, day DaySpan, start, end string, excludeID uint64) error {
	hit, err := e.store.FindOverlapping(ctx, roomID, day, start, end, excludeID)
	if err != nil {
		return e.storeErr(ctx, "find overlapping", err)
	}
	if hit != nil {
		return fmt.Errorf("%w: room %d %s-%s overlaps reservation %d (%s-%s)",
			ErrConflict, roomID, start, end, hit.ID, hit.StartTime, hit.EndTime)
	}
	return nil
}

func (e *Engine) checkQuota(ctx context.Context, owner uint64, day DaySpan, excludeID uint64) error {
	n, err := e.store.CountSameDay(ctx, owner, day, excludeID)
	if err != nil {
		return e.storeErr(ctx, "count same day", err)
	}
	if n >= e.quota {
		return fmt.Errorf("%w: user %d already holds %d reservations on %s",
			ErrQuotaExceeded, owner, n, day.Start.In(e.cal.Location()).Format("2006-01-02"))
	}
	return nil
}

func (e *Engine) parsePatch(req UpdateRequest) (Patch, error) {
	var p Patch
	if req.RoomID != nil {
		if *req.RoomID == 0 {
			return Patch{}, fmt.Errorf("%w: invalid room_id", ErrInvalidRequest)
		}
		id := *req.RoomID
		p.RoomID = &id
	}
	if req.Date != nil {
		day, err := e.cal.ParseDay(*req.Date)
		if err != nil {
			return Patch{}, err
		}
		p.Date = &day.Start
	}
	if req.StartTime != nil {
		s, err := ParseClock("start_time", *req.StartTime)
		if err != nil {
			return Patch{}, err
		}
		p.StartTime = &s
	}
	if req.EndTime != nil {
		s, err := ParseClock("end_time", *req.EndTime)
		if err != nil {
			return Patch{}, err
		}
		p.EndTime = &s
	}
	return p, nil
}

// merge overlays patch onto cur and returns the effective slot.
func (e *Engine) merge(cur *model.Reservation, p Patch) (uint64, DaySpan, string, string) {
	roomID, start, end := cur.RoomID, cur.StartTime, cur.EndTime
	day := e.cal.Day(cur.Date)
	if p.RoomID != nil {
		roomID = *p.RoomID
	}
	if p.Date != nil {
		day = e.cal.Day(*p.Date)
	}
	if p.StartTime != nil {
		start = *p.StartTime
	}
	if p.EndTime != nil {
		end = *p.EndTime
	}
	return roomID, day, start, end
}

// guard holds the leases of one admission decision.  Once the first key
// is held, ctx carries a deadline that ends before an expiring lease
// could lapse, so no store call outlives the lock that protects it.
type guard struct {
	e      *Engine
	ctx    context.Context
	cancel context.CancelFunc
	leases []lock.Lease
}

func (e *Engine) newGuard(ctx context.Context) *guard {
	return &guard{e: e, ctx: ctx, cancel: func() {}}
}

// lock takes keys in the order given.  Callers pass owner keys before
// room keys.  Leases taken earlier are confirmed again afterwards, which
// restarts their expiry after a long wait.
func (g *guard) lock(keys ...string) error {
	e := g.e
	var waitUntil time.Time
	if e.lockTimeout > 0 {
		waitUntil = time.Now().Add(e.lockTimeout)
	}
	began := time.Now()
	for _, key := range keys {
		lctx, cancel := g.ctx, context.CancelFunc(func() {})
		if !waitUntil.IsZero() {
			lctx, cancel = context.WithDeadline(g.ctx, waitUntil)
		}
		lease, err := e.locker.Acquire(lctx, key)
		cancel()
		if err != nil {
			e.log.ErrorContext(g.ctx, "admission lock failed", slog.String("key", key), slog.Any("err", err))
			return fmt.Errorf("%w: acquire %s: %w", ErrStoreUnavailable, key, err)
		}
		g.leases = append(g.leases, lease)
		if len(g.leases) == 1 {
			g.startBudget()
		}
	}
	e.rec.ObserveLockWait(time.Since(began))
	if len(g.leases) > len(keys) {
		return g.confirm()
	}
	return nil
}

func (g *guard) startBudget() {
	el, ok := g.e.locker.(ExpiringLocker)
	if !ok || el.TTL() <= 0 {
		return
	}
	ttl := el.TTL()
	g.ctx, g.cancel = context.WithTimeout(g.ctx, ttl-ttl/5)
}

// confirm verifies every lease is still held.  It runs right before
// each write.
func (g *guard) confirm() error {
	for _, lease := range g.leases {
		if err := lease.Confirm(g.ctx); err != nil {
			g.e.log.ErrorContext(g.ctx, "admission lock lost", slog.Any("err", err))
			return fmt.Errorf("%w: confirm lock: %w", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// release frees the leases in reverse order.
func (g *guard) release() {
	for i := len(g.leases) - 1; i >= 0; i-- {
		g.leases[i].Release()
	}
	g.cancel()
}

func (e *Engine) storeErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	e.log.ErrorContext(ctx, "reservation store failure", slog.String("op", op), slog.Any("err", err))
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func (e *Engine) observe(ctx context.Context, op string, err error) {
	outcome := Outcome(err)
	e.rec.ObserveDecision(op, outcome)
	if err != nil {
		e.log.DebugContext(ctx, "reservation rejected", slog.String("op", op), slog.String("outcome", outcome), slog.String("reason", err.Error()))
		return
	}
	e.log.DebugContext(ctx, "reservation accepted", slog.String("op", op))
}

func parseSlot(rawStart, rawEnd string) (string, string, error) {
	start, err := ParseClock("start_time", rawStart)
	if err != nil {
		return "", "", err
	}
	end, err := ParseClock("end_time", rawEnd)
	if err != nil {
		return "", "", err
	}
	if start >= end {
		return "", "", fmt.Errorf("%w: start_time must be before end_time", ErrInvalidRequest)
	}
	return start, end, nil
}

func ownerKey(id uint64) string { return "owner:" + strconv.FormatUint(id, 10) }

func roomKey(id uint64) string { return "room:" + strconv.FormatUint(id, 10) }
