package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/queue"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/service"
)

// ReservationHandler exposes the admission engine over HTTP.  Every
// route requires JWTAuth.  Responses embed the booked room and, for
// admins, the owner's contact details.
type ReservationHandler struct {
	Engine    *booking.Engine
	Rooms     *repository.RoomRepo
	Users     *repository.UserRepo
	Publisher service.EventPublisher
}

// NewReservationHandler panics if engine or rooms is nil.  A nil users
// repository leaves owner details out; a nil publisher disables events.
func NewReservationHandler(engine *booking.Engine, rooms *repository.RoomRepo, users *repository.UserRepo, pub service.EventPublisher) *ReservationHandler {
	if engine == nil || rooms == nil {
		panic("nil dependency passed to NewReservationHandler")
	}
	if pub == nil {
		pub = service.NopPublisher{}
	}
	return &ReservationHandler{Engine: engine, Rooms: rooms, Users: users, Publisher: pub}
}

type createReservationReq struct {
	RoomID    uint64 `json:"room_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	UserID    uint64 `json:"user_id"`
}

type updateReservationReq struct {
	RoomID    *uint64 `json:"room_id"`
	Date      *string `json:"date"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
}

type roomSummary struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Telephone string `json:"telephone"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

type ownerSummary struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Telephone string `json:"telephone"`
}

type reservationResp struct {
	ID        uint64        `json:"id"`
	UserID    uint64        `json:"user_id"`
	RoomID    uint64        `json:"room_id"`
	Date      string        `json:"date"`
	StartTime string        `json:"start_time"`
	EndTime   string        `json:"end_time"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Room      *roomSummary  `json:"room,omitempty"`
	Owner     *ownerSummary `json:"owner,omitempty"`
}

// presenter builds responses, loading each room and owner once.
type presenter struct {
	h      *ReservationHandler
	admin  bool
	rooms  map[uint64]*roomSummary
	owners map[uint64]*ownerSummary
}

func (h *ReservationHandler) newPresenter(act booking.Actor) *presenter {
	return &presenter{
		h:      h,
		admin:  act.IsAdmin(),
		rooms:  map[uint64]*roomSummary{},
		owners: map[uint64]*ownerSummary{},
	}
}

func (p *presenter) present(ctx context.Context, r *model.Reservation) (reservationResp, error) {
	out := reservationResp{
		ID:        r.ID,
		UserID:    r.UserID,
		RoomID:    r.RoomID,
		Date:      p.h.Engine.Calendar().FormatDay(r.Date),
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	room, err := p.room(ctx, r.RoomID)
	if err != nil {
		return out, err
	}
	out.Room = room
	if p.admin && p.h.Users != nil {
		if out.Owner, err = p.owner(ctx, r.UserID); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (p *presenter) room(ctx context.Context, id uint64) (*roomSummary, error) {
	if rs, ok := p.rooms[id]; ok {
		return rs, nil
	}
	rm, err := p.h.Rooms.GetByID(ctx, id)
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		p.rooms[id] = nil
		return nil, nil
	case err != nil:
		return nil, err
	}
	rs := &roomSummary{ID: rm.ID, Name: rm.Name, Address: rm.Address, Telephone: rm.Telephone, OpenTime: rm.OpenTime, CloseTime: rm.CloseTime}
	p.rooms[id] = rs
	return rs, nil
}

func (p *presenter) owner(ctx context.Context, id uint64) (*ownerSummary, error) {
	if sum, ok := p.owners[id]; ok {
		return sum, nil
	}
	u, err := p.h.Users.GetByID(ctx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		p.owners[id] = nil
		return nil, nil
	case err != nil:
		return nil, err
	}
	sum := &ownerSummary{ID: u.ID, Name: u.Name, Email: u.Email, Telephone: u.Telephone}
	p.owners[id] = sum
	return sum, nil
}

// item writes {"item": ...} for one reservation.
func (h *ReservationHandler) item(c echo.Context, status int, act booking.Actor, res *model.Reservation) error {
	out, err := h.newPresenter(act).present(c.Request().Context(), res)
	if err != nil {
		return internalError(c, "load reservation details failed", err)
	}
	return c.JSON(status, echo.Map{"item": out})
}

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	act, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	var req createReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Engine.Create(c.Request().Context(), act, booking.CreateRequest{
		RoomID:    req.RoomID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		OwnerID:   req.UserID,
	})
	if err != nil {
		return bookingError(c, err)
	}
	h.publish(c, queue.EventCreated, act, res)
	return h.item(c, http.StatusCreated, act, res)
}

// List handles GET /v1/reservations.
func (h *ReservationHandler) List(c echo.Context) error {
	act, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	items, err := h.Engine.List(c.Request().Context(), act)
	if err != nil {
		return bookingError(c, err)
	}
	p := h.newPresenter(act)
	out := make([]reservationResp, 0, len(items))
	for i := range items {
		r, err := p.present(c.Request().Context(), &items[i])
		if err != nil {
			return internalError(c, "load reservation details failed", err)
		}
		out = append(out, r)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(out), "items": out})
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	act, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	res, err := h.Engine.Get(c.Request().Context(), act, id)
	if err != nil {
		return bookingError(c, err)
	}
	return h.item(c, http.StatusOK, act, res)
}

// Update handles PUT and PATCH /v1/reservations/:id.  Both are partial:
// omitted fields keep their stored values.
func (h *ReservationHandler) Update(c echo.Context) error {
	act, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	var req updateReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Engine.Update(c.Request().Context(), act, id, booking.UpdateRequest{
		RoomID:    req.RoomID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		return bookingError(c, err)
	}
	h.publish(c, queue.EventUpdated, act, res)
	return h.item(c, http.StatusOK, act, res)
}

// Delete handles DELETE /v1/reservations/:id.
func (h *ReservationHandler) Delete(c echo.Context) error {
	act, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	ctx := c.Request().Context()
	// Snapshot for the event; Delete re-checks access itself.
	res, err := h.Engine.Get(ctx, act, id)
	if err != nil {
		return bookingError(c, err)
	}
	if err := h.Engine.Delete(ctx, act, id); err != nil {
		return bookingError(c, err)
	}
	h.publish(c, queue.EventDeleted, act, res)
	return c.NoContent(http.StatusNoContent)
}

func (h *ReservationHandler) publish(c echo.Context, t queue.EventType, act booking.Actor, res *model.Reservation) {
	ev := queue.NewReservationEvent(t, act.UserID, res, h.Engine.Calendar().FormatDay(res.Date))
	service.PublishAsync(c.Request().Context(), h.Publisher, ev)
}
