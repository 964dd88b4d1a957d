package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
)

const maxRoomName = 50

// RoomHandler serves public room reads and admin room writes.
type RoomHandler struct {
	Rooms *repository.RoomRepo
	// Admission serializes room removal with reservation writes.  May be
	// nil when nothing else books rooms.
	Admission *booking.Engine
	// Invalidate drops cached room responses after a write.  May be nil.
	Invalidate func(context.Context) error
}

func NewRoomHandler(rooms *repository.RoomRepo, admission *booking.Engine, invalidate func(context.Context) error) *RoomHandler {
	if rooms == nil {
		panic("nil repository passed to NewRoomHandler")
	}
	return &RoomHandler{Rooms: rooms, Admission: admission, Invalidate: invalidate}
}

type roomReq struct {
	Name      *string `json:"name"`
	Address   *string `json:"address"`
	Telephone *string `json:"telephone"`
	OpenTime  *string `json:"open_time"`
	CloseTime *string `json:"close_time"`
}

type roomResp struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Telephone string    `json:"telephone"`
	OpenTime  string    `json:"open_time"`
	CloseTime string    `json:"close_time"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toRoomResp(r *model.Room) roomResp {
	return roomResp{
		ID:        r.ID,
		Name:      r.Name,
		Address:   r.Address,
		Telephone: r.Telephone,
		OpenTime:  r.OpenTime,
		CloseTime: r.CloseTime,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// apply overlays req onto rm and validates the result.
func (req roomReq) apply(rm *model.Room) error {
	if req.Name != nil {
		rm.Name = strings.TrimSpace(*req.Name)
	}
	if req.Address != nil {
		rm.Address = strings.TrimSpace(*req.Address)
	}
	if req.Telephone != nil {
		rm.Telephone = strings.TrimSpace(*req.Telephone)
	}
	if req.OpenTime != nil {
		t, err := booking.ParseClock("open_time", *req.OpenTime)
		if err != nil {
			return err
		}
		rm.OpenTime = t
	}
	if req.CloseTime != nil {
		t, err := booking.ParseClock("close_time", *req.CloseTime)
		if err != nil {
			return err
		}
		rm.CloseTime = t
	}
	switch {
	case rm.Name == "":
		return errors.New("name is required")
	case utf8.RuneCountInString(rm.Name) > maxRoomName:
		return errors.New("name must be at most 50 characters")
	case rm.OpenTime == "" || rm.CloseTime == "":
		return errors.New("open_time and close_time are required")
	case rm.OpenTime >= rm.CloseTime:
		return errors.New("open_time must be before close_time")
	}
	return nil
}

// List handles GET /v1/rooms.
func (h *RoomHandler) List(c echo.Context) error {
	rooms, err := h.Rooms.ListAll(c.Request().Context())
	if err != nil {
		return internalError(c, "list rooms failed", err)
	}
	out := make([]roomResp, 0, len(rooms))
	for i := range rooms {
		out = append(out, toRoomResp(&rooms[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(out), "items": out})
}

// Get handles GET /v1/rooms/:id.
func (h *RoomHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	rm, err := h.Rooms.GetByID(c.Request().Context(), id)
	if err != nil {
		return h.roomError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": toRoomResp(rm)})
}

// Create handles POST /v1/rooms (admin).
func (h *RoomHandler) Create(c echo.Context) error {
	var req roomReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	var rm model.Room
	if err := req.apply(&rm); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := h.Rooms.Create(c.Request().Context(), &rm); err != nil {
		return h.roomError(c, err)
	}
	h.invalidate(c)
	return c.JSON(http.StatusCreated, echo.Map{"item": toRoomResp(&rm)})
}

// Update handles PUT and PATCH /v1/rooms/:id (admin).
func (h *RoomHandler) Update(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	var req roomReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx := c.Request().Context()
	rm, err := h.Rooms.GetByID(ctx, id)
	if err != nil {
		return h.roomError(c, err)
	}
	if err := req.apply(rm); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := h.Rooms.Update(ctx, rm); err != nil {
		return h.roomError(c, err)
	}
	h.invalidate(c)
	return c.JSON(http.StatusOK, echo.Map{"item": toRoomResp(rm)})
}

// Delete handles DELETE /v1/rooms/:id (admin).  Reservations and reviews
// of the room go with it.
func (h *RoomHandler) Delete(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	del := func(ctx context.Context) error { return h.Rooms.Delete(ctx, id) }
	var err error
	if h.Admission != nil {
		err = h.Admission.LockRoom(c.Request().Context(), id, del)
	} else {
		err = del(c.Request().Context())
	}
	if err != nil {
		return h.roomError(c, err)
	}
	h.invalidate(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *RoomHandler) roomError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "room name already exists"})
	case errors.Is(err, booking.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, booking.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "unavailable", "message": "room store unavailable, retry later"})
	}
	return internalError(c, "room request failed", err)
}

func (h *RoomHandler) invalidate(c echo.Context) {
	if h.Invalidate == nil {
		return
	}
	if err := h.Invalidate(c.Request().Context()); err != nil {
		slog.WarnContext(c.Request().Context(), "room cache invalidation failed", slog.Any("err", err))
	}
}
