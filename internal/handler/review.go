package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
)

const maxReviewComment = 500

// ReviewHandler lets users rate rooms they have reserved.
type ReviewHandler struct {
	Reviews      *repository.ReviewRepo
	Rooms        *repository.RoomRepo
	Reservations *repository.ReservationRepo
}

func NewReviewHandler(reviews *repository.ReviewRepo, rooms *repository.RoomRepo, reservations *repository.ReservationRepo) *ReviewHandler {
	if reviews == nil || rooms == nil || reservations == nil {
		panic("nil repository passed to NewReviewHandler")
	}
	return &ReviewHandler{Reviews: reviews, Rooms: rooms, Reservations: reservations}
}

type createReviewReq struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type reviewResp struct {
	ID        uint64    `json:"id"`
	RoomID    uint64    `json:"room_id"`
	UserID    uint64    `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

func toReviewResp(rv *model.Review) reviewResp {
	return reviewResp{
		ID:        rv.ID,
		RoomID:    rv.RoomID,
		UserID:    rv.UserID,
		Rating:    rv.Rating,
		Comment:   rv.Comment,
		CreatedAt: rv.CreatedAt,
	}
}

// Create handles POST /v1/rooms/:id/reviews.
func (h *ReviewHandler) Create(c echo.Context) error {
	userID, _, ok := middleware.Identity(c)
	if !ok {
		return unauthorized(c)
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	var req createReviewReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Comment = strings.TrimSpace(req.Comment)
	if req.Rating < 1 || req.Rating > 5 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "rating must be between 1 and 5"})
	}
	if utf8.RuneCountInString(req.Comment) > maxReviewComment {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "comment must be at most 500 characters"})
	}

	ctx := c.Request().Context()
	if _, err := h.Rooms.GetByID(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
		}
		return internalError(c, "load room failed", err)
	}
	reserved, err := h.Reservations.ExistsForUserAndRoom(ctx, userID, roomID)
	if err != nil {
		return internalError(c, "check reservations failed", err)
	}
	if !reserved {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only users who reserved this room can review it"})
	}

	rv := model.Review{RoomID: roomID, UserID: userID, Rating: req.Rating, Comment: req.Comment}
	if err := h.Reviews.Create(ctx, &rv); err != nil {
		if errors.Is(err, repository.ErrAlreadyReviewed) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "already reviewed"})
		}
		return internalError(c, "create review failed", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"item": toReviewResp(&rv)})
}

// List handles GET /v1/rooms/:id/reviews, newest first.
func (h *ReviewHandler) List(c echo.Context) error {
	roomID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
	}
	ctx := c.Request().Context()
	if _, err := h.Rooms.GetByID(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
		}
		return internalError(c, "load room failed", err)
	}
	reviews, err := h.Reviews.ListByRoom(ctx, roomID)
	if err != nil {
		return internalError(c, "list reviews failed", err)
	}
	out := make([]reviewResp, 0, len(reviews))
	for i := range reviews {
		out = append(out, toReviewResp(&reviews[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(out), "items": out})
}
