// Package queue defines the reservation event payload and the background
// consumer that records it.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/room-reservation/internal/model"
)

// DefaultQueue is the durable queue reservation events are published to.
const DefaultQueue = "reservation.events"

// EventType names the mutation that produced an event.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// ReservationEvent is published after every successful reservation
// mutation.  It carries the full slot so consumers never need to query
// the primary database.
type ReservationEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	ReservationID uint64    `json:"reservation_id"`
	OwnerID       uint64    `json:"owner_id"`
	ActorID       uint64    `json:"actor_id"`
	RoomID        uint64    `json:"room_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewReservationEvent snapshots r.  day is the reservation date already
// formatted in the reference timezone.
func NewReservationEvent(t EventType, actorID uint64, r *model.Reservation, day string) ReservationEvent {
	return ReservationEvent{
		ID:            uuid.NewString(),
		Type:          t,
		ReservationID: r.ID,
		OwnerID:       r.UserID,
		ActorID:       actorID,
		RoomID:        r.RoomID,
		Date:          day,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		OccurredAt:    time.Now().UTC(),
	}
}

// LogLine renders the event as a single line for the reservation log.
func (e ReservationEvent) LogLine() string {
	return fmt.Sprintf("[%s] Reservation %s | id=%d | owner=%d | actor=%d | room=%d | date=%s | slot=%s-%s | event=%s\n",
		e.OccurredAt.UTC().Format(time.RFC3339), e.Type, e.ReservationID, e.OwnerID, e.ActorID,
		e.RoomID, e.Date, e.StartTime, e.EndTime, e.ID)
}
