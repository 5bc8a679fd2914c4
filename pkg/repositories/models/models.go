package models

import "time"

// RoomStatus is the lifecycle status of a room record.
type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusPlaying RoomStatus = "playing"
	RoomStatusEnded   RoomStatus = "ended"
)

func (s RoomStatus) rank() int {
	switch s {
	case RoomStatusWaiting:
		return 0
	case RoomStatusPlaying:
		return 1
	case RoomStatusEnded:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s RoomStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether moving from s to next goes forward.
// Status only moves waiting -> playing -> ended, and ended is terminal.
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() > s.rank()
}

// Predecessors returns the statuses a room may be in to move to s.
func (s RoomStatus) Predecessors() []RoomStatus {
	var statuses []RoomStatus
	for _, candidate := range []RoomStatus{RoomStatusWaiting, RoomStatusPlaying, RoomStatusEnded} {
		if candidate.CanTransitionTo(s) {
			statuses = append(statuses, candidate)
		}
	}
	return statuses
}

func ParseRoomStatus(s string) (RoomStatus, bool) {
	status := RoomStatus(s)
	return status, status.Valid()
}

type Room struct {
	ID          string     `json:"id"`
	Code        string     `json:"room_code"`
	HostUserID  string     `json:"host_user_id"`
	GuestUserID string     `json:"guest_user_id,omitempty"`
	Status      RoomStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
