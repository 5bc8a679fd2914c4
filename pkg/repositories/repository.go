package repositories

import (
	"context"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
)

// Repository is the durable room registry store.
type Repository interface {
	Close(ctx context.Context) error
	// CreateRoom inserts a waiting room owned by hostUserID.
	// It returns ErrDuplicateRoomCode if an active room already uses roomCode.
	CreateRoom(ctx context.Context, hostUserID string, roomCode string) (*models.Room, error)
	// JoinRoomByCode assigns guestUserID to the waiting room with roomCode in a single atomic step.
	// Joining again as the same guest succeeds.
	// It returns ErrNotFound if no waiting room has that code or another guest holds the slot.
	JoinRoomByCode(ctx context.Context, roomCode string, guestUserID string) (*models.Room, error)
	// ReleaseGuest frees the guest slot of a waiting room held by guestUserID.
	// Any other room state is silently ignored.
	ReleaseGuest(ctx context.Context, roomID string, guestUserID string) error
	// UpdateRoomStatus moves the room forward to status if ownerUserID is its host.
	// Mismatched owners and backward transitions are silently ignored.
	UpdateRoomStatus(ctx context.Context, roomID string, ownerUserID string, status models.RoomStatus) error
	// GetRoom returns ErrNotFound if the room does not exist.
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
}
