// Package registry is the room registry as seen by a session: create a room,
// join one by code, and move its status forward.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
)

// Room identifies a newly created room.
type Room struct {
	ID   string `json:"roomId"`
	Code string `json:"roomCode"`
}

// RoomRegistry is implemented by Local and HTTP.
type RoomRegistry interface {
	// CreateRoom registers a waiting room owned by hostUserID.
	CreateRoom(ctx context.Context, hostUserID string) (*Room, error)
	// JoinRoomByCode atomically claims the guest slot of the waiting room with code.
	// It returns ErrNotFound when there is no such room or another guest holds the slot.
	JoinRoomByCode(ctx context.Context, code string, guestUserID string) (string, error)
	// ReleaseGuest gives the guest slot back while the room is still waiting.
	// It is a silent no-op unless guestUserID holds the slot.
	ReleaseGuest(ctx context.Context, roomID string, guestUserID string) error
	// UpdateStatus is a silent no-op unless ownerUserID hosts the room.
	UpdateStatus(ctx context.Context, roomID string, ownerUserID string, status models.RoomStatus) error
}

var (
	// ErrUnauthenticated is returned when an operation has no user identity.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrNotFound covers both unknown codes and rooms that cannot take a guest.
	ErrNotFound = errors.New("room not found")
)

// WriteError wraps a failure of the backing store.
type WriteError struct {
	Op      string
	Message string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func IsWriteError(err error) bool {
	var writeErr *WriteError
	return errors.As(err, &writeErr)
}
