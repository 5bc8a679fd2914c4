package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
)

var _ Repository = &MemoryRepository{}

// MemoryRepository keeps rooms in process memory.
// It is used for tests and single-process play.
type MemoryRepository struct {
	lock  sync.Mutex
	rooms map[string]*models.Room
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rooms: make(map[string]*models.Room),
		now:   time.Now,
	}
}

func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) CreateRoom(ctx context.Context, hostUserID string, roomCode string) (*models.Room, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.activeRoomByCode(roomCode) != nil {
		return nil, &ErrDuplicateRoomCode{Code: roomCode}
	}

	now := r.now()
	room := &models.Room{
		ID:         uuid.NewString(),
		Code:       roomCode,
		HostUserID: hostUserID,
		Status:     models.RoomStatusWaiting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.rooms[room.ID] = room

	copy := *room
	return &copy, nil
}

func (r *MemoryRepository) JoinRoomByCode(ctx context.Context, roomCode string, guestUserID string) (*models.Room, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	room := r.activeRoomByCode(roomCode)
	if room == nil || room.Status != models.RoomStatusWaiting {
		return nil, &ErrNotFound{}
	}
	if room.GuestUserID != "" && room.GuestUserID != guestUserID {
		return nil, &ErrNotFound{}
	}

	room.GuestUserID = guestUserID
	room.UpdatedAt = r.now()

	copy := *room
	return &copy, nil
}

func (r *MemoryRepository) ReleaseGuest(ctx context.Context, roomID string, guestUserID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	room, ok := r.rooms[roomID]
	if !ok || room.Status != models.RoomStatusWaiting || room.GuestUserID != guestUserID {
		return nil
	}

	room.GuestUserID = ""
	room.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) UpdateRoomStatus(ctx context.Context, roomID string, ownerUserID string, status models.RoomStatus) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	room, ok := r.rooms[roomID]
	if !ok || room.HostUserID != ownerUserID || !room.Status.CanTransitionTo(status) {
		return nil
	}

	room.Status = status
	room.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, &ErrNotFound{}
	}

	copy := *room
	return &copy, nil
}

// activeRoomByCode must be called with the lock held.
func (r *MemoryRepository) activeRoomByCode(roomCode string) *models.Room {
	for _, room := range r.rooms {
		if room.Code == roomCode && room.Status != models.RoomStatusEnded {
			return room
		}
	}
	return nil
}
