package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequence hands out codes in order and then repeats the last one.
func sequence(codes ...string) CodeGenerator {
	i := 0
	return generatorFunc(func() (string, error) {
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code, nil
	})
}

func TestLocal_CreateRoom(t *testing.T) {
	ctx := context.Background()
	repository := repositories.NewMemoryRepository()
	l := NewLocal(NewLocalOptions{Repository: repository, Codes: sequence("k3m9pq")})

	room, err := l.CreateRoom(ctx, "host-1")
	require.NoError(t, err)
	assert.Equal(t, "k3m9pq", room.Code)

	stored, err := repository.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "host-1", stored.HostUserID)
	assert.Equal(t, models.RoomStatusWaiting, stored.Status)
}

func TestLocal_CreateRoom_retriesCollisions(t *testing.T) {
	ctx := context.Background()
	repository := repositories.NewMemoryRepository()
	_, err := repository.CreateRoom(ctx, "host-0", "aaaaaa")
	require.NoError(t, err)

	l := NewLocal(NewLocalOptions{Repository: repository, Codes: sequence("aaaaaa", "aaaaaa", "bbbbbb")})
	room, err := l.CreateRoom(ctx, "host-1")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb", room.Code)
}

func TestLocal_CreateRoom_givesUp(t *testing.T) {
	ctx := context.Background()
	repository := repositories.NewMemoryRepository()
	_, err := repository.CreateRoom(ctx, "host-0", "aaaaaa")
	require.NoError(t, err)

	l := NewLocal(NewLocalOptions{Repository: repository, Codes: sequence("aaaaaa")})
	_, err = l.CreateRoom(ctx, "host-1")
	assert.True(t, IsWriteError(err), "expected write error, got %v", err)
}

func TestLocal_CreateRoom_generatorError(t *testing.T) {
	l := NewLocal(NewLocalOptions{
		Repository: repositories.NewMemoryRepository(),
		Codes: generatorFunc(func() (string, error) {
			return "", errors.New("entropy exhausted")
		}),
	})
	_, err := l.CreateRoom(context.Background(), "host-1")
	assert.True(t, IsWriteError(err))
}

func TestLocal_unauthenticated(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(NewLocalOptions{Repository: repositories.NewMemoryRepository()})

	_, err := l.CreateRoom(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = l.JoinRoomByCode(ctx, "k3m9pq", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, l.UpdateStatus(ctx, "room", "", models.RoomStatusEnded), ErrUnauthenticated)
}

func TestLocal_JoinRoomByCode(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(NewLocalOptions{Repository: repositories.NewMemoryRepository(), Codes: sequence("k3m9pq")})

	room, err := l.CreateRoom(ctx, "host-1")
	require.NoError(t, err)

	roomID, err := l.JoinRoomByCode(ctx, "  K3M9PQ ", "guest-1")
	require.NoError(t, err)
	assert.Equal(t, room.ID, roomID)

	_, err = l.JoinRoomByCode(ctx, "k3m9pq", "guest-2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.JoinRoomByCode(ctx, "zzzzzz", "guest-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_ReleaseGuest(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(NewLocalOptions{Repository: repositories.NewMemoryRepository(), Codes: sequence("k3m9pq")})

	room, err := l.CreateRoom(ctx, "host-1")
	require.NoError(t, err)
	_, err = l.JoinRoomByCode(ctx, "k3m9pq", "guest-1")
	require.NoError(t, err)

	// rejoining as the same guest is allowed
	roomID, err := l.JoinRoomByCode(ctx, "k3m9pq", "guest-1")
	require.NoError(t, err)
	assert.Equal(t, room.ID, roomID)

	assert.ErrorIs(t, l.ReleaseGuest(ctx, room.ID, ""), ErrUnauthenticated)
	require.NoError(t, l.ReleaseGuest(ctx, room.ID, "guest-1"))

	roomID, err = l.JoinRoomByCode(ctx, "k3m9pq", "guest-2")
	require.NoError(t, err)
	assert.Equal(t, room.ID, roomID)
}

func TestLocal_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(NewLocalOptions{Repository: repositories.NewMemoryRepository()})

	room, err := l.CreateRoom(ctx, "host-1")
	require.NoError(t, err)

	require.NoError(t, l.UpdateStatus(ctx, room.ID, "intruder", models.RoomStatusEnded))
	stored, err := l.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusWaiting, stored.Status)

	require.NoError(t, l.UpdateStatus(ctx, room.ID, "host-1", models.RoomStatusPlaying))
	stored, err = l.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusPlaying, stored.Status)

	_, err = l.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
