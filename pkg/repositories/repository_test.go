package repositories

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const migrationsDir = "../../migrations"

// repositoryFactories returns every implementation that can run without external services.
// Postgres joins when SKYSHIELD_TEST_DATABASE_URL is set.
func repositoryFactories(t *testing.T) map[string]func(t *testing.T) Repository {
	factories := map[string]func(t *testing.T) Repository{
		"memory": func(t *testing.T) Repository {
			return NewMemoryRepository()
		},
		"sqlite": func(t *testing.T) Repository {
			r, err := NewSQLiteRepository(context.Background(), ":memory:", filepath.Join(migrationsDir, "sqlite"))
			require.NoError(t, err)
			return r
		},
	}
	if connStr := os.Getenv("SKYSHIELD_TEST_DATABASE_URL"); connStr != "" {
		factories["postgres"] = func(t *testing.T) Repository {
			r, err := NewPostgresRepository(context.Background(), connStr, filepath.Join(migrationsDir, "postgres"))
			require.NoError(t, err)
			_, err = r.pool.Exec(context.Background(), "TRUNCATE rooms")
			require.NoError(t, err)
			return r
		}
	}
	return factories
}

func forEachRepository(t *testing.T, test func(t *testing.T, r Repository)) {
	for name, factory := range repositoryFactories(t) {
		t.Run(name, func(t *testing.T) {
			r := factory(t)
			t.Cleanup(func() {
				r.Close(context.Background())
			})
			test(t, r)
		})
	}
}

func TestRepository_CreateRoom(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		ctx := context.Background()

		room, err := r.CreateRoom(ctx, "host-1", "k3m9pq")
		require.NoError(t, err)
		assert.NotEmpty(t, room.ID)
		assert.Equal(t, "k3m9pq", room.Code)
		assert.Equal(t, "host-1", room.HostUserID)
		assert.Equal(t, models.RoomStatusWaiting, room.Status)

		got, err := r.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, room.ID, got.ID)
		assert.Equal(t, models.RoomStatusWaiting, got.Status)
		assert.Empty(t, got.GuestUserID)
	})
}

func TestRepository_CreateRoom_duplicateActiveCode(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		ctx := context.Background()

		first, err := r.CreateRoom(ctx, "host-1", "k3m9pq")
		require.NoError(t, err)

		_, err = r.CreateRoom(ctx, "host-2", "k3m9pq")
		assert.True(t, IsDuplicateRoomCode(err), "expected duplicate code error, got %v", err)

		// an ended room releases its code
		require.NoError(t, r.UpdateRoomStatus(ctx, first.ID, "host-1", models.RoomStatusEnded))
		second, err := r.CreateRoom(ctx, "host-2", "k3m9pq")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})
}

func TestRepository_JoinRoomByCode(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		ctx := context.Background()

		room, err := r.CreateRoom(ctx, "host-1", "ab12cd")
		require.NoError(t, err)

		joined, err := r.JoinRoomByCode(ctx, "ab12cd", "guest-1")
		require.NoError(t, err)
		assert.Equal(t, room.ID, joined.ID)
		assert.Equal(t, "guest-1", joined.GuestUserID)

		_, err = r.JoinRoomByCode(ctx, "ab12cd", "guest-2")
		assert.True(t, IsNotFound(err), "second guest should be rejected, got %v", err)
	})
}

func TestRepository_JoinRoomByCode_sameGuestAgain(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		ctx := context.Background()

		room, err := r.CreateRoom(ctx, "host-1", "ab12cd")
		require.NoError(t, err)

		_, err = r.JoinRoomByCode(ctx, "ab12cd", "guest-1")
		require.NoError(t, err)

		again, err := r.JoinRoomByCode(ctx, "ab12cd", "guest-1")
		require.NoError(t, err)
		assert.Equal(t, room.ID, again.ID)
		assert.Equal(t, "guest-1", again.GuestUserID)
	})
}

func TestRepository_ReleaseGuest(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		ctx := context.Background()

		room, err := r.CreateRoom(ctx, "host-1", "ab12cd")
		require.NoError(t, err)
		_, err = r.JoinRoomByCode(ctx, "ab12cd", "guest-1")
		require.NoError(t, err)

		// only the guest holding the slot can free it
		require.NoError(t, r.ReleaseGuest(ctx, room.ID, "guest-2"))
		got, err := r.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, "guest-1", got.GuestUserID)

		require.NoError(t, r.ReleaseGuest(ctx, room.ID, "guest-1"))
		got, err = r.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.Empty(t, got.GuestUserID)

		joined, err := r.JoinRoomByCode(ctx, "ab12cd", "guest-2")
		require.NoError(t, err)
		assert.Equal(t, "guest-2", joined.GuestUserID)
	})
}

func TestRepository_ReleaseGuest_playingRoom(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		ctx := context.Background()

		room, err := r.CreateRoom(ctx, "host-1", "ab12cd")
		require.NoError(t, err)
		_, err = r.JoinRoomByCode(ctx, "ab12cd", "guest-1")
		require.NoError(t, err)
		require.NoError(t, r.UpdateRoomStatus(ctx, room.ID, "host-1", models.RoomStatusPlaying))

		require.NoError(t, r.ReleaseGuest(ctx, room.ID, "guest-1"))
		got, err := r.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, "guest-1", got.GuestUserID)

		assert.NoError(t, r.ReleaseGuest(ctx, "missing", "guest-1"))
	})
}

func TestRepository_JoinRoomByCode_notFound(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		ctx := context.Background()

		_, err := r.JoinRoomByCode(ctx, "ab12cd", "guest-1")
		assert.True(t, IsNotFound(err), "unknown code should not be found, got %v", err)

		room, err := r.CreateRoom(ctx, "host-1", "ab12cd")
		require.NoError(t, err)
		require.NoError(t, r.UpdateRoomStatus(ctx, room.ID, "host-1", models.RoomStatusPlaying))

		_, err = r.JoinRoomByCode(ctx, "ab12cd", "guest-1")
		assert.True(t, IsNotFound(err), "playing room should not be joinable, got %v", err)
	})
}

func TestRepository_JoinRoomByCode_concurrentGuests(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		ctx := context.Background()

		_, err := r.CreateRoom(ctx, "host-1", "ab12cd")
		require.NoError(t, err)

		const guests = 8
		var wg sync.WaitGroup
		results := make(chan error, guests)
		for i := 0; i < guests; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := r.JoinRoomByCode(ctx, "ab12cd", "guest-"+string(rune('a'+i)))
				results <- err
			}(i)
		}
		wg.Wait()
		close(results)

		joined := 0
		for err := range results {
			if err == nil {
				joined++
				continue
			}
			assert.True(t, IsNotFound(err), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, joined)
	})
}

func TestRepository_UpdateRoomStatus(t *testing.T) {
	tests := []struct {
		name    string
		owner   string
		updates []models.RoomStatus
		want    models.RoomStatus
	}{
		{
			name:    "host starts the game",
			owner:   "host-1",
			updates: []models.RoomStatus{models.RoomStatusPlaying},
			want:    models.RoomStatusPlaying,
		},
		{
			name:    "host ends the game",
			owner:   "host-1",
			updates: []models.RoomStatus{models.RoomStatusPlaying, models.RoomStatusEnded},
			want:    models.RoomStatusEnded,
		},
		{
			name:    "non-owner is ignored",
			owner:   "guest-1",
			updates: []models.RoomStatus{models.RoomStatusEnded},
			want:    models.RoomStatusWaiting,
		},
		{
			name:    "ended is terminal",
			owner:   "host-1",
			updates: []models.RoomStatus{models.RoomStatusEnded, models.RoomStatusPlaying, models.RoomStatusWaiting},
			want:    models.RoomStatusEnded,
		},
		{
			name:    "status never moves backwards",
			owner:   "host-1",
			updates: []models.RoomStatus{models.RoomStatusPlaying, models.RoomStatusWaiting},
			want:    models.RoomStatusPlaying,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachRepository(t, func(t *testing.T, r Repository) {
				ctx := context.Background()

				room, err := r.CreateRoom(ctx, "host-1", "k3m9pq")
				require.NoError(t, err)

				for _, status := range tt.updates {
					require.NoError(t, r.UpdateRoomStatus(ctx, room.ID, tt.owner, status))
				}

				got, err := r.GetRoom(ctx, room.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got.Status)
			})
		})
	}
}

func TestRepository_UpdateRoomStatus_unknownRoom(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		assert.NoError(t, r.UpdateRoomStatus(context.Background(), "missing", "host-1", models.RoomStatusEnded))
	})
}

func TestRepository_GetRoom_notFound(t *testing.T) {
	forEachRepository(t, func(t *testing.T, r Repository) {
		_, err := r.GetRoom(context.Background(), "missing")
		assert.True(t, IsNotFound(err))
	})
}

func TestNewRepositoryFromURL(t *testing.T) {
	ctx := context.Background()

	r, err := NewRepositoryFromURL(ctx, "memory://", migrationsDir)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, r)

	path := filepath.Join(t.TempDir(), "rooms.db")
	r, err = NewRepositoryFromURL(ctx, "sqlite://"+path, migrationsDir)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteRepository{}, r)
	require.NoError(t, r.Close(ctx))

	_, err = NewRepositoryFromURL(ctx, "mysql://localhost/rooms", migrationsDir)
	assert.Error(t, err)
}
