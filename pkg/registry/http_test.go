package registry_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/api"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/auth/identity"
	authproviders "github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/auth/providers"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/registry"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	local  *registry.Local
	host   *registry.HTTP
	guest  *registry.HTTP
	stale  *registry.HTTP
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	provider := authproviders.NewStaticAuthProvider()
	provider.Add("host-token", authproviders.TokenClaims{UID: "host-1"})
	provider.Add("guest-token", authproviders.TokenClaims{UID: "guest-1"})

	local := registry.NewLocal(registry.NewLocalOptions{Repository: repositories.NewMemoryRepository()})
	server := httptest.NewServer(api.NewRouter(api.NewAPIServerOptions{
		AuthProvider: provider,
		Registry:     local,
	}))
	t.Cleanup(server.Close)

	newClient := func(token string) *registry.HTTP {
		c, err := registry.NewHTTP(registry.NewHTTPOptions{
			BaseURL: server.URL + "/",
			Tokens:  identity.NewSignedInHolder(identity.User{ID: "ignored"}, token),
		})
		require.NoError(t, err)
		return c
	}

	return &fixture{
		local:  local,
		host:   newClient("host-token"),
		guest:  newClient("guest-token"),
		stale:  newClient("expired-token"),
		server: server,
	}
}

func TestHTTP_roomLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	room, err := f.host.CreateRoom(ctx, "host-1")
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	assert.Len(t, room.Code, 6)

	roomID, err := f.guest.JoinRoomByCode(ctx, room.Code, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, room.ID, roomID)

	stored, err := f.local.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "host-1", stored.HostUserID)
	assert.Equal(t, "guest-1", stored.GuestUserID)

	// the guest's token does not own the room, so this is ignored
	require.NoError(t, f.guest.UpdateStatus(ctx, room.ID, "guest-1", models.RoomStatusEnded))
	stored, err = f.local.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusWaiting, stored.Status)

	require.NoError(t, f.host.UpdateStatus(ctx, room.ID, "host-1", models.RoomStatusPlaying))
	require.NoError(t, f.host.UpdateStatus(ctx, room.ID, "host-1", models.RoomStatusEnded))
	stored, err = f.local.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusEnded, stored.Status)
}

func TestHTTP_ReleaseGuest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	room, err := f.host.CreateRoom(ctx, "host-1")
	require.NoError(t, err)
	_, err = f.guest.JoinRoomByCode(ctx, room.Code, "guest-1")
	require.NoError(t, err)

	// the host does not hold the guest slot, so this is ignored
	require.NoError(t, f.host.ReleaseGuest(ctx, room.ID, "host-1"))
	stored, err := f.local.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "guest-1", stored.GuestUserID)

	require.NoError(t, f.guest.ReleaseGuest(ctx, room.ID, "guest-1"))
	stored, err = f.local.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.GuestUserID)
}

func TestHTTP_JoinRoomByCode_notFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.guest.JoinRoomByCode(context.Background(), "ab12cd", "guest-1")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestHTTP_unauthenticated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.stale.CreateRoom(ctx, "someone")
	assert.ErrorIs(t, err, registry.ErrUnauthenticated)

	_, err = f.host.CreateRoom(ctx, "")
	assert.ErrorIs(t, err, registry.ErrUnauthenticated)

	signedOut, err := registry.NewHTTP(registry.NewHTTPOptions{
		BaseURL: f.server.URL,
		Tokens:  identity.NewHolder(),
	})
	require.NoError(t, err)
	_, err = signedOut.CreateRoom(ctx, "host-1")
	assert.ErrorIs(t, err, registry.ErrUnauthenticated)
}

func TestHTTP_unreachable(t *testing.T) {
	f := newFixture(t)
	f.server.Close()

	_, err := f.host.CreateRoom(context.Background(), "host-1")
	assert.True(t, registry.IsWriteError(err), "expected write error, got %v", err)
}
