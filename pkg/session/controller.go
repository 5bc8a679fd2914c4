// Package session runs one participant's side of a two-party room.
//
// The host creates a room and streams state to the guest; the guest joins by
// code and sends actions back. Mutating operations (CreateRoom, JoinRoom,
// SetRoomPlaying, LeaveRoom) are expected to be called one at a time.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/auth/identity"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/observer"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/presence"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/registry"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/roomcode"
)

const (
	// dropTeardownTimeout bounds ending the room after the transport drops the channel.
	dropTeardownTimeout = 10 * time.Second
)

// Identity supplies the signed in user, or nil.
type Identity interface {
	CurrentUser() *identity.User
}

type State int

const (
	StateIdle State = iota
	StateHosting
	StateGuesting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHosting:
		return "hosting"
	case StateGuesting:
		return "guesting"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the local session state.
type Snapshot struct {
	State    State
	Role     presence.Role
	RoomID   string
	RoomCode string
	// Status is the hosting substate. It is empty unless hosting.
	Status    models.RoomStatus
	Presences []presence.Entry
	LastError *Error
}

type Controller struct {
	identity  Identity
	registry  registry.RoomRegistry
	transport pubsub.Transport
	logger    *log.Logger

	lock      sync.Mutex
	state     State
	role      presence.Role
	roomID    string
	roomCode  string
	status    models.RoomStatus
	userID    string
	channel   *presence.Channel
	presences []presence.Entry
	lastError *Error

	stateUpdates   *observer.Registry[json.RawMessage]
	guestActions   *observer.Registry[json.RawMessage]
	hostLeft       *observer.Registry[struct{}]
	presenceChange *observer.Registry[[]presence.Entry]
	disconnects    *observer.Registry[error]
}

type NewControllerOptions struct {
	Identity  Identity
	Registry  registry.RoomRegistry
	Transport pubsub.Transport
	// Logger defaults to the package default logger.
	Logger *log.Logger
}

func NewController(opts NewControllerOptions) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		identity:       opts.Identity,
		registry:       opts.Registry,
		transport:      opts.Transport,
		logger:         logger,
		stateUpdates:   observer.NewRegistry[json.RawMessage](),
		guestActions:   observer.NewRegistry[json.RawMessage](),
		hostLeft:       observer.NewRegistry[struct{}](),
		presenceChange: observer.NewRegistry[[]presence.Entry](),
		disconnects:    observer.NewRegistry[error](),
	}
}

// CreateRoom registers a new room with the signed in user as host and opens its channel.
func (c *Controller) CreateRoom(ctx context.Context) (*registry.Room, error) {
	user := c.identity.CurrentUser()
	if user == nil {
		return nil, c.fail(newError(KindUnauthenticated, MessageUnauthenticated, nil))
	}
	if err := c.requireIdle(); err != nil {
		return nil, err
	}

	room, err := c.registry.CreateRoom(ctx, user.ID)
	if err != nil {
		if errors.Is(err, registry.ErrUnauthenticated) {
			return nil, c.fail(newError(KindUnauthenticated, MessageUnauthenticated, err))
		}
		return nil, c.fail(newError(KindRoomCreationFailed, registryMessage(err), err))
	}
	c.logger.Info("Created room %s with code %s", room.ID, room.Code)

	ch := presence.NewChannel(room.ID)
	ch.OnBroadcast(presence.EventGuestAction, guarded(c, ch, c.guestActions.Notify))
	c.wireChannel(ch)

	c.lock.Lock()
	c.state = StateHosting
	c.role = presence.RoleHost
	c.roomID = room.ID
	c.roomCode = room.Code
	c.status = models.RoomStatusWaiting
	c.userID = user.ID
	c.channel = ch
	c.presences = nil
	c.lastError = nil
	c.lock.Unlock()

	if err := c.open(ctx, ch, presence.Entry{Role: presence.RoleHost, UserID: user.ID, DisplayName: user.DisplayName}); err != nil {
		if err := c.registry.UpdateStatus(ctx, room.ID, user.ID, models.RoomStatusEnded); err != nil {
			c.logger.Warn("Failed to end room %s after its channel failed: %v", room.ID, err)
		}
		return nil, c.fail(connectionError(err))
	}

	return &registry.Room{ID: room.ID, Code: room.Code}, nil
}

// JoinRoom joins the waiting room with the given code as guest and returns its id.
func (c *Controller) JoinRoom(ctx context.Context, code string) (string, error) {
	user := c.identity.CurrentUser()
	if user == nil {
		return "", c.fail(newError(KindUnauthenticated, MessageUnauthenticated, nil))
	}
	if err := c.requireIdle(); err != nil {
		return "", err
	}

	code = roomcode.Normalize(code)
	if !roomcode.Valid(code) {
		return "", c.fail(newError(KindRoomNotFound, MessageRoomNotFound, fmt.Errorf("malformed room code %q", code)))
	}
	roomID, err := c.registry.JoinRoomByCode(ctx, code, user.ID)
	if err != nil {
		if errors.Is(err, registry.ErrUnauthenticated) {
			return "", c.fail(newError(KindUnauthenticated, MessageUnauthenticated, err))
		}
		// the caller only learns the room is unavailable
		if registry.IsWriteError(err) {
			c.logger.Warn("Join by code %s failed: %v", code, err)
		} else {
			c.logger.Debug("Join by code %s failed: %v", code, err)
		}
		return "", c.fail(newError(KindRoomNotFound, MessageRoomNotFound, err))
	}
	c.logger.Info("Joined room %s with code %s", roomID, code)

	ch := presence.NewChannel(roomID)
	ch.OnBroadcast(presence.EventState, guarded(c, ch, c.stateUpdates.Notify))
	ch.OnPresenceLeave(guarded(c, ch, func(entries []presence.Entry) {
		if _, ok := presence.FindRole(entries, presence.RoleHost); ok {
			c.logger.Info("Host left room %s", roomID)
			c.hostLeft.Notify(struct{}{})
		}
	}))
	c.wireChannel(ch)

	c.lock.Lock()
	c.state = StateGuesting
	c.role = presence.RoleGuest
	c.roomID = roomID
	c.roomCode = code
	c.status = ""
	c.userID = user.ID
	c.channel = ch
	c.presences = nil
	c.lastError = nil
	c.lock.Unlock()

	if err := c.open(ctx, ch, presence.Entry{Role: presence.RoleGuest, UserID: user.ID, DisplayName: user.DisplayName}); err != nil {
		if err := c.registry.ReleaseGuest(ctx, roomID, user.ID); err != nil {
			c.logger.Warn("Failed to give back the guest slot of room %s after its channel failed: %v", roomID, err)
		}
		return "", c.fail(connectionError(err))
	}

	return roomID, nil
}

// SetRoomPlaying marks the hosted room as playing. It does nothing unless hosting.
// The local status follows only once the registry accepted the update.
func (c *Controller) SetRoomPlaying(ctx context.Context) error {
	c.lock.Lock()
	if c.state != StateHosting || c.roomID == "" {
		c.lock.Unlock()
		return nil
	}
	roomID, userID := c.roomID, c.userID
	c.lock.Unlock()

	if err := c.registry.UpdateStatus(ctx, roomID, userID, models.RoomStatusPlaying); err != nil {
		if errors.Is(err, registry.ErrUnauthenticated) {
			return c.fail(newError(KindUnauthenticated, MessageUnauthenticated, err))
		}
		return c.fail(newError(KindRegistryWrite, registryMessage(err), err))
	}

	c.lock.Lock()
	if c.state == StateHosting && c.roomID == roomID {
		c.status = models.RoomStatusPlaying
	}
	c.lock.Unlock()
	return nil
}

// LeaveRoom closes the channel and resets to idle. A host ends the room,
// a guest gives its slot back so the room can be joined again while waiting.
// It always completes; the returned Teardown only reports what failed along the way.
func (c *Controller) LeaveRoom(ctx context.Context) Teardown {
	c.lock.Lock()
	if c.state == StateIdle && c.channel == nil {
		c.lock.Unlock()
		return Teardown{}
	}
	ch := c.channel
	c.channel = nil
	role, roomID, userID := c.role, c.roomID, c.userID
	c.lock.Unlock()

	var teardown Teardown
	if ch != nil {
		teardown.ChannelErr = ch.Leave(ctx)
	}
	if roomID != "" {
		teardown.RegistryErr = c.releaseRoom(ctx, role, roomID, userID)
	}

	c.lock.Lock()
	c.reset()
	c.lock.Unlock()

	if !teardown.OK() {
		c.logger.Warn("Left room %s with errors: %v", roomID, teardown.Err())
	} else {
		c.logger.Info("Left room %s", roomID)
	}
	return teardown
}

// SendState broadcasts a state snapshot. It does nothing without an open room.
func (c *Controller) SendState(ctx context.Context, snapshot interface{}) error {
	return c.send(ctx, presence.EventState, snapshot)
}

// SendAction broadcasts a guest action. It does nothing without an open room.
func (c *Controller) SendAction(ctx context.Context, action interface{}) error {
	return c.send(ctx, presence.EventGuestAction, action)
}

func (c *Controller) send(ctx context.Context, class presence.EventClass, v interface{}) error {
	c.lock.Lock()
	ch := c.channel
	c.lock.Unlock()
	if ch == nil {
		return nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v", class, err)
	}
	if err := ch.Broadcast(ctx, class, payload); err != nil {
		return c.fail(connectionError(err))
	}
	return nil
}

// OnStateUpdate registers cb for state snapshots received while guesting.
func (c *Controller) OnStateUpdate(cb func(json.RawMessage)) func() {
	return c.stateUpdates.Register(cb)
}

// OnGuestAction registers cb for actions received while hosting.
func (c *Controller) OnGuestAction(cb func(json.RawMessage)) func() {
	return c.guestActions.Register(cb)
}

// OnHostLeft registers cb for the host dropping out of the joined room.
func (c *Controller) OnHostLeft(cb func()) func() {
	return c.hostLeft.Register(func(struct{}) { cb() })
}

// OnPresenceChange registers cb for the complete presence list after every sync.
func (c *Controller) OnPresenceChange(cb func([]presence.Entry)) func() {
	return c.presenceChange.Register(cb)
}

// OnDisconnect registers cb for the transport dropping the room channel.
// The controller is idle again by the time cb runs.
func (c *Controller) OnDisconnect(cb func(error)) func() {
	return c.disconnects.Register(cb)
}

func (c *Controller) Snapshot() Snapshot {
	c.lock.Lock()
	defer c.lock.Unlock()

	presences := make([]presence.Entry, len(c.presences))
	copy(presences, c.presences)
	return Snapshot{
		State:     c.state,
		Role:      c.role,
		RoomID:    c.roomID,
		RoomCode:  c.roomCode,
		Status:    c.status,
		Presences: presences,
		LastError: c.lastError,
	}
}

// LastError returns the error of the last failed operation, or nil.
func (c *Controller) LastError() *Error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lastError
}

func (c *Controller) requireIdle() error {
	c.lock.Lock()
	idle := c.state == StateIdle
	c.lock.Unlock()
	if !idle {
		return c.fail(newError(KindInSession, MessageInSession, nil))
	}
	return nil
}

// open subscribes ch and tracks entry on it. On failure the controller is reset to idle.
func (c *Controller) open(ctx context.Context, ch *presence.Channel, entry presence.Entry) error {
	ch.Track(ctx, entry)
	if err := ch.Subscribe(ctx, c.transport); err != nil {
		c.lock.Lock()
		if c.channel == ch {
			c.reset()
		}
		c.lock.Unlock()
		return err
	}
	return nil
}

// wireChannel registers the listeners both roles need.
func (c *Controller) wireChannel(ch *presence.Channel) {
	ch.OnPresenceSync(func(entries []presence.Entry) {
		c.lock.Lock()
		if c.channel != ch {
			c.lock.Unlock()
			return
		}
		c.presences = entries
		c.lock.Unlock()

		c.presenceChange.Notify(entries)
	})
	ch.OnStatus(func(status pubsub.Status) {
		if status == pubsub.StatusClosed {
			c.handleDrop(ch)
		}
	})
}

// handleDrop ends the session after the transport lost the channel.
func (c *Controller) handleDrop(ch *presence.Channel) {
	c.lock.Lock()
	if c.channel != ch {
		c.lock.Unlock()
		return
	}
	c.channel = nil
	role, roomID, userID := c.role, c.roomID, c.userID
	c.reset()
	dropErr := newError(KindConnection, MessageConnectionLost, nil)
	c.lastError = dropErr
	c.lock.Unlock()

	c.logger.Warn("Lost connection to room %s", roomID)

	ctx, cancel := context.WithTimeout(context.Background(), dropTeardownTimeout)
	defer cancel()
	if err := ch.Leave(ctx); err != nil {
		c.logger.Debug("Failed to release dropped channel for room %s: %v", roomID, err)
	}
	if err := c.releaseRoom(ctx, role, roomID, userID); err != nil {
		c.logger.Warn("Failed to release dropped room %s: %v", roomID, err)
	}

	c.disconnects.Notify(dropErr)
}

// releaseRoom ends a hosted room or frees the guest slot of a joined one.
func (c *Controller) releaseRoom(ctx context.Context, role presence.Role, roomID string, userID string) error {
	switch role {
	case presence.RoleHost:
		return c.registry.UpdateStatus(ctx, roomID, userID, models.RoomStatusEnded)
	case presence.RoleGuest:
		return c.registry.ReleaseGuest(ctx, roomID, userID)
	default:
		return nil
	}
}

// guarded wraps cb so it only runs while ch is the open channel.
func guarded[T any](c *Controller, ch *presence.Channel, cb func(T)) func(T) {
	return func(v T) {
		c.lock.Lock()
		current := c.channel == ch
		c.lock.Unlock()
		if current {
			cb(v)
		}
	}
}

func (c *Controller) fail(err *Error) *Error {
	c.lock.Lock()
	c.lastError = err
	c.lock.Unlock()
	c.logger.Debug("Session operation failed (%s): %v", err.Kind, err.Err)
	return err
}

// reset must be called with the lock held.
func (c *Controller) reset() {
	c.state = StateIdle
	c.role = ""
	c.roomID = ""
	c.roomCode = ""
	c.status = ""
	c.userID = ""
	c.channel = nil
	c.presences = nil
	c.lastError = nil
}

func registryMessage(err error) string {
	var writeErr *registry.WriteError
	if errors.As(err, &writeErr) && writeErr.Message != "" {
		return writeErr.Message
	}
	return err.Error()
}
