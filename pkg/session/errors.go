package session

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// KindUnauthenticated means nobody was signed in when the operation started.
	KindUnauthenticated ErrorKind = iota + 1
	// KindRoomCreationFailed means the registry could not create the room.
	KindRoomCreationFailed
	// KindRoomNotFound covers both unknown codes and rooms that cannot be joined.
	KindRoomNotFound
	// KindRegistryWrite means the registry rejected a status update.
	KindRegistryWrite
	// KindConnection means the room channel could not be opened or was lost.
	KindConnection
	// KindInSession means the operation needs an idle controller.
	KindInSession
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRoomCreationFailed:
		return "room_creation_failed"
	case KindRoomNotFound:
		return "room_not_found"
	case KindRegistryWrite:
		return "registry_write"
	case KindConnection:
		return "connection"
	case KindInSession:
		return "in_session"
	default:
		return "unknown"
	}
}

const (
	MessageUnauthenticated = "You need to sign in first."
	MessageRoomNotFound    = "No room with that code, or it is full."
	MessageInSession       = "Leave the current room first."
	MessageConnectionLost  = "Connection to the room was lost."
)

// Error is what the controller's operations fail with.
// Message is fit for showing to the user as is.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a session error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var sessionErr *Error
	return errors.As(err, &sessionErr) && sessionErr.Kind == kind
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func connectionError(err error) *Error {
	return newError(KindConnection, fmt.Sprintf("Could not connect to the room: %v", err), err)
}

// Teardown reports what went wrong while leaving a room.
// Leaving always completes, so callers may log these but need not act on them.
type Teardown struct {
	ChannelErr  error
	RegistryErr error
}

// OK reports whether teardown finished without errors.
func (t Teardown) OK() bool {
	return t.ChannelErr == nil && t.RegistryErr == nil
}

// Err joins the teardown errors, or returns nil.
func (t Teardown) Err() error {
	return errors.Join(t.ChannelErr, t.RegistryErr)
}
