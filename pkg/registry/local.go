package registry

import (
	"context"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/roomcode"
)

const (
	// MaxCodeAttempts bounds how many codes CreateRoom tries when the store reports a collision.
	MaxCodeAttempts = 8
)

// CodeGenerator produces candidate room codes.
type CodeGenerator interface {
	Generate() (string, error)
}

type generatorFunc func() (string, error)

func (f generatorFunc) Generate() (string, error) {
	return f()
}

var _ RoomRegistry = &Local{}

// Local serves the registry straight from a repository.
// The API server uses it, and so does single-process play.
type Local struct {
	repository repositories.Repository
	codes      CodeGenerator
}

type NewLocalOptions struct {
	Repository repositories.Repository
	// Codes defaults to roomcode.Generate.
	Codes CodeGenerator
}

func NewLocal(opts NewLocalOptions) *Local {
	codes := opts.Codes
	if codes == nil {
		codes = generatorFunc(roomcode.Generate)
	}
	return &Local{
		repository: opts.Repository,
		codes:      codes,
	}
}

func (l *Local) CreateRoom(ctx context.Context, hostUserID string) (*Room, error) {
	if hostUserID == "" {
		return nil, ErrUnauthenticated
	}

	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code, err := l.codes.Generate()
		if err != nil {
			return nil, &WriteError{Op: "generate room code", Message: err.Error()}
		}

		room, err := l.repository.CreateRoom(ctx, hostUserID, code)
		if err != nil {
			if repositories.IsDuplicateRoomCode(err) {
				log.Debug("Room code %s is taken, retrying", code)
				continue
			}
			return nil, &WriteError{Op: "create room", Message: err.Error()}
		}

		return &Room{
			ID:   room.ID,
			Code: room.Code,
		}, nil
	}

	return nil, &WriteError{Op: "create room", Message: "no free room code found"}
}

func (l *Local) JoinRoomByCode(ctx context.Context, code string, guestUserID string) (string, error) {
	if guestUserID == "" {
		return "", ErrUnauthenticated
	}

	room, err := l.repository.JoinRoomByCode(ctx, roomcode.Normalize(code), guestUserID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", &WriteError{Op: "join room", Message: err.Error()}
	}

	return room.ID, nil
}

func (l *Local) ReleaseGuest(ctx context.Context, roomID string, guestUserID string) error {
	if guestUserID == "" {
		return ErrUnauthenticated
	}

	if err := l.repository.ReleaseGuest(ctx, roomID, guestUserID); err != nil {
		return &WriteError{Op: "release guest", Message: err.Error()}
	}

	return nil
}

func (l *Local) UpdateStatus(ctx context.Context, roomID string, ownerUserID string, status models.RoomStatus) error {
	if ownerUserID == "" {
		return ErrUnauthenticated
	}

	if err := l.repository.UpdateRoomStatus(ctx, roomID, ownerUserID, status); err != nil {
		return &WriteError{Op: "update room status", Message: err.Error()}
	}

	return nil
}

// GetRoom exposes the stored record for auditing.
func (l *Local) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := l.repository.GetRoom(ctx, roomID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return room, nil
}
