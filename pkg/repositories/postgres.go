package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
)

var _ Repository = &PostgresRepository{}

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to the database and applies the migrations in the given directory.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string, migrations string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	err = pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %v", err)
	}

	log.Info("Connected to %s as %s", database, username)

	if err := runMigrations(ctx, migrations, func(ctx context.Context, migration string) error {
		_, err := pool.Exec(ctx, migration)
		return err
	}); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) CreateRoom(ctx context.Context, hostUserID string, roomCode string) (*models.Room, error) {
	q := `
	INSERT INTO rooms (id, room_code, host_user_id, status)
	VALUES ($1, $2, $3, $4)
	RETURNING id, room_code, host_user_id, guest_user_id, status, created_at, updated_at;
	`
	room, err := scanPostgresRoom(r.pool.QueryRow(ctx, q, uuid.NewString(), roomCode, hostUserID, string(models.RoomStatusWaiting)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, &ErrDuplicateRoomCode{Code: roomCode}
		}
		return nil, fmt.Errorf("failed to insert room: %v", err)
	}

	return room, nil
}

func (r *PostgresRepository) JoinRoomByCode(ctx context.Context, roomCode string, guestUserID string) (*models.Room, error) {
	q := `
	SELECT id, room_code, host_user_id, guest_user_id, status, created_at, updated_at
	FROM join_room_by_code($1, $2);
	`
	room, err := scanPostgresRoom(r.pool.QueryRow(ctx, q, roomCode, guestUserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to join room: %v", err)
	}

	return room, nil
}

func (r *PostgresRepository) ReleaseGuest(ctx context.Context, roomID string, guestUserID string) error {
	q := `
	UPDATE rooms
	SET guest_user_id = NULL, updated_at = $1
	WHERE id = $2 AND status = 'waiting' AND guest_user_id = $3;
	`
	_, err := r.pool.Exec(ctx, q, time.Now(), roomID, guestUserID)
	if err != nil {
		return fmt.Errorf("failed to release guest: %v", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateRoomStatus(ctx context.Context, roomID string, ownerUserID string, status models.RoomStatus) error {
	predecessors := status.Predecessors()
	if len(predecessors) == 0 {
		return nil
	}
	previous := make([]string, 0, len(predecessors))
	for _, p := range predecessors {
		previous = append(previous, string(p))
	}

	q := `
	UPDATE rooms
	SET status = $1, updated_at = $2
	WHERE id = $3 AND host_user_id = $4 AND status = ANY($5);
	`
	_, err := r.pool.Exec(ctx, q, string(status), time.Now(), roomID, ownerUserID, previous)
	if err != nil {
		return fmt.Errorf("failed to update room status: %v", err)
	}

	return nil
}

func (r *PostgresRepository) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	q := `
	SELECT id, room_code, host_user_id, guest_user_id, status, created_at, updated_at
	FROM rooms WHERE id = $1;
	`
	room, err := scanPostgresRoom(r.pool.QueryRow(ctx, q, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan room: %v", err)
	}

	return room, nil
}

func scanPostgresRoom(row pgx.Row) (*models.Room, error) {
	var room models.Room
	var guestUserID *string
	var status string
	if err := row.Scan(&room.ID, &room.Code, &room.HostUserID, &guestUserID, &status, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, err
	}
	if guestUserID != nil {
		room.GuestUserID = *guestUserID
	}
	room.Status = models.RoomStatus(status)
	return &room, nil
}
