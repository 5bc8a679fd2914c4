package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
)

var _ Repository = &SQLiteRepository{}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(ctx context.Context, path string, migrations string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	// a single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, migrations, func(ctx context.Context, migration string) error {
		_, err := db.ExecContext(ctx, migration)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

// runMigrations executes every file in the migrations directory in name order.
func runMigrations(ctx context.Context, migrations string, exec func(ctx context.Context, migration string) error) error {
	dir, err := os.ReadDir(migrations)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %v", err)
	}
	sort.Slice(dir, func(i, j int) bool {
		return dir[i].Name() < dir[j].Name()
	})

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if err := exec(ctx, string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) CreateRoom(ctx context.Context, hostUserID string, roomCode string) (*models.Room, error) {
	now := time.Now()
	room := &models.Room{
		ID:         uuid.NewString(),
		Code:       roomCode,
		HostUserID: hostUserID,
		Status:     models.RoomStatusWaiting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	q := `
	INSERT INTO rooms (id, room_code, host_user_id, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, room.ID, room.Code, room.HostUserID, room.Status, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, &ErrDuplicateRoomCode{Code: roomCode}
		}
		return nil, fmt.Errorf("failed to insert room: %v", err)
	}

	return room, nil
}

func (r *SQLiteRepository) JoinRoomByCode(ctx context.Context, roomCode string, guestUserID string) (*models.Room, error) {
	q := `
	UPDATE rooms
	SET guest_user_id = ?, updated_at = ?
	WHERE room_code = ? AND status = 'waiting' AND (guest_user_id IS NULL OR guest_user_id = ?)
	RETURNING id, room_code, host_user_id, guest_user_id, status, created_at, updated_at;
	`
	room, err := scanSQLiteRoom(r.db.QueryRowContext(ctx, q, guestUserID, time.Now().UnixMilli(), roomCode, guestUserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to join room: %v", err)
	}

	return room, nil
}

func (r *SQLiteRepository) ReleaseGuest(ctx context.Context, roomID string, guestUserID string) error {
	q := `
	UPDATE rooms
	SET guest_user_id = NULL, updated_at = ?
	WHERE id = ? AND status = 'waiting' AND guest_user_id = ?;
	`
	_, err := r.db.ExecContext(ctx, q, time.Now().UnixMilli(), roomID, guestUserID)
	if err != nil {
		return fmt.Errorf("failed to release guest: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) UpdateRoomStatus(ctx context.Context, roomID string, ownerUserID string, status models.RoomStatus) error {
	predecessors := status.Predecessors()
	if len(predecessors) == 0 {
		return nil
	}

	// at most two predecessors exist, so the placeholders are spelled out
	q := `
	UPDATE rooms
	SET status = ?, updated_at = ?
	WHERE id = ? AND host_user_id = ? AND status IN (?, ?);
	`
	previous := []models.RoomStatus{predecessors[0], predecessors[len(predecessors)-1]}
	_, err := r.db.ExecContext(ctx, q, status, time.Now().UnixMilli(), roomID, ownerUserID, previous[0], previous[1])
	if err != nil {
		return fmt.Errorf("failed to update room status: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	q := `
	SELECT id, room_code, host_user_id, guest_user_id, status, created_at, updated_at
	FROM rooms WHERE id = ?;
	`
	room, err := scanSQLiteRoom(r.db.QueryRowContext(ctx, q, roomID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan room: %v", err)
	}

	return room, nil
}

func scanSQLiteRoom(row *sql.Row) (*models.Room, error) {
	var room models.Room
	var guestUserID sql.NullString
	var status string
	var createdAt, updatedAt int64
	if err := row.Scan(&room.ID, &room.Code, &room.HostUserID, &guestUserID, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	room.GuestUserID = guestUserID.String
	room.Status = models.RoomStatus(status)
	room.CreatedAt = time.UnixMilli(createdAt)
	room.UpdatedAt = time.UnixMilli(updatedAt)
	return &room, nil
}
