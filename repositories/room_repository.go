package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pongarena/match-system/models"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomNameConflict = errors.New("room name is already in use")
)

type RoomRepository interface {
	Create(ctx context.Context, exec SQLExecutor, room *models.Room) error
	FindByID(ctx context.Context, id int) (*models.Room, error)
	FindByName(ctx context.Context, name string) (*models.Room, error)
	// Delete cascades to participants, bracket nodes and assignments.
	Delete(ctx context.Context, exec SQLExecutor, id int) error
}

type postgresRoomRepository struct {
	db *sql.DB
}

func NewPostgresRoomRepository(db *sql.DB) RoomRepository {
	return &postgresRoomRepository{db: db}
}

func (r *postgresRoomRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresRoomRepository) Create(ctx context.Context, exec SQLExecutor, room *models.Room) error {
	query := `
		INSERT INTO rooms (name)
		VALUES ($1)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query, room.Name).Scan(&room.ID, &room.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrRoomNameConflict
		}
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (r *postgresRoomRepository) FindByID(ctx context.Context, id int) (*models.Room, error) {
	query := `SELECT id, name, created_at FROM rooms WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *postgresRoomRepository) FindByName(ctx context.Context, name string) (*models.Room, error) {
	query := `SELECT id, name, created_at FROM rooms WHERE name = $1`
	return r.findOne(ctx, query, name)
}

func (r *postgresRoomRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Room, error) {
	room := &models.Room{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	return room, nil
}

func (r *postgresRoomRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	query := `DELETE FROM rooms WHERE id = $1`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return checkAffectedRows(result, ErrRoomNotFound)
}
