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
	ErrParticipantNotFound = errors.New("room participant not found")
	ErrParticipantConflict = errors.New("user is already a participant of a room")
	ErrParticipantInvalid  = errors.New("participant user or room invalid")
)

type ParticipantRepository interface {
	Create(ctx context.Context, exec SQLExecutor, p *models.RoomParticipant) error
	// FindByUser returns the participant row for a user. One active room
	// per user is enforced by a unique constraint on user_id.
	FindByUser(ctx context.Context, userID int) (*models.RoomParticipant, error)
	ListByRoom(ctx context.Context, roomID int) ([]*models.RoomParticipant, error)
	SetOnline(ctx context.Context, userID int, online bool) error
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresParticipantRepository) Create(ctx context.Context, exec SQLExecutor, p *models.RoomParticipant) error {
	query := `
		INSERT INTO room_participants (room_id, user_id, is_online)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		p.RoomID,
		p.UserID,
		p.IsOnline,
	).Scan(&p.ID, &p.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case "23505": // unique_violation
				return ErrParticipantConflict
			case "23503": // foreign_key_violation
				return ErrParticipantInvalid
			}
		}
		return fmt.Errorf("failed to create room participant: %w", err)
	}
	return nil
}

func (r *postgresParticipantRepository) FindByUser(ctx context.Context, userID int) (*models.RoomParticipant, error) {
	query := `
		SELECT id, room_id, user_id, is_online, created_at
		FROM room_participants
		WHERE user_id = $1`

	p := &models.RoomParticipant{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.ID, &p.RoomID, &p.UserID, &p.IsOnline, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to find room participant: %w", err)
	}
	return p, nil
}

func (r *postgresParticipantRepository) ListByRoom(ctx context.Context, roomID int) ([]*models.RoomParticipant, error) {
	query := `
		SELECT id, room_id, user_id, is_online, created_at
		FROM room_participants
		WHERE room_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room participants: %w", err)
	}
	defer rows.Close()

	participants := make([]*models.RoomParticipant, 0)
	for rows.Next() {
		p := &models.RoomParticipant{}
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.IsOnline, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room participant rows: %w", err)
	}
	return participants, nil
}

func (r *postgresParticipantRepository) SetOnline(ctx context.Context, userID int, online bool) error {
	query := `UPDATE room_participants SET is_online = $1 WHERE user_id = $2`
	result, err := r.db.ExecContext(ctx, query, online, userID)
	if err != nil {
		return fmt.Errorf("failed to update participant online flag: %w", err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}
