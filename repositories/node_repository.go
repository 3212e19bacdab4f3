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
	ErrNodeNotFound       = errors.New("bracket node not found")
	ErrNodeInvalid        = errors.New("bracket node room or target invalid")
	ErrAssignmentNotFound = errors.New("node assignment not found")
	ErrAssignmentConflict = errors.New("user is already assigned to this node")
)

type NodeRepository interface {
	Create(ctx context.Context, exec SQLExecutor, node *models.BracketNode) error
	FindByID(ctx context.Context, id int) (*models.BracketNode, error)
	ListByRoom(ctx context.Context, roomID int) ([]*models.BracketNode, error)

	Assign(ctx context.Context, exec SQLExecutor, nodeID, userID int) error
	// FindCurrentAssignment returns the assignment with the smallest round
	// size among the user's remaining ones, i.e. the match they play next.
	FindCurrentAssignment(ctx context.Context, userID int) (*models.NodeAssignment, error)
	ListRemainingByUser(ctx context.Context, userID int) ([]*models.NodeAssignment, error)
	ListAssignmentsByRoom(ctx context.Context, roomID int) ([]*models.NodeAssignment, error)
	ListAssignmentsByNode(ctx context.Context, nodeID int) ([]*models.NodeAssignment, error)
	DeleteAssignmentsByNode(ctx context.Context, exec SQLExecutor, nodeID int) error
}

type postgresNodeRepository struct {
	db *sql.DB
}

func NewPostgresNodeRepository(db *sql.DB) NodeRepository {
	return &postgresNodeRepository{db: db}
}

func (r *postgresNodeRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresNodeRepository) Create(ctx context.Context, exec SQLExecutor, node *models.BracketNode) error {
	query := `
		INSERT INTO bracket_nodes (room_id, round_size, winner_target_id, ai_assisted)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		node.RoomID,
		node.RoundSize,
		node.WinnerTargetID,
		node.AIAssisted,
	).Scan(&node.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrNodeInvalid
		}
		return fmt.Errorf("failed to create bracket node: %w", err)
	}
	return nil
}

func (r *postgresNodeRepository) FindByID(ctx context.Context, id int) (*models.BracketNode, error) {
	query := `
		SELECT id, room_id, round_size, winner_target_id, ai_assisted
		FROM bracket_nodes
		WHERE id = $1`

	node := &models.BracketNode{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&node.ID, &node.RoomID, &node.RoundSize, &node.WinnerTargetID, &node.AIAssisted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to find bracket node: %w", err)
	}
	return node, nil
}

func (r *postgresNodeRepository) ListByRoom(ctx context.Context, roomID int) ([]*models.BracketNode, error) {
	query := `
		SELECT id, room_id, round_size, winner_target_id, ai_assisted
		FROM bracket_nodes
		WHERE room_id = $1
		ORDER BY round_size DESC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bracket nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]*models.BracketNode, 0)
	for rows.Next() {
		node := &models.BracketNode{}
		if err := rows.Scan(&node.ID, &node.RoomID, &node.RoundSize, &node.WinnerTargetID, &node.AIAssisted); err != nil {
			return nil, fmt.Errorf("failed to scan bracket node row: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bracket node rows: %w", err)
	}
	return nodes, nil
}

func (r *postgresNodeRepository) Assign(ctx context.Context, exec SQLExecutor, nodeID, userID int) error {
	query := `INSERT INTO node_assignments (node_id, user_id) VALUES ($1, $2)`
	_, err := r.getExecutor(exec).ExecContext(ctx, query, nodeID, userID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case "23505":
				return ErrAssignmentConflict
			case "23503":
				return ErrNodeInvalid
			}
		}
		return fmt.Errorf("failed to assign user %d to node %d: %w", userID, nodeID, err)
	}
	return nil
}

func (r *postgresNodeRepository) FindCurrentAssignment(ctx context.Context, userID int) (*models.NodeAssignment, error) {
	query := `
		SELECT a.id, a.node_id, a.user_id, n.round_size
		FROM node_assignments a
		JOIN bracket_nodes n ON a.node_id = n.id
		WHERE a.user_id = $1
		ORDER BY n.round_size ASC
		LIMIT 1`

	a := &models.NodeAssignment{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&a.ID, &a.NodeID, &a.UserID, &a.RoundSize)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to find current assignment: %w", err)
	}
	return a, nil
}

func (r *postgresNodeRepository) ListRemainingByUser(ctx context.Context, userID int) ([]*models.NodeAssignment, error) {
	query := `
		SELECT a.id, a.node_id, a.user_id, n.round_size
		FROM node_assignments a
		JOIN bracket_nodes n ON a.node_id = n.id
		WHERE a.user_id = $1
		ORDER BY n.round_size ASC`

	return r.listAssignments(ctx, query, userID)
}

func (r *postgresNodeRepository) ListAssignmentsByRoom(ctx context.Context, roomID int) ([]*models.NodeAssignment, error) {
	query := `
		SELECT a.id, a.node_id, a.user_id, n.round_size
		FROM node_assignments a
		JOIN bracket_nodes n ON a.node_id = n.id
		WHERE n.room_id = $1
		ORDER BY n.round_size DESC, a.id ASC`

	return r.listAssignments(ctx, query, roomID)
}

func (r *postgresNodeRepository) ListAssignmentsByNode(ctx context.Context, nodeID int) ([]*models.NodeAssignment, error) {
	query := `
		SELECT a.id, a.node_id, a.user_id, n.round_size
		FROM node_assignments a
		JOIN bracket_nodes n ON a.node_id = n.id
		WHERE a.node_id = $1
		ORDER BY a.id ASC`

	return r.listAssignments(ctx, query, nodeID)
}

func (r *postgresNodeRepository) listAssignments(ctx context.Context, query string, args ...interface{}) ([]*models.NodeAssignment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list node assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]*models.NodeAssignment, 0)
	for rows.Next() {
		a := &models.NodeAssignment{}
		if err := rows.Scan(&a.ID, &a.NodeID, &a.UserID, &a.RoundSize); err != nil {
			return nil, fmt.Errorf("failed to scan node assignment row: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node assignment rows: %w", err)
	}
	return assignments, nil
}

func (r *postgresNodeRepository) DeleteAssignmentsByNode(ctx context.Context, exec SQLExecutor, nodeID int) error {
	query := `DELETE FROM node_assignments WHERE node_id = $1`
	if _, err := r.getExecutor(exec).ExecContext(ctx, query, nodeID); err != nil {
		return fmt.Errorf("failed to delete assignments for node %d: %w", nodeID, err)
	}
	return nil
}
