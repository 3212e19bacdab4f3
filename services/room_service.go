package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pongarena/match-system/match"
	"github.com/pongarena/match-system/models"
	"github.com/pongarena/match-system/repositories"
	"github.com/pongarena/match-system/storage"
)

// RoomService owns the room lifecycle: creation (tournament or AI solo),
// state snapshots, winner promotion between rounds, and cascading
// teardown.
type RoomService interface {
	// CreateRoom builds a tournament room in one transaction: the room
	// row, a participant per invited user, and the full bracket. Leaf
	// runtimes are pre-registered so later reconnect and next-match logic
	// can find every expected slot.
	CreateRoom(ctx context.Context, name string, participantIDs []int) (*models.Room, error)

	// CreateAIRoom builds a single-participant room whose only node is
	// AI-assisted. The room name is generated.
	CreateAIRoom(ctx context.Context, userID int) (*models.Room, error)

	// RoomState loads the participants, nodes and assignments of a room.
	RoomState(ctx context.Context, roomID int) (*models.Room, error)

	// RoomStateByName is RoomState keyed by the room's external handle.
	RoomStateByName(ctx context.Context, name string) (*models.Room, error)

	// PromoteWinner records a finished node: its assignments are removed
	// and the winner is assigned to the winner-target node, when one
	// exists.
	PromoteWinner(ctx context.Context, nodeID, winnerID int) error

	// ClearRoom archives and destroys a finished room: report upload
	// (best-effort), runtime teardown, client disconnect fan-out, then the
	// cascading delete of the durable rows.
	ClearRoom(ctx context.Context, name string) error
}

type roomService struct {
	tx              repositories.Transactor
	roomRepo        repositories.RoomRepository
	participantRepo repositories.ParticipantRepository
	nodeRepo        repositories.NodeRepository
	brackets        BracketService
	registry        *match.Registry
	hub             *match.Hub
	uploader        storage.FileUploader
	logger          *slog.Logger
}

func NewRoomService(
	tx repositories.Transactor,
	roomRepo repositories.RoomRepository,
	participantRepo repositories.ParticipantRepository,
	nodeRepo repositories.NodeRepository,
	brackets BracketService,
	registry *match.Registry,
	hub *match.Hub,
	uploader storage.FileUploader, // nil disables report archiving
	logger *slog.Logger,
) RoomService {
	return &roomService{
		tx:              tx,
		roomRepo:        roomRepo,
		participantRepo: participantRepo,
		nodeRepo:        nodeRepo,
		brackets:        brackets,
		registry:        registry,
		hub:             hub,
		uploader:        uploader,
		logger:          logger,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, name string, participantIDs []int) (*models.Room, error) {
	if !models.ValidBracketSize(len(participantIDs)) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBracketSize, len(participantIDs))
	}

	room := &models.Room{Name: name}
	var nodes []*models.BracketNode

	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.roomRepo.Create(ctx, exec, room); err != nil {
			return err
		}
		for _, userID := range participantIDs {
			p := &models.RoomParticipant{RoomID: room.ID, UserID: userID}
			if err := s.participantRepo.Create(ctx, exec, p); err != nil {
				return err
			}
		}
		var err error
		nodes, err = s.brackets.BuildBracket(ctx, exec, room.ID, participantIDs)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.preRegisterLeaves(ctx, nodes, len(participantIDs))
	s.logger.Info("tournament room created",
		slog.Int("room_id", room.ID),
		slog.String("name", room.Name),
		slog.Int("participants", len(participantIDs)),
		slog.Int("nodes", len(nodes)))
	return room, nil
}

func (s *roomService) CreateAIRoom(ctx context.Context, userID int) (*models.Room, error) {
	room := &models.Room{Name: generateRoomName()}
	var node *models.BracketNode

	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.roomRepo.Create(ctx, exec, room); err != nil {
			return err
		}
		p := &models.RoomParticipant{RoomID: room.ID, UserID: userID}
		if err := s.participantRepo.Create(ctx, exec, p); err != nil {
			return err
		}
		var err error
		node, err = s.brackets.BuildAIBracket(ctx, exec, room.ID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("AI room created",
		slog.Int("room_id", room.ID),
		slog.String("name", room.Name),
		slog.Int("node_id", node.ID),
		slog.Int("user_id", userID))
	return room, nil
}

// preRegisterLeaves creates a runtime per leaf node with every assigned
// participant marked expected. Failures here are logged, not fatal: the
// runtimes are recreated lazily on first connect anyway.
func (s *roomService) preRegisterLeaves(ctx context.Context, nodes []*models.BracketNode, bracketSize int) {
	for _, node := range nodes {
		if !node.IsLeaf(bracketSize) {
			continue
		}
		if _, _, err := s.registry.GetOrCreate(ctx, node.ID); err != nil {
			s.logger.Error("failed to pre-register leaf runtime",
				slog.Int("node_id", node.ID), slog.Any("error", err))
		}
	}
}

func (s *roomService) RoomState(ctx context.Context, roomID int) (*models.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	var (
		participants []*models.RoomParticipant
		nodes        []*models.BracketNode
		assignments  []*models.NodeAssignment
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		participants, err = s.participantRepo.ListByRoom(gCtx, roomID)
		return err
	})
	g.Go(func() error {
		var err error
		nodes, err = s.nodeRepo.ListByRoom(gCtx, roomID)
		return err
	})
	g.Go(func() error {
		var err error
		assignments, err = s.nodeRepo.ListAssignmentsByRoom(gCtx, roomID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load state of room %d: %w", roomID, err)
	}

	room.Participants = make([]models.RoomParticipant, len(participants))
	for i, p := range participants {
		room.Participants[i] = *p
	}
	room.Nodes = make([]models.BracketNode, len(nodes))
	for i, n := range nodes {
		room.Nodes[i] = *n
	}
	room.Assignments = make([]models.NodeAssignment, len(assignments))
	for i, a := range assignments {
		room.Assignments[i] = *a
	}
	return room, nil
}

func (s *roomService) RoomStateByName(ctx context.Context, name string) (*models.Room, error) {
	room, err := s.roomRepo.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.RoomState(ctx, room.ID)
}

func (s *roomService) PromoteWinner(ctx context.Context, nodeID, winnerID int) error {
	node, err := s.nodeRepo.FindByID(ctx, nodeID)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.nodeRepo.DeleteAssignmentsByNode(ctx, exec, nodeID); err != nil {
			return err
		}
		if node.WinnerTargetID == nil {
			// Final node: nothing left to play.
			return nil
		}
		return s.nodeRepo.Assign(ctx, exec, *node.WinnerTargetID, winnerID)
	})
	if err != nil {
		return err
	}

	s.registry.Remove(nodeID)

	if node.WinnerTargetID != nil {
		if _, _, err := s.registry.GetOrCreate(ctx, *node.WinnerTargetID); err != nil {
			s.logger.Error("failed to pre-register next-round runtime",
				slog.Int("node_id", *node.WinnerTargetID), slog.Any("error", err))
		}
	}

	s.logger.Info("winner promoted",
		slog.Int("node_id", nodeID),
		slog.Int("winner_id", winnerID))
	return nil
}

func (s *roomService) ClearRoom(ctx context.Context, name string) error {
	room, err := s.roomRepo.FindByName(ctx, name)
	if err != nil {
		return err
	}

	if s.uploader != nil {
		if err := s.archiveRoom(ctx, room.ID); err != nil {
			s.logger.Error("room report archiving failed",
				slog.Int("room_id", room.ID), slog.Any("error", err))
		}
	}

	// Disconnect clients per node before runtimes go away. Each failure is
	// logged individually; one broken connection never blocks the rest.
	nodes, err := s.nodeRepo.ListByRoom(ctx, room.ID)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		for _, closeErr := range s.hub.DisconnectMatch(node.ID) {
			s.logger.Error("failed to disconnect match client",
				slog.Int("node_id", node.ID), slog.Any("error", closeErr))
		}
	}

	s.registry.RemoveAll(room.ID)

	err = s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		return s.roomRepo.Delete(ctx, exec, room.ID)
	})
	if err != nil && !errors.Is(err, repositories.ErrRoomNotFound) {
		return err
	}

	s.logger.Info("room cleared", slog.Int("room_id", room.ID), slog.String("name", name))
	return nil
}

// archiveRoom uploads a JSON snapshot of the room's final state before
// the rows are destroyed. Best-effort: the caller logs and proceeds.
func (s *roomService) archiveRoom(ctx context.Context, roomID int) error {
	room, err := s.RoomState(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load room %d for archiving: %w", roomID, err)
	}

	snapshot, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room %d report: %w", roomID, err)
	}

	key := fmt.Sprintf("reports/rooms/%d-%s.json", roomID, time.Now().UTC().Format("20060102T150405Z"))
	result, err := s.uploader.Upload(ctx, key, "application/json", bytes.NewReader(snapshot))
	if err != nil {
		return err
	}

	s.logger.Info("room report archived",
		slog.Int("room_id", roomID),
		slog.String("key", result.Key),
		slog.String("location", result.Location))
	return nil
}

func generateRoomName() string {
	return "ai-" + strings.Split(uuid.NewString(), "-")[0]
}
