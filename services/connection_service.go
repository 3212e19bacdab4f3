package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pongarena/match-system/match"
	"github.com/pongarena/match-system/models"
	"github.com/pongarena/match-system/repositories"
	"github.com/pongarena/match-system/utils"
)

// ConnectionService is the entry point the transport layer drives on
// connect, disconnect and player-input events. It resolves identity,
// finds or creates the match runtime, and applies the state transitions.
// It is safe under concurrent invocation for different connections; the
// registry and runtime serialize conflicting operations per node.
type ConnectionService interface {
	// HandleConnect admits a connection and returns the bracket node the
	// connection was joined to. Any error means the connection was
	// rejected and the transport must close it; no partial state is left
	// behind.
	HandleConnect(ctx context.Context, connID string, creds models.Credentials) (int, error)

	// HandleDisconnect records a dropped connection. There is nothing a
	// transport can do about failures here, so it never returns one.
	HandleDisconnect(ctx context.Context, connID string, reason string)

	// HandlePaddleInput routes a paddle direction to the user's active
	// match.
	HandlePaddleInput(ctx context.Context, connID string, rawDirection interface{}) error

	// AdvanceToNextMatch joins the user to their next unplayed node, i.e.
	// the smallest remaining round size, and returns that node's id.
	AdvanceToNextMatch(ctx context.Context, connID string) (int, error)
}

type connectionService struct {
	sessions        SessionStore
	tokens          TokenService
	participantRepo repositories.ParticipantRepository
	nodeRepo        repositories.NodeRepository
	registry        *match.Registry
	aiBridge        AIBridge
	logger          *slog.Logger
}

func NewConnectionService(
	sessions SessionStore,
	tokens TokenService,
	participantRepo repositories.ParticipantRepository,
	nodeRepo repositories.NodeRepository,
	registry *match.Registry,
	aiBridge AIBridge,
	logger *slog.Logger,
) ConnectionService {
	return &connectionService{
		sessions:        sessions,
		tokens:          tokens,
		participantRepo: participantRepo,
		nodeRepo:        nodeRepo,
		registry:        registry,
		aiBridge:        aiBridge,
		logger:          logger,
	}
}

func (s *connectionService) HandleConnect(ctx context.Context, connID string, creds models.Credentials) (int, error) {
	if creds.IsAI() {
		nodeID, err := s.tokens.CheckAIToken(creds.AIToken)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrConnectionRejected, err)
		}
		if err := s.aiBridge.AdmitAI(nodeID, connID); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrConnectionRejected, err)
		}
		s.logger.Info("AI connection admitted",
			slog.String("conn_id", connID), slog.Int("node_id", nodeID))
		return nodeID, nil
	}

	identity, err := s.resolveIdentity(connID, creds)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConnectionRejected, err)
	}

	participant, err := s.participantRepo.FindByUser(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return 0, fmt.Errorf("%w: %w", ErrConnectionRejected, ErrNoRoomMembership)
		}
		return 0, err
	}
	if participant.IsOnline {
		return 0, fmt.Errorf("%w: %w", ErrConnectionRejected, ErrAlreadyOnline)
	}

	assignment, err := s.nodeRepo.FindCurrentAssignment(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrAssignmentNotFound) {
			return 0, fmt.Errorf("%w: %w", ErrConnectionRejected, ErrNoAssignment)
		}
		return 0, err
	}

	if err := s.joinMatch(ctx, identity, assignment.NodeID, true); err != nil {
		return 0, err
	}

	s.logger.Info("participant connected",
		slog.String("conn_id", connID),
		slog.Int("user_id", identity.UserID),
		slog.Int("node_id", assignment.NodeID))
	return assignment.NodeID, nil
}

// joinMatch runs the connect-and-join sequence against one node. Every
// state change made before a failure is undone, so a rejected join leaves
// no orphaned slot, session binding or online flag.
func (s *connectionService) joinMatch(ctx context.Context, identity models.Identity, nodeID int, markOnline bool) error {
	rt, created, err := s.registry.GetOrCreate(ctx, nodeID)
	if err != nil {
		return err
	}

	dropIfUnused := func() {
		if created && rt.OccupiedSlots() == 0 {
			s.registry.Remove(nodeID)
		}
	}

	if err := rt.UserConnected(identity); err != nil {
		dropIfUnused()
		return fmt.Errorf("%w: %w", ErrConnectionRejected, err)
	}

	s.sessions.Bind(identity.ConnID, identity)
	s.registry.Bind(identity.UserID, nodeID)

	if markOnline {
		if err := s.participantRepo.SetOnline(ctx, identity.UserID, true); err != nil {
			rt.RevokeConnection(identity.UserID)
			s.sessions.Remove(identity.ConnID)
			dropIfUnused()
			return err
		}
	}

	if rt.ClaimAINotification() {
		if err := s.aiBridge.NotifyMatchReady(ctx, nodeID); err != nil {
			rt.ReleaseAINotification()
			rt.RevokeConnection(identity.UserID)
			s.sessions.Remove(identity.ConnID)
			if markOnline {
				if offErr := s.participantRepo.SetOnline(ctx, identity.UserID, false); offErr != nil {
					s.logger.Error("failed to revert online flag",
						slog.Int("user_id", identity.UserID), slog.Any("error", offErr))
				}
			}
			dropIfUnused()
			return err
		}
	}

	return nil
}

func (s *connectionService) HandleDisconnect(ctx context.Context, connID string, reason string) {
	identity, ok := s.sessions.Lookup(connID)
	if !ok {
		s.logger.Info("disconnect for unknown session",
			slog.String("conn_id", connID), slog.String("reason", reason))
		return
	}
	s.sessions.Remove(connID)

	nodeID, ok := s.registry.NodeByUser(identity.UserID)
	if !ok {
		s.logger.Info("disconnect with no active match, nothing to update",
			slog.Int("user_id", identity.UserID), slog.String("reason", reason))
		return
	}

	rt := s.registry.Get(nodeID)
	if rt == nil {
		s.logger.Info("disconnect but match runtime already gone",
			slog.Int("user_id", identity.UserID), slog.Int("node_id", nodeID))
		return
	}
	rt.UserDisconnected(identity.UserID)

	if err := s.participantRepo.SetOnline(ctx, identity.UserID, false); err != nil {
		s.logger.Error("failed to mark participant offline",
			slog.Int("user_id", identity.UserID), slog.Any("error", err))
	}

	s.logger.Info("participant disconnected",
		slog.String("conn_id", connID),
		slog.Int("user_id", identity.UserID),
		slog.Int("node_id", nodeID),
		slog.String("reason", reason))
}

func (s *connectionService) HandlePaddleInput(ctx context.Context, connID string, rawDirection interface{}) error {
	identity, ok := s.sessions.Lookup(connID)
	if !ok {
		return ErrUnknownSession
	}

	direction, err := utils.AsInt(rawDirection)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDirection, err)
	}

	nodeID, ok := s.registry.NodeByUser(identity.UserID)
	if !ok {
		return fmt.Errorf("%w: user %d has no active match", ErrUnknownMatch, identity.UserID)
	}
	rt := s.registry.Get(nodeID)
	if rt == nil {
		return fmt.Errorf("%w: node %d", ErrUnknownMatch, nodeID)
	}

	return rt.SetPaddle(identity.UserID, direction)
}

func (s *connectionService) AdvanceToNextMatch(ctx context.Context, connID string) (int, error) {
	identity, ok := s.sessions.Lookup(connID)
	if !ok {
		return 0, ErrUnknownSession
	}

	// The next unplayed node is the remaining assignment with the
	// smallest round size: single-elimination progression order.
	assignment, err := s.nodeRepo.FindCurrentAssignment(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrAssignmentNotFound) {
			return 0, fmt.Errorf("%w: %w", ErrConnectionRejected, ErrNoAssignment)
		}
		return 0, err
	}

	if err := s.joinMatch(ctx, identity, assignment.NodeID, false); err != nil {
		return 0, err
	}

	s.logger.Info("participant advanced to next match",
		slog.Int("user_id", identity.UserID),
		slog.Int("node_id", assignment.NodeID))
	return assignment.NodeID, nil
}

func (s *connectionService) resolveIdentity(connID string, creds models.Credentials) (models.Identity, error) {
	switch {
	case creds.AccessToken != "":
		userID, err := s.tokens.CheckUserToken(creds.AccessToken)
		if err != nil {
			return models.Identity{}, err
		}
		// TODO: resolve display names from the user service once it
		// exposes a lookup; until then the id doubles as the name.
		return models.Identity{
			UserID:      userID,
			DisplayName: strconv.Itoa(userID),
			ConnID:      connID,
		}, nil

	case creds.UserID != 0:
		name := creds.DisplayName
		if name == "" {
			name = strconv.Itoa(creds.UserID)
		}
		return models.Identity{
			UserID:      creds.UserID,
			DisplayName: name,
			ConnID:      connID,
		}, nil

	default:
		return models.Identity{}, ErrBadCredentials
	}
}
