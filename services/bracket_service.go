package services

import (
	"context"
	"fmt"

	"github.com/pongarena/match-system/models"
	"github.com/pongarena/match-system/repositories"
)

// growthRounds are the round sizes the builder grows through, in order.
// The ceiling of 16 participants is inherited from the system this was
// modeled on; anything larger is a configuration error, not a silent cap.
var growthRounds = []int{models.RoundSemi, models.RoundQuarter, models.RoundEighth}

// BracketService constructs the single-elimination tree for a room. All
// writes go through the executor handed in by the caller, so the whole
// bracket is one atomic transaction.
type BracketService interface {
	// BuildBracket creates N-1 nodes for N participants and assigns
	// participantIDs pairwise to the leaf nodes in input order. Seeding is
	// positional, not skill-based. Returns every created node, leaves
	// last.
	BuildBracket(ctx context.Context, exec repositories.SQLExecutor, roomID int, participantIDs []int) ([]*models.BracketNode, error)

	// BuildAIBracket creates the degenerate solo bracket: one AI-assisted
	// root with a single human assignment. The AI opponent is admitted
	// later through its own connection, never as an assignment.
	BuildAIBracket(ctx context.Context, exec repositories.SQLExecutor, roomID int, userID int) (*models.BracketNode, error)
}

type bracketService struct {
	nodeRepo repositories.NodeRepository
}

func NewBracketService(nodeRepo repositories.NodeRepository) BracketService {
	return &bracketService{nodeRepo: nodeRepo}
}

func (s *bracketService) BuildBracket(ctx context.Context, exec repositories.SQLExecutor, roomID int, participantIDs []int) ([]*models.BracketNode, error) {
	n := len(participantIDs)
	if !models.ValidBracketSize(n) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBracketSize, n)
	}

	root := &models.BracketNode{RoomID: roomID, RoundSize: models.RoundFinal}
	if err := s.nodeRepo.Create(ctx, exec, root); err != nil {
		return nil, fmt.Errorf("failed to create root node for room %d: %w", roomID, err)
	}

	allNodes := []*models.BracketNode{root}
	prevRound := []*models.BracketNode{root}

	for _, roundSize := range growthRounds {
		if roundSize > n {
			break
		}

		currentRound := make([]*models.BracketNode, 0, roundSize/2)
		for i := 0; i < roundSize/2; i++ {
			// Two adjacent children feed the same parent, preserving
			// left/right seed locality.
			targetID := prevRound[i/2].ID
			node := &models.BracketNode{
				RoomID:         roomID,
				RoundSize:      roundSize,
				WinnerTargetID: &targetID,
			}
			if err := s.nodeRepo.Create(ctx, exec, node); err != nil {
				return nil, fmt.Errorf("failed to create round-%d node for room %d: %w", roundSize, roomID, err)
			}
			currentRound = append(currentRound, node)
		}
		prevRound = currentRound
		allNodes = append(allNodes, currentRound...)
	}

	// The deepest round built is the first round played: its nodes are the
	// leaves and take two participants each, in input order.
	for idx, leaf := range prevRound {
		for _, userID := range []int{participantIDs[idx*2], participantIDs[idx*2+1]} {
			if err := s.nodeRepo.Assign(ctx, exec, leaf.ID, userID); err != nil {
				return nil, fmt.Errorf("failed to assign user %d to leaf node %d: %w", userID, leaf.ID, err)
			}
		}
	}

	return allNodes, nil
}

func (s *bracketService) BuildAIBracket(ctx context.Context, exec repositories.SQLExecutor, roomID int, userID int) (*models.BracketNode, error) {
	node := &models.BracketNode{
		RoomID:     roomID,
		RoundSize:  models.RoundFinal,
		AIAssisted: true,
	}
	if err := s.nodeRepo.Create(ctx, exec, node); err != nil {
		return nil, fmt.Errorf("failed to create AI node for room %d: %w", roomID, err)
	}
	if err := s.nodeRepo.Assign(ctx, exec, node.ID, userID); err != nil {
		return nil, fmt.Errorf("failed to assign user %d to AI node %d: %w", userID, node.ID, err)
	}
	return node, nil
}
