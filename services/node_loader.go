package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/pongarena/match-system/match"
	"github.com/pongarena/match-system/repositories"
)

// storeNodeLoader feeds the match registry from the bracket store: the
// node row plus whoever is currently assigned to it.
type storeNodeLoader struct {
	nodeRepo repositories.NodeRepository
}

func NewNodeLoader(nodeRepo repositories.NodeRepository) match.NodeLoader {
	return &storeNodeLoader{nodeRepo: nodeRepo}
}

func (l *storeNodeLoader) LoadNode(ctx context.Context, nodeID int) (*match.NodeInfo, error) {
	node, err := l.nodeRepo.FindByID(ctx, nodeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNodeNotFound) {
			return nil, fmt.Errorf("%w: node %d", ErrUnknownMatch, nodeID)
		}
		return nil, err
	}

	assignments, err := l.nodeRepo.ListAssignmentsByNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	info := &match.NodeInfo{
		NodeID:     node.ID,
		RoomID:     node.RoomID,
		AIAssisted: node.AIAssisted,
		UserIDs:    make([]int, 0, len(assignments)),
	}
	for _, a := range assignments {
		info.UserIDs = append(info.UserIDs, a.UserID)
	}
	return info, nil
}
