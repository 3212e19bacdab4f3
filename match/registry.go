package match

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// NodeInfo is what the registry needs from the bracket store to seed a
// runtime: the node itself and the users currently assigned to it.
type NodeInfo struct {
	NodeID     int
	RoomID     int
	AIAssisted bool
	UserIDs    []int
}

// NodeLoader reads a bracket node and its assignments from the durable
// store. Implemented by the service layer on top of the repositories.
type NodeLoader interface {
	LoadNode(ctx context.Context, nodeID int) (*NodeInfo, error)
}

// Registry is the process-wide mapping from bracket node id to its live
// runtime. It is constructed once at startup and passed by reference to
// the orchestrator and the AI bridge; there is no package-level instance.
//
// Only the map mutation is critical-sectioned. Store reads needed to seed
// a new runtime happen outside the lock, with a double-checked insert so
// concurrent connects for the same node observe a single runtime.
type Registry struct {
	mu          sync.RWMutex
	runtimes    map[int]*Runtime
	activeNodes map[int]int // userID -> nodeID the user currently occupies

	loader  NodeLoader
	engines EngineFactory
	logger  *slog.Logger
}

func NewRegistry(loader NodeLoader, engines EngineFactory, logger *slog.Logger) *Registry {
	return &Registry{
		runtimes:    make(map[int]*Runtime),
		activeNodes: make(map[int]int),
		loader:      loader,
		engines:     engines,
		logger:      logger,
	}
}

// GetOrCreate returns the runtime for a node, creating it on first use.
// The boolean reports whether this call created it. Exactly one runtime
// ever exists per node id, no matter how many callers race here.
func (r *Registry) GetOrCreate(ctx context.Context, nodeID int) (*Runtime, bool, error) {
	r.mu.RLock()
	rt, ok := r.runtimes[nodeID]
	r.mu.RUnlock()
	if ok {
		return rt, false, nil
	}

	info, err := r.loader.LoadNode(ctx, nodeID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load node %d for runtime creation: %w", nodeID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.runtimes[nodeID]; ok {
		return rt, false, nil
	}

	rt = newRuntime(info, r.engines(nodeID, info.AIAssisted))
	r.runtimes[nodeID] = rt
	for _, userID := range info.UserIDs {
		r.activeNodes[userID] = nodeID
	}
	r.logger.Info("match runtime created",
		slog.Int("node_id", nodeID),
		slog.Int("room_id", info.RoomID),
		slog.Bool("ai_assisted", info.AIAssisted))
	return rt, true, nil
}

// Get returns the runtime for a node, or nil when none exists.
func (r *Registry) Get(nodeID int) *Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runtimes[nodeID]
}

// Remove drops a single runtime, used to undo a creation whose connect
// sequence failed before anyone was admitted.
func (r *Registry) Remove(nodeID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.runtimes[nodeID]
	if !ok {
		return
	}
	delete(r.runtimes, nodeID)
	for userID, active := range r.activeNodes {
		if active == nodeID {
			delete(r.activeNodes, userID)
		}
	}
	rt.Close()
}

// Bind records the node a user currently occupies, feeding the reverse
// index used by paddle input routing.
func (r *Registry) Bind(userID, nodeID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeNodes[userID] = nodeID
}

// NodeByUser resolves the node a user is currently playing on.
func (r *Registry) NodeByUser(userID int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodeID, ok := r.activeNodes[userID]
	return nodeID, ok
}

// RemoveAll tears down every runtime belonging to a room. Called on room
// cleanup; the durable bracket rows are the caller's business.
func (r *Registry) RemoveAll(roomID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for nodeID, rt := range r.runtimes {
		if rt.RoomID() != roomID {
			continue
		}
		delete(r.runtimes, nodeID)
		for userID, active := range r.activeNodes {
			if active == nodeID {
				delete(r.activeNodes, userID)
			}
		}
		rt.Close()
	}
}

// Clear drops every runtime without touching the bracket store. Meant for
// process-wide reset, e.g. between test runs.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for nodeID, rt := range r.runtimes {
		delete(r.runtimes, nodeID)
		rt.Close()
	}
	r.activeNodes = make(map[int]int)
}

// Len reports how many runtimes are live.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runtimes)
}
