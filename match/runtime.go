package match

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pongarena/match-system/models"
)

var (
	ErrDuplicateConnection = errors.New("participant is already connected to this match")
	ErrUserNotInMatch      = errors.New("user is not a connected participant of this match")
	ErrNotAIMatch          = errors.New("match is not AI-assisted")
	ErrMatchClosed         = errors.New("match runtime is closed")
)

// SlotState tracks one participant's presence within a runtime.
type SlotState int

const (
	SlotExpected SlotState = iota
	SlotConnected
	SlotDisconnected
)

func (s SlotState) String() string {
	switch s {
	case SlotExpected:
		return "expected"
	case SlotConnected:
		return "connected"
	case SlotDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("SlotState(%d)", int(s))
}

// State is the lifecycle of the runtime as a whole.
type State int

const (
	StateAwaitingParticipants State = iota
	StateInProgress
	StateClosed
)

type slot struct {
	state  SlotState
	connID string
	name   string
}

// Runtime is the transient in-memory state of one active bracket node.
// It is created by the registry and owned by it; all mutation goes through
// the connection orchestrator. Slot transitions are applied under the
// runtime lock so a connect racing a stale disconnect cannot lose updates.
type Runtime struct {
	mu sync.Mutex

	nodeID     int
	roomID     int
	aiAssisted bool

	slots      map[int]*slot
	aiConnID   string
	aiNotified bool
	state      State
	engine     Engine
}

func newRuntime(info *NodeInfo, engine Engine) *Runtime {
	rt := &Runtime{
		nodeID:     info.NodeID,
		roomID:     info.RoomID,
		aiAssisted: info.AIAssisted,
		slots:      make(map[int]*slot),
		state:      StateAwaitingParticipants,
		engine:     engine,
	}
	for _, userID := range info.UserIDs {
		rt.slots[userID] = &slot{state: SlotExpected}
	}
	return rt
}

func (rt *Runtime) NodeID() int      { return rt.nodeID }
func (rt *Runtime) RoomID() int      { return rt.roomID }
func (rt *Runtime) AIAssisted() bool { return rt.aiAssisted }

func (rt *Runtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// PreRegister marks a participant slot as expected without a live
// connection, so reconnect and next-match logic can find it later.
func (rt *Runtime) PreRegister(userID int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.slots[userID]; !ok {
		rt.slots[userID] = &slot{state: SlotExpected}
	}
}

// UserConnected transitions the participant's slot to connected. A slot
// already connected is rejected: the caller must treat that as a duplicate
// session. Unknown users get a slot lazily, which covers AI rooms whose
// expected set is not fully known up front.
func (rt *Runtime) UserConnected(identity models.Identity) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state == StateClosed {
		return ErrMatchClosed
	}

	s, ok := rt.slots[identity.UserID]
	if !ok {
		s = &slot{state: SlotExpected}
		rt.slots[identity.UserID] = s
	}
	if s.state == SlotConnected {
		return ErrDuplicateConnection
	}

	s.state = SlotConnected
	s.connID = identity.ConnID
	s.name = identity.DisplayName
	rt.refreshStateLocked()
	return nil
}

// RevokeConnection undoes a UserConnected that could not be completed
// downstream. The slot returns to expected, as if the connect never
// happened.
func (rt *Runtime) RevokeConnection(userID int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	s, ok := rt.slots[userID]
	if !ok || s.state != SlotConnected {
		return
	}
	s.state = SlotExpected
	s.connID = ""
	rt.refreshStateLocked()
}

// UserDisconnected transitions the slot to disconnected but keeps it, so
// a reconnect finds the same participant. Outcome policy (pause, forfeit)
// is the engine's call; the runtime only signals the event.
func (rt *Runtime) UserDisconnected(userID int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	s, ok := rt.slots[userID]
	if !ok {
		return
	}
	if s.state == SlotConnected {
		s.state = SlotDisconnected
		s.connID = ""
		if rt.engine != nil {
			rt.engine.PlayerDisconnected(userID)
		}
	}
}

// AIConnected binds the AI service's connection into the AI seat.
func (rt *Runtime) AIConnected(connID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.aiAssisted {
		return ErrNotAIMatch
	}
	if rt.state == StateClosed {
		return ErrMatchClosed
	}
	rt.aiConnID = connID
	rt.refreshStateLocked()
	return nil
}

// ClaimAINotification returns true exactly once for an AI-assisted node,
// no matter how many connects race for it. Non-AI nodes always return
// false.
func (rt *Runtime) ClaimAINotification() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.aiAssisted || rt.aiNotified {
		return false
	}
	rt.aiNotified = true
	return true
}

// ReleaseAINotification re-arms the notification guard after a failed
// delivery so the next connect retries it.
func (rt *Runtime) ReleaseAINotification() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.aiNotified = false
}

// SetPaddle forwards a paddle input to the simulation engine.
func (rt *Runtime) SetPaddle(userID int, direction int) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	s, ok := rt.slots[userID]
	if !ok || s.state != SlotConnected {
		return ErrUserNotInMatch
	}
	if rt.engine == nil {
		return fmt.Errorf("no simulation engine bound to node %d", rt.nodeID)
	}
	return rt.engine.SetPaddle(userID, direction)
}

// SlotState reports a participant's slot state.
func (rt *Runtime) SlotState(userID int) (SlotState, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.slots[userID]
	if !ok {
		return SlotExpected, false
	}
	return s.state, true
}

// OccupiedSlots counts live seats: connected participants plus the AI
// seat when bound.
func (rt *Runtime) OccupiedSlots() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.occupiedLocked()
}

// ConnIDs returns the connection ids of all connected participants,
// including the AI seat.
func (rt *Runtime) ConnIDs() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	ids := make([]string, 0, len(rt.slots)+1)
	for _, s := range rt.slots {
		if s.state == SlotConnected {
			ids = append(ids, s.connID)
		}
	}
	if rt.aiConnID != "" {
		ids = append(ids, rt.aiConnID)
	}
	return ids
}

// Close shuts the runtime down and stops the engine. Further connects are
// rejected.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state == StateClosed {
		return
	}
	rt.state = StateClosed
	if rt.engine != nil {
		rt.engine.Stop()
	}
}

func (rt *Runtime) occupiedLocked() int {
	n := 0
	for _, s := range rt.slots {
		if s.state == SlotConnected {
			n++
		}
	}
	if rt.aiConnID != "" {
		n++
	}
	return n
}

// refreshStateLocked moves the runtime to in-progress once both seats of
// the node are occupied. It never leaves the closed state.
func (rt *Runtime) refreshStateLocked() {
	if rt.state == StateClosed {
		return
	}
	if rt.occupiedLocked() >= 2 {
		rt.state = StateInProgress
	} else {
		rt.state = StateAwaitingParticipants
	}
}
