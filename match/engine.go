package match

import "log/slog"

// Engine is the handle to the external game simulation bound to one
// bracket node. The simulation loop itself (ball physics, scoring, win
// detection) lives outside this subsystem; the runtime only forwards
// events to it.
type Engine interface {
	// SetPaddle applies a paddle input for a connected participant.
	// Direction semantics are owned by the engine.
	SetPaddle(userID int, direction int) error
	// PlayerDisconnected signals that a participant dropped. Whether that
	// pauses the game or forfeits it is the engine's policy.
	PlayerDisconnected(userID int)
	Stop()
}

// EngineFactory produces an engine handle for a bracket node when its
// runtime is created.
type EngineFactory func(nodeID int, aiAssisted bool) Engine

// loggingEngine is the default binding used until a real simulation
// endpoint is attached. It records inputs and otherwise does nothing.
type loggingEngine struct {
	nodeID int
	logger *slog.Logger
}

func NewLoggingEngineFactory(logger *slog.Logger) EngineFactory {
	return func(nodeID int, aiAssisted bool) Engine {
		return &loggingEngine{nodeID: nodeID, logger: logger}
	}
}

func (e *loggingEngine) SetPaddle(userID int, direction int) error {
	e.logger.Debug("paddle input",
		slog.Int("node_id", e.nodeID),
		slog.Int("user_id", userID),
		slog.Int("direction", direction))
	return nil
}

func (e *loggingEngine) PlayerDisconnected(userID int) {
	e.logger.Info("participant left simulation",
		slog.Int("node_id", e.nodeID),
		slog.Int("user_id", userID))
}

func (e *loggingEngine) Stop() {}
