package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pongarena/match-system/match"
)

// AIBridge connects a match to the external AI opponent service: it tells
// the service a match needs an AI, and later admits the AI's own
// connection into the runtime.
type AIBridge interface {
	// NotifyMatchReady asks the AI service to join a match. A non-2xx
	// response is a hard failure: the match cannot start without its
	// opponent.
	NotifyMatchReady(ctx context.Context, nodeID int) error

	// AdmitAI binds the AI's connection into the node's runtime. The node
	// id comes from the verified AI-match token, so the runtime must
	// already exist (the human connected first and triggered the notify).
	AdmitAI(nodeID int, connID string) error
}

type aiBridge struct {
	baseURL  string
	client   *http.Client
	registry *match.Registry
	logger   *slog.Logger
}

func NewAIBridge(baseURL string, registry *match.Registry, logger *slog.Logger) AIBridge {
	return &aiBridge{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		registry: registry,
		logger:   logger,
	}
}

type aiMatchRequest struct {
	MatchID int `json:"match_id"`
}

func (b *aiBridge) NotifyMatchReady(ctx context.Context, nodeID int) error {
	body, err := json.Marshal(aiMatchRequest{MatchID: nodeID})
	if err != nil {
		return fmt.Errorf("failed to marshal AI match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/ai", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build AI service request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAIServiceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrAIServiceFailed, resp.StatusCode, string(respBody))
	}

	b.logger.Info("AI service notified", slog.Int("node_id", nodeID))
	return nil
}

func (b *aiBridge) AdmitAI(nodeID int, connID string) error {
	rt := b.registry.Get(nodeID)
	if rt == nil {
		return fmt.Errorf("%w: node %d", ErrUnknownMatch, nodeID)
	}
	if err := rt.AIConnected(connID); err != nil {
		return err
	}
	b.logger.Info("AI admitted to match",
		slog.Int("node_id", nodeID), slog.String("conn_id", connID))
	return nil
}
