package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pongarena/match-system/match"
	"github.com/pongarena/match-system/models"
	"github.com/pongarena/match-system/repositories"
)

type fakeParticipantRepo struct {
	byUser       map[int]*models.RoomParticipant
	setOnlineErr error
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{byUser: make(map[int]*models.RoomParticipant)}
}

func (r *fakeParticipantRepo) Create(_ context.Context, _ repositories.SQLExecutor, p *models.RoomParticipant) error {
	if _, ok := r.byUser[p.UserID]; ok {
		return repositories.ErrParticipantConflict
	}
	p.ID = len(r.byUser) + 1
	r.byUser[p.UserID] = p
	return nil
}

func (r *fakeParticipantRepo) FindByUser(_ context.Context, userID int) (*models.RoomParticipant, error) {
	p, ok := r.byUser[userID]
	if !ok {
		return nil, repositories.ErrParticipantNotFound
	}
	return p, nil
}

func (r *fakeParticipantRepo) ListByRoom(_ context.Context, roomID int) ([]*models.RoomParticipant, error) {
	out := make([]*models.RoomParticipant, 0)
	for _, p := range r.byUser {
		if p.RoomID == roomID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeParticipantRepo) SetOnline(_ context.Context, userID int, online bool) error {
	if r.setOnlineErr != nil {
		return r.setOnlineErr
	}
	p, ok := r.byUser[userID]
	if !ok {
		return repositories.ErrParticipantNotFound
	}
	p.IsOnline = online
	return nil
}

type captureEngine struct {
	mu           sync.Mutex
	paddles      map[int]int
	disconnected []int
	stopped      bool
}

func (e *captureEngine) SetPaddle(userID, direction int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paddles[userID] = direction
	return nil
}

func (e *captureEngine) PlayerDisconnected(userID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, userID)
}

func (e *captureEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
}

type aiServiceRecorder struct {
	mu       sync.Mutex
	matchIDs []int
	status   int
}

func (rec *aiServiceRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			MatchID int `json:"match_id"`
		}
		_ = json.Unmarshal(body, &req)

		rec.mu.Lock()
		rec.matchIDs = append(rec.matchIDs, req.MatchID)
		status := rec.status
		rec.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}

func (rec *aiServiceRecorder) notified() []int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]int(nil), rec.matchIDs...)
}

type connFixture struct {
	store        *fakeNodeStore
	participants *fakeParticipantRepo
	registry     *match.Registry
	sessions     SessionStore
	tokens       TokenService
	aiRecorder   *aiServiceRecorder
	engines      map[int]*captureEngine
	svc          ConnectionService
}

func newConnFixture(t *testing.T) *connFixture {
	t.Helper()

	f := &connFixture{
		store:        newFakeNodeStore(),
		participants: newFakeParticipantRepo(),
		sessions:     NewSessionStore(),
		tokens:       NewTokenService("test-secret"),
		aiRecorder:   &aiServiceRecorder{},
		engines:      make(map[int]*captureEngine),
	}

	server := httptest.NewServer(f.aiRecorder.handler())
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engineFactory := func(nodeID int, _ bool) match.Engine {
		e := &captureEngine{paddles: make(map[int]int)}
		f.engines[nodeID] = e
		return e
	}
	f.registry = match.NewRegistry(NewNodeLoader(f.store), engineFactory, logger)
	f.svc = NewConnectionService(
		f.sessions,
		f.tokens,
		f.participants,
		f.store,
		f.registry,
		NewAIBridge(server.URL, f.registry, logger),
		logger,
	)
	return f
}

// seedDuel creates a room-1 participant pair assigned to one plain node and
// returns the node id.
func (f *connFixture) seedDuel(t *testing.T, userA, userB int) int {
	t.Helper()
	node := &models.BracketNode{RoomID: 1, RoundSize: models.RoundFinal}
	require.NoError(t, f.store.Create(context.Background(), nil, node))
	for _, userID := range []int{userA, userB} {
		require.NoError(t, f.store.Assign(context.Background(), nil, node.ID, userID))
		require.NoError(t, f.participants.Create(context.Background(), nil, &models.RoomParticipant{RoomID: 1, UserID: userID}))
	}
	return node.ID
}

func (f *connFixture) seedAISolo(t *testing.T, userID int) int {
	t.Helper()
	node := &models.BracketNode{RoomID: 1, RoundSize: models.RoundFinal, AIAssisted: true}
	require.NoError(t, f.store.Create(context.Background(), nil, node))
	require.NoError(t, f.store.Assign(context.Background(), nil, node.ID, userID))
	require.NoError(t, f.participants.Create(context.Background(), nil, &models.RoomParticipant{RoomID: 1, UserID: userID}))
	return node.ID
}

func bypassCreds(userID int) models.Credentials {
	return models.Credentials{UserID: userID}
}

func TestHandleConnect(t *testing.T) {
	t.Run("admits assigned participant", func(t *testing.T) {
		f := newConnFixture(t)
		nodeID := f.seedDuel(t, 11, 22)

		got, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(11))
		require.NoError(t, err)
		assert.Equal(t, nodeID, got)

		identity, ok := f.sessions.Lookup("c-1")
		require.True(t, ok)
		assert.Equal(t, 11, identity.UserID)
		assert.True(t, f.participants.byUser[11].IsOnline)

		rt := f.registry.Get(nodeID)
		require.NotNil(t, rt)
		state, _ := rt.SlotState(11)
		assert.Equal(t, match.SlotConnected, state)
	})

	t.Run("admits via signed access token", func(t *testing.T) {
		f := newConnFixture(t)
		nodeID := f.seedDuel(t, 11, 22)

		token := signUserToken(t, "test-secret", 11, time.Hour)
		got, err := f.svc.HandleConnect(context.Background(), "c-1", models.Credentials{AccessToken: token})
		require.NoError(t, err)
		assert.Equal(t, nodeID, got)
	})

	t.Run("rejects empty credentials", func(t *testing.T) {
		f := newConnFixture(t)
		f.seedDuel(t, 11, 22)

		_, err := f.svc.HandleConnect(context.Background(), "c-1", models.Credentials{})
		assert.ErrorIs(t, err, ErrConnectionRejected)
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("rejects user without room membership", func(t *testing.T) {
		f := newConnFixture(t)
		f.seedDuel(t, 11, 22)

		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(404))
		assert.ErrorIs(t, err, ErrConnectionRejected)
		assert.ErrorIs(t, err, ErrNoRoomMembership)

		_, ok := f.sessions.Lookup("c-1")
		assert.False(t, ok)
		assert.Equal(t, 0, f.registry.Len())
	})

	t.Run("rejects already online participant", func(t *testing.T) {
		f := newConnFixture(t)
		f.seedDuel(t, 11, 22)

		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(11))
		require.NoError(t, err)

		_, err = f.svc.HandleConnect(context.Background(), "c-2", bypassCreds(11))
		assert.ErrorIs(t, err, ErrConnectionRejected)
		assert.ErrorIs(t, err, ErrAlreadyOnline)

		// The original session and connection are untouched.
		_, ok := f.sessions.Lookup("c-1")
		assert.True(t, ok)
		_, ok = f.sessions.Lookup("c-2")
		assert.False(t, ok)
	})

	t.Run("rejects participant with no remaining assignment", func(t *testing.T) {
		f := newConnFixture(t)
		require.NoError(t, f.participants.Create(context.Background(), nil, &models.RoomParticipant{RoomID: 1, UserID: 33}))

		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(33))
		assert.ErrorIs(t, err, ErrConnectionRejected)
		assert.ErrorIs(t, err, ErrNoAssignment)
	})

	t.Run("failed join leaves no partial state", func(t *testing.T) {
		f := newConnFixture(t)
		nodeID := f.seedAISolo(t, 42)
		f.aiRecorder.status = http.StatusInternalServerError

		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(42))
		assert.ErrorIs(t, err, ErrAIServiceFailed)

		_, ok := f.sessions.Lookup("c-1")
		assert.False(t, ok)
		assert.False(t, f.participants.byUser[42].IsOnline)
		assert.Nil(t, f.registry.Get(nodeID))
	})
}

func TestHandleConnectAIFlow(t *testing.T) {
	t.Run("human connect notifies AI service once", func(t *testing.T) {
		f := newConnFixture(t)
		nodeID := f.seedAISolo(t, 42)

		got, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(42))
		require.NoError(t, err)
		assert.Equal(t, nodeID, got)
		assert.Equal(t, []int{nodeID}, f.aiRecorder.notified())
	})

	t.Run("AI joins with its match token", func(t *testing.T) {
		f := newConnFixture(t)
		nodeID := f.seedAISolo(t, 42)

		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(42))
		require.NoError(t, err)

		aiToken, err := f.tokens.MakeAIToken(nodeID, time.Minute)
		require.NoError(t, err)

		got, err := f.svc.HandleConnect(context.Background(), "ai-1", models.Credentials{AIToken: aiToken})
		require.NoError(t, err)
		assert.Equal(t, nodeID, got)

		rt := f.registry.Get(nodeID)
		require.NotNil(t, rt)
		assert.Equal(t, 2, rt.OccupiedSlots())
		assert.Equal(t, match.StateInProgress, rt.State())
	})

	t.Run("AI rejected before the human triggers the match", func(t *testing.T) {
		f := newConnFixture(t)
		nodeID := f.seedAISolo(t, 42)

		aiToken, err := f.tokens.MakeAIToken(nodeID, time.Minute)
		require.NoError(t, err)

		_, err = f.svc.HandleConnect(context.Background(), "ai-1", models.Credentials{AIToken: aiToken})
		assert.ErrorIs(t, err, ErrConnectionRejected)
		assert.ErrorIs(t, err, ErrUnknownMatch)
	})

	t.Run("plain match never notifies the AI service", func(t *testing.T) {
		f := newConnFixture(t)
		f.seedDuel(t, 11, 22)

		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(11))
		require.NoError(t, err)
		_, err = f.svc.HandleConnect(context.Background(), "c-2", bypassCreds(22))
		require.NoError(t, err)
		assert.Empty(t, f.aiRecorder.notified())
	})
}

func TestHandleDisconnect(t *testing.T) {
	f := newConnFixture(t)
	nodeID := f.seedDuel(t, 11, 22)

	_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(11))
	require.NoError(t, err)

	f.svc.HandleDisconnect(context.Background(), "c-1", "peer closed")

	_, ok := f.sessions.Lookup("c-1")
	assert.False(t, ok)
	assert.False(t, f.participants.byUser[11].IsOnline)

	rt := f.registry.Get(nodeID)
	require.NotNil(t, rt)
	state, _ := rt.SlotState(11)
	assert.Equal(t, match.SlotDisconnected, state)
	assert.Equal(t, []int{11}, f.engines[nodeID].disconnected)

	// A reconnect after the disconnect is a fresh, valid session.
	_, err = f.svc.HandleConnect(context.Background(), "c-3", bypassCreds(11))
	assert.NoError(t, err)
}

func TestHandleDisconnectUnknownSession(t *testing.T) {
	f := newConnFixture(t)
	// Must not panic or touch any state.
	f.svc.HandleDisconnect(context.Background(), "ghost", "timeout")
	assert.Equal(t, 0, f.sessions.Len())
}

func TestHandlePaddleInput(t *testing.T) {
	t.Run("routes direction to the engine", func(t *testing.T) {
		f := newConnFixture(t)
		nodeID := f.seedDuel(t, 11, 22)

		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(11))
		require.NoError(t, err)

		// JSON numbers arrive as float64.
		require.NoError(t, f.svc.HandlePaddleInput(context.Background(), "c-1", float64(-1)))
		assert.Equal(t, -1, f.engines[nodeID].paddles[11])
	})

	t.Run("rejects unknown session", func(t *testing.T) {
		f := newConnFixture(t)
		err := f.svc.HandlePaddleInput(context.Background(), "ghost", float64(1))
		assert.ErrorIs(t, err, ErrUnknownSession)
	})

	t.Run("rejects non-numeric direction", func(t *testing.T) {
		f := newConnFixture(t)
		f.seedDuel(t, 11, 22)
		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(11))
		require.NoError(t, err)

		err = f.svc.HandlePaddleInput(context.Background(), "c-1", "up")
		assert.ErrorIs(t, err, ErrInvalidDirection)
	})

	t.Run("rejects input after disconnect", func(t *testing.T) {
		f := newConnFixture(t)
		f.seedDuel(t, 11, 22)
		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(11))
		require.NoError(t, err)
		f.svc.HandleDisconnect(context.Background(), "c-1", "gone")

		err = f.svc.HandlePaddleInput(context.Background(), "c-1", float64(1))
		assert.ErrorIs(t, err, ErrUnknownSession)
	})
}

func TestAdvanceToNextMatch(t *testing.T) {
	t.Run("joins the smallest remaining round", func(t *testing.T) {
		f := newConnFixture(t)

		// Final plus one semi; user 11 starts on the semi.
		final := &models.BracketNode{RoomID: 1, RoundSize: models.RoundFinal}
		require.NoError(t, f.store.Create(context.Background(), nil, final))
		semi := &models.BracketNode{RoomID: 1, RoundSize: models.RoundSemi, WinnerTargetID: &final.ID}
		require.NoError(t, f.store.Create(context.Background(), nil, semi))
		require.NoError(t, f.store.Assign(context.Background(), nil, semi.ID, 11))
		require.NoError(t, f.store.Assign(context.Background(), nil, semi.ID, 22))
		require.NoError(t, f.participants.Create(context.Background(), nil, &models.RoomParticipant{RoomID: 1, UserID: 11}))

		got, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(11))
		require.NoError(t, err)
		assert.Equal(t, semi.ID, got)

		// User 11 wins the semi: its assignments are consumed and the winner
		// moves up to the final.
		require.NoError(t, f.store.DeleteAssignmentsByNode(context.Background(), nil, semi.ID))
		require.NoError(t, f.store.Assign(context.Background(), nil, final.ID, 11))

		got, err = f.svc.AdvanceToNextMatch(context.Background(), "c-1")
		require.NoError(t, err)
		assert.Equal(t, final.ID, got)

		nodeID, ok := f.registry.NodeByUser(11)
		require.True(t, ok)
		assert.Equal(t, final.ID, nodeID)

		// Advancing does not touch the online flag.
		assert.True(t, f.participants.byUser[11].IsOnline)
	})

	t.Run("fails once the bracket is exhausted", func(t *testing.T) {
		f := newConnFixture(t)
		nodeID := f.seedDuel(t, 11, 22)

		_, err := f.svc.HandleConnect(context.Background(), "c-1", bypassCreds(11))
		require.NoError(t, err)
		require.NoError(t, f.store.DeleteAssignmentsByNode(context.Background(), nil, nodeID))

		_, err = f.svc.AdvanceToNextMatch(context.Background(), "c-1")
		assert.ErrorIs(t, err, ErrNoAssignment)
	})

	t.Run("rejects unknown session", func(t *testing.T) {
		f := newConnFixture(t)
		_, err := f.svc.AdvanceToNextMatch(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrUnknownSession)
	})
}
