package notifier_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/ledger"
	notifier "github.com/vreid/kessen/internal/pkg/notifier"
	"github.com/vreid/kessen/internal/pkg/registry"
	"github.com/vreid/kessen/internal/pkg/rewarder"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (r *recordingSubscriber) Notify(_ context.Context, event ledger.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recordingSubscriber) Events() []ledger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]ledger.Event{}, r.events...)
}

type slowSubscriber struct{}

func (slowSubscriber) Notify(ctx context.Context, _ ledger.Event) error {
	select {
	case <-time.After(50 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
}

type failingSubscriber struct{}

func (failingSubscriber) Notify(_ context.Context, _ ledger.Event) error {
	return errors.New("boom")
}

func TestEncode(t *testing.T) {
	t.Parallel()

	raw, err := notifier.Encode(ledger.BattleSubmitted{
		BattleID:     3,
		Participant:  "alice",
		WasCorrect:   true,
		PointsEarned: 15,
		Timestamp:    1700000000,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "battle_submitted",
		"data": {"battle_id": 3, "participant": "alice", "was_correct": true, "points_earned": 15, "timestamp": 1700000000}
	}`, string(raw))
}

func TestDispatchSurvivesFailingSubscriber(t *testing.T) {
	t.Parallel()

	recorder := &recordingSubscriber{}

	//nolint:exhaustruct
	notifierService := &notifier.NotifierService{Logger: zaptest.NewLogger(t)}
	notifierService.Subscribe(failingSubscriber{})
	notifierService.Subscribe(recorder)

	notifierService.Dispatch(ledger.LeaderboardUpdated{Participant: "alice"})

	require.Len(t, recorder.Events(), 1)
	assert.Equal(t, ledger.TopicLeaderboardUpdated, recorder.Events()[0].Topic())
}

func TestStartDrainsEventSource(t *testing.T) {
	t.Parallel()

	events := make(chan ledger.Event, 10)
	recorder := &recordingSubscriber{}

	//nolint:exhaustruct
	notifierService := &notifier.NotifierService{
		EventSource: events,
		Logger:      zaptest.NewLogger(t),
	}
	notifierService.Subscribe(recorder)
	notifierService.Start()

	events <- ledger.BattleSubmitted{BattleID: 0, Participant: "alice"}
	events <- ledger.BattleSubmitted{BattleID: 1, Participant: "bob"}
	close(events)

	assert.Eventually(t, func() bool {
		return len(recorder.Events()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestShutdownDrainsPendingEvents(t *testing.T) {
	t.Parallel()

	databaseService, err := common.OpenDatabase(t.TempDir())
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	events := make(chan ledger.Event, 10)

	//nolint:exhaustruct
	ledgerService := &ledger.LedgerService{DatabaseService: databaseService, Logger: logger, EventSink: events}
	registryService := &registry.RegistryService{DatabaseService: databaseService, Logger: logger}

	//nolint:exhaustruct
	notifierService := &notifier.NotifierService{
		EventSource: events,
		Logger:      logger,
	}
	notifierService.Subscribe(slowSubscriber{})
	notifierService.Subscribe(&rewarder.RewarderService{
		Battles: ledgerService,
		Minter:  registryService,
		Logger:  logger,
	})

	_, err = ledgerService.SubmitBattle("alice", ledger.Submission{
		AssetA:           "BTC",
		AssetB:           "ETH",
		PredictedWinner:  "BTC",
		ActualWinner:     "BTC",
		PerformanceDelta: 750,
	})
	require.NoError(t, err)

	notifierService.Start()
	close(events)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, notifierService.Shutdown(ctx))

	balance, err := registryService.BalanceOf("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), balance)

	require.NoError(t, databaseService.Shutdown())
}

func TestShutdownStopsWaitingOnContext(t *testing.T) {
	t.Parallel()

	events := make(chan ledger.Event)

	//nolint:exhaustruct
	notifierService := &notifier.NotifierService{
		EventSource: events,
		Logger:      zaptest.NewLogger(t),
	}
	notifierService.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := notifierService.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(events)
}

func TestHubStreamsEvents(t *testing.T) {
	t.Parallel()

	// Connection goroutines can outlive the test, so they must not log to t.
	hub := notifier.NewHub(zap.NewNop())

	e := common.NewEcho(zap.NewNop())
	e.GET("/api/leaderboard/stream", hub.ServeWS)

	server := httptest.NewServer(e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/leaderboard/stream"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
		_ = conn.Close()
	}()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	err = hub.Notify(context.Background(), ledger.LeaderboardUpdated{
		Participant: "alice",
		Stats:       ledger.Stats{Total: 1, Correct: 1, Points: 10},
		Accuracy:    100,
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	assert.Contains(t, string(message), `"type":"leaderboard_updated"`)
	assert.Contains(t, string(message), `"participant":"alice"`)
	assert.Contains(t, string(message), `"points":10`)

	_ = conn.Close()

	assert.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		origin  string
		ok      bool
	}{
		{"any origin when unrestricted", nil, "https://elsewhere.example", true},
		{"listed origin", []string{"https://kessen.example"}, "https://kessen.example", true},
		{"unlisted origin", []string{"https://kessen.example"}, "https://elsewhere.example", false},
		{"no origin header", []string{"https://kessen.example"}, "", true},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hub := notifier.NewHub(zaptest.NewLogger(t), tt.allowed...)

			req := httptest.NewRequest(http.MethodGet, "/api/leaderboard/stream", nil)
			if len(tt.origin) > 0 {
				req.Header.Set("Origin", tt.origin)
			}

			assert.Equal(t, tt.ok, hub.CheckOrigin(req))
		})
	}
}

func TestHubRejectsUnlistedOrigin(t *testing.T) {
	t.Parallel()

	hub := notifier.NewHub(zap.NewNop(), "https://kessen.example")

	e := common.NewEcho(zap.NewNop())
	e.GET("/api/leaderboard/stream", hub.ServeWS)

	server := httptest.NewServer(e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/leaderboard/stream"

	header := http.Header{}
	header.Set("Origin", "https://elsewhere.example")

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		_ = conn.Close()
	}

	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestBroadcastWithoutClients(t *testing.T) {
	t.Parallel()

	hub := notifier.NewHub(zaptest.NewLogger(t))

	assert.Equal(t, 0, hub.Broadcast([]byte("hello")))
}

func TestRedisPublisherUnreachable(t *testing.T) {
	t.Parallel()

	_, err := notifier.NewRedisPublisher("127.0.0.1:1", "", notifier.DefaultRedisChannel)
	assert.Error(t, err)
}
