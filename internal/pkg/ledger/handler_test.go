package ledger_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kessen/internal/pkg/common"
	ledger "github.com/vreid/kessen/internal/pkg/ledger"
	"go.uber.org/zap/zaptest"
)

func newServer(t *testing.T) (*echo.Echo, *common.AuthService) {
	t.Helper()

	ledgerService, _ := newLedger(t)

	authService := &common.AuthService{
		Secret:   []byte("test-secret"),
		TokenTTL: time.Hour,
	}

	e := common.NewEcho(zaptest.NewLogger(t))
	ledgerService.Routes(e.Group("/api/ledger"), authService.RequireIdentity())

	return e, authService
}

func doRequest(t *testing.T, e *echo.Echo, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	if len(token) > 0 {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	return rec
}

func TestPostBattleRequiresToken(t *testing.T) {
	t.Parallel()

	e, _ := newServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/ledger/battles", `{}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, e, http.MethodPost, "/api/ledger/battles", `{}`, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBattleRoundTrip(t *testing.T) {
	t.Parallel()

	e, authService := newServer(t)

	token, _, err := authService.Sign(common.Identity{Subject: "alice"})
	require.NoError(t, err)

	body := `{"asset_a":"BTC","asset_b":"ETH","predicted_winner":"BTC","actual_winner":"BTC","performance_delta":600,"score_a":10,"score_b":5}`

	rec := doRequest(t, e, http.MethodPost, "/api/ledger/battles", body, token)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result ledger.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ledger.Result{BattleID: 0, WasCorrect: true, PointsEarned: 15}, result)

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/battles/0", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var battle ledger.BattleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &battle))
	assert.Equal(t, "alice", battle.Participant)
	assert.Equal(t, "6.00", battle.PerformanceDeltaPercent)

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/battles/count", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/accounts/alice/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats ledger.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.Total)
	assert.Equal(t, uint64(15), stats.Points)
	assert.Equal(t, uint64(100), stats.Accuracy)

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/accounts/alice/battles", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"account":"alice","count":1,"battle_ids":[0]}`, rec.Body.String())

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/battles/0/correct?account=alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"was_correct":true}`, rec.Body.String())

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/leaderboard?limit=10", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var standings []ledger.Standing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &standings))
	require.Len(t, standings, 1)
	assert.Equal(t, "alice", standings[0].Account)
}

func TestHandlerErrors(t *testing.T) {
	t.Parallel()

	e, authService := newServer(t)

	token, _, err := authService.Sign(common.Identity{Subject: "alice"})
	require.NoError(t, err)

	rec := doRequest(t, e, http.MethodPost, "/api/ledger/battles", `{"asset_a":"BTC"}`, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/battles/5", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/battles/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := `{"asset_a":"BTC","asset_b":"ETH","predicted_winner":"BTC","actual_winner":"ETH"}`
	rec = doRequest(t, e, http.MethodPost, "/api/ledger/battles", body, token)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/battles/0/correct?account=bob", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/leaderboard?limit=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/ledger/accounts/nobody/accuracy", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accuracy":0}`, rec.Body.String())
}
