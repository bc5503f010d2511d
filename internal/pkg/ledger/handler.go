package ledger

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/vreid/kessen/internal/pkg/common"
)

type BattleResponse struct {
	Battle

	PerformanceDeltaPercent string `json:"performance_delta_percent"`
}

type StatsResponse struct {
	Account string `json:"account"`

	Stats

	Accuracy uint64 `json:"accuracy"`
}

type HistoryResponse struct {
	Account   string   `json:"account"`
	Count     uint64   `json:"count"`
	BattleIDs []uint64 `json:"battle_ids"`
}

// DeltaPercent renders a basis-point delta as a percentage, 600 -> "6.00".
func DeltaPercent(performanceDelta uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(performanceDelta), -2).StringFixed(2)
}

func NewBattleResponse(battle Battle) BattleResponse {
	return BattleResponse{
		Battle:                  battle,
		PerformanceDeltaPercent: DeltaPercent(battle.PerformanceDelta),
	}
}

// Routes mounts the ledger API on g. Submissions require an identity, the
// participant is always the token subject.
func (s *LedgerService) Routes(g *echo.Group, requireIdentity echo.MiddlewareFunc) {
	g.POST("/battles", s.PostBattle, requireIdentity)
	g.GET("/battles/count", s.GetBattleCount)
	g.GET("/battles/:id", s.GetBattle)
	g.GET("/battles/:id/correct", s.GetBattleCorrect)

	g.GET("/accounts/:account/stats", s.GetAccountStats)
	g.GET("/accounts/:account/accuracy", s.GetAccountAccuracy)
	g.GET("/accounts/:account/battles", s.GetAccountBattles)

	g.GET("/leaderboard", s.GetLeaderboardHandler)
}

func (s *LedgerService) PostBattle(c echo.Context) error {
	identity, ok := common.IdentityFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, common.ErrMissingBearerToken.Error())
	}

	var submission Submission

	err := c.Bind(&submission)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.SubmitBattle(identity.Subject, submission)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, result)
}

func (s *LedgerService) GetBattleCount(c echo.Context) error {
	count, err := s.BattleCount()
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]uint64{"count": count})
}

func (s *LedgerService) GetBattle(c echo.Context) error {
	battleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid battle id")
	}

	battle, err := s.GetBattleByID(battleID)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, NewBattleResponse(battle))
}

func (s *LedgerService) GetBattleCorrect(c echo.Context) error {
	battleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid battle id")
	}

	account := c.QueryParam("account")
	if len(account) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "missing account")
	}

	wasCorrect, err := s.WasPredictionCorrect(battleID, account)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]bool{"was_correct": wasCorrect})
}

func (s *LedgerService) GetAccountStats(c echo.Context) error {
	account := c.Param("account")

	stats, err := s.GetUserStats(account)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, StatsResponse{
		Account:  account,
		Stats:    stats,
		Accuracy: stats.Accuracy(),
	})
}

func (s *LedgerService) GetAccountAccuracy(c echo.Context) error {
	accuracy, err := s.GetAccuracy(c.Param("account"))
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]uint64{"accuracy": accuracy})
}

func (s *LedgerService) GetAccountBattles(c echo.Context) error {
	account := c.Param("account")

	battleIDs, err := s.GetPlayerBattleIDs(account)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, HistoryResponse{
		Account:   account,
		Count:     uint64(len(battleIDs)),
		BattleIDs: battleIDs,
	})
}

func (s *LedgerService) GetLeaderboardHandler(c echo.Context) error {
	limit := 0

	if raw := c.QueryParam("limit"); len(raw) > 0 {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}

		limit = parsed
	}

	standings, err := s.GetLeaderboard(limit)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, standings, "  ")
}
