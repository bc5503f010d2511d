package predictions

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vreid/kessen/internal/pkg/common"
)

func (s *PredictionsService) Routes(g *echo.Group, requireIdentity echo.MiddlewareFunc) {
	g.POST("", s.PostPrediction, requireIdentity)
	g.POST("/:id/settle", s.PostSettle, requireIdentity)

	g.GET("/:id", s.GetPredictionHandler)
	g.GET("/accounts/:account", s.GetAccountPredictions)
}

func (s *PredictionsService) PostPrediction(c echo.Context) error {
	identity, _ := common.IdentityFromContext(c)

	var request PredictionRequest

	err := c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	predictionID, err := s.SubmitPrediction(identity.Subject, request)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, map[string]string{"prediction_id": predictionID})
}

func (s *PredictionsService) PostSettle(c echo.Context) error {
	identity, _ := common.IdentityFromContext(c)

	prediction, err := s.SettlePrediction(identity, c.Param("id"))
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, prediction)
}

func (s *PredictionsService) GetPredictionHandler(c echo.Context) error {
	prediction, err := s.GetPrediction(c.Param("id"))
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, prediction)
}

// GetAccountPredictions lists an account's predictions, only the unsettled
// ones when ?active=true.
func (s *PredictionsService) GetAccountPredictions(c echo.Context) error {
	activeOnly := false

	if raw := c.QueryParam("active"); len(raw) > 0 {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active flag")
		}

		activeOnly = parsed
	}

	var (
		result []Prediction
		err    error
	)

	if activeOnly {
		result, err = s.ActivePredictions(c.Param("account"))
	} else {
		result, err = s.ListPredictions(c.Param("account"))
	}

	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}
