package common

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrParticipantMismatch = errors.New("participant mismatch")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBucketNotFound      = errors.New("bucket doesn't exist")
)

// HTTPError translates a service error into the echo error returned to the
// client. Unknown errors are logged and hidden behind a 500.
func HTTPError(logger *zap.Logger, err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrParticipantMismatch):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	if logger != nil {
		logger.Error("request failed", zap.Error(err))
	}

	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
