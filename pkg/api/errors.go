package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/r3e-conductor/conductor/pkg/errs"
)

// mapServiceError maps a domain error to an HTTP error response per
// the error taxonomy in spec §7: NotFound -> 404, ValidationError /
// InvalidInput -> 400, InvalidTransition / AlreadyExists /
// BudgetExceeded / concurrent claim loss / unmet dependencies -> 409,
// anything else -> 500 (logged, not leaked).
func mapServiceError(err error) *echo.HTTPError {
	if errs.IsValidationError(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, errs.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	case errors.Is(err, errs.ErrBudgetExceeded):
		return echo.NewHTTPError(http.StatusConflict, "budget exceeded")
	case errors.Is(err, errs.ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, "concurrent modification, retry")
	case errors.Is(err, errs.ErrDependenciesUnmet):
		return echo.NewHTTPError(http.StatusConflict, "task dependencies unmet")
	default:
		slog.Error("unexpected api error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
