package handler

import (
	"errors"
	"net/http"

	"offerwall/internal/pkg/limiter"
	"offerwall/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/hiendaovinh/toolkit/pkg/httpx-echo"
	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

// abort writes err to the client. Validation problems, conflicts and rail
// failures carry their own status; the rest go through errorx kinds.
func abort(c echo.Context, err error) error {
	var validation *services.ValidationError
	if errors.As(err, &validation) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Errors: validation.Problems})
	}

	var conflict *services.ConflictError
	if errors.As(err, &conflict) {
		return c.JSON(http.StatusConflict, errorResponse{Error: conflict.Reason})
	}

	var railErr *services.RailError
	if errors.As(err, &railErr) {
		return c.JSON(http.StatusBadGateway, errorResponse{Error: railErr.Error()})
	}

	return httpx.RestAbort(c, nil, classify(err))
}

func classify(err error) error {
	var notFound *services.NotFoundError
	switch {
	case errors.As(err, &notFound):
		return errorx.Wrap(err, errorx.NotExist)
	case errors.Is(err, limiter.ErrRateLimited), errors.Is(err, services.ErrLedgerLock):
		return errorx.Wrap(err, errorx.RateLimiting)
	case errors.Is(err, services.ErrInvalidCredentials):
		return errorx.Wrap(err, errorx.Authn)
	case errors.Is(err, services.ErrUserExists),
		errors.Is(err, services.ErrPayoutState),
		errors.Is(err, services.ErrOfferSyncLock),
		errors.Is(err, services.ErrInsufficientBalance):
		return errorx.Wrap(err, errorx.Validation)
	case errors.Is(err, services.ErrUnknownProvider):
		return errorx.Wrap(err, errorx.NotExist)
	}
	return errorx.Wrap(err, errorx.Service)
}
