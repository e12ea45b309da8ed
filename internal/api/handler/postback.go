package handler

import (
	"errors"
	"net/http"
	"strings"

	"offerwall/internal/pkg/limiter"
	"offerwall/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/samber/do"
)

const postbackOK = "1"

// query parameters that make up the event, everything else is kept as raw
var postbackParams = map[string]bool{
	"userID":         true,
	"transactionID":  true,
	"offerID":        true,
	"offerName":      true,
	"revenue":        true,
	"currencyReward": true,
	"status":         true,
	"ip":             true,
	"hash":           true,
}

type groupPostback struct {
	container *do.Injector
}

// Callback answers providers in their own convention: HTTP 200 with "1" when
// the conversion is accounted for, "ERROR: <reason>" otherwise.
func (gr *groupPostback) Callback(c echo.Context) error {
	ctx := c.Request().Context()
	provider := strings.ToLower(c.Param("provider"))

	serviceReconciler, err := do.Invoke[*services.ServiceReconciler](gr.container)
	if err != nil {
		return postbackError(c, "service unavailable")
	}

	if err := serviceReconciler.AllowPostback(ctx, provider, c.RealIP()); err != nil {
		if errors.Is(err, limiter.ErrRateLimited) {
			return postbackError(c, "rate limited")
		}
		return postbackError(c, "service unavailable")
	}

	_, err = serviceReconciler.Reconcile(ctx, postbackEvent(c, provider))
	if err != nil {
		return postbackError(c, postbackReason(err))
	}

	return c.String(http.StatusOK, postbackOK)
}

func postbackEvent(c echo.Context, provider string) services.PostbackEvent {
	query := c.QueryParams()
	event := services.PostbackEvent{
		Provider:       provider,
		UserID:         query.Get("userID"),
		TransactionID:  query.Get("transactionID"),
		OfferID:        query.Get("offerID"),
		OfferName:      query.Get("offerName"),
		Revenue:        query.Get("revenue"),
		CurrencyReward: query.Get("currencyReward"),
		Status:         query.Get("status"),
		IP:             query.Get("ip"),
		Hash:           query.Get("hash"),
		Raw:            map[string]string{},
	}
	for key := range query {
		if !postbackParams[key] {
			event.Raw[key] = query.Get(key)
		}
	}
	return event
}

func postbackReason(err error) string {
	var notFound *services.NotFoundError
	var conflict *services.ConflictError
	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		return "Invalid hash"
	case errors.Is(err, services.ErrNonCompletionStatus):
		return "Invalid status"
	case errors.Is(err, services.ErrUnknownProvider):
		return "Unknown provider"
	case errors.As(err, &notFound) && notFound.Resource == "user":
		return "User not found"
	case errors.As(err, &notFound) && notFound.Resource == "offer":
		return "Offer not found"
	case errors.As(err, &conflict):
		return conflict.Reason
	}
	return "Internal error"
}

func postbackError(c echo.Context, reason string) error {
	return c.String(http.StatusOK, "ERROR: "+reason)
}
