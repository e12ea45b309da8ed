package handler

import (
	"errors"
	"strconv"
	"strings"

	"offerwall/internal/interfaces"
	"offerwall/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/hiendaovinh/toolkit/pkg/httpx-echo"
	"github.com/labstack/echo/v4"
	"github.com/samber/do"
)

type groupAdmin struct {
	container *do.Injector
}

type offerSyncRequest struct {
	Provider   string   `json:"provider"`
	Categories []string `json:"categories"`
	Countries  []string `json:"countries"`
	Devices    []string `json:"devices"`
}

func (gr *groupAdmin) PlatformStats(c echo.Context) error {
	serviceReport, err := do.Invoke[*services.ServiceReport](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	stats, err := serviceReport.PlatformStats(c.Request().Context())
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, stats, nil)
}

func (gr *groupAdmin) PayoutStats(c echo.Context) error {
	serviceReport, err := do.Invoke[*services.ServiceReport](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	stats, err := serviceReport.PayoutStats(c.Request().Context())
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, stats, nil)
}

// SyncOffers pulls every configured catalog, or only the requested provider.
func (gr *groupAdmin) SyncOffers(c echo.Context) error {
	var req offerSyncRequest
	if err := c.Bind(&req); err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(errors.New("invalid body"), errorx.Invalid))
	}

	serviceOffer, err := do.Invoke[*services.ServiceOffer](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	providers := serviceOffer.Providers()
	if req.Provider != "" {
		providers = []string{strings.ToLower(req.Provider)}
	}

	filter := interfaces.CatalogFilter{
		Categories: req.Categories,
		Countries:  req.Countries,
		Devices:    req.Devices,
	}
	results := make([]*services.OfferSyncResult, 0, len(providers))
	for _, provider := range providers {
		result, err := serviceOffer.SyncFromProvider(c.Request().Context(), provider, filter)
		if err != nil {
			return abort(c, err)
		}
		results = append(results, result)
	}

	return httpx.RestAbort(c, results, nil)
}

func (gr *groupAdmin) UserLedger(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(errors.New("invalid user id"), errorx.Invalid))
	}

	serviceReport, err := do.Invoke[*services.ServiceReport](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	snapshot, err := serviceReport.UserLedger(c.Request().Context(), userID)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, snapshot, nil)
}
