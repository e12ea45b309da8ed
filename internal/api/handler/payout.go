package handler

import (
	"errors"

	"offerwall/internal/pkg"
	"offerwall/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/hiendaovinh/toolkit/pkg/httpx-echo"
	"github.com/labstack/echo/v4"
	"github.com/samber/do"
	"github.com/shopspring/decimal"
)

type groupPayout struct {
	container *do.Injector
}

type payoutRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

func (gr *groupPayout) Request(c echo.Context) error {
	userAuth, err := ResolveValidUser(c.Request().Context())
	if err != nil {
		return httpx.RestAbort(c, nil, err)
	}

	var req payoutRequest
	if err := c.Bind(&req); err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(errors.New("invalid body"), errorx.Invalid))
	}

	servicePayout, err := do.Invoke[*services.ServicePayout](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	receipt, err := servicePayout.RequestPayout(c.Request().Context(), userAuth.ID, req.Amount, req.Method)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, receipt, nil)
}

func (gr *groupPayout) History(c echo.Context) error {
	userAuth, err := ResolveValidUser(c.Request().Context())
	if err != nil {
		return httpx.RestAbort(c, nil, err)
	}

	page, limit := pkg.ParsePagination(c.QueryParam("page"), c.QueryParam("limit"))

	servicePayout, err := do.Invoke[*services.ServicePayout](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	history, err := servicePayout.History(c.Request().Context(), userAuth.ID, page, limit)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, history, nil)
}

func (gr *groupPayout) Info(c echo.Context) error {
	userAuth, err := ResolveValidUser(c.Request().Context())
	if err != nil {
		return httpx.RestAbort(c, nil, err)
	}

	servicePayout, err := do.Invoke[*services.ServicePayout](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	info, err := servicePayout.Info(c.Request().Context(), userAuth.ID)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, info, nil)
}
