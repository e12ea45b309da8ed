package handler

import (
	"errors"
	"strconv"

	"offerwall/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/hiendaovinh/toolkit/pkg/httpx-echo"
	"github.com/labstack/echo/v4"
	"github.com/samber/do"
)

type groupOffer struct {
	container *do.Injector
}

func (gr *groupOffer) List(c echo.Context) error {
	serviceOffer, err := do.Invoke[*services.ServiceOffer](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	offers, err := serviceOffer.ListOffers(c.Request().Context(), c.QueryParam("provider"), c.QueryParam("category"))
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, offers, nil)
}

func (gr *groupOffer) Show(c echo.Context) error {
	offerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(errors.New("invalid offer id"), errorx.Invalid))
	}

	serviceOffer, err := do.Invoke[*services.ServiceOffer](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	offer, err := serviceOffer.GetOffer(c.Request().Context(), offerID)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, offer, nil)
}

func (gr *groupOffer) Start(c echo.Context) error {
	userAuth, err := ResolveValidUser(c.Request().Context())
	if err != nil {
		return httpx.RestAbort(c, nil, err)
	}

	offerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(errors.New("invalid offer id"), errorx.Invalid))
	}

	serviceOffer, err := do.Invoke[*services.ServiceOffer](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	userOffer, err := serviceOffer.StartOffer(c.Request().Context(), userAuth.ID, offerID)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, userOffer, nil)
}
