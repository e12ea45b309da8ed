package handler

import (
	"errors"

	"offerwall/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/hiendaovinh/toolkit/pkg/httpx-echo"
	"github.com/labstack/echo/v4"
	"github.com/samber/do"
)

type groupUser struct {
	container *do.Injector
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type paypalEmailRequest struct {
	PaypalEmail string `json:"paypal_email"`
}

func (gr *groupUser) Register(c echo.Context) error {
	var req services.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(errors.New("invalid body"), errorx.Invalid))
	}

	serviceUser, err := do.Invoke[*services.ServiceUser](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	result, err := serviceUser.Register(c.Request().Context(), req)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, result, nil)
}

func (gr *groupUser) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(errors.New("invalid body"), errorx.Invalid))
	}

	serviceUser, err := do.Invoke[*services.ServiceUser](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	result, err := serviceUser.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, result, nil)
}

func (gr *groupUser) Me(c echo.Context) error {
	userAuth, err := ResolveValidUser(c.Request().Context())
	if err != nil {
		return httpx.RestAbort(c, nil, err)
	}

	serviceUser, err := do.Invoke[*services.ServiceUser](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	user, err := serviceUser.GetUser(c.Request().Context(), userAuth.ID)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, user, nil)
}

func (gr *groupUser) UpdatePaypalEmail(c echo.Context) error {
	userAuth, err := ResolveValidUser(c.Request().Context())
	if err != nil {
		return httpx.RestAbort(c, nil, err)
	}

	var req paypalEmailRequest
	if err := c.Bind(&req); err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(errors.New("invalid body"), errorx.Invalid))
	}

	serviceUser, err := do.Invoke[*services.ServiceUser](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	user, err := serviceUser.UpdatePaypalEmail(c.Request().Context(), userAuth.ID, req.PaypalEmail)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, user, nil)
}

func (gr *groupUser) Dashboard(c echo.Context) error {
	userAuth, err := ResolveValidUser(c.Request().Context())
	if err != nil {
		return httpx.RestAbort(c, nil, err)
	}

	serviceUser, err := do.Invoke[*services.ServiceUser](gr.container)
	if err != nil {
		return httpx.RestAbort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	stats, err := serviceUser.Dashboard(c.Request().Context(), userAuth.ID)
	if err != nil {
		return abort(c, err)
	}

	return httpx.RestAbort(c, stats, nil)
}
