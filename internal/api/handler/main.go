package handler

import (
	"net/http"

	"offerwall/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/httpx-echo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
)

type Config struct {
	Container *do.Injector
	Mode      string
	Origins   []string
	AdminKey  string
	// Registry receives the HTTP metrics. A fresh one is used when nil.
	Registry  *prometheus.Registry
}

func New(cfg *Config) (http.Handler, error) {
	r := echo.New()
	r.Pre(middleware.RemoveTrailingSlash())
	if cfg.Mode == "debug" {
		r.Debug = true
		pprof.Register(r)
	}

	r.JSONSerializer = httpx.SegmentJSONSerializer{}
	r.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339}\t${method}\t${uri}\t${status}\t${latency_human}\n",
	}))
	r.Use(middleware.Recover())
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	r.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "offerwall",
		Registerer: registry,
	}))

	r.GET("", func(c echo.Context) error {
		return c.String(http.StatusOK, "🤖")
	})
	r.GET("/health", Health)
	gatherer := prometheus.Gatherers{registry, prometheus.DefaultGatherer}
	r.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// providers call back from their own servers, no CORS and no session
	p := groupPostback{cfg.Container}
	r.GET("/api/callback/:provider", p.Callback)

	routesAPIAdmin := r.Group("/api/admin")
	{
		routesAPIAdmin.Use(AuthnAdmin(cfg.AdminKey))
		a := groupAdmin{cfg.Container}
		routesAPIAdmin.GET("/platform-stats", a.PlatformStats)
		routesAPIAdmin.GET("/payouts/stats", a.PayoutStats)
		routesAPIAdmin.POST("/offers/sync", a.SyncOffers)
		routesAPIAdmin.GET("/users/:id/ledger", a.UserLedger)
	}

	routesAPIv1 := r.Group("/api/v1")
	{
		authentication, err := do.Invoke[*services.Authentication](cfg.Container)
		if err != nil {
			return nil, err
		}
		cors := middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.Origins,
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			AllowCredentials: true,
			MaxAge:           60 * 60,
		})

		routesAPIv1.Use(cors)

		u := groupUser{cfg.Container}
		routesAPIv1.POST("/auth/register", u.Register)
		routesAPIv1.POST("/auth/login", u.Login)

		routesAPIv1.Use(Authn(authentication)) // Authn will NOT terminate unauthenticated request.
		routesAPIv1.GET("", Hello)

		routesAPIv1.GET("/auth/me", u.Me)
		routesAPIv1.PUT("/user/paypal-email", u.UpdatePaypalEmail)
		routesAPIv1.GET("/dashboard/stats", u.Dashboard)

		o := groupOffer{cfg.Container}
		routesAPIv1.GET("/offers", o.List)
		routesAPIv1.GET("/offers/:id", o.Show)
		routesAPIv1.POST("/offers/:id/start", o.Start)

		routesAPIv1Payout := routesAPIv1.Group("/payouts")
		{
			py := groupPayout{cfg.Container}
			routesAPIv1Payout.POST("/request", py.Request)
			routesAPIv1Payout.GET("/history", py.History)
			routesAPIv1Payout.GET("/info", py.Info)
		}
	}

	return r, nil
}

func Hello(c echo.Context) error {
	return httpx.RestAbort(c, "hello world", nil)
}

func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
