// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dropoff/internal/http/handlers"
	"dropoff/internal/http/middleware"
	"dropoff/internal/infra"
	"dropoff/internal/modules/incentive"
	"dropoff/internal/modules/matching"
	"dropoff/internal/modules/order"
	"dropoff/internal/modules/rider"
	"dropoff/internal/notify"
)

type RouterDeps struct {
	Order      *order.Service
	Matching   *matching.Service
	Rider      *rider.Service
	Incentives *incentive.Service
	Hub        *notify.Hub
	// Verifier enables auth on /api and /ws when set.
	Verifier infra.TokenVerifier
	Log      *zap.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// roles is a no-op without a verifier, there is no caller to check.
	roles := func(allowed ...string) gin.HandlerFunc {
		if d.Verifier == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RequireRole(allowed...)
	}

	api := r.Group("/api")
	ws := r.Group("/ws")
	if d.Verifier != nil {
		api.Use(middleware.Auth(d.Verifier))
		ws.Use(middleware.Auth(d.Verifier))
	}

	orders := handlers.NewOrderHandler(d.Order, d.Matching)
	api.POST("/fees/quote", orders.Quote)
	api.POST("/orders", orders.Create)
	api.GET("/orders/:id", orders.Get)
	api.POST("/orders/:id/assign", roles(middleware.RoleRider, middleware.RoleAdmin), orders.Assign)
	api.POST("/orders/:id/advance", roles(middleware.RoleRider, middleware.RoleAdmin), orders.Advance)
	api.POST("/orders/:id/deliver", roles(middleware.RoleRider, middleware.RoleAdmin), orders.Deliver)
	api.POST("/orders/:id/cancel", orders.Cancel)
	api.POST("/orders/:id/payment", roles(middleware.RoleAdmin), orders.Payment)
	api.GET("/orders/:id/cleanup-status", orders.CleanupStatus)
	api.GET("/orders/:id/track", orders.Track)
	api.GET("/orders/:id/candidates", roles(middleware.RoleAdmin), orders.Candidates)

	riders := handlers.NewRiderHandler(d.Rider, d.Incentives, d.Order)
	api.POST("/riders", riders.Register)
	api.GET("/riders/:id", riders.Get)
	api.PUT("/riders/:id/status", roles(middleware.RoleRider, middleware.RoleAdmin), riders.SetStatus)
	api.PUT("/riders/:id/location", roles(middleware.RoleRider, middleware.RoleAdmin), riders.UpdateLocation)
	api.POST("/riders/:id/ratings", riders.Rate)
	api.POST("/riders/:id/redeem", roles(middleware.RoleRider, middleware.RoleAdmin), riders.Redeem)
	api.GET("/riders/:id/incentives", riders.Incentives)

	if d.Hub != nil {
		ws.GET("", handlers.NewWSHandler(d.Hub).Subscribe)
	}
	return r
}
