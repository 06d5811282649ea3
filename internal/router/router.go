package router // route registration for the redemption API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/prizedraw/ticket-redemption/internal/config"
	"github.com/prizedraw/ticket-redemption/internal/handler"
	"github.com/prizedraw/ticket-redemption/internal/middleware"
	"github.com/prizedraw/ticket-redemption/internal/utils"
)

// RegisterRoutes registers routes that require no credential on the
// provided Echo instance.  The health check serves load balancers; the
// redemption entry point is public by nature (the printed code is the
// credential) and therefore sits behind the Redis rate limiter.
func RegisterRoutes(e *echo.Echo, redeem *handler.RedeemHandler, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)
	e.POST("/v1/redeem", redeem.Redeem, middleware.NewTokenBucket(rlCfg, rdb))
}

// RegisterSession registers the customer-facing flow endpoints.  The
// session snapshot accepts both token profiles, which is how the short
// redemption proof is upgraded into a session token; every other endpoint
// demands a session-profile token.
func RegisterSession(e *echo.Echo, codec *utils.Codec, session *handler.SessionHandler, prize *handler.PrizeHandler) {
	// Either profile: upgrade point for freshly redeemed tickets.
	snap := e.Group("/v1/session")
	snap.Use(middleware.TokenAuth(codec, utils.ProfileRedemption, utils.ProfileSession))
	snap.GET("", session.Current)

	// Session profile only from here on.
	flow := e.Group("/v1")
	flow.Use(middleware.TokenAuth(codec, utils.ProfileSession))
	flow.POST("/prizes/:id/hold", prize.Hold)
	flow.POST("/prizes/:id/claim", prize.Claim)
	flow.DELETE("/prizes/:id/hold", prize.Release)
	flow.POST("/logout", session.Logout)
}

// RegisterInternal registers the collaborator endpoints consumed by the
// checkout-completion service and the admin import tooling.  These are
// expected to be reachable only on the internal network; the service does
// not authenticate admin callers itself.
func RegisterInternal(e *echo.Echo, checkout *handler.CheckoutHandler, imp *handler.ImportHandler) {
	g := e.Group("/internal")
	g.GET("/tickets/:id/eligibility", checkout.Eligibility)
	g.POST("/tickets/:id/finalize", checkout.Finalize)
	g.POST("/tickets/import", imp.Import)
}
