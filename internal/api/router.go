package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forecastpool/exchange/internal/api/handler"
	"github.com/forecastpool/exchange/internal/api/middleware"
	"github.com/forecastpool/exchange/internal/config"
	"github.com/forecastpool/exchange/internal/repository"
	"github.com/forecastpool/exchange/internal/service"
	"github.com/forecastpool/exchange/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	QuoteSvc      *service.QuoteService
	ExecSvc       *service.ExecutionService
	SetupSvc      *service.SetupService
	SettlementSvc *service.SettlementService
	MarketRepo    *repository.MarketRepository
	LedgerRepo    *repository.LedgerRepository
	Hub           *ws.Hub // optional; nil disables the live market stream
	Cfg           *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Live market stream ────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	// ── Handlers ─────────────────────────────────────────────────────────────
	marketH := handler.NewMarketHandler(deps.MarketRepo, deps.QuoteSvc)
	tradeH := handler.NewTradeHandler(deps.ExecSvc, deps.LedgerRepo, deps.Cfg)
	adminH := handler.NewAdminHandler(deps.SetupSvc, deps.SettlementSvc)

	// ── Identity middleware (user id injected by the platform gateway) ────────
	identityMW := middleware.IdentityMiddleware()

	// ── Rate limiters ─────────────────────────────────────────────────────────
	quoteRL := middleware.RateLimitMiddleware(60) // 60 req/s per IP for quote endpoints
	tradeRL := middleware.RateLimitMiddleware(30) // 30 req/s per IP for trade endpoints

	api := r.Group("/api")
	{
		// ── Markets (public) ─────────────────────────────────────────────────
		markets := api.Group("/markets")
		{
			markets.GET("", marketH.ListMarkets)
			markets.GET("/:id", marketH.GetByID)
			markets.GET("/:id/series", marketH.GetSeries)
			markets.GET("/:id/quote", quoteRL, marketH.GetQuote)
		}

		// ── Authenticated routes ─────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(identityMW)
		{
			trades := authed.Group("/trades")
			trades.Use(tradeRL)
			{
				trades.POST("/buy", tradeH.Buy)
				trades.POST("/sell", tradeH.Sell)
			}

			portfolio := authed.Group("/portfolio")
			{
				portfolio.GET("/balance", tradeH.GetBalance)
				portfolio.GET("/positions", tradeH.GetPositions)
				portfolio.GET("/trades", tradeH.GetTrades)
			}
		}
	}

	// ── Operator surface ──────────────────────────────────────────────────────
	// Exposed on the same listener; deployments restrict /admin at the gateway.
	admin := r.Group("/admin")
	{
		admin.POST("/events", adminH.CreateEvent)
		admin.POST("/events/:id/pool", adminH.EnsureEventPool)
		admin.POST("/markets", adminH.CreateMarket)
		admin.POST("/markets/:id/pool", adminH.EnsureMarketPool)
		admin.PATCH("/markets/:id/status", adminH.UpdateMarketStatus)
		admin.POST("/markets/:id/resolve", adminH.ResolveMarket)
		admin.POST("/markets/:id/settle", adminH.SettleMarket)
		admin.POST("/markets/:id/resolve-and-settle", adminH.ResolveAndSettle)
		admin.POST("/markets/:id/resolve-and-settle-partial", adminH.ResolveAndSettlePartial)
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// Outside production all origins are allowed; in production only configured
// origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && cfg.Server.AllowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
