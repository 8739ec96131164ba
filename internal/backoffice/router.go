// Package backoffice serves the operator console: a read-only view of
// markets, pools, settlements and exchange solvency on a separate listener.
// Mutating operations (resolution, settlement, market setup) stay on the main
// API's /admin surface.
package backoffice

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/forecastpool/exchange/internal/backoffice/handler"
	"github.com/forecastpool/exchange/internal/config"
	"github.com/forecastpool/exchange/internal/repository"
)

// BackofficeDeps bundles every dependency needed for the console router.
type BackofficeDeps struct {
	DB         *sqlx.DB
	MarketRepo *repository.MarketRepository
	PoolRepo   *repository.PoolRepository
	LedgerRepo *repository.LedgerRepository
	Cfg        *config.Config
}

// SetupBackofficeRouter creates the console Gin engine. Access control is an
// IP allowlist; the console carries no credentials of its own.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	opsH := handler.NewOpsHandler(deps.DB, deps.MarketRepo, deps.PoolRepo, deps.LedgerRepo)

	ops := r.Group("/ops")
	{
		ops.GET("/dashboard", opsH.Dashboard)
		ops.GET("/markets", opsH.ListMarkets)
		ops.GET("/markets/:id", opsH.MarketDetail)
		ops.GET("/settlements", opsH.ListSettlements)
		ops.GET("/exposure", opsH.Exposure)
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !allowed[clientIP] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "access denied: your IP is not whitelisted",
			})
			return
		}
		c.Next()
	}
}
