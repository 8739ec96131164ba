package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/forecastpool/exchange/internal/domain"
	"github.com/forecastpool/exchange/internal/repository"
)

// OpsHandler serves the read-only operator console. Every endpoint is a plain
// database read; nothing here mutates exchange state.
type OpsHandler struct {
	db         *sqlx.DB
	marketRepo *repository.MarketRepository
	poolRepo   *repository.PoolRepository
	ledgerRepo *repository.LedgerRepository
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(
	db *sqlx.DB,
	marketRepo *repository.MarketRepository,
	poolRepo *repository.PoolRepository,
	ledgerRepo *repository.LedgerRepository,
) *OpsHandler {
	return &OpsHandler{
		db:         db,
		marketRepo: marketRepo,
		poolRepo:   poolRepo,
		ledgerRepo: ledgerRepo,
	}
}

// Dashboard godoc
// GET /ops/dashboard
// One-screen solvency view: market tallies, user cash liabilities and the
// aggregate pool exposure with a traffic-light indicator.
func (h *OpsHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	// ── Market tallies ───────────────────────────────────────────────────────
	counts, err := h.marketRepo.CountMarketsByStatus(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	// ── User cash liabilities ────────────────────────────────────────────────
	liabilities, err := h.ledgerRepo.SumBalancesByToken(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	// ── Pool exposure ────────────────────────────────────────────────────────
	exposure, err := h.poolRepo.ListExposure(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	var totalBacking, totalLiability decimal.Decimal
	worst := "GREEN"
	for _, e := range exposure {
		totalBacking = totalBacking.Add(e.PoolCash).Add(e.CollateralAmount)
		totalLiability = totalLiability.Add(e.MaxLiability)
		if rank(riskIndicator(e)) > rank(worst) {
			worst = riskIndicator(e)
		}
	}

	poolSummary := gin.H{
		"active_count":    len(exposure),
		"total_backing":   totalBacking,
		"total_liability": totalLiability,
		"risk_indicator":  worst,
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp":         time.Now().UTC(),
		"markets_by_status": counts,
		"user_liabilities":  liabilities,
		"pools":             poolSummary,
	})
}

// ListMarkets godoc
// GET /ops/markets?status=active&page=1&limit=50
func (h *OpsHandler) ListMarkets(c *gin.Context) {
	status := c.Query("status")
	page, limit := adminPagination(c)
	offset := (page - 1) * limit

	markets, total, err := h.marketRepo.ListMarkets(c.Request.Context(), limit, offset, status)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondList(c, markets, total, page, limit)
}

// MarketDetail godoc
// GET /ops/markets/:id
// Full operator view of one market: options, stats, pool and settlement.
func (h *OpsHandler) MarketDetail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market id")
		return
	}
	ctx := c.Request.Context()

	market, err := h.marketRepo.GetMarket(ctx, id)
	if err != nil {
		respondError(c, domain.HTTPStatusOf(err), domain.CodeOf(err), err.Error())
		return
	}
	options, err := h.marketRepo.ListActiveOptions(ctx, market.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	stats, err := h.marketRepo.ListStatsByMarket(ctx, market.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	// Pool and settlement are optional: exclusive-event markets trade through
	// the event pool, and unsettled markets have no settlement row.
	pool, _ := h.poolRepo.GetByMarket(ctx, market.ID)
	settlement, err := h.ledgerRepo.GetSettlementByMarket(ctx, h.db, market.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"market":     market,
		"options":    options,
		"stats":      stats,
		"pool":       pool,
		"settlement": settlement,
	})
}

// ListSettlements godoc
// GET /ops/settlements?page=1&limit=50
func (h *OpsHandler) ListSettlements(c *gin.Context) {
	page, limit := adminPagination(c)
	offset := (page - 1) * limit

	settlements, total, err := h.ledgerRepo.ListSettlements(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondList(c, settlements, total, page, limit)
}

// exposureRow is one pool in the GET /ops/exposure payload.
type exposureRow struct {
	repository.PoolExposure
	Backing       decimal.Decimal `json:"backing"`
	CoverageRatio decimal.Decimal `json:"coverage_ratio"`
	RiskIndicator string          `json:"risk_indicator"`
}

// Exposure godoc
// GET /ops/exposure
// Per-pool worst-case settlement liability against the funds backing it.
func (h *OpsHandler) Exposure(c *gin.Context) {
	exposure, err := h.poolRepo.ListExposure(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	rows := make([]exposureRow, 0, len(exposure))
	for _, e := range exposure {
		row := exposureRow{
			PoolExposure:  e,
			Backing:       e.PoolCash.Add(e.CollateralAmount),
			RiskIndicator: riskIndicator(e),
		}
		if e.MaxLiability.IsPositive() {
			row.CoverageRatio = row.Backing.Div(e.MaxLiability).RoundDown(4)
		}
		rows = append(rows, row)
	}
	respondSuccess(c, http.StatusOK, rows)
}

// ── risk indicator ───────────────────────────────────────────────────────────

// riskIndicator returns GREEN/YELLOW/RED from a pool's coverage of its
// worst-case liability. RED means the pool cannot cover a settlement today.
func riskIndicator(e repository.PoolExposure) string {
	if !e.MaxLiability.IsPositive() {
		return "GREEN"
	}
	backing := e.PoolCash.Add(e.CollateralAmount)
	coverage := backing.Div(e.MaxLiability)
	switch {
	case coverage.LessThan(decimal.NewFromInt(1)):
		return "RED"
	case coverage.LessThan(decimal.NewFromFloat(1.2)):
		return "YELLOW"
	default:
		return "GREEN"
	}
}

func rank(indicator string) int {
	switch indicator {
	case "RED":
		return 2
	case "YELLOW":
		return 1
	default:
		return 0
	}
}
