package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forecastpool/exchange/internal/amm"
	"github.com/forecastpool/exchange/internal/domain"
	"github.com/forecastpool/exchange/internal/repository"
	"github.com/forecastpool/exchange/internal/service"
)

// MarketHandler serves market discovery, price and quote endpoints.
type MarketHandler struct {
	marketRepo *repository.MarketRepository
	quoteSvc   *service.QuoteService
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(marketRepo *repository.MarketRepository, quoteSvc *service.QuoteService) *MarketHandler {
	return &MarketHandler{marketRepo: marketRepo, quoteSvc: quoteSvc}
}

// ListMarkets godoc
// GET /api/markets?status=active&page=1&limit=20
func (h *MarketHandler) ListMarkets(c *gin.Context) {
	status := c.Query("status")
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	markets, total, err := h.marketRepo.ListMarkets(c.Request.Context(), limit, offset, status)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, markets, total, page, limit)
}

// marketDetail is the GET /api/markets/:id payload.
type marketDetail struct {
	Market  *domain.Market              `json:"market"`
	Event   *domain.Event               `json:"event,omitempty"`
	Options []*domain.MarketOption      `json:"options"`
	Stats   []*domain.MarketOptionStats `json:"stats"`
}

// GetByID godoc
// GET /api/markets/:id
func (h *MarketHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market id")
		return
	}

	ctx := c.Request.Context()
	market, err := h.marketRepo.GetMarket(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	detail := marketDetail{Market: market}
	if market.EventID != nil {
		if detail.Event, err = h.marketRepo.GetEvent(ctx, *market.EventID); err != nil {
			respondDomainError(c, err)
			return
		}
	}
	if detail.Options, err = h.marketRepo.ListActiveOptions(ctx, market.ID); err != nil {
		respondDomainError(c, err)
		return
	}
	if detail.Stats, err = h.marketRepo.ListStatsByMarket(ctx, market.ID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, detail)
}

// GetSeries godoc
// GET /api/markets/:id/series?option_id=42&interval=1M&limit=200
func (h *MarketHandler) GetSeries(c *gin.Context) {
	if _, err := uuid.Parse(c.Param("id")); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market id")
		return
	}
	optionID, err := strconv.ParseInt(c.Query("option_id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "option_id is required")
		return
	}
	interval := c.DefaultQuery("interval", "1M")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit < 1 || limit > 1000 {
		limit = 200
	}

	points, err := h.marketRepo.ListSeries(c.Request.Context(), optionID, interval, limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, points)
}

// GetQuote godoc
// GET /api/markets/:id/quote?side=buy&option_id=42&amount=100
// Prices a hypothetical trade without touching balances. Exactly one of
// option_id/option_index and exactly one of amount/shares.
func (h *MarketHandler) GetQuote(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market id")
		return
	}

	side := amm.Side(c.Query("side"))
	if side != amm.SideBuy && side != amm.SideSell {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "side must be 'buy' or 'sell'")
		return
	}

	params := service.QuoteParams{MarketID: marketID, Side: side}
	if raw := c.Query("option_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid option_id")
			return
		}
		params.OptionID = &id
	}
	if raw := c.Query("option_index"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid option_index")
			return
		}
		params.OptionIndex = &idx
	}
	if raw := c.Query("amount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PARAM", "amount must be a decimal string")
			return
		}
		params.Amount = &amount
	}
	if raw := c.Query("shares"); raw != "" {
		shares, err := decimal.NewFromString(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PARAM", "shares must be a decimal string")
			return
		}
		params.Shares = &shares
	}

	quote, err := h.quoteSvc.GetQuote(c.Request.Context(), params)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, quote)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}
