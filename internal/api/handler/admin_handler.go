package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/forecastpool/exchange/internal/amm"
	"github.com/forecastpool/exchange/internal/domain"
	"github.com/forecastpool/exchange/internal/service"
)

// AdminHandler serves the operator surface: market/event setup, pool
// provisioning and resolution.
type AdminHandler struct {
	setupSvc      *service.SetupService
	settlementSvc *service.SettlementService
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(setupSvc *service.SetupService, settlementSvc *service.SettlementService) *AdminHandler {
	return &AdminHandler{setupSvc: setupSvc, settlementSvc: settlementSvc}
}

// poolBody is the raw pool configuration accepted on create/ensure endpoints.
type poolBody struct {
	Model           string  `json:"model"`
	B               *string `json:"b"`
	FeeBps          *int    `json:"fee_bps"`
	CollateralToken string  `json:"collateral_token"`
	InitialFunding  *string `json:"initial_funding_amount"`
}

func (b *poolBody) toParamsInput() (amm.ParamsInput, error) {
	in := amm.ParamsInput{
		Model:           b.Model,
		FeeBps:          b.FeeBps,
		CollateralToken: b.CollateralToken,
	}
	var err error
	if in.B, err = parseDecimalField(b.B); err != nil {
		return amm.ParamsInput{}, err
	}
	if in.InitialFunding, err = parseDecimalField(b.InitialFunding); err != nil {
		return amm.ParamsInput{}, err
	}
	return in, nil
}

// CreateEvent godoc
// POST /admin/events
// Body: {"title":"...","group_rule":"exclusive","trading_deadline":"RFC3339"}
func (h *AdminHandler) CreateEvent(c *gin.Context) {
	var body struct {
		Title           string  `json:"title" binding:"required"`
		GroupRule       string  `json:"group_rule"`
		TradingDeadline *string `json:"trading_deadline"`
		Hidden          bool    `json:"hidden"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	deadline, err := parseTimeField(body.TradingDeadline)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "trading_deadline must be RFC3339")
		return
	}

	event, err := h.setupSvc.CreateEvent(c.Request.Context(), service.CreateEventParams{
		Title:           body.Title,
		GroupRule:       domain.GroupRule(body.GroupRule),
		TradingDeadline: deadline,
		Hidden:          body.Hidden,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, event)
}

// CreateMarket godoc
// POST /admin/markets
// Body: {"title":"...","event_id":"uuid","options":[{"label":"Yes","side":"yes"}],"pool":{...}}
func (h *AdminHandler) CreateMarket(c *gin.Context) {
	var body struct {
		Title           string  `json:"title" binding:"required"`
		EventID         *string `json:"event_id"`
		TradingDeadline *string `json:"trading_deadline"`
		Hidden          bool    `json:"hidden"`
		Options         []struct {
			Label string  `json:"label" binding:"required"`
			Side  *string `json:"side"`
		} `json:"options"`
		Pool poolBody `json:"pool"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	params := service.CreateMarketParams{Title: body.Title, Hidden: body.Hidden}
	var err error
	if params.EventID, err = parseUUIDField(body.EventID); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid event_id format")
		return
	}
	if params.TradingDeadline, err = parseTimeField(body.TradingDeadline); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "trading_deadline must be RFC3339")
		return
	}
	for _, o := range body.Options {
		in := service.OptionInput{Label: o.Label}
		if o.Side != nil {
			side := domain.OptionSide(*o.Side)
			if side != domain.SideYes && side != domain.SideNo {
				respondError(c, http.StatusBadRequest, "INVALID_PARAM", "option side must be 'yes' or 'no'")
				return
			}
			in.Side = &side
		}
		params.Options = append(params.Options, in)
	}
	if params.Pool, err = body.Pool.toParamsInput(); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "pool parameters must be decimal strings")
		return
	}

	market, err := h.setupSvc.CreateMarket(c.Request.Context(), params)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, market)
}

// EnsureEventPool godoc
// POST /admin/events/:id/pool
func (h *AdminHandler) EnsureEventPool(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid event id")
		return
	}
	var body poolBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	in, err := body.toParamsInput()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "pool parameters must be decimal strings")
		return
	}

	pool, err := h.setupSvc.EnsureEventPool(c.Request.Context(), eventID, in)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, pool)
}

// EnsureMarketPool godoc
// POST /admin/markets/:id/pool
func (h *AdminHandler) EnsureMarketPool(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market id")
		return
	}
	var body poolBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	in, err := body.toParamsInput()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "pool parameters must be decimal strings")
		return
	}

	pool, err := h.setupSvc.EnsureMarketPool(c.Request.Context(), marketID, in)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, pool)
}

// UpdateMarketStatus godoc
// PATCH /admin/markets/:id/status
// Body: {"status":"active"}
func (h *AdminHandler) UpdateMarketStatus(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market id")
		return
	}
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	if err := h.setupSvc.UpdateMarketStatus(c.Request.Context(), marketID, domain.MarketStatus(body.Status)); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"market_id": marketID, "status": body.Status})
}

// ResolveMarket godoc
// POST /admin/markets/:id/resolve
// Body: {"option_index":0}
func (h *AdminHandler) ResolveMarket(c *gin.Context) {
	marketID, optionIndex, ok := h.parseResolveArgs(c)
	if !ok {
		return
	}
	market, err := h.settlementSvc.ResolveMarket(c.Request.Context(), marketID, optionIndex)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, market)
}

// SettleMarket godoc
// POST /admin/markets/:id/settle
// Body (optional): {"settlement_tx_id":"settle:..."} for caller-side idempotency.
func (h *AdminHandler) SettleMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market id")
		return
	}
	var body struct {
		SettlementTxID *string `json:"settlement_tx_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}
	settlement, err := h.settlementSvc.SettleMarket(c.Request.Context(), marketID, body.SettlementTxID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, settlement)
}

// ResolveAndSettle godoc
// POST /admin/markets/:id/resolve-and-settle
// Body: {"option_index":0}
func (h *AdminHandler) ResolveAndSettle(c *gin.Context) {
	marketID, optionIndex, ok := h.parseResolveArgs(c)
	if !ok {
		return
	}
	settlement, err := h.settlementSvc.ResolveAndSettle(c.Request.Context(), marketID, optionIndex)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, settlement)
}

// ResolveAndSettlePartial godoc
// POST /admin/markets/:id/resolve-and-settle-partial
// Body (optional): {"option_index":0}. Settles one constituent market without
// resolving the event. Exclusive events default to the NO outcome; independent
// events must name the winning index.
func (h *AdminHandler) ResolveAndSettlePartial(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market id")
		return
	}
	var body struct {
		OptionIndex *int `json:"option_index"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}
	settlement, err := h.settlementSvc.ResolveAndSettlePartial(c.Request.Context(), marketID, body.OptionIndex)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, settlement)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (h *AdminHandler) parseResolveArgs(c *gin.Context) (uuid.UUID, int, bool) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market id")
		return uuid.Nil, 0, false
	}
	var body struct {
		OptionIndex *int `json:"option_index" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "option_index is required")
		return uuid.Nil, 0, false
	}
	return marketID, *body.OptionIndex, true
}

func parseTimeField(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
