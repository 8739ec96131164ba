package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forecastpool/exchange/internal/api/middleware"
	"github.com/forecastpool/exchange/internal/config"
	"github.com/forecastpool/exchange/internal/repository"
	"github.com/forecastpool/exchange/internal/service"
)

// TradeHandler serves trade execution and portfolio endpoints.
type TradeHandler struct {
	execSvc    *service.ExecutionService
	ledgerRepo *repository.LedgerRepository
	cfg        *config.Config
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(execSvc *service.ExecutionService, ledgerRepo *repository.LedgerRepository, cfg *config.Config) *TradeHandler {
	return &TradeHandler{execSvc: execSvc, ledgerRepo: ledgerRepo, cfg: cfg}
}

// tradeBody is the shared request shape of buy and sell. Optional fields stay
// nil when absent so the service can tell "not provided" from zero.
type tradeBody struct {
	MarketID    string  `json:"market_id" binding:"required"`
	OptionID    *int64  `json:"option_id"`
	OptionIndex *int    `json:"option_index"`
	Token       string  `json:"token"`
	WalletID    *string `json:"wallet_id"`
	ClientNonce *string `json:"client_nonce"`

	Amount  *string `json:"amount"`
	Shares  *string `json:"shares"`
	SellAll bool    `json:"sell_all"`

	MinSharesOut   *string `json:"min_shares_out"`
	MinAmountOut   *string `json:"min_amount_out"`
	MaxSlippageBps *int    `json:"max_slippage_bps"`
}

// Buy godoc
// POST /api/trades/buy [X-User-ID]
// Body: {"market_id":"uuid","option_id":42,"amount":"100.00","max_slippage_bps":500}
func (h *TradeHandler) Buy(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var body tradeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	marketID, err := uuid.Parse(body.MarketID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market_id format")
		return
	}

	req := service.BuyRequest{
		UserID:         userID,
		MarketID:       marketID,
		OptionID:       body.OptionID,
		OptionIndex:    body.OptionIndex,
		Token:          body.Token,
		ClientNonce:    body.ClientNonce,
		MaxSlippageBps: body.MaxSlippageBps,
	}
	if req.WalletID, err = parseUUIDField(body.WalletID); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid wallet_id format")
		return
	}
	if req.Amount, err = parseDecimalField(body.Amount); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "amount must be a decimal string")
		return
	}
	if req.Shares, err = parseDecimalField(body.Shares); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "shares must be a decimal string")
		return
	}
	if req.MinSharesOut, err = parseDecimalField(body.MinSharesOut); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "min_shares_out must be a decimal string")
		return
	}

	receipt, err := h.execSvc.ExecuteBuy(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, receipt)
}

// Sell godoc
// POST /api/trades/sell [X-User-ID]
// Body: {"market_id":"uuid","option_id":42,"shares":"10"} or {"sell_all":true}
func (h *TradeHandler) Sell(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var body tradeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	marketID, err := uuid.Parse(body.MarketID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid market_id format")
		return
	}

	req := service.SellRequest{
		UserID:      userID,
		MarketID:    marketID,
		OptionID:    body.OptionID,
		OptionIndex: body.OptionIndex,
		Token:       body.Token,
		ClientNonce: body.ClientNonce,
		SellAll:     body.SellAll,
	}
	if req.WalletID, err = parseUUIDField(body.WalletID); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "invalid wallet_id format")
		return
	}
	if req.Amount, err = parseDecimalField(body.Amount); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "amount must be a decimal string")
		return
	}
	if req.Shares, err = parseDecimalField(body.Shares); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "shares must be a decimal string")
		return
	}
	if req.MinAmountOut, err = parseDecimalField(body.MinAmountOut); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAM", "min_amount_out must be a decimal string")
		return
	}

	receipt, err := h.execSvc.ExecuteSell(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, receipt)
}

// GetBalance godoc
// GET /api/portfolio/balance?token=USDC [X-User-ID]
func (h *TradeHandler) GetBalance(c *gin.Context) {
	userID := middleware.GetUserID(c)
	token := c.DefaultQuery("token", h.cfg.AMM.DefaultToken)

	balance, err := h.ledgerRepo.GetBalance(c.Request.Context(), userID, token)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, balance)
}

// GetPositions godoc
// GET /api/portfolio/positions [X-User-ID]
func (h *TradeHandler) GetPositions(c *gin.Context) {
	userID := middleware.GetUserID(c)

	positions, err := h.ledgerRepo.ListPositionsByUser(c.Request.Context(), userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, positions)
}

// GetTrades godoc
// GET /api/portfolio/trades?page=1&limit=20 [X-User-ID]
func (h *TradeHandler) GetTrades(c *gin.Context) {
	userID := middleware.GetUserID(c)
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	trades, err := h.ledgerRepo.ListTradesByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, trades, len(trades), page, limit)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func parseDecimalField(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseUUIDField(raw *string) (*uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
