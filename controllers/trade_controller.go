package controllers

import (
	"net/http"
	"options-market/interfaces"
	"options-market/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TradeController handles trade listings
type TradeController struct {
	market *services.OptionsMarket
}

// NewTradeController creates a new trade controller
func NewTradeController(market *services.OptionsMarket) *TradeController {
	return &TradeController{
		market: market,
	}
}

// OpenTradeRequest is the body of POST /trades. The poster is the caller.
type OpenTradeRequest struct {
	OptionID *uint64          `json:"option_id"`
	Premium  *decimal.Decimal `json:"premium"`
}

// HandleOpenTrade lists an owned option for sale
// POST /api/v1/trades
func (tc *TradeController) HandleOpenTrade(c *gin.Context) {
	poster, ok := callerAccount(c)
	if !ok {
		return
	}

	var req OpenTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	if req.OptionID == nil {
		badRequest(c, "option_id required", nil)
		return
	}
	premium, err := requireAmount("premium", req.Premium)
	if err != nil {
		respondError(c, err)
		return
	}

	trade, err := tc.market.OpenTrade(c.Request.Context(), *req.OptionID, premium, poster)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Trade opened",
		"trade":   trade,
	})
}

// HandleListTrades lists trades
// GET /api/v1/trades?status=&option_id=&poster=
func (tc *TradeController) HandleListTrades(c *gin.Context) {
	filter := interfaces.TradeFilter{
		Poster: c.Query("poster"),
	}

	if raw := c.Query("status"); raw != "" {
		status, err := interfaces.ParseTradeStatus(raw)
		if err != nil {
			badRequest(c, "invalid status", err)
			return
		}
		filter.Status = &status
	}
	optionID, err := parseUintQuery(c, "option_id")
	if err != nil {
		badRequest(c, "invalid option_id", err)
		return
	}
	filter.OptionID = optionID

	trades := tc.market.ListTrades(filter)
	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// HandleGetTrade returns one trade
// GET /api/v1/trades/:id
func (tc *TradeController) HandleGetTrade(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	trade, err := tc.market.GetTrade(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

// HandleExecuteTrade buys the listed option for the caller
// POST /api/v1/trades/:id/execute
func (tc *TradeController) HandleExecuteTrade(c *gin.Context) {
	buyer, ok := callerAccount(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	trade, err := tc.market.ExecuteTrade(c.Request.Context(), id, buyer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Trade executed",
		"trade":   trade,
	})
}

// HandleCancelTrade withdraws the caller's listing
// DELETE /api/v1/trades/:id
func (tc *TradeController) HandleCancelTrade(c *gin.Context) {
	poster, ok := callerAccount(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	trade, err := tc.market.CancelTrade(c.Request.Context(), id, poster)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Trade cancelled",
		"trade":   trade,
	})
}
