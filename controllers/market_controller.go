package controllers

import (
	"net/http"
	"options-market/interfaces"
	"options-market/services"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxEventPage = 1000

// MarketController serves engine configuration, fees and event replay
type MarketController struct {
	market *services.OptionsMarket
}

// NewMarketController creates a new market controller
func NewMarketController(market *services.OptionsMarket) *MarketController {
	return &MarketController{
		market: market,
	}
}

// HandleGetConfig returns the engine configuration
// GET /api/v1/market/config
func (mc *MarketController) HandleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, mc.market.Info())
}

// HandleGetFees returns the retained fee balance
// GET /api/v1/market/fees
func (mc *MarketController) HandleGetFees(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"token":   mc.market.TradeCurrency(),
		"balance": mc.market.FeeBalance(),
	})
}

// HandleWithdrawFees pays retained fees to the treasury. Only the treasury may call it.
// POST /api/v1/market/fees/withdraw
func (mc *MarketController) HandleWithdrawFees(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		return
	}

	amount, err := mc.market.WithdrawFees(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Fees withdrawn",
		"token":   mc.market.TradeCurrency(),
		"amount":  amount,
	})
}

// HandleGetCustody returns the collateral escrowed in a token
// GET /api/v1/market/custody/:token
func (mc *MarketController) HandleGetCustody(c *gin.Context) {
	token := interfaces.NormalizeAccount(c.Param("token"))
	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"custody": mc.market.Custody(token),
	})
}

// HandleGetEvents replays the event log
// GET /api/v1/events?from=&name=&writer=&buyer=&option_id=&trade_id=&limit=
func (mc *MarketController) HandleGetEvents(c *gin.Context) {
	filter := interfaces.EventFilter{
		Name:   interfaces.EventName(c.Query("name")),
		Writer: c.Query("writer"),
		Buyer:  c.Query("buyer"),
		Limit:  maxEventPage,
	}

	from, err := parseUintQuery(c, "from")
	if err != nil {
		badRequest(c, "invalid from", err)
		return
	}
	if from != nil {
		filter.FromSeq = *from
	}
	if filter.OptionID, err = parseUintQuery(c, "option_id"); err != nil {
		badRequest(c, "invalid option_id", err)
		return
	}
	if filter.TradeID, err = parseUintQuery(c, "trade_id"); err != nil {
		badRequest(c, "invalid trade_id", err)
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			badRequest(c, "invalid limit", err)
			return
		}
		if limit < maxEventPage {
			filter.Limit = limit
		}
	}

	events := mc.market.Events(filter)
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
		"head":   mc.market.EventHead(),
	})
}
