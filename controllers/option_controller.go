package controllers

import (
	"net/http"
	"options-market/interfaces"
	"options-market/services"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// OptionController handles writing, exercising and collecting options
type OptionController struct {
	market *services.OptionsMarket
}

// NewOptionController creates a new option controller
func NewOptionController(market *services.OptionsMarket) *OptionController {
	return &OptionController{
		market: market,
	}
}

// WriteOptionRequest is the body of POST /options. The writer is the caller.
type WriteOptionRequest struct {
	Kind            interfaces.OptionKind `json:"kind" binding:"required"`
	Expiry          time.Time             `json:"expiry"`
	UnderlyingToken string                `json:"underlying_token" binding:"required"`
	Amount          *decimal.Decimal      `json:"amount"`
	StrikePrice     *decimal.Decimal      `json:"strike_price"`
}

// HandleWriteOption locks collateral and creates an option
// POST /api/v1/options
func (oc *OptionController) HandleWriteOption(c *gin.Context) {
	writer, ok := callerAccount(c)
	if !ok {
		return
	}

	var req WriteOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	if req.Expiry.IsZero() {
		badRequest(c, "expiry required", nil)
		return
	}
	amount, err := requireAmount("amount", req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	strike, err := requireAmount("strike_price", req.StrikePrice)
	if err != nil {
		respondError(c, err)
		return
	}

	option, err := oc.market.WriteOption(c.Request.Context(), interfaces.WriteOptionRequest{
		Kind:            req.Kind,
		Expiry:          req.Expiry,
		UnderlyingToken: req.UnderlyingToken,
		Amount:          amount,
		StrikePrice:     strike,
		Writer:          writer,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Option written",
		"option":  option,
	})
}

// HandleListOptions lists options
// GET /api/v1/options?kind=&token=&writer=&owner=&status=&expires_after=&expires_before=
func (oc *OptionController) HandleListOptions(c *gin.Context) {
	filter := interfaces.OptionFilter{
		Token:  c.Query("token"),
		Writer: c.Query("writer"),
		Owner:  c.Query("owner"),
	}

	if raw := c.Query("kind"); raw != "" {
		kind, err := interfaces.ParseOptionKind(raw)
		if err != nil {
			badRequest(c, "invalid kind", err)
			return
		}
		filter.Kind = kind
	}
	if raw := c.Query("status"); raw != "" {
		status, err := interfaces.ParseOptionStatus(raw)
		if err != nil {
			badRequest(c, "invalid status", err)
			return
		}
		filter.Status = &status
	}

	var err error
	if filter.ExpiresAfter, err = parseTimeQuery(c, "expires_after"); err != nil {
		badRequest(c, "invalid expires_after", err)
		return
	}
	if filter.ExpiresBefore, err = parseTimeQuery(c, "expires_before"); err != nil {
		badRequest(c, "invalid expires_before", err)
		return
	}

	options := oc.market.ListOptions(filter)
	c.JSON(http.StatusOK, gin.H{
		"options": options,
		"count":   len(options),
	})
}

// HandleGetOption returns one option
// GET /api/v1/options/:id
func (oc *OptionController) HandleGetOption(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	option, err := oc.market.GetOption(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, option)
}

// HandleGetOptionOwner returns the account holding the option's exercise rights
// GET /api/v1/options/:id/owner
func (oc *OptionController) HandleGetOptionOwner(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	owner, err := oc.market.GetOptionOwner(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"option_id": id,
		"owner":     owner,
	})
}

// HandleExerciseOption exercises an option for its owner
// POST /api/v1/options/:id/exercise
func (oc *OptionController) HandleExerciseOption(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	option, err := oc.market.ExerciseOption(c.Request.Context(), id, caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Option exercised",
		"option":  option,
	})
}

// HandleCollectExpired returns an expired option's collateral to its writer
// POST /api/v1/options/:id/collect
func (oc *OptionController) HandleCollectExpired(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	option, err := oc.market.CollectExpired(c.Request.Context(), id, caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Collateral collected",
		"option":  option,
	})
}
