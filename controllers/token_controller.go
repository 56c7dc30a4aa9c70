package controllers

import (
	"net/http"
	"options-market/interfaces"
	"options-market/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TokenController exposes the in-process token ledgers
type TokenController struct {
	tokens *services.LedgerTokens
	engine string
	faucet bool
	logger *logrus.Logger
}

// NewTokenController creates a token controller. Minting is only served when faucet is true.
func NewTokenController(tokens *services.LedgerTokens, engine string, faucet bool) *TokenController {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &TokenController{
		tokens: tokens,
		engine: interfaces.NormalizeAccount(engine),
		faucet: faucet,
		logger: logger,
	}
}

type approveRequest struct {
	// Spender defaults to the engine, which is the only account that pulls tokens
	Spender string           `json:"spender"`
	Amount  *decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	To     string           `json:"to" binding:"required"`
	Amount *decimal.Decimal `json:"amount"`
}

type mintRequest struct {
	Account string           `json:"account" binding:"required"`
	Amount  *decimal.Decimal `json:"amount"`
}

// notCustody refuses to act as the engine; its balance is collateral held for option writers
func (tc *TokenController) notCustody(c *gin.Context, account string) bool {
	if account == tc.engine {
		c.JSON(http.StatusForbidden, gin.H{"error": "engine custody cannot be moved through the token API"})
		return false
	}
	return true
}

func (tc *TokenController) ledger(c *gin.Context) (*services.LedgerToken, bool) {
	token, err := tc.tokens.Ledger(c.Param("token"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return token, true
}

// HandleListTokens lists the tokens the engine settles in
// GET /api/v1/tokens
func (tc *TokenController) HandleListTokens(c *gin.Context) {
	addresses := tc.tokens.Addresses()
	c.JSON(http.StatusOK, gin.H{
		"tokens": addresses,
		"count":  len(addresses),
	})
}

// HandleGetBalance returns an account's balance
// GET /api/v1/tokens/:token/balance/:account
func (tc *TokenController) HandleGetBalance(c *gin.Context) {
	token, ok := tc.ledger(c)
	if !ok {
		return
	}

	account := interfaces.NormalizeAccount(c.Param("account"))
	c.JSON(http.StatusOK, gin.H{
		"token":   token.Address(),
		"account": account,
		"balance": token.BalanceOf(account),
	})
}

// HandleGetAllowance returns how much spender may pull from owner
// GET /api/v1/tokens/:token/allowance/:owner?spender=
func (tc *TokenController) HandleGetAllowance(c *gin.Context) {
	token, ok := tc.ledger(c)
	if !ok {
		return
	}

	owner := interfaces.NormalizeAccount(c.Param("owner"))
	spender := interfaces.NormalizeAccount(c.DefaultQuery("spender", tc.engine))
	c.JSON(http.StatusOK, gin.H{
		"token":     token.Address(),
		"owner":     owner,
		"spender":   spender,
		"allowance": token.Allowance(owner, spender),
	})
}

// HandleApprove sets the caller's allowance for a spender
// POST /api/v1/tokens/:token/approve
func (tc *TokenController) HandleApprove(c *gin.Context) {
	owner, ok := callerAccount(c)
	if !ok || !tc.notCustody(c, owner) {
		return
	}
	token, ok := tc.ledger(c)
	if !ok {
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	amount, err := requireAmount("amount", req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	spender := req.Spender
	if spender == "" {
		spender = tc.engine
	}

	if !token.Approve(c.Request.Context(), owner, spender, amount) {
		badRequest(c, "approval rejected", nil)
		return
	}

	tc.logger.WithFields(logrus.Fields{
		"token":   token.Address(),
		"owner":   owner,
		"spender": spender,
		"amount":  amount.String(),
	}).Info("Allowance approved")

	c.JSON(http.StatusOK, gin.H{
		"message":   "Allowance set",
		"allowance": token.Allowance(owner, spender),
	})
}

// HandleTransfer moves tokens from the caller
// POST /api/v1/tokens/:token/transfer
func (tc *TokenController) HandleTransfer(c *gin.Context) {
	from, ok := callerAccount(c)
	if !ok || !tc.notCustody(c, from) {
		return
	}
	token, ok := tc.ledger(c)
	if !ok {
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	amount, err := requireAmount("amount", req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	if !token.Transfer(c.Request.Context(), from, req.To, amount) {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": interfaces.ErrInsufficientBalance.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Transfer complete",
		"balance": token.BalanceOf(from),
	})
}

// HandleMint credits tokens to an account when the dev faucet is enabled
// POST /api/v1/tokens/:token/mint
func (tc *TokenController) HandleMint(c *gin.Context) {
	if !tc.faucet {
		c.JSON(http.StatusForbidden, gin.H{"error": "faucet disabled"})
		return
	}
	token, ok := tc.ledger(c)
	if !ok {
		return
	}

	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	amount, err := requireAmount("amount", req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := token.Mint(c.Request.Context(), req.Account, amount); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Tokens minted",
		"balance": token.BalanceOf(req.Account),
	})
}
