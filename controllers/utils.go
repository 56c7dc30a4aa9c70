package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"options-market/interfaces"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AccountHeader carries the caller's account on every mutating request
const AccountHeader = "X-Account"

var errorStatuses = []struct {
	err    error
	status int
}{
	{interfaces.ErrNotFound, http.StatusNotFound},
	{interfaces.ErrUnknownToken, http.StatusNotFound},
	{interfaces.ErrNotOwner, http.StatusForbidden},
	{interfaces.ErrNotWriter, http.StatusForbidden},
	{interfaces.ErrNotPoster, http.StatusForbidden},
	{interfaces.ErrNotTreasury, http.StatusForbidden},
	{interfaces.ErrAlreadyResolved, http.StatusConflict},
	{interfaces.ErrNotOpen, http.StatusConflict},
	{interfaces.ErrExpired, http.StatusConflict},
	{interfaces.ErrNotExpired, http.StatusConflict},
	{interfaces.ErrInsufficientAllowance, http.StatusPaymentRequired},
	{interfaces.ErrInsufficientBalance, http.StatusPaymentRequired},
	{interfaces.ErrInsufficientCustody, http.StatusInternalServerError},
	{interfaces.ErrInvalidAmount, http.StatusBadRequest},
	{interfaces.ErrInvalidKind, http.StatusBadRequest},
	{interfaces.ErrInvalidAccount, http.StatusBadRequest},
}

func statusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// callerAccount returns the X-Account header, aborting with 401 when it is missing
func callerAccount(c *gin.Context) (string, bool) {
	account := interfaces.NormalizeAccount(c.GetHeader(AccountHeader))
	if account == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": AccountHeader + " header required"})
		return "", false
	}
	return account, true
}

func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid %s", name), err)
		return 0, false
	}
	return id, true
}

func parseUintQuery(c *gin.Context, name string) (*uint64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return &v, nil
}

// parseTimeQuery accepts RFC3339 or unix seconds
func parseTimeQuery(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return t, nil
}

func requireAmount(field string, v *decimal.Decimal) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, fmt.Errorf("%w: %s required", interfaces.ErrInvalidAmount, field)
	}
	return *v, nil
}
