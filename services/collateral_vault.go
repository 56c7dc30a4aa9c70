package services

import (
	"context"
	"fmt"
	"options-market/interfaces"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// CollateralVault moves tokens between accounts and engine custody. It keeps an
// escrow ledger per token so every lock can be matched by exactly one release.
// It is not safe for concurrent use; OptionsMarket serialises access.
type CollateralVault struct {
	engine     string
	tokens     interfaces.TokenResolver
	feePercent decimal.Decimal
	escrow     map[string]decimal.Decimal
	logger     *logrus.Logger
}

// NewCollateralVault creates a vault holding custody at engine
func NewCollateralVault(engine string, tokens interfaces.TokenResolver, feePercent int64, logger *logrus.Logger) *CollateralVault {
	return &CollateralVault{
		engine:     interfaces.NormalizeAccount(engine),
		tokens:     tokens,
		feePercent: decimal.NewFromInt(feePercent),
		escrow:     make(map[string]decimal.Decimal),
		logger:     logger,
	}
}

// checkPayable verifies from has approved and holds amount of token
func (v *CollateralVault) checkPayable(token interfaces.Token, from string, amount decimal.Decimal) error {
	if allowance := token.Allowance(from, v.engine); allowance.LessThan(amount) {
		return fmt.Errorf("%w: %s approved %s of %s, needs %s",
			interfaces.ErrInsufficientAllowance, from, allowance, token.Address(), amount)
	}
	if balance := token.BalanceOf(from); balance.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			interfaces.ErrInsufficientBalance, from, balance, token.Address(), amount)
	}
	return nil
}

// Lock pulls amount of token from account into engine custody
func (v *CollateralVault) Lock(ctx context.Context, account, tokenAddr string, amount decimal.Decimal) error {
	token, err := v.tokens.Token(tokenAddr)
	if err != nil {
		return err
	}
	if err := v.pull(ctx, token, account, v.engine, amount); err != nil {
		return fmt.Errorf("failed to lock collateral: %w", err)
	}

	key := token.Address()
	v.escrow[key] = v.escrow[key].Add(amount)

	v.logger.WithFields(logrus.Fields{
		"account": account,
		"token":   key,
		"amount":  amount.String(),
		"custody": v.escrow[key].String(),
	}).Debug("Collateral locked")
	return nil
}

// Receive pulls amount of token from account into engine custody without
// escrowing it. The caller settles it onward with Disburse.
func (v *CollateralVault) Receive(ctx context.Context, from, tokenAddr string, amount decimal.Decimal) error {
	token, err := v.tokens.Token(tokenAddr)
	if err != nil {
		return err
	}
	if err := v.pull(ctx, token, from, v.engine, amount); err != nil {
		return fmt.Errorf("failed to receive payment: %w", err)
	}
	return nil
}

// Disburse pays amount of token out of engine custody. Funds received in the
// same operation are always in custody, so a failure is a custody violation.
func (v *CollateralVault) Disburse(ctx context.Context, to, tokenAddr string, amount decimal.Decimal) error {
	token, err := v.tokens.Token(tokenAddr)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	key := token.Address()
	if balance := token.BalanceOf(v.engine); balance.LessThan(amount) {
		err := fmt.Errorf("%w: engine holds %s of %s, needs %s",
			interfaces.ErrInsufficientCustody, balance, key, amount)
		v.custodyViolation(err, to, key, amount)
		return err
	}
	if !token.Transfer(ctx, v.engine, to, amount) {
		err := fmt.Errorf("%w: %s rejected transfer of %s to %s",
			interfaces.ErrInsufficientCustody, key, amount, to)
		v.custodyViolation(err, to, key, amount)
		return err
	}
	return nil
}

// Refund returns a payment taken by Receive when a later leg of the same operation failed
func (v *CollateralVault) Refund(ctx context.Context, to, tokenAddr string, amount decimal.Decimal) {
	if err := v.Disburse(ctx, to, tokenAddr, amount); err != nil {
		v.logger.WithError(err).WithFields(logrus.Fields{
			"account": to,
			"token":   tokenAddr,
			"amount":  amount.String(),
		}).Error("Failed to refund payment")
		return
	}

	v.logger.WithFields(logrus.Fields{
		"account": to,
		"token":   tokenAddr,
		"amount":  amount.String(),
	}).Warn("Payment refunded")
}

func (v *CollateralVault) pull(ctx context.Context, token interfaces.Token, from, to string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if err := v.checkPayable(token, from, amount); err != nil {
		return err
	}
	if !token.TransferFrom(ctx, v.engine, from, to, amount) {
		// the token disagreed with our pre-check; report it as a balance failure
		return fmt.Errorf("%w: %s rejected transferFrom %s -> %s of %s",
			interfaces.ErrInsufficientBalance, token.Address(), from, to, amount)
	}
	return nil
}

// CheckReleasable verifies custody covers amount of token
func (v *CollateralVault) CheckReleasable(tokenAddr string, amount decimal.Decimal) error {
	token, err := v.tokens.Token(tokenAddr)
	if err != nil {
		return err
	}
	return v.checkReleasable(token, amount)
}

func (v *CollateralVault) checkReleasable(token interfaces.Token, amount decimal.Decimal) error {
	key := token.Address()
	if held := v.escrow[key]; held.LessThan(amount) {
		return fmt.Errorf("%w: escrow holds %s of %s, needs %s",
			interfaces.ErrInsufficientCustody, held, key, amount)
	}
	if balance := token.BalanceOf(v.engine); balance.LessThan(amount) {
		return fmt.Errorf("%w: engine holds %s of %s, needs %s",
			interfaces.ErrInsufficientCustody, balance, key, amount)
	}
	return nil
}

// Release pays amount of token from engine custody to account
func (v *CollateralVault) Release(ctx context.Context, account, tokenAddr string, amount decimal.Decimal) error {
	token, err := v.tokens.Token(tokenAddr)
	if err != nil {
		return err
	}

	key := token.Address()
	if err := v.checkReleasable(token, amount); err != nil {
		v.custodyViolation(err, account, key, amount)
		return err
	}
	if !amount.IsZero() && !token.Transfer(ctx, v.engine, account, amount) {
		err := fmt.Errorf("%w: %s rejected transfer of %s to %s",
			interfaces.ErrInsufficientCustody, key, amount, account)
		v.custodyViolation(err, account, key, amount)
		return err
	}

	v.escrow[key] = v.escrow[key].Sub(amount)

	v.logger.WithFields(logrus.Fields{
		"account": account,
		"token":   key,
		"amount":  amount.String(),
		"custody": v.escrow[key].String(),
	}).Debug("Collateral released")
	return nil
}

func (v *CollateralVault) custodyViolation(err error, account, token string, amount decimal.Decimal) {
	v.logger.WithError(err).WithFields(logrus.Fields{
		"account": account,
		"token":   token,
		"amount":  amount.String(),
	}).Error("Custody invariant violated")
}

// CollectFee returns the protocol fee retained from price, rounded down
func (v *CollateralVault) CollectFee(price decimal.Decimal) decimal.Decimal {
	return price.Mul(v.feePercent).Div(hundred).Floor()
}

// Custody returns the escrowed total of token
func (v *CollateralVault) Custody(tokenAddr string) decimal.Decimal {
	return v.escrow[interfaces.NormalizeAccount(tokenAddr)]
}

// totals returns the escrow totals for the given tokens
func (v *CollateralVault) totals(tokens ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(tokens))
	for _, token := range tokens {
		out[token] = v.escrow[token]
	}
	return out
}

func (v *CollateralVault) restore(escrow map[string]decimal.Decimal) {
	for token, amount := range escrow {
		v.escrow[token] = amount
	}
}
