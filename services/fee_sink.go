package services

import (
	"context"
	"fmt"
	"options-market/interfaces"

	"github.com/shopspring/decimal"
)

// FeeSink accumulates trade fees retained in engine custody. Fees are tracked
// apart from the vault's escrow so collateral releases never draw on them.
type FeeSink struct {
	engine   string
	tokens   interfaces.TokenResolver
	balances map[string]decimal.Decimal
}

func NewFeeSink(engine string, tokens interfaces.TokenResolver) *FeeSink {
	return &FeeSink{
		engine:   interfaces.NormalizeAccount(engine),
		tokens:   tokens,
		balances: make(map[string]decimal.Decimal),
	}
}

// Retain records amount of token as collected fees
func (f *FeeSink) Retain(token string, amount decimal.Decimal) {
	token = interfaces.NormalizeAccount(token)
	f.balances[token] = f.balances[token].Add(amount)
}

// Balance returns the fees held for token
func (f *FeeSink) Balance(token string) decimal.Decimal {
	return f.balances[interfaces.NormalizeAccount(token)]
}

// Balances returns a copy of every non-empty fee balance
func (f *FeeSink) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(f.balances))
	for token, amount := range f.balances {
		if !amount.IsZero() {
			out[token] = amount
		}
	}
	return out
}

// Withdraw pays all fees held for token to the given account and returns the amount paid
func (f *FeeSink) Withdraw(ctx context.Context, tokenAddr, to string) (decimal.Decimal, error) {
	token, err := f.tokens.Token(tokenAddr)
	if err != nil {
		return decimal.Zero, err
	}

	key := token.Address()
	amount := f.balances[key]
	if amount.IsZero() {
		return decimal.Zero, nil
	}
	if !token.Transfer(ctx, f.engine, to, amount) {
		return decimal.Zero, fmt.Errorf("%w: fee withdrawal of %s %s rejected",
			interfaces.ErrInsufficientCustody, amount, key)
	}

	f.balances[key] = decimal.Zero
	return amount, nil
}

func (f *FeeSink) totals(tokens ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(tokens))
	for _, token := range tokens {
		out[token] = f.balances[token]
	}
	return out
}

func (f *FeeSink) restore(fees map[string]decimal.Decimal) {
	for token, amount := range fees {
		f.balances[token] = amount
	}
}
