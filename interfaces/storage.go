package interfaces

import (
	"context"

	"github.com/shopspring/decimal"
)

// StateChange is everything one engine operation wrote. It is committed atomically.
type StateChange struct {
	Options []*Option
	Trades  []*Trade
	Events  []*Event
	// Escrow and Fees hold the new per-token totals for the tokens that moved
	Escrow map[string]decimal.Decimal
	Fees   map[string]decimal.Decimal
}

// Empty reports whether the change carries nothing to persist
func (c *StateChange) Empty() bool {
	return len(c.Options) == 0 && len(c.Trades) == 0 && len(c.Events) == 0 &&
		len(c.Escrow) == 0 && len(c.Fees) == 0
}

// MarketSnapshot is the persisted engine state loaded at start
type MarketSnapshot struct {
	Options []*Option
	Trades  []*Trade
	Events  []*Event
	Escrow  map[string]decimal.Decimal
	Fees    map[string]decimal.Decimal
}

// MarketStore persists engine state
type MarketStore interface {
	CommitMarketState(ctx context.Context, change *StateChange) error
	LoadMarketState(ctx context.Context) (*MarketSnapshot, error)
}

// TokenLedger is a token's persisted balances and allowances
type TokenLedger struct {
	Balances   map[string]decimal.Decimal
	Allowances map[string]map[string]decimal.Decimal // owner -> spender -> amount
}

// LedgerStore persists the in-process token ledger
type LedgerStore interface {
	SaveTokenBalances(ctx context.Context, token string, balances map[string]decimal.Decimal) error
	SaveTokenAllowance(ctx context.Context, token, owner, spender string, amount decimal.Decimal) error
	LoadTokenLedger(ctx context.Context, token string) (*TokenLedger, error)
}
