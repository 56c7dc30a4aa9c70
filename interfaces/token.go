package interfaces

import (
	"context"

	"github.com/shopspring/decimal"
)

// Token is the ERC20-equivalent collaborator. The acting account is passed
// explicitly where a contract would read it from the transaction sender.
type Token interface {
	Address() string
	BalanceOf(account string) decimal.Decimal
	Allowance(owner, spender string) decimal.Decimal
	// TransferFrom moves amount from -> to using spender's allowance on from
	TransferFrom(ctx context.Context, spender, from, to string, amount decimal.Decimal) bool
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) bool
	Approve(ctx context.Context, owner, spender string, amount decimal.Decimal) bool
}

// TokenResolver looks tokens up by address
type TokenResolver interface {
	Token(address string) (Token, error)
}
