package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DBOption represents a written option in the database
type DBOption struct {
	gorm.Model
	OptionID        uint64          `gorm:"uniqueIndex"`
	Kind            string          `gorm:"index"`
	Expiry          time.Time       `gorm:"index"`
	Status          string          `gorm:"index"`
	Writer          string          `gorm:"index"`
	Owner           string          `gorm:"index"`
	UnderlyingToken string          `gorm:"index"`
	Amount          decimal.Decimal `gorm:"type:text"`
	StrikePrice     decimal.Decimal `gorm:"type:text"`
}

// DBTrade represents a listing of an option's exercise rights
type DBTrade struct {
	gorm.Model
	TradeID  uint64          `gorm:"uniqueIndex"`
	Poster   string          `gorm:"index"`
	OptionID uint64          `gorm:"index"`
	Premium  decimal.Decimal `gorm:"type:text"`
	Status   string          `gorm:"index"`
	Buyer    string
}

// DBEvent is one entry of the append-only event log
type DBEvent struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"index"`
	Topic     string
	OptionID  uint64 `gorm:"index"`
	TradeID   *uint64
	Writer    string              `gorm:"index"`
	Buyer     string              `gorm:"index"`
	Kind      string
	Premium   decimal.NullDecimal `gorm:"type:text"`
	Timestamp time.Time
}

// DBLedgerTotal holds a per-token running total owned by the engine (escrow or fees)
type DBLedgerTotal struct {
	gorm.Model
	Ledger string          `gorm:"uniqueIndex:idx_ledger_token"`
	Token  string          `gorm:"uniqueIndex:idx_ledger_token"`
	Amount decimal.Decimal `gorm:"type:text"`
}

// DBTokenBalance is an account balance of the in-process token ledger
type DBTokenBalance struct {
	gorm.Model
	Token   string          `gorm:"uniqueIndex:idx_token_account"`
	Account string          `gorm:"uniqueIndex:idx_token_account"`
	Amount  decimal.Decimal `gorm:"type:text"`
}

// DBTokenAllowance is an owner->spender allowance of the in-process token ledger
type DBTokenAllowance struct {
	gorm.Model
	Token   string          `gorm:"uniqueIndex:idx_token_owner_spender"`
	Owner   string          `gorm:"uniqueIndex:idx_token_owner_spender"`
	Spender string          `gorm:"uniqueIndex:idx_token_owner_spender"`
	Amount  decimal.Decimal `gorm:"type:text"`
}

const (
	LedgerEscrow = "escrow"
	LedgerFees   = "fees"
)

// TableName overrides for cleaner table names
func (DBOption) TableName() string {
	return "options"
}

func (DBTrade) TableName() string {
	return "trades"
}

func (DBEvent) TableName() string {
	return "events"
}

func (DBLedgerTotal) TableName() string {
	return "ledger_totals"
}

func (DBTokenBalance) TableName() string {
	return "token_balances"
}

func (DBTokenAllowance) TableName() string {
	return "token_allowances"
}
