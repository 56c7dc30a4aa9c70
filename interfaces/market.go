package interfaces

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionKind is the side of an option contract
type OptionKind uint8

const (
	Call OptionKind = iota + 1
	Put
)

func (k OptionKind) String() string {
	switch k {
	case Call:
		return "call"
	case Put:
		return "put"
	}
	return "unknown"
}

// ParseOptionKind accepts "call" or "put" in any case
func ParseOptionKind(s string) (OptionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call":
		return Call, nil
	case "put":
		return Put, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

func (k OptionKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *OptionKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOptionKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// OptionStatus is terminal once it leaves OptionNone
type OptionStatus uint8

const (
	OptionNone OptionStatus = iota
	OptionExercised
	OptionCollected
)

func (s OptionStatus) String() string {
	switch s {
	case OptionNone:
		return "none"
	case OptionExercised:
		return "exercised"
	case OptionCollected:
		return "collected"
	}
	return "unknown"
}

// ParseOptionStatus parses the text form written by String
func ParseOptionStatus(s string) (OptionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return OptionNone, nil
	case "exercised":
		return OptionExercised, nil
	case "collected":
		return OptionCollected, nil
	}
	return 0, fmt.Errorf("unknown option status %q", s)
}

// Resolved reports whether the option has been exercised or collected
func (s OptionStatus) Resolved() bool {
	return s != OptionNone
}

func (s OptionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// TradeStatus is terminal once it leaves TradeOpen
type TradeStatus uint8

const (
	TradeOpen TradeStatus = iota
	TradeClosed
	TradeCancelled
)

func (s TradeStatus) String() string {
	switch s {
	case TradeOpen:
		return "open"
	case TradeClosed:
		return "closed"
	case TradeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ParseTradeStatus parses the text form written by String
func ParseTradeStatus(s string) (TradeStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return TradeOpen, nil
	case "closed":
		return TradeClosed, nil
	case "cancelled", "canceled":
		return TradeCancelled, nil
	}
	return 0, fmt.Errorf("unknown trade status %q", s)
}

func (s TradeStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Option is a written contract backed by exactly one collateral deposit
type Option struct {
	ID              uint64          `json:"id"`
	Kind            OptionKind      `json:"kind"`
	Expiry          time.Time       `json:"expiry"`
	Status          OptionStatus    `json:"status"`
	Writer          string          `json:"writer"`
	Owner           string          `json:"owner"`
	UnderlyingToken string          `json:"underlying_token"`
	Amount          decimal.Decimal `json:"amount"`
	StrikePrice     decimal.Decimal `json:"strike_price"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ExpiredAt reports whether the option can no longer be exercised at now
func (o *Option) ExpiredAt(now time.Time) bool {
	return now.After(o.Expiry)
}

// Trade is a standing offer to sell the exercise rights of one option
type Trade struct {
	ID        uint64          `json:"id"`
	Poster    string          `json:"poster"`
	OptionID  uint64          `json:"option_id"`
	Premium   decimal.Decimal `json:"premium"`
	Status    TradeStatus     `json:"status"`
	Buyer     string          `json:"buyer,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WriteOptionRequest carries the parameters of a new option
type WriteOptionRequest struct {
	Kind            OptionKind
	Expiry          time.Time
	UnderlyingToken string
	Amount          decimal.Decimal
	StrikePrice     decimal.Decimal
	Writer          string
}

// OptionFilter narrows option listings. Zero values match everything.
type OptionFilter struct {
	Kind          OptionKind
	Token         string
	Writer        string
	Owner         string
	Status        *OptionStatus
	ExpiresAfter  time.Time
	ExpiresBefore time.Time
}

// TradeFilter narrows trade listings. Zero values match everything.
type TradeFilter struct {
	Status   *TradeStatus
	OptionID *uint64
	Poster   string
}

// MarketInfo is the read-only configuration surface of the engine
type MarketInfo struct {
	EngineAddress      string          `json:"engine_address"`
	TradeCurrency      string          `json:"trade_currency"`
	TokenAmountPerUnit decimal.Decimal `json:"token_amount_per_unit"`
	UnitsPerOption     decimal.Decimal `json:"units_per_option"`
	FeePercent         int64           `json:"fee_percent"`
	Treasury           string          `json:"treasury,omitempty"`
}

// NormalizeAccount lower-cases and trims an account or token address
func NormalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
