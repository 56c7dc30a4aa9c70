package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventName identifies a domain event type
type EventName string

const (
	EventOptionWritten  EventName = "OptionWritten"
	EventTradeOpened    EventName = "TradeOpened"
	EventTradeExecuted  EventName = "TradeExecuted"
	EventTradeCancelled EventName = "TradeCancelled"
)

// Event is one append-only log entry. Seq plays the role of a block number for replay.
type Event struct {
	Seq       uint64           `json:"seq"`
	Name      EventName        `json:"name"`
	Topic     string           `json:"topic"`
	OptionID  uint64           `json:"option_id"`
	TradeID   *uint64          `json:"trade_id,omitempty"`
	Writer    string           `json:"writer,omitempty"`
	Buyer     string           `json:"buyer,omitempty"`
	Kind      OptionKind       `json:"kind,omitempty"`
	Premium   *decimal.Decimal `json:"premium,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// EventFilter selects events for replay. Zero values match everything.
type EventFilter struct {
	FromSeq  uint64
	Name     EventName
	Writer   string
	Buyer    string
	OptionID *uint64
	TradeID  *uint64
	Limit    int
}

// Matches reports whether e passes every set field of the filter
func (f EventFilter) Matches(e *Event) bool {
	if e.Seq < f.FromSeq {
		return false
	}
	if f.Name != "" && e.Name != f.Name {
		return false
	}
	if f.Writer != "" && e.Writer != NormalizeAccount(f.Writer) {
		return false
	}
	if f.Buyer != "" && e.Buyer != NormalizeAccount(f.Buyer) {
		return false
	}
	if f.OptionID != nil && e.OptionID != *f.OptionID {
		return false
	}
	if f.TradeID != nil && (e.TradeID == nil || *e.TradeID != *f.TradeID) {
		return false
	}
	return true
}

// EventPublisher receives events after the mutation that produced them is committed
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}
