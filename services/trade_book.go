package services

import (
	"context"
	"fmt"
	"options-market/interfaces"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TradeBook owns trade listings: opening, cancellation and execution.
// Callers hold the market write lock for every mutating method.
type TradeBook struct {
	trades        map[uint64]*interfaces.Trade
	nextID        uint64
	registry      *OptionRegistry
	vault         *CollateralVault
	fees          *FeeSink
	tradeCurrency string
	logger        *logrus.Logger
}

func NewTradeBook(registry *OptionRegistry, vault *CollateralVault, fees *FeeSink, tradeCurrency string, logger *logrus.Logger) *TradeBook {
	return &TradeBook{
		trades:        make(map[uint64]*interfaces.Trade),
		registry:      registry,
		vault:         vault,
		fees:          fees,
		tradeCurrency: interfaces.NormalizeAccount(tradeCurrency),
		logger:        logger,
	}
}

func (b *TradeBook) open(op *operation, optionID uint64, premium decimal.Decimal, caller string) (*interfaces.Trade, error) {
	caller = interfaces.NormalizeAccount(caller)

	option, err := b.registry.get(optionID)
	if err != nil {
		return nil, err
	}
	if caller != option.Owner {
		return nil, fmt.Errorf("%w: option %d", interfaces.ErrNotOwner, optionID)
	}
	if option.Status.Resolved() {
		return nil, fmt.Errorf("%w: option %d is %s", interfaces.ErrAlreadyResolved, optionID, option.Status)
	}
	if option.ExpiredAt(op.now) {
		return nil, fmt.Errorf("%w: option %d", interfaces.ErrExpired, optionID)
	}
	if err := validateUnits("premium", premium, true); err != nil {
		return nil, err
	}

	trade := &interfaces.Trade{
		ID:        b.nextID,
		Poster:    caller,
		OptionID:  optionID,
		Premium:   premium,
		Status:    interfaces.TradeOpen,
		CreatedAt: op.now,
		UpdatedAt: op.now,
	}
	b.trades[trade.ID] = trade
	b.nextID++

	op.touchTrade(trade)
	tradeID := trade.ID
	p := premium
	op.emit(&interfaces.Event{
		Name:     interfaces.EventTradeOpened,
		OptionID: optionID,
		TradeID:  &tradeID,
		Premium:  &p,
	})

	b.logger.WithFields(logrus.Fields{
		"trade_id":  trade.ID,
		"option_id": optionID,
		"poster":    caller,
		"premium":   premium.String(),
	}).Info("Trade opened")

	return trade, nil
}

func (b *TradeBook) cancel(op *operation, id uint64, caller string) (*interfaces.Trade, error) {
	caller = interfaces.NormalizeAccount(caller)

	trade, err := b.get(id)
	if err != nil {
		return nil, err
	}
	if trade.Status != interfaces.TradeOpen {
		return nil, fmt.Errorf("%w: trade %d is %s", interfaces.ErrNotOpen, id, trade.Status)
	}
	if caller != trade.Poster {
		return nil, fmt.Errorf("%w: trade %d", interfaces.ErrNotPoster, id)
	}

	b.close(op, trade, interfaces.TradeCancelled)

	b.logger.WithFields(logrus.Fields{
		"trade_id":  id,
		"option_id": trade.OptionID,
		"poster":    caller,
	}).Info("Trade cancelled")

	return trade, nil
}

func (b *TradeBook) execute(ctx context.Context, op *operation, id uint64, buyer string) (*interfaces.Trade, error) {
	buyer = interfaces.NormalizeAccount(buyer)
	if buyer == "" {
		return nil, fmt.Errorf("%w: buyer required", interfaces.ErrInvalidAccount)
	}

	trade, err := b.get(id)
	if err != nil {
		return nil, err
	}
	if trade.Status != interfaces.TradeOpen {
		return nil, fmt.Errorf("%w: trade %d is %s", interfaces.ErrNotOpen, id, trade.Status)
	}

	option, err := b.registry.get(trade.OptionID)
	if err != nil {
		return nil, err
	}
	// A listing is only good while its poster still holds the option it sells
	if option.Owner != trade.Poster {
		return nil, fmt.Errorf("%w: trade %d poster no longer owns option %d",
			interfaces.ErrNotPoster, id, option.ID)
	}
	if option.Status.Resolved() {
		return nil, fmt.Errorf("%w: option %d is %s", interfaces.ErrAlreadyResolved, option.ID, option.Status)
	}
	if option.ExpiredAt(op.now) {
		return nil, fmt.Errorf("%w: option %d", interfaces.ErrExpired, option.ID)
	}

	fee := b.vault.CollectFee(trade.Premium)
	proceeds := trade.Premium.Sub(fee)

	// One pull moves the whole premium; the poster is paid out of custody and the fee stays there
	if err := b.vault.Receive(ctx, buyer, b.tradeCurrency, trade.Premium); err != nil {
		return nil, err
	}
	if err := b.vault.Disburse(ctx, trade.Poster, b.tradeCurrency, proceeds); err != nil {
		b.vault.Refund(ctx, buyer, b.tradeCurrency, trade.Premium)
		return nil, err
	}
	b.fees.Retain(b.tradeCurrency, fee)
	op.touchFees(b.tradeCurrency)
	op.feeCollected = fee

	if err := b.registry.transferOwnership(op, option.ID, buyer); err != nil {
		return nil, err
	}

	trade.Buyer = buyer
	b.close(op, trade, interfaces.TradeClosed)

	// Any other listing of this option now sells rights its poster no longer has
	b.invalidate(op, option.ID)

	b.logger.WithFields(logrus.Fields{
		"trade_id":  id,
		"option_id": option.ID,
		"poster":    trade.Poster,
		"buyer":     buyer,
		"premium":   trade.Premium.String(),
		"fee":       fee.String(),
	}).Info("Trade executed")

	return trade, nil
}

// close moves an open trade to a terminal status and emits the matching event
func (b *TradeBook) close(op *operation, trade *interfaces.Trade, status interfaces.TradeStatus) {
	trade.Status = status
	trade.UpdatedAt = op.now
	op.touchTrade(trade)

	tradeID := trade.ID
	e := &interfaces.Event{
		OptionID: trade.OptionID,
		TradeID:  &tradeID,
	}
	switch status {
	case interfaces.TradeClosed:
		e.Name = interfaces.EventTradeExecuted
		e.Buyer = trade.Buyer
	case interfaces.TradeCancelled:
		e.Name = interfaces.EventTradeCancelled
	}
	op.emit(e)
}

// invalidate cancels every open trade for optionID and returns how many were cancelled
func (b *TradeBook) invalidate(op *operation, optionID uint64) int {
	stale := make([]*interfaces.Trade, 0)
	for _, t := range b.trades {
		if t.OptionID == optionID && t.Status == interfaces.TradeOpen {
			stale = append(stale, t)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })

	for _, t := range stale {
		b.close(op, t, interfaces.TradeCancelled)
		b.logger.WithFields(logrus.Fields{
			"trade_id":  t.ID,
			"option_id": optionID,
		}).Info("Stale trade invalidated")
	}
	return len(stale)
}

func (b *TradeBook) get(id uint64) (*interfaces.Trade, error) {
	trade, ok := b.trades[id]
	if !ok {
		return nil, fmt.Errorf("%w: trade %d", interfaces.ErrNotFound, id)
	}
	return trade, nil
}

func (b *TradeBook) list(filter interfaces.TradeFilter) []*interfaces.Trade {
	poster := interfaces.NormalizeAccount(filter.Poster)

	out := make([]*interfaces.Trade, 0)
	for _, t := range b.trades {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.OptionID != nil && t.OptionID != *filter.OptionID {
			continue
		}
		if poster != "" && t.Poster != poster {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// openOptionIDs returns the distinct options that have at least one open trade
func (b *TradeBook) openOptionIDs() []uint64 {
	seen := make(map[uint64]struct{})
	ids := make([]uint64, 0)
	for _, t := range b.trades {
		if t.Status != interfaces.TradeOpen {
			continue
		}
		if _, ok := seen[t.OptionID]; ok {
			continue
		}
		seen[t.OptionID] = struct{}{}
		ids = append(ids, t.OptionID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *TradeBook) openCount() int {
	n := 0
	for _, t := range b.trades {
		if t.Status == interfaces.TradeOpen {
			n++
		}
	}
	return n
}

func (b *TradeBook) restore(trades []*interfaces.Trade) {
	for _, t := range trades {
		b.trades[t.ID] = t
		if t.ID >= b.nextID {
			b.nextID = t.ID + 1
		}
	}
}
