package services

import (
	"context"
	"fmt"
	"options-market/interfaces"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const publishQueueSize = 1024

// MarketConfig is fixed for the lifetime of an engine
type MarketConfig struct {
	EngineAddress      string
	TradeCurrency      string
	Treasury           string
	FeePercent         int64
	TokenAmountPerUnit decimal.Decimal
	UnitsPerOption     decimal.Decimal
}

// OptionsMarket is the settlement engine. Every mutating operation runs to
// completion under one write lock, so no two operations can both observe an
// option or trade as eligible and act on it.
type OptionsMarket struct {
	cfg      MarketConfig
	tokens   interfaces.TokenResolver
	store    interfaces.MarketStore
	vault    *CollateralVault
	registry *OptionRegistry
	book     *TradeBook
	fees     *FeeSink
	events   *EventLog
	metrics  *MarketMetrics
	clock    func() time.Time

	publishers []interfaces.EventPublisher
	outbox     chan *interfaces.Event
	done       chan struct{}
	closed     bool
	closeOnce  sync.Once

	mu     sync.RWMutex
	logger *logrus.Logger
}

// NewOptionsMarket builds an engine and restores its state from store. store and metrics may be nil.
func NewOptionsMarket(ctx context.Context, cfg MarketConfig, tokens interfaces.TokenResolver, store interfaces.MarketStore, metrics *MarketMetrics) (*OptionsMarket, error) {
	cfg.EngineAddress = interfaces.NormalizeAccount(cfg.EngineAddress)
	cfg.TradeCurrency = interfaces.NormalizeAccount(cfg.TradeCurrency)
	cfg.Treasury = interfaces.NormalizeAccount(cfg.Treasury)

	if cfg.EngineAddress == "" {
		return nil, fmt.Errorf("%w: engine address required", interfaces.ErrInvalidAccount)
	}
	if cfg.FeePercent < 0 || cfg.FeePercent > 100 {
		return nil, fmt.Errorf("fee percent must be within 0..100, got %d", cfg.FeePercent)
	}
	if _, err := tokens.Token(cfg.TradeCurrency); err != nil {
		return nil, fmt.Errorf("trade currency: %w", err)
	}
	if cfg.TokenAmountPerUnit.IsZero() {
		cfg.TokenAmountPerUnit = decimal.NewFromInt(1)
	}
	if cfg.UnitsPerOption.IsZero() {
		cfg.UnitsPerOption = decimal.NewFromInt(1)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	vault := NewCollateralVault(cfg.EngineAddress, tokens, cfg.FeePercent, logger)
	fees := NewFeeSink(cfg.EngineAddress, tokens)
	registry := NewOptionRegistry(vault, tokens, cfg.TradeCurrency, logger)

	m := &OptionsMarket{
		cfg:      cfg,
		tokens:   tokens,
		store:    store,
		vault:    vault,
		registry: registry,
		book:     NewTradeBook(registry, vault, fees, cfg.TradeCurrency, logger),
		fees:     fees,
		events:   NewEventLog(),
		metrics:  metrics,
		clock:    time.Now,
		outbox:   make(chan *interfaces.Event, publishQueueSize),
		done:     make(chan struct{}),
		logger:   logger,
	}

	if err := m.loadFromStore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore market state: %w", err)
	}

	go m.dispatch()
	return m, nil
}

// SetClock replaces the time source. Intended for tests and simulations.
func (m *OptionsMarket) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// SetLogger replaces the engine logger
func (m *OptionsMarket) SetLogger(logger *logrus.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
	m.vault.logger = logger
	m.registry.logger = logger
	m.book.logger = logger
}

// AddPublisher registers a sink for committed events. Add publishers before serving traffic.
func (m *OptionsMarket) AddPublisher(p interfaces.EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers = append(m.publishers, p)
}

// WriteOption locks the writer's collateral and records a new option
func (m *OptionsMarket) WriteOption(ctx context.Context, req interfaces.WriteOptionRequest) (*interfaces.Option, error) {
	var out interfaces.Option
	err := m.mutate(ctx, "write_option", func(op *operation) error {
		option, err := m.registry.write(ctx, op, req)
		if err != nil {
			return err
		}
		out = *option
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExerciseOption swaps the two legs of the contract for its current owner
func (m *OptionsMarket) ExerciseOption(ctx context.Context, id uint64, caller string) (*interfaces.Option, error) {
	var out interfaces.Option
	err := m.mutate(ctx, "exercise_option", func(op *operation) error {
		option, err := m.registry.exercise(ctx, op, id, caller)
		if err != nil {
			return err
		}
		m.book.invalidate(op, id)
		out = *option
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CollectExpired returns an expired option's collateral to its writer
func (m *OptionsMarket) CollectExpired(ctx context.Context, id uint64, caller string) (*interfaces.Option, error) {
	var out interfaces.Option
	err := m.mutate(ctx, "collect_expired", func(op *operation) error {
		option, err := m.registry.collect(ctx, op, id, caller)
		if err != nil {
			return err
		}
		m.book.invalidate(op, id)
		out = *option
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenTrade lists an owned option's exercise rights for premium
func (m *OptionsMarket) OpenTrade(ctx context.Context, optionID uint64, premium decimal.Decimal, caller string) (*interfaces.Trade, error) {
	var out interfaces.Trade
	err := m.mutate(ctx, "open_trade", func(op *operation) error {
		trade, err := m.book.open(op, optionID, premium, caller)
		if err != nil {
			return err
		}
		out = *trade
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTrade withdraws an open listing
func (m *OptionsMarket) CancelTrade(ctx context.Context, id uint64, caller string) (*interfaces.Trade, error) {
	var out interfaces.Trade
	err := m.mutate(ctx, "cancel_trade", func(op *operation) error {
		trade, err := m.book.cancel(op, id, caller)
		if err != nil {
			return err
		}
		out = *trade
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteTrade sells the listed option to buyer
func (m *OptionsMarket) ExecuteTrade(ctx context.Context, id uint64, buyer string) (*interfaces.Trade, error) {
	var out interfaces.Trade
	err := m.mutate(ctx, "execute_trade", func(op *operation) error {
		trade, err := m.book.execute(ctx, op, id, buyer)
		if err != nil {
			return err
		}
		out = *trade
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// WithdrawFees pays every accumulated trade-currency fee to the treasury
func (m *OptionsMarket) WithdrawFees(ctx context.Context, caller string) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := m.mutate(ctx, "withdraw_fees", func(op *operation) error {
		if m.cfg.Treasury == "" || interfaces.NormalizeAccount(caller) != m.cfg.Treasury {
			return interfaces.ErrNotTreasury
		}
		amount, err := m.fees.Withdraw(ctx, m.cfg.TradeCurrency, m.cfg.Treasury)
		if err != nil {
			return err
		}
		op.touchFees(m.cfg.TradeCurrency)
		paid = amount

		m.logger.WithFields(logrus.Fields{
			"treasury": m.cfg.Treasury,
			"amount":   amount.String(),
		}).Info("Fees withdrawn")
		return nil
	})
	return paid, err
}

// SweepExpired cancels open trades whose option can no longer be exercised and
// returns the number cancelled along with the ids of expired options still holding collateral.
func (m *OptionsMarket) SweepExpired(ctx context.Context) (int, []uint64, error) {
	cancelled := 0
	var uncollected []uint64
	err := m.mutate(ctx, "sweep_expired", func(op *operation) error {
		for _, optionID := range m.book.openOptionIDs() {
			option, err := m.registry.get(optionID)
			if err != nil {
				return err
			}
			if option.Status.Resolved() || option.ExpiredAt(op.now) {
				cancelled += m.book.invalidate(op, optionID)
			}
		}
		uncollected = m.registry.expiredUnresolved(op.now)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	if m.metrics != nil {
		m.metrics.ExpiredUncollected.Set(float64(len(uncollected)))
	}
	return cancelled, uncollected, nil
}

// GetOption returns a copy of the option
func (m *OptionsMarket) GetOption(id uint64) (*interfaces.Option, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	option, err := m.registry.get(id)
	if err != nil {
		return nil, err
	}
	cp := *option
	return &cp, nil
}

// GetOptionOwner returns the account currently holding the option's exercise rights
func (m *OptionsMarket) GetOptionOwner(id uint64) (string, error) {
	option, err := m.GetOption(id)
	if err != nil {
		return "", err
	}
	return option.Owner, nil
}

// ListOptions returns options matching filter ordered by id
func (m *OptionsMarket) ListOptions(filter interfaces.OptionFilter) []*interfaces.Option {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry.list(filter)
}

// GetTrade returns a copy of the trade
func (m *OptionsMarket) GetTrade(id uint64) (*interfaces.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trade, err := m.book.get(id)
	if err != nil {
		return nil, err
	}
	cp := *trade
	return &cp, nil
}

// ListTrades returns trades matching filter ordered by id
func (m *OptionsMarket) ListTrades(filter interfaces.TradeFilter) []*interfaces.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.list(filter)
}

// Events replays the event log
func (m *OptionsMarket) Events(filter interfaces.EventFilter) []*interfaces.Event {
	return m.events.Replay(filter)
}

// EventHead returns the sequence number of the latest committed event
func (m *OptionsMarket) EventHead() uint64 {
	return m.events.Head()
}

// Info returns the engine configuration
func (m *OptionsMarket) Info() interfaces.MarketInfo {
	return interfaces.MarketInfo{
		EngineAddress:      m.cfg.EngineAddress,
		TradeCurrency:      m.cfg.TradeCurrency,
		TokenAmountPerUnit: m.cfg.TokenAmountPerUnit,
		UnitsPerOption:     m.cfg.UnitsPerOption,
		FeePercent:         m.cfg.FeePercent,
		Treasury:           m.cfg.Treasury,
	}
}

// TradeCurrency returns the stablecoin premiums, strikes and fees are paid in
func (m *OptionsMarket) TradeCurrency() string {
	return m.cfg.TradeCurrency
}

// TokenAmountPerUnit returns the underlying base units in one option unit
func (m *OptionsMarket) TokenAmountPerUnit() decimal.Decimal {
	return m.cfg.TokenAmountPerUnit
}

// UnitsPerOption returns the option units one contract covers
func (m *OptionsMarket) UnitsPerOption() decimal.Decimal {
	return m.cfg.UnitsPerOption
}

// FeeBalance returns the fees retained in the trade currency
func (m *OptionsMarket) FeeBalance() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fees.Balance(m.cfg.TradeCurrency)
}

// Custody returns the collateral escrowed in token
func (m *OptionsMarket) Custody(token string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vault.Custody(token)
}

// Close stops event dispatch after draining queued events
func (m *OptionsMarket) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.outbox)
		m.mu.Unlock()
		<-m.done
	})
}

// mutate runs fn as one serialised operation and commits what it touched
func (m *OptionsMarket) mutate(ctx context.Context, name string, fn func(op *operation) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op := newOperation(m.clock().UTC())
	if err := fn(op); err != nil {
		m.metrics.observe(name, err)
		m.logger.WithError(err).WithField("operation", name).Warn("Operation rejected")
		return err
	}
	m.metrics.observe(name, nil)
	m.commit(ctx, op)
	return nil
}

// commit persists an operation's changes and makes its events visible. The
// in-memory state is authoritative: token movements already happened, so a
// storage failure is logged and does not undo the operation.
func (m *OptionsMarket) commit(ctx context.Context, op *operation) {
	m.events.stage(op.events)

	change := op.stateChange(m.vault, m.fees)
	if m.store != nil && !change.Empty() {
		if err := m.store.CommitMarketState(ctx, change); err != nil {
			m.logger.WithError(err).Error("Failed to save market state to database")
		}
	}

	m.events.append(op.events)
	m.metrics.committed(op.events, op.feeCollected, m.book.openCount())

	if len(m.publishers) == 0 || m.closed {
		return
	}
	for _, e := range op.events {
		cp := *e
		select {
		case m.outbox <- &cp:
		default:
			m.logger.WithField("seq", e.Seq).Warn("Event publish queue full, event only available via replay")
		}
	}
}

// dispatch hands committed events to publishers in sequence order
func (m *OptionsMarket) dispatch() {
	defer close(m.done)
	for e := range m.outbox {
		m.mu.RLock()
		publishers := m.publishers
		m.mu.RUnlock()

		for _, p := range publishers {
			if err := p.Publish(context.Background(), e); err != nil {
				m.logger.WithError(err).WithFields(logrus.Fields{
					"seq":   e.Seq,
					"event": e.Name,
				}).Warn("Failed to publish event")
			}
		}
	}
}

func (m *OptionsMarket) loadFromStore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	snapshot, err := m.store.LoadMarketState(ctx)
	if err != nil {
		return err
	}

	m.registry.restore(snapshot.Options)
	m.book.restore(snapshot.Trades)
	m.events.restore(snapshot.Events)
	m.vault.restore(snapshot.Escrow)
	m.fees.restore(snapshot.Fees)

	m.logger.WithFields(logrus.Fields{
		"options": len(snapshot.Options),
		"trades":  len(snapshot.Trades),
		"events":  len(snapshot.Events),
	}).Info("Restored market state")
	return nil
}

// operation collects what one engine operation touched
type operation struct {
	now          time.Time
	options      []*interfaces.Option
	trades       []*interfaces.Trade
	events       []*interfaces.Event
	escrowTokens map[string]struct{}
	feeTokens    map[string]struct{}
	feeCollected decimal.Decimal
}

func newOperation(now time.Time) *operation {
	return &operation{
		now:          now,
		escrowTokens: make(map[string]struct{}),
		feeTokens:    make(map[string]struct{}),
	}
}

func (op *operation) touchOption(o *interfaces.Option) {
	for _, seen := range op.options {
		if seen == o {
			return
		}
	}
	op.options = append(op.options, o)
}

func (op *operation) touchTrade(t *interfaces.Trade) {
	for _, seen := range op.trades {
		if seen == t {
			return
		}
	}
	op.trades = append(op.trades, t)
}

func (op *operation) touchEscrow(token string) {
	op.escrowTokens[interfaces.NormalizeAccount(token)] = struct{}{}
}

func (op *operation) touchFees(token string) {
	op.feeTokens[interfaces.NormalizeAccount(token)] = struct{}{}
}

func (op *operation) emit(e *interfaces.Event) {
	e.Timestamp = op.now
	op.events = append(op.events, e)
}

func (op *operation) stateChange(vault *CollateralVault, fees *FeeSink) *interfaces.StateChange {
	change := &interfaces.StateChange{Events: op.events}
	for _, o := range op.options {
		cp := *o
		change.Options = append(change.Options, &cp)
	}
	for _, t := range op.trades {
		cp := *t
		change.Trades = append(change.Trades, &cp)
	}
	if len(op.escrowTokens) > 0 {
		change.Escrow = vault.totals(sortedKeys(op.escrowTokens)...)
	}
	if len(op.feeTokens) > 0 {
		change.Fees = fees.totals(sortedKeys(op.feeTokens)...)
	}
	return change
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
