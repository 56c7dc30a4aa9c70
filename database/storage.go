package database

import (
	"context"
	"fmt"
	"options-market/interfaces"
	"options-market/models"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// LocalStorage implements MarketStore and LedgerStore using SQLite
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewLocalStorage creates a new local storage service
func NewLocalStorage(dbPath string) (*LocalStorage, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Auto-migrate schemas
	if err := db.AutoMigrate(
		&models.DBOption{},
		&models.DBTrade{},
		&models.DBEvent{},
		&models.DBLedgerTotal{},
		&models.DBTokenBalance{},
		&models.DBTokenAllowance{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LocalStorage{
		db:     db,
		logger: logger,
	}, nil
}

// CommitMarketState writes one operation's options, trades, events and ledger totals in a single transaction
func (s *LocalStorage) CommitMarketState(ctx context.Context, change *interfaces.StateChange) error {
	if change == nil || change.Empty() {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(change.Options) > 0 {
			rows := make([]*models.DBOption, len(change.Options))
			for i, o := range change.Options {
				rows[i] = optionToDB(o)
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "option_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"status", "owner", "updated_at"}),
			}).Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to save options: %w", err)
			}
		}

		if len(change.Trades) > 0 {
			rows := make([]*models.DBTrade, len(change.Trades))
			for i, t := range change.Trades {
				rows[i] = tradeToDB(t)
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "trade_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"status", "buyer", "updated_at"}),
			}).Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to save trades: %w", err)
			}
		}

		if len(change.Events) > 0 {
			rows := make([]*models.DBEvent, len(change.Events))
			for i, e := range change.Events {
				rows[i] = eventToDB(e)
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to append events: %w", err)
			}
		}

		if err := saveLedgerTotals(tx, models.LedgerEscrow, change.Escrow); err != nil {
			return err
		}
		return saveLedgerTotals(tx, models.LedgerFees, change.Fees)
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"options": len(change.Options),
		"trades":  len(change.Trades),
		"events":  len(change.Events),
	}).Debug("Market state committed")
	return nil
}

func saveLedgerTotals(tx *gorm.DB, ledger string, totals map[string]decimal.Decimal) error {
	if len(totals) == 0 {
		return nil
	}

	rows := make([]*models.DBLedgerTotal, 0, len(totals))
	for token, amount := range totals {
		rows = append(rows, &models.DBLedgerTotal{Ledger: ledger, Token: token, Amount: amount})
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ledger"}, {Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to save %s totals: %w", ledger, err)
	}
	return nil
}

// LoadMarketState reads back everything CommitMarketState wrote
func (s *LocalStorage) LoadMarketState(ctx context.Context) (*interfaces.MarketSnapshot, error) {
	db := s.db.WithContext(ctx)
	snapshot := &interfaces.MarketSnapshot{
		Escrow: make(map[string]decimal.Decimal),
		Fees:   make(map[string]decimal.Decimal),
	}

	var dbOptions []*models.DBOption
	if err := db.Order("option_id ASC").Find(&dbOptions).Error; err != nil {
		return nil, fmt.Errorf("failed to get options: %w", err)
	}
	for _, row := range dbOptions {
		o, err := dbToOption(row)
		if err != nil {
			return nil, err
		}
		snapshot.Options = append(snapshot.Options, o)
	}

	var dbTrades []*models.DBTrade
	if err := db.Order("trade_id ASC").Find(&dbTrades).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	for _, row := range dbTrades {
		t, err := dbToTrade(row)
		if err != nil {
			return nil, err
		}
		snapshot.Trades = append(snapshot.Trades, t)
	}

	var dbEvents []*models.DBEvent
	if err := db.Order("seq ASC").Find(&dbEvents).Error; err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	for _, row := range dbEvents {
		e, err := dbToEvent(row)
		if err != nil {
			return nil, err
		}
		snapshot.Events = append(snapshot.Events, e)
	}

	var totals []*models.DBLedgerTotal
	if err := db.Find(&totals).Error; err != nil {
		return nil, fmt.Errorf("failed to get ledger totals: %w", err)
	}
	for _, row := range totals {
		switch row.Ledger {
		case models.LedgerEscrow:
			snapshot.Escrow[row.Token] = row.Amount
		case models.LedgerFees:
			snapshot.Fees[row.Token] = row.Amount
		}
	}

	s.logger.WithFields(logrus.Fields{
		"options": len(snapshot.Options),
		"trades":  len(snapshot.Trades),
		"events":  len(snapshot.Events),
	}).Info("Loaded market state from database")

	return snapshot, nil
}

// SaveTokenBalances upserts the given balances of one token
func (s *LocalStorage) SaveTokenBalances(ctx context.Context, token string, balances map[string]decimal.Decimal) error {
	if len(balances) == 0 {
		return nil
	}

	rows := make([]*models.DBTokenBalance, 0, len(balances))
	for account, amount := range balances {
		rows = append(rows, &models.DBTokenBalance{Token: token, Account: account, Amount: amount})
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}, {Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&rows)
	if result.Error != nil {
		return fmt.Errorf("failed to save token balances: %w", result.Error)
	}
	return nil
}

// SaveTokenAllowance upserts one allowance
func (s *LocalStorage) SaveTokenAllowance(ctx context.Context, token, owner, spender string, amount decimal.Decimal) error {
	row := &models.DBTokenAllowance{Token: token, Owner: owner, Spender: spender, Amount: amount}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}, {Name: "owner"}, {Name: "spender"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("failed to save token allowance: %w", result.Error)
	}
	return nil
}

// LoadTokenLedger reads all balances and allowances of one token
func (s *LocalStorage) LoadTokenLedger(ctx context.Context, token string) (*interfaces.TokenLedger, error) {
	db := s.db.WithContext(ctx)
	ledger := &interfaces.TokenLedger{
		Balances:   make(map[string]decimal.Decimal),
		Allowances: make(map[string]map[string]decimal.Decimal),
	}

	var balances []*models.DBTokenBalance
	if err := db.Where("token = ?", token).Find(&balances).Error; err != nil {
		return nil, fmt.Errorf("failed to get token balances: %w", err)
	}
	for _, b := range balances {
		ledger.Balances[b.Account] = b.Amount
	}

	var allowances []*models.DBTokenAllowance
	if err := db.Where("token = ?", token).Find(&allowances).Error; err != nil {
		return nil, fmt.Errorf("failed to get token allowances: %w", err)
	}
	for _, a := range allowances {
		if ledger.Allowances[a.Owner] == nil {
			ledger.Allowances[a.Owner] = make(map[string]decimal.Decimal)
		}
		ledger.Allowances[a.Owner][a.Spender] = a.Amount
	}

	return ledger, nil
}

// Close closes the database connection
func (s *LocalStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func optionToDB(o *interfaces.Option) *models.DBOption {
	return &models.DBOption{
		OptionID:        o.ID,
		Kind:            o.Kind.String(),
		Expiry:          o.Expiry,
		Status:          o.Status.String(),
		Writer:          o.Writer,
		Owner:           o.Owner,
		UnderlyingToken: o.UnderlyingToken,
		Amount:          o.Amount,
		StrikePrice:     o.StrikePrice,
	}
}

func dbToOption(row *models.DBOption) (*interfaces.Option, error) {
	kind, err := interfaces.ParseOptionKind(row.Kind)
	if err != nil {
		return nil, fmt.Errorf("option %d: %w", row.OptionID, err)
	}
	status, err := interfaces.ParseOptionStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("option %d: %w", row.OptionID, err)
	}

	return &interfaces.Option{
		ID:              row.OptionID,
		Kind:            kind,
		Expiry:          row.Expiry.UTC(),
		Status:          status,
		Writer:          row.Writer,
		Owner:           row.Owner,
		UnderlyingToken: row.UnderlyingToken,
		Amount:          row.Amount,
		StrikePrice:     row.StrikePrice,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

func tradeToDB(t *interfaces.Trade) *models.DBTrade {
	return &models.DBTrade{
		TradeID:  t.ID,
		Poster:   t.Poster,
		OptionID: t.OptionID,
		Premium:  t.Premium,
		Status:   t.Status.String(),
		Buyer:    t.Buyer,
	}
}

func dbToTrade(row *models.DBTrade) (*interfaces.Trade, error) {
	status, err := interfaces.ParseTradeStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("trade %d: %w", row.TradeID, err)
	}

	return &interfaces.Trade{
		ID:        row.TradeID,
		Poster:    row.Poster,
		OptionID:  row.OptionID,
		Premium:   row.Premium,
		Status:    status,
		Buyer:     row.Buyer,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func eventToDB(e *interfaces.Event) *models.DBEvent {
	row := &models.DBEvent{
		Seq:       e.Seq,
		Name:      string(e.Name),
		Topic:     e.Topic,
		OptionID:  e.OptionID,
		TradeID:   e.TradeID,
		Writer:    e.Writer,
		Buyer:     e.Buyer,
		Timestamp: e.Timestamp,
	}
	if e.Kind != 0 {
		row.Kind = e.Kind.String()
	}
	if e.Premium != nil {
		row.Premium = decimal.NewNullDecimal(*e.Premium)
	}
	return row
}

func dbToEvent(row *models.DBEvent) (*interfaces.Event, error) {
	e := &interfaces.Event{
		Seq:       row.Seq,
		Name:      interfaces.EventName(row.Name),
		Topic:     row.Topic,
		OptionID:  row.OptionID,
		TradeID:   row.TradeID,
		Writer:    row.Writer,
		Buyer:     row.Buyer,
		Timestamp: row.Timestamp.UTC(),
	}
	if row.Kind != "" {
		kind, err := interfaces.ParseOptionKind(row.Kind)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", row.Seq, err)
		}
		e.Kind = kind
	}
	if row.Premium.Valid {
		premium := row.Premium.Decimal
		e.Premium = &premium
	}
	return e, nil
}
