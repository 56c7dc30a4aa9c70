package database

import (
	"context"
	"options-market/interfaces"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	storage, err := NewLocalStorage(filepath.Join(t.TempDir(), "nested", "market.db"))
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestCommitAndLoadMarketState(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	expiry := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	option := &interfaces.Option{
		ID:              0,
		Kind:            interfaces.Put,
		Expiry:          expiry,
		Status:          interfaces.OptionNone,
		Writer:          "0xa11ce",
		Owner:           "0xa11ce",
		UnderlyingToken: "0xweth",
		Amount:          decimal.NewFromInt(10),
		StrikePrice:     decimal.RequireFromString("20.5"),
	}
	trade := &interfaces.Trade{
		ID:       0,
		Poster:   "0xa11ce",
		OptionID: 0,
		Premium:  decimal.NewFromInt(200),
		Status:   interfaces.TradeOpen,
	}
	tradeID := uint64(0)
	premium := decimal.NewFromInt(200)

	err := storage.CommitMarketState(ctx, &interfaces.StateChange{
		Options: []*interfaces.Option{option},
		Trades:  []*interfaces.Trade{trade},
		Events: []*interfaces.Event{
			{Seq: 1, Name: interfaces.EventOptionWritten, Topic: "0x01", OptionID: 0, Writer: "0xa11ce", Kind: interfaces.Put, Timestamp: expiry},
			{Seq: 2, Name: interfaces.EventTradeOpened, Topic: "0x02", OptionID: 0, TradeID: &tradeID, Premium: &premium, Timestamp: expiry},
		},
		Escrow: map[string]decimal.Decimal{"0xusdc": decimal.NewFromInt(205)},
	})
	if err != nil {
		t.Fatalf("CommitMarketState: %v", err)
	}

	// second commit resolves the same rows
	option.Status = interfaces.OptionExercised
	option.Owner = "0xb0b"
	trade.Status = interfaces.TradeClosed
	trade.Buyer = "0xb0b"
	err = storage.CommitMarketState(ctx, &interfaces.StateChange{
		Options: []*interfaces.Option{option},
		Trades:  []*interfaces.Trade{trade},
		Escrow:  map[string]decimal.Decimal{"0xusdc": decimal.Zero},
		Fees:    map[string]decimal.Decimal{"0xusdc": decimal.NewFromInt(6)},
	})
	if err != nil {
		t.Fatalf("CommitMarketState update: %v", err)
	}

	snapshot, err := storage.LoadMarketState(ctx)
	if err != nil {
		t.Fatalf("LoadMarketState: %v", err)
	}

	if len(snapshot.Options) != 1 {
		t.Fatalf("options: got %d, want 1", len(snapshot.Options))
	}
	got := snapshot.Options[0]
	if got.Status != interfaces.OptionExercised || got.Owner != "0xb0b" || got.Kind != interfaces.Put {
		t.Fatalf("option: %+v", got)
	}
	if !got.Expiry.Equal(expiry) || !got.StrikePrice.Equal(decimal.RequireFromString("20.5")) {
		t.Fatalf("option terms changed: %+v", got)
	}

	if len(snapshot.Trades) != 1 || snapshot.Trades[0].Status != interfaces.TradeClosed || snapshot.Trades[0].Buyer != "0xb0b" {
		t.Fatalf("trades: %+v", snapshot.Trades)
	}

	if len(snapshot.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(snapshot.Events))
	}
	if snapshot.Events[0].Kind != interfaces.Put || snapshot.Events[0].Premium != nil {
		t.Fatalf("written event: %+v", snapshot.Events[0])
	}
	opened := snapshot.Events[1]
	if opened.TradeID == nil || *opened.TradeID != 0 || opened.Premium == nil || !opened.Premium.Equal(premium) {
		t.Fatalf("opened event: %+v", opened)
	}

	if !snapshot.Escrow["0xusdc"].IsZero() {
		t.Fatalf("escrow: got %s, want 0", snapshot.Escrow["0xusdc"])
	}
	if !snapshot.Fees["0xusdc"].Equal(decimal.NewFromInt(6)) {
		t.Fatalf("fees: got %s, want 6", snapshot.Fees["0xusdc"])
	}
}

func TestCommitEmptyChangeIsNoop(t *testing.T) {
	storage := newTestStorage(t)
	if err := storage.CommitMarketState(context.Background(), &interfaces.StateChange{}); err != nil {
		t.Fatalf("empty commit: %v", err)
	}
	if err := storage.CommitMarketState(context.Background(), nil); err != nil {
		t.Fatalf("nil commit: %v", err)
	}
}

func TestTokenLedgerUpserts(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	storage.SaveTokenBalances(ctx, "0xusdc", map[string]decimal.Decimal{
		"0xa11ce": decimal.NewFromInt(100),
		"0xb0b":   decimal.NewFromInt(5),
	})
	storage.SaveTokenBalances(ctx, "0xusdc", map[string]decimal.Decimal{
		"0xa11ce": decimal.NewFromInt(70),
	})
	storage.SaveTokenBalances(ctx, "0xweth", map[string]decimal.Decimal{
		"0xa11ce": decimal.NewFromInt(1),
	})
	storage.SaveTokenAllowance(ctx, "0xusdc", "0xa11ce", "0xengine", decimal.NewFromInt(50))
	storage.SaveTokenAllowance(ctx, "0xusdc", "0xa11ce", "0xengine", decimal.NewFromInt(20))

	ledger, err := storage.LoadTokenLedger(ctx, "0xusdc")
	if err != nil {
		t.Fatalf("LoadTokenLedger: %v", err)
	}
	if len(ledger.Balances) != 2 {
		t.Fatalf("balances: got %v", ledger.Balances)
	}
	if !ledger.Balances["0xa11ce"].Equal(decimal.NewFromInt(70)) {
		t.Fatalf("alice: got %s, want 70", ledger.Balances["0xa11ce"])
	}
	if !ledger.Allowances["0xa11ce"]["0xengine"].Equal(decimal.NewFromInt(20)) {
		t.Fatalf("allowance: got %s, want 20", ledger.Allowances["0xa11ce"]["0xengine"])
	}
}
