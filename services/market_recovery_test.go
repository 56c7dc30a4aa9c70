package services

import (
	"context"
	"options-market/database"
	"options-market/interfaces"
	"path/filepath"
	"testing"
)

func TestMarketSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "market.db")

	storage, err := database.NewLocalStorage(dbPath)
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	tm := newTestMarketWithStore(t, storage, NewLedgerTokens(storage))
	tm.fund(t, testWETH, alice, 20)
	tm.fund(t, testUSDC, bob, 1000)

	sold := tm.writeCall(t, alice, 10, 20)
	listed := tm.writeCall(t, alice, 10, 30)
	trade, _ := tm.OpenTrade(ctx, sold.ID, d(200), alice)
	if _, err := tm.ExecuteTrade(ctx, trade.ID, bob); err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	open, _ := tm.OpenTrade(ctx, listed.ID, d(50), alice)
	head := tm.EventHead()

	tm.Close()
	if err := storage.Close(); err != nil {
		t.Fatalf("close storage: %v", err)
	}

	storage, err = database.NewLocalStorage(dbPath)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	defer storage.Close()
	restarted := newTestMarketWithStore(t, storage, NewLedgerTokens(storage))

	if got := restarted.EventHead(); got != head {
		t.Fatalf("event head: got %d, want %d", got, head)
	}
	if owner, _ := restarted.GetOptionOwner(sold.ID); owner != bob {
		t.Fatalf("owner: got %q, want %q", owner, bob)
	}
	if got, _ := restarted.GetTrade(trade.ID); got.Status != interfaces.TradeClosed || got.Buyer != bob {
		t.Fatalf("executed trade: got status %s buyer %q", got.Status, got.Buyer)
	}
	if got, _ := restarted.GetTrade(open.ID); got.Status != interfaces.TradeOpen || !got.Premium.Equal(d(50)) {
		t.Fatalf("open trade: got status %s premium %s", got.Status, got.Premium)
	}
	if got := restarted.Custody(testWETH); !got.Equal(d(20)) {
		t.Fatalf("custody: got %s, want 20", got)
	}
	if got := restarted.FeeBalance(); !got.Equal(d(6)) {
		t.Fatalf("fees: got %s, want 6", got)
	}
	restarted.expectBalance(t, testUSDC, alice, 194)
	restarted.expectBalance(t, testUSDC, bob, 800)
	restarted.expectBalance(t, testWETH, testEngine, 20)

	option, err := restarted.GetOption(listed.ID)
	if err != nil {
		t.Fatalf("GetOption: %v", err)
	}
	if !option.Expiry.Equal(listed.Expiry) || !option.StrikePrice.Equal(d(30)) || option.Kind != interfaces.Call {
		t.Fatalf("restored option: %+v", option)
	}

	// counters continue where they left off
	restarted.fund(t, testWETH, carol, 1)
	next := restarted.writeCall(t, carol, 1, 1)
	if next.ID != 2 {
		t.Fatalf("next option id: got %d, want 2", next.ID)
	}
	events := restarted.Events(interfaces.EventFilter{FromSeq: head + 1})
	if len(events) != 1 || events[0].Seq != head+1 {
		t.Fatalf("events after restart: %+v", events)
	}

	// bob can still exercise after the restart
	if _, err := restarted.ExerciseOption(ctx, sold.ID, bob); err != nil {
		t.Fatalf("ExerciseOption after restart: %v", err)
	}
	restarted.expectBalance(t, testWETH, bob, 10)
}
