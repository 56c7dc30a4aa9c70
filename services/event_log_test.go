package services

import (
	"options-market/interfaces"
	"strings"
	"testing"
)

func TestKeccakMatchesEVM(t *testing.T) {
	// topic0 of the ERC20 Transfer event
	got := keccakHex([]byte("Transfer(address,address,uint256)"))
	want := "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestEventTopicsAreDistinct(t *testing.T) {
	seen := make(map[string]interfaces.EventName)
	for name := range eventSignatures {
		topic := EventTopic(name)
		if len(topic) != 66 || !strings.HasPrefix(topic, "0x") {
			t.Fatalf("%s topic malformed: %s", name, topic)
		}
		if other, ok := seen[topic]; ok {
			t.Fatalf("%s and %s share topic %s", name, other, topic)
		}
		seen[topic] = name
	}
}

func TestDeriveAddress(t *testing.T) {
	a := DeriveAddress("options-market")
	if len(a) != 42 || !strings.HasPrefix(a, "0x") {
		t.Fatalf("malformed address %s", a)
	}
	if a != DeriveAddress("options-market") {
		t.Fatalf("derivation is not deterministic")
	}
	if a == DeriveAddress("options-market-2") {
		t.Fatalf("different labels derived the same address")
	}
}

func TestEventLogStageAndReplay(t *testing.T) {
	log := NewEventLog()
	if log.Head() != 0 {
		t.Fatalf("empty head: got %d, want 0", log.Head())
	}

	batch := []*interfaces.Event{
		{Name: interfaces.EventOptionWritten, OptionID: 0},
		{Name: interfaces.EventOptionWritten, OptionID: 1},
	}
	log.stage(batch)
	if batch[0].Seq != 1 || batch[1].Seq != 2 {
		t.Fatalf("staged seqs: got %d,%d, want 1,2", batch[0].Seq, batch[1].Seq)
	}
	// staged events are invisible until appended
	if got := log.Replay(interfaces.EventFilter{}); len(got) != 0 {
		t.Fatalf("replay before append: got %d events", len(got))
	}

	log.append(batch)
	if log.Head() != 2 {
		t.Fatalf("head: got %d, want 2", log.Head())
	}

	replayed := log.Replay(interfaces.EventFilter{})
	replayed[0].OptionID = 99
	if again := log.Replay(interfaces.EventFilter{}); again[0].OptionID != 0 {
		t.Fatalf("replay returned shared events")
	}

	next := []*interfaces.Event{{Name: interfaces.EventTradeCancelled}}
	log.stage(next)
	if next[0].Seq != 3 {
		t.Fatalf("next seq: got %d, want 3", next[0].Seq)
	}
}

func TestEventFilterMatches(t *testing.T) {
	tradeID := uint64(4)
	otherTrade := uint64(5)
	optionID := uint64(2)
	e := &interfaces.Event{
		Seq:      7,
		Name:     interfaces.EventTradeExecuted,
		OptionID: 2,
		TradeID:  &tradeID,
		Buyer:    "0xb0b",
	}

	tests := []struct {
		name   string
		filter interfaces.EventFilter
		want   bool
	}{
		{"empty", interfaces.EventFilter{}, true},
		{"from before", interfaces.EventFilter{FromSeq: 7}, true},
		{"from after", interfaces.EventFilter{FromSeq: 8}, false},
		{"name", interfaces.EventFilter{Name: interfaces.EventTradeExecuted}, true},
		{"other name", interfaces.EventFilter{Name: interfaces.EventTradeOpened}, false},
		{"buyer any case", interfaces.EventFilter{Buyer: "0xB0B"}, true},
		{"writer", interfaces.EventFilter{Writer: "0xa11ce"}, false},
		{"option", interfaces.EventFilter{OptionID: &optionID}, true},
		{"trade", interfaces.EventFilter{TradeID: &tradeID}, true},
		{"other trade", interfaces.EventFilter{TradeID: &otherTrade}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.Matches(e); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
