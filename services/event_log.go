package services

import (
	"encoding/hex"
	"options-market/interfaces"
	"sync"

	"golang.org/x/crypto/sha3"
)

// eventSignatures are the EVM-style signatures indexers key topics on
var eventSignatures = map[interfaces.EventName]string{
	interfaces.EventOptionWritten:  "OptionWritten(uint256,address,bytes32)",
	interfaces.EventTradeOpened:    "TradeOpened(uint256,uint256,uint256)",
	interfaces.EventTradeExecuted:  "TradeExecuted(uint256,uint256,address)",
	interfaces.EventTradeCancelled: "TradeCancelled(uint256)",
}

// keccakHex returns the 0x-prefixed Keccak-256 digest of data
func keccakHex(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// EventTopic returns the topic hash for an event name
func EventTopic(name interfaces.EventName) string {
	sig, ok := eventSignatures[name]
	if !ok {
		sig = string(name)
	}
	return keccakHex([]byte(sig))
}

// DeriveAddress derives a deterministic 20-byte account address from a label
func DeriveAddress(label string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(label))
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

// EventLog is the append-only sequence of domain events
type EventLog struct {
	events  []*interfaces.Event
	nextSeq uint64
	mu      sync.RWMutex
}

func NewEventLog() *EventLog {
	return &EventLog{nextSeq: 1}
}

// stage assigns sequence numbers and topics to events of an in-flight operation.
// The caller holds the market write lock, so staged sequences cannot interleave.
func (l *EventLog) stage(events []*interfaces.Event) {
	l.mu.RLock()
	seq := l.nextSeq
	l.mu.RUnlock()

	for _, e := range events {
		e.Seq = seq
		e.Topic = EventTopic(e.Name)
		seq++
	}
}

// append publishes staged events to readers
func (l *EventLog) append(events []*interfaces.Event) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, events...)
	l.nextSeq = events[len(events)-1].Seq + 1
}

// restore loads persisted events in sequence order
func (l *EventLog) restore(events []*interfaces.Event) {
	l.append(events)
}

// Replay returns copies of events matching filter in sequence order
func (l *EventLog) Replay(filter interfaces.EventFilter) []*interfaces.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*interfaces.Event, 0)
	for _, e := range l.events {
		if !filter.Matches(e) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Head returns the sequence of the latest event, 0 when empty
func (l *EventLog) Head() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextSeq - 1
}
