package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"options-market/interfaces"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestKafkaPublisherKeysByOption(t *testing.T) {
	writer := &fakeWriter{}
	pub := newKafkaPublisher(writer, "events", quietLogger())

	tradeID := uint64(3)
	e := &interfaces.Event{
		Seq:       12,
		Name:      interfaces.EventTradeExecuted,
		Topic:     EventTopic(interfaces.EventTradeExecuted),
		OptionID:  42,
		TradeID:   &tradeID,
		Buyer:     bob,
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := pub.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("messages: got %d, want 1", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "42" {
		t.Fatalf("key: got %q, want 42", msg.Key)
	}
	headers := make(map[string]string)
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event"] != "TradeExecuted" || headers["seq"] != "12" || headers["topic"] != e.Topic {
		t.Fatalf("headers: %v", headers)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if decoded["buyer"] != bob || decoded["name"] != "TradeExecuted" {
		t.Fatalf("value: %v", decoded)
	}

	pub.Close()
	if !writer.closed {
		t.Fatalf("writer not closed")
	}
}

func TestKafkaPublisherReturnsWriteErrors(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	pub := newKafkaPublisher(writer, "events", quietLogger())

	if err := pub.Publish(context.Background(), &interfaces.Event{Seq: 1}); err == nil {
		t.Fatalf("expected write error")
	}
}

func TestNewKafkaPublisherRequiresBrokersAndTopic(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "events"}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error without topic")
	}
}
