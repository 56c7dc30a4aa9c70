package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"options-market/interfaces"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const journalDateLayout = "2006-01-02"

// EventJournal writes committed market events to one JSON file per UTC day
type EventJournal struct {
	logger     *logrus.Logger
	logDir     string
	currentLog *DailyJournal
	mu         sync.Mutex
}

// DailyJournal is a day's worth of market activity
type DailyJournal struct {
	Date     string              `json:"date"`
	FirstSeq uint64              `json:"first_seq"`
	LastSeq  uint64              `json:"last_seq"`
	Summary  JournalSummary      `json:"summary"`
	Events   []*interfaces.Event `json:"events"`
}

// JournalSummary provides per-day totals
type JournalSummary struct {
	OptionsWritten  int             `json:"options_written"`
	CallsWritten    int             `json:"calls_written"`
	PutsWritten     int             `json:"puts_written"`
	TradesOpened    int             `json:"trades_opened"`
	TradesExecuted  int             `json:"trades_executed"`
	TradesCancelled int             `json:"trades_cancelled"`
	PremiumListed   decimal.Decimal `json:"premium_listed"`
}

// NewEventJournal creates a journal under logDir
func NewEventJournal(logDir string) (*EventJournal, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	return &EventJournal{
		logger: logger,
		logDir: logDir,
	}, nil
}

// Publish implements interfaces.EventPublisher
func (ej *EventJournal) Publish(ctx context.Context, e *interfaces.Event) error {
	ej.mu.Lock()
	defer ej.mu.Unlock()

	date := e.Timestamp.UTC().Format(journalDateLayout)
	if ej.currentLog == nil || ej.currentLog.Date != date {
		log, err := ej.readLog(date)
		switch {
		case err == nil:
			ej.currentLog = log
		case errors.Is(err, os.ErrNotExist):
			ej.currentLog = &DailyJournal{
				Date:   date,
				Events: make([]*interfaces.Event, 0),
			}
		default:
			return err
		}
	}

	// replays after a restart may hand us events we already wrote
	if e.Seq <= ej.currentLog.LastSeq {
		return nil
	}

	ej.currentLog.record(e)

	ej.logger.WithFields(logrus.Fields{
		"seq":       e.Seq,
		"event":     e.Name,
		"option_id": e.OptionID,
	}).Debug("Event journaled")

	return ej.saveLog()
}

func (d *DailyJournal) record(e *interfaces.Event) {
	if d.FirstSeq == 0 {
		d.FirstSeq = e.Seq
	}
	d.LastSeq = e.Seq
	d.Events = append(d.Events, e)

	switch e.Name {
	case interfaces.EventOptionWritten:
		d.Summary.OptionsWritten++
		if e.Kind == interfaces.Call {
			d.Summary.CallsWritten++
		} else if e.Kind == interfaces.Put {
			d.Summary.PutsWritten++
		}
	case interfaces.EventTradeOpened:
		d.Summary.TradesOpened++
		if e.Premium != nil {
			d.Summary.PremiumListed = d.Summary.PremiumListed.Add(*e.Premium)
		}
	case interfaces.EventTradeExecuted:
		d.Summary.TradesExecuted++
	case interfaces.EventTradeCancelled:
		d.Summary.TradesCancelled++
	}
}

// GetLogForDate retrieves the journal for a YYYY-MM-DD date
func (ej *EventJournal) GetLogForDate(date string) (*DailyJournal, error) {
	if _, err := time.Parse(journalDateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	ej.mu.Lock()
	defer ej.mu.Unlock()

	log, err := ej.readLog(date)
	if err != nil {
		return nil, fmt.Errorf("journal not found for date %s: %w", date, err)
	}
	return log, nil
}

// ListAvailableLogs returns every journaled date, oldest first
func (ej *EventJournal) ListAvailableLogs() ([]string, error) {
	files, err := os.ReadDir(ej.logDir)
	if err != nil {
		return nil, err
	}

	dates := make([]string, 0)
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "journal_") || filepath.Ext(name) != ".json" {
			continue
		}
		dates = append(dates, strings.TrimSuffix(strings.TrimPrefix(name, "journal_"), ".json"))
	}
	sort.Strings(dates)
	return dates, nil
}

func (ej *EventJournal) filename(date string) string {
	return filepath.Join(ej.logDir, fmt.Sprintf("journal_%s.json", date))
}

func (ej *EventJournal) readLog(date string) (*DailyJournal, error) {
	data, err := os.ReadFile(ej.filename(date))
	if err != nil {
		return nil, err
	}

	var log DailyJournal
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to parse journal: %w", err)
	}
	return &log, nil
}

// saveLog writes the current day through a temp file so readers never see a partial document
func (ej *EventJournal) saveLog() error {
	data, err := json.MarshalIndent(ej.currentLog, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	target := ej.filename(ej.currentLog.Date)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write journal file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to write journal file: %w", err)
	}
	return nil
}
