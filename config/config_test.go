package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newTestViper(overrides map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(newTestViper(map[string]any{"market.trade_currency": "0xUSDC"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http.addr: got %s", cfg.HTTP.Addr)
	}
	if cfg.Market.FeePercent != 3 {
		t.Errorf("fee percent: got %d, want 3", cfg.Market.FeePercent)
	}
	if cfg.Market.SweepInterval != 30*time.Second {
		t.Errorf("sweep interval: got %s", cfg.Market.SweepInterval)
	}
	if cfg.Kafka.Enabled || !cfg.Journal.Enabled {
		t.Errorf("publishers: kafka %v journal %v", cfg.Kafka.Enabled, cfg.Journal.Enabled)
	}
	if cfg.Market.Faucet {
		t.Errorf("faucet enabled by default")
	}
}

func TestLoadSplitsCommaLists(t *testing.T) {
	cfg, err := load(newTestViper(map[string]any{
		"market.trade_currency": "0xusdc",
		"market.tokens":         "0xweth, 0xwbtc,,",
		"kafka.enabled":         true,
		"kafka.brokers":         []string{"a:9092,b:9092"},
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(cfg.Market.Tokens, "|") != "0xweth|0xwbtc" {
		t.Fatalf("tokens: got %v", cfg.Market.Tokens)
	}
	if strings.Join(cfg.Kafka.Brokers, "|") != "a:9092|b:9092" {
		t.Fatalf("brokers: got %v", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{"missing trade currency", map[string]any{"market.trade_currency": ""}, "trade_currency"},
		{"fee above 100", map[string]any{"market.fee_percent": 101}, "fee_percent"},
		{"negative fee", map[string]any{"market.fee_percent": -1}, "fee_percent"},
		{"zero unit size", map[string]any{"market.units_per_option": 0}, "unit sizes"},
		{"no engine identity", map[string]any{"market.engine_label": ""}, "engine_address"},
		{"kafka without brokers", map[string]any{"kafka.enabled": true}, "kafka.brokers"},
		{"journal without dir", map[string]any{"journal.dir": ""}, "journal.dir"},
		{"bad log level", map[string]any{"log.level": "loud"}, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overrides := map[string]any{"market.trade_currency": "0xusdc"}
			for k, v := range tt.overrides {
				overrides[k] = v
			}

			_, err := load(newTestViper(overrides))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestAllTokens(t *testing.T) {
	m := MarketConfig{
		TradeCurrency: "0xUSDC",
		Tokens:        []string{"0xweth", "0xusdc", " 0xWETH ", ""},
	}
	got := m.AllTokens()
	if strings.Join(got, "|") != "0xusdc|0xweth" {
		t.Fatalf("AllTokens: got %v", got)
	}
}
