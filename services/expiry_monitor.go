package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ExpiryMonitor periodically retires listings on options that can no longer be exercised
type ExpiryMonitor struct {
	market   *OptionsMarket
	interval time.Duration
	logger   *logrus.Logger
}

// NewExpiryMonitor creates a monitor sweeping market every interval
func NewExpiryMonitor(market *OptionsMarket, interval time.Duration) *ExpiryMonitor {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &ExpiryMonitor{
		market:   market,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is cancelled
func (em *ExpiryMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(em.interval)
	defer ticker.Stop()

	em.logger.WithField("interval", em.interval).Info("Expiry monitoring started")

	for {
		select {
		case <-ctx.Done():
			em.logger.Info("Expiry monitoring stopped")
			return nil
		case <-ticker.C:
			em.sweep(ctx)
		}
	}
}

func (em *ExpiryMonitor) sweep(ctx context.Context) {
	cancelled, uncollected, err := em.market.SweepExpired(ctx)
	if err != nil {
		em.logger.WithError(err).Error("Failed to sweep expired options")
		return
	}
	if cancelled == 0 && len(uncollected) == 0 {
		return
	}

	em.logger.WithFields(logrus.Fields{
		"trades_cancelled":    cancelled,
		"expired_uncollected": len(uncollected),
	}).Info("Expiry sweep completed")
}
