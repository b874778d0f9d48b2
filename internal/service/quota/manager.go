// Package quota guards the daily YouTube Data API budget.
package quota

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/db/repository"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// ErrExhausted is returned by Reserve when the threshold would be crossed.
// Callers treat it as transient: the budget resets the next day.
var ErrExhausted = errors.New("youtube api quota exhausted")

// Manager handles YouTube API quota management
type Manager struct {
	repo             repository.QuotaRepository
	dailyLimit       int
	thresholdPercent int // Stop processing when this % of quota is used
}

// NewManager creates a new quota manager
func NewManager(repo repository.QuotaRepository, dailyLimit int, thresholdPercent int) *Manager {
	if dailyLimit <= 0 {
		dailyLimit = 10000 // YouTube API v3 default
	}
	if thresholdPercent <= 0 || thresholdPercent > 100 {
		thresholdPercent = 90
	}

	return &Manager{
		repo:             repo,
		dailyLimit:       dailyLimit,
		thresholdPercent: thresholdPercent,
	}
}

func (m *Manager) threshold() int {
	return (m.dailyLimit * m.thresholdPercent) / 100
}

// CheckQuotaAvailable reports whether requiredQuota fits under the threshold.
func (m *Manager) CheckQuotaAvailable(ctx context.Context, requiredQuota int) (bool, *models.QuotaInfo, error) {
	info, err := m.repo.GetTodaysQuota(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to get quota info: %w", err)
	}

	if info.QuotaUsed+requiredQuota > m.threshold() {
		logger.Log.Warn("Quota threshold reached",
			zap.Int("used", info.QuotaUsed),
			zap.Int("required", requiredQuota),
			zap.Int("threshold", m.threshold()),
			zap.Int("dailyLimit", m.dailyLimit),
		)
		return false, info, nil
	}

	return true, info, nil
}

// Reserve checks the budget and records cost against operationType in one
// step. It returns ErrExhausted when the call must not be made.
func (m *Manager) Reserve(ctx context.Context, cost int, operationType string) error {
	ok, _, err := m.CheckQuotaAvailable(ctx, cost)
	if err != nil {
		return err
	}
	if !ok {
		return ErrExhausted
	}
	return m.RecordQuotaUsage(ctx, cost, operationType)
}

// RecordQuotaUsage records API quota usage
func (m *Manager) RecordQuotaUsage(ctx context.Context, quotaCost int, operationType string) error {
	if err := m.repo.IncrementQuota(ctx, quotaCost, operationType); err != nil {
		return fmt.Errorf("failed to record quota usage: %w", err)
	}

	logger.Log.Debug("Recorded quota usage",
		zap.Int("cost", quotaCost),
		zap.String("operation", operationType),
	)

	return nil
}

// GetQuotaInfo returns current quota information
func (m *Manager) GetQuotaInfo(ctx context.Context) (*models.QuotaInfo, error) {
	return m.repo.GetTodaysQuota(ctx)
}

// GetRemainingQuota returns how much quota is remaining before threshold
func (m *Manager) GetRemainingQuota(ctx context.Context) (int, error) {
	info, err := m.repo.GetTodaysQuota(ctx)
	if err != nil {
		return 0, err
	}

	remaining := m.threshold() - info.QuotaUsed
	if remaining < 0 {
		return 0, nil
	}

	return remaining, nil
}
