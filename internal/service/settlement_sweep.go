package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pollmarket/internal/calendar"
	"pollmarket/internal/config"
	"pollmarket/internal/market"
	"pollmarket/internal/repository"
)

// SettlementSweepService walks the recently closed windows of every market
// and triggers settlement for each. Idempotent outcomes make the sweep
// freely re-runnable: settled and missing polls report as no-ops and
// unsettleable ones are retried on the next pass.
type SettlementSweepService struct {
	Repo       repository.Repository
	Settlement *SettlementService
	Config     config.SettlementConfig
	Logger     *zap.Logger
	Flags      *SystemSettingsService
}

func (s *SettlementSweepService) RunOnceIfEnabled(ctx context.Context) error {
	if s != nil && s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureSettlementSweep, true) {
		return nil
	}
	return s.RunOnce(ctx)
}

func (s *SettlementSweepService) RunOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Settlement == nil {
		return nil
	}
	windows := s.Config.SweepWindows
	if windows <= 0 || windows > 200 {
		windows = 4
	}
	now := time.Now()
	settled := 0
	for _, m := range market.All() {
		for _, start := range calendar.RecentWindowStarts(m, windows, now) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res, err := s.Settlement.Settle(ctx, m, start)
			if err != nil {
				if s.Logger != nil {
					s.Logger.Warn("sweep settle failed",
						zap.String("market", string(m)),
						zap.Time("window_start", start),
						zap.Error(err))
				}
				continue
			}
			switch res.Outcome {
			case OutcomeSettled, OutcomeInvalidRefund, OutcomeOneSideRefund, OutcomeDrawRefund:
				settled++
			}
		}
	}
	if settled > 0 && s.Logger != nil {
		s.Logger.Info("settlement sweep done", zap.Int("settled", settled))
	}
	return nil
}
