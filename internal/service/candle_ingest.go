package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pollmarket/internal/calendar"
	"pollmarket/internal/config"
	"pollmarket/internal/market"
	"pollmarket/internal/marketdata"
	"pollmarket/internal/models"
	"pollmarket/internal/repository"
)

// CandleIngestService pulls recently closed OHLC windows for every market
// with a price source into the candle cache, so settlement rarely has to
// hit the upstream API on the hot path.
type CandleIngestService struct {
	Repo    repository.Repository
	Candles marketdata.Gateway
	Config  config.IngestConfig
	Logger  *zap.Logger
	Flags   *SystemSettingsService
}

func (s *CandleIngestService) RunOnceIfEnabled(ctx context.Context) error {
	if s != nil && s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureCandleIngest, true) {
		return nil
	}
	return s.RunOnce(ctx)
}

func (s *CandleIngestService) RunOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Candles == nil {
		return nil
	}
	windows := s.Config.Windows
	if windows <= 0 || windows > 100 {
		windows = 4
	}
	now := time.Now()
	var firstErr error
	for _, m := range market.All() {
		if !m.HasPriceSource() {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.ingestMarket(ctx, m, windows, now); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("candle ingest failed",
					zap.String("market", string(m)), zap.Error(err))
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *CandleIngestService) ingestMarket(ctx context.Context, m market.Market, windows int, now time.Time) error {
	starts := calendar.RecentWindowStarts(m, windows, now)
	if len(starts) == 0 {
		return nil
	}
	candles, err := s.Candles.GetCandles(ctx, m, starts[0], len(starts))
	if errors.Is(err, marketdata.ErrCandleUnavailable) {
		return nil
	}
	if err != nil {
		return err
	}
	rows := make([]models.Candle, 0, len(candles))
	ts := time.Now().UTC()
	for _, c := range candles {
		rows = append(rows, models.Candle{
			Market:      m,
			WindowStart: c.Start,
			Open:        c.Open,
			High:        c.High,
			Low:         c.Low,
			Close:       c.Close,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		})
	}
	return s.Repo.UpsertCandles(ctx, rows)
}
