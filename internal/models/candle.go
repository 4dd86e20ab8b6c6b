package models

import (
	"time"

	"github.com/shopspring/decimal"

	"pollmarket/internal/market"
)

// Candle caches one OHLC window per (market, window start), filled by the
// ingest job. Settlement prefers this cache and falls back to the upstream
// gateway on a miss.
type Candle struct {
	ID          uint64        `gorm:"primaryKey;autoIncrement"`
	Market      market.Market `gorm:"type:varchar(20);not null;uniqueIndex:idx_candle_market_start"`
	WindowStart time.Time     `gorm:"type:timestamptz;not null;uniqueIndex:idx_candle_market_start;index"`

	Open  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	High  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Low   decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Close decimal.Decimal `gorm:"type:numeric(20,2);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Candle) TableName() string {
	return "candles"
}
