package models

import (
	"time"

	"github.com/shopspring/decimal"

	"pollmarket/internal/market"
)

// Poll is one round of a market's prediction poll: a single price window
// participants bet long or short on. Rows are created lazily on the first
// bet for a (market, window) pair.
//
// SettledAt is write-once: it is only ever set by settlement, through a
// conditional update, and never cleared. Aggregate totals track active votes
// only.
type Poll struct {
	ID     string        `gorm:"primaryKey;type:varchar(36)"`
	Market market.Market `gorm:"type:varchar(20);not null;uniqueIndex:idx_poll_market_window"`

	// PollDate is the civil date the poll belongs to; WindowStart is the
	// exact UTC open of its price window.
	PollDate    string    `gorm:"type:varchar(10);not null;index"`
	WindowStart time.Time `gorm:"type:timestamptz;not null;uniqueIndex:idx_poll_market_window"`

	LongTotal  decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	ShortTotal decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	LongCount  int             `gorm:"not null;default:0"`
	ShortCount int             `gorm:"not null;default:0"`

	// Reference prices, null until known.
	OpenPrice  *decimal.Decimal `gorm:"type:numeric(20,2)"`
	ClosePrice *decimal.Decimal `gorm:"type:numeric(20,2)"`

	SettledAt *time.Time `gorm:"type:timestamptz;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Poll) TableName() string {
	return "polls"
}

func (p *Poll) Settled() bool {
	return p.SettledAt != nil
}
