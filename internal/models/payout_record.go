package models

import (
	"time"

	"github.com/shopspring/decimal"

	"pollmarket/internal/market"
)

// PayoutRecord is the append-only settlement ledger: one row per
// (poll, winning user), written only by settlement and never updated or
// deleted. Its presence is the proof a user won the poll; ranking counts
// wins from it. Payout is the amount above the refunded stake, zero for
// one-sided refunds.
type PayoutRecord struct {
	ID     string        `gorm:"primaryKey;type:varchar(36)"`
	PollID string        `gorm:"type:varchar(36);not null;uniqueIndex:idx_payout_poll_user"`
	UserID string        `gorm:"type:varchar(64);not null;uniqueIndex:idx_payout_poll_user;index"`
	Market market.Market `gorm:"type:varchar(20);not null;index"`

	Stake  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Payout decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PayoutRecord) TableName() string {
	return "payouts"
}
