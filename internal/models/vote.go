package models

import (
	"time"

	"github.com/shopspring/decimal"

	"pollmarket/internal/market"
)

// VoteStatus distinguishes live stakes from cancelled ones. Cancelled votes
// keep their row (and their last stake/side) so re-betting reuses it and
// history queries can tell "never bet" from "bet and backed out".
type VoteStatus string

const (
	VoteActive    VoteStatus = "active"
	VoteCancelled VoteStatus = "cancelled"
)

// Vote is one user's current stake in one poll. At most one row exists per
// (poll, user); re-betting overwrites side and stake in place.
type Vote struct {
	ID     string        `gorm:"primaryKey;type:varchar(36)"`
	PollID string        `gorm:"type:varchar(36);not null;uniqueIndex:idx_vote_poll_user"`
	UserID string        `gorm:"type:varchar(64);not null;uniqueIndex:idx_vote_poll_user;index"`
	Market market.Market `gorm:"type:varchar(20);not null;index"`

	Side   market.Side     `gorm:"type:varchar(8);not null"`
	Stake  decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	Status VoteStatus      `gorm:"type:varchar(12);not null;default:'active';index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Vote) TableName() string {
	return "votes"
}

func (v *Vote) Active() bool {
	return v.Status == VoteActive && v.Stake.IsPositive()
}
