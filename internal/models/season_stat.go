package models

import (
	"time"

	"github.com/shopspring/decimal"

	"pollmarket/internal/market"
	"pollmarket/internal/season"
)

// SeasonStat is the denormalized per-(user, group, season) ranking snapshot.
// It is a cache: every field can be recomputed from polls, votes, payouts
// and the user's balance, so upserts are last-write-wins.
type SeasonStat struct {
	ID       uint64       `gorm:"primaryKey;autoIncrement"`
	UserID   string       `gorm:"type:varchar(64);not null;uniqueIndex:idx_season_stat"`
	Group    market.Group `gorm:"column:market_group;type:varchar(8);not null;uniqueIndex:idx_season_stat;index"`
	SeasonID season.ID    `gorm:"type:varchar(8);not null;uniqueIndex:idx_season_stat;index"`

	Participation int             `gorm:"not null;default:0"`
	Wins          int             `gorm:"not null;default:0"`
	MMR           decimal.Decimal `gorm:"column:mmr;type:numeric(20,2);not null;default:0;index"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SeasonStat) TableName() string {
	return "season_stats"
}

// WinRate is wins over participation, zero without participation.
func (s *SeasonStat) WinRate() float64 {
	if s.Participation <= 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Participation)
}
