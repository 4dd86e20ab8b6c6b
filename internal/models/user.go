package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User carries the engine's view of a participant: identity and the virtual
// currency balance settlement mutates. Profile fields live with the external
// account provider.
type User struct {
	ID       string          `gorm:"primaryKey;type:varchar(64)"`
	Nickname string          `gorm:"type:varchar(80)"`
	Balance  decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`

	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
	DeletedAt *time.Time `gorm:"type:timestamptz;index"`
}

func (User) TableName() string {
	return "users"
}
