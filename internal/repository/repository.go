package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pollmarket/internal/market"
	"pollmarket/internal/models"
	"pollmarket/internal/season"
)

// Repository is the storage boundary of the settlement and ranking engines.
// Lookups return (nil, nil) for missing rows; errors always mean a storage
// failure. Methods with a Tx suffix run against the supplied transaction so
// settlement can keep one transactional boundary across its balance, ledger
// and poll writes.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Polls.
	GetPollByID(ctx context.Context, id string) (*models.Poll, error)
	GetPollByWindow(ctx context.Context, m market.Market, windowStart time.Time) (*models.Poll, error)
	CreatePollTx(ctx context.Context, tx *gorm.DB, item *models.Poll) error
	AdjustPollAggregatesTx(ctx context.Context, tx *gorm.DB, pollID string, delta PollAggregateDelta) error
	SetPollPrices(ctx context.Context, pollID string, open, close decimal.Decimal) error
	// MarkPollSettledTx conditionally stamps settled_at where it is still
	// null, reporting whether this caller won the claim. Two concurrent
	// settlement triggers for one poll race on this single update.
	MarkPollSettledTx(ctx context.Context, tx *gorm.DB, pollID string, settledAt time.Time) (bool, error)
	ListPollsByIDs(ctx context.Context, ids []string) ([]models.Poll, error)

	// Votes.
	GetVote(ctx context.Context, pollID, userID string) (*models.Vote, error)
	SaveVoteTx(ctx context.Context, tx *gorm.DB, item *models.Vote) error
	ListActiveVotesByPoll(ctx context.Context, pollID string) ([]models.Vote, error)
	ListActiveVotesByPolls(ctx context.Context, pollIDs []string) ([]models.Vote, error)

	// Payout ledger: append-only.
	CreatePayoutTx(ctx context.Context, tx *gorm.DB, item *models.PayoutRecord) error
	ListPayoutsByPoll(ctx context.Context, pollID string) ([]models.PayoutRecord, error)
	ListPayoutsByPolls(ctx context.Context, pollIDs []string) ([]models.PayoutRecord, error)
	ListDistinctPayoutPollIDs(ctx context.Context) ([]string, error)

	// Users.
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	// AddUserBalanceTx applies a signed delta as a single SQL-level
	// increment, so overlapping settlements for one user cannot lose an
	// update.
	AddUserBalanceTx(ctx context.Context, tx *gorm.DB, userID string, delta decimal.Decimal) error
	// DebitUserBalanceTx takes amount off the balance only where the balance
	// still covers it, in one conditional update. Reports false when the
	// user is missing or the funds are gone; concurrent debits for one user
	// serialize on this row update instead of a read-then-write.
	DebitUserBalanceTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) (bool, error)

	// Season ranking snapshots.
	UpsertSeasonStat(ctx context.Context, item *models.SeasonStat) error
	GetSeasonStat(ctx context.Context, userID string, g market.Group, s season.ID) (*models.SeasonStat, error)
	ListSeasonStatsByUser(ctx context.Context, userID string, s season.ID) ([]models.SeasonStat, error)
	CountRankedUsers(ctx context.Context, g market.Group, s season.ID) (int64, error)
	CountUsersWithHigherMMR(ctx context.Context, g market.Group, s season.ID, mmr decimal.Decimal) (int64, error)
	ListTopSeasonStats(ctx context.Context, g market.Group, s season.ID, limit int) ([]models.SeasonStat, error)

	// Candle cache.
	UpsertCandles(ctx context.Context, items []models.Candle) error
	GetCachedCandle(ctx context.Context, m market.Market, windowStart time.Time) (*models.Candle, error)

	// System settings.
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}

// PollAggregateDelta adjusts a poll's running totals when a vote is placed,
// changed or cancelled.
type PollAggregateDelta struct {
	Long       decimal.Decimal
	Short      decimal.Decimal
	LongCount  int
	ShortCount int
}
