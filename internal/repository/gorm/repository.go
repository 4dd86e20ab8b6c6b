package gormrepository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pollmarket/internal/market"
	"pollmarket/internal/models"
	"pollmarket/internal/repository"
	"pollmarket/internal/season"
)

type Store struct {
	db *gorm.DB
}

var _ repository.Repository = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// conn returns the transaction when one is in flight, the root handle
// otherwise, so Tx methods also work standalone.
func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

// --- Polls ------------------------------------------------------------------

func (s *Store) GetPollByID(ctx context.Context, id string) (*models.Poll, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Poll
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetPollByWindow(ctx context.Context, m market.Market, windowStart time.Time) (*models.Poll, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Poll
	err := s.db.WithContext(ctx).
		Where("market = ? AND window_start = ?", m, windowStart).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreatePollTx(ctx context.Context, tx *gorm.DB, item *models.Poll) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) AdjustPollAggregatesTx(ctx context.Context, tx *gorm.DB, pollID string, delta repository.PollAggregateDelta) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.conn(ctx, tx).Model(&models.Poll{}).
		Where("id = ?", pollID).
		Updates(map[string]any{
			"long_total":  gorm.Expr("long_total + ?", delta.Long),
			"short_total": gorm.Expr("short_total + ?", delta.Short),
			"long_count":  gorm.Expr("long_count + ?", delta.LongCount),
			"short_count": gorm.Expr("short_count + ?", delta.ShortCount),
		}).Error
}

func (s *Store) SetPollPrices(ctx context.Context, pollID string, open, close decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ?", pollID).
		Updates(map[string]any{
			"open_price":  open,
			"close_price": close,
		}).Error
}

func (s *Store) MarkPollSettledTx(ctx context.Context, tx *gorm.DB, pollID string, settledAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.conn(ctx, tx).Model(&models.Poll{}).
		Where("id = ? AND settled_at IS NULL", pollID).
		Update("settled_at", settledAt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ListPollsByIDs(ctx context.Context, ids []string) ([]models.Poll, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return nil, nil
	}
	var items []models.Poll
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Votes ------------------------------------------------------------------

func (s *Store) GetVote(ctx context.Context, pollID, userID string) (*models.Vote, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Vote
	err := s.db.WithContext(ctx).
		Where("poll_id = ? AND user_id = ?", pollID, userID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveVoteTx(ctx context.Context, tx *gorm.DB, item *models.Vote) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Save(item).Error
}

func (s *Store) ListActiveVotesByPoll(ctx context.Context, pollID string) ([]models.Vote, error) {
	return s.ListActiveVotesByPolls(ctx, []string{pollID})
}

func (s *Store) ListActiveVotesByPolls(ctx context.Context, pollIDs []string) ([]models.Vote, error) {
	if s == nil || s.db == nil || len(pollIDs) == 0 {
		return nil, nil
	}
	var items []models.Vote
	err := s.db.WithContext(ctx).
		Where("poll_id IN ?", pollIDs).
		Where("status = ?", models.VoteActive).
		Where("stake > 0").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Payout ledger ----------------------------------------------------------

func (s *Store) CreatePayoutTx(ctx context.Context, tx *gorm.DB, item *models.PayoutRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) ListPayoutsByPoll(ctx context.Context, pollID string) ([]models.PayoutRecord, error) {
	return s.ListPayoutsByPolls(ctx, []string{pollID})
}

func (s *Store) ListPayoutsByPolls(ctx context.Context, pollIDs []string) ([]models.PayoutRecord, error) {
	if s == nil || s.db == nil || len(pollIDs) == 0 {
		return nil, nil
	}
	var items []models.PayoutRecord
	if err := s.db.WithContext(ctx).Where("poll_id IN ?", pollIDs).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListDistinctPayoutPollIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.PayoutRecord{}).
		Distinct("poll_id").
		Pluck("poll_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// --- Users ------------------------------------------------------------------

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return nil, nil
	}
	var items []models.User
	err := s.db.WithContext(ctx).
		Where("id IN ? AND deleted_at IS NULL", ids).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) AddUserBalanceTx(ctx context.Context, tx *gorm.DB, userID string, delta decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.conn(ctx, tx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) DebitUserBalanceTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.conn(ctx, tx).Model(&models.User{}).
		Where("id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// --- Season ranking snapshots -----------------------------------------------

func (s *Store) UpsertSeasonStat(ctx context.Context, item *models.SeasonStat) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "market_group"}, {Name: "season_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"participation",
			"wins",
			"mmr",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSeasonStat(ctx context.Context, userID string, g market.Group, sid season.ID) (*models.SeasonStat, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SeasonStat
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND market_group = ? AND season_id = ?", userID, g, sid).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSeasonStatsByUser(ctx context.Context, userID string, sid season.ID) ([]models.SeasonStat, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SeasonStat
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND season_id = ?", userID, sid).
		Order("market_group asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountRankedUsers(ctx context.Context, g market.Group, sid season.ID) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.SeasonStat{}).
		Where("market_group = ? AND season_id = ? AND mmr > 0", g, sid).
		Count(&n).Error
	return n, err
}

func (s *Store) CountUsersWithHigherMMR(ctx context.Context, g market.Group, sid season.ID, mmr decimal.Decimal) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.SeasonStat{}).
		Where("market_group = ? AND season_id = ? AND mmr > ?", g, sid, mmr).
		Count(&n).Error
	return n, err
}

func (s *Store) ListTopSeasonStats(ctx context.Context, g market.Group, sid season.ID, limit int) ([]models.SeasonStat, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 10
	}
	var items []models.SeasonStat
	err := s.db.WithContext(ctx).
		Where("market_group = ? AND season_id = ? AND mmr > 0", g, sid).
		Order("mmr desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Candle cache -----------------------------------------------------------

func (s *Store) UpsertCandles(ctx context.Context, items []models.Candle) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market"}, {Name: "window_start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"open",
			"high",
			"low",
			"close",
			"updated_at",
		}),
	}).Create(&items).Error
}

func (s *Store) GetCachedCandle(ctx context.Context, m market.Market, windowStart time.Time) (*models.Candle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Candle
	err := s.db.WithContext(ctx).
		Where("market = ? AND window_start = ?", m, windowStart).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- System settings --------------------------------------------------------

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
