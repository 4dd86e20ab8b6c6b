package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pollmarket/internal/market"
	"pollmarket/internal/models"
	"pollmarket/internal/repository"
	"pollmarket/internal/season"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// It keeps enough real behavior (settled_at CAS, balance increments, payout
// uniqueness) for settlement and ranking tests to exercise the invariants.
type stubRepo struct {
	polls    map[string]*models.Poll
	votes    map[string]*models.Vote
	payouts  []models.PayoutRecord
	users    map[string]*models.User
	stats    map[string]*models.SeasonStat
	candles  map[string]models.Candle
	settings map[string]*models.SystemSetting

	// beforeTx, when set, runs at transaction entry so a test can slip a
	// competing write between a service's read phase and its tx.
	beforeTx func()
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		polls:    map[string]*models.Poll{},
		votes:    map[string]*models.Vote{},
		users:    map[string]*models.User{},
		stats:    map[string]*models.SeasonStat{},
		candles:  map[string]models.Candle{},
		settings: map[string]*models.SystemSetting{},
	}
}

var _ repository.Repository = (*stubRepo)(nil)

func voteKey(pollID, userID string) string { return pollID + "|" + userID }

func candleKey(m market.Market, start time.Time) string {
	return string(m) + "|" + start.UTC().Format(time.RFC3339)
}

func statKey(userID string, g market.Group, sid season.ID) string {
	return userID + "|" + string(g) + "|" + string(sid)
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.beforeTx != nil {
		s.beforeTx()
	}
	return fn(nil)
}

func (s *stubRepo) GetPollByID(ctx context.Context, id string) (*models.Poll, error) {
	if p, ok := s.polls[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) GetPollByWindow(ctx context.Context, m market.Market, windowStart time.Time) (*models.Poll, error) {
	for _, p := range s.polls {
		if p.Market == m && p.WindowStart.Equal(windowStart) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) CreatePollTx(ctx context.Context, tx *gorm.DB, item *models.Poll) error {
	cp := *item
	s.polls[item.ID] = &cp
	return nil
}

func (s *stubRepo) AdjustPollAggregatesTx(ctx context.Context, tx *gorm.DB, pollID string, delta repository.PollAggregateDelta) error {
	p, ok := s.polls[pollID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.LongTotal = p.LongTotal.Add(delta.Long)
	p.ShortTotal = p.ShortTotal.Add(delta.Short)
	p.LongCount += delta.LongCount
	p.ShortCount += delta.ShortCount
	return nil
}

func (s *stubRepo) SetPollPrices(ctx context.Context, pollID string, open, close decimal.Decimal) error {
	p, ok := s.polls[pollID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.OpenPrice, p.ClosePrice = &open, &close
	return nil
}

func (s *stubRepo) MarkPollSettledTx(ctx context.Context, tx *gorm.DB, pollID string, settledAt time.Time) (bool, error) {
	p, ok := s.polls[pollID]
	if !ok || p.SettledAt != nil {
		return false, nil
	}
	at := settledAt
	p.SettledAt = &at
	return true, nil
}

func (s *stubRepo) ListPollsByIDs(ctx context.Context, ids []string) ([]models.Poll, error) {
	var out []models.Poll
	for _, id := range ids {
		if p, ok := s.polls[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubRepo) GetVote(ctx context.Context, pollID, userID string) (*models.Vote, error) {
	if v, ok := s.votes[voteKey(pollID, userID)]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) SaveVoteTx(ctx context.Context, tx *gorm.DB, item *models.Vote) error {
	cp := *item
	s.votes[voteKey(item.PollID, item.UserID)] = &cp
	return nil
}

func (s *stubRepo) ListActiveVotesByPoll(ctx context.Context, pollID string) ([]models.Vote, error) {
	return s.ListActiveVotesByPolls(ctx, []string{pollID})
}

func (s *stubRepo) ListActiveVotesByPolls(ctx context.Context, pollIDs []string) ([]models.Vote, error) {
	want := map[string]bool{}
	for _, id := range pollIDs {
		want[id] = true
	}
	var out []models.Vote
	for _, v := range s.votes {
		if want[v.PollID] && v.Active() {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *stubRepo) CreatePayoutTx(ctx context.Context, tx *gorm.DB, item *models.PayoutRecord) error {
	for _, p := range s.payouts {
		if p.PollID == item.PollID && p.UserID == item.UserID {
			return fmt.Errorf("duplicate payout for poll %s user %s", item.PollID, item.UserID)
		}
	}
	s.payouts = append(s.payouts, *item)
	return nil
}

func (s *stubRepo) ListPayoutsByPoll(ctx context.Context, pollID string) ([]models.PayoutRecord, error) {
	return s.ListPayoutsByPolls(ctx, []string{pollID})
}

func (s *stubRepo) ListPayoutsByPolls(ctx context.Context, pollIDs []string) ([]models.PayoutRecord, error) {
	want := map[string]bool{}
	for _, id := range pollIDs {
		want[id] = true
	}
	var out []models.PayoutRecord
	for _, p := range s.payouts {
		if want[p.PollID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubRepo) ListDistinctPayoutPollIDs(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, p := range s.payouts {
		if !seen[p.PollID] {
			seen[p.PollID] = true
			out = append(out, p.PollID)
		}
	}
	return out, nil
}

func (s *stubRepo) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *stubRepo) AddUserBalanceTx(ctx context.Context, tx *gorm.DB, userID string, delta decimal.Decimal) error {
	u, ok := s.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Balance = u.Balance.Add(delta)
	return nil
}

func (s *stubRepo) DebitUserBalanceTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) (bool, error) {
	u, ok := s.users[userID]
	if !ok || u.Balance.LessThan(amount) {
		return false, nil
	}
	u.Balance = u.Balance.Sub(amount)
	return true, nil
}

func (s *stubRepo) UpsertSeasonStat(ctx context.Context, item *models.SeasonStat) error {
	cp := *item
	s.stats[statKey(item.UserID, item.Group, item.SeasonID)] = &cp
	return nil
}

func (s *stubRepo) GetSeasonStat(ctx context.Context, userID string, g market.Group, sid season.ID) (*models.SeasonStat, error) {
	if st, ok := s.stats[statKey(userID, g, sid)]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) ListSeasonStatsByUser(ctx context.Context, userID string, sid season.ID) ([]models.SeasonStat, error) {
	var out []models.SeasonStat
	for _, st := range s.stats {
		if st.UserID == userID && st.SeasonID == sid {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (s *stubRepo) CountRankedUsers(ctx context.Context, g market.Group, sid season.ID) (int64, error) {
	var n int64
	for _, st := range s.stats {
		if st.Group == g && st.SeasonID == sid && st.MMR.IsPositive() {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) CountUsersWithHigherMMR(ctx context.Context, g market.Group, sid season.ID, mmr decimal.Decimal) (int64, error) {
	var n int64
	for _, st := range s.stats {
		if st.Group == g && st.SeasonID == sid && st.MMR.GreaterThan(mmr) {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) ListTopSeasonStats(ctx context.Context, g market.Group, sid season.ID, limit int) ([]models.SeasonStat, error) {
	var out []models.SeasonStat
	for _, st := range s.stats {
		if st.Group == g && st.SeasonID == sid && st.MMR.IsPositive() {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MMR.GreaterThan(out[j].MMR) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubRepo) UpsertCandles(ctx context.Context, items []models.Candle) error {
	for _, c := range items {
		s.candles[candleKey(c.Market, c.WindowStart)] = c
	}
	return nil
}

func (s *stubRepo) GetCachedCandle(ctx context.Context, m market.Market, windowStart time.Time) (*models.Candle, error) {
	if c, ok := s.candles[candleKey(m, windowStart)]; ok {
		cp := c
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if item, ok := s.settings[key]; ok {
		cp := *item
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	cp := *item
	s.settings[item.Key] = &cp
	return nil
}

func (s *stubRepo) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	var out []models.SystemSetting
	for _, item := range s.settings {
		out = append(out, *item)
	}
	return out, nil
}
