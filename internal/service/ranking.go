package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pollmarket/internal/market"
	"pollmarket/internal/models"
	"pollmarket/internal/repository"
	"pollmarket/internal/season"
)

// GroupStats is one market group's season standing for a user. Rank and
// Percentile are only meaningful when Ranked is true; a user with no
// participation (or zero MMR) is unranked, not last.
type GroupStats struct {
	Group         market.Group    `json:"market_group"`
	SeasonID      season.ID       `json:"season_id"`
	Participation int             `json:"participation"`
	Wins          int             `json:"wins"`
	WinRate       float64         `json:"win_rate"`
	MMR           decimal.Decimal `json:"mmr"`
	Ranked        bool            `json:"ranked"`
	Rank          int64           `json:"rank,omitempty"`
	Percentile    float64         `json:"percentile,omitempty"`
}

type LeaderboardEntry struct {
	Rank     int64           `json:"rank"`
	UserID   string          `json:"user_id"`
	Nickname string          `json:"nickname"`
	MMR      decimal.Decimal `json:"mmr"`
	Wins     int             `json:"wins"`
	WinRate  float64         `json:"win_rate"`
}

// RankingService derives season-scoped skill statistics from the payout
// ledger. Everything it writes is a recomputable snapshot, so Refresh is
// safe to re-run at any time and MyStats can backfill a missing snapshot
// on the fly.
type RankingService struct {
	Repo   repository.Repository
	Logger *zap.Logger

	// Now is injected for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *RankingService) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CurrentSeason derives the season in progress from the service clock.
func (s *RankingService) CurrentSeason() season.ID {
	return season.IDAt(s.now())
}

// seasonStanding holds one user's raw counts before the MMR multiply.
type seasonStanding struct {
	participation map[string]struct{}
	wins          map[string]struct{}
}

// Refresh recomputes every user's snapshot for one (group, season) and
// returns how many users were refreshed.
func (s *RankingService) Refresh(ctx context.Context, g market.Group, sid season.ID) (int, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	standings, err := s.computeStandings(ctx, g, sid)
	if err != nil {
		return 0, err
	}
	if len(standings) == 0 {
		return 0, nil
	}

	userIDs := make([]string, 0, len(standings))
	for id := range standings {
		userIDs = append(userIDs, id)
	}
	users, err := s.Repo.ListUsersByIDs(ctx, userIDs)
	if err != nil {
		return 0, err
	}
	balances := make(map[string]decimal.Decimal, len(users))
	for _, u := range users {
		balances[u.ID] = u.Balance
	}

	refreshed := 0
	for userID, st := range standings {
		stat := buildSeasonStat(userID, g, sid, st, balances[userID])
		if err := s.Repo.UpsertSeasonStat(ctx, stat); err != nil {
			return refreshed, err
		}
		refreshed++
	}
	if s.Logger != nil {
		s.Logger.Info("season ranking refreshed",
			zap.String("market_group", string(g)),
			zap.String("season", string(sid)),
			zap.Int("users", refreshed),
		)
	}
	return refreshed, nil
}

// MyStats returns the user's standing in every market group for the current
// season, preferring the persisted snapshot and computing one on the fly
// when it is missing.
func (s *RankingService) MyStats(ctx context.Context, userID string) ([]GroupStats, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	sid := s.CurrentSeason()
	out := make([]GroupStats, 0, len(market.Groups()))
	for _, g := range market.Groups() {
		stat, err := s.Repo.GetSeasonStat(ctx, userID, g, sid)
		if err != nil {
			return nil, err
		}
		if stat == nil {
			stat, err = s.refreshUser(ctx, userID, g, sid)
			if err != nil {
				return nil, err
			}
		}
		gs := GroupStats{
			Group:         g,
			SeasonID:      sid,
			Participation: stat.Participation,
			Wins:          stat.Wins,
			WinRate:       stat.WinRate(),
			MMR:           stat.MMR,
		}
		if stat.Participation > 0 && stat.MMR.IsPositive() {
			total, err := s.Repo.CountRankedUsers(ctx, g, sid)
			if err != nil {
				return nil, err
			}
			higher, err := s.Repo.CountUsersWithHigherMMR(ctx, g, sid, stat.MMR)
			if err != nil {
				return nil, err
			}
			if total > 0 {
				rank := higher + 1
				gs.Ranked = true
				gs.Rank = rank
				gs.Percentile = percentile(rank, total)
			}
		}
		out = append(out, gs)
	}
	return out, nil
}

// Leaderboard returns the top snapshot rows for one group with competition
// ranking (equal MMR shares a rank).
func (s *RankingService) Leaderboard(ctx context.Context, g market.Group, sid season.ID, limit int) ([]LeaderboardEntry, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	stats, err := s.Repo.ListTopSeasonStats(ctx, g, sid, limit)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return []LeaderboardEntry{}, nil
	}
	ids := make([]string, 0, len(stats))
	for _, st := range stats {
		ids = append(ids, st.UserID)
	}
	users, err := s.Repo.ListUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Nickname
	}

	entries := make([]LeaderboardEntry, 0, len(stats))
	var rank int64
	for i, st := range stats {
		if i == 0 || !st.MMR.Equal(stats[i-1].MMR) {
			rank = int64(i) + 1
		}
		entries = append(entries, LeaderboardEntry{
			Rank:     rank,
			UserID:   st.UserID,
			Nickname: names[st.UserID],
			MMR:      st.MMR,
			Wins:     st.Wins,
			WinRate:  st.WinRate(),
		})
	}
	return entries, nil
}

// refreshUser runs the refresh computation scoped to a single user and
// upserts the result, so a first-time caller never waits on a full refresh.
func (s *RankingService) refreshUser(ctx context.Context, userID string, g market.Group, sid season.ID) (*models.SeasonStat, error) {
	standings, err := s.computeStandings(ctx, g, sid)
	if err != nil {
		return nil, err
	}
	st, ok := standings[userID]
	if !ok {
		st = seasonStanding{
			participation: map[string]struct{}{},
			wins:          map[string]struct{}{},
		}
	}
	var balance decimal.Decimal
	if user, err := s.Repo.GetUserByID(ctx, userID); err != nil {
		return nil, err
	} else if user != nil {
		balance = user.Balance
	}
	stat := buildSeasonStat(userID, g, sid, st, balance)
	if err := s.Repo.UpsertSeasonStat(ctx, stat); err != nil {
		return nil, err
	}
	return stat, nil
}

// computeStandings walks the payout ledger for one (group, season):
// participation is distinct settled-with-ledger polls voted in, wins is
// distinct polls with a payout row for the user.
func (s *RankingService) computeStandings(ctx context.Context, g market.Group, sid season.ID) (map[string]seasonStanding, error) {
	pollIDs, err := s.Repo.ListDistinctPayoutPollIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(pollIDs) == 0 {
		return nil, nil
	}
	polls, err := s.Repo.ListPollsByIDs(ctx, pollIDs)
	if err != nil {
		return nil, err
	}
	start, end := sid.DateRange()
	startStr, endStr := start.String(), end.String()
	scoped := make([]string, 0, len(polls))
	for _, p := range polls {
		if p.PollDate < startStr || p.PollDate > endStr {
			continue
		}
		if !p.Market.InGroup(g) {
			continue
		}
		scoped = append(scoped, p.ID)
	}
	if len(scoped) == 0 {
		return nil, nil
	}

	votes, err := s.Repo.ListActiveVotesByPolls(ctx, scoped)
	if err != nil {
		return nil, err
	}
	payouts, err := s.Repo.ListPayoutsByPolls(ctx, scoped)
	if err != nil {
		return nil, err
	}

	standings := make(map[string]seasonStanding)
	get := func(userID string) seasonStanding {
		st, ok := standings[userID]
		if !ok {
			st = seasonStanding{
				participation: map[string]struct{}{},
				wins:          map[string]struct{}{},
			}
			standings[userID] = st
		}
		return st
	}
	for _, v := range votes {
		get(v.UserID).participation[v.PollID] = struct{}{}
	}
	for _, p := range payouts {
		// A ledger row implies the user played the poll even when no
		// active vote survives (zero-amount one-sided refund rows).
		st := get(p.UserID)
		st.participation[p.PollID] = struct{}{}
		st.wins[p.PollID] = struct{}{}
	}
	return standings, nil
}

func buildSeasonStat(userID string, g market.Group, sid season.ID, st seasonStanding, balance decimal.Decimal) *models.SeasonStat {
	stat := &models.SeasonStat{
		UserID:        userID,
		Group:         g,
		SeasonID:      sid,
		Participation: len(st.participation),
		Wins:          len(st.wins),
		MMR:           decimal.Zero,
		UpdatedAt:     time.Now().UTC(),
	}
	if stat.Participation > 0 && stat.Wins > 0 {
		stat.MMR = balance.
			Mul(decimal.NewFromInt(int64(stat.Wins))).
			Div(decimal.NewFromInt(int64(stat.Participation))).
			Round(2)
	}
	return stat
}

// percentile is (total - rank) / total * 100 rounded to 2 decimals, always
// in [0, 100) for rank in [1, total].
func percentile(rank, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := decimal.NewFromInt(total - rank).
		Div(decimal.NewFromInt(total)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	f, _ := p.Float64()
	return f
}
