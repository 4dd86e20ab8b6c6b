package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pollmarket/internal/calendar"
	"pollmarket/internal/market"
	"pollmarket/internal/marketdata"
	"pollmarket/internal/models"
	"pollmarket/internal/repository"
)

// SettlementOutcome classifies one settlement attempt. Every value except
// OutcomeSettled and the two refund outcomes leaves the store untouched, so
// callers can re-trigger freely.
type SettlementOutcome string

const (
	OutcomeNotFound          SettlementOutcome = "not_found"
	OutcomeAlreadySettled    SettlementOutcome = "already_settled"
	OutcomeUnsupportedMarket SettlementOutcome = "unsupported_market"
	OutcomeUnsettleable      SettlementOutcome = "unsettleable"
	OutcomeInvalidRefund     SettlementOutcome = "invalid_refund"
	OutcomeOneSideRefund     SettlementOutcome = "one_side_refund"
	OutcomeDrawRefund        SettlementOutcome = "draw_refund"
	OutcomeSettled           SettlementOutcome = "settled"
)

type SettlementResult struct {
	Outcome     SettlementOutcome `json:"outcome"`
	PollID      string            `json:"poll_id,omitempty"`
	Market      market.Market     `json:"market"`
	WindowStart time.Time         `json:"window_start"`
	WinnerSide  market.Side       `json:"winner_side,omitempty"`
	WinnerCount int               `json:"winner_count,omitempty"`
	LoserPool   decimal.Decimal   `json:"loser_pool"`
	PaidTotal   decimal.Decimal   `json:"paid_total"`
}

// errSettledElsewhere aborts the settlement transaction when the conditional
// settled_at update loses the race against a concurrent run.
var errSettledElsewhere = errors.New("poll settled by concurrent run")

// SettlementService settles one poll at a time: it resolves the reference
// open/close for the poll's window, decides the winning side, refunds or
// redistributes stakes, and records the payout ledger. The whole mutation
// path runs inside one transaction guarded by a conditional settled_at
// update, so overlapping triggers for the same poll never double-pay.
type SettlementService struct {
	Repo    repository.Repository
	Candles marketdata.Gateway
	Logger  *zap.Logger

	// Now is injected for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *SettlementService) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SettleDay settles every window of one civil day for a market, oldest
// first. Individual outcomes are collected rather than short-circuiting so
// an unsettleable morning window does not block the afternoon ones.
func (s *SettlementService) SettleDay(ctx context.Context, m market.Market, d calendar.CivilDate) ([]SettlementResult, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	starts, err := calendar.WindowsForDay(m, d)
	if err != nil {
		return nil, err
	}
	results := make([]SettlementResult, 0, len(starts))
	for _, start := range starts {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := s.Settle(ctx, m, start)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Settle settles the poll identified by (market, windowStart). Safe to call
// repeatedly: a settled or missing poll is reported as such with no side
// effects, and a store failure aborts before settled_at is written so the
// poll stays retryable.
func (s *SettlementService) Settle(ctx context.Context, m market.Market, windowStart time.Time) (SettlementResult, error) {
	res := SettlementResult{
		Market:      m,
		WindowStart: windowStart,
		LoserPool:   decimal.Zero,
		PaidTotal:   decimal.Zero,
	}
	if s == nil || s.Repo == nil {
		res.Outcome = OutcomeNotFound
		return res, nil
	}

	// A window still in progress has no final close yet; the upstream
	// klines endpoint serves the live in-progress bar, which must never
	// reach the write-once settlement path.
	if calendar.WindowEnd(m, windowStart).After(s.now()) {
		res.Outcome = OutcomeUnsettleable
		return res, nil
	}

	poll, err := s.Repo.GetPollByWindow(ctx, m, windowStart)
	if err != nil {
		return res, err
	}
	if poll == nil {
		res.Outcome = OutcomeNotFound
		return res, nil
	}
	res.PollID = poll.ID
	if poll.Settled() {
		res.Outcome = OutcomeAlreadySettled
		return res, nil
	}

	if poll.OpenPrice == nil || poll.ClosePrice == nil {
		outcome, err := s.resolvePrices(ctx, poll)
		if err != nil {
			return res, err
		}
		if outcome != "" {
			res.Outcome = outcome
			return res, nil
		}
	}

	votes, err := s.Repo.ListActiveVotesByPoll(ctx, poll.ID)
	if err != nil {
		return res, err
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.settleInTx(ctx, tx, poll, votes, &res)
	})
	if errors.Is(err, errSettledElsewhere) {
		res = SettlementResult{
			Outcome:     OutcomeAlreadySettled,
			PollID:      poll.ID,
			Market:      m,
			WindowStart: windowStart,
			LoserPool:   decimal.Zero,
			PaidTotal:   decimal.Zero,
		}
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if s.Logger != nil {
		s.Logger.Info("poll settled",
			zap.String("poll_id", poll.ID),
			zap.String("market", string(m)),
			zap.Time("window_start", windowStart),
			zap.String("outcome", string(res.Outcome)),
			zap.String("paid_total", res.PaidTotal.String()),
		)
	}
	return res, nil
}

// resolvePrices fills the poll's open/close from the candle cache or the
// upstream gateway. Returns a terminal outcome ("" means proceed).
func (s *SettlementService) resolvePrices(ctx context.Context, poll *models.Poll) (SettlementOutcome, error) {
	if !poll.Market.HasPriceSource() {
		return OutcomeUnsupportedMarket, nil
	}

	if cached, err := s.Repo.GetCachedCandle(ctx, poll.Market, poll.WindowStart); err == nil && cached != nil {
		open, close := cached.Open, cached.Close
		if err := s.Repo.SetPollPrices(ctx, poll.ID, open, close); err != nil {
			return "", err
		}
		poll.OpenPrice, poll.ClosePrice = &open, &close
		return "", nil
	}

	if s.Candles == nil {
		return OutcomeUnsettleable, nil
	}
	candle, err := s.Candles.GetCandle(ctx, poll.Market, poll.WindowStart)
	if errors.Is(err, marketdata.ErrCandleUnavailable) || errors.Is(err, marketdata.ErrRateLimited) {
		return OutcomeUnsettleable, nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch candle: %w", err)
	}
	open, close := candle.Open, candle.Close
	if err := s.Repo.SetPollPrices(ctx, poll.ID, open, close); err != nil {
		return "", err
	}
	poll.OpenPrice, poll.ClosePrice = &open, &close
	return "", nil
}

func (s *SettlementService) settleInTx(ctx context.Context, tx *gorm.DB, poll *models.Poll, votes []models.Vote, res *SettlementResult) error {
	ok, err := s.Repo.MarkPollSettledTx(ctx, tx, poll.ID, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return errSettledElsewhere
	}

	// Users who already hold a payout row for this poll are skipped on
	// re-entry after a partial failure.
	existing, err := s.Repo.ListPayoutsByPoll(ctx, poll.ID)
	if err != nil {
		return err
	}
	paid := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		paid[p.UserID] = struct{}{}
	}

	users := make(map[string]struct{}, len(votes))
	for _, v := range votes {
		users[v.UserID] = struct{}{}
	}

	switch {
	case len(users) < 2:
		if err := s.refundAll(ctx, tx, votes); err != nil {
			return err
		}
		res.Outcome = OutcomeInvalidRefund
		return nil

	case poll.LongTotal.IsZero() || poll.ShortTotal.IsZero():
		wouldWin := market.SideLong
		if poll.LongTotal.IsZero() {
			wouldWin = market.SideShort
		}
		if err := s.refundAll(ctx, tx, votes); err != nil {
			return err
		}
		count := 0
		for _, v := range votes {
			if v.Side != wouldWin {
				continue
			}
			count++
			if _, done := paid[v.UserID]; done {
				continue
			}
			if err := s.writePayout(ctx, tx, poll, v, decimal.Zero); err != nil {
				return err
			}
		}
		res.Outcome = OutcomeOneSideRefund
		res.WinnerSide = wouldWin
		res.WinnerCount = count
		return nil

	case poll.OpenPrice.Equal(*poll.ClosePrice):
		if err := s.refundAll(ctx, tx, votes); err != nil {
			return err
		}
		res.Outcome = OutcomeDrawRefund
		return nil
	}

	winner := market.SideShort
	if poll.ClosePrice.GreaterThan(*poll.OpenPrice) {
		winner = market.SideLong
	}
	winnerTotal, loserPool := poll.LongTotal, poll.ShortTotal
	if winner == market.SideShort {
		winnerTotal, loserPool = poll.ShortTotal, poll.LongTotal
	}

	paidTotal := decimal.Zero
	count := 0
	for _, v := range votes {
		if v.Side != winner {
			continue
		}
		count++
		if _, done := paid[v.UserID]; done {
			continue
		}
		share := loserPool.Mul(v.Stake).Div(winnerTotal).RoundFloor(2)
		if err := s.Repo.AddUserBalanceTx(ctx, tx, v.UserID, v.Stake.Add(share)); err != nil {
			return fmt.Errorf("credit user %s: %w", v.UserID, err)
		}
		if err := s.writePayout(ctx, tx, poll, v, share); err != nil {
			return err
		}
		paidTotal = paidTotal.Add(share)
	}

	res.Outcome = OutcomeSettled
	res.WinnerSide = winner
	res.WinnerCount = count
	res.LoserPool = loserPool
	res.PaidTotal = paidTotal
	return nil
}

func (s *SettlementService) refundAll(ctx context.Context, tx *gorm.DB, votes []models.Vote) error {
	for _, v := range votes {
		if err := s.Repo.AddUserBalanceTx(ctx, tx, v.UserID, v.Stake); err != nil {
			return fmt.Errorf("refund user %s: %w", v.UserID, err)
		}
	}
	return nil
}

func (s *SettlementService) writePayout(ctx context.Context, tx *gorm.DB, poll *models.Poll, v models.Vote, amount decimal.Decimal) error {
	now := s.now().UTC()
	return s.Repo.CreatePayoutTx(ctx, tx, &models.PayoutRecord{
		ID:        uuid.NewString(),
		PollID:    poll.ID,
		UserID:    v.UserID,
		Market:    poll.Market,
		Stake:     v.Stake,
		Payout:    amount,
		CreatedAt: now,
	})
}
