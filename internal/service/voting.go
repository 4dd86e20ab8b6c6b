package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pollmarket/internal/calendar"
	"pollmarket/internal/market"
	"pollmarket/internal/models"
	"pollmarket/internal/repository"
)

// VotingService places and cancels stakes on the window currently in
// progress. Polls are created lazily on the first bet; a re-bet overwrites
// the user's single vote row and the poll aggregates track the delta.
type VotingService struct {
	Repo   repository.Repository
	Logger *zap.Logger

	// Now is injected for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *VotingService) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// PollView is the betting surface for one market's in-progress window.
type PollView struct {
	PollID      string          `json:"poll_id,omitempty"`
	Market      market.Market   `json:"market"`
	PollDate    string          `json:"poll_date"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	LongTotal   decimal.Decimal `json:"long_total"`
	ShortTotal  decimal.Decimal `json:"short_total"`
	LongCount   int             `json:"long_count"`
	ShortCount  int             `json:"short_count"`
	MyVote      *models.Vote    `json:"my_vote,omitempty"`
}

// Vote stakes on the current window of a market. An existing active vote is
// overwritten: the old stake is released, the new one debited, and the poll
// aggregates adjusted by the difference.
func (s *VotingService) Vote(ctx context.Context, userID string, m market.Market, side market.Side, stake decimal.Decimal) (*models.Vote, error) {
	if s == nil || s.Repo == nil {
		return nil, ErrPollNotFound
	}
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if !stake.IsPositive() {
		return nil, ErrInvalidStake
	}

	user, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	now := s.now()
	windowStart := calendar.CurrentWindowStart(m, now)
	poll, err := s.Repo.GetPollByWindow(ctx, m, windowStart)
	if err != nil {
		return nil, err
	}
	if poll != nil && poll.Settled() {
		return nil, ErrPollSettled
	}

	var prevVote *models.Vote
	if poll != nil {
		prevVote, err = s.Repo.GetVote(ctx, poll.ID, userID)
		if err != nil {
			return nil, err
		}
	}

	released := decimal.Zero
	if prevVote != nil && prevVote.Active() {
		released = prevVote.Stake
	}
	if user.Balance.Add(released).LessThan(stake) {
		return nil, ErrInsufficientBalance
	}

	var saved *models.Vote
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if poll == nil {
			poll = &models.Poll{
				ID:          uuid.NewString(),
				Market:      m,
				PollDate:    calendar.DateOf(windowStart).String(),
				WindowStart: windowStart,
				LongTotal:   decimal.Zero,
				ShortTotal:  decimal.Zero,
				CreatedAt:   now.UTC(),
				UpdatedAt:   now.UTC(),
			}
			if err := s.Repo.CreatePollTx(ctx, tx, poll); err != nil {
				return err
			}
		}

		delta := repository.PollAggregateDelta{
			Long:  decimal.Zero,
			Short: decimal.Zero,
		}
		if prevVote != nil && prevVote.Active() {
			subtractSide(&delta, prevVote.Side, prevVote.Stake)
		}
		addSide(&delta, side, stake)

		// The balance check above is only advisory: a concurrent vote may
		// have spent the funds since. The conditional debit is what holds
		// the balance non-negative.
		net := stake.Sub(released)
		switch {
		case net.IsPositive():
			ok, err := s.Repo.DebitUserBalanceTx(ctx, tx, userID, net)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInsufficientBalance
			}
		case net.IsNegative():
			if err := s.Repo.AddUserBalanceTx(ctx, tx, userID, net.Neg()); err != nil {
				return err
			}
		}

		vote := prevVote
		if vote == nil {
			vote = &models.Vote{
				ID:        uuid.NewString(),
				PollID:    poll.ID,
				UserID:    userID,
				Market:    m,
				CreatedAt: now.UTC(),
			}
		}
		vote.Side = side
		vote.Stake = stake
		vote.Status = models.VoteActive
		vote.UpdatedAt = now.UTC()
		if err := s.Repo.SaveVoteTx(ctx, tx, vote); err != nil {
			return err
		}
		if err := s.Repo.AdjustPollAggregatesTx(ctx, tx, poll.ID, delta); err != nil {
			return err
		}
		saved = vote
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("vote placed",
			zap.String("user_id", userID),
			zap.String("market", string(m)),
			zap.String("side", string(side)),
			zap.String("stake", stake.String()),
		)
	}
	return saved, nil
}

// Cancel backs out an active vote before settlement: the stake is refunded,
// the row flips to cancelled, and the aggregates drop the stake.
func (s *VotingService) Cancel(ctx context.Context, userID, pollID string) error {
	if s == nil || s.Repo == nil {
		return ErrPollNotFound
	}
	poll, err := s.Repo.GetPollByID(ctx, pollID)
	if err != nil {
		return err
	}
	if poll == nil {
		return ErrPollNotFound
	}
	if poll.Settled() {
		return ErrPollSettled
	}
	vote, err := s.Repo.GetVote(ctx, pollID, userID)
	if err != nil {
		return err
	}
	if vote == nil || !vote.Active() {
		return ErrVoteNotFound
	}

	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.AddUserBalanceTx(ctx, tx, userID, vote.Stake); err != nil {
			return err
		}
		delta := repository.PollAggregateDelta{Long: decimal.Zero, Short: decimal.Zero}
		subtractSide(&delta, vote.Side, vote.Stake)
		if err := s.Repo.AdjustPollAggregatesTx(ctx, tx, pollID, delta); err != nil {
			return err
		}
		vote.Status = models.VoteCancelled
		vote.UpdatedAt = s.now().UTC()
		return s.Repo.SaveVoteTx(ctx, tx, vote)
	})
}

// CurrentPolls returns the in-progress window of every market, with the
// caller's own vote attached when userID is non-empty. Markets without a
// poll row yet are reported with zero aggregates.
func (s *VotingService) CurrentPolls(ctx context.Context, userID string) ([]PollView, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	now := s.now()
	views := make([]PollView, 0, len(market.All()))
	for _, m := range market.All() {
		start := calendar.CurrentWindowStart(m, now)
		view := PollView{
			Market:      m,
			PollDate:    calendar.DateOf(start).String(),
			WindowStart: start,
			WindowEnd:   calendar.WindowEnd(m, start),
			LongTotal:   decimal.Zero,
			ShortTotal:  decimal.Zero,
		}
		poll, err := s.Repo.GetPollByWindow(ctx, m, start)
		if err != nil {
			return nil, err
		}
		if poll != nil {
			view.PollID = poll.ID
			view.LongTotal = poll.LongTotal
			view.ShortTotal = poll.ShortTotal
			view.LongCount = poll.LongCount
			view.ShortCount = poll.ShortCount
			if userID != "" {
				vote, err := s.Repo.GetVote(ctx, poll.ID, userID)
				if err != nil {
					return nil, err
				}
				if vote != nil && vote.Active() {
					view.MyVote = vote
				}
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func addSide(d *repository.PollAggregateDelta, side market.Side, stake decimal.Decimal) {
	if side == market.SideLong {
		d.Long = d.Long.Add(stake)
		d.LongCount++
		return
	}
	d.Short = d.Short.Add(stake)
	d.ShortCount++
}

func subtractSide(d *repository.PollAggregateDelta, side market.Side, stake decimal.Decimal) {
	if side == market.SideLong {
		d.Long = d.Long.Sub(stake)
		d.LongCount--
		return
	}
	d.Short = d.Short.Sub(stake)
	d.ShortCount--
}
