package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pollmarket/internal/calendar"
	"pollmarket/internal/market"
	"pollmarket/internal/marketdata"
	"pollmarket/internal/models"
)

func mustDate(t *testing.T, s string) calendar.CivilDate {
	t.Helper()
	d, err := calendar.ParseCivilDate(s)
	if err != nil {
		t.Fatalf("parse date %s: %v", s, err)
	}
	return d
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// stubGateway serves canned candles keyed by window start.
type stubGateway struct {
	candles map[time.Time]marketdata.Candle
	err     error
}

func (g *stubGateway) GetCandle(ctx context.Context, m market.Market, start time.Time) (marketdata.Candle, error) {
	if g.err != nil {
		return marketdata.Candle{}, g.err
	}
	c, ok := g.candles[start]
	if !ok {
		return marketdata.Candle{}, marketdata.ErrCandleUnavailable
	}
	return c, nil
}

func (g *stubGateway) GetCandles(ctx context.Context, m market.Market, start time.Time, count int) ([]marketdata.Candle, error) {
	c, err := g.GetCandle(ctx, m, start)
	if err != nil {
		return nil, err
	}
	return []marketdata.Candle{c}, nil
}

var window = time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)

func seedUser(r *stubRepo, id, balance string) {
	r.users[id] = &models.User{ID: id, Nickname: id, Balance: dec(balance)}
}

func seedPoll(r *stubRepo, id string, m market.Market, long, short string, open, close *decimal.Decimal) *models.Poll {
	p := &models.Poll{
		ID:          id,
		Market:      m,
		PollDate:    "2026-03-10",
		WindowStart: window,
		LongTotal:   dec(long),
		ShortTotal:  dec(short),
		OpenPrice:   open,
		ClosePrice:  close,
	}
	r.polls[id] = p
	return p
}

func seedVote(r *stubRepo, pollID, userID string, side market.Side, stake string) {
	r.votes[voteKey(pollID, userID)] = &models.Vote{
		ID:     pollID + "-" + userID,
		PollID: pollID,
		UserID: userID,
		Side:   side,
		Stake:  dec(stake),
		Status: models.VoteActive,
	}
}

func TestSettle_ProRataPayout(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "0")
	seedUser(repo, "bob", "0")
	seedUser(repo, "carol", "0")
	seedPoll(repo, "p1", market.Btc1h, "100", "50", decPtr("100"), decPtr("110"))
	seedVote(repo, "p1", "alice", market.SideLong, "60")
	seedVote(repo, "p1", "bob", market.SideLong, "40")
	seedVote(repo, "p1", "carol", market.SideShort, "50")

	svc := &SettlementService{Repo: repo}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeSettled {
		t.Fatalf("outcome=%s want settled", res.Outcome)
	}
	if res.WinnerSide != market.SideLong || res.WinnerCount != 2 {
		t.Fatalf("winner=%s count=%d", res.WinnerSide, res.WinnerCount)
	}
	if !res.LoserPool.Equal(dec("50")) || !res.PaidTotal.Equal(dec("50")) {
		t.Fatalf("loserPool=%s paidTotal=%s", res.LoserPool, res.PaidTotal)
	}
	if got := repo.users["alice"].Balance; !got.Equal(dec("90")) {
		t.Fatalf("alice balance=%s want 90", got)
	}
	if got := repo.users["bob"].Balance; !got.Equal(dec("60")) {
		t.Fatalf("bob balance=%s want 60", got)
	}
	if got := repo.users["carol"].Balance; !got.Equal(dec("0")) {
		t.Fatalf("carol balance=%s want 0", got)
	}
	payouts, _ := repo.ListPayoutsByPoll(context.Background(), "p1")
	if len(payouts) != 2 {
		t.Fatalf("payouts=%d want 2", len(payouts))
	}
	for _, p := range payouts {
		switch p.UserID {
		case "alice":
			if !p.Payout.Equal(dec("30")) || !p.Stake.Equal(dec("60")) {
				t.Fatalf("alice payout=%s stake=%s", p.Payout, p.Stake)
			}
		case "bob":
			if !p.Payout.Equal(dec("20")) || !p.Stake.Equal(dec("40")) {
				t.Fatalf("bob payout=%s stake=%s", p.Payout, p.Stake)
			}
		default:
			t.Fatalf("unexpected payout for %s", p.UserID)
		}
	}
	if repo.polls["p1"].SettledAt == nil {
		t.Fatalf("settled_at not set")
	}
}

func TestSettle_Idempotent(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "0")
	seedUser(repo, "bob", "0")
	seedPoll(repo, "p1", market.Btc1h, "30", "20", decPtr("100"), decPtr("90"))
	seedVote(repo, "p1", "alice", market.SideLong, "30")
	seedVote(repo, "p1", "bob", market.SideShort, "20")

	svc := &SettlementService{Repo: repo}
	first, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if first.Outcome != OutcomeSettled || first.WinnerSide != market.SideShort {
		t.Fatalf("first outcome=%s winner=%s", first.Outcome, first.WinnerSide)
	}
	bobBalance := repo.users["bob"].Balance

	second, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if second.Outcome != OutcomeAlreadySettled {
		t.Fatalf("second outcome=%s want already_settled", second.Outcome)
	}
	if got := repo.users["bob"].Balance; !got.Equal(bobBalance) {
		t.Fatalf("balance moved on re-settle: %s -> %s", bobBalance, got)
	}
	payouts, _ := repo.ListPayoutsByPoll(context.Background(), "p1")
	if len(payouts) != 1 {
		t.Fatalf("payouts=%d want 1", len(payouts))
	}
}

func TestSettle_SingleParticipantRefund(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "75") // 100 pre-bet, 25 staked
	seedPoll(repo, "p1", market.Btc1h, "25", "0", decPtr("100"), decPtr("120"))
	seedVote(repo, "p1", "alice", market.SideLong, "25")

	svc := &SettlementService{Repo: repo}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeInvalidRefund {
		t.Fatalf("outcome=%s want invalid_refund", res.Outcome)
	}
	if got := repo.users["alice"].Balance; !got.Equal(dec("100")) {
		t.Fatalf("alice balance=%s want 100", got)
	}
	if len(repo.payouts) != 0 {
		t.Fatalf("payouts=%d want 0", len(repo.payouts))
	}
	if repo.polls["p1"].SettledAt == nil {
		t.Fatalf("settled_at not set")
	}
}

func TestSettle_OneSidedRefund(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "0")
	seedUser(repo, "bob", "0")
	seedPoll(repo, "p1", market.Btc1h, "70", "0", decPtr("100"), decPtr("90"))
	seedVote(repo, "p1", "alice", market.SideLong, "40")
	seedVote(repo, "p1", "bob", market.SideLong, "30")

	svc := &SettlementService{Repo: repo}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeOneSideRefund {
		t.Fatalf("outcome=%s want one_side_refund", res.Outcome)
	}
	if res.WinnerSide != market.SideLong || res.WinnerCount != 2 {
		t.Fatalf("winner=%s count=%d", res.WinnerSide, res.WinnerCount)
	}
	if got := repo.users["alice"].Balance; !got.Equal(dec("40")) {
		t.Fatalf("alice balance=%s want 40", got)
	}
	if got := repo.users["bob"].Balance; !got.Equal(dec("30")) {
		t.Fatalf("bob balance=%s want 30", got)
	}
	payouts, _ := repo.ListPayoutsByPoll(context.Background(), "p1")
	if len(payouts) != 2 {
		t.Fatalf("payouts=%d want 2", len(payouts))
	}
	for _, p := range payouts {
		if !p.Payout.IsZero() {
			t.Fatalf("payout amount=%s want 0", p.Payout)
		}
	}
}

func TestSettle_EqualOpenCloseRefundsAll(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "0")
	seedUser(repo, "bob", "0")
	seedPoll(repo, "p1", market.Btc1h, "40", "60", decPtr("105.5"), decPtr("105.5"))
	seedVote(repo, "p1", "alice", market.SideLong, "40")
	seedVote(repo, "p1", "bob", market.SideShort, "60")

	svc := &SettlementService{Repo: repo}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeDrawRefund {
		t.Fatalf("outcome=%s want draw_refund", res.Outcome)
	}
	if got := repo.users["alice"].Balance; !got.Equal(dec("40")) {
		t.Fatalf("alice balance=%s want 40", got)
	}
	if got := repo.users["bob"].Balance; !got.Equal(dec("60")) {
		t.Fatalf("bob balance=%s want 60", got)
	}
	if len(repo.payouts) != 0 {
		t.Fatalf("payouts=%d want 0", len(repo.payouts))
	}
}

func TestSettle_MissingPoll(t *testing.T) {
	svc := &SettlementService{Repo: newStubRepo()}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Fatalf("outcome=%s want not_found", res.Outcome)
	}
}

func TestSettle_PricesFromCandleCache(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "0")
	seedUser(repo, "bob", "0")
	seedPoll(repo, "p1", market.Btc1h, "10", "10", nil, nil)
	seedVote(repo, "p1", "alice", market.SideLong, "10")
	seedVote(repo, "p1", "bob", market.SideShort, "10")
	repo.candles[candleKey(market.Btc1h, window)] = models.Candle{
		Market:      market.Btc1h,
		WindowStart: window,
		Open:        dec("100"),
		High:        dec("112"),
		Low:         dec("99"),
		Close:       dec("111"),
	}

	svc := &SettlementService{Repo: repo, Candles: &stubGateway{}}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeSettled || res.WinnerSide != market.SideLong {
		t.Fatalf("outcome=%s winner=%s", res.Outcome, res.WinnerSide)
	}
	p := repo.polls["p1"]
	if p.OpenPrice == nil || !p.OpenPrice.Equal(dec("100")) {
		t.Fatalf("open price not persisted")
	}
}

func TestSettle_PricesFromGateway(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "0")
	seedUser(repo, "bob", "0")
	seedPoll(repo, "p1", market.Btc1h, "10", "10", nil, nil)
	seedVote(repo, "p1", "alice", market.SideLong, "10")
	seedVote(repo, "p1", "bob", market.SideShort, "10")
	gw := &stubGateway{candles: map[time.Time]marketdata.Candle{
		window: {Start: window, Open: dec("100"), High: dec("101"), Low: dec("95"), Close: dec("96")},
	}}

	svc := &SettlementService{Repo: repo, Candles: gw}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeSettled || res.WinnerSide != market.SideShort {
		t.Fatalf("outcome=%s winner=%s", res.Outcome, res.WinnerSide)
	}
}

func TestSettle_CandleMissingIsRetryable(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "0")
	seedUser(repo, "bob", "0")
	seedPoll(repo, "p1", market.Btc1h, "10", "10", nil, nil)
	seedVote(repo, "p1", "alice", market.SideLong, "10")
	seedVote(repo, "p1", "bob", market.SideShort, "10")

	svc := &SettlementService{Repo: repo, Candles: &stubGateway{}}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeUnsettleable {
		t.Fatalf("outcome=%s want unsettleable", res.Outcome)
	}
	if repo.polls["p1"].SettledAt != nil {
		t.Fatalf("poll settled without prices")
	}
	if got := repo.users["alice"].Balance; !got.IsZero() {
		t.Fatalf("balance mutated: %s", got)
	}
}

func TestSettle_UnsupportedMarket(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "0")
	seedUser(repo, "bob", "0")
	seedPoll(repo, "p1", market.Kospi, "10", "10", nil, nil)
	seedVote(repo, "p1", "alice", market.SideLong, "10")
	seedVote(repo, "p1", "bob", market.SideShort, "10")

	svc := &SettlementService{Repo: repo, Candles: &stubGateway{}}
	res, err := svc.Settle(context.Background(), market.Kospi, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeUnsupportedMarket {
		t.Fatalf("outcome=%s want unsupported_market", res.Outcome)
	}
	if repo.polls["p1"].SettledAt != nil {
		t.Fatalf("poll settled without prices")
	}
}

func TestSettle_ConservesLoserPool(t *testing.T) {
	// Stakes chosen so shares divide exactly at two decimals.
	repo := newStubRepo()
	seedUser(repo, "a", "0")
	seedUser(repo, "b", "0")
	seedUser(repo, "c", "0")
	seedUser(repo, "d", "0")
	seedPoll(repo, "p1", market.Btc1h, "200", "75", decPtr("50000"), decPtr("50001"))
	seedVote(repo, "p1", "a", market.SideLong, "150")
	seedVote(repo, "p1", "b", market.SideLong, "50")
	seedVote(repo, "p1", "c", market.SideShort, "45")
	seedVote(repo, "p1", "d", market.SideShort, "30")

	svc := &SettlementService{Repo: repo}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeSettled {
		t.Fatalf("outcome=%s", res.Outcome)
	}
	var credited decimal.Decimal
	for _, p := range repo.payouts {
		credited = credited.Add(p.Payout)
	}
	if !credited.Equal(dec("75")) {
		t.Fatalf("distributed %s of loser pool 75", credited)
	}
	// Winner credits = stake back + share.
	if got := repo.users["a"].Balance; !got.Equal(dec("206.25")) {
		t.Fatalf("a balance=%s want 206.25", got)
	}
	if got := repo.users["b"].Balance; !got.Equal(dec("68.75")) {
		t.Fatalf("b balance=%s want 68.75", got)
	}
}

func TestSettle_ShareFloorsToTwoDecimals(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "a", "0")
	seedUser(repo, "b", "0")
	seedUser(repo, "c", "0")
	seedPoll(repo, "p1", market.Btc1h, "30", "10", decPtr("1"), decPtr("2"))
	seedVote(repo, "p1", "a", market.SideLong, "20")
	seedVote(repo, "p1", "b", market.SideLong, "10")
	seedVote(repo, "p1", "c", market.SideShort, "10")

	svc := &SettlementService{Repo: repo}
	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	// 10*20/30 = 6.666... floors to 6.66; 10*10/30 = 3.333... floors to 3.33.
	if got := repo.users["a"].Balance; !got.Equal(dec("26.66")) {
		t.Fatalf("a balance=%s want 26.66", got)
	}
	if got := repo.users["b"].Balance; !got.Equal(dec("13.33")) {
		t.Fatalf("b balance=%s want 13.33", got)
	}
	if !res.PaidTotal.Equal(dec("9.99")) {
		t.Fatalf("paidTotal=%s want 9.99", res.PaidTotal)
	}
}

func TestSettleDay_SettlesEveryWindow(t *testing.T) {
	repo := newStubRepo()
	svc := &SettlementService{Repo: repo}
	results, err := svc.SettleDay(context.Background(), market.Btc4h, mustDate(t, "2026-03-10"))
	if err != nil {
		t.Fatalf("settle day: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("results=%d want 6", len(results))
	}
	for _, r := range results {
		if r.Outcome != OutcomeNotFound {
			t.Fatalf("outcome=%s want not_found", r.Outcome)
		}
	}
}

func TestSettle_OpenWindowWaitsForClose(t *testing.T) {
	repo := newStubRepo()
	seedUser(repo, "alice", "0")
	seedUser(repo, "bob", "0")
	seedPoll(repo, "p1", market.Btc1h, "40", "20", nil, nil)
	seedVote(repo, "p1", "alice", market.SideLong, "40")
	seedVote(repo, "p1", "bob", market.SideShort, "20")

	// Upstream answers with the live in-progress bar for the current window.
	gw := &stubGateway{candles: map[time.Time]marketdata.Candle{
		window: {Start: window, Open: dec("100"), High: dec("111"), Low: dec("99"), Close: dec("110")},
	}}
	now := window.Add(30 * time.Minute)
	svc := &SettlementService{Repo: repo, Candles: gw, Now: func() time.Time { return now }}

	res, err := svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != OutcomeUnsettleable {
		t.Fatalf("outcome=%s want unsettleable", res.Outcome)
	}
	if repo.polls["p1"].SettledAt != nil {
		t.Fatal("settled_at stamped while the window was open")
	}
	if got := repo.users["alice"].Balance; !got.Equal(dec("0")) {
		t.Fatalf("alice balance=%s want 0", got)
	}
	if len(repo.payouts) != 0 {
		t.Fatalf("payouts=%d want 0", len(repo.payouts))
	}

	// The same trigger settles once the window has closed.
	now = calendar.WindowEnd(market.Btc1h, window)
	res, err = svc.Settle(context.Background(), market.Btc1h, window)
	if err != nil {
		t.Fatalf("settle after close: %v", err)
	}
	if res.Outcome != OutcomeSettled || res.WinnerSide != market.SideLong {
		t.Fatalf("outcome=%s winner=%s", res.Outcome, res.WinnerSide)
	}
	if got := repo.users["alice"].Balance; !got.Equal(dec("60")) {
		t.Fatalf("alice balance=%s want 60", got)
	}
}

func TestSettleDay_ReportsInProgressWindowsUnsettleable(t *testing.T) {
	repo := newStubRepo()
	// Mid-day for the 2026-03-10 civil day: three 4h windows closed, three
	// still ahead.
	now := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	svc := &SettlementService{Repo: repo, Now: func() time.Time { return now }}

	results, err := svc.SettleDay(context.Background(), market.Btc4h, mustDate(t, "2026-03-10"))
	if err != nil {
		t.Fatalf("settle day: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("results=%d want 6", len(results))
	}
	for i, r := range results {
		want := OutcomeNotFound
		if calendar.WindowEnd(market.Btc4h, r.WindowStart).After(now) {
			want = OutcomeUnsettleable
		}
		if r.Outcome != want {
			t.Fatalf("window %d outcome=%s want %s", i, r.Outcome, want)
		}
	}
	closed := 0
	for _, r := range results {
		if r.Outcome == OutcomeNotFound {
			closed++
		}
	}
	if closed != 3 {
		t.Fatalf("closed windows=%d want 3", closed)
	}
}
