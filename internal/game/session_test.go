package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figgie/internal/cards"
	"figgie/internal/config/encoding"
	"figgie/internal/exchange"
	"figgie/internal/orderbook"
	"figgie/internal/settlement"
)

type testAgent struct {
	id      string
	onStart func(ctx context.Context, seat *exchange.Seat, rs exchange.RoundStart)

	mu      sync.Mutex
	seat    *exchange.Seat
	starts  []exchange.RoundStart
	payouts []settlement.Payout
	stopped bool
}

func (a *testAgent) ID() string { return a.id }

func (a *testAgent) Start(seat *exchange.Seat) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seat = seat
	return nil
}

func (a *testAgent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

func (a *testAgent) OnRoundStarted(rs exchange.RoundStart) {
	a.mu.Lock()
	a.starts = append(a.starts, rs)
	seat := a.seat
	a.mu.Unlock()
	if a.onStart != nil {
		a.onStart(context.Background(), seat, rs)
	}
}

func (a *testAgent) OnFill(exchange.Fill) {}

func (a *testAgent) OnMarketClosed(int) {}

func (a *testAgent) OnRoundSettled(_ int, p settlement.Payout) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payouts = append(a.payouts, p)
}

func (a *testAgent) startCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.starts)
}

type memorySink struct {
	mu       sync.Mutex
	rounds   []RoundReport
	finished []SessionReport
}

func (m *memorySink) RoundSettled(_ context.Context, _ string, r RoundReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, r)
	return nil
}

func (m *memorySink) SessionFinished(_ context.Context, r SessionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, r)
	return nil
}

func fastConfig() Config {
	cfg := NewDefaultConfig()
	cfg.TradingDuration = encoding.Duration{Duration: 40 * time.Millisecond}
	cfg.Intermission = encoding.Duration{}
	cfg.MaxRounds = 3
	cfg.Seed = 7
	return cfg
}

func newAgents(n int) []*testAgent {
	out := make([]*testAgent, n)
	for i := range out {
		out[i] = &testAgent{id: fmt.Sprintf("p%d", i+1)}
	}
	return out
}

func asAgents(in []*testAgent) []Agent {
	out := make([]Agent, len(in))
	for i, a := range in {
		out[i] = a
	}
	return out
}

// trader sells one card of its longest holding at 5 and bids 5 for the
// suit it holds least of
func trader(ctx context.Context, seat *exchange.Seat, rs exchange.RoundStart) {
	most, least := cards.Spades, cards.Spades
	for _, s := range cards.Suits {
		if rs.Hand[s] > rs.Hand[most] {
			most = s
		}
		if rs.Hand[s] < rs.Hand[least] {
			least = s
		}
	}
	_, _ = seat.SubmitOrder(ctx, orderbook.Ask, most, 5)
	_, _ = seat.SubmitOrder(ctx, orderbook.Bid, least, 6)
}

func TestSessionPlaysAllRounds(t *testing.T) {
	agents := newAgents(4)
	for _, a := range agents {
		a.onStart = trader
	}
	sink := &memorySink{}
	s, err := NewSession(fastConfig(), asAgents(agents), WithSink(sink))
	require.NoError(t, err)

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Rounds, 3)
	assert.Len(t, sink.rounds, 3)
	require.Len(t, sink.finished, 1)
	assert.Equal(t, report.ID, sink.finished[0].ID)

	cfg := fastConfig()
	balances := map[string]int64{}
	for _, p := range report.Players {
		balances[p] = cfg.StartingBalance
	}

	for _, r := range report.Rounds {
		assert.Equal(t, cfg.RoundPot(), r.Pot)
		assert.Equal(t, r.LongSuit.Mate(), r.GoalSuit)
		assert.Equal(t, r.Distribution[r.LongSuit], cards.LongSuitCards)

		var paid int64
		for _, p := range r.Payouts {
			paid += p.Total
		}
		assert.Equal(t, r.Pot, paid, "round %d pays out the whole pot", r.Number)

		start := map[string]int64{}
		for p, b := range balances {
			start[p] = b - cfg.Ante()
		}
		replayed, hands, err := Replay(start, r.InitialHands, r.Trades)
		require.NoError(t, err)
		assert.Equal(t, r.FinalHands, hands)

		for _, p := range r.Payouts {
			replayed[p.Player] += p.Total
		}
		assert.Equal(t, r.Balances, replayed)
		balances = r.Balances
	}

	var total int64
	for _, rk := range report.Rankings {
		total += rk.Balance
	}
	assert.Equal(t, 4*cfg.StartingBalance, total)

	for _, a := range agents {
		a.mu.Lock()
		assert.True(t, a.stopped)
		assert.Len(t, a.payouts, 3)
		a.mu.Unlock()
	}
}

func TestSessionFreshDeckPerRound(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRounds = 6
	cfg.TradingDuration = encoding.Duration{Duration: 5 * time.Millisecond}
	s, err := NewSession(cfg, asAgents(newAgents(4)))
	require.NoError(t, err)

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, r := range report.Rounds {
		ids[r.ID] = true
		var hands []cards.Hand
		for _, h := range r.InitialHands {
			assert.Equal(t, 10, h.Total())
			hands = append(hands, h)
		}
		assert.Equal(t, r.Distribution, cards.Sum(hands...))
	}
	assert.Len(t, ids, 6)
}

func TestSessionCancelRefundsAntes(t *testing.T) {
	cfg := fastConfig()
	cfg.TradingDuration = encoding.Duration{Duration: time.Hour}
	agents := newAgents(4)
	s, err := NewSession(cfg, asAgents(agents))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for agents[0].startCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	report, err := s.Run(ctx)
	assert.ErrorIs(t, err, ErrRoundAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Rounds)
	for _, rk := range report.Rankings {
		assert.Equal(t, cfg.StartingBalance, rk.Balance)
	}
}

func TestLearningModeRevealsHands(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRounds = 1
	cfg.LearningMode = true
	cfg.LearningDuration = encoding.Duration{Duration: 20 * time.Millisecond}
	agents := newAgents(5)
	cfg.Players = 5

	s, err := NewSession(cfg, asAgents(agents))
	require.NoError(t, err)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Rounds, 1)

	agents[2].mu.Lock()
	defer agents[2].mu.Unlock()
	require.Len(t, agents[2].starts, 1)
	rs := agents[2].starts[0]
	assert.Equal(t, 8, rs.Hand.Total())
	assert.Len(t, rs.Others, 4)
	assert.Equal(t, report.Rounds[0].InitialHands["p1"], rs.Others["p1"])
	assert.Equal(t, cfg.StartingBalance-40, rs.Balance)
}

func TestMaxDurationEndsSession(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRounds = 0
	cfg.MaxDuration = encoding.Duration{Duration: time.Millisecond}
	cfg.TradingDuration = encoding.Duration{Duration: 5 * time.Millisecond}

	s, err := NewSession(cfg, asAgents(newAgents(4)))
	require.NoError(t, err)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Rounds, 1)
}

func TestNewSessionValidates(t *testing.T) {
	_, err := NewSession(fastConfig(), asAgents(newAgents(3)))
	assert.ErrorIs(t, err, ErrBadConfig)

	dup := newAgents(4)
	dup[3].id = "p1"
	_, err = NewSession(fastConfig(), asAgents(dup))
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())

	cfg := NewDefaultConfig()
	assert.Equal(t, int64(50), cfg.Ante())
	cfg.Players = 5
	assert.Equal(t, int64(40), cfg.Ante())
	assert.NoError(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Players = 6
	assert.ErrorIs(t, cfg.Validate(), ErrBadConfig)

	cfg = NewDefaultConfig()
	cfg.BonusPerCard = 25
	assert.ErrorIs(t, cfg.Validate(), settlement.ErrPotUnderfunded)

	cfg = NewDefaultConfig()
	cfg.TradingDuration = encoding.Duration{}
	assert.ErrorIs(t, cfg.Validate(), ErrBadConfig)

	cfg = NewDefaultConfig()
	cfg.MaxRounds = 0
	assert.ErrorIs(t, cfg.Validate(), ErrBadConfig)

	cfg = NewDefaultConfig()
	cfg.LearningMode = true
	assert.Equal(t, 1200*time.Second, cfg.Duration())
	assert.True(t, cfg.RevealHands())
}

func TestRankingsBreakTiesBySeat(t *testing.T) {
	got := Rankings([]string{"a", "b", "c", "d"}, map[string]int64{"a": 300, "b": 410, "c": 300, "d": 390})
	assert.Equal(t, []Ranking{
		{Rank: 1, Player: "b", Seat: 1, Balance: 410},
		{Rank: 2, Player: "d", Seat: 3, Balance: 390},
		{Rank: 3, Player: "a", Seat: 0, Balance: 300},
		{Rank: 4, Player: "c", Seat: 2, Balance: 300},
	}, got)
}

func TestReplay(t *testing.T) {
	balances := map[string]int64{"a": 300, "b": 300}
	hands := map[string]cards.Hand{"a": {1, 0, 0, 0}, "b": {0, 2, 0, 0}}
	trades := []orderbook.Trade{
		{Seq: 1, Suit: cards.Clubs, Price: 7, BuyerID: "a", SellerID: "b"},
		{Seq: 2, Suit: cards.Spades, Price: 3, BuyerID: "b", SellerID: "a"},
	}

	bal, h, err := Replay(balances, hands, trades)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 296, "b": 304}, bal)
	assert.Equal(t, cards.Hand{0, 1, 0, 0}, h["a"])
	assert.Equal(t, cards.Hand{1, 1, 0, 0}, h["b"])
	// inputs untouched
	assert.Equal(t, cards.Hand{1, 0, 0, 0}, hands["a"])

	_, _, err = Replay(balances, hands, []orderbook.Trade{{Suit: cards.Hearts, Price: 1, BuyerID: "a", SellerID: "b"}})
	assert.ErrorIs(t, err, ErrReplay)
	_, _, err = Replay(balances, hands, []orderbook.Trade{{Suit: cards.Clubs, Price: 1, BuyerID: "z", SellerID: "b"}})
	assert.ErrorIs(t, err, ErrReplay)
}

func TestSessionDisconnectedPlayerStillPaid(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRounds = 1
	agents := newAgents(4)

	var (
		s          *Session
		restingErr error
		afterBid   []orderbook.Order
		openAfter  []orderbook.Order
		lateErr    error
		done       = make(chan struct{})
	)
	agents[0].onStart = func(ctx context.Context, seat *exchange.Seat, rs exchange.RoundStart) {
		defer close(done)
		_, restingErr = seat.SubmitOrder(ctx, orderbook.Bid, cards.Hearts, 3)
		afterBid, _ = seat.OpenOrders(ctx)
		if err := s.Disconnect(ctx, "p1"); err != nil {
			restingErr = err
			return
		}
		openAfter, _ = seat.OpenOrders(ctx)
		_, lateErr = seat.SubmitOrder(ctx, orderbook.Bid, cards.Hearts, 3)
	}

	var err error
	s, err = NewSession(cfg, asAgents(agents))
	require.NoError(t, err)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	<-done

	require.NoError(t, restingErr)
	assert.Len(t, afterBid, 1, "bid rested before the disconnect")
	assert.Empty(t, openAfter, "disconnect cancels resting orders")
	assert.ErrorIs(t, lateErr, exchange.ErrDisconnected)

	require.Len(t, report.Rounds, 1)
	rr := report.Rounds[0]
	assert.Equal(t, rr.InitialHands["p1"], rr.FinalHands["p1"], "hand stands")

	want, err := settlement.Settle(settlement.Input{
		Players:      report.Players,
		Hands:        rr.FinalHands,
		Goal:         rr.GoalSuit,
		Pot:          rr.Pot,
		BonusPerCard: cfg.BonusPerCard,
	})
	require.NoError(t, err)
	wantP1, ok := want.Of("p1")
	require.True(t, ok)

	var got []settlement.Payout
	require.Eventually(t, func() bool {
		agents[0].mu.Lock()
		defer agents[0].mu.Unlock()
		got = append([]settlement.Payout(nil), agents[0].payouts...)
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, wantP1, got[0])
	assert.Equal(t, cfg.StartingBalance-cfg.Ante()+wantP1.Total, rr.Balances["p1"])
}

func TestSessionEndsWhenAnteCannotBeCovered(t *testing.T) {
	cfg := fastConfig()
	cfg.StartingBalance = cfg.Ante() - 1
	s, err := NewSession(cfg, asAgents(newAgents(4)))
	require.NoError(t, err)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Rounds)
	for _, rk := range report.Rankings {
		assert.Equal(t, cfg.StartingBalance, rk.Balance)
	}

	cfg.Exchange.AllowMargin = true
	cfg.MaxRounds = 2
	s, err = NewSession(cfg, asAgents(newAgents(4)))
	require.NoError(t, err)
	report, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Rounds, 2, "margin lets short stacks ante")
}
