package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"figgie/internal/cards"
	"figgie/internal/exchange"
	"figgie/internal/logging"
	"figgie/internal/metrics"
	"figgie/internal/round"
	"figgie/internal/settlement"
)

var ErrRoundAborted = errors.New("round aborted")

type Option func(*Session)

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = logging.OrNop(log) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithSink adds a report sink; sinks are called in the order added
func WithSink(sink ReportSink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sink) }
}

// Session runs rounds of Figgie for a fixed set of agents
type Session struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	sinks   []ReportSink

	agents  []Agent
	players []string
	engine  *exchange.Engine
	rng     *rand.Rand

	mu      sync.RWMutex
	report  SessionReport
	current *round.Round
}

// NewSession validates cfg and seats agents in the order given
func NewSession(cfg Config, agents []Agent, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(agents) != cfg.Players {
		return nil, fmt.Errorf("%w: %d agents for %d players", ErrBadConfig, len(agents), cfg.Players)
	}

	s := &Session{
		cfg:    cfg,
		log:    zap.NewNop(),
		agents: agents,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("game")

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.rng = rand.New(rand.NewSource(seed))

	regs := make([]exchange.Player, 0, len(agents))
	for _, a := range agents {
		s.players = append(s.players, a.ID())
		regs = append(regs, exchange.Player{ID: a.ID(), Balance: cfg.StartingBalance, Listener: a})
	}
	engine, err := exchange.NewEngine(cfg.Exchange, regs,
		exchange.WithLogger(s.log),
		exchange.WithMetrics(s.metrics))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	s.engine = engine

	s.report = SessionReport{
		ID:              uuid.NewString(),
		Players:         append([]string(nil), s.players...),
		StartingBalance: cfg.StartingBalance,
	}
	s.log.Info("session created",
		zap.String("session", s.report.ID),
		zap.Strings("players", s.players),
		zap.Int64("seed", seed))
	return s, nil
}

// Engine exposes the matching engine for seat adapters
func (s *Session) Engine() *exchange.Engine {
	return s.engine
}

func (s *Session) ID() string {
	return s.report.ID
}

func (s *Session) Players() []string {
	return append([]string(nil), s.players...)
}

// Report returns a copy of the report so far
func (s *Session) Report() SessionReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.report
	r.Rounds = append([]RoundReport(nil), s.report.Rounds...)
	r.Rankings = append([]Ranking(nil), s.report.Rankings...)
	return r
}

// CurrentRound returns the round in progress, if any
func (s *Session) CurrentRound() (*round.Round, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

// Disconnect cancels the player's resting orders and stops it from trading.
// Its hand still counts at settlement.
func (s *Session) Disconnect(ctx context.Context, player string) error {
	_, err := s.engine.Disconnect(ctx, player)
	return err
}

func (s *Session) Reconnect(ctx context.Context, player string) error {
	return s.engine.Reconnect(ctx, player)
}

// Run plays rounds until a limit is reached, a round fails or ctx is done.
// The final report is returned in every case.
func (s *Session) Run(ctx context.Context) (SessionReport, error) {
	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = s.engine.Run(engineCtx)
	}()
	defer func() {
		stopEngine()
		<-engineDone
	}()

	for i, a := range s.agents {
		if err := a.Start(s.engine.Seat(a.ID())); err != nil {
			for _, started := range s.agents[:i] {
				started.Stop()
			}
			return s.Report(), fmt.Errorf("start agent %s: %w", a.ID(), err)
		}
	}

	started := time.Now()
	s.mu.Lock()
	s.report.StartedAt = started
	s.mu.Unlock()

	var runErr error
	for n := 1; ; n++ {
		short, err := s.shortOfAnte(ctx)
		if err != nil {
			runErr = err
			break
		}
		if len(short) > 0 {
			s.log.Info("ending session, players cannot cover the ante",
				zap.Strings("players", short), zap.Int64("ante", s.cfg.Ante()))
			break
		}
		if runErr = s.playRound(ctx, n); runErr != nil {
			break
		}
		if s.finished(n, started) {
			break
		}
		if runErr = sleep(ctx, s.cfg.Intermission.Get()); runErr != nil {
			break
		}
	}

	for _, a := range s.agents {
		a.Stop()
	}

	bg := context.WithoutCancel(ctx)
	balances, err := s.engine.Balances(bg)
	if err != nil && runErr == nil {
		runErr = err
	}

	s.mu.Lock()
	s.report.Rankings = Rankings(s.players, balances)
	s.report.EndedAt = time.Now()
	s.current = nil
	s.mu.Unlock()

	report := s.Report()
	for _, sink := range s.sinks {
		if err := sink.SessionFinished(bg, report); err != nil {
			s.log.Error("report sink failed", zap.Error(err))
		}
	}
	s.log.Info("session finished",
		zap.String("session", report.ID),
		zap.Int("rounds", len(report.Rounds)),
		zap.Any("rankings", report.Rankings),
		zap.NamedError("cause", runErr))
	return report, runErr
}

func (s *Session) finished(rounds int, started time.Time) bool {
	if s.cfg.MaxRounds > 0 && rounds >= s.cfg.MaxRounds {
		return true
	}
	if d := s.cfg.MaxDuration.Get(); d > 0 && time.Since(started) >= d {
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shortOfAnte lists the players whose balance no longer covers the ante.
// With margin allowed nobody is short.
func (s *Session) shortOfAnte(ctx context.Context) ([]string, error) {
	if s.cfg.Exchange.AllowMargin {
		return nil, nil
	}
	balances, err := s.engine.Balances(ctx)
	if err != nil {
		return nil, err
	}
	var short []string
	for _, p := range s.players {
		if balances[p] < s.cfg.Ante() {
			short = append(short, p)
		}
	}
	return short, nil
}

func (s *Session) antes(sign int64) map[string]int64 {
	out := make(map[string]int64, len(s.players))
	for _, p := range s.players {
		out[p] = sign * s.cfg.Ante()
	}
	return out
}

func (s *Session) playRound(ctx context.Context, n int) error {
	// every round gets a fresh deck, independent of earlier ones
	deck := cards.NewDeck(s.rng)
	dealt, err := cards.Deal(deck, len(s.players), s.rng)
	if err != nil {
		return err
	}
	hands := make(map[string]cards.Hand, len(s.players))
	for i, p := range s.players {
		hands[p] = dealt[i]
	}

	r := round.New(n, deck, s.cfg.RoundPot())
	s.mu.Lock()
	s.current = r
	s.mu.Unlock()

	if err := s.engine.Adjust(ctx, s.antes(-1), "ante"); err != nil {
		return fmt.Errorf("collect antes: %w", err)
	}

	log := s.log.With(zap.Int("round", n), zap.String("round_id", r.ID))
	bg := context.WithoutCancel(ctx)

	clock := round.NewClock(s.cfg.Duration(), nil)
	deadline := clock.Start()
	defer clock.Stop()

	if err := r.StartTrading(time.Now()); err != nil {
		return s.abort(bg, r, err)
	}
	err = s.engine.OpenRound(ctx, exchange.OpenRequest{
		Round:       n,
		Deck:        deck,
		Hands:       hands,
		Deadline:    deadline,
		RevealHands: s.cfg.RevealHands(),
	})
	if err != nil {
		return s.abort(bg, r, err)
	}
	log.Info("trading", zap.Time("deadline", deadline), zap.Int64("pot", r.Pot))

	select {
	case <-clock.Expired():
	case <-ctx.Done():
		return s.abort(bg, r, ctx.Err())
	}

	if _, err := s.engine.CloseMarket(bg); err != nil {
		return s.abort(bg, r, err)
	}
	if err := r.Reveal(time.Now()); err != nil {
		return s.abort(bg, r, err)
	}
	goal, _ := r.GoalSuit()
	long, _ := r.LongSuit()

	final, err := s.engine.Holdings(bg)
	if err != nil {
		return s.abort(bg, r, err)
	}
	res, err := settlement.Settle(settlement.Input{
		Players:      s.players,
		Hands:        final,
		Goal:         goal,
		Pot:          r.Pot,
		BonusPerCard: s.cfg.BonusPerCard,
	})
	if err != nil {
		return s.abort(bg, r, err)
	}
	if err := s.engine.ApplySettlement(bg, n, res); err != nil {
		return s.abort(bg, r, err)
	}
	if err := r.Settle(res.Payouts); err != nil {
		return err
	}
	s.metrics.RoundSettled()

	trades, err := s.engine.Trades(bg, n)
	if err != nil {
		return err
	}
	balances, err := s.engine.Balances(bg)
	if err != nil {
		return err
	}
	report := RoundReport{
		Number:       n,
		ID:           r.ID,
		GoalSuit:     goal,
		LongSuit:     long,
		Distribution: deck.Distribution(),
		Pot:          r.Pot,
		InitialHands: hands,
		FinalHands:   final,
		Trades:       trades,
		Payouts:      res.Payouts,
		Balances:     balances,
		StartedAt:    r.StartedAt(),
		EndedAt:      r.EndedAt(),
	}
	s.mu.Lock()
	s.report.Rounds = append(s.report.Rounds, report)
	s.mu.Unlock()

	log.Info("round settled",
		zap.Stringer("goal", goal),
		zap.Int("trades", len(trades)),
		zap.Strings("winners", res.Winners))

	for _, sink := range s.sinks {
		if err := sink.RoundSettled(bg, s.report.ID, report); err != nil {
			log.Error("report sink failed", zap.Error(err))
		}
	}
	return nil
}

// abort freezes the market and hands the antes back
func (s *Session) abort(ctx context.Context, r *round.Round, cause error) error {
	log := s.log.With(zap.Int("round", r.Number), zap.Error(cause))
	if _, err := s.engine.CloseMarket(ctx); err != nil && !errors.Is(err, exchange.ErrInvariant) {
		log.Error("close market during abort", zap.NamedError("close", err))
	}
	if err := s.engine.Adjust(ctx, s.antes(1), "refund"); err != nil {
		log.Error("refund antes", zap.NamedError("refund", err))
	}
	log.Error("round aborted, antes refunded")
	return fmt.Errorf("%w: round %d: %w", ErrRoundAborted, r.Number, cause)
}
