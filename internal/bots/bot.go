package bots

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"figgie/internal/cards"
	"figgie/internal/config/encoding"
	"figgie/internal/exchange"
	"figgie/internal/game"
	"figgie/internal/logging"
	"figgie/internal/orderbook"
	"figgie/internal/settlement"
)

// Config contains the configurable items for the bot lineup
type Config struct {
	// Interval is the mean time between a bot's actions
	Interval encoding.Duration `toml:"interval"`
	// NoiseSpread is how far noise quotes wander from the reference value
	NoiseSpread int64 `toml:"noise_spread"`
	// ValueEdge is the margin a value bot keeps around its valuation
	ValueEdge int64 `toml:"value_edge"`
	// MaxOpenOrders caps a bot's resting orders across all suits
	MaxOpenOrders int `toml:"max_open_orders"`
}

func NewDefaultConfig() Config {
	return Config{
		Interval:      encoding.Duration{Duration: 2 * time.Second},
		NoiseSpread:   4,
		ValueEdge:     2,
		MaxOpenOrders: 4,
	}
}

// State is what a bot knows about the current round
type State struct {
	Round    int
	Trading  bool
	Hand     cards.Hand
	Balance  int64
	Deadline time.Time
	Others   map[string]cards.Hand
}

// BaseBot tracks the notifications every bot needs and owns the action loop
type BaseBot struct {
	mu sync.Mutex

	id    string
	log   *zap.Logger
	seat  *exchange.Seat
	state State

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewBaseBot(id string, log *zap.Logger) *BaseBot {
	return &BaseBot{
		id:     id,
		log:    logging.OrNop(log).Named("bot").With(zap.String("bot", id)),
		stopCh: make(chan struct{}),
	}
}

func (b *BaseBot) ID() string {
	return b.id
}

// Stop ends the action loop and waits for it
func (b *BaseBot) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

// State returns a copy of the bot's view of the round
func (b *BaseBot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BaseBot) OnRoundStarted(rs exchange.RoundStart) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = State{
		Round:    rs.Round,
		Trading:  true,
		Hand:     rs.Hand,
		Balance:  rs.Balance,
		Deadline: rs.Deadline,
		Others:   rs.Others,
	}
}

func (b *BaseBot) OnFill(f exchange.Fill) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Hand = f.Hand
	b.state.Balance = f.Balance
}

func (b *BaseBot) OnMarketClosed(round int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Round == round {
		b.state.Trading = false
	}
}

func (b *BaseBot) OnRoundSettled(round int, p settlement.Payout) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Balance += p.Total
	b.log.Debug("round settled", zap.Int("round", round), zap.Int64("payout", p.Total))
}

// start binds the seat and runs act every next() while the market is open
func (b *BaseBot) start(seat *exchange.Seat, next func() time.Duration, act func(ctx context.Context, st State)) {
	b.mu.Lock()
	b.seat = seat
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		for {
			t := time.NewTimer(next())
			select {
			case <-t.C:
				if st := b.State(); st.Trading {
					act(ctx, st)
				}
			case <-b.stopCh:
				t.Stop()
				return
			}
		}
	}()
}

// submit sends an order and logs why it was refused, if it was
func (b *BaseBot) submit(ctx context.Context, side orderbook.Side, suit cards.Suit, price int64) (exchange.Ack, bool) {
	ack, err := b.seat.SubmitOrder(ctx, side, suit, price)
	if err != nil {
		b.log.Debug("order refused",
			zap.Stringer("side", side),
			zap.Stringer("suit", suit),
			zap.Int64("price", price),
			zap.Error(err))
		return exchange.Ack{}, false
	}
	return ack, true
}

// trimOrders cancels the oldest resting orders beyond max
func (b *BaseBot) trimOrders(ctx context.Context, max int) {
	if max < 0 {
		max = 0
	}
	orders, err := b.seat.OpenOrders(ctx)
	if err != nil || len(orders) <= max {
		return
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	for _, o := range orders[:len(orders)-max] {
		_ = b.seat.CancelOrder(ctx, o.ID)
	}
}

// cancelSuit cancels every resting order the bot has in suit
func (b *BaseBot) cancelSuit(ctx context.Context, suit cards.Suit) {
	orders, err := b.seat.OpenOrders(ctx)
	if err != nil {
		return
	}
	for _, o := range orders {
		if o.Suit == suit {
			_ = b.seat.CancelOrder(ctx, o.ID)
		}
	}
}

// Manager holds a lineup of agents
type Manager struct {
	mu     sync.Mutex
	agents []game.Agent
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Add(a game.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = append(m.agents, a)
}

// Agents returns the lineup in seat order
func (m *Manager) Agents() []game.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]game.Agent(nil), m.agents...)
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}
