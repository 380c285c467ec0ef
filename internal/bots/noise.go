package bots

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"figgie/internal/cards"
	"figgie/internal/exchange"
	"figgie/internal/orderbook"
)

// referenceValue is the average card value when nothing is known about the
// goal suit
const referenceValue = 15

// NoiseBot places random orders around a reference value to create market
// texture
type NoiseBot struct {
	*BaseBot
	avgInterval time.Duration
	spread      int64
	maxOpen     int

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewNoiseBot(id string, cfg Config, seed int64, log *zap.Logger) *NoiseBot {
	return &NoiseBot{
		BaseBot:     NewBaseBot(id, log),
		avgInterval: cfg.Interval.Get(),
		spread:      cfg.NoiseSpread,
		maxOpen:     cfg.MaxOpenOrders,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (n *NoiseBot) Start(seat *exchange.Seat) error {
	n.start(seat, n.wait, n.act)
	return nil
}

// wait draws the next interval uniformly from half to one and a half times
// the average
func (n *NoiseBot) wait() time.Duration {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return time.Duration(float64(n.avgInterval) * (0.5 + n.rng.Float64()))
}

func (n *NoiseBot) act(ctx context.Context, st State) {
	n.rngMu.Lock()
	suit := cards.Suits[n.rng.Intn(cards.NumSuits)]
	side := orderbook.Bid
	if n.rng.Intn(2) == 1 {
		side = orderbook.Ask
	}
	price := int64(referenceValue)
	if n.spread > 0 {
		price += n.rng.Int63n(2*n.spread+1) - n.spread
	}
	n.rngMu.Unlock()

	if side == orderbook.Ask && st.Hand[suit] == 0 {
		side = orderbook.Bid
	}
	if price < 1 {
		price = 1
	}

	n.trimOrders(ctx, n.maxOpen-1)
	n.submit(ctx, side, suit, price)
}
