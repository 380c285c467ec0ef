package bots

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"figgie/internal/cards"
	"figgie/internal/exchange"
	"figgie/internal/orderbook"
)

const (
	goalValue      = 30
	sameColorValue = 20
	otherValue     = 10

	// acceptance steepness for lifting offers and hitting bids
	alpha = 0.5
	beta  = 0.5
)

// Valuation is the heuristic worth of a card of suit when goal is the goal
// suit: 30 for the goal suit, 20 for its color-mate, 10 otherwise
func Valuation(suit, goal cards.Suit) int64 {
	switch {
	case suit == goal:
		return goalValue
	case suit.Color() == goal.Color():
		return sameColorValue
	default:
		return otherValue
	}
}

// InferGoal guesses the goal suit: the mate of the suit seen most often.
// With every hand visible the guess is exact.
func InferGoal(hands ...cards.Hand) cards.Suit {
	total := cards.Sum(hands...)
	long := cards.Spades
	for _, s := range cards.Suits {
		if total[s] > total[long] {
			long = s
		}
	}
	return long.Mate()
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// BuyProbability is how likely a buyer valuing a card at value pays price
func BuyProbability(value, price int64) float64 {
	return logistic(alpha * float64(value-price))
}

// SellProbability is how likely a seller valuing a card at value accepts price
func SellProbability(value, price int64) float64 {
	return logistic(beta * float64(price-value))
}

// ValueBot values cards against its best guess of the goal suit, takes
// quotes it likes and otherwise quotes around its valuation
type ValueBot struct {
	*BaseBot
	avgInterval time.Duration
	edge        int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewValueBot(id string, cfg Config, seed int64, log *zap.Logger) *ValueBot {
	return &ValueBot{
		BaseBot:     NewBaseBot(id, log),
		avgInterval: cfg.Interval.Get(),
		edge:        cfg.ValueEdge,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (v *ValueBot) Start(seat *exchange.Seat) error {
	v.start(seat, v.wait, v.act)
	return nil
}

func (v *ValueBot) wait() time.Duration {
	v.rngMu.Lock()
	defer v.rngMu.Unlock()
	return time.Duration(float64(v.avgInterval) * (0.5 + v.rng.Float64()))
}

func (v *ValueBot) roll() float64 {
	v.rngMu.Lock()
	defer v.rngMu.Unlock()
	return v.rng.Float64()
}

// Goal is the bot's current guess of the goal suit
func (v *ValueBot) Goal() cards.Suit {
	st := v.State()
	hands := []cards.Hand{st.Hand}
	for _, h := range st.Others {
		hands = append(hands, h)
	}
	return InferGoal(hands...)
}

func (v *ValueBot) act(ctx context.Context, st State) {
	v.rngMu.Lock()
	suit := cards.Suits[v.rng.Intn(cards.NumSuits)]
	v.rngMu.Unlock()

	value := Valuation(suit, v.Goal())
	q, err := v.seat.Quote(ctx, suit)
	if err != nil {
		return
	}

	if q.Ask > 0 && q.Ask <= st.Balance && v.roll() < BuyProbability(value, q.Ask) {
		if ack, ok := v.submit(ctx, orderbook.Bid, suit, q.Ask); ok && ack.Trade != nil {
			return
		}
	}
	if q.Bid > 0 && st.Hand[suit] > 0 && v.roll() < SellProbability(value, q.Bid) {
		if ack, ok := v.submit(ctx, orderbook.Ask, suit, q.Bid); ok && ack.Trade != nil {
			return
		}
	}

	// requote the suit around the valuation
	v.cancelSuit(ctx, suit)
	if bid := value - v.edge; bid > 0 && (q.Ask == 0 || bid < q.Ask) {
		v.submit(ctx, orderbook.Bid, suit, bid)
	}
	if ask := value + v.edge; st.Hand[suit] > 0 && (q.Bid == 0 || ask > q.Bid) {
		v.submit(ctx, orderbook.Ask, suit, ask)
	}
}
