package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"figgie/internal/cards"
	"figgie/internal/logging"
	"figgie/internal/metrics"
	"figgie/internal/orderbook"
	"figgie/internal/settlement"
)

// Config contains the configurable items for the matching engine
type Config struct {
	// AllowMargin lets bids exceed the bidder's uncommitted balance
	AllowMargin bool `toml:"allow_margin"`
	// SingleOrderPerSide makes a new order replace the player's resting
	// order on the same side of the same suit
	SingleOrderPerSide bool `toml:"single_order_per_side"`
}

func NewDefaultConfig() Config {
	return Config{}
}

// Player registers a participant with the engine
type Player struct {
	ID       string
	Balance  int64
	Listener Listener
}

// Ack confirms an accepted order. Trade is set when the order crossed.
type Ack struct {
	Order orderbook.Order  `json:"order"`
	Trade *orderbook.Trade `json:"trade,omitempty"`
}

// Quote is top-of-book for a suit; 0 means no order on that side
type Quote struct {
	Suit cards.Suit `json:"suit"`
	Bid  int64      `json:"bid"`
	Ask  int64      `json:"ask"`
}

// Status describes the market phase
type Status struct {
	Round    int       `json:"round"`
	Open     bool      `json:"open"`
	Deadline time.Time `json:"deadline"`
}

// OpenRequest starts a round's trading phase
type OpenRequest struct {
	Round       int
	Deck        cards.Deck
	Hands       map[string]cards.Hand
	Deadline    time.Time
	RevealHands bool
}

type Option func(*Engine)

// WithClock replaces time.Now; tests use it to control the deadline
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = logging.OrNop(log).Named("exchange") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the matching engine. All state is owned by the goroutine running
// Run; every public method is a request to that goroutine and blocks until it
// has been processed, so fills, cancels and the deadline check are totally
// ordered.
type Engine struct {
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
	metrics *metrics.Metrics

	reqs    chan func()
	stopped chan struct{}

	// owned by the Run goroutine
	seats     []string
	accounts  map[string]*Account
	mailboxes map[string]*mailbox
	books     [cards.NumSuits]*orderbook.OrderBook
	open      bool
	round     int
	deadline  time.Time
	deck      cards.Hand
	cashTotal int64
	nextOrder orderbook.OrderID
	nextTrade uint64
	trades    []orderbook.Trade
	fault     error
}

func NewEngine(cfg Config, players []Player, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		log:       zap.NewNop(),
		now:       time.Now,
		reqs:      make(chan func()),
		stopped:   make(chan struct{}),
		accounts:  make(map[string]*Account, len(players)),
		mailboxes: make(map[string]*mailbox, len(players)),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, p := range players {
		if p.ID == "" {
			return nil, fmt.Errorf("player id required")
		}
		if _, dup := e.accounts[p.ID]; dup {
			return nil, fmt.Errorf("duplicate player %q", p.ID)
		}
		e.seats = append(e.seats, p.ID)
		e.accounts[p.ID] = &Account{ID: p.ID, Balance: p.Balance, Connected: true}
		e.cashTotal += p.Balance
		if p.Listener != nil {
			e.mailboxes[p.ID] = newMailbox(p.Listener)
		}
	}
	for _, s := range cards.Suits {
		e.books[s] = orderbook.New(s)
	}
	return e, nil
}

// Run processes requests until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		close(e.stopped)
		for _, mb := range e.mailboxes {
			mb.close()
		}
	}()

	for {
		select {
		case fn := <-e.reqs:
			start := time.Now()
			fn()
			e.metrics.ObserveRequest(time.Since(start))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// do runs fn on the engine goroutine and waits for it. Once a request has
// been handed over it always completes, so there is no second select on ctx.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	req := func() {
		defer close(done)
		fn()
	}
	select {
	case e.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}
	<-done
	return nil
}

// SubmitOrder validates and matches a one-card order for player
func (e *Engine) SubmitOrder(ctx context.Context, player string, side orderbook.Side, suit cards.Suit, price int64) (Ack, error) {
	var (
		ack Ack
		err error
	)
	if derr := e.do(ctx, func() { ack, err = e.submit(player, side, suit, price) }); derr != nil {
		return Ack{}, derr
	}
	return ack, err
}

// CancelOrder removes one of player's resting orders
func (e *Engine) CancelOrder(ctx context.Context, player string, id orderbook.OrderID) (orderbook.Order, error) {
	var (
		o   orderbook.Order
		err error
	)
	if derr := e.do(ctx, func() { o, err = e.cancel(player, id) }); derr != nil {
		return orderbook.Order{}, derr
	}
	return o, err
}

func (e *Engine) submit(player string, side orderbook.Side, suit cards.Suit, price int64) (Ack, error) {
	acct, ok := e.accounts[player]
	if !ok {
		return Ack{}, e.rejected(reject(ReasonUnknownPlayer, "%q", player))
	}
	if !acct.Connected {
		return Ack{}, e.rejected(reject(ReasonDisconnected, "%q", player))
	}
	now := e.now()
	if err := e.checkOpen(now); err != nil {
		return Ack{}, e.rejected(err)
	}
	if !suit.Valid() {
		return Ack{}, e.rejected(reject(ReasonInvalidSuit, "%d", int(suit)))
	}
	if price <= 0 {
		return Ack{}, e.rejected(reject(ReasonInvalidPrice, "%d", price))
	}

	book := e.books[suit]

	// orders this one replaces count as already released
	var replaced []orderbook.Order
	var freedCash int64
	var freedCards int
	if e.cfg.SingleOrderPerSide {
		for _, o := range book.OrdersByOwner(player) {
			if o.Side == side {
				replaced = append(replaced, o)
				if side == orderbook.Bid {
					freedCash += o.Price
				} else {
					freedCards++
				}
			}
		}
	}

	switch side {
	case orderbook.Bid:
		if avail := acct.availableCash() + freedCash; !e.cfg.AllowMargin && avail < price {
			return Ack{}, e.rejected(reject(ReasonInsufficientFunds, "bid %d, available %d", price, avail))
		}
	case orderbook.Ask:
		if avail := acct.availableCards(suit) + freedCards; avail < 1 {
			return Ack{}, e.rejected(reject(ReasonInsufficientInventory, "no uncommitted %s", suit))
		}
	default:
		return Ack{}, e.rejected(reject(ReasonInvalidPrice, "unknown side %d", int(side)))
	}

	e.nextOrder++
	res, err := book.Submit(orderbook.Order{
		ID:          e.nextOrder,
		Owner:       player,
		Suit:        suit,
		Side:        side,
		Price:       price,
		SubmittedAt: now,
	})
	if err != nil {
		if errors.Is(err, orderbook.ErrSelfTrade) {
			return Ack{}, e.rejected(reject(ReasonSelfTrade, "%s %s @%d", side, suit, price))
		}
		return Ack{}, e.rejected(reject(ReasonInvalidPrice, "%v", err))
	}

	for _, o := range replaced {
		if _, cerr := book.Cancel(o.ID, player); cerr == nil {
			acct.release(o)
		}
	}
	e.metrics.OrdersCancelled("replaced", len(replaced))
	e.metrics.OrderSubmitted(suit.String(), side.String())

	if res.Trade == nil {
		acct.reserve(res.Order)
		e.log.Debug("order resting",
			zap.String("player", player),
			zap.Stringer("suit", suit),
			zap.Stringer("side", side),
			zap.Int64("price", price),
			zap.Uint64("order", uint64(res.Order.ID)))
		return Ack{Order: res.Order}, nil
	}

	trade, err := e.fill(*res.Trade, *res.Resting)
	if err != nil {
		return Ack{}, err
	}
	return Ack{Order: res.Order, Trade: &trade}, nil
}

// fill applies a trade to both accounts. The card transfer and the cash
// transfer happen together inside one engine request.
func (e *Engine) fill(trade orderbook.Trade, resting orderbook.Order) (orderbook.Trade, error) {
	buyer := e.accounts[trade.BuyerID]
	seller := e.accounts[trade.SellerID]
	e.accounts[resting.Owner].release(resting)

	e.nextTrade++
	trade.Seq = e.nextTrade
	trade.Round = e.round

	buyer.Balance -= trade.Price
	seller.Balance += trade.Price
	buyer.Hand[trade.Suit]++
	seller.Hand[trade.Suit]--
	e.trades = append(e.trades, trade)

	if err := e.checkInvariants(); err != nil {
		return trade, err
	}

	e.metrics.Trade(trade.Suit.String(), trade.Price)
	e.log.Info("trade",
		zap.Int("round", trade.Round),
		zap.Uint64("seq", trade.Seq),
		zap.Stringer("suit", trade.Suit),
		zap.Int64("price", trade.Price),
		zap.String("buyer", trade.BuyerID),
		zap.String("seller", trade.SellerID))

	buyFill := Fill{Trade: trade, Side: orderbook.Bid, OrderID: trade.BuyOrderID, Balance: buyer.Balance, Hand: buyer.Hand}
	sellFill := Fill{Trade: trade, Side: orderbook.Ask, OrderID: trade.SellOrderID, Balance: seller.Balance, Hand: seller.Hand}
	e.notify(buyer.ID, func(l Listener) { l.OnFill(buyFill) })
	e.notify(seller.ID, func(l Listener) { l.OnFill(sellFill) })
	return trade, nil
}

// notify queues fn for player's listener. fn must only use values captured
// at the time of the call.
func (e *Engine) notify(player string, fn func(Listener)) {
	if mb, ok := e.mailboxes[player]; ok {
		mb.post(fn)
	}
}

func (e *Engine) checkInvariants() error {
	var hands []cards.Hand
	var cash int64
	for _, id := range e.seats {
		a := e.accounts[id]
		hands = append(hands, a.Hand)
		cash += a.Balance
		for _, s := range cards.Suits {
			if a.Hand[s] < 0 {
				return e.breach(fmt.Errorf("%w: %s holds %d %s", ErrInvariant, id, a.Hand[s], s))
			}
		}
	}
	if total := cards.Sum(hands...); total != e.deck {
		return e.breach(fmt.Errorf("%w: holdings %s, deck %s", ErrInvariant, total, e.deck))
	}
	if cash != e.cashTotal {
		return e.breach(fmt.Errorf("%w: cash %d, expected %d", ErrInvariant, cash, e.cashTotal))
	}
	return nil
}

// breach freezes the market; the orchestrator aborts the round
func (e *Engine) breach(err error) error {
	e.fault = err
	e.log.Error("invariant breach, closing market", zap.Error(err))
	e.close("fault")
	return err
}

func (e *Engine) checkOpen(now time.Time) error {
	if !e.open {
		return reject(ReasonMarketClosed, "round %d not trading", e.round)
	}
	if !now.Before(e.deadline) {
		e.close("deadline")
		return reject(ReasonMarketClosed, "deadline %s passed", e.deadline.Format(time.RFC3339Nano))
	}
	return nil
}

func (e *Engine) rejected(err error) error {
	if r, ok := ReasonOf(err); ok {
		e.metrics.OrderRejected(r.String())
		e.log.Debug("rejected", zap.Stringer("reason", r), zap.Error(err))
	}
	return err
}

func (e *Engine) cancel(player string, id orderbook.OrderID) (orderbook.Order, error) {
	acct, ok := e.accounts[player]
	if !ok {
		return orderbook.Order{}, e.rejected(reject(ReasonUnknownPlayer, "%q", player))
	}
	if err := e.checkOpen(e.now()); err != nil {
		return orderbook.Order{}, e.rejected(err)
	}
	for _, book := range e.books {
		if o, found := book.GetOrder(id); found {
			if o.Owner != player {
				break
			}
			cancelled, err := book.Cancel(id, player)
			if err != nil {
				break
			}
			acct.release(cancelled)
			e.metrics.OrdersCancelled("owner", 1)
			return cancelled, nil
		}
	}
	return orderbook.Order{}, e.rejected(reject(ReasonUnknownOrder, "order %d", id))
}

// close freezes the market exactly once per round: resting orders are
// cancelled and every listener is told.
func (e *Engine) close(cause string) bool {
	if !e.open {
		return false
	}
	e.open = false
	var n int
	for _, book := range e.books {
		n += len(book.Clear())
	}
	for _, a := range e.accounts {
		a.reservedCash = 0
		a.reservedCards = cards.Hand{}
	}
	e.metrics.OrdersCancelled("close", n)
	e.metrics.MarketOpen(false)
	e.log.Info("market closed", zap.Int("round", e.round), zap.String("cause", cause), zap.Int("cancelled", n))

	round := e.round
	for _, id := range e.seats {
		e.notify(id, func(l Listener) { l.OnMarketClosed(round) })
	}
	return true
}

// OpenRound deals the hands and opens trading until the deadline
func (e *Engine) OpenRound(ctx context.Context, req OpenRequest) error {
	var err error
	if derr := e.do(ctx, func() { err = e.openRound(req) }); derr != nil {
		return derr
	}
	return err
}

func (e *Engine) openRound(req OpenRequest) error {
	if e.open {
		return ErrRoundInProgress
	}
	hands := make([]cards.Hand, 0, len(e.seats))
	for _, id := range e.seats {
		h, ok := req.Hands[id]
		if !ok {
			return fmt.Errorf("%w: no hand for %s", ErrBadDeal, id)
		}
		hands = append(hands, h)
	}
	if len(req.Hands) != len(e.seats) {
		return fmt.Errorf("%w: %d hands for %d players", ErrBadDeal, len(req.Hands), len(e.seats))
	}
	if !req.Deck.Conserved(hands...) {
		return fmt.Errorf("%w: dealt %s, deck %s", ErrBadDeal, cards.Sum(hands...), req.Deck.Distribution())
	}

	e.open = true
	e.round = req.Round
	e.deadline = req.Deadline
	e.deck = req.Deck.Distribution()
	e.fault = nil
	e.cashTotal = 0
	for _, id := range e.seats {
		a := e.accounts[id]
		a.Hand = req.Hands[id]
		a.reservedCash = 0
		a.reservedCards = cards.Hand{}
		e.cashTotal += a.Balance
	}
	e.metrics.MarketOpen(true)
	e.log.Info("market open",
		zap.Int("round", req.Round),
		zap.Time("deadline", req.Deadline),
		zap.Stringer("deck", e.deck))

	players := append([]string(nil), e.seats...)
	for _, id := range e.seats {
		start := RoundStart{
			Round:    req.Round,
			Hand:     e.accounts[id].Hand,
			Balance:  e.accounts[id].Balance,
			Deadline: req.Deadline,
			Players:  players,
		}
		if req.RevealHands {
			start.Others = make(map[string]cards.Hand, len(e.seats)-1)
			for _, other := range e.seats {
				if other != id {
					start.Others[other] = req.Hands[other]
				}
			}
		}
		e.notify(id, func(l Listener) { l.OnRoundStarted(start) })
	}
	return nil
}

// CloseMarket freezes trading. It reports whether this call did the closing
// and any invariant breach recorded during the round.
func (e *Engine) CloseMarket(ctx context.Context) (bool, error) {
	var closed bool
	var fault error
	if err := e.do(ctx, func() {
		closed = e.close("clock")
		fault = e.fault
	}); err != nil {
		return false, err
	}
	return closed, fault
}

// Adjust moves chips outside of trading, for antes and refunds
func (e *Engine) Adjust(ctx context.Context, deltas map[string]int64, reason string) error {
	var err error
	if derr := e.do(ctx, func() { err = e.adjust(deltas, reason) }); derr != nil {
		return derr
	}
	return err
}

func (e *Engine) adjust(deltas map[string]int64, reason string) error {
	if e.open {
		return ErrRoundInProgress
	}
	for id := range deltas {
		if _, ok := e.accounts[id]; !ok {
			return reject(ReasonUnknownPlayer, "%q", id)
		}
	}
	for id, d := range deltas {
		e.accounts[id].Balance += d
		e.cashTotal += d
	}
	e.log.Debug("balances adjusted", zap.String("reason", reason), zap.Any("deltas", deltas))
	return nil
}

// ApplySettlement credits the payouts and notifies every participant
func (e *Engine) ApplySettlement(ctx context.Context, round int, res settlement.Result) error {
	var err error
	if derr := e.do(ctx, func() {
		if err = e.adjust(res.Totals(), "settlement"); err != nil {
			return
		}
		for _, p := range res.Payouts {
			payout := p
			e.notify(p.Player, func(l Listener) { l.OnRoundSettled(round, payout) })
		}
	}); derr != nil {
		return derr
	}
	return err
}

// Disconnect cancels the player's resting orders and refuses further orders.
// The player's hand stays in play for settlement.
func (e *Engine) Disconnect(ctx context.Context, player string) ([]orderbook.Order, error) {
	var (
		cancelled []orderbook.Order
		err       error
	)
	if derr := e.do(ctx, func() {
		a, ok := e.accounts[player]
		if !ok {
			err = reject(ReasonUnknownPlayer, "%q", player)
			return
		}
		a.Connected = false
		for _, book := range e.books {
			for _, o := range book.CancelOwner(player) {
				a.release(o)
				cancelled = append(cancelled, o)
			}
		}
		e.metrics.OrdersCancelled("disconnect", len(cancelled))
		e.log.Info("player disconnected", zap.String("player", player), zap.Int("cancelled", len(cancelled)))
	}); derr != nil {
		return nil, derr
	}
	return cancelled, err
}

func (e *Engine) Reconnect(ctx context.Context, player string) error {
	var err error
	if derr := e.do(ctx, func() {
		a, ok := e.accounts[player]
		if !ok {
			err = reject(ReasonUnknownPlayer, "%q", player)
			return
		}
		a.Connected = true
	}); derr != nil {
		return derr
	}
	return err
}

// Holdings returns every player's current hand
func (e *Engine) Holdings(ctx context.Context) (map[string]cards.Hand, error) {
	out := make(map[string]cards.Hand)
	err := e.do(ctx, func() {
		for id, a := range e.accounts {
			out[id] = a.Hand
		}
	})
	return out, err
}

// Balances returns every player's chip balance
func (e *Engine) Balances(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	err := e.do(ctx, func() {
		for id, a := range e.accounts {
			out[id] = a.Balance
		}
	})
	return out, err
}

func (e *Engine) Account(ctx context.Context, player string) (AccountView, error) {
	var (
		v   AccountView
		err error
	)
	if derr := e.do(ctx, func() {
		a, ok := e.accounts[player]
		if !ok {
			err = reject(ReasonUnknownPlayer, "%q", player)
			return
		}
		v = a.view()
	}); derr != nil {
		return AccountView{}, derr
	}
	return v, err
}

func (e *Engine) Quote(ctx context.Context, suit cards.Suit) (Quote, error) {
	if !suit.Valid() {
		return Quote{}, reject(ReasonInvalidSuit, "%d", int(suit))
	}
	q := Quote{Suit: suit}
	err := e.do(ctx, func() {
		if o, ok := e.books[suit].BestBid(); ok {
			q.Bid = o.Price
		}
		if o, ok := e.books[suit].BestAsk(); ok {
			q.Ask = o.Price
		}
	})
	return q, err
}

func (e *Engine) Book(ctx context.Context, suit cards.Suit) (orderbook.BookSnapshot, error) {
	if !suit.Valid() {
		return orderbook.BookSnapshot{}, reject(ReasonInvalidSuit, "%d", int(suit))
	}
	var snap orderbook.BookSnapshot
	err := e.do(ctx, func() { snap = e.books[suit].Snapshot() })
	return snap, err
}

// OpenOrders returns player's resting orders across all suits
func (e *Engine) OpenOrders(ctx context.Context, player string) ([]orderbook.Order, error) {
	var out []orderbook.Order
	err := e.do(ctx, func() {
		for _, book := range e.books {
			out = append(out, book.OrdersByOwner(player)...)
		}
	})
	return out, err
}

// Trades returns the session trade log in acceptance order. round 0 means
// every round.
func (e *Engine) Trades(ctx context.Context, round int) ([]orderbook.Trade, error) {
	var out []orderbook.Trade
	err := e.do(ctx, func() {
		for _, t := range e.trades {
			if round == 0 || t.Round == round {
				out = append(out, t)
			}
		}
	})
	return out, err
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	var s Status
	err := e.do(ctx, func() {
		// a passed deadline reads as closed even before the clock fires
		s = Status{Round: e.round, Open: e.open && e.now().Before(e.deadline), Deadline: e.deadline}
	})
	return s, err
}

// Players returns the participants in seat order
func (e *Engine) Players() []string {
	return append([]string(nil), e.seats...)
}
