package orderbook

import (
	"container/list"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"figgie/internal/cards"
)

var (
	ErrInvalidPrice  = errors.New("price must be positive")
	ErrInvalidCancel = errors.New("order is not open or not owned by requester")
	ErrSelfTrade     = errors.New("order would trade against own resting order")
	ErrWrongSuit     = errors.New("order suit does not match book")
)

// priceLevel holds the resting orders at one price in arrival order
type priceLevel struct {
	price  int64
	orders *list.List // of *Order
}

// OrderBook holds the outstanding bids and asks for a single suit
type OrderBook struct {
	Suit cards.Suit

	mu    sync.RWMutex
	bids  *btree.BTreeG[*priceLevel] // best (highest) bid is Min
	asks  *btree.BTreeG[*priceLevel] // best (lowest) ask is Min
	index map[OrderID]*list.Element
	owner map[string]map[OrderID]struct{}
}

// Result describes what a Submit did to the book
type Result struct {
	Order   Order  // the incoming order in its final state
	Trade   *Trade // set when the order crossed
	Resting *Order // the resting order consumed by the trade
}

func New(suit cards.Suit) *OrderBook {
	return &OrderBook{
		Suit:  suit,
		bids:  btree.NewG[*priceLevel](8, func(a, b *priceLevel) bool { return a.price > b.price }),
		asks:  btree.NewG[*priceLevel](8, func(a, b *priceLevel) bool { return a.price < b.price }),
		index: make(map[OrderID]*list.Element),
		owner: make(map[string]map[OrderID]struct{}),
	}
}

func (ob *OrderBook) side(s Side) *btree.BTreeG[*priceLevel] {
	if s == Bid {
		return ob.bids
	}
	return ob.asks
}

// Submit either crosses the incoming order against the best opposite order
// or rests it. A crossing order trades at the resting order's price and is
// never inserted. Orders are one card, so at most one resting order is
// consumed.
func (ob *OrderBook) Submit(order Order) (Result, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if order.Price <= 0 {
		return Result{}, ErrInvalidPrice
	}
	if order.Suit != ob.Suit {
		return Result{}, fmt.Errorf("%w: %s order for %s book", ErrWrongSuit, order.Suit, ob.Suit)
	}

	if best, ok := ob.best(order.Side.Opposite()); ok && order.crosses(best.Price) {
		if best.Owner == order.Owner {
			return Result{}, ErrSelfTrade
		}

		resting := ob.remove(best.ID)
		resting.Status = Filled
		order.Status = Filled

		trade := Trade{
			Suit:      ob.Suit,
			Price:     resting.Price, // resting order sets the price
			Aggressor: order.Side,
			Timestamp: order.SubmittedAt,
		}
		if order.Side == Bid {
			trade.BuyerID, trade.BuyOrderID = order.Owner, order.ID
			trade.SellerID, trade.SellOrderID = resting.Owner, resting.ID
		} else {
			trade.BuyerID, trade.BuyOrderID = resting.Owner, resting.ID
			trade.SellerID, trade.SellOrderID = order.Owner, order.ID
		}
		return Result{Order: order, Trade: &trade, Resting: &resting}, nil
	}

	order.Status = Open
	ob.insert(order)
	return Result{Order: order}, nil
}

func (ob *OrderBook) insert(order Order) {
	tree := ob.side(order.Side)
	level, ok := tree.Get(&priceLevel{price: order.Price})
	if !ok {
		level = &priceLevel{price: order.Price, orders: list.New()}
		tree.ReplaceOrInsert(level)
	}
	o := order
	ob.index[order.ID] = level.orders.PushBack(&o)
	if ob.owner[order.Owner] == nil {
		ob.owner[order.Owner] = make(map[OrderID]struct{})
	}
	ob.owner[order.Owner][order.ID] = struct{}{}
}

// remove takes an order out of the book and returns its last state
func (ob *OrderBook) remove(id OrderID) Order {
	elem := ob.index[id]
	o := elem.Value.(*Order)
	delete(ob.index, id)
	delete(ob.owner[o.Owner], id)
	if len(ob.owner[o.Owner]) == 0 {
		delete(ob.owner, o.Owner)
	}

	tree := ob.side(o.Side)
	level, _ := tree.Get(&priceLevel{price: o.Price})
	level.orders.Remove(elem)
	if level.orders.Len() == 0 {
		tree.Delete(level)
	}
	return *o
}

func (ob *OrderBook) best(s Side) (Order, bool) {
	level, ok := ob.side(s).Min()
	if !ok {
		return Order{}, false
	}
	return *level.orders.Front().Value.(*Order), true
}

// Cancel removes an open order owned by requester
func (ob *OrderBook) Cancel(id OrderID, requester string) (Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	elem, ok := ob.index[id]
	if !ok || elem.Value.(*Order).Owner != requester {
		return Order{}, ErrInvalidCancel
	}
	o := ob.remove(id)
	o.Status = Cancelled
	return o, nil
}

// CancelOwner removes every resting order of owner, oldest first
func (ob *OrderBook) CancelOwner(owner string) []Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	var cancelled []Order
	for _, o := range ob.ownerOrdersLocked(owner) {
		c := ob.remove(o.ID)
		c.Status = Cancelled
		cancelled = append(cancelled, c)
	}
	return cancelled
}

// Clear cancels every resting order, oldest first
func (ob *OrderBook) Clear() []Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	var cancelled []Order
	for _, o := range ob.allOrdersLocked() {
		c := ob.remove(o.ID)
		c.Status = Cancelled
		cancelled = append(cancelled, c)
	}
	return cancelled
}

func (ob *OrderBook) allOrdersLocked() []Order {
	out := make([]Order, 0, len(ob.index))
	for _, elem := range ob.index {
		out = append(out, *elem.Value.(*Order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (ob *OrderBook) ownerOrdersLocked(owner string) []Order {
	ids := ob.owner[owner]
	out := make([]Order, 0, len(ids))
	for id := range ids {
		out = append(out, *ob.index[id].Value.(*Order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetOrder returns a resting order by ID
func (ob *OrderBook) GetOrder(id OrderID) (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	elem, ok := ob.index[id]
	if !ok {
		return Order{}, false
	}
	return *elem.Value.(*Order), true
}

// OrdersByOwner returns the owner's resting orders, oldest first
func (ob *OrderBook) OrdersByOwner(owner string) []Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.ownerOrdersLocked(owner)
}

// BestBid returns the highest bid, earliest first at equal price
func (ob *OrderBook) BestBid() (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.best(Bid)
}

// BestAsk returns the lowest ask, earliest first at equal price
func (ob *OrderBook) BestAsk() (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.best(Ask)
}

// Len returns the number of resting orders
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.index)
}

// BookSnapshot is the aggregated depth of a book
type BookSnapshot struct {
	Suit cards.Suit      `json:"suit"`
	Bids []LevelSnapshot `json:"bids"`
	Asks []LevelSnapshot `json:"asks"`
}

type LevelSnapshot struct {
	Price  int64 `json:"price"`
	Orders int   `json:"orders"`
}

func (ob *OrderBook) Snapshot() BookSnapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	snap := BookSnapshot{
		Suit: ob.Suit,
		Bids: make([]LevelSnapshot, 0, ob.bids.Len()),
		Asks: make([]LevelSnapshot, 0, ob.asks.Len()),
	}
	ob.bids.Ascend(func(l *priceLevel) bool {
		snap.Bids = append(snap.Bids, LevelSnapshot{Price: l.price, Orders: l.orders.Len()})
		return true
	})
	ob.asks.Ascend(func(l *priceLevel) bool {
		snap.Asks = append(snap.Asks, LevelSnapshot{Price: l.price, Orders: l.orders.Len()})
		return true
	})
	return snap
}
