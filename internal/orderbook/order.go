package orderbook

import (
	"time"

	"figgie/internal/cards"
)

type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Opposite returns the side an order of side s trades against
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

type Status int

const (
	Open Status = iota
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OrderID is the engine-wide submission sequence number of an order
type OrderID uint64

// Order is a request to buy or sell exactly one card of a suit.
// Orders are handed out by value; the book keeps the only live copy.
type Order struct {
	ID          OrderID    `json:"id"`
	Owner       string     `json:"owner"`
	Suit        cards.Suit `json:"suit"`
	Side        Side       `json:"side"`
	Price       int64      `json:"price"` // whole dollars
	Status      Status     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
}

// Seq is the time-priority key; IDs are assigned in submission order
func (o Order) Seq() uint64 {
	return uint64(o.ID)
}

// crosses reports whether o would trade against a resting order at price
func (o Order) crosses(price int64) bool {
	if o.Side == Bid {
		return o.Price >= price
	}
	return o.Price <= price
}

// Trade is the immutable record of one card changing hands
type Trade struct {
	Seq         uint64     `json:"seq"`
	Round       int        `json:"round"`
	Suit        cards.Suit `json:"suit"`
	Price       int64      `json:"price"`
	BuyerID     string     `json:"buyer_id"`
	SellerID    string     `json:"seller_id"`
	BuyOrderID  OrderID    `json:"buy_order_id"`
	SellOrderID OrderID    `json:"sell_order_id"`
	Aggressor   Side       `json:"aggressor"`
	Timestamp   time.Time  `json:"timestamp"`
}
