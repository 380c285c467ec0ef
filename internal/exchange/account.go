package exchange

import (
	"figgie/internal/cards"
	"figgie/internal/orderbook"
)

// Account is a participant's ledger entry. Only the engine loop touches it.
type Account struct {
	ID        string
	Balance   int64
	Hand      cards.Hand
	Connected bool

	// committed to resting orders
	reservedCash  int64
	reservedCards cards.Hand
}

// availableCash is what a new bid may commit
func (a *Account) availableCash() int64 {
	return a.Balance - a.reservedCash
}

// availableCards is how many cards of s a new ask may commit
func (a *Account) availableCards(s cards.Suit) int {
	return a.Hand[s] - a.reservedCards[s]
}

func (a *Account) reserve(o orderbook.Order) {
	if o.Side == orderbook.Bid {
		a.reservedCash += o.Price
	} else {
		a.reservedCards[o.Suit]++
	}
}

func (a *Account) release(o orderbook.Order) {
	if o.Side == orderbook.Bid {
		a.reservedCash -= o.Price
	} else {
		a.reservedCards[o.Suit]--
	}
}

// AccountView is a read-only copy of an account
type AccountView struct {
	ID            string     `json:"id"`
	Balance       int64      `json:"balance"`
	Hand          cards.Hand `json:"hand"`
	Connected     bool       `json:"connected"`
	ReservedCash  int64      `json:"reserved_cash"`
	ReservedCards cards.Hand `json:"reserved_cards"`
}

func (a *Account) view() AccountView {
	return AccountView{
		ID:            a.ID,
		Balance:       a.Balance,
		Hand:          a.Hand,
		Connected:     a.Connected,
		ReservedCash:  a.reservedCash,
		ReservedCards: a.reservedCards,
	}
}
