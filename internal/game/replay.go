package game

import (
	"errors"
	"fmt"

	"figgie/internal/cards"
	"figgie/internal/orderbook"
)

var ErrReplay = errors.New("trade log does not replay")

// Replay applies a trade log to starting balances and hands. Trades are
// applied in the order given, which must be acceptance order.
func Replay(balances map[string]int64, hands map[string]cards.Hand, trades []orderbook.Trade) (map[string]int64, map[string]cards.Hand, error) {
	outBal := make(map[string]int64, len(balances))
	for p, b := range balances {
		outBal[p] = b
	}
	outHands := make(map[string]cards.Hand, len(hands))
	for p, h := range hands {
		outHands[p] = h
	}

	for i, t := range trades {
		if !t.Suit.Valid() {
			return nil, nil, fmt.Errorf("%w: trade %d has suit %d", ErrReplay, i, int(t.Suit))
		}
		if t.BuyerID == t.SellerID {
			return nil, nil, fmt.Errorf("%w: trade %d is a self trade", ErrReplay, i)
		}
		buyer, ok := outHands[t.BuyerID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: trade %d unknown buyer %q", ErrReplay, i, t.BuyerID)
		}
		seller, ok := outHands[t.SellerID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: trade %d unknown seller %q", ErrReplay, i, t.SellerID)
		}
		if seller[t.Suit] < 1 {
			return nil, nil, fmt.Errorf("%w: trade %d seller %s has no %s", ErrReplay, i, t.SellerID, t.Suit)
		}
		buyer[t.Suit]++
		seller[t.Suit]--
		outHands[t.BuyerID] = buyer
		outHands[t.SellerID] = seller
		outBal[t.BuyerID] -= t.Price
		outBal[t.SellerID] += t.Price
	}
	return outBal, outHands, nil
}
