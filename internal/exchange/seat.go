package exchange

import (
	"context"

	"figgie/internal/cards"
	"figgie/internal/orderbook"
)

// Seat is an agent's handle on the engine, bound to one player
type Seat struct {
	engine *Engine
	player string
}

func (e *Engine) Seat(player string) *Seat {
	return &Seat{engine: e, player: player}
}

func (s *Seat) Player() string {
	return s.player
}

func (s *Seat) SubmitOrder(ctx context.Context, side orderbook.Side, suit cards.Suit, price int64) (Ack, error) {
	return s.engine.SubmitOrder(ctx, s.player, side, suit, price)
}

func (s *Seat) Bid(ctx context.Context, suit cards.Suit, price int64) (Ack, error) {
	return s.SubmitOrder(ctx, orderbook.Bid, suit, price)
}

func (s *Seat) Ask(ctx context.Context, suit cards.Suit, price int64) (Ack, error) {
	return s.SubmitOrder(ctx, orderbook.Ask, suit, price)
}

func (s *Seat) CancelOrder(ctx context.Context, id orderbook.OrderID) error {
	_, err := s.engine.CancelOrder(ctx, s.player, id)
	return err
}

func (s *Seat) Account(ctx context.Context) (AccountView, error) {
	return s.engine.Account(ctx, s.player)
}

func (s *Seat) OpenOrders(ctx context.Context) ([]orderbook.Order, error) {
	return s.engine.OpenOrders(ctx, s.player)
}

func (s *Seat) Quote(ctx context.Context, suit cards.Suit) (Quote, error) {
	return s.engine.Quote(ctx, suit)
}

func (s *Seat) Book(ctx context.Context, suit cards.Suit) (orderbook.BookSnapshot, error) {
	return s.engine.Book(ctx, suit)
}

func (s *Seat) Status(ctx context.Context) (Status, error) {
	return s.engine.Status(ctx)
}
