package orderbook

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"figgie/internal/cards"
)

var seq OrderID

func newOrder(owner string, side Side, price int64) Order {
	seq++
	return Order{
		ID:          seq,
		Owner:       owner,
		Suit:        cards.Hearts,
		Side:        side,
		Price:       price,
		SubmittedAt: time.Unix(0, int64(seq)),
	}
}

func TestRestingOrderAddsToBook(t *testing.T) {
	book := New(cards.Hearts)

	res, err := book.Submit(newOrder("alice", Bid, 7))
	require.NoError(t, err)
	assert.Nil(t, res.Trade)
	assert.Equal(t, Open, res.Order.Status)

	best, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(7), best.Price)
	assert.Equal(t, "alice", best.Owner)

	_, ok = book.BestAsk()
	assert.False(t, ok)
}

func TestInvalidPrice(t *testing.T) {
	book := New(cards.Hearts)

	_, err := book.Submit(newOrder("alice", Bid, 0))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = book.Submit(newOrder("alice", Ask, -3))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, 0, book.Len())
}

func TestWrongSuitRejected(t *testing.T) {
	book := New(cards.Spades)
	_, err := book.Submit(newOrder("alice", Bid, 5))
	assert.ErrorIs(t, err, ErrWrongSuit)
}

func TestCrossTradesAtRestingPrice(t *testing.T) {
	book := New(cards.Hearts)

	ask := newOrder("seller", Ask, 10)
	_, err := book.Submit(ask)
	require.NoError(t, err)

	bid := newOrder("buyer", Bid, 14)
	res, err := book.Submit(bid)
	require.NoError(t, err)
	require.NotNil(t, res.Trade)

	assert.Equal(t, int64(10), res.Trade.Price, "aggressor gets the resting price")
	assert.Equal(t, "buyer", res.Trade.BuyerID)
	assert.Equal(t, "seller", res.Trade.SellerID)
	assert.Equal(t, bid.ID, res.Trade.BuyOrderID)
	assert.Equal(t, ask.ID, res.Trade.SellOrderID)
	assert.Equal(t, Bid, res.Trade.Aggressor)
	assert.Equal(t, Filled, res.Order.Status)
	require.NotNil(t, res.Resting)
	assert.Equal(t, Filled, res.Resting.Status)

	assert.Equal(t, 0, book.Len(), "crossing order is never inserted")
}

func TestIncomingAskCrossesBestBid(t *testing.T) {
	book := New(cards.Hearts)
	book.Submit(newOrder("b1", Bid, 8))
	book.Submit(newOrder("b2", Bid, 11))

	res, err := book.Submit(newOrder("seller", Ask, 5))
	require.NoError(t, err)
	require.NotNil(t, res.Trade)
	assert.Equal(t, int64(11), res.Trade.Price)
	assert.Equal(t, "b2", res.Trade.BuyerID)
	assert.Equal(t, Ask, res.Trade.Aggressor)

	best, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, "b1", best.Owner)
}

func TestTimePriorityAtEqualPrice(t *testing.T) {
	book := New(cards.Hearts)
	book.Submit(newOrder("first", Ask, 9))
	book.Submit(newOrder("second", Ask, 9))

	res, err := book.Submit(newOrder("buyer", Bid, 9))
	require.NoError(t, err)
	require.NotNil(t, res.Trade)
	assert.Equal(t, "first", res.Trade.SellerID)

	res, err = book.Submit(newOrder("buyer", Bid, 9))
	require.NoError(t, err)
	require.NotNil(t, res.Trade)
	assert.Equal(t, "second", res.Trade.SellerID)
}

func TestOneRestingOrderConsumedPerSubmit(t *testing.T) {
	book := New(cards.Hearts)
	book.Submit(newOrder("s1", Ask, 5))
	book.Submit(newOrder("s2", Ask, 6))

	_, err := book.Submit(newOrder("buyer", Bid, 20))
	require.NoError(t, err)
	assert.Equal(t, 1, book.Len())

	best, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "s2", best.Owner)
}

func TestSelfTradeRejected(t *testing.T) {
	book := New(cards.Hearts)
	book.Submit(newOrder("alice", Ask, 10))

	_, err := book.Submit(newOrder("alice", Bid, 12))
	assert.ErrorIs(t, err, ErrSelfTrade)
	assert.Equal(t, 1, book.Len())

	// a non-crossing bid from the same owner is fine
	_, err = book.Submit(newOrder("alice", Bid, 9))
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	book := New(cards.Hearts)
	o := newOrder("alice", Bid, 5)
	book.Submit(o)

	_, err := book.Cancel(o.ID, "bob")
	assert.ErrorIs(t, err, ErrInvalidCancel)

	cancelled, err := book.Cancel(o.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, Cancelled, cancelled.Status)
	assert.Equal(t, 0, book.Len())

	_, err = book.Cancel(o.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidCancel)
}

func TestCancelFilledOrderFails(t *testing.T) {
	book := New(cards.Hearts)
	ask := newOrder("seller", Ask, 5)
	book.Submit(ask)
	book.Submit(newOrder("buyer", Bid, 5))

	_, err := book.Cancel(ask.ID, "seller")
	assert.ErrorIs(t, err, ErrInvalidCancel)
}

func TestCancelOwnerAndClear(t *testing.T) {
	book := New(cards.Hearts)
	book.Submit(newOrder("alice", Bid, 3))
	book.Submit(newOrder("bob", Bid, 4))
	book.Submit(newOrder("alice", Ask, 12))

	cancelled := book.CancelOwner("alice")
	require.Len(t, cancelled, 2)
	assert.Less(t, cancelled[0].ID, cancelled[1].ID)
	assert.Empty(t, book.OrdersByOwner("alice"))
	assert.Len(t, book.OrdersByOwner("bob"), 1)

	cleared := book.Clear()
	assert.Len(t, cleared, 1)
	assert.Equal(t, 0, book.Len())
}

func TestSnapshotDepth(t *testing.T) {
	book := New(cards.Hearts)
	book.Submit(newOrder("a", Bid, 3))
	book.Submit(newOrder("b", Bid, 5))
	book.Submit(newOrder("c", Bid, 5))
	book.Submit(newOrder("d", Ask, 9))
	book.Submit(newOrder("e", Ask, 8))

	snap := book.Snapshot()
	assert.Equal(t, []LevelSnapshot{{Price: 5, Orders: 2}, {Price: 3, Orders: 1}}, snap.Bids)
	assert.Equal(t, []LevelSnapshot{{Price: 8, Orders: 1}, {Price: 9, Orders: 1}}, snap.Asks)
}

func TestPropertyBookNeverCrossed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := New(cards.Clubs)
		owners := []string{"p1", "p2", "p3", "p4"}
		var id OrderID
		var live []OrderID

		steps := rapid.IntRange(1, 80).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(live) > 0 && rapid.Bool().Draw(t, fmt.Sprintf("cancel%d", i)) {
				idx := rapid.IntRange(0, len(live)-1).Draw(t, fmt.Sprintf("which%d", i))
				if o, ok := book.GetOrder(live[idx]); ok {
					_, err := book.Cancel(o.ID, o.Owner)
					if err != nil {
						t.Fatalf("cancel of live order failed: %v", err)
					}
				}
				live = append(live[:idx], live[idx+1:]...)
			} else {
				id++
				o := Order{
					ID:    id,
					Owner: rapid.SampledFrom(owners).Draw(t, fmt.Sprintf("owner%d", i)),
					Suit:  cards.Clubs,
					Side:  Side(rapid.IntRange(0, 1).Draw(t, fmt.Sprintf("side%d", i))),
					Price: rapid.Int64Range(1, 30).Draw(t, fmt.Sprintf("price%d", i)),
				}
				before := book.Len()
				res, err := book.Submit(o)
				switch {
				case err != nil:
					if book.Len() != before {
						t.Fatalf("rejected submit changed the book")
					}
				case res.Trade != nil:
					if book.Len() != before-1 {
						t.Fatalf("trade consumed %d orders", before-book.Len())
					}
				default:
					live = append(live, o.ID)
				}
			}

			bid, hasBid := book.BestBid()
			ask, hasAsk := book.BestAsk()
			if hasBid && hasAsk && bid.Price >= ask.Price {
				t.Fatalf("book crossed: bid %d >= ask %d", bid.Price, ask.Price)
			}
		}
	})
}
