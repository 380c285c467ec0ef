package exchange

import (
	"sync"
	"time"

	"figgie/internal/cards"
	"figgie/internal/orderbook"
	"figgie/internal/settlement"
)

// Listener receives a participant's notifications. Calls for one participant
// arrive in order on a dedicated goroutine; implementations may call back
// into the engine.
type Listener interface {
	OnRoundStarted(RoundStart)
	OnFill(Fill)
	OnMarketClosed(round int)
	OnRoundSettled(round int, payout settlement.Payout)
}

// RoundStart is what a participant learns when trading opens
type RoundStart struct {
	Round    int                   `json:"round"`
	Hand     cards.Hand            `json:"hand"`
	Balance  int64                 `json:"balance"`
	Deadline time.Time             `json:"deadline"`
	Players  []string              `json:"players"`
	Others   map[string]cards.Hand `json:"others,omitempty"` // learning mode only
}

// Fill tells a participant one of its orders traded
type Fill struct {
	Trade   orderbook.Trade   `json:"trade"`
	Side    orderbook.Side    `json:"side"`
	OrderID orderbook.OrderID `json:"order_id"`
	Balance int64             `json:"balance"`
	Hand    cards.Hand        `json:"hand"`
}

// mailbox delivers notifications to one listener without ever blocking the
// engine loop
type mailbox struct {
	l Listener

	mu     sync.Mutex
	queue  []func(Listener)
	wake   chan struct{}
	closed chan struct{}
	done   chan struct{}
}

func newMailbox(l Listener) *mailbox {
	m := &mailbox{
		l:      l,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) post(fn func(Listener)) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	defer close(m.done)
	for {
		select {
		case <-m.wake:
			m.drain()
		case <-m.closed:
			m.drain()
			return
		}
	}
}

func (m *mailbox) drain() {
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn(m.l)
		}
	}
}

// close delivers what is queued and waits for the goroutine to exit
func (m *mailbox) close() {
	close(m.closed)
	<-m.done
}
