package api

import (
	"sync"

	"figgie/internal/exchange"
	"figgie/internal/settlement"
)

// HumanAgent is a seat played over HTTP. The session drives it like any
// other agent; its notifications are pushed to the seat's WebSocket clients.
type HumanAgent struct {
	id  string
	hub *Hub

	mu   sync.RWMutex
	seat *exchange.Seat
	last *exchange.RoundStart
}

func NewHumanAgent(id string) *HumanAgent {
	return &HumanAgent{id: id, hub: NewHub()}
}

func (h *HumanAgent) ID() string {
	return h.id
}

func (h *HumanAgent) Start(seat *exchange.Seat) error {
	h.mu.Lock()
	h.seat = seat
	h.mu.Unlock()
	return nil
}

// Stop detaches the seat and drops the WebSocket clients
func (h *HumanAgent) Stop() {
	h.mu.Lock()
	h.seat = nil
	h.mu.Unlock()
	h.hub.Close()
}

// Seat returns the engine handle, or nil while the session is not running
func (h *HumanAgent) Seat() *exchange.Seat {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seat
}

// LastRoundStart is the most recent round start seen by this seat, so late
// clients can learn their hand
func (h *HumanAgent) LastRoundStart() (exchange.RoundStart, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return exchange.RoundStart{}, false
	}
	return *h.last, true
}

func (h *HumanAgent) Hub() *Hub {
	return h.hub
}

func (h *HumanAgent) OnRoundStarted(rs exchange.RoundStart) {
	h.mu.Lock()
	h.last = &rs
	h.mu.Unlock()
	h.hub.Broadcast(Event{Type: "round_started", Data: rs})
}

func (h *HumanAgent) OnFill(f exchange.Fill) {
	h.hub.Broadcast(Event{Type: "fill", Data: f})
}

func (h *HumanAgent) OnMarketClosed(round int) {
	h.hub.Broadcast(Event{Type: "market_closed", Data: map[string]int{"round": round}})
}

func (h *HumanAgent) OnRoundSettled(round int, payout settlement.Payout) {
	h.hub.Broadcast(Event{Type: "round_settled", Data: map[string]any{
		"round":  round,
		"payout": payout,
	}})
}
