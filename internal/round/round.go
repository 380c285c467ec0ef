package round

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"figgie/internal/cards"
	"figgie/internal/settlement"
)

// Phase is the lifecycle state of a round
type Phase int

const (
	PhaseSetup    Phase = iota // Deck chosen, hands dealt, antes collected
	PhaseTrading               // Market open until the deadline
	PhaseRevealed              // Market frozen, goal suit public
	PhaseSettled               // Payouts applied
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "SETUP"
	case PhaseTrading:
		return "TRADING"
	case PhaseRevealed:
		return "REVEALED"
	case PhaseSettled:
		return "SETTLED"
	default:
		return "UNKNOWN"
	}
}

var ErrBadTransition = errors.New("illegal round transition")

// Round holds one round's deck, pot and phase. The goal suit stays hidden
// until the round is revealed.
type Round struct {
	mu sync.RWMutex

	ID     string
	Number int
	Pot    int64

	deck      cards.Deck
	phase     Phase
	startedAt time.Time
	endedAt   time.Time
	payouts   []settlement.Payout
}

// New creates a round in the setup phase
func New(number int, deck cards.Deck, pot int64) *Round {
	return &Round{
		ID:     uuid.NewString(),
		Number: number,
		Pot:    pot,
		deck:   deck,
		phase:  PhaseSetup,
	}
}

func (r *Round) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *Round) transition(from, to Phase) error {
	if r.phase != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrBadTransition, from, to, r.phase)
	}
	r.phase = to
	return nil
}

// StartTrading opens the trading phase
func (r *Round) StartTrading(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transition(PhaseSetup, PhaseTrading); err != nil {
		return err
	}
	r.startedAt = now
	return nil
}

// Reveal ends trading and makes the goal suit public
func (r *Round) Reveal(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transition(PhaseTrading, PhaseRevealed); err != nil {
		return err
	}
	r.endedAt = now
	return nil
}

// Settle records the payouts and completes the round
func (r *Round) Settle(payouts []settlement.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transition(PhaseRevealed, PhaseSettled); err != nil {
		return err
	}
	r.payouts = append([]settlement.Payout(nil), payouts...)
	return nil
}

// GoalSuit returns the goal suit once the round has been revealed
func (r *Round) GoalSuit() (cards.Suit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.phase < PhaseRevealed {
		return 0, false
	}
	return r.deck.GoalSuit(), true
}

// LongSuit returns the 12-card suit once the round has been revealed
func (r *Round) LongSuit() (cards.Suit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.phase < PhaseRevealed {
		return 0, false
	}
	return r.deck.LongSuit(), true
}

// Deck returns the full deck. Only the orchestrator should call it before the
// reveal.
func (r *Round) Deck() cards.Deck {
	return r.deck
}

func (r *Round) StartedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startedAt
}

func (r *Round) EndedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endedAt
}

func (r *Round) Payouts() []settlement.Payout {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]settlement.Payout(nil), r.payouts...)
}
