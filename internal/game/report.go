package game

import (
	"context"
	"sort"
	"time"

	"figgie/internal/cards"
	"figgie/internal/exchange"
	"figgie/internal/orderbook"
	"figgie/internal/settlement"
)

// Agent is a participant driven by the session. Notifications arrive through
// the embedded Listener; orders go through the seat handed to Start.
type Agent interface {
	exchange.Listener
	ID() string
	Start(seat *exchange.Seat) error
	Stop()
}

// RoundReport is the record of one settled round
type RoundReport struct {
	Number       int                   `json:"number"`
	ID           string                `json:"id"`
	GoalSuit     cards.Suit            `json:"goal_suit"`
	LongSuit     cards.Suit            `json:"long_suit"`
	Distribution cards.Hand            `json:"distribution"`
	Pot          int64                 `json:"pot"`
	InitialHands map[string]cards.Hand `json:"initial_hands"`
	FinalHands   map[string]cards.Hand `json:"final_hands"`
	Trades       []orderbook.Trade     `json:"trades"`
	Payouts      []settlement.Payout   `json:"payouts"`
	Balances     map[string]int64      `json:"balances"`
	StartedAt    time.Time             `json:"started_at"`
	EndedAt      time.Time             `json:"ended_at"`
}

// Ranking is a player's final standing
type Ranking struct {
	Rank    int    `json:"rank"`
	Player  string `json:"player"`
	Seat    int    `json:"seat"`
	Balance int64  `json:"balance"`
}

// SessionReport is the record of a whole session
type SessionReport struct {
	ID              string        `json:"id"`
	Players         []string      `json:"players"`
	StartingBalance int64         `json:"starting_balance"`
	Rounds          []RoundReport `json:"rounds"`
	Rankings        []Ranking     `json:"rankings"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at"`
}

// ReportSink receives reports as the session progresses. Errors are logged
// and do not stop the session.
type ReportSink interface {
	RoundSettled(ctx context.Context, sessionID string, r RoundReport) error
	SessionFinished(ctx context.Context, r SessionReport) error
}

// Rankings orders players by balance, highest first; ties keep seat order
func Rankings(players []string, balances map[string]int64) []Ranking {
	out := make([]Ranking, len(players))
	for i, p := range players {
		out[i] = Ranking{Player: p, Seat: i, Balance: balances[p]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Balance > out[j].Balance
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
