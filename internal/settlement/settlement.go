// Package settlement computes round payouts from final holdings. It has no
// dependency on the matching engine and is a pure function of its input.
package settlement

import (
	"errors"
	"fmt"

	"figgie/internal/cards"
)

var (
	// ErrPotUnderfunded means bonuses would exceed the pot. Configuration
	// validation should make this impossible.
	ErrPotUnderfunded = errors.New("pot cannot cover goal-suit bonuses")
	ErrNoPlayers      = errors.New("no players to settle")
	ErrMissingHand    = errors.New("player has no final hand")
	ErrNegativeInput  = errors.New("pot, bonus and card counts must be non-negative")
)

// Input is everything settlement needs. Players is the stable seat order used
// for the remainder tie-break.
type Input struct {
	Players      []string
	Hands        map[string]cards.Hand
	Goal         cards.Suit
	Pot          int64
	BonusPerCard int64
}

// Payout is one player's share of the round
type Payout struct {
	Player        string `json:"player" toml:"player"`
	GoalCards     int    `json:"goal_cards" toml:"goal_cards"`
	Bonus         int64  `json:"bonus" toml:"bonus"`
	MajorityShare int64  `json:"majority_share" toml:"majority_share"`
	Total         int64  `json:"total" toml:"total"`
	Winner        bool   `json:"winner" toml:"winner"`
}

// Result holds payouts in seat order
type Result struct {
	Payouts       []Payout `json:"payouts"`
	MajorityCount int      `json:"majority_count"`
	Winners       []string `json:"winners"`
	BonusTotal    int64    `json:"bonus_total"`
	MajorityPot   int64    `json:"majority_pot"`
}

// Of returns the payout for player
func (r Result) Of(player string) (Payout, bool) {
	for _, p := range r.Payouts {
		if p.Player == player {
			return p, true
		}
	}
	return Payout{}, false
}

// Totals maps each player to the chips they receive
func (r Result) Totals() map[string]int64 {
	out := make(map[string]int64, len(r.Payouts))
	for _, p := range r.Payouts {
		out[p.Player] = p.Total
	}
	return out
}

// Settle pays BonusPerCard for every goal-suit card held, then splits what is
// left of the pot evenly among the players holding the most goal-suit cards.
// When nobody holds a goal card every player ties at zero and shares the pot.
// An indivisible remainder goes to the first winner in seat order.
func Settle(in Input) (Result, error) {
	if len(in.Players) == 0 {
		return Result{}, ErrNoPlayers
	}
	if in.Pot < 0 || in.BonusPerCard < 0 {
		return Result{}, ErrNegativeInput
	}

	res := Result{Payouts: make([]Payout, len(in.Players))}
	for i, p := range in.Players {
		hand, ok := in.Hands[p]
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrMissingHand, p)
		}
		n := hand.Count(in.Goal)
		if n < 0 {
			return Result{}, fmt.Errorf("%w: %s holds %d", ErrNegativeInput, p, n)
		}
		bonus := in.BonusPerCard * int64(n)
		res.Payouts[i] = Payout{Player: p, GoalCards: n, Bonus: bonus}
		res.BonusTotal += bonus
		if n > res.MajorityCount {
			res.MajorityCount = n
		}
	}

	if res.BonusTotal > in.Pot {
		return Result{}, fmt.Errorf("%w: bonuses %d, pot %d", ErrPotUnderfunded, res.BonusTotal, in.Pot)
	}
	res.MajorityPot = in.Pot - res.BonusTotal

	var winners []int
	for i, p := range res.Payouts {
		if p.GoalCards == res.MajorityCount {
			winners = append(winners, i)
		}
	}

	share := res.MajorityPot / int64(len(winners))
	remainder := res.MajorityPot % int64(len(winners))
	for k, i := range winners {
		p := &res.Payouts[i]
		p.Winner = true
		p.MajorityShare = share
		if k == 0 {
			p.MajorityShare += remainder
		}
		res.Winners = append(res.Winners, p.Player)
	}

	for i := range res.Payouts {
		res.Payouts[i].Total = res.Payouts[i].Bonus + res.Payouts[i].MajorityShare
	}
	return res, nil
}

// Validate checks that a pot can always cover the worst-case bonus
func Validate(pot, bonusPerCard int64) error {
	if pot < 0 || bonusPerCard < 0 {
		return ErrNegativeInput
	}
	if worst := bonusPerCard * cards.MaxGoalCards; worst > pot {
		return fmt.Errorf("%w: pot %d, worst case %d", ErrPotUnderfunded, pot, worst)
	}
	return nil
}
