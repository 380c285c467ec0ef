package cards

import (
	"errors"
	"fmt"
	"math/rand"
)

const (
	// DeckSize is the number of cards dealt each round
	DeckSize = 40

	LongSuitCards  = 12
	ShortSuitCards = 8
	CommonCards    = 10

	// MaxGoalCards is the most goal-suit cards a deck can hold
	MaxGoalCards = CommonCards
)

var (
	ErrUnknownSuit     = errors.New("unknown suit")
	ErrBadDistribution = errors.New("distribution must be one 12-card suit, one 8-card suit and two 10-card suits")
	ErrPlayerCount     = errors.New("figgie needs 4 or 5 players")
)

// Deck is the per-suit card distribution for a single round.
// The goal suit is the color-mate of the 12-card suit.
type Deck struct {
	counts [NumSuits]int
	long   Suit
}

// NewDeck draws a fresh distribution: the 12-card suit is chosen uniformly,
// then the 8-card suit uniformly among the other three.
func NewDeck(rng *rand.Rand) Deck {
	long := Suits[rng.Intn(NumSuits)]
	others := make([]Suit, 0, NumSuits-1)
	for _, s := range Suits {
		if s != long {
			others = append(others, s)
		}
	}
	short := others[rng.Intn(len(others))]

	var d Deck
	d.long = long
	for _, s := range Suits {
		switch s {
		case long:
			d.counts[s] = LongSuitCards
		case short:
			d.counts[s] = ShortSuitCards
		default:
			d.counts[s] = CommonCards
		}
	}
	return d
}

// NewDeckFromDistribution rebuilds a deck from explicit per-suit counts
func NewDeckFromDistribution(counts Hand) (Deck, error) {
	var longs, shorts, commons int
	var d Deck
	for _, s := range Suits {
		switch counts[s] {
		case LongSuitCards:
			longs++
			d.long = s
		case ShortSuitCards:
			shorts++
		case CommonCards:
			commons++
		}
	}
	if longs != 1 || shorts != 1 || commons != 2 {
		return Deck{}, fmt.Errorf("%w: got %s", ErrBadDistribution, counts)
	}
	d.counts = counts
	return d, nil
}

func (d Deck) Count(s Suit) int {
	return d.counts[s]
}

// Distribution returns the per-suit counts as a Hand
func (d Deck) Distribution() Hand {
	return Hand(d.counts)
}

// LongSuit is the 12-card suit, revealed at the end of a round
func (d Deck) LongSuit() Suit {
	return d.long
}

// GoalSuit is the scoring suit for the round
func (d Deck) GoalSuit() Suit {
	return d.long.Mate()
}

// GoalColor is the color shared by the long and goal suits
func (d Deck) GoalColor() Color {
	return d.long.Color()
}

// Conserved reports whether the hands hold exactly the deck's cards
func (d Deck) Conserved(hands ...Hand) bool {
	return Sum(hands...) == d.Distribution()
}

// Deal shuffles the deck and deals it round-robin. Four players get 10 cards
// each, five players get 8.
func Deal(d Deck, players int, rng *rand.Rand) ([]Hand, error) {
	if players != 4 && players != 5 {
		return nil, fmt.Errorf("%w: got %d", ErrPlayerCount, players)
	}

	pile := make([]Suit, 0, DeckSize)
	for _, s := range Suits {
		for i := 0; i < d.counts[s]; i++ {
			pile = append(pile, s)
		}
	}
	rng.Shuffle(len(pile), func(i, j int) {
		pile[i], pile[j] = pile[j], pile[i]
	})

	hands := make([]Hand, players)
	for i, s := range pile {
		hands[i%players][s]++
	}
	return hands, nil
}
