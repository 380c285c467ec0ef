package cards

import (
	"fmt"
	"strings"
)

// Suit is one of the four Figgie suits
type Suit int

const (
	Spades Suit = iota
	Clubs
	Hearts
	Diamonds
)

// NumSuits is the number of suits in a Figgie deck
const NumSuits = 4

// Suits lists every suit in canonical order
var Suits = [NumSuits]Suit{Spades, Clubs, Hearts, Diamonds}

// Color is the color of a suit
type Color int

const (
	Black Color = iota
	Red
)

func (c Color) String() string {
	if c == Black {
		return "Black"
	}
	return "Red"
}

func (s Suit) String() string {
	switch s {
	case Spades:
		return "Spades"
	case Clubs:
		return "Clubs"
	case Hearts:
		return "Hearts"
	case Diamonds:
		return "Diamonds"
	default:
		return "Unknown"
	}
}

// Letter returns the one-letter abbreviation used in card labels
func (s Suit) Letter() string {
	switch s {
	case Spades:
		return "S"
	case Clubs:
		return "C"
	case Hearts:
		return "H"
	case Diamonds:
		return "D"
	default:
		return "?"
	}
}

// Valid reports whether s is one of the four suits
func (s Suit) Valid() bool {
	return s >= Spades && s <= Diamonds
}

// Color returns black for spades and clubs, red for hearts and diamonds
func (s Suit) Color() Color {
	if s == Spades || s == Clubs {
		return Black
	}
	return Red
}

// Mate returns the other suit of the same color
func (s Suit) Mate() Suit {
	switch s {
	case Spades:
		return Clubs
	case Clubs:
		return Spades
	case Hearts:
		return Diamonds
	default:
		return Hearts
	}
}

func (s Suit) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid suit %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Suit) UnmarshalText(text []byte) error {
	parsed, err := ParseSuit(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSuit accepts a suit name or its one-letter abbreviation, case-insensitive
func ParseSuit(v string) (Suit, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "spades", "s":
		return Spades, nil
	case "clubs", "c":
		return Clubs, nil
	case "hearts", "h":
		return Hearts, nil
	case "diamonds", "d":
		return Diamonds, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSuit, v)
}
