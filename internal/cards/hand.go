package cards

import (
	"fmt"
	"strings"
)

// Hand counts the cards a player holds per suit
type Hand [NumSuits]int

func (h Hand) Count(s Suit) int {
	return h[s]
}

func (h Hand) Total() int {
	var total int
	for _, n := range h {
		total += n
	}
	return total
}

// Add returns h with n cards of suit s added (n may be negative)
func (h Hand) Add(s Suit, n int) Hand {
	h[s] += n
	return h
}

// Sum adds hands suit by suit
func Sum(hands ...Hand) Hand {
	var total Hand
	for _, h := range hands {
		for _, s := range Suits {
			total[s] += h[s]
		}
	}
	return total
}

// String renders a hand like "S3 C2 H4 D1"
func (h Hand) String() string {
	parts := make([]string, 0, NumSuits)
	for _, s := range Suits {
		parts = append(parts, fmt.Sprintf("%s%d", s.Letter(), h[s]))
	}
	return strings.Join(parts, " ")
}

// Map returns the hand keyed by suit name
func (h Hand) Map() map[string]int {
	m := make(map[string]int, NumSuits)
	for _, s := range Suits {
		m[s.String()] = h[s]
	}
	return m
}

// HandFromMap is the inverse of Map
func HandFromMap(m map[string]int) (Hand, error) {
	var h Hand
	for name, n := range m {
		s, err := ParseSuit(name)
		if err != nil {
			return Hand{}, err
		}
		if n < 0 {
			return Hand{}, fmt.Errorf("negative count %d for %s", n, s)
		}
		h[s] = n
	}
	return h, nil
}
