// Package pfn writes and reads Portable Figgie Notation, a TOML record of one
// round: the deck, the deal, every trade and the result.
package pfn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"figgie/internal/cards"
	"figgie/internal/game"
)

var (
	ErrBadCard   = errors.New("bad card label")
	ErrBadPrice  = errors.New("price must be a whole number of chips")
	ErrBadResult = errors.New("bad result section")
)

// Config contains the configurable items for PFN export
type Config struct {
	// Dir receives one file per round; empty disables export
	Dir     string `toml:"dir"`
	Title   string `toml:"title"`
	Variant string `toml:"variant"`
}

func NewDefaultConfig() Config {
	return Config{
		Title:   "Figgie",
		Variant: "Standard",
	}
}

type Document struct {
	FiggieGame Header            `toml:"FiggieGame"`
	DeckSetup  DeckSetup         `toml:"DeckSetup"`
	Deal       map[string]string `toml:"Deal"`
	Trades     []Trade           `toml:"Trades"`
	Result     Result            `toml:"Result"`
}

type Header struct {
	Title        string  `toml:"Title"`
	GameID       string  `toml:"GameID"`
	Round        int     `toml:"Round"`
	Players      int     `toml:"Players"`
	Date         string  `toml:"Date"`
	GameDuration float64 `toml:"GameDuration"` // seconds
	GameVariant  string  `toml:"GameVariant"`
}

type DeckSetup struct {
	GoalSuitColor string         `toml:"GoalSuitColor"`
	GoalSuit      string         `toml:"GoalSuit"`
	Distribution  map[string]int `toml:"Distribution"`
}

type Trade struct {
	TradeIndex int     `toml:"TradeIndex"`
	T          float64 `toml:"T"` // seconds since trading opened
	Buyer      string  `toml:"Buyer"`
	Seller     string  `toml:"Seller"`
	Suit       string  `toml:"Suit"`
	Card       string  `toml:"Card,omitempty"`
	Price      Chips   `toml:"Price"`
}

// Chips is a whole-dollar amount. Files written by other tools may carry it
// as a float; only whole values are accepted.
type Chips int64

func (c *Chips) UnmarshalTOML(v any) error {
	n, err := wholeChips(v)
	if err != nil {
		return err
	}
	*c = Chips(n)
	return nil
}

func wholeChips(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%w: %v", ErrBadPrice, n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("%w: %v", ErrBadPrice, v)
}

type Result struct {
	Revealed12CardSuit string           `toml:"Revealed12CardSuit"`
	GoalSuit           string           `toml:"GoalSuit"`
	FinalBank          map[string]int64 `toml:"FinalBank"`
	Winners            []string         `toml:"Winners"`
}

const finalBankSuffix = "_FinalBank"

// UnmarshalTOML reads the final banks either from a FinalBank table or from
// flat "<player>_FinalBank" keys.
func (r *Result) UnmarshalTOML(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: not a table", ErrBadResult)
	}
	out := Result{FinalBank: map[string]int64{}}
	for key, val := range m {
		ok = true
		switch {
		case key == "Revealed12CardSuit":
			out.Revealed12CardSuit, ok = val.(string)
		case key == "GoalSuit":
			out.GoalSuit, ok = val.(string)
		case key == "Winners":
			list, isList := val.([]any)
			ok = isList
			for _, w := range list {
				name, isName := w.(string)
				if !isName {
					return fmt.Errorf("%w: winner %v", ErrBadResult, w)
				}
				out.Winners = append(out.Winners, name)
			}
		case key == "FinalBank":
			banks, isTable := val.(map[string]any)
			ok = isTable
			for p, b := range banks {
				n, err := wholeChips(b)
				if err != nil {
					return fmt.Errorf("final bank of %s: %w", p, err)
				}
				out.FinalBank[p] = n
			}
		case strings.HasSuffix(key, finalBankSuffix):
			n, err := wholeChips(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			out.FinalBank[strings.TrimSuffix(key, finalBankSuffix)] = n
		}
		if !ok {
			return fmt.Errorf("%w: %s has type %T", ErrBadResult, key, val)
		}
	}
	*r = out
	return nil
}

// FromRound converts a settled round. Players are listed in seat order, taken
// from the payouts.
func FromRound(gameID, title, variant string, r game.RoundReport) Document {
	doc := Document{
		FiggieGame: Header{
			Title:        title,
			GameID:       gameID,
			Round:        r.Number,
			Players:      len(r.Payouts),
			Date:         r.StartedAt.Format("2006-01-02"),
			GameDuration: r.EndedAt.Sub(r.StartedAt).Seconds(),
			GameVariant:  variant,
		},
		DeckSetup: DeckSetup{
			GoalSuitColor: r.GoalSuit.Color().String(),
			GoalSuit:      r.GoalSuit.String(),
			Distribution:  map[string]int{},
		},
		Deal: map[string]string{},
		Result: Result{
			Revealed12CardSuit: r.LongSuit.String(),
			GoalSuit:           r.GoalSuit.String(),
			FinalBank:          map[string]int64{},
		},
	}
	for _, s := range cards.Suits {
		doc.DeckSetup.Distribution[s.String()] = r.Distribution[s]
	}

	var next [cards.NumSuits]int
	for _, p := range r.Payouts {
		doc.Deal[p.Player] = dealLabels(r.InitialHands[p.Player], &next)
		doc.Result.FinalBank[p.Player] = r.Balances[p.Player]
		if p.Winner {
			doc.Result.Winners = append(doc.Result.Winners, p.Player)
		}
	}

	for i, t := range r.Trades {
		doc.Trades = append(doc.Trades, Trade{
			TradeIndex: i + 1,
			T:          float64(t.Timestamp.Sub(r.StartedAt).Milliseconds()) / 1000,
			Buyer:      t.BuyerID,
			Seller:     t.SellerID,
			Suit:       t.Suit.String(),
			Price:      Chips(t.Price),
		})
	}
	return doc
}

// dealLabels names a hand's cards "S1,S2,C3,..."; numbering runs on per suit
// across the seats
func dealLabels(h cards.Hand, next *[cards.NumSuits]int) string {
	var labels []string
	for _, s := range cards.Suits {
		for i := 0; i < h[s]; i++ {
			next[s]++
			labels = append(labels, s.Letter()+strconv.Itoa(next[s]))
		}
	}
	return strings.Join(labels, ",")
}

// ParseDeal counts the cards in a deal string
func ParseDeal(deal string) (cards.Hand, error) {
	var h cards.Hand
	if strings.TrimSpace(deal) == "" {
		return h, nil
	}
	for _, label := range strings.Split(deal, ",") {
		label = strings.TrimSpace(label)
		if len(label) < 2 {
			return cards.Hand{}, fmt.Errorf("%w: %q", ErrBadCard, label)
		}
		s, err := cards.ParseSuit(label[:1])
		if err != nil {
			return cards.Hand{}, fmt.Errorf("%w: %q", ErrBadCard, label)
		}
		if _, err := strconv.Atoi(label[1:]); err != nil {
			return cards.Hand{}, fmt.Errorf("%w: %q", ErrBadCard, label)
		}
		h[s]++
	}
	return h, nil
}

// Hands returns every player's dealt hand
func (d Document) Hands() (map[string]cards.Hand, error) {
	out := make(map[string]cards.Hand, len(d.Deal))
	for p, deal := range d.Deal {
		h, err := ParseDeal(deal)
		if err != nil {
			return nil, fmt.Errorf("deal for %s: %w", p, err)
		}
		out[p] = h
	}
	return out, nil
}

func Encode(w io.Writer, doc Document) error {
	return toml.NewEncoder(w).Encode(doc)
}

func Decode(r io.Reader) (Document, error) {
	var doc Document
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode pfn: %w", err)
	}
	return doc, nil
}

// Sink writes one PFN file per settled round into a directory
type Sink struct {
	dir     string
	title   string
	variant string
}

func NewSink(dir, title, variant string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pfn dir: %w", err)
	}
	return &Sink{dir: dir, title: title, variant: variant}, nil
}

// Path is the file a round is written to
func (s *Sink) Path(sessionID string, round int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-round-%03d.pfn.toml", sessionID, round))
}

func (s *Sink) RoundSettled(_ context.Context, sessionID string, r game.RoundReport) error {
	f, err := os.Create(s.Path(sessionID, r.Number))
	if err != nil {
		return fmt.Errorf("create pfn file: %w", err)
	}
	if err := Encode(f, FromRound(sessionID, s.title, s.variant, r)); err != nil {
		f.Close()
		return fmt.Errorf("encode pfn: %w", err)
	}
	return f.Close()
}

func (s *Sink) SessionFinished(context.Context, game.SessionReport) error {
	return nil
}
