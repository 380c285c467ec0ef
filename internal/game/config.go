package game

import (
	"errors"
	"fmt"
	"time"

	"figgie/internal/config/encoding"
	"figgie/internal/exchange"
	"figgie/internal/round"
	"figgie/internal/settlement"
)

var ErrBadConfig = errors.New("invalid game config")

// Config contains the configurable items for a session
type Config struct {
	Players         int   `toml:"players"`
	StartingBalance int64 `toml:"starting_balance"`
	Pot             int64 `toml:"pot"`
	BonusPerCard    int64 `toml:"bonus_per_card"`

	TradingDuration  encoding.Duration `toml:"trading_duration"`
	LearningDuration encoding.Duration `toml:"learning_duration"`
	// LearningMode uses the long clock and shows everyone's hands
	LearningMode        bool `toml:"learning_mode"`
	RevealOpponentHands bool `toml:"reveal_opponent_hands"`

	// the session ends after MaxRounds or MaxDuration, whichever comes first;
	// zero disables a limit
	MaxRounds    int               `toml:"max_rounds"`
	MaxDuration  encoding.Duration `toml:"max_duration"`
	Intermission encoding.Duration `toml:"intermission"`

	// Seed drives deck and deal; 0 picks one from the clock
	Seed int64 `toml:"seed"`

	Exchange exchange.Config `toml:"exchange"`
}

// NewDefaultConfig returns the standard 4-player game
func NewDefaultConfig() Config {
	return Config{
		Players:          4,
		StartingBalance:  350,
		Pot:              200,
		BonusPerCard:     10,
		TradingDuration:  encoding.Duration{Duration: round.StandardDuration},
		LearningDuration: encoding.Duration{Duration: round.LearningDuration},
		MaxRounds:        5,
		Intermission:     encoding.Duration{Duration: 5 * time.Second},
		Exchange:         exchange.NewDefaultConfig(),
	}
}

// Ante is each player's contribution to the pot
func (c Config) Ante() int64 {
	if c.Players <= 0 {
		return 0
	}
	return c.Pot / int64(c.Players)
}

// RoundPot is what the antes actually add up to
func (c Config) RoundPot() int64 {
	return c.Ante() * int64(c.Players)
}

// Duration is the trading time per round
func (c Config) Duration() time.Duration {
	if c.LearningMode {
		return c.LearningDuration.Get()
	}
	return c.TradingDuration.Get()
}

// RevealHands reports whether opponents' hands are shown at round start
func (c Config) RevealHands() bool {
	return c.LearningMode || c.RevealOpponentHands
}

func (c Config) Validate() error {
	if c.Players != 4 && c.Players != 5 {
		return fmt.Errorf("%w: players must be 4 or 5, got %d", ErrBadConfig, c.Players)
	}
	if c.StartingBalance < 0 {
		return fmt.Errorf("%w: negative starting balance", ErrBadConfig)
	}
	if err := settlement.Validate(c.RoundPot(), c.BonusPerCard); err != nil {
		return fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	if c.Duration() <= 0 {
		return fmt.Errorf("%w: trading duration must be positive", ErrBadConfig)
	}
	if c.MaxRounds < 0 || c.MaxDuration.Get() < 0 || c.Intermission.Get() < 0 {
		return fmt.Errorf("%w: negative limit", ErrBadConfig)
	}
	if c.MaxRounds == 0 && c.MaxDuration.Get() == 0 {
		return fmt.Errorf("%w: set max_rounds or max_duration", ErrBadConfig)
	}
	return nil
}
