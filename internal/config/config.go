// Package config aggregates the per-package configurations into the one TOML
// file the figgie command reads.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"figgie/internal/api"
	"figgie/internal/bots"
	"figgie/internal/game"
	"figgie/internal/logging"
	"figgie/internal/pfn"
	"figgie/internal/store"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the top level configuration
type Config struct {
	Logging logging.Config `toml:"logging"`
	Game    game.Config    `toml:"game"`
	Bots    bots.Config    `toml:"bots"`
	API     api.Config     `toml:"api"`
	Store   store.Config   `toml:"store"`
	PFN     pfn.Config     `toml:"pfn"`
}

func NewDefaultConfig() Config {
	return Config{
		Logging: logging.NewDefaultConfig(),
		Game:    game.NewDefaultConfig(),
		Bots:    bots.NewDefaultConfig(),
		API:     api.NewDefaultConfig(),
		Store:   store.NewDefaultConfig(),
		PFN:     pfn.NewDefaultConfig(),
	}
}

// Read decodes TOML over the defaults. Unknown keys are an error so typos do
// not pass silently.
func Read(r io.Reader) (Config, error) {
	cfg := NewDefaultConfig()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Load reads the file at path; an empty path yields the defaults
func Load(path string) (Config, error) {
	if path == "" {
		return NewDefaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Read(f)
}

func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

func (c Config) Validate() error {
	if err := c.Game.Validate(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging level %q", ErrInvalid, c.Logging.Level)
	}
	if c.Bots.Interval.Get() <= 0 {
		return fmt.Errorf("%w: bot interval must be positive", ErrInvalid)
	}
	if c.Bots.MaxOpenOrders < 1 {
		return fmt.Errorf("%w: bots need at least one open order", ErrInvalid)
	}
	if len(c.API.Seats) > c.Game.Players {
		return fmt.Errorf("%w: %d human seats for %d players", ErrInvalid, len(c.API.Seats), c.Game.Players)
	}
	if len(c.API.Seats) > 0 && c.API.Addr == "" {
		return fmt.Errorf("%w: human seats need an api address", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.API.Seats))
	for _, s := range c.API.Seats {
		if s == "" || strings.Contains(s, ".") {
			return fmt.Errorf("%w: bad seat id %q", ErrInvalid, s)
		}
		if seen[s] {
			return fmt.Errorf("%w: duplicate seat %q", ErrInvalid, s)
		}
		seen[s] = true
	}
	return nil
}
