package bots

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"
)

// Ecosystem builds a lineup of n bots, value bots and noise bots alternating,
// starting with a value bot. Bot seeds are drawn from rng.
func Ecosystem(n int, cfg Config, rng *rand.Rand, log *zap.Logger) *Manager {
	manager := NewManager()
	var values, noise int
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			values++
			manager.Add(NewValueBot(fmt.Sprintf("value_%d", values), cfg, rng.Int63(), log))
		} else {
			noise++
			manager.Add(NewNoiseBot(fmt.Sprintf("noise_%d", noise), cfg, rng.Int63(), log))
		}
	}
	return manager
}
