package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid seat token")

// SeatTokens issues and checks the bearer tokens that bind an HTTP client to
// a seat. Tokens read "<player>.<secret>"; only a bcrypt hash of the secret
// is kept.
type SeatTokens struct {
	cost int

	mu     sync.RWMutex
	hashes map[string][]byte
	cache  map[string]string // verified token -> player
}

// NewSeatTokens uses bcrypt.DefaultCost when cost is 0
func NewSeatTokens(cost int) *SeatTokens {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &SeatTokens{
		cost:   cost,
		hashes: make(map[string][]byte),
		cache:  make(map[string]string),
	}
}

// Issue creates a new token for player, revoking any earlier one
func (st *SeatTokens) Issue(player string) (string, error) {
	if player == "" || strings.Contains(player, ".") {
		return "", fmt.Errorf("bad player id %q", player)
	}
	secret := generateToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), st.cost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.hashes[player] = hash
	for token, p := range st.cache {
		if p == player {
			delete(st.cache, token)
		}
	}
	return player + "." + secret, nil
}

// Verify returns the player a token belongs to
func (st *SeatTokens) Verify(token string) (string, error) {
	st.mu.RLock()
	if player, ok := st.cache[token]; ok {
		st.mu.RUnlock()
		return player, nil
	}
	player, secret, ok := strings.Cut(token, ".")
	hash := st.hashes[player]
	st.mu.RUnlock()

	if !ok || hash == nil {
		return "", ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return "", ErrInvalidToken
	}

	st.mu.Lock()
	// a concurrent Issue may have replaced the hash meanwhile
	if string(st.hashes[player]) == string(hash) {
		st.cache[token] = player
	}
	st.mu.Unlock()
	return player, nil
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// bearerToken reads the token from the Authorization header, or from the
// token query parameter for WebSocket clients that cannot set headers
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return r.URL.Query().Get("token")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
