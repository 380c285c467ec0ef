package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"figgie/internal/cards"
	"figgie/internal/config/encoding"
	"figgie/internal/exchange"
	"figgie/internal/game"
	"figgie/internal/metrics"
	"figgie/internal/orderbook"
	"figgie/internal/settlement"
)

var _ game.Agent = (*HumanAgent)(nil)

// idleAgent sits at the table and never trades
type idleAgent struct{ id string }

func (a idleAgent) ID() string { return a.id }
func (a idleAgent) Start(*exchange.Seat) error { return nil }
func (a idleAgent) Stop() {}
func (a idleAgent) OnRoundStarted(exchange.RoundStart) {}
func (a idleAgent) OnFill(exchange.Fill) {}
func (a idleAgent) OnMarketClosed(int) {}
func (a idleAgent) OnRoundSettled(int, settlement.Payout) {}

type testEnv struct {
	server  *httptest.Server
	api     *Server
	session *game.Session
	human   *HumanAgent
	token   string

	cancel context.CancelFunc
	done   chan struct{}
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	human := NewHumanAgent("you")
	agents := []game.Agent{human, idleAgent{"b1"}, idleAgent{"b2"}, idleAgent{"b3"}}

	cfg := game.NewDefaultConfig()
	cfg.TradingDuration = encoding.Duration{Duration: 30 * time.Second}
	cfg.Intermission = encoding.Duration{}
	cfg.MaxRounds = 1
	cfg.Seed = 7

	reg := prometheus.NewRegistry()
	sess, err := game.NewSession(cfg, agents, game.WithMetrics(metrics.New(reg)))
	require.NoError(t, err)

	tokens := NewSeatTokens(bcrypt.MinCost)
	token, err := tokens.Issue("you")
	require.NoError(t, err)

	apiCfg := NewDefaultConfig()
	apiCfg.RateLimit = 0
	srv := NewServer(apiCfg, sess, []*HumanAgent{human}, tokens, WithGatherer(reg))
	ts := httptest.NewServer(srv.Router())

	env := &testEnv{server: ts, api: srv, session: sess, human: human, token: token}
	t.Cleanup(env.cleanup)
	return env
}

func (e *testEnv) cleanup() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	e.server.Close()
	e.api.Shutdown()
}

// dial opens the seat's WebSocket and waits until the hub has it
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + url.QueryEscape(e.token)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return e.human.Hub().Count() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

// start runs the session and returns the human's round start
func (e *testEnv) start(t *testing.T, conn *websocket.Conn) exchange.RoundStart {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		e.session.Run(ctx)
	}()

	var rs exchange.RoundStart
	readEvent(t, conn, "round_started", &rs)
	return rs
}

type rawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn, typ string, into any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev rawEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == typ {
			require.NoError(t, json.Unmarshal(ev.Data, into))
			return
		}
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (e *testEnv) order(t *testing.T, side string, suit cards.Suit, price int64) (int, []byte) {
	return e.do(t, http.MethodPost, "/api/orders", map[string]any{
		"side":  side,
		"suit":  suit.String(),
		"price": price,
	}, e.token)
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er), string(body))
	return er.Error
}

func TestSeatRoutesRequireToken(t *testing.T) {
	env := setupTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/state", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", errorCode(t, body))

	status, _ = env.do(t, http.MethodGet, "/api/state", nil, "you.not-the-secret")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodPost, "/api/orders", nil, "b1.whatever")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSeatNotRunningYet(t *testing.T) {
	env := setupTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/state", nil, env.token)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "NotSeated", errorCode(t, body))
}

func TestTradingOverHTTP(t *testing.T) {
	env := setupTestEnv(t)
	conn := env.dial(t)
	rs := env.start(t, conn)

	assert.Equal(t, 1, rs.Round)
	assert.Equal(t, 10, rs.Hand.Total())
	assert.Equal(t, int64(300), rs.Balance, "ante taken")

	status, body := env.do(t, http.MethodGet, "/api/status", nil, "")
	require.Equal(t, http.StatusOK, status)
	var sr StatusResponse
	require.NoError(t, json.Unmarshal(body, &sr))
	assert.True(t, sr.Open)
	assert.Equal(t, 1, sr.Round)
	assert.Equal(t, env.session.ID(), sr.Session)
	assert.Equal(t, "TRADING", sr.Phase)
	assert.Equal(t, int64(200), sr.Pot)
	assert.Empty(t, sr.GoalSuit, "goal stays hidden while trading")

	status, body = env.order(t, "bid", cards.Spades, 5)
	require.Equal(t, http.StatusOK, status, string(body))
	var ack exchange.Ack
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.Equal(t, orderbook.Bid, ack.Order.Side)
	assert.Nil(t, ack.Trade)

	status, body = env.do(t, http.MethodGet, "/api/orders", nil, env.token)
	require.Equal(t, http.StatusOK, status)
	var orders []orderbook.Order
	require.NoError(t, json.Unmarshal(body, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, ack.Order.ID, orders[0].ID)

	status, body = env.do(t, http.MethodGet, "/api/book/spades", nil, "")
	require.Equal(t, http.StatusOK, status)
	var snap orderbook.BookSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, orderbook.LevelSnapshot{Price: 5, Orders: 1}, snap.Bids[0])

	status, body = env.do(t, http.MethodGet, "/api/state", nil, env.token)
	require.Equal(t, http.StatusOK, status)
	var st StateResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Status.Open)
	assert.Equal(t, int64(5), st.Account.ReservedCash)
	assert.Equal(t, rs.Hand, st.Account.Hand)
	require.Len(t, st.Quotes, cards.NumSuits)
	assert.Equal(t, int64(5), st.Quotes[cards.Spades].Bid)
	require.NotNil(t, st.Round)

	path := fmt.Sprintf("/api/orders/%d", ack.Order.ID)
	status, _ = env.do(t, http.MethodDelete, path, nil, env.token)
	assert.Equal(t, http.StatusOK, status)
	status, body = env.do(t, http.MethodDelete, path, nil, env.token)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "UnknownOrder", errorCode(t, body))

	status, _ = env.do(t, http.MethodDelete, "/api/orders/abc", nil, env.token)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOrderRejections(t *testing.T) {
	env := setupTestEnv(t)
	conn := env.dial(t)
	rs := env.start(t, conn)

	status, body := env.order(t, "bid", cards.Hearts, 0)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidPrice", errorCode(t, body))

	status, _ = env.order(t, "hold", cards.Hearts, 5)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/orders", map[string]any{"side": "bid", "suit": "stars", "price": 5}, env.token)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, http.MethodPost, "/api/orders", map[string]any{"side": "bid", "price": 12}, env.token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidSuit", errorCode(t, body))
	status, body = env.do(t, http.MethodPost, "/api/orders", map[string]any{"side": "bid", "suit": nil, "price": 12}, env.token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidSuit", errorCode(t, body))

	status, body = env.do(t, http.MethodGet, "/api/orders", nil, env.token)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(body))

	status, body = env.order(t, "bid", cards.Hearts, rs.Balance+1)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "InsufficientFunds", errorCode(t, body))

	// every card in the suit can be offered once, no more
	suit := cards.Clubs
	for i := 0; i < rs.Hand[suit]; i++ {
		status, body = env.order(t, "ask", suit, 90)
		require.Equal(t, http.StatusOK, status, string(body))
	}
	status, body = env.order(t, "sell", suit, 90)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "InsufficientInventory", errorCode(t, body))

	status, _ = env.do(t, http.MethodGet, "/api/book/stars", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestFillIsPushed(t *testing.T) {
	env := setupTestEnv(t)
	conn := env.dial(t)
	env.start(t, conn)
	ctx := context.Background()

	holdings, err := env.session.Engine().Holdings(ctx)
	require.NoError(t, err)
	var suit cards.Suit
	for _, s := range cards.Suits {
		if holdings["b1"][s] > 0 {
			suit = s
			break
		}
	}
	_, err = env.session.Engine().Seat("b1").Ask(ctx, suit, 7)
	require.NoError(t, err)

	status, body := env.order(t, "buy", suit, 9)
	require.Equal(t, http.StatusOK, status, string(body))
	var ack exchange.Ack
	require.NoError(t, json.Unmarshal(body, &ack))
	require.NotNil(t, ack.Trade)
	assert.Equal(t, int64(7), ack.Trade.Price, "trades at the resting price")
	assert.Equal(t, "you", ack.Trade.BuyerID)

	var fill exchange.Fill
	readEvent(t, conn, "fill", &fill)
	assert.Equal(t, ack.Trade.Seq, fill.Trade.Seq)
	assert.Equal(t, int64(293), fill.Balance)

	status, body = env.do(t, http.MethodGet, "/api/trades?round=1", nil, "")
	require.Equal(t, http.StatusOK, status)
	var trades []orderbook.Trade
	require.NoError(t, json.Unmarshal(body, &trades))
	assert.Len(t, trades, 1)

	status, _ = env.do(t, http.MethodGet, "/api/trades?round=x", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDisconnectAndReconnect(t *testing.T) {
	env := setupTestEnv(t)
	conn := env.dial(t)
	env.start(t, conn)

	status, _ := env.order(t, "bid", cards.Diamonds, 3)
	require.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodPost, "/api/disconnect", nil, env.token)
	require.Equal(t, http.StatusOK, status)

	status, body := env.do(t, http.MethodGet, "/api/orders", nil, env.token)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(body), "resting orders cancelled")

	status, body = env.order(t, "bid", cards.Diamonds, 3)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Disconnected", errorCode(t, body))

	status, _ = env.do(t, http.MethodPost, "/api/reconnect", nil, env.token)
	require.Equal(t, http.StatusOK, status)
	status, _ = env.order(t, "bid", cards.Diamonds, 3)
	assert.Equal(t, http.StatusOK, status)
}

func TestReportAndMetrics(t *testing.T) {
	env := setupTestEnv(t)
	conn := env.dial(t)
	env.start(t, conn)

	status, _ := env.order(t, "bid", cards.Spades, 4)
	require.Equal(t, http.StatusOK, status)

	status, body := env.do(t, http.MethodGet, "/api/report", nil, "")
	require.Equal(t, http.StatusOK, status)
	var report game.SessionReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, env.session.ID(), report.ID)
	assert.Equal(t, []string{"you", "b1", "b2", "b3"}, report.Players)

	status, body = env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "figgie_orders_submitted_total")

	status, _ = env.do(t, http.MethodGet, "/api/leaderboard", nil, "")
	assert.Equal(t, http.StatusNotFound, status, "no store configured")
}

func TestSeatTokens(t *testing.T) {
	st := NewSeatTokens(bcrypt.MinCost)

	tok, err := st.Issue("alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "alice."))

	player, err := st.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", player)

	// cached path
	player, err = st.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", player)

	_, err = st.Verify("alice.wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = st.Verify("bob." + strings.TrimPrefix(tok, "alice."))
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = st.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// reissuing revokes the old token
	tok2, err := st.Issue("alice")
	require.NoError(t, err)
	_, err = st.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = st.Verify(tok2)
	assert.NoError(t, err)

	_, err = st.Issue("a.b")
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"), "window slid")

	rl.cleanup()
	rl.mu.Lock()
	assert.Len(t, rl.requests, 1)
	rl.mu.Unlock()

	unlimited := NewRateLimiter(0, time.Minute)
	defer unlimited.Stop()
	for i := 0; i < 10; i++ {
		assert.True(t, unlimited.Allow("x"))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	h := rl.Middleware(clientAddr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	open := (&Server{cfg: Config{}}).corsOptions()
	assert.Equal(t, []string{"*"}, open.AllowedOrigins)
	assert.False(t, open.AllowCredentials)

	listed := (&Server{cfg: Config{CORSOrigins: []string{"https://figgie.example"}}}).corsOptions()
	assert.Equal(t, []string{"https://figgie.example"}, listed.AllowedOrigins)
	assert.True(t, listed.AllowCredentials)

	env := setupTestEnv(t)
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://elsewhere.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}
