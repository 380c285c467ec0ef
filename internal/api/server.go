// Package api lets people play seats over HTTP. Each human seat is a
// game.Agent whose notifications stream over a WebSocket and whose orders
// arrive as REST calls authenticated with a bearer seat token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"figgie/internal/cards"
	"figgie/internal/config/encoding"
	"figgie/internal/exchange"
	"figgie/internal/game"
	"figgie/internal/orderbook"
	"figgie/internal/store"
)

// Config contains the configurable items for the HTTP seat adapter
type Config struct {
	// Addr is the listen address; empty disables the server
	Addr string `toml:"addr"`
	// Seats are the player ids played over HTTP instead of by bots
	Seats []string `toml:"seats"`
	// CORSOrigins empty allows all origins
	CORSOrigins    []string          `toml:"cors_origins"`
	RateLimit      int               `toml:"rate_limit"`
	RateWindow     encoding.Duration `toml:"rate_window"`
	RequestTimeout encoding.Duration `toml:"request_timeout"`
	// TokenCost is the bcrypt cost for seat tokens; 0 means the default
	TokenCost int `toml:"token_cost"`
}

func NewDefaultConfig() Config {
	return Config{
		RateLimit:      100,
		RateWindow:     encoding.Duration{Duration: time.Minute},
		RequestTimeout: encoding.Duration{Duration: 5 * time.Second},
	}
}

// ReportStore serves stored history; *store.Store satisfies it
type ReportStore interface {
	GetLeaderboard(ctx context.Context, limit int) ([]store.PlayerStats, error)
	GetRecentSessions(ctx context.Context, limit int) ([]store.SessionSummary, error)
	LoadSession(ctx context.Context, id string) (game.SessionReport, error)
}

type Option func(*Server)

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithStore enables the history routes
func WithStore(st ReportStore) Option {
	return func(s *Server) { s.store = st }
}

// WithGatherer serves gatherer at /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

type Server struct {
	cfg         Config
	log         *zap.Logger
	session     *game.Session
	seats       map[string]*HumanAgent
	tokens      *SeatTokens
	store       ReportStore
	gatherer    prometheus.Gatherer
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
}

func NewServer(cfg Config, session *game.Session, humans []*HumanAgent, tokens *SeatTokens, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		log:         zap.NewNop(),
		session:     session,
		seats:       make(map[string]*HumanAgent, len(humans)),
		tokens:      tokens,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow.Get()),
	}
	for _, h := range humans {
		s.seats[h.ID()] = h
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("api")
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// checkCORSOrigin checks if an origin is allowed
func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.cfg.CORSOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// corsOptions allows any origin when none are configured, but never with
// credentials
func (s *Server) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
		opts.AllowCredentials = false
	}
	return opts
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(s.corsOptions()))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.timeout)

		// public
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimiter.Middleware(clientAddr))
			r.Get("/status", s.getStatus)
			r.Get("/book/{suit}", s.getBook)
			r.Get("/trades", s.getTrades)
			r.Get("/report", s.getReport)
			r.Get("/leaderboard", s.getLeaderboard)
			r.Get("/sessions", s.getSessions)
			r.Get("/sessions/{id}", s.getSession)
		})

		// seat routes
		r.Group(func(r chi.Router) {
			r.Use(s.requireSeat)
			r.Use(s.rateLimiter.Middleware(func(r *http.Request) string {
				return "seat:" + seatFrom(r.Context()).ID()
			}))
			r.Get("/state", s.getState)
			r.Get("/orders", s.getOrders)
			r.Post("/orders", s.submitOrder)
			r.Delete("/orders/{id}", s.cancelOrder)
			r.Post("/disconnect", s.disconnect)
			r.Post("/reconnect", s.reconnect)
		})
	})

	r.With(s.requireSeat).Get("/ws", s.handleWebSocket)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Shutdown stops internal goroutines
func (s *Server) Shutdown() {
	s.rateLimiter.Stop()
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Shutdown()
	if err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) timeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.cfg.RequestTimeout.Get()
		if d <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type seatKey struct{}

func seatFrom(ctx context.Context) *HumanAgent {
	h, _ := ctx.Value(seatKey{}).(*HumanAgent)
	return h
}

func (s *Server) requireSeat(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		player, err := s.tokens.Verify(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "valid seat token required")
			return
		}
		h, ok := s.seats[player]
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "no such seat")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), seatKey{}, h)))
	})
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{Error: code, Detail: detail})
}

// writeEngineError maps engine failures to HTTP statuses
func writeEngineError(w http.ResponseWriter, err error) {
	if reason, ok := exchange.ReasonOf(err); ok {
		status := http.StatusBadRequest
		switch reason {
		case exchange.ReasonInsufficientFunds, exchange.ReasonInsufficientInventory:
			status = http.StatusUnprocessableEntity
		case exchange.ReasonMarketClosed:
			status = http.StatusConflict
		case exchange.ReasonUnknownOrder, exchange.ReasonUnknownPlayer:
			status = http.StatusNotFound
		case exchange.ReasonDisconnected:
			status = http.StatusForbidden
		}
		writeError(w, status, reason.String(), err.Error())
		return
	}
	switch {
	case errors.Is(err, exchange.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, "EngineStopped", "no session running")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Timeout", "engine did not answer in time")
	default:
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
	}
}

// seat returns the engine handle for the request's seat, writing 503 when
// the session has not started it
func (s *Server) seat(w http.ResponseWriter, r *http.Request) (*exchange.Seat, bool) {
	seat := seatFrom(r.Context()).Seat()
	if seat == nil {
		writeError(w, http.StatusServiceUnavailable, "NotSeated", "session not running")
		return nil, false
	}
	return seat, true
}

type OrderRequest struct {
	Side  string      `json:"side"` // "bid"/"buy" or "ask"/"sell"
	Suit  *cards.Suit `json:"suit"`
	Price int64       `json:"price"`
}

func parseSide(v string) (orderbook.Side, bool) {
	switch strings.ToLower(v) {
	case "bid", "buy":
		return orderbook.Bid, true
	case "ask", "sell":
		return orderbook.Ask, true
	}
	return 0, false
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid request body")
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "BadRequest", "side must be 'bid' or 'ask'")
		return
	}
	if req.Suit == nil {
		writeError(w, http.StatusBadRequest, exchange.ReasonInvalidSuit.String(), "suit is required")
		return
	}
	seat, ok := s.seat(w, r)
	if !ok {
		return
	}

	ack, err := seat.SubmitOrder(r.Context(), side, *req.Suit, req.Price)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "order id must be a number")
		return
	}
	seat, ok := s.seat(w, r)
	if !ok {
		return
	}
	if err := seat.CancelOrder(r.Context(), orderbook.OrderID(id)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) getOrders(w http.ResponseWriter, r *http.Request) {
	seat, ok := s.seat(w, r)
	if !ok {
		return
	}
	orders, err := seat.OpenOrders(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if orders == nil {
		orders = []orderbook.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// StateResponse is everything a seat needs to render its screen
type StateResponse struct {
	Status  exchange.Status      `json:"status"`
	Account exchange.AccountView `json:"account"`
	Quotes  []exchange.Quote     `json:"quotes"`
	Round   *exchange.RoundStart `json:"round,omitempty"`
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	seat, ok := s.seat(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var resp StateResponse
	var err error
	if resp.Status, err = seat.Status(ctx); err != nil {
		writeEngineError(w, err)
		return
	}
	if resp.Account, err = seat.Account(ctx); err != nil {
		writeEngineError(w, err)
		return
	}
	for _, suit := range cards.Suits {
		q, err := seat.Quote(ctx, suit)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		resp.Quotes = append(resp.Quotes, q)
	}
	if rs, ok := seatFrom(ctx).LastRoundStart(); ok {
		resp.Round = &rs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	h := seatFrom(r.Context())
	if err := s.session.Disconnect(r.Context(), h.ID()); err != nil {
		writeEngineError(w, err)
		return
	}
	s.log.Info("seat disconnected", zap.String("player", h.ID()))
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) reconnect(w http.ResponseWriter, r *http.Request) {
	h := seatFrom(r.Context())
	if err := s.session.Reconnect(r.Context(), h.ID()); err != nil {
		writeEngineError(w, err)
		return
	}
	s.log.Info("seat reconnected", zap.String("player", h.ID()))
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

type StatusResponse struct {
	exchange.Status
	Session  string `json:"session"`
	RoundID  string `json:"round_id,omitempty"`
	Phase    string `json:"phase,omitempty"`
	Pot      int64  `json:"pot,omitempty"`
	GoalSuit string `json:"goal_suit,omitempty"` // set once the round is revealed
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.session.Engine().Status(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := StatusResponse{Status: st, Session: s.session.ID()}
	if rd, ok := s.session.CurrentRound(); ok {
		resp.RoundID = rd.ID
		resp.Phase = rd.Phase().String()
		resp.Pot = rd.Pot
		if goal, revealed := rd.GoalSuit(); revealed {
			resp.GoalSuit = goal.String()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	suit, err := cards.ParseSuit(chi.URLParam(r, "suit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, exchange.ReasonInvalidSuit.String(), err.Error())
		return
	}
	snap, err := s.session.Engine().Book(r.Context(), suit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// getTrades returns the trades of ?round=N, or every round when absent
func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	round := 0
	if v := r.URL.Query().Get("round"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "BadRequest", "round must be a non-negative number")
			return
		}
		round = n
	}
	trades, err := s.session.Engine().Trades(r.Context(), round)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if trades == nil {
		trades = []orderbook.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Report())
}

func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "NoStore", "history is not recorded")
		return
	}
	entries, err := s.store.GetLeaderboard(r.Context(), 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", "failed to get leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "NoStore", "history is not recorded")
		return
	}
	list, err := s.store.GetRecentSessions(r.Context(), 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "NoStore", "history is not recorded")
		return
	}
	report, err := s.store.LoadSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "NotFound", "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	h := seatFrom(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	// a client joining mid-round still learns its hand
	if rs, ok := h.LastRoundStart(); ok {
		data, _ := json.Marshal(Event{Type: "round_started", Data: rs})
		client.send <- data
	}
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session over"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
