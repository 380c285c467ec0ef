package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"figgie/internal/cards"
	"figgie/internal/game"
	"figgie/internal/orderbook"
	"figgie/internal/settlement"
)

var ErrSessionNotFound = errors.New("session not found")

// PlayerStats is a player's record across sessions
type PlayerStats struct {
	Player         string    `json:"player"`
	SessionsPlayed int       `json:"sessions_played"`
	SessionsWon    int       `json:"sessions_won"`
	TotalPnL       int64     `json:"total_pnl"`
	BestPnL        int64     `json:"best_pnl"`
	WorstPnL       int64     `json:"worst_pnl"`
	CurrentStreak  int       `json:"current_streak"`
	BestStreak     int       `json:"best_streak"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SessionSummary is one row of the session list
type SessionSummary struct {
	ID        string    `json:"id"`
	Players   []string  `json:"players"`
	Rounds    int       `json:"rounds"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

func encodeHand(h cards.Hand) (string, error) {
	b, err := json.Marshal(h)
	return string(b), err
}

func decodeHand(s string) (cards.Hand, error) {
	var h cards.Hand
	err := json.Unmarshal([]byte(s), &h)
	return h, err
}

func parseSide(s string) orderbook.Side {
	if s == orderbook.Ask.String() {
		return orderbook.Ask
	}
	return orderbook.Bid
}

// RoundSettled saves a settled round with its hands, trades and payouts
func (s *Store) RoundSettled(ctx context.Context, sessionID string, r game.RoundReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO game_sessions (id) VALUES (?)", sessionID); err != nil {
		return err
	}

	dist, err := encodeHand(r.Distribution)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rounds (id, session_id, number, goal_suit, long_suit, distribution, pot, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, sessionID, r.Number, r.GoalSuit.String(), r.LongSuit.String(), dist, r.Pot, r.StartedAt, r.EndedAt)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}

	for seat, p := range r.Payouts {
		initial, err := encodeHand(r.InitialHands[p.Player])
		if err != nil {
			return err
		}
		final, err := encodeHand(r.FinalHands[p.Player])
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO round_players (round_id, player, seat, initial_hand, final_hand, balance)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, p.Player, seat, initial, final, r.Balances[p.Player])
		if err != nil {
			return fmt.Errorf("insert round player: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO payouts (round_id, player, seat, goal_cards, bonus, majority_share, total, winner)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, p.Player, seat, p.GoalCards, p.Bonus, p.MajorityShare, p.Total, p.Winner)
		if err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}
	}

	for _, t := range r.Trades {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trades (round_id, seq, suit, price, buyer, seller, buy_order, sell_order, aggressor, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, int64(t.Seq), t.Suit.String(), t.Price, t.BuyerID, t.SellerID,
			int64(t.BuyOrderID), int64(t.SellOrderID), t.Aggressor.String(), t.Timestamp)
		if err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}

	return tx.Commit()
}

// SessionFinished saves the session header and rankings, and updates each
// player's stats
func (s *Store) SessionFinished(ctx context.Context, r game.SessionReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO game_sessions (id, players, starting_balance, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			players = excluded.players,
			starting_balance = excluded.starting_balance,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at
	`, r.ID, strings.Join(r.Players, ","), r.StartingBalance, r.StartedAt, r.EndedAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	for _, rk := range r.Rankings {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rankings (session_id, player, seat, rank, balance)
			VALUES (?, ?, ?, ?, ?)
		`, r.ID, rk.Player, rk.Seat, rk.Rank, rk.Balance)
		if err != nil {
			return fmt.Errorf("insert ranking: %w", err)
		}
		if err := s.updatePlayerStatsInTx(ctx, tx, rk.Player, rk.Balance-r.StartingBalance, rk.Rank == 1); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// updatePlayerStatsInTx updates player stats within a transaction
func (s *Store) updatePlayerStatsInTx(ctx context.Context, tx *sql.Tx, player string, pnl int64, won bool) error {
	var stats PlayerStats
	err := tx.QueryRowContext(ctx, `
		SELECT player, sessions_played, sessions_won, total_pnl, best_pnl, worst_pnl, current_streak, best_streak
		FROM player_stats WHERE player = ?
	`, player).Scan(
		&stats.Player, &stats.SessionsPlayed, &stats.SessionsWon,
		&stats.TotalPnL, &stats.BestPnL, &stats.WorstPnL,
		&stats.CurrentStreak, &stats.BestStreak,
	)
	if err == sql.ErrNoRows {
		stats = PlayerStats{Player: player}
	} else if err != nil {
		return err
	}

	stats.SessionsPlayed++
	stats.TotalPnL += pnl
	if pnl > stats.BestPnL || stats.SessionsPlayed == 1 {
		stats.BestPnL = pnl
	}
	if pnl < stats.WorstPnL || stats.SessionsPlayed == 1 {
		stats.WorstPnL = pnl
	}
	if won {
		stats.SessionsWon++
		stats.CurrentStreak++
		if stats.CurrentStreak > stats.BestStreak {
			stats.BestStreak = stats.CurrentStreak
		}
	} else {
		stats.CurrentStreak = 0
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO player_stats (player, sessions_played, sessions_won, total_pnl, best_pnl, worst_pnl, current_streak, best_streak, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(player) DO UPDATE SET
			sessions_played = excluded.sessions_played,
			sessions_won = excluded.sessions_won,
			total_pnl = excluded.total_pnl,
			best_pnl = excluded.best_pnl,
			worst_pnl = excluded.worst_pnl,
			current_streak = excluded.current_streak,
			best_streak = excluded.best_streak,
			updated_at = CURRENT_TIMESTAMP
	`, stats.Player, stats.SessionsPlayed, stats.SessionsWon, stats.TotalPnL,
		stats.BestPnL, stats.WorstPnL, stats.CurrentStreak, stats.BestStreak)
	return err
}

// GetPlayerStats returns stats for a player; unknown players get zero stats
func (s *Store) GetPlayerStats(ctx context.Context, player string) (*PlayerStats, error) {
	var stats PlayerStats
	err := s.db.QueryRowContext(ctx, `
		SELECT player, sessions_played, sessions_won, total_pnl, best_pnl, worst_pnl, current_streak, best_streak, updated_at
		FROM player_stats WHERE player = ?
	`, player).Scan(
		&stats.Player, &stats.SessionsPlayed, &stats.SessionsWon,
		&stats.TotalPnL, &stats.BestPnL, &stats.WorstPnL,
		&stats.CurrentStreak, &stats.BestStreak, &stats.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return &PlayerStats{Player: player}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetLeaderboard returns players by total P&L across sessions
func (s *Store) GetLeaderboard(ctx context.Context, limit int) ([]PlayerStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player, sessions_played, sessions_won, total_pnl, best_pnl, worst_pnl, current_streak, best_streak, updated_at
		FROM player_stats
		WHERE sessions_played > 0
		ORDER BY total_pnl DESC, player ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlayerStats
	for rows.Next() {
		var st PlayerStats
		if err := rows.Scan(
			&st.Player, &st.SessionsPlayed, &st.SessionsWon,
			&st.TotalPnL, &st.BestPnL, &st.WorstPnL,
			&st.CurrentStreak, &st.BestStreak, &st.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetRecentSessions lists finished sessions, newest first
func (s *Store) GetRecentSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.players, s.started_at, s.ended_at,
			(SELECT COUNT(*) FROM rounds r WHERE r.session_id = s.id)
		FROM game_sessions s
		WHERE s.ended_at IS NOT NULL
		ORDER BY s.ended_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum     SessionSummary
			players string
			started sql.NullTime
			ended   sql.NullTime
		)
		if err := rows.Scan(&sum.ID, &players, &started, &ended, &sum.Rounds); err != nil {
			return nil, err
		}
		sum.Players = splitPlayers(players)
		sum.StartedAt = started.Time
		sum.EndedAt = ended.Time
		out = append(out, sum)
	}
	return out, rows.Err()
}

func splitPlayers(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// LoadSession rebuilds a session report from the database
func (s *Store) LoadSession(ctx context.Context, id string) (game.SessionReport, error) {
	var (
		r       = game.SessionReport{ID: id}
		players string
		started sql.NullTime
		ended   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT players, starting_balance, started_at, ended_at FROM game_sessions WHERE id = ?
	`, id).Scan(&players, &r.StartingBalance, &started, &ended)
	if err == sql.ErrNoRows {
		return game.SessionReport{}, ErrSessionNotFound
	}
	if err != nil {
		return game.SessionReport{}, err
	}
	r.Players = splitPlayers(players)
	r.StartedAt = started.Time
	r.EndedAt = ended.Time

	if r.Rounds, err = s.loadRounds(ctx, id); err != nil {
		return game.SessionReport{}, err
	}
	if r.Rankings, err = s.loadRankings(ctx, id); err != nil {
		return game.SessionReport{}, err
	}
	return r, nil
}

func (s *Store) loadRankings(ctx context.Context, sessionID string) ([]game.Ranking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player, seat, rank, balance FROM rankings WHERE session_id = ? ORDER BY rank ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Ranking
	for rows.Next() {
		var rk game.Ranking
		if err := rows.Scan(&rk.Player, &rk.Seat, &rk.Rank, &rk.Balance); err != nil {
			return nil, err
		}
		out = append(out, rk)
	}
	return out, rows.Err()
}

func (s *Store) loadRounds(ctx context.Context, sessionID string) ([]game.RoundReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, goal_suit, long_suit, distribution, pot, started_at, ended_at
		FROM rounds WHERE session_id = ? ORDER BY number ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}

	var out []game.RoundReport
	for rows.Next() {
		var (
			rr         game.RoundReport
			goal, long string
			dist       string
		)
		if err := rows.Scan(&rr.ID, &rr.Number, &goal, &long, &dist, &rr.Pot, &rr.StartedAt, &rr.EndedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if rr.GoalSuit, err = cards.ParseSuit(goal); err != nil {
			rows.Close()
			return nil, err
		}
		if rr.LongSuit, err = cards.ParseSuit(long); err != nil {
			rows.Close()
			return nil, err
		}
		if rr.Distribution, err = decodeHand(dist); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, rr)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := s.loadRoundDetail(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadRoundDetail(ctx context.Context, rr *game.RoundReport) error {
	rr.InitialHands = map[string]cards.Hand{}
	rr.FinalHands = map[string]cards.Hand{}
	rr.Balances = map[string]int64{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT player, initial_hand, final_hand, balance FROM round_players WHERE round_id = ? ORDER BY seat
	`, rr.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var player, initial, final string
		var balance int64
		if err := rows.Scan(&player, &initial, &final, &balance); err != nil {
			rows.Close()
			return err
		}
		if rr.InitialHands[player], err = decodeHand(initial); err != nil {
			rows.Close()
			return err
		}
		if rr.FinalHands[player], err = decodeHand(final); err != nil {
			rows.Close()
			return err
		}
		rr.Balances[player] = balance
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT player, goal_cards, bonus, majority_share, total, winner FROM payouts WHERE round_id = ? ORDER BY seat
	`, rr.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var p settlement.Payout
		if err := rows.Scan(&p.Player, &p.GoalCards, &p.Bonus, &p.MajorityShare, &p.Total, &p.Winner); err != nil {
			rows.Close()
			return err
		}
		rr.Payouts = append(rr.Payouts, p)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT seq, suit, price, buyer, seller, buy_order, sell_order, aggressor, executed_at
		FROM trades WHERE round_id = ? ORDER BY seq
	`, rr.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t                  orderbook.Trade
			seq, buyID, sellID int64
			suit, aggressor    string
		)
		if err := rows.Scan(&seq, &suit, &t.Price, &t.BuyerID, &t.SellerID, &buyID, &sellID, &aggressor, &t.Timestamp); err != nil {
			return err
		}
		if t.Suit, err = cards.ParseSuit(suit); err != nil {
			return err
		}
		t.Seq = uint64(seq)
		t.Round = rr.Number
		t.BuyOrderID = orderbook.OrderID(buyID)
		t.SellOrderID = orderbook.OrderID(sellID)
		t.Aggressor = parseSide(aggressor)
		rr.Trades = append(rr.Trades, t)
	}
	return rows.Err()
}
