package store

import (
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all migrations
// New migrations should be appended to the end with incrementing version numbers
var migrations = []Migration{
	{
		Version:     1,
		Description: "Sessions, rounds and trades",
		SQL: `
		CREATE TABLE IF NOT EXISTS game_sessions (
			id TEXT PRIMARY KEY,
			players TEXT NOT NULL DEFAULT '',
			starting_balance INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			ended_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS rounds (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES game_sessions(id),
			number INTEGER NOT NULL,
			goal_suit TEXT NOT NULL,
			long_suit TEXT NOT NULL,
			distribution TEXT NOT NULL,
			pot INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			UNIQUE(session_id, number)
		);

		CREATE TABLE IF NOT EXISTS round_players (
			round_id TEXT NOT NULL REFERENCES rounds(id),
			player TEXT NOT NULL,
			seat INTEGER NOT NULL,
			initial_hand TEXT NOT NULL,
			final_hand TEXT NOT NULL,
			balance INTEGER NOT NULL,
			PRIMARY KEY (round_id, player)
		);

		CREATE TABLE IF NOT EXISTS trades (
			round_id TEXT NOT NULL REFERENCES rounds(id),
			seq INTEGER NOT NULL,
			suit TEXT NOT NULL,
			price INTEGER NOT NULL,
			buyer TEXT NOT NULL,
			seller TEXT NOT NULL,
			buy_order INTEGER NOT NULL,
			sell_order INTEGER NOT NULL,
			aggressor TEXT NOT NULL,
			executed_at DATETIME NOT NULL,
			PRIMARY KEY (round_id, seq)
		);

		CREATE TABLE IF NOT EXISTS payouts (
			round_id TEXT NOT NULL REFERENCES rounds(id),
			player TEXT NOT NULL,
			seat INTEGER NOT NULL,
			goal_cards INTEGER NOT NULL,
			bonus INTEGER NOT NULL,
			majority_share INTEGER NOT NULL,
			total INTEGER NOT NULL,
			winner BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (round_id, player)
		);

		CREATE INDEX IF NOT EXISTS idx_rounds_session ON rounds(session_id);
		CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades(buyer);
		CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades(seller);
		`,
	},
	{
		Version:     2,
		Description: "Rankings and player stats",
		SQL: `
		CREATE TABLE IF NOT EXISTS rankings (
			session_id TEXT NOT NULL REFERENCES game_sessions(id),
			player TEXT NOT NULL,
			seat INTEGER NOT NULL,
			rank INTEGER NOT NULL,
			balance INTEGER NOT NULL,
			PRIMARY KEY (session_id, player)
		);

		CREATE TABLE IF NOT EXISTS player_stats (
			player TEXT PRIMARY KEY,
			sessions_played INTEGER NOT NULL DEFAULT 0,
			sessions_won INTEGER NOT NULL DEFAULT 0,
			total_pnl INTEGER NOT NULL DEFAULT 0,
			best_pnl INTEGER NOT NULL DEFAULT 0,
			worst_pnl INTEGER NOT NULL DEFAULT 0,
			current_streak INTEGER NOT NULL DEFAULT 0,
			best_streak INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_rankings_player ON rankings(player);
		`,
	},
}

// initMigrationsTable creates the migrations tracking table
func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getCurrentVersion returns the highest applied migration version
func (s *Store) getCurrentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate runs all pending migrations
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return fmt.Errorf("failed to init migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// applyMigration runs a single migration in a transaction
func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Run the migration SQL
	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}

	// Record the migration
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// MigrationStatus returns applied and pending migrations
func (s *Store) MigrationStatus() (applied []int, pending []int, err error) {
	if err := s.initMigrationsTable(); err != nil {
		return nil, nil, err
	}

	// Get applied versions
	rows, err := s.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	appliedSet := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied = append(applied, v)
		appliedSet[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	// Find pending
	for _, m := range migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m.Version)
		}
	}

	return applied, pending, nil
}
