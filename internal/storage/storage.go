// Package storage provides SQLite-backed persistence for the
// last-observed snapshot of each tracked market.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/polywatch/polywatch/internal/logger"
	"github.com/polywatch/polywatch/internal/models"
)

// Store owns the persisted market id → last snapshot mapping. All
// access goes through its methods; commits are atomic per market.
type Store struct {
	db       *sql.DB
	degraded bool
}

// Open opens or creates the snapshot database at statePath. A missing
// or corrupt database is never fatal: the corrupt file is moved aside
// and, failing that, the store degrades to in-memory operation with a
// warning since the persistence guarantee is lost. Pass inMemory to
// request the degraded mode explicitly.
func Open(statePath string, inMemory bool) (*Store, error) {
	if inMemory || statePath == "" {
		db, err := openDB(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to open in-memory store: %w", err)
		}
		return &Store{db: db, degraded: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := openDB(statePath)
	if err == nil {
		return &Store{db: db}, nil
	}

	// Corrupt database: move it aside and start from empty state.
	logger.Warn("State database unusable, starting fresh: %v", err)
	corrupt := statePath + ".corrupt"
	if renameErr := os.Rename(statePath, corrupt); renameErr == nil {
		logger.Warn("Moved corrupt state database to %s", corrupt)
		if db, err = openDB(statePath); err == nil {
			return &Store{db: db}, nil
		}
	}

	logger.Warn("Falling back to in-memory state, persistence disabled: %v", err)
	db, err = openDB(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback in-memory store: %w", err)
	}
	return &Store{db: db, degraded: true}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		market_id        TEXT PRIMARY KEY,
		question         TEXT NOT NULL,
		outcomes         TEXT NOT NULL,
		volume           REAL NOT NULL,
		status           TEXT NOT NULL,
		resolved_outcome TEXT NOT NULL DEFAULT '',
		observed_at      INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Degraded reports whether the store runs without durable persistence.
func (s *Store) Degraded() bool {
	return s.degraded
}

// Commit writes the snapshot as the market's last observation. The
// write happens inside a transaction so a crash never leaves a
// half-updated row.
func (s *Store) Commit(snap *models.MarketSnapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	outcomesJSON, err := json.Marshal(snap.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO snapshots
			(market_id, question, outcomes, volume, status, resolved_outcome, observed_at)
		VALUES (?,?,?,?,?,?,?)`,
		snap.ID, snap.Question, string(outcomesJSON), snap.Volume,
		string(snap.Status), snap.ResolvedOutcome, snap.ObservedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return tx.Commit()
}

// Get returns the last committed snapshot for the market, or nil when
// the market has never been observed.
func (s *Store) Get(id string) (*models.MarketSnapshot, error) {
	row := s.db.QueryRow(`
		SELECT market_id, question, outcomes, volume, status, resolved_outcome, observed_at
		FROM snapshots WHERE market_id = ?`, id)
	snap, err := scanSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// LoadAll returns every persisted snapshot keyed by market identifier.
func (s *Store) LoadAll() (map[string]*models.MarketSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT market_id, question, outcomes, volume, status, resolved_outcome, observed_at
		FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := make(map[string]*models.MarketSnapshot)
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps[snap.ID] = snap
	}
	return snaps, rows.Err()
}

// Delete removes the market's snapshot, used after a MARKET_REMOVED
// event so the market is re-announced if it ever reappears.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE market_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func scanSnapshot(scan func(...any) error) (*models.MarketSnapshot, error) {
	var snap models.MarketSnapshot
	var outcomesJSON, status string
	var observedAtNano int64
	err := scan(
		&snap.ID, &snap.Question, &outcomesJSON, &snap.Volume,
		&status, &snap.ResolvedOutcome, &observedAtNano,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outcomesJSON), &snap.Outcomes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcomes: %w", err)
	}
	snap.Status = models.ResolutionStatus(status)
	snap.ObservedAt = time.Unix(0, observedAtNano)
	return &snap, nil
}
