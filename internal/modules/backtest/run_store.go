package backtest

import (
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/database"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Run is a stored simulation run. The full TestResult is persisted as a
// msgpack blob; the summary columns exist so listings never deserialize it.
type Run struct {
	ID        string
	CreatedAt time.Time
	Days      int
	Profit    float64
	FinalCash float64
	Result    *TestResult
}

// RunSummary is the blob-free projection used by listings
type RunSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Days      int       `json:"days"`
	Profit    float64   `json:"profit"`
	FinalCash float64   `json:"final_cash"`
}

// RunStore persists simulation runs in the cache database. Runs are
// ephemeral by design: the cache profile trades durability for speed, and a
// lost run is just a rerun away.
type RunStore struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRunStore creates the store and its schema
func NewRunStore(db *database.DB, log zerolog.Logger) (*RunStore, error) {
	s := &RunStore{
		db:  db,
		log: log.With().Str("repo", "backtest_runs").Logger(),
	}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create backtest run schema: %w", err)
	}
	return s, nil
}

func (s *RunStore) createSchema() error {
	_, err := s.db.Conn().Exec(`
		CREATE TABLE IF NOT EXISTS backtest_runs (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			days       INTEGER NOT NULL,
			profit     REAL NOT NULL,
			final_cash REAL NOT NULL,
			result     BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_backtest_runs_created_at
			ON backtest_runs(created_at DESC);
	`)
	return err
}

// Save persists a result and returns the stored run's ID
func (s *RunStore) Save(result *TestResult) (string, error) {
	blob, err := msgpack.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode backtest result: %w", err)
	}

	id := uuid.NewString()
	createdAt := result.StartedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.Conn().Exec(`
		INSERT INTO backtest_runs (id, created_at, days, profit, final_cash, result)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, createdAt.Format(time.RFC3339), result.Days, result.Profit(), result.FinalCash, blob)
	if err != nil {
		return "", fmt.Errorf("failed to store backtest run: %w", err)
	}

	s.log.Debug().Str("run_id", id).Int("blob_bytes", len(blob)).Msg("Stored backtest run")
	return id, nil
}

// Get loads a full run, blob included
func (s *RunStore) Get(id string) (*Run, error) {
	row := s.db.Conn().QueryRow(`
		SELECT id, created_at, days, profit, final_cash, result
		FROM backtest_runs WHERE id = ?`, id)

	var run Run
	var createdAt string
	var blob []byte
	if err := row.Scan(&run.ID, &createdAt, &run.Days, &run.Profit, &run.FinalCash, &blob); err != nil {
		return nil, fmt.Errorf("failed to load backtest run %s: %w", id, err)
	}

	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run timestamp: %w", err)
	}
	run.CreatedAt = ts

	var result TestResult
	if err := msgpack.Unmarshal(blob, &result); err != nil {
		return nil, fmt.Errorf("failed to decode backtest result: %w", err)
	}
	run.Result = &result

	return &run, nil
}

// List returns the most recent run summaries, newest first
func (s *RunStore) List(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Conn().Query(`
		SELECT id, created_at, days, profit, final_cash
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]RunSummary, 0, limit)
	for rows.Next() {
		var summary RunSummary
		var createdAt string
		if err := rows.Scan(&summary.ID, &createdAt, &summary.Days, &summary.Profit, &summary.FinalCash); err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run timestamp: %w", err)
		}
		summary.CreatedAt = ts
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}
