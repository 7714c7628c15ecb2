package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/database"
	"github.com/rs/zerolog"
)

// tradesColumns is the list of columns for the trades table.
// Column order must match scanTrade.
const tradesColumns = `id, symbol, side, quantity, price, order_id, executed_at, created_at`

// TradeRepository persists submitted orders in the ledger database
type TradeRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewTradeRepository creates the repository and its schema
func NewTradeRepository(db *database.DB, log zerolog.Logger) (*TradeRepository, error) {
	r := &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trade").Logger(),
	}
	if err := r.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create trades schema: %w", err)
	}
	return r, nil
}

func (r *TradeRepository) createSchema() error {
	_, err := r.db.Conn().Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			quantity    REAL NOT NULL,
			price       REAL NOT NULL,
			order_id    TEXT,
			executed_at INTEGER NOT NULL,
			created_at  INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_order_id
			ON trades(order_id) WHERE order_id IS NOT NULL AND order_id != '';
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
		CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
	`)
	return err
}

// Create inserts a new trade record. A trade with an already-recorded
// order_id is silently skipped so retried submissions never double-book.
func (r *TradeRepository) Create(trade Trade) error {
	if err := trade.Validate(); err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	if trade.OrderID != "" {
		exists, err := r.Exists(trade.OrderID)
		if err != nil {
			return fmt.Errorf("failed to check for existing trade: %w", err)
		}
		if exists {
			r.log.Debug().
				Str("order_id", trade.OrderID).
				Msg("Trade with order_id already exists, skipping duplicate")
			return nil
		}
	}

	executedAt := trade.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	_, err := r.db.Conn().Exec(`
		INSERT INTO trades (symbol, side, quantity, price, order_id, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		string(trade.Side),
		trade.Quantity,
		trade.Price,
		nullString(trade.OrderID),
		executedAt.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	r.log.Info().
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("quantity", trade.Quantity).
		Float64("price", trade.Price).
		Msg("Trade recorded")

	return nil
}

// Exists checks if a trade with the given order_id already exists
func (r *TradeRepository) Exists(orderID string) (bool, error) {
	var exists int
	err := r.db.Conn().QueryRow(
		"SELECT 1 FROM trades WHERE order_id = ? LIMIT 1", orderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check trade existence: %w", err)
	}
	return true, nil
}

// GetHistory retrieves trade history, most recent first
func (r *TradeRepository) GetHistory(limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Conn().Query(`
		SELECT `+tradesColumns+` FROM trades
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	defer rows.Close()

	return r.collectTrades(rows)
}

// GetBySymbol retrieves trades for a specific symbol, most recent first
func (r *TradeRepository) GetBySymbol(symbol string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Conn().Query(`
		SELECT `+tradesColumns+` FROM trades
		WHERE symbol = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`, strings.ToUpper(strings.TrimSpace(symbol)), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades by symbol: %w", err)
	}
	defer rows.Close()

	return r.collectTrades(rows)
}

// GetTradeCountToday counts trades executed today (UTC)
func (r *TradeRepository) GetTradeCountToday() (int, error) {
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var count int
	err := r.db.Conn().QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE executed_at >= ? AND executed_at < ?`,
		startOfDay.Unix(), startOfDay.Add(24*time.Hour).Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get trade count today: %w", err)
	}
	return count, nil
}

// GetLastTradeTimestamp returns the timestamp of the most recent trade,
// nil when no trade has ever been recorded.
func (r *TradeRepository) GetLastTradeTimestamp() (*time.Time, error) {
	var executedAt sql.NullInt64
	err := r.db.Conn().QueryRow(`
		SELECT executed_at FROM trades
		ORDER BY executed_at DESC LIMIT 1`).Scan(&executedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last trade timestamp: %w", err)
	}
	if !executedAt.Valid {
		return nil, nil
	}

	t := time.Unix(executedAt.Int64, 0).UTC()
	return &t, nil
}

func (r *TradeRepository) collectTrades(rows *sql.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		var trade Trade
		var orderID sql.NullString
		var executedAt, createdAt int64

		err := rows.Scan(
			&trade.ID,
			&trade.Symbol,
			&trade.Side,
			&trade.Quantity,
			&trade.Price,
			&orderID,
			&executedAt,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		if orderID.Valid {
			trade.OrderID = orderID.String
		}
		trade.ExecutedAt = time.Unix(executedAt, 0).UTC()
		created := time.Unix(createdAt, 0).UTC()
		trade.CreatedAt = &created

		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
