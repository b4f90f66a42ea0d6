package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, errors.NewDataError("database", "", "creating database directory", err)
		}
	}

	dsn, inMemory := sqliteDSN(dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.NewDataError("database", "", "failed to open database", err)
	}

	// A single writer keeps WAL contention out of the tick loop.
	db.SetMaxOpenConns(1)
	if !inMemory {
		// Recycling the only connection of an in-memory database would drop it.
		db.SetConnMaxLifetime(time.Hour)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewDataError("database", "", "failed to initialize schema", err)
	}

	return store, nil
}

// sqliteDSN appends the connection options to dbPath, which may already
// carry a query string, and reports whether the database lives in memory.
func sqliteDSN(dbPath string) (string, bool) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	inMemory := dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
	return dbPath + sep + "_journal_mode=WAL&_busy_timeout=5000", inMemory
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Price history, one row per tick or event per instrument
	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument TEXT NOT NULL,
		price REAL NOT NULL,
		volatility REAL NOT NULL DEFAULT 0,
		is_event INTEGER NOT NULL DEFAULT 0,
		ts INTEGER NOT NULL
	);

	-- Key-value state, holds the market snapshot
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_price_history_instrument_ts ON price_history(instrument, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================================
// Price History
// ============================================================================

// Append inserts records in a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, records ...models.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewDataError("price_history", "", "failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_history (instrument, price, volatility, is_event, ts)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.NewDataError("price_history", "", "failed to prepare statement", err)
	}
	defer stmt.Close()

	for _, r := range records {
		isEvent := 0
		if r.Event {
			isEvent = 1
		}
		if _, err := stmt.ExecContext(ctx, r.Instrument, r.Price, r.Volatility, isEvent, r.Timestamp.UnixMilli()); err != nil {
			return errors.NewDataError("price_history", r.Instrument, "failed to insert record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewDataError("price_history", "", "failed to commit transaction", err)
	}

	return nil
}

// Query returns records ascending by time.
func (s *SQLiteStore) Query(ctx context.Context, q HistoryQuery) ([]models.PriceRecord, error) {
	query := `SELECT instrument, price, volatility, is_event, ts FROM price_history WHERE instrument = ?`
	args := []interface{}{q.Instrument}

	if !q.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		query += " AND ts <= ?"
		args = append(args, q.To.UnixMilli())
	}

	// Newest first when limited, reversed below.
	if q.Limit > 0 {
		query += " ORDER BY ts DESC, id DESC LIMIT ?"
		args = append(args, q.Limit)
	} else {
		query += " ORDER BY ts ASC, id ASC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDataError("price_history", q.Instrument, "failed to query history", err)
	}
	defer rows.Close()

	var records []models.PriceRecord
	for rows.Next() {
		var r models.PriceRecord
		var isEvent int
		var ts int64
		if err := rows.Scan(&r.Instrument, &r.Price, &r.Volatility, &isEvent, &ts); err != nil {
			return nil, errors.NewDataError("price_history", q.Instrument, "failed to scan record", err)
		}
		r.Event = isEvent != 0
		r.Timestamp = time.UnixMilli(ts)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewDataError("price_history", q.Instrument, "error iterating history", err)
	}

	if q.Limit > 0 {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	}

	return records, nil
}

// Trim deletes all but the newest maxRecords rows for instrument.
// A non-positive maxRecords keeps everything.
func (s *SQLiteStore) Trim(ctx context.Context, instrument string, maxRecords int) (int64, error) {
	if maxRecords <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM price_history
		WHERE instrument = ? AND id NOT IN (
			SELECT id FROM price_history
			WHERE instrument = ?
			ORDER BY ts DESC, id DESC
			LIMIT ?
		)
	`, instrument, instrument, maxRecords)
	if err != nil {
		return 0, errors.NewDataError("price_history", instrument, "failed to trim history", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// ============================================================================
// Snapshots
// ============================================================================

// SaveSnapshot stores snap as JSON, replacing any previous snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
	`, snapshotKey, data, time.Now().UnixMilli())
	if err != nil {
		return errors.NewDataError("snapshot", "", "failed to save snapshot", err)
	}

	return nil
}

// LoadSnapshot returns the stored snapshot.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, snapshotKey).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDataNotFound
	}
	if err != nil {
		return nil, errors.NewDataError("snapshot", "", "failed to load snapshot", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return &snap, nil
}
