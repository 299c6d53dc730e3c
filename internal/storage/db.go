package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"stocktracker/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  state TEXT NOT NULL,
  startedAt TEXT NOT NULL,
  finishedAt TEXT,
  processed INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0,
  duplicatesSkipped INTEGER NOT NULL DEFAULT 0,
  anomalies INTEGER NOT NULL DEFAULT 0,
  errorsJson TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS anomalies (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  sessionId TEXT NOT NULL,
  kind TEXT NOT NULL,
  detail TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(sessionId) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_anomalies_session ON anomalies(sessionId);

CREATE TABLE IF NOT EXISTS report_rows (
  baseArticle TEXT PRIMARY KEY,
  nmId INTEGER NOT NULL DEFAULT 0,
  totalOrders INTEGER NOT NULL,
  totalStock REAL NOT NULL,
  turnover REAL NOT NULL,
  category TEXT NOT NULL,
  riskLevel TEXT NOT NULL,
  stockStatus TEXT NOT NULL,
  warehouseNamesJson TEXT NOT NULL,
  warehouseOrdersJson TEXT NOT NULL,
  warehouseStocksJson TEXT NOT NULL,
  syncedAt TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) CreateSession(session internal.SyncSession) error {
	errorsJSON, _ := json.Marshal(session.Errors)
	_, err := d.conn.Exec(`
INSERT INTO sessions (id, state, startedAt, errorsJson)
VALUES (?, ?, ?, ?)
`, session.ID, string(session.State), session.StartedAt.UTC().Format(time.RFC3339), string(errorsJSON))
	return err
}

// FinalizeSession writes the terminal snapshot of a session. Called exactly
// once per run; the row is never touched afterwards.
func (d *DB) FinalizeSession(session internal.SyncSession) error {
	errorsJSON, _ := json.Marshal(session.Errors)
	finishedAt := ""
	if session.FinishedAt != nil {
		finishedAt = session.FinishedAt.UTC().Format(time.RFC3339)
	}
	_, err := d.conn.Exec(`
UPDATE sessions SET
  state = ?,
  finishedAt = ?,
  processed = ?,
  failed = ?,
  duplicatesSkipped = ?,
  anomalies = ?,
  errorsJson = ?
WHERE id = ?
`, string(session.State), finishedAt, session.Processed, session.Failed, session.DuplicatesSkipped, session.Anomalies, string(errorsJSON), session.ID)
	return err
}

func (d *DB) GetSession(id string) (*internal.SyncSession, error) {
	row := d.conn.QueryRow(`
SELECT id, state, startedAt, finishedAt, processed, failed, duplicatesSkipped, anomalies, errorsJson
FROM sessions WHERE id = ?
`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (d *DB) ListSessions(limit int) ([]internal.SyncSession, error) {
	rows, err := d.conn.Query(`
SELECT id, state, startedAt, finishedAt, processed, failed, duplicatesSkipped, anomalies, errorsJson
FROM sessions ORDER BY startedAt DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.SyncSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(scanner rowScanner) (internal.SyncSession, error) {
	var session internal.SyncSession
	var state, startedAt, errorsJSON string
	var finishedAt sql.NullString
	if err := scanner.Scan(&session.ID, &state, &startedAt, &finishedAt, &session.Processed, &session.Failed, &session.DuplicatesSkipped, &session.Anomalies, &errorsJSON); err != nil {
		return internal.SyncSession{}, err
	}
	session.State = internal.SessionState(state)
	if parsed, err := time.Parse(time.RFC3339, startedAt); err == nil {
		session.StartedAt = parsed
	}
	if finishedAt.Valid && finishedAt.String != "" {
		if parsed, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			session.FinishedAt = &parsed
		}
	}
	_ = json.Unmarshal([]byte(errorsJSON), &session.Errors)
	return session, nil
}

func (d *DB) InsertAnomalies(sessionID string, anomalies []internal.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO anomalies (sessionId, kind, detail) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, anomaly := range anomalies {
		if _, err := stmt.Exec(sessionID, string(anomaly.Kind), anomaly.Detail); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) ListAnomalies(sessionID string) ([]internal.Anomaly, error) {
	rows, err := d.conn.Query(`SELECT kind, detail FROM anomalies WHERE sessionId = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Anomaly
	for rows.Next() {
		var anomaly internal.Anomaly
		var kind string
		if err := rows.Scan(&kind, &anomaly.Detail); err != nil {
			return nil, err
		}
		anomaly.Kind = internal.AnomalyKind(kind)
		out = append(out, anomaly)
	}
	return out, rows.Err()
}

// UpsertReportRows replaces the cached sink rows for the given identities.
// Keyed by base article so re-running a sync rewrites rows in place.
func (d *DB) UpsertReportRows(rowsIn []internal.ReportRow) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO report_rows (
  baseArticle, nmId, totalOrders, totalStock, turnover, category, riskLevel, stockStatus,
  warehouseNamesJson, warehouseOrdersJson, warehouseStocksJson, syncedAt
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(baseArticle) DO UPDATE SET
  nmId=excluded.nmId,
  totalOrders=excluded.totalOrders,
  totalStock=excluded.totalStock,
  turnover=excluded.turnover,
  category=excluded.category,
  riskLevel=excluded.riskLevel,
  stockStatus=excluded.stockStatus,
  warehouseNamesJson=excluded.warehouseNamesJson,
  warehouseOrdersJson=excluded.warehouseOrdersJson,
  warehouseStocksJson=excluded.warehouseStocksJson,
  syncedAt=excluded.syncedAt
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rowsIn {
		namesJSON, _ := json.Marshal(row.WarehouseNames)
		ordersJSON, _ := json.Marshal(row.WarehouseOrders)
		stocksJSON, _ := json.Marshal(row.WarehouseStocks)
		if _, err := stmt.Exec(
			row.BaseArticle, row.NmID, row.TotalOrders, row.TotalStock, row.Turnover,
			row.Category, row.RiskLevel, row.StockStatus,
			string(namesJSON), string(ordersJSON), string(stocksJSON), row.SyncedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) ListReportRows() ([]internal.ReportRow, error) {
	rows, err := d.conn.Query(`
SELECT baseArticle, nmId, totalOrders, totalStock, turnover, category, riskLevel, stockStatus,
       warehouseNamesJson, warehouseOrdersJson, warehouseStocksJson, syncedAt
FROM report_rows ORDER BY baseArticle ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ReportRow
	for rows.Next() {
		var row internal.ReportRow
		var namesJSON, ordersJSON, stocksJSON string
		if err := rows.Scan(
			&row.BaseArticle, &row.NmID, &row.TotalOrders, &row.TotalStock, &row.Turnover,
			&row.Category, &row.RiskLevel, &row.StockStatus,
			&namesJSON, &ordersJSON, &stocksJSON, &row.SyncedAt,
		); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(namesJSON), &row.WarehouseNames)
		_ = json.Unmarshal([]byte(ordersJSON), &row.WarehouseOrders)
		_ = json.Unmarshal([]byte(stocksJSON), &row.WarehouseStocks)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
