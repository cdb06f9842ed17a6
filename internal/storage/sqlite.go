package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:aquaguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return initSchema(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			device_name TEXT NOT NULL,
			parameter TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			current_value REAL NOT NULL,
			threshold_value REAL,
			trend_direction TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			recommended_action TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			acknowledged_at INTEGER,
			resolved_at INTEGER,
			notified_json TEXT NOT NULL DEFAULT '[]',
			metadata_json TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_alerts_active ON alerts(device_id, parameter, alert_type) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status_severity ON alerts(status, severity)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			tds REAL NOT NULL,
			ph REAL NOT NULL,
			turbidity REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings(device_id, ts)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			last_seen INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS recipients (
			id TEXT PRIMARY KEY,
			contact TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			severities_json TEXT NOT NULL,
			parameters_json TEXT NOT NULL,
			devices_json TEXT NOT NULL,
			quiet_enabled INTEGER NOT NULL,
			quiet_start TEXT NOT NULL DEFAULT '',
			quiet_end TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS claims (
			key TEXT PRIMARY KEY,
			expires_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_expires ON claims(expires_at)`,
	})
}
