package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/aquaguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, dialect: dialect{numbered: true, forUpdate: " FOR UPDATE"}}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
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
			current_value DOUBLE PRECISION NOT NULL,
			threshold_value DOUBLE PRECISION,
			trend_direction TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			recommended_action TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			acknowledged_at BIGINT,
			resolved_at BIGINT,
			notified_json TEXT NOT NULL DEFAULT '[]',
			metadata_json TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_alerts_active ON alerts(device_id, parameter, alert_type) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status_severity ON alerts(status, severity)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			device_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			tds DOUBLE PRECISION NOT NULL,
			ph DOUBLE PRECISION NOT NULL,
			turbidity DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings(device_id, ts)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			last_seen BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS recipients (
			id TEXT PRIMARY KEY,
			contact TEXT NOT NULL,
			enabled BOOLEAN NOT NULL,
			severities_json TEXT NOT NULL,
			parameters_json TEXT NOT NULL,
			devices_json TEXT NOT NULL,
			quiet_enabled BOOLEAN NOT NULL,
			quiet_start TEXT NOT NULL DEFAULT '',
			quiet_end TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS claims (
			key TEXT PRIMARY KEY,
			expires_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_expires ON claims(expires_at)`,
	})
}
