package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aquaguard/internal/model"
)

type dialect struct {
	numbered  bool
	forUpdate string
}

// baseStore implements every repository over database/sql. Queries are written
// with ? placeholders and rebound for drivers that use $n.
type baseStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *baseStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database not open")
	}
	return s.db.PingContext(ctx)
}

func (s *baseStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *baseStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const alertColumns = `id, device_id, device_name, parameter, alert_type, severity, status, current_value,
	threshold_value, trend_direction, message, recommended_action, created_at, acknowledged_at,
	resolved_at, notified_json, metadata_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (model.Alert, error) {
	var (
		a            model.Alert
		threshold    sql.NullFloat64
		createdAt    int64
		ackAt        sql.NullInt64
		resolvedAt   sql.NullInt64
		notifiedJSON string
		metadataJSON sql.NullString
	)
	if err := row.Scan(
		&a.ID, &a.DeviceID, &a.DeviceName, &a.Parameter, &a.AlertType, &a.Severity, &a.Status,
		&a.CurrentValue, &threshold, &a.TrendDirection, &a.Message, &a.RecommendedAction,
		&createdAt, &ackAt, &resolvedAt, &notifiedJSON, &metadataJSON,
	); err != nil {
		return model.Alert{}, err
	}
	if threshold.Valid {
		v := threshold.Float64
		a.ThresholdValue = &v
	}
	a.CreatedAt = fromMillis(createdAt)
	if ackAt.Valid {
		t := fromMillis(ackAt.Int64)
		a.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := fromMillis(resolvedAt.Int64)
		a.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(notifiedJSON), &a.NotifiedRecipientIDs); err != nil {
		return model.Alert{}, fmt.Errorf("decode notified recipients for %s: %w", a.ID, err)
	}
	if a.NotifiedRecipientIDs == nil {
		a.NotifiedRecipientIDs = []string{}
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &a.Metadata); err != nil {
			return model.Alert{}, fmt.Errorf("decode metadata for %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

// CreateAlert relies on the partial unique index over active alerts; a conflicting
// insert affects no rows and reports ErrActiveAlertExists.
func (s *baseStore) CreateAlert(ctx context.Context, alert model.Alert) error {
	notified := alert.NotifiedRecipientIDs
	if notified == nil {
		notified = []string{}
	}
	var metadata sql.NullString
	if alert.Metadata != nil {
		metadata = sql.NullString{String: encodeJSON(alert.Metadata), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		alert.ID,
		alert.DeviceID,
		alert.DeviceName,
		string(alert.Parameter),
		string(alert.AlertType),
		string(alert.Severity),
		string(alert.Status),
		alert.CurrentValue,
		nullFloat(alert.ThresholdValue),
		string(alert.TrendDirection),
		alert.Message,
		alert.RecommendedAction,
		toMillis(alert.CreatedAt),
		nullMillis(alert.AcknowledgedAt),
		nullMillis(alert.ResolvedAt),
		encodeJSON(notified),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	if n == 0 {
		return ErrActiveAlertExists
	}
	return nil
}

func (s *baseStore) GetAlert(ctx context.Context, id string) (model.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`), id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alert{}, ErrNotFound
	}
	return a, err
}

func (s *baseStore) FindActive(ctx context.Context, deviceID string, parameter model.Parameter, alertType model.AlertType) (model.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+alertColumns+` FROM alerts
		WHERE device_id = ? AND parameter = ? AND alert_type = ? AND status = ? LIMIT 1`),
		deviceID, string(parameter), string(alertType), string(model.StatusActive))
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alert{}, ErrNotFound
	}
	return a, err
}

func (s *baseStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	var (
		where []string
		args  []any
	)
	if filter.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.Severities) > 0 {
		where = append(where, "severity IN ("+placeholders(len(filter.Severities))+")")
		for _, sv := range filter.Severities {
			args = append(args, string(sv))
		}
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(filter.Since))
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	out := make([]model.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *baseStore) AddNotifiedRecipients(ctx context.Context, alertID string, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var current string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT notified_json FROM alerts WHERE id = ?`+s.dialect.forUpdate), alertID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return ErrNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	var existing []string
	if current != "" {
		if err := json.Unmarshal([]byte(current), &existing); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("decode notified recipients for %s: %w", alertID, err)
		}
	}
	merged := mergeIDs(existing, recipientIDs)
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE alerts SET notified_json = ? WHERE id = ?`), encodeJSON(merged), alertID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *baseStore) TransitionAlert(ctx context.Context, alertID string, from, to model.Status, at time.Time) error {
	column := ""
	switch to {
	case model.StatusAcknowledged:
		column = ", acknowledged_at = ?"
	case model.StatusResolved:
		column = ", resolved_at = ?"
	}
	args := []any{string(to)}
	if column != "" {
		args = append(args, toMillis(at))
	}
	args = append(args, alertID, string(from))
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE alerts SET status = ?`+column+` WHERE id = ? AND status = ?`), args...)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetAlert(ctx, alertID); err != nil {
		return err
	}
	return ErrStatusConflict
}

func (s *baseStore) SaveReading(ctx context.Context, r model.Reading) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO readings (device_id, ts, tds, ph, turbidity) VALUES (?, ?, ?, ?, ?)`),
		r.DeviceID, toMillis(r.Timestamp), r.Values.TDS, r.Values.PH, r.Values.Turbidity)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (s *baseStore) ReadingsInWindow(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]model.Reading, error) {
	query := `SELECT device_id, ts, tds, ph, turbidity FROM readings
		WHERE device_id = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`
	args := []any{deviceID, toMillis(start), toMillis(end)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()
	out := make([]model.Reading, 0)
	for rows.Next() {
		var (
			r  model.Reading
			ts int64
		)
		if err := rows.Scan(&r.DeviceID, &ts, &r.Values.TDS, &r.Values.PH, &r.Values.Turbidity); err != nil {
			return nil, err
		}
		r.Timestamp = fromMillis(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanDevice(row rowScanner) (model.DeviceInfo, error) {
	var (
		d        model.DeviceInfo
		lastSeen sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Location, &d.Status, &lastSeen); err != nil {
		return model.DeviceInfo{}, err
	}
	if lastSeen.Valid {
		d.LastSeen = fromMillis(lastSeen.Int64)
	}
	return d, nil
}

func (s *baseStore) GetDevice(ctx context.Context, id string) (model.DeviceInfo, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, location, status, last_seen FROM devices WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeviceInfo{}, ErrNotFound
	}
	return d, err
}

func (s *baseStore) ListDevices(ctx context.Context) ([]model.DeviceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, location, status, last_seen FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()
	out := make([]model.DeviceInfo, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *baseStore) UpdateDeviceStatus(ctx context.Context, id string, status model.DeviceStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE devices SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return fmt.Errorf("update device status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *baseStore) UpsertDevice(ctx context.Context, d model.DeviceInfo) error {
	status := d.Status
	if status == "" {
		status = model.DeviceUnknown
	}
	var lastSeen sql.NullInt64
	if !d.LastSeen.IsZero() {
		lastSeen = sql.NullInt64{Int64: toMillis(d.LastSeen), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO devices (id, name, location, status, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			status = excluded.status,
			last_seen = COALESCE(excluded.last_seen, devices.last_seen)`),
		d.ID, d.Name, d.Location, string(status), lastSeen)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

func (s *baseStore) RecordSeen(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO devices (id, name, location, status, last_seen)
		VALUES (?, '', '', ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_seen = CASE WHEN devices.last_seen IS NULL OR devices.last_seen < excluded.last_seen
				THEN excluded.last_seen ELSE devices.last_seen END,
			status = CASE WHEN devices.status = ? THEN devices.status ELSE excluded.status END`),
		id, string(model.DeviceOnline), toMillis(at), string(model.DeviceMaintenance))
	if err != nil {
		return fmt.Errorf("record device seen: %w", err)
	}
	return nil
}

func (s *baseStore) ListRecipients(ctx context.Context) ([]model.RecipientPreference, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, contact, enabled, severities_json, parameters_json, devices_json,
		quiet_enabled, quiet_start, quiet_end FROM recipients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()
	out := make([]model.RecipientPreference, 0)
	for rows.Next() {
		var (
			p                                 model.RecipientPreference
			severities, parameters, deviceIDs string
		)
		if err := rows.Scan(&p.RecipientID, &p.ContactAddress, &p.NotificationsEnabled, &severities, &parameters, &deviceIDs,
			&p.QuietHoursEnabled, &p.QuietHoursStart, &p.QuietHoursEnd); err != nil {
			return nil, err
		}
		if err := decodeList(severities, &p.Severities); err != nil {
			return nil, fmt.Errorf("recipient %s severities: %w", p.RecipientID, err)
		}
		if err := decodeList(parameters, &p.Parameters); err != nil {
			return nil, fmt.Errorf("recipient %s parameters: %w", p.RecipientID, err)
		}
		if err := decodeList(deviceIDs, &p.Devices); err != nil {
			return nil, fmt.Errorf("recipient %s devices: %w", p.RecipientID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func decodeList(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func (s *baseStore) UpsertRecipient(ctx context.Context, p model.RecipientPreference) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO recipients
		(id, contact, enabled, severities_json, parameters_json, devices_json, quiet_enabled, quiet_start, quiet_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			contact = excluded.contact,
			enabled = excluded.enabled,
			severities_json = excluded.severities_json,
			parameters_json = excluded.parameters_json,
			devices_json = excluded.devices_json,
			quiet_enabled = excluded.quiet_enabled,
			quiet_start = excluded.quiet_start,
			quiet_end = excluded.quiet_end`),
		p.RecipientID, p.ContactAddress, p.NotificationsEnabled,
		encodeJSON(p.Severities), encodeJSON(p.Parameters), encodeJSON(p.Devices),
		p.QuietHoursEnabled, p.QuietHoursStart, p.QuietHoursEnd)
	if err != nil {
		return fmt.Errorf("upsert recipient: %w", err)
	}
	return nil
}

func (s *baseStore) DeleteRecipient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM recipients WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete recipient: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *baseStore) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM settings WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (s *baseStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, string(value), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

// Acquire inserts the claim row unless a live one exists. Expired rows are purged first
// so the table only holds live claims.
func (s *baseStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := toMillis(time.Now())
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM claims WHERE expires_at IS NOT NULL AND expires_at <= ?`), now); err != nil {
		return false, fmt.Errorf("purge claims: %w", err)
	}
	var expires sql.NullInt64
	if ttl > 0 {
		expires = sql.NullInt64{Int64: now + ttl.Milliseconds(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO claims (key, expires_at) VALUES (?, ?) ON CONFLICT DO NOTHING`), key, expires)
	if err != nil {
		return false, fmt.Errorf("insert claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert claim: %w", err)
	}
	return n == 1, nil
}

func (s *baseStore) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM claims WHERE key = ?`), key); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
