package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oebus/fansync/internal/model"
)

// SaveRecord upserts the last-known value for one (device, parameter) pair.
func SaveRecord(conn *sql.DB, deviceID string, rec model.ParamRecord) error {
	_, err := conn.Exec(
		`INSERT INTO param_records (device_id, param_id, raw_value, supported, last_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(device_id, param_id) DO UPDATE SET
			raw_value = excluded.raw_value,
			supported = excluded.supported,
			last_updated = excluded.last_updated`,
		deviceID, rec.ParamID, rec.RawValue, rec.Supported, rec.LastUpdated.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save record %s/%s: %w", deviceID, rec.ParamID, err)
	}
	return nil
}

// LoadRecords returns every persisted record, keyed by device id.
func LoadRecords(conn *sql.DB) (map[string][]model.ParamRecord, error) {
	rows, err := conn.Query(
		`SELECT device_id, param_id, raw_value, supported, last_updated FROM param_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.ParamRecord)
	for rows.Next() {
		var deviceID, paramID, updated string
		var raw float64
		var supported bool
		if err := rows.Scan(&deviceID, &paramID, &raw, &supported, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, fmt.Errorf("bad last_updated for %s/%s: %w", deviceID, paramID, err)
		}
		out[deviceID] = append(out[deviceID], model.ParamRecord{
			ParamID:     paramID,
			RawValue:    raw,
			Supported:   supported,
			LastUpdated: ts,
		})
	}
	return out, rows.Err()
}

// GetRecord fetches a single persisted record.
func GetRecord(conn *sql.DB, deviceID, paramID string) (*model.ParamRecord, error) {
	row := conn.QueryRow(
		`SELECT param_id, raw_value, supported, last_updated FROM param_records
		 WHERE device_id = ? AND param_id = ?`, deviceID, paramID)

	var rec model.ParamRecord
	var updated string
	if err := row.Scan(&rec.ParamID, &rec.RawValue, &rec.Supported, &updated); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, fmt.Errorf("bad last_updated for %s/%s: %w", deviceID, paramID, err)
	}
	rec.LastUpdated = ts
	return &rec, nil
}

// RecordStore adapts a sql.DB to the store's write-through interface.
type RecordStore struct {
	Conn *sql.DB
}

func (r *RecordStore) SaveRecord(deviceID string, rec model.ParamRecord) error {
	return SaveRecord(r.Conn, deviceID, rec)
}
