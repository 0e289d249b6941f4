// Package journal persists a record of accepted deliveries to SQLite.
//
// Only decrypted payloads and routing metadata are stored. Signatures,
// ciphertext and configured secrets never reach the journal.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxPayloadBytes bounds a single stored payload.
const DefaultMaxPayloadBytes = 256 << 10 // 256 KiB

// timeLayout is fixed-width so received_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Delivery is one journaled callback event or robot message.
type Delivery struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Journal writes deliveries to the delivery table created by
// storage.BootstrapSQLite.
type Journal struct {
	db         *sql.DB
	maxPayload int
	now        func() time.Time
}

func New(db *sql.DB) *Journal {
	return &Journal{
		db:         db,
		maxPayload: DefaultMaxPayloadBytes,
		now:        time.Now,
	}
}

// Record inserts d. A missing ID is filled with a new UUID and a zero
// ReceivedAt with the current time. The stored ID is returned.
func (j *Journal) Record(ctx context.Context, d Delivery) (string, error) {
	if d.Source == "" {
		return "", fmt.Errorf("delivery source is empty")
	}
	if d.Type == "" {
		return "", fmt.Errorf("delivery type is empty")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = j.now()
	}

	payload := d.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("delivery payload is invalid JSON")
	}
	if len(payload) > j.maxPayload {
		return "", fmt.Errorf("delivery payload exceeds max size (%d bytes)", j.maxPayload)
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO delivery(id, source, type, request_id, payload, received_at)
VALUES(?, ?, ?, ?, ?, ?);
`, d.ID, d.Source, d.Type, d.RequestID, string(payload), d.ReceivedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("insert delivery: %w", err)
	}
	return d.ID, nil
}

// Recent returns up to limit deliveries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT id, source, type, COALESCE(request_id, ''), payload, received_at
FROM delivery
ORDER BY received_at DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d        Delivery
			payload  string
			received string
		)
		if err := rows.Scan(&d.ID, &d.Source, &d.Type, &d.RequestID, &payload, &received); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Payload = json.RawMessage(payload)
		d.ReceivedAt, err = time.Parse(timeLayout, received)
		if err != nil {
			return nil, fmt.Errorf("parse received_at for %s: %w", d.ID, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

// Prune deletes deliveries older than retention and reports how many were
// removed. A non-positive retention keeps everything.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-retention).UTC().Format(timeLayout)

	res, err := j.db.ExecContext(ctx, "DELETE FROM delivery WHERE received_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}
