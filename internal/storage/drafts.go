package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveDraft stores or replaces the draft of one field.
func (s *Store) SaveDraft(d Draft) error {
	now := stamp(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO drafts (record_key, field, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(record_key, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		d.RecordKey, d.Field, d.Value, now,
	)
	if err != nil {
		return fmt.Errorf("saving draft %s/%s: %w", d.RecordKey, d.Field, err)
	}
	return nil
}

// GetDraft returns the draft of one field, or ErrNotFound.
func (s *Store) GetDraft(recordKey, field string) (Draft, error) {
	d := Draft{RecordKey: recordKey, Field: field}
	var updatedAt string
	err := s.db.QueryRow(`SELECT value, updated_at FROM drafts WHERE record_key = ? AND field = ?`, recordKey, field).
		Scan(&d.Value, &updatedAt)
	if err == sql.ErrNoRows {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Draft{}, fmt.Errorf("parsing draft timestamp: %w", err)
	}
	return d, nil
}

// DeleteDraft removes the draft of one field. Deleting a missing draft is
// not an error.
func (s *Store) DeleteDraft(recordKey, field string) error {
	_, err := s.db.Exec(`DELETE FROM drafts WHERE record_key = ? AND field = ?`, recordKey, field)
	return err
}

// DeleteDrafts removes every draft of a record.
func (s *Store) DeleteDrafts(recordKey string) error {
	_, err := s.db.Exec(`DELETE FROM drafts WHERE record_key = ?`, recordKey)
	return err
}

// ListDrafts returns all drafts, most recently edited first. A non-empty
// recordKey restricts the result to that record.
func (s *Store) ListDrafts(recordKey string) ([]Draft, error) {
	query := `SELECT record_key, field, value, updated_at FROM drafts`
	var args []any
	if recordKey != "" {
		query += ` WHERE record_key = ?`
		args = append(args, recordKey)
	}
	query += ` ORDER BY updated_at DESC, record_key, field`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		var d Draft
		var updatedAt string
		if err := rows.Scan(&d.RecordKey, &d.Field, &d.Value, &updatedAt); err != nil {
			return nil, err
		}
		if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing draft timestamp: %w", err)
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}
