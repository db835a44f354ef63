package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// Export is an archived readings export.
type Export struct {
	ID            int64
	MeasurementID int64
	Format        string
	Filename      string
	CreatedAt     time.Time
	Hash          string
	SizeBytes     int64
	PublishedAt   sql.NullTime
}

// StoreExport archives a compressed copy of an export. Identical payloads
// are stored once; the existing ID is returned with created=false.
func (s *Store) StoreExport(measurementID int64, format, filename string, payload []byte) (id int64, created bool, err error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, false, fmt.Errorf("compress export: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, false, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])

	result, err := s.db.Exec(`
		INSERT INTO exports
		(measurement_id, format, filename, created_at, payload_compressed, payload_hash, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, measurementID, format, filename, time.Now().UTC(), buf.Bytes(), hashHex, len(payload))
	if err != nil {
		return 0, false, fmt.Errorf("insert export: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 1 {
		id, err := result.LastInsertId()
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	if err := s.db.QueryRow(`SELECT id FROM exports WHERE payload_hash = ?`, hashHex).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("find duplicate export: %w", err)
	}
	return id, false, nil
}

// GetExport returns the metadata and decompressed payload of an export.
func (s *Store) GetExport(id int64) (*Export, []byte, error) {
	var e Export
	var compressed []byte
	err := s.db.QueryRow(`
		SELECT id, measurement_id, format, filename, created_at, payload_hash, size_bytes, published_at, payload_compressed
		FROM exports WHERE id = ?
	`, id).Scan(&e.ID, &e.MeasurementID, &e.Format, &e.Filename, &e.CreatedAt, &e.Hash, &e.SizeBytes, &e.PublishedAt, &compressed)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get export: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress export: %w", err)
	}
	return &e, payload, nil
}

// ListExports returns the newest exports first.
func (s *Store) ListExports(limit int) ([]Export, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, measurement_id, format, filename, created_at, payload_hash, size_bytes, published_at
		FROM exports
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	var exports []Export
	for rows.Next() {
		var e Export
		if err := rows.Scan(&e.ID, &e.MeasurementID, &e.Format, &e.Filename, &e.CreatedAt, &e.Hash, &e.SizeBytes, &e.PublishedAt); err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

// MarkExportPublished records when an export was uploaded to the field office.
func (s *Store) MarkExportPublished(id int64, at time.Time) error {
	if _, err := s.db.Exec(`UPDATE exports SET published_at = ? WHERE id = ?`, at.UTC(), id); err != nil {
		return fmt.Errorf("mark export published: %w", err)
	}
	return nil
}

// CleanupOldExports deletes exports older than the specified number of days.
// Returns the number of deleted records.
func (s *Store) CleanupOldExports(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`DELETE FROM exports WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
