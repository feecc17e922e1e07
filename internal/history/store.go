// Package history persists completed conversions to a DuckDB file so the
// /history endpoint survives restarts.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/heic-converter/backend/internal/models"
)

// Store is a DuckDB-backed conversion log.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// NewStore opens (or creates) the history database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "history.duckdb")

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS conversions (
			id            VARCHAR PRIMARY KEY,
			filename      VARCHAR NOT NULL,
			source_format VARCHAR,
			output_format VARCHAR NOT NULL,
			input_bytes   BIGINT,
			output_bytes  BIGINT,
			duration_ms   BIGINT,
			decoder       VARCHAR,
			completed_at  TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create conversions table: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Record inserts one completed conversion.
func (s *Store) Record(rec models.ConversionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO conversions
			(id, filename, source_format, output_format, input_bytes, output_bytes, duration_ms, decoder, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.SourceFormat, rec.OutputFormat,
		rec.InputBytes, rec.OutputBytes, rec.DurationMs, rec.Decoder, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting conversion record: %w", err)
	}
	return nil
}

// Recent returns the most recent conversions, newest first.
func (s *Store) Recent(limit int) ([]models.ConversionRecord, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, filename, source_format, output_format, input_bytes, output_bytes, duration_ms, decoder, completed_at
		FROM conversions
		ORDER BY completed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversions: %w", err)
	}
	defer rows.Close()

	records := make([]models.ConversionRecord, 0, limit)
	for rows.Next() {
		var rec models.ConversionRecord
		var completedAt time.Time
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.SourceFormat, &rec.OutputFormat,
			&rec.InputBytes, &rec.OutputBytes, &rec.DurationMs, &rec.Decoder, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning conversion record: %w", err)
		}
		rec.CompletedAt = completedAt
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
