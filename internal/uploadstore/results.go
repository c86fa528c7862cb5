package uploadstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crease/internal/analysis"
)

// SaveResult caches a finished analysis under its server-side filename.
func (s *Store) SaveResult(ctx context.Context, uploadID string, result *analysis.Result) error {
	if result == nil {
		return errors.New("save result: result is nil")
	}
	filename := strings.TrimSpace(result.Filename)
	if filename == "" {
		return errors.New("save result: filename is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (filename, upload_id, player_type, result_json, saved_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(filename) DO UPDATE SET
            upload_id = excluded.upload_id,
            player_type = excluded.player_type,
            result_json = excluded.result_json,
            saved_at = excluded.saved_at`,
		filename,
		nullableString(uploadID),
		nullableString(string(result.PlayerType)),
		string(data),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetResult returns the cached analysis for filename, or nil when absent.
func (s *Store) GetResult(ctx context.Context, filename string) (*CachedResult, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT filename, upload_id, player_type, result_json, saved_at FROM results WHERE filename = ?", filename)
	cached, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cached, err
}

// ListResults returns cached analyses, newest first.
func (s *Store) ListResults(ctx context.Context) ([]*CachedResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT filename, upload_id, player_type, result_json, saved_at FROM results ORDER BY saved_at DESC, filename")
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []*CachedResult
	for rows.Next() {
		cached, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cached)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// ClearResults drops every cached analysis.
func (s *Store) ClearResults(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM results"); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}
	return nil
}

func scanResult(scanner interface{ Scan(dest ...any) error }) (*CachedResult, error) {
	var (
		filename   string
		uploadID   sql.NullString
		playerType sql.NullString
		resultJSON string
		savedRaw   string
	)
	if err := scanner.Scan(&filename, &uploadID, &playerType, &resultJSON, &savedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}
	var result analysis.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("decode cached result %s: %w", filename, err)
	}
	return &CachedResult{
		Filename:   filename,
		UploadID:   uploadID.String,
		PlayerType: analysis.PlayerType(playerType.String),
		Result:     &result,
		SavedAt:    parseTimeString(savedRaw),
	}, nil
}
