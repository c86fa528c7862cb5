package uploadstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"crease/internal/analysis"
	"crease/internal/config"
)

const activeSlot = "active"

var (
	// ErrRecordVersion indicates a persisted record was written by an incompatible build.
	ErrRecordVersion = errors.New("upload record version mismatch")
	// ErrInvalidRecord indicates a record violates the result/error invariants.
	ErrInvalidRecord = errors.New("invalid upload record")
)

// Store persists the active upload record and cached results in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the database under the configured state directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// CheckHealth verifies the database answers queries and carries the expected schema.
func (s *Store) CheckHealth(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	version, err := readSchemaVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if version != schemaVersion {
		return s.mismatch(version)
	}
	return nil
}

// Save upserts the active record.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	formJSON, err := json.Marshal(rec.Form)
	if err != nil {
		return fmt.Errorf("marshal form: %w", err)
	}
	var resultJSON sql.NullString
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}

	rec.SchemaVersion = RecordVersion
	rec.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO upload_record (
            slot, upload_id, job_id, form_json, start_time, status,
            result_json, error_message, record_version, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(slot) DO UPDATE SET
            upload_id = excluded.upload_id,
            job_id = excluded.job_id,
            form_json = excluded.form_json,
            start_time = excluded.start_time,
            status = excluded.status,
            result_json = excluded.result_json,
            error_message = excluded.error_message,
            record_version = excluded.record_version,
            updated_at = excluded.updated_at`,
		activeSlot,
		rec.UploadID,
		nullableString(rec.JobID),
		string(formJSON),
		formatTime(rec.StartTime),
		string(rec.Status),
		resultJSON,
		nullableString(rec.Error),
		rec.SchemaVersion,
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save upload record: %w", err)
	}
	return nil
}

// Load returns the active record, or nil when none is stored.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT upload_id, job_id, form_json, start_time, status,
                result_json, error_message, record_version, updated_at
         FROM upload_record WHERE slot = ?`, activeSlot)

	var (
		uploadID     string
		jobID        sql.NullString
		formJSON     string
		startRaw     string
		statusRaw    string
		resultJSON   sql.NullString
		errorMessage sql.NullString
		version      int
		updatedRaw   string
	)
	err := row.Scan(&uploadID, &jobID, &formJSON, &startRaw, &statusRaw, &resultJSON, &errorMessage, &version, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load upload record: %w", err)
	}

	if version != RecordVersion {
		return nil, fmt.Errorf("%w: record %s has version %d, expected %d", ErrRecordVersion, uploadID, version, RecordVersion)
	}

	status, ok := ParseStatus(statusRaw)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, statusRaw)
	}

	rec := &Record{
		UploadID:      uploadID,
		JobID:         jobID.String,
		StartTime:     parseTimeString(startRaw),
		Status:        status,
		Error:         errorMessage.String,
		SchemaVersion: version,
		UpdatedAt:     parseTimeString(updatedRaw),
	}
	if err := json.Unmarshal([]byte(formJSON), &rec.Form); err != nil {
		return nil, fmt.Errorf("decode form: %w", err)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result analysis.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		rec.Result = &result
	}
	return rec, nil
}

// Delete removes the active record unconditionally.
func (s *Store) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM upload_record WHERE slot = ?", activeSlot); err != nil {
		return fmt.Errorf("delete upload record: %w", err)
	}
	return nil
}

// DeleteIf removes the active record only if it still belongs to uploadID.
// It reports whether a row was removed.
func (s *Store) DeleteIf(ctx context.Context, uploadID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM upload_record WHERE slot = ? AND upload_id = ?", activeSlot, uploadID)
	if err != nil {
		return false, fmt.Errorf("delete upload record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func validateRecord(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	if strings.TrimSpace(rec.UploadID) == "" {
		return fmt.Errorf("%w: upload id is required", ErrInvalidRecord)
	}
	if _, ok := ParseStatus(string(rec.Status)); !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, rec.Status)
	}
	if rec.Result != nil && rec.Error != "" {
		return fmt.Errorf("%w: result and error are mutually exclusive", ErrInvalidRecord)
	}
	if rec.Result != nil && rec.Status != StatusCompleted {
		return fmt.Errorf("%w: result set on %s record", ErrInvalidRecord, rec.Status)
	}
	if rec.Error != "" && rec.Status != StatusFailed {
		return fmt.Errorf("%w: error set on %s record", ErrInvalidRecord, rec.Status)
	}
	return nil
}
