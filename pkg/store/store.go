package store

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	_ "modernc.org/sqlite" // Register SQLite driver
)

// ErrNotFound is returned when a target or run does not exist
var ErrNotFound = fmt.Errorf("not found")

const sqliteTimeFormat = "2006-01-02 15:04:05"

// parseTimestamp parses a timestamp string from SQLite, handling multiple formats
// Formats supported:
// - "2006-01-02 15:04:05" (UTC, no timezone)
// - "2006-01-02 15:04:05 +0300 EEST" (with timezone)
// - RFC3339
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}

	formats := []string{
		sqliteTimeFormat,
		"2006-01-02 15:04:05 -0700 MST",
		"2006-01-02 15:04:05 -0700",
		time.RFC3339,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return &t
		}
	}

	log.Printf("[STORE] WARNING: Failed to parse timestamp: %s", s)
	return nil
}

func formatTimestamp(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTimeFormat)
}

// Store handles database operations
type Store struct {
	db         *sql.DB
	writeQueue *writeQueue
}

// NewStore creates a new store instance
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL allows concurrent readers alongside the single writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)

	log.Println("[STORE] SQLite configured: WAL mode enabled, busy_timeout=5000ms, single writer connection")

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store.writeQueue = newWriteQueue()
	log.Println("[STORE] Write queue initialized for serialized database writes")

	return store, nil
}

// migrate runs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS targets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			timezone TEXT NOT NULL,
			file_prefix TEXT,
			file_suffix TEXT,
			recipients TEXT,
			email_subject TEXT,
			email_body TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run_at DATETIME,
			next_run_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_next_run_at ON targets(next_run_at)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			target_id INTEGER NOT NULL,
			target_name TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			ready INTEGER NOT NULL DEFAULT 0,
			widgets INTEGER NOT NULL DEFAULT 0,
			frames INTEGER NOT NULL DEFAULT 0,
			warnings TEXT,
			failed_step TEXT,
			failure_reason TEXT,
			error_text TEXT,
			png_path TEXT,
			pdf_path TEXT,
			pdf_fallback INTEGER NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0,
			checksum TEXT,
			email_sent INTEGER NOT NULL DEFAULT 0,
			email_error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (target_id) REFERENCES targets(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_target_id ON runs(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			// Ignore "duplicate column" errors - column already exists
			if !strings.Contains(err.Error(), "duplicate column name") {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Printf("[STORE] Migration warning (ignored): %v", err)
		}
	}

	return nil
}

const targetColumns = `id, name, url, cron_expr, timezone, file_prefix, file_suffix, recipients,
	email_subject, email_body, enabled, last_run_at, next_run_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTarget(row rowScanner) (*model.Target, error) {
	t := &model.Target{}
	var prefix, suffix, subject, body sql.NullString
	var lastRunAtStr, nextRunAtStr sql.NullString
	var enabled bool

	err := row.Scan(
		&t.ID, &t.Name, &t.URL, &t.CronExpr, &t.Timezone, &prefix, &suffix, &t.Recipients,
		&subject, &body, &enabled, &lastRunAtStr, &nextRunAtStr, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.FilePrefix = prefix.String
	t.FileSuffix = suffix.String
	t.EmailSubject = subject.String
	t.EmailBody = body.String
	t.Disabled = !enabled
	if lastRunAtStr.Valid {
		t.LastRunAt = parseTimestamp(lastRunAtStr.String)
	}
	if nextRunAtStr.Valid {
		t.NextRunAt = parseTimestamp(nextRunAtStr.String)
	}
	return t, nil
}

// UpsertTarget inserts a target or refreshes its definition by name (queued
// for serialized execution). Scheduling state already stored is preserved.
func (s *Store) UpsertTarget(target *model.Target) error {
	return s.writeQueue.do("upsert target "+target.Name, func() error { return s.upsertTargetDirect(target) })
}

// upsertTargetDirect is called by the write queue
func (s *Store) upsertTargetDirect(target *model.Target) error {
	now := time.Now()

	existing, err := s.GetTargetByName(target.Name)
	if err != nil && err != ErrNotFound {
		return err
	}

	if existing == nil {
		target.CreatedAt = now
		target.UpdatedAt = now
		result, err := s.db.Exec(`
			INSERT INTO targets (
				name, url, cron_expr, timezone, file_prefix, file_suffix, recipients,
				email_subject, email_body, enabled, next_run_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			target.Name, target.URL, target.CronExpr, target.Timezone, target.FilePrefix,
			target.FileSuffix, target.Recipients, target.EmailSubject, target.EmailBody,
			!target.Disabled, formatTimestamp(target.NextRunAt), now, now,
		)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		target.ID = id
		return nil
	}

	// a changed cron expression invalidates the stored next run
	nextRunAt := existing.NextRunAt
	if existing.CronExpr != target.CronExpr || existing.Timezone != target.Timezone {
		nextRunAt = target.NextRunAt
	}

	target.ID = existing.ID
	target.CreatedAt = existing.CreatedAt
	target.UpdatedAt = now
	target.LastRunAt = existing.LastRunAt
	target.NextRunAt = nextRunAt

	_, err = s.db.Exec(`
		UPDATE targets SET
			url = ?, cron_expr = ?, timezone = ?, file_prefix = ?, file_suffix = ?,
			recipients = ?, email_subject = ?, email_body = ?, enabled = ?,
			next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		target.URL, target.CronExpr, target.Timezone, target.FilePrefix, target.FileSuffix,
		target.Recipients, target.EmailSubject, target.EmailBody, !target.Disabled,
		formatTimestamp(target.NextRunAt), now, target.ID,
	)
	return err
}

// UpdateTarget stores the scheduling state of a target (queued for serialized execution)
func (s *Store) UpdateTarget(target *model.Target) error {
	return s.writeQueue.do("update target "+target.Name, func() error { return s.updateTargetDirect(target) })
}

// updateTargetDirect is called by the write queue
func (s *Store) updateTargetDirect(target *model.Target) error {
	target.UpdatedAt = time.Now()
	_, err := s.db.Exec(`
		UPDATE targets SET enabled = ?, last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		!target.Disabled, formatTimestamp(target.LastRunAt), formatTimestamp(target.NextRunAt),
		target.UpdatedAt, target.ID,
	)
	return err
}

// SetTargetLastRun records when target id last ran and leaves its schedule alone
func (s *Store) SetTargetLastRun(id int64, at time.Time) error {
	return s.writeQueue.do("set target last run", func() error {
		res, err := s.db.Exec(`UPDATE targets SET last_run_at = ?, updated_at = ? WHERE id = ?`,
			formatTimestamp(&at), time.Now(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetTarget retrieves a target by ID
func (s *Store) GetTarget(id int64) (*model.Target, error) {
	t, err := scanTarget(s.db.QueryRow(`SELECT `+targetColumns+` FROM targets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// GetTargetByName retrieves a target by its unique name
func (s *Store) GetTargetByName(name string) (*model.Target, error) {
	t, err := scanTarget(s.db.QueryRow(`SELECT `+targetColumns+` FROM targets WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTargets retrieves all targets
func (s *Store) ListTargets() ([]*model.Target, error) {
	return s.queryTargets(`SELECT ` + targetColumns + ` FROM targets ORDER BY name ASC`)
}

// GetDueTargets retrieves enabled targets whose next run is due
func (s *Store) GetDueTargets(now time.Time) ([]*model.Target, error) {
	log.Printf("[STORE] GetDueTargets: current time = %s", now.UTC().Format(sqliteTimeFormat))

	targets, err := s.queryTargets(`
		SELECT `+targetColumns+` FROM targets
		WHERE enabled = 1 AND (next_run_at IS NULL OR datetime(next_run_at) <= datetime(?))
		ORDER BY next_run_at ASC`,
		now.UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		return nil, err
	}

	log.Printf("[STORE] GetDueTargets: returning %d target(s)", len(targets))
	return targets, nil
}

func (s *Store) queryTargets(query string, args ...interface{}) ([]*model.Target, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	targets := make([]*model.Target, 0)
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			log.Printf("[STORE] ERROR: Failed to scan target row: %v", err)
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// CreateRun creates a new run record (queued for serialized execution)
func (s *Store) CreateRun(run *model.Run) error {
	return s.writeQueue.do("create run "+run.RunID, func() error { return s.createRunDirect(run) })
}

// createRunDirect is called by the write queue
func (s *Store) createRunDirect(run *model.Run) error {
	run.CreatedAt = time.Now().UTC()

	result, err := s.db.Exec(`
		INSERT INTO runs (run_id, target_id, target_name, started_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.TargetID, run.TargetName, run.StartedAt.UTC(), run.Status, run.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id

	return nil
}

// UpdateRun updates a run record (queued for serialized execution)
func (s *Store) UpdateRun(run *model.Run) error {
	return s.writeQueue.do("update run "+run.RunID, func() error { return s.updateRunDirect(run) })
}

// updateRunDirect is called by the write queue
func (s *Store) updateRunDirect(run *model.Run) error {
	var finishedAt interface{}
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UTC()
	}

	_, err := s.db.Exec(`
		UPDATE runs SET
			finished_at = ?, status = ?, attempts = ?, ready = ?, widgets = ?, frames = ?,
			warnings = ?, failed_step = ?, failure_reason = ?, error_text = ?,
			png_path = ?, pdf_path = ?, pdf_fallback = ?, bytes = ?, checksum = ?,
			email_sent = ?, email_error = ?
		WHERE id = ?`,
		finishedAt, run.Status, run.Attempts, run.Ready, run.Widgets, run.Frames,
		run.Warnings, run.FailedStep, run.FailureReason, run.ErrorText,
		run.PNGPath, run.PDFPath, run.PDFFallback, run.Bytes, run.Checksum,
		run.EmailSent, run.EmailError, run.ID,
	)
	return err
}

const runColumns = `id, run_id, target_id, target_name, started_at, finished_at, status, attempts,
	ready, widgets, frames, warnings, failed_step, failure_reason, error_text, png_path, pdf_path,
	pdf_fallback, bytes, checksum, email_sent, email_error, created_at`

func scanRun(row rowScanner) (*model.Run, error) {
	run := &model.Run{}
	var finishedAt sql.NullTime
	var failedStep, failureReason, errorText, pngPath, pdfPath, checksum, emailError sql.NullString

	err := row.Scan(
		&run.ID, &run.RunID, &run.TargetID, &run.TargetName, &run.StartedAt, &finishedAt,
		&run.Status, &run.Attempts, &run.Ready, &run.Widgets, &run.Frames, &run.Warnings,
		&failedStep, &failureReason, &errorText, &pngPath, &pdfPath, &run.PDFFallback,
		&run.Bytes, &checksum, &run.EmailSent, &emailError, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	run.FailedStep = failedStep.String
	run.FailureReason = failureReason.String
	run.ErrorText = errorText.String
	run.PNGPath = pngPath.String
	run.PDFPath = pdfPath.String
	run.Checksum = checksum.String
	run.EmailError = emailError.String

	return run, nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id int64) (*model.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns retrieves the most recent runs, newest first. A zero targetID
// lists runs of every target.
func (s *Store) ListRuns(targetID int64, limit int) ([]*model.Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if targetID != 0 {
		query += ` WHERE target_id = ?`
		args = append(args, targetID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]*model.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// PruneRuns deletes finished runs that started before cutoff and returns them
// so their artifacts can be removed (queued for serialized execution).
func (s *Store) PruneRuns(cutoff time.Time) ([]*model.Run, error) {
	var pruned []*model.Run
	err := s.writeQueue.do("prune runs", func() error {
		var err error
		pruned, err = s.pruneRunsDirect(cutoff)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pruned, nil
}

// pruneRunsDirect is called by the write queue
func (s *Store) pruneRunsDirect(cutoff time.Time) ([]*model.Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs WHERE finished_at IS NOT NULL AND started_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, err
	}

	var pruned []*model.Run
	var ids []interface{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		pruned = append(pruned, run)
		ids = append(ids, run.ID)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := s.db.Exec(`DELETE FROM runs WHERE id IN (`+placeholders+`)`, ids...); err != nil {
		return nil, err
	}
	return pruned, nil
}

// Close closes the database connection and shuts down the write queue
func (s *Store) Close() error {
	// Shutdown write queue first to ensure all pending writes complete
	if s.writeQueue != nil {
		s.writeQueue.shutdown()
	}
	return s.db.Close()
}
