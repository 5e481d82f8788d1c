package cron

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/mail"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/output"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/readiness"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/render"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/store"
	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/robfig/cron/v3"
)

// DefaultCronExpr captures hourly at minute 0
const DefaultCronExpr = "0 * * * *"

// Scheduler runs captures for due targets and records every run
type Scheduler struct {
	store      *store.Store
	backend    render.Backend
	writer     *output.Writer
	limits     model.Limits
	smtp       *model.SMTPConfig
	cron       *cron.Cron
	workerPool chan struct{}
	baseCtx    context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a new scheduler instance
func NewScheduler(st *store.Store, backend render.Backend, writer *output.Writer, settings *model.Settings) *Scheduler {
	limits := settings.Limits
	if limits.MaxConcurrentRenders <= 0 {
		limits.MaxConcurrentRenders = 1
	}
	if limits.MaxAttempts <= 0 {
		limits.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      st,
		backend:    backend,
		writer:     writer,
		limits:     limits,
		smtp:       settings.SMTPConfig,
		cron:       cron.New(cron.WithSeconds()),
		workerPool: make(chan struct{}, limits.MaxConcurrentRenders),
		baseCtx:    ctx,
		cancel:     cancel,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// SyncTargets upserts the configured targets by name and schedules the
// ones that have no next run yet
func (s *Scheduler) SyncTargets(targets []model.Target) error {
	for i := range targets {
		target := targets[i]
		if target.CronExpr == "" {
			target.CronExpr = DefaultCronExpr
		}
		if err := s.store.UpsertTarget(&target); err != nil {
			return fmt.Errorf("failed to sync target %s: %w", target.Name, err)
		}

		stored, err := s.store.GetTarget(target.ID)
		if err != nil {
			return fmt.Errorf("failed to reload target %s: %w", target.Name, err)
		}
		if stored.NextRunAt == nil && !stored.Disabled {
			next := s.calculateNextRun(stored)
			stored.NextRunAt = &next
			if err := s.store.UpdateTarget(stored); err != nil {
				return fmt.Errorf("failed to schedule target %s: %w", target.Name, err)
			}
		}
		log.Printf("[CRON] Synced target '%s' (ID=%d, cron='%s', tz=%s, next=%v)",
			stored.Name, stored.ID, stored.CronExpr, stored.Timezone, stored.NextRunAt)
	}
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	// Add a job that runs every minute to check for due targets
	cronExpr := "0 * * * * *" // Every minute at second 0
	entryID, err := s.cron.AddFunc(cronExpr, s.checkDueTargets)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	if s.limits.RetentionDays > 0 {
		if _, err := s.cron.AddFunc("0 30 3 * * *", func() {
			if _, err := s.Prune(); err != nil {
				log.Printf("[CRON] ERROR: Failed to prune runs: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to add prune job: %w", err)
		}
	}

	s.cron.Start()
	log.Printf("Scheduler started with cron expression '%s' (entry ID: %d)", cronExpr, entryID)
	log.Printf("Current time: %s", s.clock().Format(time.RFC3339))
	return nil
}

// Stop stops the ticker, cancels running captures and closes the backend
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()

	if err := s.backend.Close(); err != nil {
		log.Printf("Failed to close renderer: %v", err)
	}
	log.Println("Scheduler stopped and browser closed")
}

// checkDueTargets checks for targets that are due and executes them
func (s *Scheduler) checkDueTargets() {
	now := s.clock()
	log.Printf("[CRON] Checking for due targets at %s", now.Format(time.RFC3339))

	targets, err := s.store.GetDueTargets(now)
	if err != nil {
		log.Printf("[CRON] ERROR: Failed to get due targets: %v", err)
		return
	}

	if len(targets) == 0 {
		log.Printf("[CRON] No due targets found")
		return
	}

	log.Printf("[CRON] Found %d due target(s)", len(targets))
	for _, target := range targets {
		// Update next run time immediately to prevent duplicate execution
		nextRun := s.calculateNextRun(target)
		target.NextRunAt = &nextRun
		log.Printf("[CRON] Updated target ID=%d next run to: %s", target.ID, nextRun.Format(time.RFC3339))

		if err := s.store.UpdateTarget(target); err != nil {
			log.Printf("[CRON] ERROR: Failed to update target %d next run time: %v", target.ID, err)
			continue
		}

		log.Printf("[CRON] Triggering capture for target ID=%d", target.ID)
		s.spawn(target)
	}
}

func (s *Scheduler) spawn(target *model.Target) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunTarget(s.baseCtx, target)
	}()
}

// RunNow starts a capture of the named target in the background
func (s *Scheduler) RunNow(name string) error {
	target, err := s.store.GetTargetByName(name)
	if err != nil {
		return fmt.Errorf("target %s: %w", name, err)
	}
	log.Printf("[CRON] Manual run requested for target '%s'", name)
	s.spawn(target)
	return nil
}

// RunTarget captures target once (with retries) and returns the recorded run
func (s *Scheduler) RunTarget(ctx context.Context, target *model.Target) (*model.Run, error) {
	log.Printf("[EXECUTE] Starting capture for target ID=%d, Name='%s'", target.ID, target.Name)

	// Acquire worker slot
	select {
	case s.workerPool <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.workerPool }()

	run := &model.Run{
		RunID:      uuid.NewString(),
		TargetID:   target.ID,
		TargetName: target.Name,
		StartedAt:  s.clock(),
		Status:     model.RunStatusRunning,
	}
	if err := s.store.CreateRun(run); err != nil {
		log.Printf("[EXECUTE] ERROR: Failed to create run record for target ID=%d: %v", target.ID, err)
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}
	log.Printf("[EXECUTE] Created run record ID=%d (%s) for target ID=%d", run.ID, run.RunID, target.ID)

	err := s.execute(ctx, target, run)

	now := s.clock()
	run.FinishedAt = &now
	if err != nil {
		run.Status = model.RunStatusFailed
		run.ErrorText = err.Error()
		log.Printf("Target %d capture failed: %v", target.ID, err)
	} else {
		run.Status = model.RunStatusCompleted
	}
	recordRun(run)

	if err := s.store.UpdateRun(run); err != nil {
		log.Printf("Failed to update run record: %v", err)
	}

	// the schedule may have moved on while the capture ran
	target.LastRunAt = &run.StartedAt
	if err := s.store.SetTargetLastRun(target.ID, run.StartedAt); err != nil {
		log.Printf("Failed to update target last run time: %v", err)
	}

	return run, err
}

func (s *Scheduler) execute(ctx context.Context, target *model.Target, run *model.Run) error {
	capture, err := s.executeWithRetry(ctx, target, run)
	if capture != nil && capture.Report != nil {
		applyReport(run, capture.Report)
	}
	if err != nil {
		return err
	}

	artifacts, err := s.writer.Save(target, run.StartedAt, capture.PNG, capture.PDF)
	if artifacts != nil {
		run.PNGPath = artifacts.PNGPath
		run.PDFPath = artifacts.PDFPath
		run.PDFFallback = artifacts.PDFFallback
		run.Bytes = artifacts.Bytes
		run.Checksum = artifacts.Checksum
		run.Warnings = append(run.Warnings, artifacts.Warnings...)
	}
	if err != nil {
		return fmt.Errorf("failed to save capture: %w", err)
	}

	// Artifacts are on disk; make them visible before trying email
	if err := s.store.UpdateRun(run); err != nil {
		log.Printf("WARNING: Failed to update run record with artifacts: %v", err)
	}

	s.deliver(target, run)
	return nil
}

// applyReport copies the readiness outcome into the run record
func applyReport(run *model.Run, r *readiness.Report) {
	run.Ready = r.Ready
	run.Widgets = r.Widgets
	run.Frames = r.Frames
	run.Warnings = append(model.StringList{}, r.Warnings...)
	run.FailedStep = string(r.FailedStep)
	run.FailureReason = r.FailureReason
}

// executeWithRetry repeats the whole capture, never a single readiness step
func (s *Scheduler) executeWithRetry(ctx context.Context, target *model.Target, run *model.Run) (*render.Capture, error) {
	maxAttempts := s.limits.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var capture *render.Capture
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			log.Printf("Retrying target %d (attempt %d/%d) after %v", target.ID, attempt+1, maxAttempts, backoff)
			if err := s.sleep(ctx, backoff); err != nil {
				return capture, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		run.Attempts = attempt + 1
		c, err := s.backend.Capture(ctx, target)
		if c != nil {
			capture = c
		}
		if err == nil {
			return capture, nil
		}

		lastErr = err
		log.Printf("Target %d capture attempt %d failed: %v", target.ID, attempt+1, err)
		if ctx.Err() != nil {
			break
		}
	}

	if maxAttempts == 1 {
		return capture, lastErr
	}
	return capture, fmt.Errorf("all %d attempts failed: %w", run.Attempts, lastErr)
}

// deliver emails the artifacts; failures are recorded on the run only
func (s *Scheduler) deliver(target *model.Target, run *model.Run) {
	if s.smtp == nil || s.smtp.Host == "" {
		run.EmailError = "SMTP not configured"
		return
	}
	if len(target.Recipients.To) == 0 {
		run.EmailError = "no recipients"
		return
	}

	loc, err := time.LoadLocation(target.Timezone)
	if err != nil {
		loc = time.UTC
	}
	vars := map[string]string{
		"target.name":    target.Name,
		"target.url":     target.URL,
		"run.id":         run.RunID,
		"run.started_at": run.StartedAt.In(loc).Format(time.RFC1123),
		"run.widgets":    fmt.Sprintf("%d", run.Widgets),
	}

	subject, body := target.EmailSubject, target.EmailBody
	if subject == "" {
		subject = mail.DefaultSubject
	}
	if body == "" {
		body = mail.DefaultBody
	}

	mailer := mail.NewMailer(*s.smtp)
	log.Printf("Attempting to send email for target %d to %d recipient(s)...", target.ID, len(target.Recipients.All()))
	err = mailer.SendSnapshot(target.Recipients,
		mail.InterpolateTemplate(subject, vars),
		mail.InterpolateTemplate(body, vars),
		run.PNGPath, run.PDFPath)
	if err != nil {
		log.Printf("Failed to send email for target %d: %v - capture saved to %s", target.ID, err, run.PNGPath)
		run.EmailSent = false
		run.EmailError = err.Error()
		return
	}

	run.EmailSent = true
	run.EmailError = ""
}

// Prune deletes runs older than the retention period and their artifacts
func (s *Scheduler) Prune() (int, error) {
	if s.limits.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := s.clock().AddDate(0, 0, -s.limits.RetentionDays)
	pruned, err := s.store.PruneRuns(cutoff)
	if err != nil {
		return 0, err
	}
	for _, run := range pruned {
		output.Remove(run.PNGPath, run.PDFPath)
	}
	log.Printf("[CRON] Pruned %d run(s) older than %s", len(pruned), cutoff.Format(time.RFC3339))
	return len(pruned), nil
}

// CalculateNextRun returns the next scheduled run of target in its timezone
func (s *Scheduler) CalculateNextRun(target *model.Target) time.Time {
	return s.calculateNextRun(target)
}

// calculateNextRun evaluates the target's cron expression in its timezone
func (s *Scheduler) calculateNextRun(target *model.Target) time.Time {
	// Load the target's timezone (default to UTC if not set or invalid)
	loc, err := time.LoadLocation(target.Timezone)
	if err != nil {
		log.Printf("Failed to load timezone %s for target %d: %v, using UTC", target.Timezone, target.ID, err)
		loc = time.UTC
	}

	now := s.clock().In(loc)

	cronExpression := target.CronExpr
	if cronExpression == "" {
		cronExpression = DefaultCronExpr
	}

	expr, err := cronexpr.Parse(cronExpression)
	if err != nil {
		log.Printf("Failed to parse cron expression '%s' for target %d: %v, falling back to 1 hour", cronExpression, target.ID, err)
		return now.Add(1 * time.Hour).UTC().Truncate(time.Second)
	}

	// Convert to UTC for storage (SQLite stores timestamps in UTC)
	// Strip monotonic clock reading by truncating to second precision
	return expr.Next(now).UTC().Truncate(time.Second)
}

// IsNotReady reports whether err is a readiness failure rather than a
// browser or output error
func IsNotReady(err error) bool {
	var se *readiness.StepError
	return errors.As(err, &se)
}
