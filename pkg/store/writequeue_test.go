package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
)

func newTestStore(t testing.TB, name string) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), name)
	st, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return st, dbPath
}

func testTarget(name string) *model.Target {
	return &model.Target{
		Name:       name,
		URL:        "https://dashboards.example.com/d/" + name,
		CronExpr:   "0 * * * *",
		Timezone:   "America/Chicago",
		Recipients: model.Recipients{To: []string{"ops@example.com"}},
	}
}

// TestConcurrentWrites tests that concurrent writes through the queue don't cause SQLITE_BUSY errors
func TestConcurrentWrites(t *testing.T) {
	st, _ := newTestStore(t, "concurrent.db")
	defer st.Close()

	numTargets := 10
	numRuns := 5

	var wg sync.WaitGroup
	errChan := make(chan error, numTargets*(2+numRuns*2))

	for i := 0; i < numTargets; i++ {
		wg.Add(1)
		go func(targetNum int) {
			defer wg.Done()

			target := testTarget(fmt.Sprintf("target-%d", targetNum))
			if err := st.UpsertTarget(target); err != nil {
				errChan <- err
				return
			}

			var runsWG sync.WaitGroup
			for j := 0; j < numRuns; j++ {
				runsWG.Add(1)
				go func(runNum int) {
					defer runsWG.Done()

					run := &model.Run{
						RunID:      fmt.Sprintf("%d-%d", targetNum, runNum),
						TargetID:   target.ID,
						TargetName: target.Name,
						StartedAt:  time.Now(),
						Status:     model.RunStatusRunning,
					}
					if err := st.CreateRun(run); err != nil {
						errChan <- err
						return
					}

					finishedAt := time.Now()
					run.FinishedAt = &finishedAt
					run.Status = model.RunStatusCompleted
					run.Ready = true
					run.PNGPath = "/tmp/test.png"
					run.Bytes = 1024
					run.Checksum = "abc123"
					if err := st.UpdateRun(run); err != nil {
						errChan <- err
					}
				}(j)
			}
			runsWG.Wait()

			lastRun := time.Now()
			target.LastRunAt = &lastRun
			if err := st.UpdateTarget(target); err != nil {
				errChan <- err
			}
		}(i)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		t.Errorf("Got %d errors during concurrent writes:", len(errs))
		for _, err := range errs {
			t.Errorf("  - %v", err)
		}
	}

	targets, err := st.ListTargets()
	if err != nil {
		t.Fatalf("Failed to list targets: %v", err)
	}
	if len(targets) != numTargets {
		t.Errorf("Expected %d targets, got %d", numTargets, len(targets))
	}

	totalRuns := 0
	for _, target := range targets {
		if target.LastRunAt == nil {
			t.Errorf("Target %s has no last run time", target.Name)
		}
		runs, err := st.ListRuns(target.ID, 0)
		if err != nil {
			t.Fatalf("Failed to list runs for target %d: %v", target.ID, err)
		}
		totalRuns += len(runs)
	}

	if expected := numTargets * numRuns; totalRuns != expected {
		t.Errorf("Expected %d total runs, got %d", expected, totalRuns)
	}
}

// TestWriteQueueShutdown tests that the write queue drains before the store closes
func TestWriteQueueShutdown(t *testing.T) {
	st, dbPath := newTestStore(t, "shutdown.db")

	for i := 0; i < 5; i++ {
		if err := st.UpsertTarget(testTarget(fmt.Sprintf("target-%d", i))); err != nil {
			t.Fatalf("Failed to create target: %v", err)
		}
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	st2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer st2.Close()

	targets, err := st2.ListTargets()
	if err != nil {
		t.Fatalf("Failed to list targets: %v", err)
	}
	if len(targets) != 5 {
		t.Errorf("Expected 5 targets after shutdown, got %d", len(targets))
	}
}

// TestWriteAfterClose tests that writes submitted after Close are rejected
func TestWriteAfterClose(t *testing.T) {
	st, _ := newTestStore(t, "closed.db")
	if err := st.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	if err := st.UpsertTarget(testTarget("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	// a second close must not block
	st.writeQueue.shutdown()
}

// BenchmarkConcurrentWrites benchmarks run creation through the queue
func BenchmarkConcurrentWrites(b *testing.B) {
	st, _ := newTestStore(b, "bench.db")
	defer st.Close()

	target := testTarget("bench")
	if err := st.UpsertTarget(target); err != nil {
		b.Fatalf("Failed to create target: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		run := &model.Run{
			RunID:      fmt.Sprintf("bench-%d", i),
			TargetID:   target.ID,
			TargetName: target.Name,
			StartedAt:  time.Now(),
			Status:     model.RunStatusRunning,
		}
		if err := st.CreateRun(run); err != nil {
			b.Fatalf("Failed to create run: %v", err)
		}
	}
}
