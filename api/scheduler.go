/*
scheduler.go - Automated monthly run scheduler

PURPOSE:
  Periodically checks whether the previous calendar month has a stored
  compensation run and automatically executes one when it does not.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Detects the previous month via the engine's period helpers
  - Skips when a run already covers that period
  - Persists runs through the same RunStore the API uses

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRunScheduler(handler, provider)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ExecuteRun endpoint (manual runs)
  - engine/run.go: Engine pipeline
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/comp-engine/engine"
)

// InputProvider supplies the raw rows for a scheduled period, plus any
// per-period identity aliases to layer over the handler's table.
// Deployments back this with whatever feeds the scheduling database and
// scraper exports; FileInputProvider reads monthly JSON drops.
type InputProvider interface {
	FetchInput(ctx context.Context, period engine.Period) (engine.RunInput, engine.IdentityTable, error)
}

// FileInputProvider reads a period's input from a directory of monthly
// drops. The file for a period is named after its starting month
// (2025-03.json) and holds the same JSON body POST /api/runs accepts; its
// period fields are overridden by the scheduled period.
type FileInputProvider struct {
	Dir      string
	Location *time.Location
}

func (p *FileInputProvider) FetchInput(_ context.Context, period engine.Period) (engine.RunInput, engine.IdentityTable, error) {
	path := filepath.Join(p.Dir, period.Start.Format("2006-01")+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.RunInput{}, nil, err
	}

	var req RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return engine.RunInput{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	req.PeriodStart = period.Start.Format("2006-01-02")
	req.PeriodEnd = period.End.Format("2006-01-02")

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	input, err := req.ToInput(loc)
	if err != nil {
		return engine.RunInput{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	return input, engine.NewIdentityTable(req.Identity), nil
}

// RunScheduler executes the monthly compensation run automatically.
type RunScheduler struct {
	Handler       *Handler
	Provider      InputProvider
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRunScheduler creates a new scheduler.
func NewRunScheduler(handler *Handler, provider InputProvider) *RunScheduler {
	return &RunScheduler{
		Handler:       handler,
		Provider:      provider,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *RunScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Handler.Log.Info("scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.Handler.Log.Info("scheduler started", zap.Duration("check_interval", rs.CheckInterval))
}

// Stop stops the scheduler.
func (rs *RunScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.Handler.Log.Info("scheduler stopped")
	}
}

func (rs *RunScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RunScheduler) checkAndProcess() {
	ctx := context.Background()
	period := engine.PreviousMonth(time.Now().In(rs.Handler.Location), rs.Handler.Location)

	done, err := rs.periodHasRun(ctx, period)
	if err != nil {
		rs.Handler.Log.Error("scheduler failed to list runs", zap.Error(err))
		return
	}
	if done {
		return
	}

	rs.Handler.Log.Info("scheduler executing monthly run", zap.String("period", period.String()))
	if err := rs.processPeriod(ctx, period); err != nil {
		rs.Handler.Log.Error("scheduled run failed",
			zap.String("period", period.String()), zap.Error(err))
	}
}

func (rs *RunScheduler) periodHasRun(ctx context.Context, period engine.Period) (bool, error) {
	summaries, err := rs.Handler.Runs.ListRuns(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range summaries {
		if s.Period.Start.Equal(period.Start) && s.Period.End.Equal(period.End) {
			return true, nil
		}
	}
	return false, nil
}

func (rs *RunScheduler) processPeriod(ctx context.Context, period engine.Period) error {
	input, overlay, err := rs.Provider.FetchInput(ctx, period)
	if err != nil {
		return err
	}
	input.Period = period

	cfg := rs.Handler.EngineConfig
	if len(overlay) > 0 {
		cfg.Normalizer.Identity = cfg.Normalizer.Identity.Merge(overlay)
	}

	eng := engine.NewEngine(cfg, rs.Handler.Params, rs.Handler.Log)
	result, err := eng.Run(ctx, input)
	if err != nil {
		return err
	}
	if err := rs.Handler.Runs.SaveRun(ctx, result); err != nil {
		return err
	}

	rs.Handler.Log.Info("scheduled run completed",
		zap.String("run_id", result.RunID),
		zap.String("period", period.String()),
		zap.Int("ledgers", len(result.Ledgers)),
		zap.Int("issues", len(result.Issues)))
	return nil
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *RunScheduler) RunNow() {
	rs.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *RunScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
