package syncpipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"salonbook/internal/analytics"
	"salonbook/internal/clock"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/metrics"
)

const (
	DefaultLimit        = 5000
	DefaultRetryBackoff = 5 * time.Second
	DefaultMaxAttempts  = 5
	DefaultBatchTimeout = 2 * time.Minute
)

var (
	// ErrPipelineStalled marks a run that exhausted its retries on one batch.
	ErrPipelineStalled = errors.New("sync pipeline stalled")
	// ErrAlreadyRunning is returned by Trigger while a run is in flight.
	ErrAlreadyRunning = errors.New("sync already running")
)

// StalledError describes the batch a run gave up on.
type StalledError struct {
	Cursor   string
	Attempts int
	Err      error
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("sync pipeline stalled at cursor %q after %d attempts: %v", e.Cursor, e.Attempts, e.Err)
}

func (e *StalledError) Unwrap() error { return e.Err }

func (e *StalledError) Is(target error) bool { return target == ErrPipelineStalled }

// State is a pipeline stage.
type State string

const (
	StateIdle         State = "idle"
	StateFetching     State = "fetching"
	StateTransforming State = "transforming"
	StateUpserting    State = "upserting"
	StateDeleting     State = "deleting"
	StateRescheduled  State = "rescheduled"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Source reads completed reservations page by page.
type Source interface {
	FetchCompleted(ctx context.Context, before time.Time, cursor string, limit int) (domain.ReservationPage, error)
}

// Sink stores analytics facts, replacing rows with the same id.
type Sink interface {
	Upsert(ctx context.Context, facts []analytics.ReservationFact) error
}

// Deleter removes migrated reservations. Missing ids are not an error.
type Deleter interface {
	DeleteReservations(ctx context.Context, ids []string) error
}

// Completer moves finished confirmed reservations to completed before a run.
type Completer interface {
	MarkCompleted(ctx context.Context, now time.Time) (int64, error)
}

// EventPublisher publishes sync events.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// Config tunes the pipeline. Zero values take the defaults.
type Config struct {
	Limit        int
	RetryBackoff time.Duration
	MaxAttempts  int
	BatchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	return c
}

// Status is a snapshot of the current or last run.
type Status struct {
	RunID     string    `json:"run_id,omitempty"`
	State     State     `json:"state"`
	Cursor    string    `json:"cursor"`
	Attempt   int       `json:"attempt"`
	Migrated  int       `json:"migrated"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pipeline moves completed reservations to the analytics store in batches.
// Each batch schedules the next one; a failed batch is retried from the same
// cursor after a fixed backoff.
type Pipeline struct {
	source    Source
	sink      Sink
	deleter   Deleter
	scheduler Scheduler
	clock     clock.Clock
	bus       EventPublisher
	completer Completer
	cfg       Config
	logger    zerolog.Logger

	mu      sync.Mutex
	status  Status
	running bool
	done    chan struct{}
	lastErr error
}

// New creates a pipeline.
func New(source Source, sink Sink, deleter Deleter, scheduler Scheduler, clk clock.Clock, cfg Config, logger *zerolog.Logger) *Pipeline {
	if clk == nil {
		clk = clock.System{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "syncpipe").Logger()
	}
	return &Pipeline{
		source:    source,
		sink:      sink,
		deleter:   deleter,
		scheduler: scheduler,
		clock:     clk,
		cfg:       cfg.withDefaults(),
		logger:    l,
		status:    Status{State: StateIdle, UpdatedAt: clk.Now()},
	}
}

// UseEvents publishes sync.* events on bus.
func (p *Pipeline) UseEvents(bus EventPublisher) { p.bus = bus }

// UseCompleter marks finished reservations completed at the start of every run.
func (p *Pipeline) UseCompleter(c Completer) { p.completer = c }

// Status returns a snapshot of the pipeline state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Err returns the terminal error of the last finished run. A stalled run
// matches ErrPipelineStalled.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Trigger starts a run from the beginning unless one is in flight. The run
// continues in the background; ctx only supplies values, not cancellation.
// The returned channel is closed when the run reaches Done or Failed.
func (p *Pipeline) Trigger(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	runID := uuid.NewString()
	p.running = true
	p.done = make(chan struct{})
	done := p.done
	p.status = Status{RunID: runID, State: StateFetching, Attempt: 1, UpdatedAt: p.clock.Now()}
	p.mu.Unlock()

	metrics.SetSyncRunning(true)
	p.logger.Info().Str("run_id", runID).Msg("sync run started")

	runCtx := context.WithoutCancel(ctx)
	if p.completer != nil {
		if n, err := p.completer.MarkCompleted(runCtx, p.clock.Now()); err != nil {
			p.logger.Warn().Err(err).Msg("mark completed reservations")
		} else if n > 0 {
			p.logger.Info().Int64("count", n).Msg("reservations marked completed")
		}
	}

	p.scheduler.After(0, func() { p.runBatch(runCtx, runID, "", 1) })
	return done, nil
}

// Start triggers a run immediately and then every interval until ctx ends.
func (p *Pipeline) Start(ctx context.Context, interval time.Duration) {
	p.logger.Info().Dur("interval", interval).Msg("Sync pipeline started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.triggerLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Sync pipeline stopped")
			return
		case <-ticker.C:
			p.triggerLogged(ctx)
		}
	}
}

func (p *Pipeline) triggerLogged(ctx context.Context) {
	if _, err := p.Trigger(ctx); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			p.logger.Debug().Msg("sync run still in flight, skipping tick")
			return
		}
		p.logger.Error().Err(err).Msg("trigger sync run")
	}
}

func (p *Pipeline) runBatch(ctx context.Context, runID, cursor string, attempt int) {
	p.update(func(s *Status) {
		s.Cursor = cursor
		s.Attempt = attempt
	})

	batchCtx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()

	started := time.Now()
	page, n, err := p.processBatch(batchCtx, cursor)
	if err != nil {
		metrics.IncSyncBatch("error")
		p.retry(ctx, runID, cursor, attempt, err)
		return
	}

	if n == 0 {
		metrics.IncSyncBatch("empty")
		p.finish(runID, StateDone, nil)
		return
	}

	metrics.IncSyncBatch("ok")
	metrics.AddSyncMigrated(n)
	var total int
	p.update(func(s *Status) {
		s.Migrated += n
		s.Cursor = page.NextCursor
		s.LastError = ""
		total = s.Migrated
	})
	p.publish(events.SyncBatchMigrated, events.SyncEvent{RunID: runID, Cursor: page.NextCursor, Records: n, Migrated: total, Attempt: attempt})

	p.logger.Info().
		Str("run_id", runID).
		Str("cursor", page.NextCursor).
		Int("records", n).
		Int("migrated", total).
		Dur("took", time.Since(started)).
		Msg("sync batch migrated")

	if page.IsDone {
		p.finish(runID, StateDone, nil)
		return
	}

	p.setState(StateRescheduled)
	next := page.NextCursor
	p.scheduler.After(0, func() { p.runBatch(ctx, runID, next, 1) })
}

// processBatch runs one fetch-transform-upsert-delete cycle and returns the
// number of migrated records. Nothing is deleted unless the upsert succeeded.
func (p *Pipeline) processBatch(ctx context.Context, cursor string) (domain.ReservationPage, int, error) {
	now := p.clock.Now()

	p.setState(StateFetching)
	page, err := p.source.FetchCompleted(ctx, now, cursor, p.cfg.Limit)
	if err != nil {
		return page, 0, fmt.Errorf("fetch: %w", err)
	}
	if len(page.Records) == 0 {
		return page, 0, nil
	}

	p.setState(StateTransforming)
	facts, ids, err := Transform(page.Records, now)
	if err != nil {
		return page, 0, fmt.Errorf("transform: %w", err)
	}

	p.setState(StateUpserting)
	if err := p.sink.Upsert(ctx, facts); err != nil {
		return page, 0, fmt.Errorf("upsert: %w", err)
	}

	p.setState(StateDeleting)
	if err := p.deleter.DeleteReservations(ctx, ids); err != nil {
		return page, 0, fmt.Errorf("delete: %w", err)
	}

	return page, len(ids), nil
}

func (p *Pipeline) retry(ctx context.Context, runID, cursor string, attempt int, err error) {
	if attempt >= p.cfg.MaxAttempts {
		stalled := &StalledError{Cursor: cursor, Attempts: attempt, Err: err}
		metrics.IncSyncStalled()
		p.publish(events.SyncStalled, events.SyncEvent{RunID: runID, Cursor: cursor, Attempt: attempt, Error: err.Error()})
		p.finish(runID, StateFailed, stalled)
		return
	}

	p.logger.Warn().
		Err(err).
		Str("run_id", runID).
		Str("cursor", cursor).
		Int("attempt", attempt).
		Dur("backoff", p.cfg.RetryBackoff).
		Msg("sync batch failed, retrying")

	p.update(func(s *Status) {
		s.State = StateRescheduled
		s.LastError = err.Error()
	})
	p.scheduler.After(p.cfg.RetryBackoff, func() { p.runBatch(ctx, runID, cursor, attempt+1) })
}

func (p *Pipeline) finish(runID string, state State, err error) {
	var migrated int
	var done chan struct{}
	p.mu.Lock()
	p.status.State = state
	p.status.UpdatedAt = p.clock.Now()
	if err != nil {
		p.status.LastError = err.Error()
	}
	p.lastErr = err
	migrated = p.status.Migrated
	p.running = false
	done, p.done = p.done, nil
	p.mu.Unlock()

	metrics.SetSyncRunning(false)
	if done != nil {
		close(done)
	}

	if err != nil {
		p.logger.Error().Err(err).Str("run_id", runID).Int("migrated", migrated).Msg("sync run failed")
		return
	}
	p.publish(events.SyncDone, events.SyncEvent{RunID: runID, Migrated: migrated})
	p.logger.Info().Str("run_id", runID).Int("migrated", migrated).Msg("sync run done")
}

func (p *Pipeline) setState(state State) {
	p.update(func(s *Status) { s.State = state })
}

func (p *Pipeline) update(fn func(s *Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.status)
	p.status.UpdatedAt = p.clock.Now()
}

func (p *Pipeline) publish(eventType string, payload events.SyncEvent) {
	if p.bus == nil {
		return
	}
	if err := p.bus.PublishJSON(eventType, payload); err != nil {
		p.logger.Warn().Err(err).Str("type", eventType).Msg("publish event")
	}
}
