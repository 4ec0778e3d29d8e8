// Package scheduler runs the periodic coverage refresh and cache cleanup jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	obs "github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/observability"
)

const (
	JobWeeklyRefresh = "weekly_green_coverage_update"
	JobCacheCleanup  = "daily_cache_cleanup"
)

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrJobRunning     = errors.New("job already running")
)

// Job is one named periodic task. Run errors are logged and counted; they
// never stop the schedule.
type Job struct {
	ID       string
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

type Config struct {
	Location *time.Location
	// JobTimeout bounds one job run; zero means no bound.
	JobTimeout time.Duration
}

type JobStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	NextRun   *time.Time `json:"next_run"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Running   bool       `json:"running"`
}

type Status struct {
	State   State       `json:"state"`
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

type jobState struct {
	job     Job
	entry   cron.EntryID
	running bool
	lastRun *time.Time
	lastErr string
}

type Scheduler struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	state  State
	cron   *cron.Cron
	jobs   []*jobState
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cfg: cfg, log: log.With("component", "scheduler"), state: StateStopped}
}

// Add registers a job. Jobs added while running take effect on the next Start.
func (s *Scheduler) Add(j Job) error {
	if j.ID == "" || j.Run == nil {
		return errors.New("scheduler: job id and run func are required")
	}
	if _, err := cron.ParseStandard(j.Schedule); err != nil {
		return fmt.Errorf("scheduler: job %s: bad schedule %q: %w", j.ID, j.Schedule, err)
	}
	if j.Name == "" {
		j.Name = j.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, js := range s.jobs {
		if js.job.ID == j.ID {
			return fmt.Errorf("scheduler: duplicate job id %s", j.ID)
		}
	}
	s.jobs = append(s.jobs, &jobState{job: j})
	return nil
}

// Start schedules every registered job. Each job runs at most once at a time;
// a trigger that fires while the previous run is still going is skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return ErrAlreadyRunning
	}
	s.state = StateStarting

	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cronLogger{s.log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, js := range s.jobs {
		id, err := c.AddFunc(js.job.Schedule, s.runner(js))
		if err != nil {
			s.cancel()
			s.state = StateStopped
			return fmt.Errorf("scheduler: add %s: %w", js.job.ID, err)
		}
		js.entry = id
	}
	s.cron = c
	c.Start()
	s.state = StateRunning
	s.log.Info("scheduler started", "jobs", len(s.jobs), "tz", s.cfg.Location.String())
	return nil
}

func (s *Scheduler) runner(js *jobState) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if err := s.exec(ctx, js); errors.Is(err, ErrJobRunning) {
			s.log.Warn("job trigger skipped", "job", js.job.ID, "err", err)
		}
	}
}

// exec runs js once, refusing to overlap with a run already in progress,
// and records its outcome.
func (s *Scheduler) exec(ctx context.Context, js *jobState) error {
	s.mu.Lock()
	if js.running {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, js.job.ID)
	}
	js.running = true
	s.mu.Unlock()

	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}
	start := time.Now()
	s.log.Info("job started", "job", js.job.ID)
	err := safeRun(ctx, js.job.Run)
	obs.IncJobRun(js.job.ID, err == nil)

	s.mu.Lock()
	js.running = false
	t := start.In(s.cfg.Location)
	js.lastRun = &t
	js.lastErr = ""
	if err != nil {
		js.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", "job", js.job.ID, "err", err, "took_ms", time.Since(start).Milliseconds())
		return err
	}
	s.log.Info("job finished", "job", js.job.ID, "took_ms", time.Since(start).Milliseconds())
	return nil
}

// RunNow runs a registered job synchronously, outside its schedule. It shares
// the overlap guard and bookkeeping of scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	var target *jobState
	for _, js := range s.jobs {
		if js.job.ID == id {
			target = js
		}
	}
	s.mu.Unlock()
	if target == nil {
		return fmt.Errorf("scheduler: unknown job %s", id)
	}
	return s.exec(ctx, target)
}

func safeRun(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return run(ctx)
}

// Stop prevents new triggers and waits for in-flight jobs until ctx is done,
// at which point their context is canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	done := c.Stop()
	var err error
	select {
	case <-done.Done():
	case <-ctx.Done():
		cancel()
		<-done.Done()
		err = ctx.Err()
	}
	cancel()

	s.mu.Lock()
	s.state = StateStopped
	s.cron = nil
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
	return err
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Running: s.state == StateRunning, Jobs: make([]JobStatus, 0, len(s.jobs))}
	for _, js := range s.jobs {
		j := JobStatus{
			ID:        js.job.ID,
			Name:      js.job.Name,
			Schedule:  js.job.Schedule,
			LastRun:   js.lastRun,
			LastError: js.lastErr,
			Running:   js.running,
		}
		if s.cron != nil {
			if next := s.cron.Entry(js.entry).Next; !next.IsZero() {
				n := next
				j.NextRun = &n
			}
		}
		st.Jobs = append(st.Jobs, j)
	}
	return st
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "err", err)...)
}
