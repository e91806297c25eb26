package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/edgard/inboxpilot/internal/bot/tasks"
	"github.com/edgard/inboxpilot/internal/config"
	"github.com/edgard/inboxpilot/internal/logger"
	"github.com/edgard/inboxpilot/internal/metrics"
)

var (
	// ErrJobRunning is returned by Trigger while the job is executing.
	ErrJobRunning = errors.New("job is already running")
	// ErrUnknownJob is returned by Trigger for a job that is not registered.
	ErrUnknownJob = errors.New("unknown job")
)

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name         string     `json:"name"`
	Enabled      bool       `json:"enabled"`
	Interval     string     `json:"interval"`
	Running      bool       `json:"running"`
	Runs         int64      `json:"runs"`
	Failures     int64      `json:"failures"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

// SchedulerStatus is returned by Scheduler.Status.
type SchedulerStatus struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

type job struct {
	name     string
	enabled  bool
	interval time.Duration
	fn       tasks.ScheduledTaskFunc
	inFlight atomic.Bool

	mu           sync.Mutex
	id           uuid.UUID
	runs         int64
	failures     int64
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      string
}

func (j *job) record(start time.Time, d time.Duration, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	j.lastRun = start
	j.lastDuration = d
	j.lastErr = ""
	if err != nil {
		j.failures++
		j.lastErr = err.Error()
	}
}

// Scheduler runs the recurring jobs on fixed intervals. Each job runs at most
// once at a time; a tick that finds the job busy is skipped.
type Scheduler struct {
	logger *slog.Logger
	jobs   map[string]*job

	mu        sync.Mutex
	scheduler gocron.Scheduler
	running   bool
	cancel    context.CancelFunc
}

// NewScheduler registers every task that has a job config entry. Tasks
// without one are logged and ignored.
func NewScheduler(logger *slog.Logger, cfg config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")

	s := &Scheduler{logger: log, jobs: make(map[string]*job, len(taskMap))}
	for name, fn := range taskMap {
		jc, ok := cfg.Job(name)
		if !ok {
			log.Warn("Task has no job configuration, skipping", "task", name)
			continue
		}
		s.jobs[name] = &job{name: name, enabled: jc.Enabled, interval: jc.Interval, fn: fn}
	}
	return s
}

func (s *Scheduler) sortedJobs() []*job {
	out := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].name < out[b].name })
	return out
}

// Start schedules every enabled job and runs each once immediately. Calling
// Start on a running scheduler only logs a warning.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Scheduler already running, ignoring start")
		return nil
	}

	sched, err := gocron.NewScheduler(gocron.WithLogger(logger.NewGocronLogger(s.logger)))
	if err != nil {
		s.logger.Error("Failed to create gocron scheduler", "error", err)
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	scheduled := 0
	for _, j := range s.sortedJobs() {
		if !j.enabled {
			s.logger.Info("Job disabled, not scheduling", "task", j.name)
			continue
		}
		if j.interval <= 0 {
			s.logger.Warn("Job has no interval, not scheduling", "task", j.name)
			continue
		}
		gj, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { s.tick(ctx, j) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			s.logger.Error("Failed to schedule job", "task", j.name, "error", err)
			s.cancel()
			if shutdownErr := sched.Shutdown(); shutdownErr != nil {
				s.logger.Warn("Error shutting down partially built scheduler", "error", shutdownErr)
			}
			return fmt.Errorf("failed to schedule job %s: %w", j.name, err)
		}
		j.mu.Lock()
		j.id = gj.ID()
		j.mu.Unlock()
		scheduled++
		s.logger.Info("Scheduled job", "task", j.name, "interval", j.interval)
	}

	sched.Start()
	s.scheduler = sched
	s.running = true
	s.logger.Info("Scheduler started", "jobs", scheduled)
	return nil
}

// Stop waits for running jobs to finish and stops scheduling new ticks.
// Calling Stop on a stopped scheduler only logs a warning.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Warn("Scheduler not running, ignoring stop")
		return nil
	}

	s.logger.Info("Stopping scheduler")
	err := s.scheduler.Shutdown()
	s.cancel()
	s.scheduler = nil
	s.running = false
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

// tick is the gocron entry point of a job.
func (s *Scheduler) tick(ctx context.Context, j *job) {
	if !j.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("Job still running, skipping tick", "task", j.name)
		return
	}
	defer j.inFlight.Store(false)
	_ = s.execute(ctx, j)
}

// execute runs the job function, turning a panic into an error so one bad
// tick never stops later ones.
func (s *Scheduler) execute(ctx context.Context, j *job) (err error) {
	log := s.logger.With("task", j.name)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
		d := time.Since(start)
		j.record(start, d, err)
		metrics.RecordJob(j.name, err, d.Seconds())
		if err != nil {
			log.ErrorContext(ctx, "Job failed", "error", err, "duration", d)
			return
		}
		log.DebugContext(ctx, "Job completed", "duration", d)
	}()
	return j.fn(ctx)
}

// Trigger runs the named job now, outside its schedule, and returns its
// error. It works whether or not the scheduler is started.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !j.inFlight.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	defer j.inFlight.Store(false)

	s.logger.InfoContext(ctx, "Job triggered manually", "task", name)
	return s.execute(ctx, j)
}

// TriggerFollowupProcessing runs the follow-up job immediately.
func (s *Scheduler) TriggerFollowupProcessing(ctx context.Context) error {
	return s.Trigger(ctx, config.JobFollowUp)
}

// Status reports every registered job ordered by name.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	running := s.running
	next := map[uuid.UUID]time.Time{}
	if s.scheduler != nil {
		for _, gj := range s.scheduler.Jobs() {
			if t, err := gj.NextRun(); err == nil && !t.IsZero() {
				next[gj.ID()] = t
			}
		}
	}
	s.mu.Unlock()

	st := SchedulerStatus{Running: running, Jobs: []JobStatus{}}
	for _, j := range s.sortedJobs() {
		j.mu.Lock()
		js := JobStatus{
			Name:     j.name,
			Enabled:  j.enabled,
			Interval: j.interval.String(),
			Running:  j.inFlight.Load(),
			Runs:     j.runs,
			Failures: j.failures,
		}
		if !j.lastRun.IsZero() {
			last := j.lastRun
			js.LastRun = &last
			js.LastDuration = j.lastDuration.String()
			js.LastError = j.lastErr
		}
		if t, ok := next[j.id]; ok && running {
			js.NextRun = &t
		}
		j.mu.Unlock()
		st.Jobs = append(st.Jobs, js)
	}
	return st
}
