package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gopkg.in/robfig/cron.v2"

	"valetudo-home/internal/domain"
	"valetudo-home/internal/infra"
	"valetudo-home/internal/infra/valetudo"
)

const (
	jobTimeout    = 2 * time.Minute
	notifyTimeout = 10 * time.Second
)

// Job is a command run on a cron schedule.
type Job struct {
	ID      int
	Spec    string
	Command domain.Command
	Next    time.Time
}

// Scheduler runs robot commands on cron schedules. Failed runs are retried
// while the robot reports a retryable error, then reported to the notifier.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	notifier   Notifier
	logger     *slog.Logger
	retry      infra.RetryConfig

	mu   sync.Mutex
	jobs map[int]Job

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(dispatcher *Dispatcher, notifier Notifier, logger *slog.Logger) *Scheduler {
	if notifier == nil {
		notifier = &NoopNotifier{}
	}

	retry := infra.DefaultRetryConfig()
	retry.ShouldRetry = valetudo.IsRetryable

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(),
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		retry:      retry,
		jobs:       make(map[int]Job),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetRetryConfig replaces the retry policy; call it before Start. The
// predicate is kept when cfg has none.
func (s *Scheduler) SetRetryConfig(cfg infra.RetryConfig) {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = s.retry.ShouldRetry
	}
	s.retry = cfg
}

func (s *Scheduler) Add(spec string, cmd domain.Command) (int, error) {
	if err := cmd.Validate(); err != nil {
		return 0, fmt.Errorf("schedule %q: %w", spec, err)
	}

	id, err := s.cron.AddFunc(spec, func() {
		s.run(Job{Spec: spec, Command: cmd})
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	s.jobs[int(id)] = Job{ID: int(id), Spec: spec, Command: cmd}
	s.mu.Unlock()

	s.logger.Info("scheduled command", "id", int(id), "spec", spec, "command", cmd.String())
	return int(id), nil
}

func (s *Scheduler) Remove(id int) {
	s.cron.Remove(cron.EntryID(id))

	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and cancels running jobs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
}

// Jobs returns the scheduled jobs ordered by ID, with their next run time
// once the scheduler is started.
func (s *Scheduler) Jobs() []Job {
	next := make(map[int]time.Time)
	for _, e := range s.cron.Entries() {
		next[int(e.ID)] = e.Next
	}

	s.mu.Lock()
	jobs := make([]Job, 0, len(s.jobs))
	for id, job := range s.jobs {
		job.Next = next[id]
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Run executes a scheduled job now, outside its schedule.
func (s *Scheduler) Run(ctx context.Context, id int) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no scheduled job %d", id)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	_ = s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	s.logger.Info("running scheduled command", "spec", job.Spec, "command", job.Command.String())

	err := infra.WithRetry(ctx, s.retry, func() error {
		_, err := s.dispatcher.Execute(ctx, job.Command)
		return err
	})
	if err != nil {
		s.logger.Error("scheduled command failed", "spec", job.Spec, "command", job.Command.String(), "error", err)
		msg := fmt.Sprintf("Scheduled %s failed: %v", job.Command.String(), err)
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if notifyErr := s.notifier.Notify(notifyCtx, msg); notifyErr != nil {
			s.logger.Error("notifying failure", "error", notifyErr)
		}
		return err
	}

	return nil
}
