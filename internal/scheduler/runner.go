// Package scheduler runs the recurring archive jobs: inbox sweep, index
// rebuild and history pruning.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named unit of recurring work.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// EntryInfo describes a registered job.
type EntryInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Runner manages scheduled job execution
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	running bool
	jobs    map[string]registered
}

type registered struct {
	job Job
	id  cron.EntryID
}

// NewRunner creates a runner. Standard five-field specs and descriptors such
// as "@every 10m" are accepted.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger.Sugar()}

	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]registered),
	}
}

// Add registers job. Names must be unique.
func (r *Runner) Add(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a function")
	}
	if _, ok := r.jobs[job.Name]; ok {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	id, err := r.cron.AddFunc(job.Spec, func() { r.execute(r.ctx, job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
	}
	r.jobs[job.Name] = registered{job: job, id: id}
	r.logger.Info("Scheduled job", zap.String("job", job.Name), zap.String("spec", job.Spec))
	return nil
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("scheduler already running")
	}
	r.running = true
	r.cron.Start()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Scheduler stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// RunNow executes the named job immediately, outside its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.RLock()
	reg, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return r.execute(ctx, reg.job)
}

// Entries lists the registered jobs sorted by name.
func (r *Runner) Entries() []EntryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EntryInfo, 0, len(r.jobs))
	for name, reg := range r.jobs {
		e := r.cron.Entry(reg.id)
		out = append(out, EntryInfo{Name: name, Spec: reg.job.Spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Runner) execute(ctx context.Context, job Job) error {
	start := time.Now()
	r.logger.Info("Executing scheduled job", zap.String("job", job.Name))

	err := job.Run(ctx)
	duration := time.Since(start)
	if err != nil {
		r.logger.Error("Scheduled job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", duration),
			zap.Error(err))
		return err
	}
	r.logger.Info("Scheduled job completed",
		zap.String("job", job.Name),
		zap.Duration("duration", duration))
	return nil
}

// cronLogger routes robfig/cron's own logging to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
