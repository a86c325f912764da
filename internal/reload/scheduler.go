// Package reload runs the delayed host reload that follows a successful
// configuration update.
package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/domain"
	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
)

// Scope names a reload operation.
type Scope string

const (
	ScopeProviders Scope = "providers"
	ScopePlugins   Scope = "plugins"
	ScopePlatform  Scope = "platform"
)

// Sequence is the order in which a scheduled reload runs the scopes.
var Sequence = []Scope{ScopeProviders, ScopePlugins, ScopePlatform}

// ErrShutdown is returned by Schedule after Shutdown.
var ErrShutdown = errors.New("reload scheduler is shut down")

// Run invokes the reload operation for scope.
func Run(ctx context.Context, r ports.Reloader, scope Scope) error {
	switch scope {
	case ScopeProviders:
		return r.ReloadProviders(ctx)
	case ScopePlugins:
		return r.ReloadPlugins(ctx)
	case ScopePlatform:
		return r.ReloadPlatform(ctx)
	default:
		return fmt.Errorf("unknown reload scope %q", scope)
	}
}

// StepResult is the outcome of one scope.
type StepResult struct {
	Scope Scope
	Err   error
}

// Result is the outcome of a task.
type Result struct {
	Steps []StepResult
	// Err is the first failure, or the context error if the task was
	// cancelled before it finished.
	Err error
}

// Task is a handle on one scheduled reload.
type Task struct {
	ID     string
	UserID string

	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// Cancel stops the task. A task cancelled during its delay runs no reload and
// sends no notification.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Reloader ports.Reloader
	Notifier ports.Notifier
	// Delay before the first reload runs.
	Delay time.Duration
	// Timeout bounds the reload calls of a task. Zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Scheduler starts reload tasks and tracks them until they finish.
type Scheduler struct {
	cfg    SchedulerConfig
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		logger: logger,
		tasks:  make(map[*Task]struct{}),
	}
}

// Schedule starts a reload for the user after the configured delay. The task
// does not inherit the caller's context so it outlives the request that
// scheduled it.
func (s *Scheduler) Schedule(userID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShutdown
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		ID:     uuid.New().String(),
		UserID: userID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.tasks[t] = struct{}{}
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.forget(t)
		defer close(t.done)
		defer cancel()

		t.result = s.run(ctx, t)
	}()

	s.logger.Info("reload scheduled",
		slog.String("task_id", t.ID),
		slog.String("user_id", userID),
		slog.Duration("delay", s.cfg.Delay))
	return t, nil
}

func (s *Scheduler) run(ctx context.Context, t *Task) Result {
	timer := time.NewTimer(s.cfg.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		s.logger.Info("reload cancelled", slog.String("task_id", t.ID))
		return Result{Err: ctx.Err()}
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	var res Result
	for _, scope := range Sequence {
		err := Run(ctx, s.cfg.Reloader, scope)
		res.Steps = append(res.Steps, StepResult{Scope: scope, Err: err})
		if err != nil {
			res.Err = domain.NewConfigError(domain.ErrorKindReload, "reload "+string(scope), "", err)
			break
		}
	}

	if res.Err != nil {
		s.logger.Warn("reload failed",
			slog.String("task_id", t.ID),
			slog.String("user_id", t.UserID),
			slog.String("error", res.Err.Error()))
	} else {
		s.logger.Info("reload completed",
			slog.String("task_id", t.ID),
			slog.String("user_id", t.UserID))
	}

	if errors.Is(res.Err, context.Canceled) {
		return res
	}
	if s.cfg.Notifier != nil {
		// The reload timeout may already have expired.
		nctx := context.WithoutCancel(ctx)
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			nctx, cancel = context.WithTimeout(nctx, s.cfg.Timeout)
			defer cancel()
		}
		if err := s.cfg.Notifier.Notify(nctx, t.UserID, Summary(res)); err != nil {
			s.logger.Warn("reload notification failed",
				slog.String("task_id", t.ID),
				slog.String("user_id", t.UserID),
				slog.String("error", err.Error()))
		}
	}
	return res
}

func (s *Scheduler) forget(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, t)
}

// Pending returns the number of unfinished tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every pending task and waits for them to exit or for ctx
// to be done. Schedule fails afterwards.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for t := range s.tasks {
		t.Cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summary renders the message sent to the user when a task finishes.
func Summary(res Result) string {
	if res.Err == nil {
		return "Reload finished: providers, plugins and platform are using the new configuration."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Automatic reload failed: %v", res.Err)
	for _, st := range res.Steps {
		if st.Err == nil {
			fmt.Fprintf(&b, "\n- %s: ok", st.Scope)
		} else {
			fmt.Fprintf(&b, "\n- %s: %v", st.Scope, st.Err)
		}
	}
	b.WriteString("\nThe configuration change is kept. Restart the host to apply it.")
	return b.String()
}
