// Package tasks executes persisted PasteTasks on a bounded worker pool.
//
// A task id is executed by at most one worker at a time: ids are tracked
// from submission until their execution (and any retry wait) ends. Errors
// of a task are recorded in its execution history and never returned to
// the submitter.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/metrics"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	taskrepo "github.com/dmitrijs2005/gophpaste/internal/repositories/tasks"
	"go.uber.org/multierr"
)

// Handler executes one task type.
type Handler interface {
	// Run executes t. It may modify the variant of t.Extra; the executor
	// stores it together with the execution history.
	Run(ctx context.Context, t *models.PasteTask) error
	// NeedRetry reports whether err is worth another attempt. The attempt
	// ceiling is enforced by the executor.
	NeedRetry(t *models.PasteTask, err error) bool
}

type Config struct {
	Workers int
	// MaxAttempts bounds executions per task type; missing types use
	// DefaultMaxAttempts.
	MaxAttempts        map[models.TaskType]int
	DefaultMaxAttempts int
	RetryDelay         time.Duration
}

func (c Config) maxAttempts(t models.TaskType) int {
	if n, ok := c.MaxAttempts[t]; ok && n > 0 {
		return n
	}
	if c.DefaultMaxAttempts > 0 {
		return c.DefaultMaxAttempts
	}
	return 3
}

var errSkip = errors.New("task already finished")

type Executor struct {
	repo     taskrepo.Repository
	handlers map[models.TaskType]Handler
	cfg      Config
	log      logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []string
	tracked map[string]struct{}
	timers  map[string]*time.Timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutor(repo taskrepo.Repository, cfg Config, log logging.Logger, m *metrics.Metrics) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	e := &Executor{
		repo:     repo,
		handlers: make(map[models.TaskType]Handler),
		cfg:      cfg,
		log:      log.With("module", "tasks"),
		metrics:  m,
		now:      time.Now,
		tracked:  make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Register sets the handler of a task type. It must be called before Start.
func (e *Executor) Register(t models.TaskType, h Handler) {
	e.handlers[t] = h
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (e *Executor) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	go func() {
		<-e.ctx.Done()
		e.mu.Lock()
		e.stopped = true
		for id, t := range e.timers {
			t.Stop()
			delete(e.timers, id)
		}
		e.cond.Broadcast()
		e.mu.Unlock()
	}()
	e.log.Info(ctx, "task executor started", "workers", e.cfg.Workers)
}

// Stop cancels running tasks and waits for the workers to exit.
func (e *Executor) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
}

// SubmitTask queues id for execution. Tasks that are finished, unknown or
// already queued or running are left alone.
func (e *Executor) SubmitTask(ctx context.Context, id string) error {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status.Finished() {
		return nil
	}
	e.enqueue(id)
	return nil
}

// SubmitTasks submits every id and combines the errors of ids that could
// not be loaded.
func (e *Executor) SubmitTasks(ctx context.Context, ids []string) error {
	var errs error
	for _, id := range ids {
		if err := e.SubmitTask(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("submit %s: %w", id, err))
		}
	}
	return errs
}

func (e *Executor) enqueue(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if _, ok := e.tracked[id]; ok {
		return
	}
	e.tracked[id] = struct{}{}
	e.queue = append(e.queue, id)
	e.cond.Signal()
}

// Recover puts tasks interrupted by a previous shutdown back on the queue.
func (e *Executor) Recover(ctx context.Context) error {
	list, err := e.repo.ListByStatus(ctx, models.TaskStatusPending, models.TaskStatusRunning)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(list))
	for _, t := range list {
		if t.Status == models.TaskStatusRunning {
			_, err := e.repo.Update(ctx, t.ID, func(t *models.PasteTask) error {
				if t.Status == models.TaskStatusRunning {
					t.Status = models.TaskStatusPending
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		ids = append(ids, t.ID)
	}
	if len(ids) > 0 {
		e.log.Info(ctx, "recovering interrupted tasks", "count", len(ids))
	}
	return e.SubmitTasks(ctx, ids)
}

// Requeue turns a failed task back to pending, keeping its history, and
// submits it.
func (e *Executor) Requeue(ctx context.Context, id string) error {
	_, err := e.repo.Update(ctx, id, func(t *models.PasteTask) error {
		if t.Status != models.TaskStatusFailed {
			return fmt.Errorf("task %s is %s: %w", id, t.Status, ErrNotFailed)
		}
		t.Status = models.TaskStatusPending
		return nil
	})
	if err != nil {
		return err
	}
	return e.SubmitTask(ctx, id)
}

// ErrNotFailed is returned by Requeue for tasks that did not fail.
var ErrNotFailed = errors.New("task is not failed")

func (e *Executor) next() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) == 0 && !e.stopped {
		e.cond.Wait()
	}
	if e.stopped {
		return "", false
	}
	id := e.queue[0]
	e.queue = e.queue[1:]
	return id, true
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		id, ok := e.next()
		if !ok {
			return
		}
		retry := e.execute(e.ctx, id)
		e.mu.Lock()
		if retry && !e.stopped {
			e.timers[id] = time.AfterFunc(e.cfg.RetryDelay, func() { e.retry(id) })
		} else {
			delete(e.tracked, id)
		}
		e.mu.Unlock()
	}
}

// retry queues an id whose retry delay elapsed. The id stays tracked while
// it waits.
func (e *Executor) retry(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.timers, id)
	if e.stopped {
		delete(e.tracked, id)
		return
	}
	e.queue = append(e.queue, id)
	e.cond.Signal()
}

// execute runs one attempt and reports whether the task waits for a retry.
func (e *Executor) execute(ctx context.Context, id string) bool {
	t, err := e.repo.Update(ctx, id, func(t *models.PasteTask) error {
		if t.Status.Finished() {
			return errSkip
		}
		t.Status = models.TaskStatusRunning
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkip) && ctx.Err() == nil {
			e.log.Warn(ctx, "cannot start task", "task_id", id, "error", err)
		}
		return false
	}

	start := e.now()
	runErr := e.run(ctx, t)
	if ctx.Err() != nil {
		// Shutdown: the task stays running and Recover picks it up.
		return false
	}
	h := models.ExecutionHistory{StartTime: start, EndTime: e.now(), Status: models.TaskStatusSucceeded}
	status := models.TaskStatusSucceeded
	if runErr != nil {
		h.Message = runErr.Error()
		h.Status = models.TaskStatusFailed
		status = models.TaskStatusFailed
		if t.Attempts()+1 < e.cfg.maxAttempts(t.Type) && e.needRetry(t, runErr) {
			status = models.TaskStatusPending
		}
	}

	_, err = e.repo.Update(ctx, id, func(stored *models.PasteTask) error {
		stored.Extra.Sync = t.Extra.Sync
		stored.Extra.Pull = t.Extra.Pull
		stored.Extra.DelayedDelete = t.Extra.DelayedDelete
		stored.Extra.AppendHistory(h)
		stored.Status = status
		return nil
	})
	if err != nil {
		e.log.Error(ctx, "cannot store task result", "task_id", id, "error", err)
		return false
	}
	e.metrics.TaskExecuted(string(t.Type), string(status))
	if runErr != nil {
		e.log.Warn(ctx, "task attempt failed", "task_id", id, "type", t.Type,
			"attempt", t.Attempts()+1, "next_status", status, "error", runErr)
	} else {
		e.log.Debug(ctx, "task succeeded", "task_id", id, "type", t.Type)
	}
	return status == models.TaskStatusPending
}

// run calls the handler, turning a panic into an error.
func (e *Executor) run(ctx context.Context, t *models.PasteTask) (err error) {
	h, ok := e.handlers[t.Type]
	if !ok {
		return fmt.Errorf("no handler for task type %q", t.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return h.Run(ctx, t)
}

func (e *Executor) needRetry(t *models.PasteTask, err error) (retry bool) {
	h, ok := e.handlers[t.Type]
	if !ok {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			retry = false
		}
	}()
	return h.NeedRetry(t, err)
}
