package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"launchq/internal/models"
)

var ErrCancelled = errors.New("install cancelled")

type Store interface {
	SetState(ctx context.Context, id string, state models.State, errMsg string) error
}

type Invalidator interface {
	Invalidate(states ...models.State)
}

type Notifier interface {
	Notify(n models.Notification)
}

// Job is one unit of queued work. Run is invoked by the worker with a
// context that is cancelled by Cancel or by shutdown. Done, when set, is
// called after the item reached its terminal state; err is nil or a *JobError.
type Job struct {
	Item models.QueueItem
	Run  func(ctx context.Context) error
	Done func(err error)
}

// JobError attaches the failed item to the installer error.
type JobError struct {
	Item models.QueueItem
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("install %q (%s): %v", e.Item.Title, e.Item.ID, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Queue runs jobs one at a time in push order.
type Queue struct {
	store    Store
	views    Invalidator
	notifier Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	next      []Job
	current   *Job
	cancel    context.CancelCauseFunc
	completed []models.QueueItem
	errored   []models.QueueItem

	wake chan struct{}
	done chan struct{}
}

func New(store Store, views Invalidator, notifier Notifier, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:    store,
		views:    views,
		notifier: notifier,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. It stops when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	go q.worker(ctx)
}

// Wait blocks until the worker started by Start has exited.
func (q *Queue) Wait() {
	<-q.done
}

func (q *Queue) Push(job Job) {
	q.mu.Lock()
	q.next = append(q.next, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer close(q.done)
	for {
		job, jobCtx, ok := q.claim(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		q.runJob(jobCtx, job)
	}
}

func (q *Queue) claim(ctx context.Context) (Job, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.next) == 0 || ctx.Err() != nil {
		return Job{}, nil, false
	}
	job := q.next[0]
	q.next = q.next[1:]
	job.Item.State = models.StateCurrent
	q.current = &job

	jobCtx, cancel := context.WithCancelCause(ctx)
	q.cancel = cancel
	return job, jobCtx, true
}

func (q *Queue) runJob(ctx context.Context, job Job) {
	item := job.Item
	q.logger.Info("Installing", "id", item.ID, "title", item.Title, "type", item.Type)

	err := q.store.SetState(context.WithoutCancel(ctx), item.ID, models.StateCurrent, "")
	if err != nil {
		err = fmt.Errorf("mark current: %w", err)
	} else {
		q.views.Invalidate(models.StatePending)
		err = job.Run(ctx)
		if err != nil && errors.Is(context.Cause(ctx), ErrCancelled) {
			err = fmt.Errorf("%w: %v", ErrCancelled, err)
		}
	}

	if err == nil {
		q.complete(item)
		if job.Done != nil {
			job.Done(nil)
		}
		return
	}

	jobErr := &JobError{Item: item, Err: err}
	q.fail(jobErr)
	if job.Done != nil {
		job.Done(jobErr)
	}
}

func (q *Queue) complete(item models.QueueItem) {
	if err := q.store.SetState(context.Background(), item.ID, models.StateCompleted, ""); err != nil {
		q.logger.Error("Failed to record completion", "id", item.ID, "error", err)
	}
	item.State = models.StateCompleted

	q.mu.Lock()
	q.release()
	q.completed = append(q.completed, item)
	q.mu.Unlock()

	q.views.Invalidate()
	q.notifier.Notify(models.Notification{
		Level:   models.LevelSuccess,
		Title:   "Install complete",
		Message: item.Title + " finished installing",
		ItemID:  item.ID,
	})
	q.logger.Info("Install complete", "id", item.ID)
}

func (q *Queue) fail(jobErr *JobError) {
	item := jobErr.Item
	if err := q.store.SetState(context.Background(), item.ID, models.StateErrored, jobErr.Err.Error()); err != nil {
		q.logger.Error("Failed to record failure", "id", item.ID, "error", err)
	}
	item.State = models.StateErrored
	item.Error = jobErr.Err.Error()
	jobErr.Item = item

	q.mu.Lock()
	if q.current != nil && q.current.Item.ID == item.ID {
		q.release()
	}
	q.errored = append(q.errored, item)
	q.mu.Unlock()

	q.views.Invalidate()
	q.notifier.Notify(models.Notification{
		Level:   models.LevelError,
		Title:   "Install failed",
		Message: jobErr.Error(),
		ItemID:  item.ID,
	})
	q.logger.Error("Install failed", "id", item.ID, "error", jobErr.Err)
}

// release clears the current slot. Callers hold q.mu.
func (q *Queue) release() {
	if q.cancel != nil {
		q.cancel(nil)
		q.cancel = nil
	}
	q.current = nil
}

// Cancel aborts the running job with the given id, or drops it from the
// pending list when it has not been claimed yet.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	if q.current != nil && q.current.Item.ID == id {
		q.cancel(ErrCancelled)
		q.mu.Unlock()
		return true
	}

	idx := slices.IndexFunc(q.next, func(j Job) bool { return j.Item.ID == id })
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	job := q.next[idx]
	q.next = slices.Delete(q.next, idx, idx+1)
	q.mu.Unlock()

	jobErr := &JobError{Item: job.Item, Err: ErrCancelled}
	q.fail(jobErr)
	if job.Done != nil {
		job.Done(jobErr)
	}
	return true
}

// Remove takes a not-yet-claimed job off the pending list without running
// or failing it.
func (q *Queue) Remove(id string) (models.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := slices.IndexFunc(q.next, func(j Job) bool { return j.Item.ID == id })
	if idx < 0 {
		return models.QueueItem{}, false
	}
	item := q.next[idx].Item
	q.next = slices.Delete(q.next, idx, idx+1)
	return item, true
}

// Forget drops a terminal item from the in-memory lists.
func (q *Queue) Forget(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	match := func(i models.QueueItem) bool { return i.ID == id }
	n := len(q.completed) + len(q.errored)
	q.completed = slices.DeleteFunc(q.completed, match)
	q.errored = slices.DeleteFunc(q.errored, match)
	return len(q.completed)+len(q.errored) != n
}

// Clear drops every in-memory item in a terminal state.
func (q *Queue) Clear(state models.State) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch state {
	case models.StateCompleted:
		q.completed = nil
	case models.StateErrored:
		q.errored = nil
	}
}

func (q *Queue) Snapshot() models.Queue {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := models.Queue{
		Next:      make([]models.QueueItem, 0, len(q.next)),
		Completed: slices.Clone(q.completed),
		Errored:   slices.Clone(q.errored),
	}
	for _, j := range q.next {
		snap.Next = append(snap.Next, j.Item)
	}
	if q.current != nil {
		cur := q.current.Item
		snap.Current = &cur
	}
	if snap.Completed == nil {
		snap.Completed = []models.QueueItem{}
	}
	if snap.Errored == nil {
		snap.Errored = []models.QueueItem{}
	}
	return snap
}
