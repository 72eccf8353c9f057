package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"launchq/internal/models"
)

const DefaultFinishDelay = time.Second

type Notifier interface {
	CurrentChanged(job *models.JobRef)
	ProgressChanged(snap models.ProgressSnapshot)
}

type Invalidator interface {
	Invalidate(states ...models.State)
}

// Tracker folds the installer's event stream into a single snapshot of
// the running job's progress.
type Tracker struct {
	notifier    Notifier
	views       Invalidator
	finishDelay time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	snap models.ProgressSnapshot
	gen  uint64
}

type Option func(*Tracker)

func WithFinishDelay(d time.Duration) Option {
	return func(t *Tracker) { t.finishDelay = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func NewTracker(notifier Notifier, views Invalidator, opts ...Option) *Tracker {
	t := &Tracker{
		notifier:    notifier,
		views:       views,
		finishDelay: DefaultFinishDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run handles events until the channel is closed or ctx is done.
func (t *Tracker) Run(ctx context.Context, events <-chan models.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.Handle(ev)
		}
	}
}

func (t *Tracker) Snapshot() models.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copySnapshot(t.snap)
}

func (t *Tracker) Handle(ev models.Event) {
	switch ev.Event {
	case models.EventInit:
		var data models.InitData
		if !t.decode(ev, &data) {
			return
		}
		t.mu.Lock()
		t.gen++
		t.snap = models.ProgressSnapshot{Current: &models.JobRef{ID: data.ID, Title: data.Title, Icon: data.Icon}}
		snap := copySnapshot(t.snap)
		t.mu.Unlock()

		t.notifier.CurrentChanged(snap.Current)
		t.views.Invalidate()

	case models.EventStarted:
		var data models.StartedData
		if !t.decode(ev, &data) {
			return
		}
		t.update(func(s *models.ProgressSnapshot) {
			s.AmountTotal = data.Total
			s.AmountDone = 0
			s.Message = data.Message
		})

	case models.EventProgress:
		var data models.ProgressData
		if !t.decode(ev, &data) {
			return
		}
		t.update(func(s *models.ProgressSnapshot) {
			if data.Message != nil {
				s.Message = *data.Message
			}
			if data.Amount != nil && *data.Amount > 0 {
				s.AmountDone += *data.Amount
			}
		})

	case models.EventFinished:
		t.mu.Lock()
		gen := t.gen
		t.mu.Unlock()
		time.AfterFunc(t.finishDelay, func() { t.clear(gen) })

	default:
		t.logger.Debug("Ignoring installer event", "event", ev.Event)
	}
}

func (t *Tracker) update(fn func(s *models.ProgressSnapshot)) {
	t.mu.Lock()
	fn(&t.snap)
	snap := copySnapshot(t.snap)
	t.mu.Unlock()

	t.notifier.ProgressChanged(snap)
}

// clear resets the snapshot unless a newer job has been initialised since
// the finished event was received.
func (t *Tracker) clear(gen uint64) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.snap = models.ProgressSnapshot{}
	t.mu.Unlock()

	t.notifier.CurrentChanged(nil)
	t.notifier.ProgressChanged(models.ProgressSnapshot{})
	t.views.Invalidate()
}

func (t *Tracker) decode(ev models.Event, dest any) bool {
	if len(ev.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(ev.Data, dest); err != nil {
		t.logger.Warn("Malformed installer event", "event", ev.Event, "error", err)
		return false
	}
	return true
}

func copySnapshot(s models.ProgressSnapshot) models.ProgressSnapshot {
	if s.Current != nil {
		cur := *s.Current
		s.Current = &cur
	}
	return s
}
