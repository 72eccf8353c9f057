package progress

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchq/internal/models"
)

type recorder struct {
	mu          sync.Mutex
	current     []*models.JobRef
	progress    []models.ProgressSnapshot
	invalidated int
}

func (r *recorder) CurrentChanged(job *models.JobRef) {
	r.mu.Lock()
	r.current = append(r.current, job)
	r.mu.Unlock()
}

func (r *recorder) ProgressChanged(snap models.ProgressSnapshot) {
	r.mu.Lock()
	r.progress = append(r.progress, snap)
	r.mu.Unlock()
}

func (r *recorder) Invalidate(states ...models.State) {
	r.mu.Lock()
	r.invalidated++
	r.mu.Unlock()
}

func (r *recorder) invalidations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invalidated
}

func newTestTracker(delay time.Duration) (*Tracker, *recorder) {
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(rec, rec, WithFinishDelay(delay), WithLogger(logger)), rec
}

func ptr[T any](v T) *T { return &v }

func TestTracker_AccumulatesProgress(t *testing.T) {
	tr, rec := newTestTracker(time.Hour)

	tr.Handle(models.NewEvent(models.EventInit, models.InitData{ID: "job-1", Title: "Fabric 1.20.1"}))
	tr.Handle(models.NewEvent(models.EventStarted, models.StartedData{Total: 10, Message: "Downloading libraries"}))

	var last float64
	for i := 0; i < 5; i++ {
		tr.Handle(models.NewEvent(models.EventProgress, models.ProgressData{Amount: ptr(2.0)}))
		snap := tr.Snapshot()
		assert.GreaterOrEqual(t, snap.AmountDone, last)
		last = snap.AmountDone
	}
	tr.Handle(models.NewEvent(models.EventProgress, models.ProgressData{Message: ptr("Verifying")}))

	snap := tr.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "job-1", snap.Current.ID)
	assert.Equal(t, 10.0, snap.AmountDone)
	assert.Equal(t, 10.0, snap.AmountTotal)
	assert.Equal(t, "Verifying", snap.Message)

	assert.Len(t, rec.current, 1)
	assert.Len(t, rec.progress, 7)
	assert.Equal(t, 1, rec.invalidations())
}

func TestTracker_ResetsOnlyOnInitAndStarted(t *testing.T) {
	tr, _ := newTestTracker(time.Hour)

	tr.Handle(models.NewEvent(models.EventInit, models.InitData{ID: "a"}))
	tr.Handle(models.NewEvent(models.EventStarted, models.StartedData{Total: 4}))
	tr.Handle(models.NewEvent(models.EventProgress, models.ProgressData{Amount: ptr(3.0)}))
	tr.Handle(models.NewEvent(models.EventProgress, models.ProgressData{Message: ptr("still going")}))
	assert.Equal(t, 3.0, tr.Snapshot().AmountDone)

	tr.Handle(models.NewEvent(models.EventStarted, models.StartedData{Total: 8, Message: "phase two"}))
	assert.Equal(t, 0.0, tr.Snapshot().AmountDone)
	assert.Equal(t, 8.0, tr.Snapshot().AmountTotal)

	tr.Handle(models.NewEvent(models.EventProgress, models.ProgressData{Amount: ptr(1.0)}))
	tr.Handle(models.NewEvent(models.EventInit, models.InitData{ID: "b"}))
	snap := tr.Snapshot()
	assert.Equal(t, 0.0, snap.AmountDone)
	assert.Equal(t, "b", snap.Current.ID)
}

func TestTracker_FinishedClearsAfterDelay(t *testing.T) {
	tr, rec := newTestTracker(20 * time.Millisecond)

	tr.Handle(models.NewEvent(models.EventInit, models.InitData{ID: "a"}))
	tr.Handle(models.NewEvent(models.EventStarted, models.StartedData{Total: 1}))
	tr.Handle(models.Event{Event: models.EventFinished})

	assert.NotNil(t, tr.Snapshot().Current, "cleared before the delay elapsed")

	assert.Eventually(t, func() bool { return tr.Snapshot().Current == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ProgressSnapshot{}, tr.Snapshot())
	assert.Eventually(t, func() bool { return rec.invalidations() == 2 }, time.Second, 5*time.Millisecond)
}

func TestTracker_FinishedDoesNotClearNewerJob(t *testing.T) {
	tr, _ := newTestTracker(20 * time.Millisecond)

	tr.Handle(models.NewEvent(models.EventInit, models.InitData{ID: "a"}))
	tr.Handle(models.Event{Event: models.EventFinished})
	tr.Handle(models.NewEvent(models.EventInit, models.InitData{ID: "b"}))

	time.Sleep(60 * time.Millisecond)
	snap := tr.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "b", snap.Current.ID)
}

func TestTracker_IgnoresUnknownAndMalformedEvents(t *testing.T) {
	tr, rec := newTestTracker(time.Hour)

	tr.Handle(models.NewEvent(models.EventInit, models.InitData{ID: "a"}))
	tr.Handle(models.Event{Event: "log", Data: []byte(`{"line":"hello"}`)})
	tr.Handle(models.Event{Event: models.EventProgress, Data: []byte(`{"amount":"lots"}`)})

	assert.Equal(t, 0.0, tr.Snapshot().AmountDone)
	assert.Empty(t, rec.progress)
}

func TestTracker_RunConsumesInOrder(t *testing.T) {
	tr, _ := newTestTracker(time.Hour)

	events := make(chan models.Event, 4)
	events <- models.NewEvent(models.EventInit, models.InitData{ID: "a"})
	events <- models.NewEvent(models.EventStarted, models.StartedData{Total: 3})
	events <- models.NewEvent(models.EventProgress, models.ProgressData{Amount: ptr(1.0)})
	events <- models.NewEvent(models.EventProgress, models.ProgressData{Amount: ptr(1.0)})
	close(events)

	require.NoError(t, tr.Run(context.Background(), events))
	assert.Equal(t, 2.0, tr.Snapshot().AmountDone)
}
