package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchq/internal/models"
)

func openTestStore(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func modItem(id string, priority int, created time.Time) models.QueueItem {
	return models.QueueItem{
		ID:        id,
		Display:   true,
		Priority:  priority,
		Title:     "Sodium",
		ProfileID: "p1",
		CreatedAt: created,
		Type:      models.TypeMod,
		Metadata: models.ContentMetadata{Files: []models.FileDownload{
			{Hash: "h", URL: "https://cdn/a.jar", Filename: "a.jar", Version: "v1", ContentID: "AANobbMI", Size: 42},
		}},
		State: models.StatePending,
	}
}

func TestStorage_InsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Now()

	require.NoError(t, s.InsertItem(ctx, modItem("a", 0, created)))

	got, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, got.State)
	assert.Equal(t, created.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.Nil(t, got.CompletedAt)
	meta, ok := got.Metadata.(models.ContentMetadata)
	require.True(t, ok)
	assert.Equal(t, "a.jar", meta.Files[0].Filename)

	_, err = s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_InsertRejectsMismatchedMetadata(t *testing.T) {
	s := openTestStore(t)
	item := modItem("a", 0, time.Now())
	item.Metadata = models.ClientMetadata{Version: "1.20.1"}

	err := s.InsertItem(context.Background(), item)
	assert.ErrorIs(t, err, models.ErrInvalidMetadata)
}

func TestStorage_TerminalStateKeepsAuditFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)
	require.NoError(t, s.InsertItem(ctx, modItem("a", 3, created)))

	require.NoError(t, s.SetState(ctx, "a", models.StateCurrent, ""))
	require.NoError(t, s.SetState(ctx, "a", models.StateErrored, "boom"))

	got, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StateErrored, got.State)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, 3, got.Priority)
	assert.Equal(t, created.UnixMilli(), got.CreatedAt.UnixMilli())
	require.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, s.SetState(ctx, "missing", models.StateCompleted, ""), ErrNotFound)
}

func TestStorage_ListItemsOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.InsertItem(ctx, modItem("late", 0, now.Add(time.Second))))
	require.NoError(t, s.InsertItem(ctx, modItem("early", 0, now)))
	require.NoError(t, s.InsertItem(ctx, modItem("low", 1, now.Add(-time.Hour))))

	items, err := s.ListItems(ctx, models.StatePending)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"early", "late", "low"}, []string{items[0].ID, items[1].ID, items[2].ID})
}

func TestStorage_MalformedRowSurfaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, modItem("a", 0, time.Now())))

	_, err := s.db.ExecContext(ctx, `UPDATE download_queue SET metadata = '{"version":"1.0"}' WHERE id = 'a'`)
	require.NoError(t, err)

	_, err = s.GetItem(ctx, "a")
	assert.ErrorIs(t, err, models.ErrInvalidMetadata)
}

func TestStorage_ClearAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, modItem("a", 0, time.Now())))
	require.NoError(t, s.InsertItem(ctx, modItem("b", 0, time.Now())))
	require.NoError(t, s.SetState(ctx, "a", models.StateCompleted, ""))

	n, err := s.ClearState(ctx, models.StateCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.DeleteItem(ctx, "b"))
	assert.ErrorIs(t, s.DeleteItem(ctx, "b"), ErrNotFound)
}

func TestStorage_ProfileContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProfile(ctx, models.Profile{ID: "p1", Name: "Survival", GameVersion: "1.20.1", Loader: "fabric"}))
	p, err := s.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "fabric", p.Loader)

	_, err = s.GetProfile(ctx, "p2")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AddProfileContent(ctx, []models.ProfileContent{
		{ProfileID: "p1", ProjectID: "A", VersionID: "v1", Filename: "a.jar", Type: models.TypeMod},
		{ProfileID: "p1", ProjectID: "B", VersionID: "v2", Filename: "b.jar", Type: models.TypeMod},
	}))
	require.NoError(t, s.AddProfileContent(ctx, []models.ProfileContent{
		{ProfileID: "p1", ProjectID: "A", VersionID: "v3", Filename: "a2.jar", Type: models.TypeMod},
	}))

	content, err := s.ListProfileContent(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, content, 2)
	assert.Equal(t, "v3", content[0].VersionID)

	ok, err := s.IsInstalled(ctx, "p1", "B")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.RevertProfileContent(ctx, []models.ProfileContent{
		{ProfileID: "p1", ProjectID: "B", VersionID: "v2", Filename: "b.jar"},
	}, nil))
	ok, err = s.IsInstalled(ctx, "p1", "B")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorage_RevertProfileContentRestoresReplaced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v1 := models.ProfileContent{ProfileID: "p1", ProjectID: "A", VersionID: "v1", Hash: "h1", Filename: "a-1.jar", Type: models.TypeMod, Size: 10}
	v2 := models.ProfileContent{ProfileID: "p1", ProjectID: "A", VersionID: "v2", Hash: "h2", Filename: "a-2.jar", Type: models.TypeMod, Size: 12}
	v3 := models.ProfileContent{ProfileID: "p1", ProjectID: "A", VersionID: "v3", Filename: "a-3.jar", Type: models.TypeMod}

	require.NoError(t, s.AddProfileContent(ctx, []models.ProfileContent{v1}))
	require.NoError(t, s.AddProfileContent(ctx, []models.ProfileContent{v2}))
	require.NoError(t, s.RevertProfileContent(ctx, []models.ProfileContent{v2}, []models.ProfileContent{v1}))

	content, err := s.ListProfileContent(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []models.ProfileContent{v1}, content)

	// a later install of the same project survives an older job's revert
	require.NoError(t, s.AddProfileContent(ctx, []models.ProfileContent{v3}))
	require.NoError(t, s.RevertProfileContent(ctx, []models.ProfileContent{v2}, []models.ProfileContent{v1}))
	content, err = s.ListProfileContent(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, content, 1)
	assert.Equal(t, "v3", content[0].VersionID)
}

func TestStorage_UpdateMetadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := modItem("a", 0, time.Now())
	require.NoError(t, s.InsertItem(ctx, item))

	meta := models.ContentMetadata{
		Files:    []models.FileDownload{{Filename: "a-2.jar", Version: "v2", ContentID: "A"}},
		Replaces: []models.ProfileContent{{ProfileID: "p1", ProjectID: "A", VersionID: "v1", Filename: "a-1.jar", Type: models.TypeMod}},
	}
	require.NoError(t, s.UpdateMetadata(ctx, "a", item.Type, meta))

	got, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, meta, got.Metadata)

	assert.ErrorIs(t, s.UpdateMetadata(ctx, "missing", item.Type, meta), ErrNotFound)
}

func TestViews_InvalidateRereads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var invalidated []models.State
	views := NewViews(s, func(st models.State) { invalidated = append(invalidated, st) })

	items, err := views.Get(ctx, models.StatePending)
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, s.InsertItem(ctx, modItem("a", 0, time.Now())))
	items, err = views.Get(ctx, models.StatePending)
	require.NoError(t, err)
	assert.Empty(t, items, "cached until invalidated")

	views.Invalidate(models.StatePending)
	items, err = views.Get(ctx, models.StatePending)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, []models.State{models.StatePending}, invalidated)

	views.Invalidate()
	assert.Len(t, invalidated, 1+len(ViewStates))
}
