package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"launchq/internal/installer"
	"launchq/internal/models"
	"launchq/internal/queue"
	"launchq/internal/resolver"
)

var (
	ErrInvalidRequest    = errors.New("invalid install request")
	ErrAlreadyInstalled  = errors.New("content already installed")
	ErrInvalidTransition = errors.New("item cannot change to the requested state")
	ErrNotQueued         = errors.New("item is not queued or running")
)

const interruptedMessage = "interrupted"

type Store interface {
	InsertItem(ctx context.Context, item models.QueueItem) error
	GetItem(ctx context.Context, id string) (models.QueueItem, error)
	ListItems(ctx context.Context, state models.State) ([]models.QueueItem, error)
	SetState(ctx context.Context, id string, state models.State, errMsg string) error
	UpdateMetadata(ctx context.Context, id string, t models.ContentType, m models.Metadata) error
	DeleteItem(ctx context.Context, id string) error
	ClearState(ctx context.Context, state models.State) (int64, error)

	GetProfile(ctx context.Context, id string) (models.Profile, error)
	SaveProfile(ctx context.Context, p models.Profile) error
	ListProfileContent(ctx context.Context, profileID string) ([]models.ProfileContent, error)
	AddProfileContent(ctx context.Context, content []models.ProfileContent) error
	RevertProfileContent(ctx context.Context, added, previous []models.ProfileContent) error
}

type Queue interface {
	Push(job queue.Job)
	Cancel(id string) bool
	Remove(id string) (models.QueueItem, bool)
	Forget(id string) bool
	Clear(state models.State)
	Snapshot() models.Queue
}

type Resolver interface {
	Resolve(ctx context.Context, root resolver.Root) (resolver.Result, error)
}

type Views interface {
	Get(ctx context.Context, state models.State) ([]models.QueueItem, error)
	Invalidate(states ...models.State)
}

// Signals receives the facade's user-facing events.
type Signals interface {
	InstallReady(ready bool)
	Notify(n models.Notification)
}

type Deps struct {
	Store     Store
	Queue     Queue
	Installer installer.Installer
	Resolver  Resolver
	Views     Views
	Signals   Signals
	GameDir   string
	Logger    *slog.Logger
}

// Launcher ties resolution, persistence and scheduling together.
type Launcher struct {
	store     Store
	queue     Queue
	installer installer.Installer
	resolver  Resolver
	views     Views
	signals   Signals
	gameDir   string
	logger    *slog.Logger
	now       func() time.Time
}

func New(d Deps) *Launcher {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		store:     d.Store,
		queue:     d.Queue,
		installer: d.Installer,
		resolver:  d.Resolver,
		views:     d.Views,
		signals:   d.Signals,
		gameDir:   d.GameDir,
		logger:    logger,
		now:       time.Now,
	}
}

type ClientRequest struct {
	Version       string `json:"version"`
	Loader        string `json:"loader,omitempty"`
	LoaderVersion string `json:"loaderVersion,omitempty"`
	GameDir       string `json:"gameDir,omitempty"`
	Force         bool   `json:"force"`
}

// InstallClient queues a game client install. A version already verified
// locally is reported ready without queueing unless Force is set; the
// returned item is nil in that case.
func (l *Launcher) InstallClient(ctx context.Context, req ClientRequest) (*models.QueueItem, error) {
	if req.Version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidRequest)
	}

	if !req.Force {
		installed, err := l.installer.IsClientInstalled(ctx, req.Version)
		if err != nil {
			l.logger.Warn("Client verification failed, reinstalling", "version", req.Version, "error", err)
		}
		if installed {
			l.logger.Info("Client already installed", "version", req.Version)
			l.signals.InstallReady(true)
			return nil, nil
		}
	}

	meta := models.ClientMetadata{Version: req.Version, Loader: req.Loader, LoaderVersion: req.LoaderVersion, GameDir: req.GameDir}
	item := l.newItem(models.TypeClient, clientTitle(meta), "", "", meta)
	if err := l.store.InsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("persist client job: %w", err)
	}
	l.enqueue(item)
	return &item, nil
}

type BatchRequest struct {
	ProfileID string                `json:"profileId"`
	Type      models.ContentType    `json:"contentType"`
	Title     string                `json:"title,omitempty"`
	Icon      string                `json:"icon,omitempty"`
	Files     []models.FileDownload `json:"files"`
}

// InstallContentBatch records the files not yet on the profile and queues
// one job installing them. When nothing is new, an "already installed"
// notification is sent and ErrAlreadyInstalled returned.
func (l *Launcher) InstallContentBatch(ctx context.Context, req BatchRequest) (*models.QueueItem, error) {
	if req.Type == "" {
		req.Type = models.TypeMod
	}
	if req.Type.IsClient() {
		return nil, fmt.Errorf("%w: %s is not a content type", ErrInvalidRequest, req.Type)
	}
	if req.ProfileID == "" || len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: profile and files are required", ErrInvalidRequest)
	}

	profile, err := l.store.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", req.ProfileID, err)
	}
	existing, err := l.store.ListProfileContent(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("profile content: %w", err)
	}

	files := newFiles(existing, req.Files)
	if len(files) == 0 {
		l.signals.Notify(models.Notification{
			Level:   models.LevelInfo,
			Title:   "Already installed",
			Message: batchTitle(req.Title, req.Files) + " is already installed on " + profile.Name,
		})
		return nil, ErrAlreadyInstalled
	}

	meta := models.ContentMetadata{Files: files, Replaces: replacedContent(existing, files)}
	item := l.newItem(req.Type, batchTitle(req.Title, files), req.Icon, profile.ID, meta)

	content := profileContent(profile.ID, req.Type, files)
	if err := l.store.AddProfileContent(ctx, content); err != nil {
		return nil, fmt.Errorf("record profile content: %w", err)
	}
	if err := l.store.InsertItem(ctx, item); err != nil {
		l.rollbackContent(item)
		return nil, fmt.Errorf("persist content job: %w", err)
	}

	l.logger.Info("Queued content", "id", item.ID, "title", item.Title, "files", len(files), "bytes", meta.Bytes())
	l.enqueue(item)
	return &item, nil
}

type ContentRequest struct {
	ProfileID string             `json:"profileId"`
	ProjectID string             `json:"projectId,omitempty"`
	VersionID string             `json:"versionId,omitempty"`
	Type      models.ContentType `json:"contentType,omitempty"`
}

// InstallContent resolves the dependencies of one content item for the
// profile and installs the resulting plan as a single batch.
func (l *Launcher) InstallContent(ctx context.Context, req ContentRequest) (*models.QueueItem, error) {
	if req.ProfileID == "" || (req.ProjectID == "" && req.VersionID == "") {
		return nil, fmt.Errorf("%w: profile and project or version are required", ErrInvalidRequest)
	}
	if req.Type == "" {
		req.Type = models.TypeMod
	}
	profile, err := l.store.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", req.ProfileID, err)
	}

	res, err := l.resolver.Resolve(ctx, resolver.Root{
		ProjectID:   req.ProjectID,
		VersionID:   req.VersionID,
		ProfileID:   profile.ID,
		Loaders:     loadersFor(req.Type, profile.Loader),
		GameVersion: profile.GameVersion,
	})
	if err != nil {
		return nil, err
	}

	return l.InstallContentBatch(ctx, BatchRequest{
		ProfileID: profile.ID,
		Type:      req.Type,
		Title:     res.Project.Title,
		Icon:      res.Project.IconURL,
		Files:     res.Plan,
	})
}

// Restore re-queues work persisted by a previous run. Items left CURRENT
// were interrupted and become ERRORED.
func (l *Launcher) Restore(ctx context.Context) (int, error) {
	current, err := l.store.ListItems(ctx, models.StateCurrent)
	if err != nil {
		return 0, err
	}
	for _, item := range current {
		if err := l.store.SetState(ctx, item.ID, models.StateErrored, interruptedMessage); err != nil {
			return 0, fmt.Errorf("mark %s interrupted: %w", item.ID, err)
		}
		l.logger.Warn("Install interrupted by restart", "id", item.ID, "title", item.Title)
	}

	pending, err := l.store.ListItems(ctx, models.StatePending)
	if err != nil {
		return 0, err
	}
	slices.SortStableFunc(pending, func(a, b models.QueueItem) int { return a.CreatedAt.Compare(b.CreatedAt) })
	for _, item := range pending {
		l.queue.Push(l.job(item))
	}
	if len(current)+len(pending) > 0 {
		l.views.Invalidate()
	}
	return len(pending), nil
}

// Retry queues an ERRORED or POSTPONED item again under the same id.
func (l *Launcher) Retry(ctx context.Context, id string) (*models.QueueItem, error) {
	item, err := l.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.State != models.StateErrored && item.State != models.StatePostponed {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, item.State)
	}

	if meta, ok := item.Metadata.(models.ContentMetadata); ok {
		existing, err := l.store.ListProfileContent(ctx, item.ProfileID)
		if err != nil {
			return nil, fmt.Errorf("profile content: %w", err)
		}
		meta.Replaces = replacedContent(existing, meta.Files)
		if err := l.store.UpdateMetadata(ctx, id, item.Type, meta); err != nil {
			return nil, err
		}
		item.Metadata = meta
		if err := l.store.AddProfileContent(ctx, profileContent(item.ProfileID, item.Type, meta.Files)); err != nil {
			return nil, fmt.Errorf("record profile content: %w", err)
		}
	}
	if err := l.store.SetState(ctx, id, models.StatePending, ""); err != nil {
		return nil, err
	}
	l.queue.Forget(id)

	item.State = models.StatePending
	item.Error = ""
	item.CompletedAt = nil
	l.views.Invalidate(models.StateErrored, models.StatePostponed)
	l.enqueue(item)
	return &item, nil
}

// Postpone takes a pending item off the run queue and parks it as POSTPONED.
func (l *Launcher) Postpone(ctx context.Context, id string) error {
	if _, ok := l.queue.Remove(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotQueued, id)
	}
	item, err := l.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if err := l.store.SetState(ctx, id, models.StatePostponed, ""); err != nil {
		return err
	}
	l.rollbackContent(item)
	l.views.Invalidate(models.StatePending, models.StatePostponed)
	return nil
}

// Cancel aborts the running or pending item with the given id. It ends ERRORED.
func (l *Launcher) Cancel(ctx context.Context, id string) error {
	if !l.queue.Cancel(id) {
		return fmt.Errorf("%w: %s", ErrNotQueued, id)
	}
	return nil
}

// Delete removes an item that is not running.
func (l *Launcher) Delete(ctx context.Context, id string) error {
	item, err := l.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	switch item.State {
	case models.StateCurrent:
		return fmt.Errorf("%w: %s is running", ErrInvalidTransition, id)
	case models.StatePending:
		if _, ok := l.queue.Remove(id); ok {
			l.rollbackContent(item)
		}
	}
	if err := l.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	l.queue.Forget(id)
	l.views.Invalidate(item.State)
	return nil
}

// Clear deletes every item in a state that holds no live work.
func (l *Launcher) Clear(ctx context.Context, state models.State) (int64, error) {
	if state != models.StateCompleted && state != models.StateErrored && state != models.StatePostponed {
		return 0, fmt.Errorf("%w: cannot clear %s items", ErrInvalidTransition, state)
	}
	n, err := l.store.ClearState(ctx, state)
	if err != nil {
		return 0, err
	}
	l.queue.Clear(state)
	l.views.Invalidate(state)
	return n, nil
}

func (l *Launcher) Items(ctx context.Context, state models.State) ([]models.QueueItem, error) {
	return l.views.Get(ctx, state)
}

func (l *Launcher) Snapshot() models.Queue {
	return l.queue.Snapshot()
}

func (l *Launcher) SaveProfile(ctx context.Context, p models.Profile) error {
	if p.ID == "" || p.GameVersion == "" {
		return fmt.Errorf("%w: profile id and game version are required", ErrInvalidRequest)
	}
	return l.store.SaveProfile(ctx, p)
}

func (l *Launcher) ProfileContent(ctx context.Context, profileID string) ([]models.ProfileContent, error) {
	if _, err := l.store.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	return l.store.ListProfileContent(ctx, profileID)
}

func (l *Launcher) newItem(t models.ContentType, title, icon, profileID string, meta models.Metadata) models.QueueItem {
	return models.QueueItem{
		ID:        uuid.NewString(),
		Display:   true,
		Title:     title,
		Icon:      icon,
		ProfileID: profileID,
		CreatedAt: l.now(),
		Type:      t,
		Metadata:  meta,
		State:     models.StatePending,
	}
}

func (l *Launcher) enqueue(item models.QueueItem) {
	l.queue.Push(l.job(item))
	l.views.Invalidate(models.StatePending)
}

// job builds the queued work for item. The profile, and so its game
// directory, is read when the job runs.
func (l *Launcher) job(item models.QueueItem) queue.Job {
	switch meta := item.Metadata.(type) {
	case models.ClientMetadata:
		gameDir := meta.GameDir
		if gameDir == "" {
			gameDir = l.gameDir
		}
		return queue.Job{
			Item: item,
			Run: func(ctx context.Context) error {
				return l.installer.InstallClient(ctx, item.Ref(), meta, gameDir)
			},
			Done: func(err error) { l.signals.InstallReady(err == nil) },
		}

	case models.ContentMetadata:
		return queue.Job{
			Item: item,
			Run: func(ctx context.Context) error {
				profile, err := l.store.GetProfile(ctx, item.ProfileID)
				if err != nil {
					return fmt.Errorf("profile %s: %w", item.ProfileID, err)
				}
				dir := profile.GameDir
				if dir == "" {
					dir = l.gameDir
				}
				return l.installer.InstallContentBatch(ctx, item.Ref(), profile.ID, meta.Files, dir)
			},
			Done: func(err error) {
				if err != nil {
					l.rollbackContent(item)
				}
			},
		}
	}

	return queue.Job{
		Item: item,
		Run: func(context.Context) error {
			return fmt.Errorf("%w: %T", models.ErrInvalidMetadata, item.Metadata)
		},
	}
}

// rollbackContent puts the profile content back the way it was before a
// content job that did not install was queued.
func (l *Launcher) rollbackContent(item models.QueueItem) {
	meta, ok := item.Metadata.(models.ContentMetadata)
	if !ok || len(meta.Files) == 0 {
		return
	}
	added := profileContent(item.ProfileID, item.Type, meta.Files)
	if err := l.store.RevertProfileContent(context.Background(), added, meta.Replaces); err != nil {
		l.logger.Error("Failed to roll back profile content", "id", item.ID, "error", err)
	}
}
