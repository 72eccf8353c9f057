package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"launchq/internal/catalog"
	"launchq/internal/models"
	"launchq/internal/prompt"
)

var (
	ErrIncompatible        = errors.New("incompatible content installed")
	ErrNoCompatibleVersion = errors.New("no compatible version")
	ErrNoFile              = errors.New("version has no files")
	ErrInvalidRoot         = errors.New("project or version id required")
)

const (
	optionInstall = "install"
	optionSkip    = "skip"
)

// IncompatibleError carries the dependency edge that conflicts with
// content already installed on the profile.
type IncompatibleError struct {
	Edge models.Dependency
}

func (e *IncompatibleError) Error() string {
	id := e.Edge.ProjectID
	if id == "" {
		id = e.Edge.VersionID
	}
	return fmt.Sprintf("%v: %s", ErrIncompatible, id)
}

func (e *IncompatibleError) Unwrap() error { return ErrIncompatible }

type Installed interface {
	IsInstalled(ctx context.Context, profileID, projectID string) (bool, error)
}

type DecisionKind int

const (
	Include DecisionKind = iota
	Incompatible
)

// Decision is one step of a resolution: a file to include, or the edge
// that aborts the whole install.
type Decision struct {
	Kind DecisionKind
	File models.FileDownload
	Edge models.Dependency
}

// Root is the content item the user asked to install.
type Root struct {
	ProjectID   string
	VersionID   string
	ProfileID   string
	Loaders     []string
	GameVersion string
}

type Result struct {
	Project catalog.Project
	Version catalog.Version
	Plan    models.InstallPlan
}

type Resolver struct {
	catalog   catalog.Catalog
	installed Installed
	asker     prompt.Asker
	logger    *slog.Logger
}

func New(c catalog.Catalog, installed Installed, asker prompt.Asker, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: c, installed: installed, asker: asker, logger: logger}
}

// Resolve builds the install plan for root. An incompatible dependency
// yields an *IncompatibleError and no plan.
func (r *Resolver) Resolve(ctx context.Context, root Root) (Result, error) {
	project, version, decisions, err := r.walk(ctx, root)
	if err != nil {
		return Result{}, err
	}

	res := Result{Project: project, Version: version}
	for _, d := range decisions {
		if d.Kind == Incompatible {
			return Result{}, &IncompatibleError{Edge: d.Edge}
		}
		res.Plan = append(res.Plan, d.File)
	}
	return res, nil
}

// Decisions returns the raw decision sequence for root. It stops at the
// first incompatible decision.
func (r *Resolver) Decisions(ctx context.Context, root Root) ([]Decision, error) {
	_, _, decisions, err := r.walk(ctx, root)
	return decisions, err
}

func (r *Resolver) walk(ctx context.Context, root Root) (catalog.Project, catalog.Version, []Decision, error) {
	project, version, err := r.resolveRoot(ctx, root)
	if err != nil {
		return catalog.Project{}, catalog.Version{}, nil, err
	}
	file, ok := version.PrimaryFile()
	if !ok {
		return catalog.Project{}, catalog.Version{}, nil, fmt.Errorf("%s: %w", version.ID, ErrNoFile)
	}

	decisions := []Decision{{Kind: Include, File: version.Download(file, project.Title)}}
	visited := map[string]bool{version.ID: true}
	declined := map[string]bool{}
	work := slices.Clone(version.Dependencies)

	for len(work) > 0 {
		edge := work[0]
		work = work[1:]

		switch edge.Type {
		case models.DependencyIncompatible:
			conflict, err := r.conflicts(ctx, root.ProfileID, edge)
			if err != nil {
				return catalog.Project{}, catalog.Version{}, nil, err
			}
			if conflict {
				r.logger.Info("Incompatible dependency installed", "project", edge.ProjectID, "version", edge.VersionID)
				decisions = append(decisions, Decision{Kind: Incompatible, Edge: edge})
				return project, version, decisions, nil
			}
			continue
		case models.DependencyEmbedded:
			continue
		}

		dep, err := r.resolveEdge(ctx, edge, root.Loaders, root.GameVersion)
		if err != nil {
			return catalog.Project{}, catalog.Version{}, nil, err
		}
		if visited[dep.ID] {
			continue
		}

		depFile, ok := dep.PrimaryFile()
		if !ok {
			return catalog.Project{}, catalog.Version{}, nil, fmt.Errorf("%s: %w", dep.ID, ErrNoFile)
		}

		var title string
		if edge.Type == models.DependencyOptional {
			if declined[dep.ID] {
				continue
			}
			accepted, depProject, err := r.confirmOptional(ctx, root.ProfileID, dep)
			if err != nil {
				return catalog.Project{}, catalog.Version{}, nil, err
			}
			if !accepted {
				declined[dep.ID] = true
				continue
			}
			title = depProject.Title
		} else {
			title = r.title(ctx, dep)
		}
		visited[dep.ID] = true

		work = append(work, dep.Dependencies...)
		decisions = append(decisions, Decision{Kind: Include, File: dep.Download(depFile, title)})
	}
	return project, version, decisions, nil
}

func (r *Resolver) resolveRoot(ctx context.Context, root Root) (catalog.Project, catalog.Version, error) {
	switch {
	case root.VersionID != "":
		v, err := r.catalog.GetVersion(ctx, root.VersionID)
		if err != nil {
			return catalog.Project{}, catalog.Version{}, err
		}
		p, err := r.catalog.GetProject(ctx, v.ProjectID)
		if err != nil {
			return catalog.Project{}, catalog.Version{}, err
		}
		return p, v, nil

	case root.ProjectID != "":
		p, err := r.catalog.GetProject(ctx, root.ProjectID)
		if err != nil {
			return catalog.Project{}, catalog.Version{}, err
		}
		window := GameVersionWindow(root.GameVersion, p.GameVersions)
		v, err := r.latest(ctx, p.ID, root.Loaders, window)
		if err != nil {
			return catalog.Project{}, catalog.Version{}, err
		}
		return p, v, nil
	}
	return catalog.Project{}, catalog.Version{}, ErrInvalidRoot
}

func (r *Resolver) resolveEdge(ctx context.Context, edge models.Dependency, loaders []string, gameVersion string) (catalog.Version, error) {
	switch {
	case edge.VersionID != "":
		return r.catalog.GetVersion(ctx, edge.VersionID)
	case edge.ProjectID != "":
		return r.latest(ctx, edge.ProjectID, loaders, gameVersion)
	}
	return catalog.Version{}, fmt.Errorf("dependency without project or version: %w", ErrNoCompatibleVersion)
}

func (r *Resolver) latest(ctx context.Context, projectID string, loaders []string, gameVersion string) (catalog.Version, error) {
	var gameVersions []string
	if gameVersion != "" {
		gameVersions = []string{gameVersion}
	}
	versions, err := r.catalog.GetVersions(ctx, projectID, loaders, gameVersions)
	if err != nil {
		return catalog.Version{}, err
	}
	if len(versions) == 0 {
		return catalog.Version{}, fmt.Errorf("%s for %v %s: %w", projectID, loaders, gameVersion, ErrNoCompatibleVersion)
	}
	return versions[0], nil
}

// title names a dependency for display, falling back to the version name
// when the project cannot be fetched.
func (r *Resolver) title(ctx context.Context, dep catalog.Version) string {
	p, err := r.catalog.GetProject(ctx, dep.ProjectID)
	if err != nil || p.Title == "" {
		r.logger.Debug("Using version name as dependency title", "project", dep.ProjectID, "error", err)
		return dep.Name
	}
	return p.Title
}

func (r *Resolver) conflicts(ctx context.Context, profileID string, edge models.Dependency) (bool, error) {
	projectID := edge.ProjectID
	if projectID == "" && edge.VersionID != "" {
		v, err := r.catalog.GetVersion(ctx, edge.VersionID)
		if err != nil {
			return false, err
		}
		projectID = v.ProjectID
	}
	if projectID == "" {
		return false, nil
	}
	return r.installed.IsInstalled(ctx, profileID, projectID)
}

// confirmOptional asks the user whether to install an optional dependency.
// Dependencies already on the profile are skipped without asking.
func (r *Resolver) confirmOptional(ctx context.Context, profileID string, dep catalog.Version) (bool, catalog.Project, error) {
	installed, err := r.installed.IsInstalled(ctx, profileID, dep.ProjectID)
	if err != nil || installed {
		return false, catalog.Project{}, err
	}

	p, err := r.catalog.GetProject(ctx, dep.ProjectID)
	if err != nil {
		return false, catalog.Project{}, err
	}
	selected, err := r.asker.Ask(ctx, prompt.Question{
		Title:       fmt.Sprintf("Install optional dependency %s?", p.Title),
		Description: p.Summary(),
		Icon:        p.IconURL,
		Options: []prompt.Option{
			{Label: "Install", Value: optionInstall},
			{Label: "Skip", Value: optionSkip},
		},
	})
	if err != nil {
		return false, catalog.Project{}, err
	}
	accepted := slices.ContainsFunc(selected, func(o prompt.Option) bool { return o.Value == optionInstall })
	return accepted, p, nil
}
