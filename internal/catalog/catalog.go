package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"launchq/internal/models"
)

const (
	DefaultBaseURL = "https://api.modrinth.com/v2"
	userAgent      = "launchq/1.0 (install orchestrator)"
)

var (
	ErrNotFound    = errors.New("catalog entry not found")
	ErrUnavailable = errors.New("catalog unavailable")
)

// Catalog answers content metadata queries.
type Catalog interface {
	GetVersions(ctx context.Context, projectID string, loaders, gameVersions []string) ([]Version, error)
	GetVersion(ctx context.Context, versionID string) (Version, error)
	GetProject(ctx context.Context, projectID string) (Project, error)
}

type Version struct {
	ID            string              `json:"id"`
	ProjectID     string              `json:"project_id"`
	Name          string              `json:"name"`
	VersionNumber string              `json:"version_number"`
	GameVersions  []string            `json:"game_versions"`
	Loaders       []string            `json:"loaders"`
	Files         []File              `json:"files"`
	Dependencies  []models.Dependency `json:"dependencies"`
}

type File struct {
	Hashes   map[string]string `json:"hashes"`
	URL      string            `json:"url"`
	Filename string            `json:"filename"`
	Primary  bool              `json:"primary"`
	Size     int64             `json:"size"`
}

type Project struct {
	ID           string   `json:"id"`
	Slug         string   `json:"slug"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Body         string   `json:"body"`
	IconURL      string   `json:"icon_url"`
	ProjectType  string   `json:"project_type"`
	GameVersions []string `json:"game_versions"`
	Loaders      []string `json:"loaders"`
}

// PrimaryFile returns the file flagged primary, or the first file.
func (v Version) PrimaryFile() (File, bool) {
	for _, f := range v.Files {
		if f.Primary {
			return f, true
		}
	}
	if len(v.Files) == 0 {
		return File{}, false
	}
	return v.Files[0], true
}

// Download converts the version's file into a queue file reference.
func (v Version) Download(f File, title string) models.FileDownload {
	return models.FileDownload{
		Hash:      f.Hashes["sha1"],
		URL:       f.URL,
		Filename:  f.Filename,
		Version:   v.ID,
		ContentID: v.ProjectID,
		Size:      f.Size,
		Title:     title,
	}
}

type Client struct {
	baseURL string
	http    *http.Client
	retry   retryPolicy
	logger  *slog.Logger
}

type ClientOption func(*Client)

// WithRetry sets how often transient failures are retried and the initial
// backoff between attempts.
func WithRetry(attempts int, initialDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.retry.attempts = attempts
		c.retry.initialDelay = initialDelay
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   defaultRetry,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetVersions(ctx context.Context, projectID string, loaders, gameVersions []string) ([]Version, error) {
	q := url.Values{}
	if len(loaders) > 0 {
		q.Set("loaders", jsonList(loaders))
	}
	if len(gameVersions) > 0 {
		q.Set("game_versions", jsonList(gameVersions))
	}
	path := "/project/" + url.PathEscape(projectID) + "/version"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var versions []Version
	if err := c.get(ctx, path, &versions); err != nil {
		return nil, fmt.Errorf("versions of %s: %w", projectID, err)
	}
	return versions, nil
}

func (c *Client) GetVersion(ctx context.Context, versionID string) (Version, error) {
	var v Version
	if err := c.get(ctx, "/version/"+url.PathEscape(versionID), &v); err != nil {
		return Version{}, fmt.Errorf("version %s: %w", versionID, err)
	}
	return v, nil
}

func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	if err := c.get(ctx, "/project/"+url.PathEscape(projectID), &p); err != nil {
		return Project{}, fmt.Errorf("project %s: %w", projectID, err)
	}
	return p, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	return c.retry.do(ctx, func() error {
		return c.getOnce(ctx, path, dest)
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("Catalog request failed, retrying", "path", path, "attempt", attempt, "retryIn", delay, "error", err)
	})
}

func (c *Client) getOnce(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transient(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return transient(err)
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}

func jsonList(values []string) string {
	raw, _ := json.Marshal(values)
	return string(raw)
}
