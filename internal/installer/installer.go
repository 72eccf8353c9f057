package installer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"launchq/internal/models"
)

const (
	eventBuffer    = 64
	stderrTail     = 2048
	readBufferSize = 64 * 1024
	maxLineSize    = 1 << 20
)

var finishGrace = time.Second

// Installer performs the byte-level install work. Progress is reported on
// the Events channel while a call is running.
type Installer interface {
	IsClientInstalled(ctx context.Context, version string) (bool, error)
	InstallClient(ctx context.Context, job models.JobRef, meta models.ClientMetadata, gameDir string) error
	InstallContentBatch(ctx context.Context, job models.JobRef, profileID string, files []models.FileDownload, gameDir string) error
	Events() <-chan models.Event
}

// Native runs the external installer binary. Each call starts one process
// whose stdout carries JSON lines of the form {"event": ..., "data": ...}.
type Native struct {
	bin    string
	logger *slog.Logger
	events chan models.Event
}

func NewNative(bin string, logger *slog.Logger) *Native {
	if logger == nil {
		logger = slog.Default()
	}
	return &Native{
		bin:    bin,
		logger: logger,
		events: make(chan models.Event, eventBuffer),
	}
}

func (n *Native) Events() <-chan models.Event { return n.events }

// IsClientInstalled runs "verify". Exit status 1 means not installed.
func (n *Native) IsClientInstalled(ctx context.Context, version string) (bool, error) {
	var stderr tailBuffer
	cmd := exec.CommandContext(ctx, n.bin, "verify", "--version", version)
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return false, nil
	default:
		return false, fmt.Errorf("verify %s: %w%s", version, err, stderr.suffix())
	}
}

func (n *Native) InstallClient(ctx context.Context, job models.JobRef, meta models.ClientMetadata, gameDir string) error {
	args := []string{"client", "--version", meta.Version, "--game-dir", gameDir}
	if meta.Loader != "" {
		args = append(args, "--loader", meta.Loader)
	}
	if meta.LoaderVersion != "" {
		args = append(args, "--loader-version", meta.LoaderVersion)
	}
	return n.run(ctx, job, nil, args...)
}

// InstallContentBatch passes the file list to the installer as JSON on stdin.
func (n *Native) InstallContentBatch(ctx context.Context, job models.JobRef, profileID string, files []models.FileDownload, gameDir string) error {
	payload, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	return n.run(ctx, job, bytes.NewReader(payload), "content", "--profile", profileID, "--game-dir", gameDir)
}

func (n *Native) run(ctx context.Context, job models.JobRef, stdin io.Reader, args ...string) error {
	n.emit(ctx, models.NewEvent(models.EventInit, models.InitData{ID: job.ID, Title: job.Title, Icon: job.Icon}))
	defer n.finish(ctx, job)

	args = append(args, "--job-id", job.ID, "--job-title", job.Title)
	cmd := exec.CommandContext(ctx, n.bin, args...)
	cmd.Stdin = stdin
	var stderr tailBuffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start installer: %w", err)
	}
	n.logger.Debug("Installer started", "id", job.ID, "args", args)

	readErr := readLines(stdout, func(line []byte) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			return
		}
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			n.logger.Warn("Skipping malformed installer output", "id", job.ID, "line", string(line))
			return
		}
		// job boundaries are emitted by run itself
		if ev.Event == models.EventInit || ev.Event == models.EventFinished {
			return
		}
		ev.Data = bytes.Clone(ev.Data)
		n.emit(ctx, ev)
	}, func(size int) {
		n.logger.Warn("Skipping oversized installer output", "id", job.ID, "bytes", size)
	})
	if readErr != nil {
		// keep the pipe flowing so the process can exit
		_, _ = io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("installer %s: %w", args[0], context.Cause(ctx))
		}
		return fmt.Errorf("installer %s: %w%s", args[0], err, stderr.suffix())
	}
	if readErr != nil {
		return fmt.Errorf("read installer output: %w", readErr)
	}
	return nil
}

// emit drops ev once ctx is done, so a stopped consumer cannot block the worker.
func (n *Native) emit(ctx context.Context, ev models.Event) bool {
	select {
	case n.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish reports the end of the job. After cancellation it waits at most
// finishGrace for room in the channel.
func (n *Native) finish(ctx context.Context, job models.JobRef) {
	ev := models.NewEvent(models.EventFinished, nil)
	if ctx.Err() == nil && n.emit(ctx, ev) {
		return
	}
	timer := time.NewTimer(finishGrace)
	defer timer.Stop()
	select {
	case n.events <- ev:
	case <-timer.C:
		n.logger.Warn("Dropped finished event, no progress consumer", "id", job.ID)
	}
}

// readLines calls fn for every newline-terminated line of r. Lines longer
// than maxLineSize are discarded and reported to tooLong with their size.
func readLines(r io.Reader, fn func(line []byte), tooLong func(size int)) error {
	br := bufio.NewReaderSize(r, readBufferSize)
	var (
		line     []byte
		size     int
		skipping bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		size += len(chunk)
		if !skipping {
			if size > maxLineSize {
				skipping = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if isPrefix {
			continue
		}
		if skipping {
			tooLong(size)
		} else {
			fn(line)
		}
		line, size, skipping = line[:0], 0, false
	}
}

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - stderrTail; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) suffix() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := strings.TrimSpace(string(t.buf))
	if s == "" {
		return ""
	}
	return ": " + s
}
