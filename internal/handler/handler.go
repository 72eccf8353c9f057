package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"launchq/internal/catalog"
	"launchq/internal/launcher"
	"launchq/internal/models"
	"launchq/internal/prompt"
	"launchq/internal/resolver"
	"launchq/internal/storage"
)

// Service is the install facade the handlers drive.
type Service interface {
	InstallClient(ctx context.Context, req launcher.ClientRequest) (*models.QueueItem, error)
	InstallContent(ctx context.Context, req launcher.ContentRequest) (*models.QueueItem, error)
	InstallContentBatch(ctx context.Context, req launcher.BatchRequest) (*models.QueueItem, error)
	Items(ctx context.Context, state models.State) ([]models.QueueItem, error)
	Snapshot() models.Queue
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) (*models.QueueItem, error)
	Postpone(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context, state models.State) (int64, error)
	SaveProfile(ctx context.Context, p models.Profile) error
	ProfileContent(ctx context.Context, profileID string) ([]models.ProfileContent, error)
}

type Progress interface {
	Snapshot() models.ProgressSnapshot
}

type Answerer interface {
	Answer(id string, selected []prompt.Option) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, launcher.ErrInvalidRequest),
		errors.Is(err, models.ErrInvalidMetadata),
		errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrInvalidContentType),
		errors.Is(err, resolver.ErrInvalidRoot):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, launcher.ErrNotQueued),
		errors.Is(err, prompt.ErrUnknownPrompt):
		return http.StatusNotFound
	case errors.Is(err, resolver.ErrIncompatible),
		errors.Is(err, launcher.ErrAlreadyInstalled),
		errors.Is(err, launcher.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, resolver.ErrNoCompatibleVersion),
		errors.Is(err, resolver.ErrNoFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return errors.Join(launcher.ErrInvalidRequest, err)
	}
	return nil
}

func InstallClientHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req launcher.ClientRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		item, err := svc.InstallClient(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		if item == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		writeJSON(w, http.StatusAccepted, item)
	}
}

func InstallContentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req launcher.ContentRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		item, err := svc.InstallContent(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, item)
	}
}

func InstallBatchHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req launcher.BatchRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Type != "" {
			if _, err := models.ParseContentType(string(req.Type)); err != nil {
				writeError(w, err)
				return
			}
		}
		item, err := svc.InstallContentBatch(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, item)
	}
}

// GetQueueHandler returns the in-memory run queue, or the persisted items in
// one state when ?state= is given.
func GetQueueHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stateParam := r.URL.Query().Get("state")
		if stateParam == "" {
			writeJSON(w, http.StatusOK, svc.Snapshot())
			return
		}
		state, err := models.ParseState(stateParam)
		if err != nil {
			writeError(w, err)
			return
		}
		items, err := svc.Items(r.Context(), state)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func GetProgressHandler(p Progress) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Snapshot())
	}
}

func CancelHandler(svc Service) http.HandlerFunc {
	return itemAction(func(ctx context.Context, id string) error { return svc.Cancel(ctx, id) }, "cancelled")
}

func PostponeHandler(svc Service) http.HandlerFunc {
	return itemAction(func(ctx context.Context, id string) error { return svc.Postpone(ctx, id) }, "postponed")
}

func DeleteQueueItemHandler(svc Service) http.HandlerFunc {
	return itemAction(func(ctx context.Context, id string) error { return svc.Delete(ctx, id) }, "deleted")
}

func RetryHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := svc.Retry(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, item)
	}
}

func itemAction(action func(ctx context.Context, id string) error, status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
			return
		}
		if err := action(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

func ClearHandler(svc Service, state models.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.Clear(r.Context(), state)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "count": n})
	}
}

func AnswerPromptHandler(a Answerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Selected []prompt.Option `json:"selected"`
		}
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := a.Answer(chi.URLParam(r, "id"), req.Selected); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
	}
}

func SaveProfileHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p models.Profile
		if err := decode(r, &p); err != nil {
			writeError(w, err)
			return
		}
		p.ID = chi.URLParam(r, "id")
		if err := svc.SaveProfile(r.Context(), p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func ProfileContentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := svc.ProfileContent(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, content)
	}
}

// Routes mounts every endpoint on r.
func Routes(r chi.Router, svc Service, progress Progress, prompts Answerer, ws http.HandlerFunc) {
	r.Post("/install/client", InstallClientHandler(svc))
	r.Post("/install/content", InstallContentHandler(svc))
	r.Post("/install/batch", InstallBatchHandler(svc))

	r.Get("/queue", GetQueueHandler(svc))
	r.Get("/progress", GetProgressHandler(progress))
	r.Put("/queue/{id}/cancel", CancelHandler(svc))
	r.Put("/queue/{id}/retry", RetryHandler(svc))
	r.Put("/queue/{id}/postpone", PostponeHandler(svc))
	r.Delete("/queue/errored", ClearHandler(svc, models.StateErrored))
	r.Delete("/queue/completed", ClearHandler(svc, models.StateCompleted))
	r.Delete("/queue/postponed", ClearHandler(svc, models.StatePostponed))
	r.Delete("/queue/{id}", DeleteQueueItemHandler(svc))

	r.Post("/prompts/{id}", AnswerPromptHandler(prompts))

	r.Get("/profiles/{id}/content", ProfileContentHandler(svc))
	r.Put("/profiles/{id}", SaveProfileHandler(svc))

	if ws != nil {
		r.Get("/ws", ws)
	}
}
