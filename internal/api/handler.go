package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/podushkina/docextract/internal/dispatch"
	"github.com/podushkina/docextract/internal/queue"
	"github.com/podushkina/docextract/internal/status"
	"github.com/podushkina/docextract/internal/upload"
)

const downloadFilename = "extracted_data.md"

type Handler struct {
	dispatcher *dispatch.Dispatcher
	status     *status.Service
	queue      *queue.Queue
	stager     *upload.Stager
}

func NewHandler(d *dispatch.Dispatcher, s *status.Service, q *queue.Queue, st *upload.Stager) *Handler {
	return &Handler{dispatcher: d, status: s, queue: q, stager: st}
}

type SubmitTaskRequest struct {
	Path     string `json:"path"`
	MIMEType string `json:"mime_type"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	Pages    int    `json:"pages,omitempty"`
}

type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

type TaskStateResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// UploadFile accepts a multipart document, stages it and submits an
// extraction task. The declared Content-Type of the part decides the
// document kind; content sniffing belongs to an upstream collaborator.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	staged, err := h.stager.Stage(file, header.Filename, header.Header.Get("Content-Type"), header.Size)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := h.dispatcher.Submit(r.Context(), dispatch.Submission{
		Path:     staged.Path,
		MIMEType: staged.MIMEType,
		Filename: staged.Filename,
		FileSize: staged.Size,
		Pages:    staged.Pages,
	})
	if err != nil {
		h.stager.Discard(staged)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, SubmitTaskResponse{TaskID: taskID})
}

// SubmitTask accepts a reference to an already-staged document.
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Path == "" || req.MIMEType == "" {
		respondError(w, http.StatusBadRequest, "path and mime_type are required")
		return
	}

	taskID, err := h.dispatcher.Submit(r.Context(), dispatch.Submission{
		Path:     req.Path,
		MIMEType: req.MIMEType,
		Filename: req.Filename,
		FileSize: req.FileSize,
		Pages:    req.Pages,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, SubmitTaskResponse{TaskID: taskID})
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	entries, err := h.status.ListTasks(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := h.status.GetState(r.Context(), id)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, TaskStateResponse{TaskID: id, Status: string(state)})
}

func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.status.GetResult(r.Context(), id)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// DownloadMarkdown streams a successful result as a Markdown
// attachment.
func (h *Handler) DownloadMarkdown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.status.GetResult(r.Context(), id)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	if res.Failed {
		respondError(w, http.StatusNotFound, res.Message)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", downloadFilename))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(res.Markdown))
}

// RevokeTask marks cancellation intent. Best effort: an in-flight
// extraction may still finish and report a terminal state.
func (h *Handler) RevokeTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.queue.Revoke(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, queue.ErrNotFound):
			respondError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, queue.ErrAlreadyTerminal):
			respondError(w, http.StatusConflict, "task already finished")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, status.ErrNotFound):
		respondError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, status.ErrNotReady):
		respondError(w, http.StatusNotFound, "result not ready")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
