package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/domain"
	"github.com/DevaanshArora/complianceASC/internal/middleware"
	"github.com/DevaanshArora/complianceASC/internal/usecases"
)

const maxUploadMemory = 32 << 20 // buffered in memory before spilling to disk

// AnalysisHandler handles HTTP requests for document analysis
type AnalysisHandler struct {
	usecase    *usecases.AnalysisUsecase
	uploadsDir string
	logger     *zap.Logger
}

// NewAnalysisHandler creates a new analysis handler. Uploaded files are
// staged under uploadsDir until the analysis is done with them.
func NewAnalysisHandler(usecase *usecases.AnalysisUsecase, uploadsDir string, logger *zap.Logger) (*AnalysisHandler, error) {
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &AnalysisHandler{
		usecase:    usecase,
		uploadsDir: uploadsDir,
		logger:     logger,
	}, nil
}

// AnalyzeDocument handles POST /analyze
func (h *AnalysisHandler) AnalyzeDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid multipart form", requestID)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "file field is required", requestID)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".pdf" && ext != ".txt" {
		h.respondError(w, http.StatusBadRequest, "only .pdf and .txt files are supported", requestID)
		return
	}

	path, size, err := h.stageUpload(file, ext)
	if err != nil {
		h.logger.Error("failed to stage upload",
			zap.String("request_id", requestID),
			zap.String("filename", header.Filename),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to store uploaded file", requestID)
		return
	}

	submission, err := h.usecase.Analyze(ctx, path, size)
	if err != nil {
		h.logger.Error("analysis request failed",
			zap.String("request_id", requestID),
			zap.String("filename", header.Filename),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrDocumentUnreadable) {
			h.respondError(w, http.StatusBadRequest, "document could not be read", requestID)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to analyze document", requestID)
		return
	}

	if submission.Async {
		h.respondJSON(w, http.StatusAccepted, map[string]any{
			"task_id": submission.TaskID,
			"status":  domain.TaskStatusPending,
			"message": "document queued for analysis",
		}, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, submission.Result, requestID)
}

// stageUpload copies the uploaded stream into the uploads directory and
// reports the number of bytes written.
func (h *AnalysisHandler) stageUpload(file io.Reader, ext string) (string, int64, error) {
	path := filepath.Join(h.uploadsDir, uuid.New().String()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}

	size, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, size, nil
}

// GetStatus handles GET /status/{task_id}
func (h *AnalysisHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	taskID, ok := h.parseTaskID(w, r, requestID)
	if !ok {
		return
	}

	task, err := h.usecase.GetStatus(ctx, taskID)
	if err != nil {
		h.respondDomainError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, task, requestID)
}

// GetResults handles GET /results/{task_id}
func (h *AnalysisHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	taskID, ok := h.parseTaskID(w, r, requestID)
	if !ok {
		return
	}

	result, err := h.usecase.GetResult(ctx, taskID)
	if err != nil {
		h.respondDomainError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, result, requestID)
}

// DownloadArtifact handles GET /download/{task_id}/{file_type}
func (h *AnalysisHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	taskID, ok := h.parseTaskID(w, r, requestID)
	if !ok {
		return
	}

	fileType := chi.URLParam(r, "file_type")
	var artifact usecases.ArtifactType
	switch fileType {
	case "intermediate":
		artifact = usecases.ArtifactIntermediate
	case "final":
		artifact = usecases.ArtifactFinal
	default:
		h.respondError(w, http.StatusBadRequest, "file_type must be intermediate or final", requestID)
		return
	}

	rc, err := h.usecase.OpenArtifact(ctx, taskID, artifact)
	if err != nil {
		h.respondDomainError(w, err, requestID)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s_results_%s.json", fileType, taskID))
	w.Header().Set("X-Request-ID", requestID)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("failed to stream artifact",
			zap.String("request_id", requestID),
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
	}
}

// CancelTask handles DELETE /tasks/{task_id}
func (h *AnalysisHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	taskID, ok := h.parseTaskID(w, r, requestID)
	if !ok {
		return
	}

	if err := h.usecase.Cancel(ctx, taskID); err != nil {
		h.respondDomainError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"status":  domain.TaskStatusCancelled,
		"message": "task cancelled",
	}, requestID)
}

func (h *AnalysisHandler) parseTaskID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "task_id")
	taskID, err := uuid.Parse(raw)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "task_id must be a valid UUID", requestID)
		return uuid.Nil, false
	}
	return taskID, true
}

// respondDomainError maps domain sentinels to HTTP statuses
func (h *AnalysisHandler) respondDomainError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		h.respondError(w, http.StatusNotFound, "task not found", requestID)
	case errors.Is(err, domain.ErrResultNotReady):
		h.respondError(w, http.StatusConflict, "result is not ready yet", requestID)
	case errors.Is(err, domain.ErrResultMissing):
		h.respondError(w, http.StatusNotFound, "result artifact is missing", requestID)
	case errors.Is(err, domain.ErrInvalidState):
		h.respondError(w, http.StatusConflict, "task state does not allow this operation", requestID)
	default:
		h.logger.Error("unexpected error",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "internal server error", requestID)
	}
}

// respondJSON sends a JSON response
func (h *AnalysisHandler) respondJSON(w http.ResponseWriter, status int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// respondError sends an error response
func (h *AnalysisHandler) respondError(w http.ResponseWriter, status int, message, requestID string) {
	h.respondJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestID,
	}, requestID)
}
