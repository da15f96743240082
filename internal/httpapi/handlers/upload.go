package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"launchpad/internal/httpkit"
	"launchpad/internal/models"
	"launchpad/internal/pkg/errors"
	"launchpad/internal/pkg/logger"
)

// MaxUploadBytes bounds the intake request body.
const MaxUploadBytes = 1 << 20

type UploadRequest struct {
	ID            string `json:"id"`
	InputText     string `json:"inputText,omitempty"`
	InputFilePath string `json:"inputFilePath,omitempty"`
}

func (req UploadRequest) validate() error {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return errors.ValidationField("id", "id is required")
	}
	if !models.ValidItemID(id) {
		return errors.ValidationField("id", models.ItemIDRule)
	}
	return nil
}

func validationMessage(err error) string {
	var appErr *errors.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Upload writes the submitted work item. The dispatcher picks it up from
// the change feed; nothing here waits for it.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	var req UploadRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteResult(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		httpkit.WriteResult(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	item := models.WorkItem{
		ID:            strings.TrimSpace(req.ID),
		InputText:     req.InputText,
		InputFilePath: strings.TrimSpace(req.InputFilePath),
	}
	ctx = logger.ContextWithItemID(ctx, item.ID)
	log := h.log.FromContext(ctx)

	kind, err := h.store.Put(ctx, item)
	if errors.IsValidation(err) {
		httpkit.WriteResult(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if err != nil {
		log.Error("store write failed", "error", err.Error())
		httpkit.WriteResult(w, http.StatusServiceUnavailable, "record store unavailable, resubmit later")
		return
	}

	log.Info("work item stored", "change", string(kind), "has_payload", item.HasPayload())
	httpkit.WriteResult(w, http.StatusOK, "Put item "+item.ID)
}

// Unsupported answers every route the API does not serve.
func (h *Handler) Unsupported(w http.ResponseWriter, r *http.Request) {
	httpkit.WriteResult(w, http.StatusBadRequest, fmt.Sprintf("Unsupported route: %q", r.Method+" "+r.URL.Path))
}
