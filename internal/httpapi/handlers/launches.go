package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"launchpad/internal/httpkit"
	"launchpad/internal/launch"
	"launchpad/internal/models"
	"launchpad/internal/pkg/errors"
	"launchpad/internal/pkg/logger"
)

type LaunchEventRequest struct {
	State    models.LaunchState `json:"state"`
	ExitCode *int               `json:"exitCode,omitempty"`
}

// PostLaunchEvent records a state change reported by a worker's bootstrap
// script. The request must carry the item's callback token.
func (h *Handler) PostLaunchEvent(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "itemId")
	ctx := logger.ContextWithItemID(r.Context(), id)

	if h.callbackSecret == "" {
		return errors.New(errors.CodeForbidden, "launch callbacks are disabled")
	}
	if !launch.VerifyCallbackToken(h.callbackSecret, id, r.Header.Get(launch.CallbackTokenHeader)) {
		return errors.New(errors.CodeUnauthorized, "invalid launch token")
	}

	var req LaunchEventRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.Validation("invalid json body")
	}
	switch req.State {
	case models.LaunchRunning:
		req.ExitCode = nil
	case models.LaunchTerminated:
		if req.ExitCode == nil {
			return errors.ValidationField("exitCode", "exitCode is required for terminated")
		}
	default:
		return errors.ValidationField("state", "state must be running or terminated")
	}

	rec, err := h.store.Transition(ctx, id, req.State, req.ExitCode)
	if err != nil {
		return err
	}

	log := h.log.FromContext(ctx)
	if rec.Failed() {
		log.Error("worker failed", "exit_code", *rec.ExitCode, "instance_id", rec.InstanceID)
	} else {
		log.Info("worker state changed", "state", string(rec.State), "instance_id", rec.InstanceID)
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"launch": rec})
	return nil
}
