package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"launchpad/internal/httpkit"
	"launchpad/internal/models"
	"launchpad/internal/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxListLimit {
			limit = v
		}
	}
	return limit
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) error {
	items, err := h.store.List(r.Context(), listLimit(r))
	if err != nil {
		return err
	}
	if items == nil {
		items = []models.WorkItem{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
	return nil
}

// GetItem returns the item together with its launch record, if any.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	id := chi.URLParam(r, "itemId")

	item, err := h.store.Get(ctx, id)
	if err != nil {
		return err
	}

	var launch *models.Launch
	launch, err = h.store.GetLaunch(ctx, id)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"item":   item,
		"launch": launch,
	})
	return nil
}

// DeleteItem removes the record. The resulting change is ignored by the
// dispatcher; a worker already launched for the item keeps running.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "itemId")
	if err := h.store.Delete(r.Context(), id); err != nil {
		return err
	}
	h.log.FromContext(r.Context()).Info("work item deleted", "item_id", id)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) error {
	dls, err := h.store.DeadLetters(r.Context(), listLimit(r))
	if err != nil {
		return err
	}
	if dls == nil {
		dls = []models.DeadLetter{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"dead_letters": dls})
	return nil
}
