package handlers

import (
	"context"
	"net/http"
	"time"

	"launchpad/internal/httpkit"
	"launchpad/internal/pkg/errors"
)

const checkTimeout = 5 * time.Second

// Health performs a health check of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "launchpad-api",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{
		"store": probe(ctx, "store ping", h.store.Ping),
	}
	if h.feed != nil {
		checks["feed"] = probe(ctx, "feed ping", h.feed.Ping)
	}
	if h.objects != nil {
		checks["storage"] = h.checkStorage(ctx)
	}
	return checks
}

func probe(ctx context.Context, name string, ping func(context.Context) error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := ping(checkCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || checkCtx.Err() != nil {
			err = errors.Timeout(name)
		}
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

// checkStorage reports the provider and whether the processing script is
// published.
func (h *Handler) checkStorage(ctx context.Context) map[string]any {
	result := map[string]any{
		"status":   "ok",
		"provider": h.objects.Provider(),
	}
	if h.scriptKey == "" {
		return result
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	info, err := h.objects.StatObject(checkCtx, h.scriptKey)
	switch {
	case errors.IsNotFound(err):
		result["status"] = "error"
		result["error"] = "processing script not published"
	case err != nil:
		result["status"] = "error"
		result["error"] = err.Error()
	default:
		result["script"] = h.objects.Location(h.scriptKey)
		result["script_size"] = info.Size
	}
	return result
}
