// Package httpapi wires the intake API: the public PUT /upload route, the
// item and dead-letter views, and the worker callback route.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"launchpad/internal/httpapi/handlers"
	"launchpad/internal/httpkit"
	"launchpad/internal/launch"
	"launchpad/internal/pkg/logger"
	"launchpad/internal/pkg/middleware"
	"launchpad/internal/ports"
)

type Deps struct {
	Store          ports.Store
	Objects        ports.ObjectStore
	Feed           handlers.Pinger
	ScriptKey      string
	CallbackSecret string

	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
	Log                *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}

	cors := httpkit.IntakeCORS()
	if len(d.CORSAllowedOrigins) > 0 {
		cors.AllowedOrigins = d.CORSAllowedOrigins
	}
	cors.AllowedMethods = []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete}
	cors.AllowedHeaders = []string{"Content-Type", launch.CallbackTokenHeader}
	r.Use(httpkit.CORS(cors))

	h := handlers.New(handlers.Deps{
		Store:          d.Store,
		Objects:        d.Objects,
		Feed:           d.Feed,
		ScriptKey:      d.ScriptKey,
		CallbackSecret: d.CallbackSecret,
		Log:            log,
	})
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- INTAKE ----
	r.Put("/upload", h.Upload)

	// ---- ITEMS ----
	r.Get("/items", wrap(h.ListItems))
	r.Get("/items/{itemId}", wrap(h.GetItem))
	r.Delete("/items/{itemId}", wrap(h.DeleteItem))

	// ---- LAUNCHES ----
	r.Post("/launches/{itemId}/events", wrap(h.PostLaunchEvent))
	r.Get("/dead-letters", wrap(h.ListDeadLetters))

	r.NotFound(h.Unsupported)
	r.MethodNotAllowed(h.Unsupported)

	return r
}
