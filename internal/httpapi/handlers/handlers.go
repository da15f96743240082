package handlers

import (
	"context"

	"launchpad/internal/pkg/logger"
	"launchpad/internal/ports"
)

// Pinger is a dependency the deep health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Store   ports.Store
	Objects ports.ObjectStore
	// Feed is the change-feed transport when it is not the store itself.
	Feed Pinger
	// ScriptKey is the processing script's object key, checked by the
	// deep health check.
	ScriptKey      string
	CallbackSecret string
	Log            *logger.Logger
}

type Handler struct {
	store          ports.Store
	objects        ports.ObjectStore
	feed           Pinger
	scriptKey      string
	callbackSecret string
	log            *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		store:          d.Store,
		objects:        d.Objects,
		feed:           d.Feed,
		scriptKey:      d.ScriptKey,
		callbackSecret: d.CallbackSecret,
		log:            log.WithComponent("intake"),
	}
}
