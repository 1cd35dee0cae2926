// Package app wires the domain services to their storage and exposes them as
// one Application value.
package app

import (
	"time"

	authsvc "github.com/habitquest/service/internal/app/services/auth"
	gamesvc "github.com/habitquest/service/internal/app/services/game"
	habitssvc "github.com/habitquest/service/internal/app/services/habits"
	userssvc "github.com/habitquest/service/internal/app/services/users"
	"github.com/habitquest/service/internal/app/storage"
	"github.com/habitquest/service/internal/app/storage/memory"
	"github.com/habitquest/service/pkg/logger"
)

// Options configures an Application. A nil Store defaults to the in-memory
// implementation.
type Options struct {
	Store     storage.Store
	JWTSecret string
	JWTTTL    time.Duration
}

// Application ties the domain services together.
type Application struct {
	log   *logger.Logger
	store storage.Store

	Tokens *authsvc.Tokens
	Auth   *authsvc.Service
	Game   *gamesvc.Service
	Habits *habitssvc.Service
	Users  *userssvc.Service
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) *Application {
	if log == nil {
		log = logger.NewDefault("app")
	}
	store := opts.Store
	if store == nil {
		log.Warn("no store configured; using in-memory storage")
		store = memory.New()
	}
	ttl := opts.JWTTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	tokens := authsvc.NewTokens(opts.JWTSecret, ttl)
	return &Application{
		log:    log,
		store:  store,
		Tokens: tokens,
		Auth:   authsvc.New(store, tokens, log.WithField("component", "auth")),
		Game:   gamesvc.New(store, log.WithField("component", "game")),
		Habits: habitssvc.New(store, log.WithField("component", "habits")),
		Users:  userssvc.New(store, log.WithField("component", "users")),
	}
}

// Store exposes the underlying storage, mainly for tests and seeding.
func (a *Application) Store() storage.Store { return a.store }
