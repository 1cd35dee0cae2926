// Package httpapi exposes the REST API. Routing is gorilla/mux; every
// response body is JSON.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/habitquest/service/internal/app"
	"github.com/habitquest/service/internal/app/metrics"
	authsvc "github.com/habitquest/service/internal/app/services/auth"
	habitssvc "github.com/habitquest/service/internal/app/services/habits"
	errs "github.com/habitquest/service/internal/errors"
	"github.com/habitquest/service/internal/middleware"
	"github.com/habitquest/service/pkg/logger"
)

// RouterOptions tunes the middleware around the API.
type RouterOptions struct {
	RateLimitPerSecond int
	RateLimitBurst     int
	AllowedOrigins     []string
	// Stop ends the rate limiter's background sweep. Nil keeps it running
	// for the life of the process.
	Stop <-chan struct{}
}

// handler bundles the HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewRouter builds the full HTTP surface: API routes wrapped in CORS, tracing,
// rate limiting, authentication, and metrics collection.
func NewRouter(application *app.Application, log *logger.Logger, opts RouterOptions) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	api.HandleFunc("/users/profile", h.profile).Methods(http.MethodGet)
	api.HandleFunc("/users/profile", h.updateProfile).Methods(http.MethodPatch)
	api.HandleFunc("/users/stats", h.stats).Methods(http.MethodGet)

	api.HandleFunc("/habits", h.listHabits).Methods(http.MethodGet)
	api.HandleFunc("/habits", h.createHabit).Methods(http.MethodPost)
	api.HandleFunc("/habits/deleted", h.listDeletedHabits).Methods(http.MethodGet)
	api.HandleFunc("/habits/bulk/delete", h.bulkDelete).Methods(http.MethodPost)
	api.HandleFunc("/habits/bulk/restore", h.bulkRestore).Methods(http.MethodPatch)
	api.HandleFunc("/habits/{id}", h.getHabit).Methods(http.MethodGet)
	api.HandleFunc("/habits/{id}", h.updateHabit).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/habits/{id}", h.softDeleteHabit).Methods(http.MethodDelete)
	api.HandleFunc("/habits/{id}/permanent", h.permanentDeleteHabit).Methods(http.MethodDelete)
	api.HandleFunc("/habits/{id}/complete", h.completeHabit).Methods(http.MethodPost)
	api.HandleFunc("/habits/{id}/restore", h.restoreHabit).Methods(http.MethodPost)

	auth := middleware.NewAuthMiddleware(application.Tokens, log, []string{
		"/healthz",
		"/metrics",
		"/api/auth/register",
		"/api/auth/login",
	})

	var chain http.Handler = r
	if opts.RateLimitPerSecond > 0 {
		rl := middleware.NewRateLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst, log)
		rl.StartCleanup(10*time.Minute, opts.Stop)
		chain = rl.Handler(chain)
	}
	// Auth sits outside the limiter so authenticated traffic is keyed per
	// user; skip-path requests reach the limiter anonymous and fall back
	// to the client IP.
	chain = auth.Handler(chain)
	chain = middleware.NewTracingMiddleware(log).Handler(chain)
	if len(opts.AllowedOrigins) > 0 {
		chain = middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(chain)
	}
	return metrics.InstrumentHandler(chain)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- auth -------------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload authsvc.RegisterInput
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errs.Validation("Invalid request body"))
		return
	}
	session, err := h.app.Auth.Register(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errs.Validation("Invalid request body"))
		return
	}
	session, err := h.app.Auth.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// --- users ------------------------------------------------------------------

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.app.Users.Profile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errs.Validation("Invalid request body"))
		return
	}
	profile, err := h.app.Users.UpdateUsername(r.Context(), middleware.GetUserID(r.Context()), payload.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, errs.Validation("Days must be a number"))
			return
		}
		days = parsed
	}
	stats, err := h.app.Users.Stats(r.Context(), middleware.GetUserID(r.Context()), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- habits -----------------------------------------------------------------

func (h *handler) listHabits(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("includeInactive") == "true"
	habits, err := h.app.Habits.List(r.Context(), middleware.GetUserID(r.Context()), includeInactive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, habits)
}

func (h *handler) listDeletedHabits(w http.ResponseWriter, r *http.Request) {
	habits, err := h.app.Habits.ListDeleted(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, habits)
}

func (h *handler) createHabit(w http.ResponseWriter, r *http.Request) {
	var payload habitssvc.CreateInput
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errs.Validation("Invalid request body"))
		return
	}
	habit, err := h.app.Habits.Create(r.Context(), middleware.GetUserID(r.Context()), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, habit)
}

func (h *handler) getHabit(w http.ResponseWriter, r *http.Request) {
	habit, err := h.app.Habits.Get(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, habit)
}

func (h *handler) updateHabit(w http.ResponseWriter, r *http.Request) {
	var payload habitssvc.UpdateInput
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errs.Validation("Invalid request body"))
		return
	}
	habit, err := h.app.Habits.Update(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, habit)
}

func (h *handler) softDeleteHabit(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Habits.SoftDelete(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) permanentDeleteHabit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConfirmationText string `json:"confirmation_text"`
	}
	// An empty body falls through to the confirmation check.
	if err := decodeJSON(r.Body, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, errs.Validation("Invalid request body"))
		return
	}
	result, err := h.app.Habits.PermanentDelete(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.ConfirmationText)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) restoreHabit(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Habits.Restore(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) completeHabit(w http.ResponseWriter, r *http.Request) {
	reward, err := h.app.Game.CompleteHabit(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	difficulty := ""
	if reward.UpdatedHabit != nil {
		difficulty = string(reward.UpdatedHabit.Difficulty)
	}
	metrics.RecordCompletion(difficulty, reward.Success, reward.XPGained, reward.LeveledUp)

	if !reward.Success {
		status := http.StatusBadRequest
		if reward.Message == "Habit not found or inactive" {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"message": reward.Message})
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (h *handler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	var payload habitssvc.BulkDeleteInput
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errs.Validation("Invalid request body"))
		return
	}
	result, err := h.app.Habits.BulkDelete(r.Context(), middleware.GetUserID(r.Context()), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) bulkRestore(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		HabitIDs []string `json:"habit_ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errs.Validation("Invalid request body"))
		return
	}
	result, err := h.app.Habits.BulkRestore(r.Context(), middleware.GetUserID(r.Context()), payload.HabitIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- helpers ----------------------------------------------------------------

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps a ServiceError to its HTTP status. Anything else is an
// unexpected failure and stays opaque to the client.
func writeError(w http.ResponseWriter, err error) {
	se := errs.GetServiceError(err)
	if se == nil {
		se = errs.Internal("An unexpected error occurred", err)
	}
	body := map[string]interface{}{
		"error":   se.Code,
		"message": se.Message,
	}
	if len(se.Details) > 0 {
		body["details"] = se.Details
	}
	writeJSON(w, se.HTTPStatus, body)
}
