// Package api exposes the engine, the schema registry and the rate limiter
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/accounts"
	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/HanTheDev/reqnest-engine/internal/auth"
	"github.com/HanTheDev/reqnest-engine/internal/engine"
	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/HanTheDev/reqnest-engine/internal/ratelimit"
	"github.com/HanTheDev/reqnest-engine/internal/registry"
	"github.com/HanTheDev/reqnest-engine/internal/schemagen"
	"github.com/HanTheDev/reqnest-engine/internal/usage"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Analytics returns persisted usage aggregates for a user.
type Analytics interface {
	GetUsageAnalytics(ctx context.Context, userID string, from, to time.Time) ([]models.UsageAnalytics, error)
}

// Deps are the collaborators a Handler serves.
type Deps struct {
	Engine    *engine.Engine
	Registry  *registry.Registry
	Limiter   *ratelimit.Limiter
	FreeTrial *ratelimit.FreeTrial
	Ledger    *usage.Ledger
	Accounts  accounts.Store
	Analytics Analytics

	// Generator backs schema drafting. Nil disables the generate routes.
	Generator *schemagen.Generator

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	JWTSecret      string
	TokenTTL       time.Duration
	AdminToken     string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

type Handler struct {
	Deps
	auth *auth.Middleware
	log  *zap.Logger
}

func NewHandler(deps Deps) *Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Analytics == nil && deps.Ledger != nil {
		deps.Analytics = deps.Ledger
	}
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = 24 * time.Hour
	}
	return &Handler{
		Deps: deps,
		auth: auth.NewMiddleware(deps.JWTSecret),
		log:  log,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.Use(h.logRequests)

	// Public
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/auth/token", h.Token).Methods("POST")
	if h.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Schema management
	apis := router.PathPrefix("/apis").Subrouter()
	apis.Use(h.auth.Authenticate)
	apis.HandleFunc("", h.CreateSchema).Methods("POST")
	apis.HandleFunc("", h.ListSchemas).Methods("GET")
	if h.Generator != nil {
		apis.HandleFunc("/generate", h.GenerateSchema).Methods("POST")
		apis.HandleFunc("/generate-test-data", h.GenerateTestData).Methods("POST")
	}
	apis.HandleFunc("/{name}", h.GetSchema).Methods("GET")
	apis.HandleFunc("/{name}", h.UpdateSchema).Methods("PUT")
	apis.HandleFunc("/{name}", h.DeleteSchema).Methods("DELETE")
	apis.HandleFunc("/{name}/stats", h.SchemaStats).Methods("GET")

	// Documents: admission first, then identity
	data := router.PathPrefix("/data/{api}").Subrouter()
	data.Use(h.rateLimit, h.auth.Authenticate, h.requireKeyOwner, h.withTimeout)
	data.HandleFunc("", h.CreateDocument).Methods("POST")
	data.HandleFunc("", h.ReadAllDocuments).Methods("GET")
	data.HandleFunc("/search", h.SearchDocuments).Methods("POST")
	data.HandleFunc("", h.UpdateDocument).Methods("PUT")
	data.HandleFunc("/delete", h.DeleteDocuments).Methods("DELETE")

	trial := router.PathPrefix("/trial").Subrouter()
	trial.Use(h.auth.Authenticate, h.withTimeout)
	trial.HandleFunc("/{api}", h.Trial).Methods("GET")

	// Reporting
	user := router.PathPrefix("/user").Subrouter()
	user.Use(h.auth.Authenticate)
	user.HandleFunc("/stats", h.Stats).Methods("GET")
	user.HandleFunc("/analytics", h.GetAnalytics).Methods("GET")
	user.HandleFunc("/upgrade", h.Upgrade).Methods("POST")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(h.requireAdmin)
	admin.HandleFunc("/users", h.CreateUser).Methods("POST")
	admin.HandleFunc("/users/{email}/rotate-key", h.RotateAPIKey).Methods("POST")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	const op = "api.Token"

	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}
	if req.APIKey == "" {
		apierr.EncodeHTTP(w, apierr.New(apierr.EBadRequest, op, "api_key is required"))
		return
	}

	user, err := h.Accounts.GetUserByAPIKey(r.Context(), req.APIKey)
	if errors.Is(err, models.ErrNotFound) {
		apierr.EncodeHTTP(w, apierr.New(apierr.EUnauthenticated, op, "invalid API key"))
		return
	}
	if err != nil {
		h.log.Error("user lookup failed", zap.Error(err))
		apierr.EncodeHTTP(w, apierr.Wrap(apierr.EInternal, op, err, "failed to look up user"))
		return
	}

	token, err := auth.GenerateToken(user.Email, user.APIKey, h.JWTSecret, h.TokenTTL)
	if err != nil {
		apierr.EncodeHTTP(w, apierr.Wrap(apierr.EInternal, op, err, "failed to generate token"))
		return
	}

	h.log.Info("token issued", zap.String("user", user.Email))
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int64(h.TokenTTL.Seconds()),
	})
}

// caller returns the authenticated user id. Routes without the auth
// middleware never call it.
func caller(r *http.Request) string {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.UserID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON request body into v. Any failure is a bad
// request.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return apierr.New(apierr.EBadRequest, "api.decode", "request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.EBadRequest, "api.decode", err, "invalid JSON body")
	}
	return nil
}

// storeError maps store sentinel errors to API kinds.
func storeError(op string, err error, what string) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return apierr.Errorf(apierr.ENotFound, op, "%s not found", what)
	case errors.Is(err, models.ErrDuplicate):
		return apierr.Errorf(apierr.EConflict, op, "%s already exists", what)
	default:
		return apierr.Wrap(apierr.EInternal, op, err, "failed to access "+what)
	}
}
