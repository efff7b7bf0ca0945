package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/HanTheDev/reqnest-engine/internal/auth"
	"go.uber.org/zap"
)

const (
	HeaderAPIKey     = "X-API-KEY"
	HeaderAdminToken = "X-Admin-Token"
)

// rateLimit admits the request against the tier bucket of its API key.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := h.Limiter.CheckAdmission(r.Context(), r.Header.Get(HeaderAPIKey))
		if apierr.Is(err, apierr.ERateLimited) {
			retry := strconv.FormatInt(decision.RetryAfterSeconds, 10)
			w.Header().Set("Retry-After", retry)
			w.Header().Set("X-Rate-Limit-Retry-After-Seconds", retry)
			w.Header().Set("X-Rate-Limit-Reason", "Quota exceeded. Retry after "+retry+" seconds.")
			h.log.Info("request rate limited",
				zap.String("tier", decision.Tier),
				zap.Int64("retry_after", decision.RetryAfterSeconds))
			apierr.EncodeHTTP(w, err)
			return
		}
		if err != nil {
			if apierr.KindOf(err) == apierr.EInternal {
				h.log.Error("admission check failed", zap.Error(err))
			}
			apierr.EncodeHTTP(w, err)
			return
		}

		w.Header().Set("X-Rate-Limit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		w.Header().Set("X-Total-Hits", strconv.FormatInt(decision.TotalHits, 10))
		next.ServeHTTP(w, r)
	})
}

// requireKeyOwner rejects requests whose API key is not the one the
// bearer token was issued for. It runs after Authenticate.
func (h *Handler) requireKeyOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		key := r.Header.Get(HeaderAPIKey)
		if !ok || subtle.ConstantTimeCompare([]byte(key), []byte(claims.APIKey)) != 1 {
			apierr.EncodeHTTP(w, apierr.New(apierr.EUnauthenticated, "api.requireKeyOwner",
				"API key does not match token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.RequestTimeout <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), h.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin guards the admin routes with a shared token. Without a
// configured token the routes reject everything.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(HeaderAdminToken)
		if h.AdminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.AdminToken)) != 1 {
			apierr.EncodeHTTP(w, apierr.New(apierr.EUnauthenticated, "api.requireAdmin", "admin token required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		h.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.statusCode),
			zap.Int("size", recorder.size),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	size          int
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if !r.headerWritten {
		r.statusCode = statusCode
		r.ResponseWriter.WriteHeader(statusCode)
		r.headerWritten = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.headerWritten = true
	size, err := r.ResponseWriter.Write(b)
	r.size += size
	return size, err
}
