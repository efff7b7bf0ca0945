package api

import (
	"net/http"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/accounts"
	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/HanTheDev/reqnest-engine/internal/auth"
	"github.com/HanTheDev/reqnest-engine/internal/usage"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type userStats struct {
	usage.Stats
	TotalHits int64 `json:"totalHits"`
}

// Stats reports the caller's recent usage and the admitted requests
// counted against their API key.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := userStats{Stats: h.Ledger.Stats(caller(r))}
	if claims, ok := auth.GetUserFromContext(r.Context()); ok && claims.APIKey != "" {
		hits, err := h.Limiter.TotalHits(r.Context(), claims.APIKey)
		if err != nil {
			h.log.Warn("failed to read hit count", zap.Error(err))
		}
		resp.TotalHits = hits
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAnalytics reports usage per API and operation between the from and
// to dates (YYYY-MM-DD, to inclusive). The range defaults to the last 30
// days.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	const op = "api.GetAnalytics"

	now := time.Now().UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -30)

	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			apierr.EncodeHTTP(w, apierr.Errorf(apierr.EBadRequest, op, "invalid from date %q", s))
			return
		}
		from = t
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			apierr.EncodeHTTP(w, apierr.Errorf(apierr.EBadRequest, op, "invalid to date %q", s))
			return
		}
		to = t
	}
	if to.Before(from) {
		apierr.EncodeHTTP(w, apierr.New(apierr.EBadRequest, op, "to must not be before from"))
		return
	}

	stats, err := h.Analytics.GetUsageAnalytics(r.Context(), caller(r), from, to.AddDate(0, 0, 1))
	if err != nil {
		h.log.Error("analytics query failed", zap.Error(err))
		apierr.EncodeHTTP(w, apierr.Wrap(apierr.EInternal, op, err, "failed to get analytics"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from":  from.Format(dateLayout),
		"to":    to.Format(dateLayout),
		"stats": stats,
	})
}

// Upgrade changes the caller's tier. The rate limiter picks up the new
// tier on the next admission check.
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	const op = "api.Upgrade"

	var req struct {
		Tier string `json:"tier"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}
	if !accounts.ValidTier(req.Tier) {
		apierr.EncodeHTTP(w, apierr.Errorf(apierr.EBadRequest, op, "unknown tier %q", req.Tier))
		return
	}

	email := caller(r)
	if err := h.Accounts.UpdateUserTier(r.Context(), email, req.Tier); err != nil {
		apierr.EncodeHTTP(w, storeError(op, err, "user"))
		return
	}

	h.log.Info("tier changed", zap.String("user", email), zap.String("tier", req.Tier))
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "upgraded",
		"tier":   req.Tier,
	})
}
