package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"Fanvault/core/access"
	"Fanvault/core/delivery"
	"Fanvault/core/resolver"
	"Fanvault/core/transcode"
	"Fanvault/logger"
	"Fanvault/model"
	"Fanvault/storage"

	"github.com/gorilla/mux"
)

type ctxKey string

const principalKey ctxKey = "principalID"

// PrincipalFromContext returns the authenticated principal id.
func PrincipalFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(principalKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("principal not found in context")
	}
	return id, nil
}

// bearerToken reads the Authorization header, or the token query parameter
// for websocket clients that cannot set headers.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, nil
		}
		return "", errors.New("Authorization header is required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}

// AuthMiddleware checks for a valid JWT and puts the principal in the
// request context.
func (h *Handler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}
		claims, err := h.tokens.ParseToken(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized", "Invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, claims.PrincipalID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// statusFor maps domain errors to HTTP statuses and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, access.ErrAccessDenied):
		return http.StatusForbidden, "AccessDenied"
	case errors.Is(err, model.ErrAssetNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, delivery.ErrRenditionNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, transcode.ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge, "InputTooLarge"
	case errors.Is(err, transcode.ErrProbeFailed):
		return http.StatusUnprocessableEntity, "ProbeFailed"
	case errors.Is(err, resolver.ErrInvalidPath):
		return http.StatusBadRequest, "InvalidPath"
	}
	return http.StatusInternalServerError, "Internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.ErrorField(err))
		msg = "Internal server error"
	}
	writeJSONError(w, status, code, msg)
}

// HealthHandler reports liveness.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TranscodeResponse is the per-rendition outcome of one job.
type TranscodeResponse struct {
	Success      bool                    `json:"success"`
	Status       model.ProcessingStatus  `json:"status"`
	PerRendition []model.RenditionResult `json:"perRendition"`
}

func newTranscodeResponse(m *model.TranscodeManifest) TranscodeResponse {
	results := make([]model.RenditionResult, 0, len(m.Renditions))
	for _, r := range m.Renditions {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Height != results[j].Height {
			return results[i].Height < results[j].Height
		}
		return results[i].Label < results[j].Label
	})
	return TranscodeResponse{
		Success:      m.Status == model.StatusCompleted,
		Status:       m.Status,
		PerRendition: results,
	}
}

// TranscodeHandler runs one job synchronously. Only privileged principals
// may submit, and at most TranscodeMaxJobs run at once.
func (h *Handler) TranscodeHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if !h.access.IsPrivileged(r.Context(), principal) {
		writeError(w, r, access.ErrAccessDenied)
		return
	}

	var req transcode.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}
	if req.AssetID == "" || req.SourcePath == "" {
		writeJSONError(w, http.StatusBadRequest, "BadRequest", "assetId and sourcePath are required")
		return
	}
	if len(req.TargetLabels) == 0 {
		req.TargetLabels = h.cfg.TranscodeDefaultLabels
	}

	if !h.jobs.TryAcquire(1) {
		w.Header().Set("Retry-After", "30")
		writeJSONError(w, http.StatusTooManyRequests, "Busy", "Transcode capacity reached")
		return
	}
	defer h.jobs.Release(1)

	manifest, err := h.runner.Run(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTranscodeResponse(manifest))
}

// parseExpiresIn reads a non-negative number of seconds. Zero selects the
// default expiry.
func parseExpiresIn(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("expiresIn must be a non-negative number of seconds")
	}
	return time.Duration(secs) * time.Second, nil
}

// MediaHandler returns one signed URL (format=url, the default) or the full
// rendition manifest (format=manifest).
func (h *Handler) MediaHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	assetID := mux.Vars(r)["assetId"]
	q := r.URL.Query()

	expiresIn, err := parseExpiresIn(q.Get("expiresIn"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	switch q.Get("format") {
	case "", "url":
		resp, err := h.delivery.URL(r.Context(), principal, assetID, q.Get("label"), expiresIn)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case "manifest":
		resp, err := h.delivery.Manifest(r.Context(), principal, assetID, expiresIn)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSONError(w, http.StatusBadRequest, "BadRequest", "format must be url or manifest")
	}
}

type secureURLRequest struct {
	AssetID   string `json:"assetId"`
	Path      string `json:"path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Quality   int    `json:"quality"`
	Format    string `json:"format"`
	ExpiresIn int    `json:"expiresIn"`
}

// SecureURLHandler signs a path belonging to an asset, with an optional
// image transform.
func (h *Handler) SecureURLHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req secureURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}
	if req.AssetID == "" || req.Path == "" || req.ExpiresIn < 0 {
		writeJSONError(w, http.StatusBadRequest, "BadRequest", "assetId and path are required")
		return
	}

	tf := resolver.Transform{Width: req.Width, Height: req.Height, Quality: req.Quality, Format: req.Format}
	res, err := h.delivery.SecureURL(r.Context(), principal, req.AssetID, req.Path, tf, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CacheStatsHandler exposes URL cache counters to privileged principals.
func (h *Handler) CacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if !h.access.IsPrivileged(r.Context(), principal) {
		writeError(w, r, access.ErrAccessDenied)
		return
	}
	if h.cache == nil {
		writeJSONError(w, http.StatusNotFound, "NotFound", "URL cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// JobEventsHandler streams transcode events. Subscribing to every job needs
// a privileged principal; assetId narrows the stream to one asset the caller
// can access.
func (h *Handler) JobEventsHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	assetID := r.URL.Query().Get("assetId")

	var allowed bool
	if assetID == "" {
		allowed = h.access.IsPrivileged(r.Context(), principal)
	} else {
		allowed = h.access.CanAccess(r.Context(), principal, assetID)
	}
	if !allowed {
		writeError(w, r, access.ErrAccessDenied)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	h.hub.serve(conn, principal, assetID)
}
