package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// ProfileHeader names the trusted profile identity header. Authentication
// happens upstream (the storefront session layer); this service trusts the
// header the gateway sets.
const ProfileHeader = "X-Dojo-Profile"

// profileID extracts the caller's profile identity from the request.
func profileID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ProfileHeader))
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestLogger logs one line per request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration", time.Since(start),
		)
	})
}

// requireProfile rejects requests missing the profile identity header.
func requireProfile(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if profileID(r) == "" {
			writeError(w, http.StatusUnauthorized, "NO_PROFILE", "missing "+ProfileHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminAuth gates the admin endpoints on a bearer token. No configured
// token means the endpoints do not exist.
func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "BAD_TOKEN", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
