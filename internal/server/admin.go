package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/schoolhub/session-agent/internal/logger"
)

// adminMiddleware checks for valid admin API key from either
// 'Authorization: Bearer <key>' or 'X-API-Key: <key>' headers.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.Get().With().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Logger()

		if s.adminKey == "" {
			log.Error().Msg("Admin API key not configured")
			writeError(w, http.StatusInternalServerError, "Admin API not configured")
			return
		}

		var providedToken string
		authHeader := r.Header.Get("Authorization")
		xAPIKeyHeader := r.Header.Get("X-API-Key")

		if authHeader != "" {
			// Expect "Bearer <token>" format, case-insensitive
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				log.Warn().Msg("Invalid Authorization header format for admin endpoint")
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}
			providedToken = parts[1]
		} else if xAPIKeyHeader != "" {
			providedToken = xAPIKeyHeader
		} else {
			log.Warn().Msg("Missing required Authorization or X-API-Key header for admin endpoint")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		if subtle.ConstantTimeCompare([]byte(providedToken), []byte(s.adminKey)) != 1 {
			log.Warn().Msg("Invalid admin API key provided")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		log.Debug().Msg("Admin request authorized")
		next.ServeHTTP(w, r)
	})
}
