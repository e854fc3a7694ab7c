package middleware

import (
	"log/slog"
	"net/http"
)

// IPConnectionCounter reports live realtime sessions held by one remote IP.
type IPConnectionCounter func(ip string) int

// NewConnectionLimiter refuses the websocket upgrade when the remote IP
// already holds maxPerIP live sessions. The actor is unknown until the
// in-band handshake, so the limit is keyed by IP rather than user.
func NewConnectionLimiter(logger *slog.Logger, counter IPConnectionCounter, maxPerIP int) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if count := counter(reqMeta.IP); count >= maxPerIP {
				logger.Warn("IP connection limit reached", slog.String("ip", reqMeta.IP), slog.Int("count", count))
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
