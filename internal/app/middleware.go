package app

import (
	"net"
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/nexhub/nexhub/internal/shared"
)

// actorHeader names the trusted header the authentication layer sets
// after verifying the caller. The engine itself performs no identity
// verification.
const actorHeader = "X-Actor-ID"

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger *slog.Logger
	Config *Config
}

// MiddlewareStack installs the NexHub middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	return []func(http.Handler) http.Handler{
		secureMiddleware.Handler,
		ActorContext(cfg.Logger),
	}
}

// ActorContext extracts the verified actor id and request metadata
// into the request context. Requests without an actor header pass
// through anonymously; permission guards reject them downstream.
func ActorContext(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw := r.Header.Get(actorHeader); raw != "" {
				actorID, err := uuid.Parse(raw)
				if err != nil {
					if logger != nil {
						logger.Warn("malformed actor header", slog.String("value", raw))
					}
					http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
					return
				}
				ctx = shared.ContextWithActor(ctx, actorID)
			}
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				ip = host
			}
			ctx = shared.ContextWithRequestMeta(ctx, shared.RequestMeta{
				IPAddress: ip,
				UserAgent: r.UserAgent(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminRateLimit throttles mutating administrative routes per actor.
func AdminRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	return httprate.Limit(requestsPerMinute, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if actorID, ok := shared.ActorFromContext(r.Context()); ok {
				return actorID.String(), nil
			}
			return httprate.KeyByIP(r)
		}))
}
