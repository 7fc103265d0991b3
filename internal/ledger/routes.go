package ledger

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const postRateLimit = 120
const postRateWindow = time.Minute

// MountRoutes registers the gateway endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(postRateLimit, postRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Get("/entries", h.List)
	r.Get("/entries/{id}", h.Get)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/entries", h.Create)
	})
}
