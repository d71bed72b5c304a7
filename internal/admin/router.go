package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/express"
	"github.com/courtbook/relay/internal/notify"
)

// NewRouter wires the chi router, attaches all middleware, and
// registers every route. It is the single source of truth for the HTTP
// surface area.
func NewRouter(
	svc *Service,
	dispatcher *notify.Dispatcher,
	expressQueue *express.Queue,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(CorrelationID)
	r.Use(RequestLogger(logger))

	qh := NewQueueHandler(svc, logger)
	nh := NewNotificationHandler(dispatcher, logger)
	eh := NewExpressHandler(expressQueue, logger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/queues", func(r chi.Router) {
			r.Get("/", qh.ListQueues)
			r.Route("/{queue}", func(r chi.Router) {
				r.Get("/jobs", qh.ListJobs)
				r.Get("/jobs/{id}", qh.GetJob)
				r.Post("/jobs/{id}/retry", qh.RetryJob)
				r.Delete("/jobs/{id}", qh.RemoveJob)
				r.Post("/pause", qh.PauseQueue)
				r.Post("/resume", qh.ResumeQueue)
				r.Post("/clean", qh.CleanQueue)
			})
		})

		r.Post("/notifications", nh.Dispatch)
		r.Get("/notifications/{id}", nh.Get)
		r.Post("/notifications/{id}/read", nh.MarkRead)
		r.Delete("/notifications/{id}", nh.Delete)
		r.Get("/users/{id}/notifications", nh.ListForUser)
		r.Post("/users/{id}/notifications/read", nh.MarkAllRead)

		r.Post("/express", eh.Enqueue)
		r.Get("/express/depths", eh.Depths)
	})

	return r
}
