package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luciancaetano/bililive"
)

// newRouter serves the registry on /metrics and the room state on /healthz.
// /healthz answers 503 unless the room is live.
func newRouter(reg *prometheus.Registry, r bililive.Room) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(10 * time.Second))

	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		state := r.State()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if state != bililive.StateLive {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(state.String() + "\n"))
	})

	return router
}
