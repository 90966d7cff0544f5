package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/mindshare/pkg/metrics"
)

type healthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

// handleHealth handles GET /healthz. Scrapers asking for text/plain or
// openmetrics get the Prometheus exposition; everyone else gets readiness
// JSON, which is 503 until the service has opened its stores.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if accept := r.Header.Get("Accept"); strings.Contains(accept, "application/openmetrics-text") ||
		strings.Contains(accept, "text/plain") {
		metricsHandler().ServeHTTP(w, r)
		return
	}
	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Ready: true})
}

func metricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
