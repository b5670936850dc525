package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewSideRouter returns the router for the metrics listener: GET /metrics and GET /healthz.
func NewSideRouter(metrics, health http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics).Methods(http.MethodGet)
	r.Handle("/healthz", health).Methods(http.MethodGet)
	return r
}
