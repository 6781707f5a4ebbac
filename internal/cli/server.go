package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/utkarsh5026/fiberpool/metrics"
	"github.com/utkarsh5026/fiberpool/pool"
)

// statusServer exposes /metrics and a JSON snapshot of the pool of the
// run in progress on /status.
type statusServer struct {
	srv     *http.Server
	current *atomic.Pointer[pool.Pool]
}

func newStatusServer(addr string, reg *prometheus.Registry, current *atomic.Pointer[pool.Pool]) *statusServer {
	s := &statusServer{current: current}

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler(reg)).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
	}
	return s
}

func (s *statusServer) serve() {
	log.Infof("serving metrics on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("metrics server stopped: %v", err)
	}
}

func (s *statusServer) shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	p := s.current.Load()
	if p == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "idle"})
		return
	}
	if err := json.NewEncoder(w).Encode(p.Stats()); err != nil {
		log.Debugf("write status: %v", err)
	}
}
