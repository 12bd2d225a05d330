package servers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/camvigil/camvigil/src/configs"
	"github.com/camvigil/camvigil/src/instance"
	applog "github.com/camvigil/camvigil/src/log"
	"github.com/camvigil/camvigil/src/metrics"
	"github.com/camvigil/camvigil/src/pkg/sentry"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	server  *http.Server
	started bool
}

func initMux(ctx context.Context) *mux.Router {
	m := mux.NewRouter()
	m.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), instance.Key, instance.GetInstance(ctx)),
			))
		})
	}, accessLog)

	m.HandleFunc("/healthz", getHealth).Methods("GET")
	m.Handle("/metrics", metrics.Handler()).Methods("GET")

	apiRoute := m.PathPrefix("/api").Subrouter()
	apiRoute.Use(mux.CORSMethodMiddleware(apiRoute))
	apiRoute.HandleFunc("/info", getInfo).Methods("GET")
	apiRoute.HandleFunc("/stats", getStats).Methods("GET")
	apiRoute.HandleFunc("/recorders", getAllRecorders).Methods("GET")
	apiRoute.HandleFunc("/recorders/{index:[0-9]+}", getRecorder).Methods("GET")
	apiRoute.HandleFunc("/segment-duration", putSegmentDuration).Methods("PUT")
	return m
}

// NewServer builds the HTTP server serving health, metrics and recorder
// status on the configured metrics address.
func NewServer(ctx context.Context) *Server {
	inst := instance.GetInstance(ctx)
	config := configs.GetCurrentConfig()
	if config == nil {
		config = configs.NewConfig()
	}
	httpServer := &http.Server{
		Addr:              config.Metrics.Bind,
		Handler:           initMux(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := &Server{server: httpServer}
	if inst != nil {
		inst.Server = server
	}
	return server
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.WaitGroup.Add(1)
		s.started = true
	}
	s.server.Addr = ln.Addr().String()
	sentry.Go(func() {
		switch err := s.server.Serve(ln); {
		case errors.Is(err, http.ErrServerClosed):
			applog.GetLogger().Info("Server stopped")
		default:
			applog.GetLogger().WithError(err).Error("Server exited")
		}
	})
	applog.GetLogger().Infof("Server start at %s", s.server.Addr)
	return nil
}

// Addr is the address the server listens on once started.
func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) Close(ctx context.Context) {
	if inst := instance.GetInstance(ctx); inst != nil && s.started {
		s.started = false
		defer inst.WaitGroup.Done()
	}
	ctx2, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx2); err != nil {
		applog.GetLogger().WithError(err).Error("failed to shutdown server")
	}
}
