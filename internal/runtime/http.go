package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingpkg "github.com/drblury/onesided/internal/runtime/logging"
)

const httpShutdownTimeout = 5 * time.Second

type httpEndpoint struct {
	router *mux.Router
	server *http.Server
}

// RegisterHTTPHandler mounts handler on the server listening on port. A
// pattern ending in "/" matches every path below it. Servers start when the
// messenger is created, so later registrations only reach ports that are
// already served.
func (m *Messenger) RegisterHTTPHandler(port int, pattern string, handler http.Handler) *mux.Route {
	m.httpServersMu.Lock()
	defer m.httpServersMu.Unlock()

	if m.httpServers == nil {
		m.httpServers = make(map[int]*httpEndpoint)
	}

	ep, ok := m.httpServers[port]
	if !ok {
		ep = &httpEndpoint{router: mux.NewRouter()}
		m.httpServers[port] = ep
	}

	if strings.HasSuffix(pattern, "/") {
		return ep.router.PathPrefix(pattern).Handler(handler)
	}
	return ep.router.Handle(pattern, handler)
}

func (m *Messenger) registerMetricsEndpoint(port int) {
	m.RegisterHTTPHandler(port, "/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (m *Messenger) startHTTPServers() {
	m.httpServersMu.Lock()
	defer m.httpServersMu.Unlock()

	for port, ep := range m.httpServers {
		if ep.server != nil {
			continue
		}
		addr := fmt.Sprintf(":%d", port)
		ep.server = &http.Server{
			Addr:              addr,
			Handler:           ep.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		m.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(ep.server)
	}
}

func (m *Messenger) stopHTTPServers() error {
	m.httpServersMu.Lock()
	defer m.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	var errs []error
	for _, ep := range m.httpServers {
		if ep.server == nil {
			continue
		}
		if err := ep.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", ep.server.Addr, err))
		}
		ep.server = nil
	}
	return errors.Join(errs...)
}
