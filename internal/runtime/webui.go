package runtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/drblury/onesided/internal/runtime/jsoncodec"
)

const defaultWebUIPort = 8081

func (m *Messenger) registerWebUI() {
	if !m.Conf.WebUIEnabled {
		return
	}

	port := m.Conf.WebUIPort
	if port == 0 {
		port = defaultWebUIPort
	}

	m.RegisterHTTPHandler(port, "/api/", m.webUIRouter())
}

// webUIRouter serves the read-only debug API of the messenger.
func (m *Messenger) webUIRouter() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(m.corsMiddleware)
	api.HandleFunc("/handlers", m.handleGetHandlers).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/handlers/{name}", m.handleGetHandler).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stats", m.handleGetStats).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/buffer", m.handleGetBuffer).Methods(http.MethodGet, http.MethodOptions)
	return r
}

func (m *Messenger) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.Conf.WebUICORSAllowedOrigins) > 0 {
			if allowed := m.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Messenger) handleGetHandlers(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.Stats().Handlers)
}

func (m *Messenger) handleGetHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, info := range m.Stats().Handlers {
		if info.Name == name {
			m.writeJSON(w, info)
			return
		}
	}
	http.Error(w, "handler not found", http.StatusNotFound)
}

func (m *Messenger) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.Stats())
}

// handleGetBuffer serves the last published buffer snapshot. ?format=text
// returns the header table as text.
func (m *Messenger) handleGetBuffer(w http.ResponseWriter, r *http.Request) {
	v := m.snapshot.Load()
	if v == nil {
		http.Error(w, "buffer not allocated", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(v.Text))
		return
	}
	m.writeJSON(w, v)
}

func (m *Messenger) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		m.Logger.Error("Failed to encode response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (m *Messenger) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range m.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
