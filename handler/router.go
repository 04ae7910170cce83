package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// Router serves the same route table as Handle over net/http.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(middleware.Timeout(60 * time.Second))

	for _, rt := range h.routes {
		r.Method(rt.method, rt.pattern, h.adapt(rt.handle))
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		h.writeHTTP(w, req, correlationID(req), response{status: http.StatusNotFound, body: errorResponse{Error: errorNotFound}})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		h.writeHTTP(w, req, correlationID(req), response{status: http.StatusMethodNotAllowed, body: errorResponse{Error: errorMethodNotAllowed}})
	})
	return r
}

func (h *Handler) adapt(fn endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := correlationID(req)
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
		if err != nil {
			h.writeHTTP(w, req, id, invalid("invalid_body"))
			return
		}
		res := fn(req.Context(), request{
			owner: req.Header.Get(headerOwnerID),
			id:    chi.URLParam(req, "id"),
			body:  body,
			query: req.URL.Query(),
		})
		h.writeHTTP(w, req, id, res)
	}
}

func (h *Handler) writeHTTP(w http.ResponseWriter, req *http.Request, correlationID string, res response) {
	h.logRequest(req.Method, req.URL.Path, correlationID, res.status)

	w.Header().Set(headerCorrelationID, correlationID)
	if res.body == nil {
		w.WriteHeader(res.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.status)
	if err := json.NewEncoder(w).Encode(res.body); err != nil {
		h.logger.Warn("write response failed", zap.String("correlation_id", correlationID), zap.Error(err))
	}
}

func correlationID(req *http.Request) string {
	if id := req.Header.Get(headerCorrelationID); id != "" {
		return id
	}
	return uuid.NewString()
}
