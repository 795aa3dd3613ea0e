package devstore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tillsync/tillsync/internal/models"
)

// Server exposes the PostgREST-style entity store and its change feed
type Server struct {
	store  *Storage
	hub    *hub
	logger *slog.Logger
	router chi.Router
}

// NewServer wires routes and middleware. secret enables bearer-token
// authentication; empty disables it.
func NewServer(store *Storage, secret string, logger *slog.Logger) *Server {
	s := &Server{
		store:  store,
		hub:    newHub(logger),
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(recoveryMiddleware(logger))
	r.Use(loggingMiddleware(logger))
	r.Use(authMiddleware(secret, logger))

	r.Get("/health", s.handleHealth)
	r.Get("/realtime", s.hub.serveWS)

	r.Route("/{table}", func(r chi.Router) {
		r.Get("/", s.handleQuery)
		r.Post("/", s.handleInsert)
		r.Patch("/", s.handleUpdate)
		r.Delete("/", s.handleDelete)
	})

	s.router = r
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	q, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.Query(r.Context(), table, q)
	if err != nil {
		s.logger.Error("Query failed", "table", table, "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	var rec models.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := s.store.Insert(r.Context(), table, rec)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// created holds the current remote record on conflict
			writeJSON(w, http.StatusConflict, created)
			return
		}
		s.logger.Error("Insert failed", "table", table, "error", err)
		writeError(w, http.StatusInternalServerError, "insert failed")
		return
	}

	s.hub.broadcast("INSERT", table, created)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	id, ok := eqParam(r.URL.Query().Get("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "id=eq.<id> filter is required")
		return
	}

	var patch models.Record
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := s.store.Update(r.Context(), table, id, patch)
	switch {
	case err == nil:
		s.hub.broadcast("UPDATE", table, updated)
		writeJSON(w, http.StatusOK, updated)
	case errors.Is(err, ErrConflict):
		// 409 carries the current remote record so the client can run
		// conflict detection against it
		writeJSON(w, http.StatusConflict, updated)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	default:
		s.logger.Error("Update failed", "table", table, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	id, ok := eqParam(r.URL.Query().Get("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "id=eq.<id> filter is required")
		return
	}

	if err := s.store.Delete(r.Context(), table, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("Delete failed", "table", table, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	s.hub.broadcast("DELETE", table, models.Record{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

// parseQuery understands the PostgREST filter subset the sync client uses
func parseQuery(values map[string][]string) (Query, error) {
	q := Query{}

	for key, vals := range values {
		for _, v := range vals {
			switch key {
			case "id":
				if id, ok := strings.CutPrefix(v, "eq."); ok {
					q.IDEq = id
				}
			case "updated_at":
				if ts, ok := strings.CutPrefix(v, "gte."); ok {
					q.UpdatedGte = ts
				}
			case "created_at":
				if ts, ok := strings.CutPrefix(v, "gte."); ok {
					q.CreatedGte = ts
				}
			case "deleted_at":
				switch {
				case v == "is.null":
					isNull := true
					q.DeletedNull = &isNull
				case v == "not.is.null":
					isNull := false
					q.DeletedNull = &isNull
				default:
					if ts, ok := strings.CutPrefix(v, "gte."); ok {
						q.DeletedGte = ts
					}
				}
			case "order":
				col, dir, _ := strings.Cut(v, ".")
				q.OrderBy = col
				q.OrderDesc = dir == "desc"
			case "limit":
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					return q, errors.New("invalid limit")
				}
				q.Limit = n
			}
		}
	}

	return q, nil
}

func eqParam(v string) (string, bool) {
	id, ok := strings.CutPrefix(v, "eq.")
	return id, ok && id != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
