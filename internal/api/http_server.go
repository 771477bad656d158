package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/models"
	"rollcall/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Checkins accepts record events from the UI.
type Checkins interface {
	Record(ctx context.Context, ev models.RecordEvent) (models.SyncTask, bool, error)
	Delete(ctx context.Context, recordID string) error
}

// SyncController is the dispatcher surface used by the API.
type SyncController interface {
	Status() models.SyncStatus
	RetryNow()
	SetEndpoint(endpoint string)
	Endpoint() string
}

type QueueReader interface {
	List() []models.SyncTask
}

type NetworkState interface {
	Online() bool
	Set(online bool) bool
}

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Checkins Checkins
	Sync     SyncController
	Queue    QueueReader
	Network  NetworkState
}

// HTTPServer exposes the local API used by the check-in UI.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
	now    func() time.Time
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	srv := &HTTPServer{cfg: cfg, deps: deps, auth: NewHTTPAuth(cfg), logger: &l, now: time.Now}

	srv.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Wrap)

		r.Post("/checkins", s.handleCreateCheckin)
		r.Delete("/checkins/{recordID}", s.handleDeleteCheckin)
		r.Get("/queue", s.handleQueue)

		r.Get("/sync/status", s.handleStatus)
		r.Post("/sync/retry", s.handleRetry)
		r.Put("/sync/endpoint", s.handleSetEndpoint)

		r.Post("/network", s.handleNetwork)
	})
	return r
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var validStatuses = map[string]bool{
	models.StatusPresent: true,
	models.StatusLate:    true,
	models.StatusAbsent:  true,
	models.StatusExcused: true,
}

func (s *HTTPServer) handleCreateCheckin(w http.ResponseWriter, r *http.Request) {
	var body models.RecordEvent
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch body.Kind {
	case "":
		body.Kind = models.RecordCreated
	case models.RecordCreated, models.RecordUpdated:
	default:
		writeError(w, http.StatusBadRequest, "kind must be created or updated")
		return
	}
	body.Status = strings.ToUpper(strings.TrimSpace(body.Status))
	if body.Status != "" && !validStatuses[body.Status] {
		writeError(w, http.StatusBadRequest, "status must be one of P, L, A, E")
		return
	}
	if body.Timestamp == 0 {
		body.Timestamp = s.now().UnixMilli()
	}

	task, queued, err := s.deps.Checkins.Record(r.Context(), body)
	if err != nil {
		if errors.Is(err, worker.ErrMissingStudentID) || errors.Is(err, worker.ErrInvalidTimestamp) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("failed to queue check-in")
		writeError(w, http.StatusInternalServerError, "failed to queue check-in")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": task.ID,
		"queued":  queued,
	})
}

func (s *HTTPServer) handleDeleteCheckin(w http.ResponseWriter, r *http.Request) {
	recordID := strings.TrimSpace(chi.URLParam(r, "recordID"))
	if recordID == "" {
		writeError(w, http.StatusBadRequest, "record id is required")
		return
	}
	if err := s.deps.Checkins.Delete(r.Context(), recordID); err != nil {
		s.logger.Error().Err(err).Str("record_id", recordID).Msg("failed to tombstone record")
		writeError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record_id": recordID, "deleted": true})
}

type queueItem struct {
	ID        string            `json:"id"`
	Data      map[string]string `json:"data"`
	Timestamp int64             `json:"timestamp"`
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	tasks := s.deps.Queue.List()
	items := make([]queueItem, 0, len(tasks))
	for _, t := range tasks {
		data := make(map[string]string, len(t.Data))
		for _, f := range t.Data {
			data[f.Key] = f.Value
		}
		items = append(items, queueItem{ID: t.ID, Data: data, Timestamp: t.Timestamp})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": items, "count": len(items)})
}

type statusResponse struct {
	models.SyncStatus
	Indicator string `json:"indicator"`
	Unsynced  int    `json:"unsynced"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Sync.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		SyncStatus: st,
		Indicator:  st.Indicator(),
		Unsynced:   st.Pending,
	})
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.deps.Sync.RetryNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retry requested"})
}

func (s *HTTPServer) handleSetEndpoint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EndpointURL *string `json:"endpoint_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EndpointURL == nil {
		writeError(w, http.StatusBadRequest, "endpoint_url is required")
		return
	}

	s.deps.Sync.SetEndpoint(*body.EndpointURL)
	endpoint := s.deps.Sync.Endpoint()
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoint_url": endpoint,
		"configured":   config.EndpointConfigured(endpoint),
	})
}

func (s *HTTPServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}

	changed := s.deps.Network.Set(*body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{
		"online":  s.deps.Network.Online(),
		"changed": changed,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
