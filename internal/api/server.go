// Package api exposes entries, analyses, jobs and tags over HTTP.
// Analysis always runs in the background; writes answer with the scheduled job.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/journal"
	"github.com/pbaille/journal/internal/logging"
	"github.com/pbaille/journal/internal/store"
)

// Entries is the write path
type Entries interface {
	Create(ctx context.Context, title, body string) (*journal.Result, error)
	Update(ctx context.Context, id, title, body string) (*journal.Result, error)
	Delete(ctx context.Context, id string) error
	Reanalyze(ctx context.Context, id string) (*domain.Job, error)
	Import(ctx context.Context, rawURL string) (*journal.Result, error)
}

// Reader is the read side of the store
type Reader interface {
	Ping(ctx context.Context) error
	GetContent(ctx context.Context, id string) (*domain.Content, error)
	ListContents(ctx context.Context, limit, offset int) ([]domain.Content, error)
	GetEmotionAnalysis(ctx context.Context, id string) (*domain.EmotionAnalysis, error)
	GetCategoryAnalysis(ctx context.Context, id string) (*domain.CategoryAnalysis, error)
	EmotionHistory(ctx context.Context, contentID string) ([]domain.EmotionAnalysis, error)
	CategoryHistory(ctx context.Context, contentID string) ([]domain.CategoryAnalysis, error)
	DiscardAnalysis(ctx context.Context, contentID, analysisID string) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error)
	ListTags(ctx context.Context, kind domain.TagKind) ([]domain.Tag, error)
	Insights(ctx context.Context) (*domain.Insights, error)
}

// Service is the analysis service as seen by the API
type Service interface {
	Health(ctx context.Context) error
	Categories(ctx context.Context) []string
}

// Server handles HTTP requests for the journal API
type Server struct {
	entries  Entries
	store    Reader
	service  Service
	validate *validator.Validate
}

// New creates a new API server. service may be nil when no analysis
// service is configured.
func New(entries Entries, r Reader, service Service) *Server {
	return &Server{
		entries:  entries,
		store:    r,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(withCORS)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/entries", func(r chi.Router) {
		r.Get("/", s.listEntries)
		r.Post("/", s.addEntry)
		r.Post("/import", s.importEntry)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getEntry)
			r.Put("/", s.updateEntry)
			r.Delete("/", s.deleteEntry)
			r.Post("/analyze", s.analyzeEntry)
			r.Get("/analyses", s.listAnalyses)
			r.Delete("/analyses/{analysisID}", s.discardAnalysis)
		})
	})

	r.Get("/jobs", s.listJobs)
	r.Get("/jobs/{id}", s.getJob)
	r.Get("/tags", s.listTags)
	r.Get("/categories", s.listCategories)
	r.Get("/insights", s.insights)

	return r
}

// HTTPServer wraps Handler in an http.Server with sane timeouts
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "database": "ok"}
	status := http.StatusOK

	if err := s.store.Ping(r.Context()); err != nil {
		resp["status"], resp["database"] = "unavailable", err.Error()
		status = http.StatusServiceUnavailable
	}

	// the heuristic covers for the service, so it only degrades health
	if s.service != nil {
		resp["analysis_service"] = "healthy"
		if err := s.service.Health(r.Context()); err != nil {
			resp["analysis_service"] = "unavailable"
			if status == http.StatusOK {
				resp["status"] = "degraded"
			}
		}
	}

	writeJSON(w, status, resp)
}

// EntryRequest is the body for creating or updating an entry
type EntryRequest struct {
	Title string `json:"title" validate:"max=500"`
	Body  string `json:"body" validate:"required,max=100000"`
}

// ImportRequest is the body for importing an entry from a web page
type ImportRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// EntryResponse is an entry with its latest analyses
type EntryResponse struct {
	Entry    *domain.Content          `json:"entry"`
	Emotion  *domain.EmotionAnalysis  `json:"emotion_analysis,omitempty"`
	Category *domain.CategoryAnalysis `json:"category_analysis,omitempty"`
}

// HistoryResponse lists the kept analyses of an entry, newest first
type HistoryResponse struct {
	Emotions   []domain.EmotionAnalysis  `json:"emotion_analyses"`
	Categories []domain.CategoryAnalysis `json:"category_analyses"`
}

func (s *Server) addEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.entries.Create(r.Context(), req.Title, req.Body)
	if err != nil && (res == nil || res.Content == nil) {
		writeStoreError(w, err)
		return
	}
	if err != nil {
		logging.Warn().Err(err).Str("content_id", res.Content.ID).Msg("entry stored but analysis not scheduled")
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) importEntry(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.entries.Import(r.Context(), req.URL)
	if err != nil && (res == nil || res.Content == nil) {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.store.GetContent(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := EntryResponse{Entry: c}
	if id := c.LatestEmotionAnalysisID; id != nil {
		if resp.Emotion, err = s.store.GetEmotionAnalysis(ctx, *id); err != nil && !errors.Is(err, store.ErrNotFound) {
			writeStoreError(w, err)
			return
		}
	}
	if id := c.LatestCategoryAnalysisID; id != nil {
		if resp.Category, err = s.store.GetCategoryAnalysis(ctx, *id); err != nil && !errors.Is(err, store.ErrNotFound) {
			writeStoreError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.entries.Update(r.Context(), chi.URLParam(r, "id"), req.Title, req.Body)
	if err != nil && (res == nil || res.Content == nil) {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.entries.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) analyzeEntry(w http.ResponseWriter, r *http.Request) {
	job, err := s.entries.Reanalyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	entries, err := s.store.ListContents(r.Context(), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetContent(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}

	emotions, err := s.store.EmotionHistory(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	categories, err := s.store.CategoryHistory(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Emotions:   nonNil(emotions),
		Categories: nonNil(categories),
	})
}

func (s *Server) discardAnalysis(w http.ResponseWriter, r *http.Request) {
	err := s.store.DiscardAnalysis(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "analysisID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.JobQueued, domain.JobRunning, domain.JobSucceeded, domain.JobFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown job status: "+string(status))
		return
	}

	jobs, err := s.store.ListJobs(r.Context(), status, queryInt(r, "limit", 50))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": nonNil(jobs)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	kind := domain.TagKind(r.URL.Query().Get("kind"))
	tags, err := s.store.ListTags(r.Context(), kind)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": nonNil(tags)})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	var cats []string
	if s.service != nil {
		cats = s.service.Categories(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": nonNil(cats)})
}

func (s *Server) insights(w http.ResponseWriter, r *http.Request) {
	in, err := s.store.Insights(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// decode reads and validates a JSON body, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			writeError(w, http.StatusBadRequest, "invalid fields: "+strings.Join(fields, ", "))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, journal.ErrEmptyBody):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
