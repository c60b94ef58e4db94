package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwygoda/batchpress/internal/domain"
	"github.com/cwygoda/batchpress/internal/ingest"
	"github.com/cwygoda/batchpress/internal/logging"
	"github.com/cwygoda/batchpress/internal/metrics"
)

// MsgCountMismatch is returned when files and descriptions differ in number.
const MsgCountMismatch = "Number of files and descriptions didn't match."

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to disk.
const multipartMemory = 32 << 20

// Uploader accepts upload batches.
type Uploader interface {
	Handle(ctx context.Context, req ingest.Request) (string, error)
}

// Options configures the HTTP server.
type Options struct {
	Addr string
	// MaxUploadBytes caps the request body of an upload; zero disables it.
	MaxUploadBytes int64
	// Media, when set, serves published objects below /media/.
	Media http.Handler
}

// Server is the HTTP adapter for uploads and their status.
type Server struct {
	queries   *domain.QueryService
	uploads   Uploader
	router    *mux.Router
	server    *http.Server
	maxUpload int64
	logger    logging.Logger
}

// NewServer creates a new HTTP server.
func NewServer(queries *domain.QueryService, uploads Uploader, opts Options, logger logging.Logger) *Server {
	s := &Server{
		queries:   queries,
		uploads:   uploads,
		router:    mux.NewRouter(),
		maxUpload: opts.MaxUploadBytes,
		logger:    logger.With("component", "http"),
	}
	s.routes(opts.Media)
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(media http.Handler) {
	s.router.Use(metrics.Middleware(routeTemplate))

	s.router.HandleFunc("/uploads", s.handleUpload).Methods(http.MethodPost)
	s.router.HandleFunc("/handle_post/", s.handleUpload).Methods(http.MethodPost)
	s.router.HandleFunc("/uploads/{id}", s.handleGetUpload).Methods(http.MethodGet)
	s.router.HandleFunc("/posts/{id}", s.handleGetPost).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if media != nil {
		s.router.PathPrefix("/media/").
			Handler(http.StripPrefix("/media/", media)).
			Methods(http.MethodGet, http.MethodHead)
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// uploadResponse is the JSON response for an accepted upload.
type uploadResponse struct {
	UploadID string `json:"uploadId"`
}

// batchResponse is the JSON response for upload status polling.
type batchResponse struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	MediaInfo domain.MediaInfo `json:"mediaInfo"`
	Valid     bool             `json:"valid"`
	Message   *string          `json:"message"`
	PostID    *string          `json:"postId"`
	CreatedAt string           `json:"createdAt"`
	UpdatedAt string           `json:"updatedAt"`
}

// postResponse is the JSON response for a published post.
type postResponse struct {
	ID           string   `json:"id"`
	AuthorID     string   `json:"authorId"`
	Title        string   `json:"title"`
	Media        []string `json:"media"`
	Descriptions []string `json:"descriptions"`
	CreatedAt    string   `json:"createdAt"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		if r.ContentLength > s.maxUpload {
			s.writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm
	headers := formList(form.File, "files")
	descriptions := formList(form.Value, "descriptions")
	if len(headers) != len(descriptions) {
		s.writeError(w, http.StatusBadRequest, MsgCountMismatch)
		return
	}

	userID := strings.TrimSpace(r.FormValue("user_id"))
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	files := make([]ingest.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "failed to read uploaded file")
			return
		}
		defer f.Close()
		files = append(files, ingest.File{Name: fh.Filename, Content: f})
	}

	id, err := s.uploads.Handle(r.Context(), ingest.Request{
		Title:        r.FormValue("title"),
		AuthorID:     userID,
		Files:        files,
		Descriptions: descriptions,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrCountMismatch) {
			s.writeError(w, http.StatusBadRequest, MsgCountMismatch)
			return
		}
		s.logger.Error(r.Context(), "upload failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{UploadID: id})
}

// formList returns the values of key, also accepting the key[] spelling.
func formList[T any](m map[string][]T, key string) []T {
	if v := m[key]; len(v) > 0 {
		return v
	}
	return m[key+"[]"]
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid upload ID")
		return
	}

	b, err := s.queries.Batch(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrBatchNotFound) {
			s.writeError(w, http.StatusNotFound, "upload not found")
			return
		}
		s.logger.Error(r.Context(), "get upload error", "upload", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, batchToResponse(b))
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid post ID")
		return
	}

	p, err := s.queries.Post(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			s.writeError(w, http.StatusNotFound, "post not found")
			return
		}
		s.logger.Error(r.Context(), "get post error", "post", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, postToResponse(p))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func batchToResponse(b *domain.Batch) batchResponse {
	media := b.MediaInfo
	if media == nil {
		media = domain.MediaInfo{}
	}
	return batchResponse{
		ID:        b.ID,
		UserID:    b.UserID,
		MediaInfo: media,
		Valid:     b.Valid,
		Message:   b.Message,
		PostID:    b.PostID,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func postToResponse(p *domain.Post) postResponse {
	return postResponse{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		Title:        p.Title,
		Media:        nonNil(p.Media),
		Descriptions: nonNil(p.Descriptions),
		CreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
