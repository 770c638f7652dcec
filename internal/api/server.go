package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/apkfetch/internal/config"
	"github.com/JakeFAU/apkfetch/internal/dispatcher"
	"github.com/JakeFAU/apkfetch/internal/downloader"
	idgen "github.com/JakeFAU/apkfetch/internal/id/uuid"
	"github.com/JakeFAU/apkfetch/internal/jobs"
	"github.com/JakeFAU/apkfetch/internal/logging"
	"github.com/JakeFAU/apkfetch/internal/metrics"
)

const maxPackageLength = 255

// packagePattern accepts dot-delimited identifiers such as com.example.app.
var packagePattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// DownloadDir is the archive directory the file route serves from.
type DownloadDir interface {
	Check() error
	Contains(path string) (string, bool)
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobStore   jobs.JobStore
	dispatcher *dispatcher.Dispatcher
	idGen      jobs.IDGenerator
	clock      jobs.Clock
	downloads  DownloadDir
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore jobs.JobStore,
	dispatcher *dispatcher.Dispatcher,
	idGen jobs.IDGenerator,
	clock jobs.Clock,
	downloads DownloadDir,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		downloads:  downloads,
		cfg:        cfg,
		logger:     logging.OrNop(logger).Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/downloads", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.With(timeoutMiddleware(30*time.Second)).Post("/", s.submitDownload)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Use(validJobID)
			r.With(timeoutMiddleware(30*time.Second)).Get("/", s.getJob)
			// Archives can be large; the file route streams without a deadline.
			r.Get("/file", s.getJobFile)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.downloads != nil {
		if err := s.downloads.Check(); err != nil {
			s.logger.Warn("download directory not ready", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type downloadRequest struct {
	Package string `json:"package"`
}

func (s *Server) submitDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pkg, err := validatePackage(req.Package)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), pkg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobFile(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusSucceeded || job.Result == nil || !job.Result.Success {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}
	if s.downloads == nil {
		s.writeError(w, http.StatusNotFound, "archive not available")
		return
	}
	path, ok := s.downloads.Contains(job.Result.FilePath)
	if !ok {
		s.writeError(w, http.StatusGone, "archive no longer on disk")
		return
	}
	f, err := os.Open(path) // #nosec G304 -- path is confined to the download directory.
	if err != nil {
		s.writeError(w, http.StatusGone, "archive no longer on disk")
		return
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Debug("close archive", zap.Error(cerr))
		}
	}()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stat archive")
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", "application/vnd.android.package-archive")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
		} else {
			s.writeError(w, http.StatusInternalServerError, "failed to load job")
		}
		return jobs.Job{}, false
	}
	return job, true
}

func (s *Server) enqueueJob(ctx context.Context, pkg string) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := jobs.Job{
		ID:        jobID,
		Package:   pkg,
		Status:    jobs.StatusQueued,
		Submitted: s.clock.Now(),
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.dispatcher.Enqueue(queueCtx, jobs.QueueItem{JobID: jobID, Package: pkg}); err != nil {
		err = fmt.Errorf("enqueue job: %w", err)
		s.abandonJob(ctx, jobID, err)
		return "", err
	}
	metrics.ObserveJob(string(jobs.StatusQueued))
	s.logger.Info("job queued", zap.String("job_id", jobID), zap.String("package", pkg))
	return jobID, nil
}

// abandonJob marks a created job failed so it never lingers as queued.
func (s *Server) abandonJob(ctx context.Context, jobID string, cause error) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	res := &downloader.Result{Error: cause.Error(), Kind: downloader.KindUnexpected}
	if err := s.jobStore.FinishJob(finishCtx, jobID, jobs.StatusFailed, res); err != nil {
		s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(jobs.StatusFailed))
}

func validatePackage(raw string) (string, error) {
	pkg := strings.TrimSpace(raw)
	switch {
	case pkg == "":
		return "", errors.New("package required")
	case len(pkg) > maxPackageLength:
		return "", errors.New("package too long")
	case !packagePattern.MatchString(pkg):
		return "", errors.New("invalid package name")
	}
	return pkg, nil
}

func validJobID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !idgen.Valid(chi.URLParam(r, "job_id")) {
			writeJSON(nil, w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.Stack("stack"))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(nil, w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.OrNop(logger).Error("write JSON failed", zap.Error(err))
	}
}
