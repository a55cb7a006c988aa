package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pdfbaba/pdfbaba/internal/artifact"
	"github.com/pdfbaba/pdfbaba/internal/lifecycle"
	"github.com/pdfbaba/pdfbaba/internal/log"
	"github.com/pdfbaba/pdfbaba/internal/model"
	"github.com/pdfbaba/pdfbaba/internal/store"
)

const (
	downloadPath = "/api/tools/download/"
	// multipart parts above this size are spooled to temporary files
	maxMemory = 32 << 20
)

// Options are the HTTP limits of a Server.
type Options struct {
	Retention      time.Duration
	MaxUpload      int64
	RequestTimeout time.Duration
}

// Server is the HTTP surface around a lifecycle.Pipeline.
type Server struct {
	pipeline *lifecycle.Pipeline
	registry store.Registry
	opts     Options
	now      func() time.Time
}

func NewServer(pipeline *lifecycle.Pipeline, registry store.Registry, opts Options) *Server {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = model.DefaultMaxUpload
	}
	if opts.Retention <= 0 {
		opts.Retention = model.DefaultRetentionWindow
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = model.DefaultRequestTimeout
	}
	return &Server{
		pipeline: pipeline,
		registry: registry,
		opts:     opts,
		now:      time.Now,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(s.opts.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "healthy", "service": "pdfbaba"})
	})
	r.Get("/ready", s.ready)

	r.Route("/api/tools", func(r chi.Router) {
		r.Get("/download/{id}", s.download)
		r.Post("/{operation}", s.tool)
	})
	return r
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	msg, err := s.pipeline.Supervisor().Probe(r.Context(), s.pipeline.Command())
	if err != nil {
		slog.WarnContext(r.Context(), "engine is not ready", "error", err)
		writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ready", "message": msg})
}

// tool handles POST /api/tools/{operation}.
func (s *Server) tool(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "operation")
	id, err := lifecycle.NewID()
	if err != nil {
		writeError(r.Context(), w, "", op, err)
		return
	}
	ctx := log.RequestAttrs(r.Context(), id, op)
	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		ctx = log.ContextAttrs(ctx, slog.String("http_request_id", reqID))
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(ctx, w, http.StatusRequestEntityTooLarge, model.Outcome{
				RequestID: id,
				Operation: op,
				Error:     fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		writeError(ctx, w, id, op, model.NewError(model.ErrNoFiles, "expected a multipart form").Wrap(err))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	inputs, err := s.saveUploads(id, r.MultipartForm.File["files"])
	if err != nil {
		_ = os.RemoveAll(s.pipeline.WorkDir(id))
		writeError(ctx, w, id, op, err)
		return
	}

	options := r.FormValue("options")
	if options == "" {
		options = r.FormValue("properties")
	}
	options, err = foldOrder(options, r.FormValue("order"))
	if err != nil {
		_ = os.RemoveAll(s.pipeline.WorkDir(id))
		writeError(ctx, w, id, op, err)
		return
	}

	job, err := s.pipeline.Run(ctx, lifecycle.Request{
		ID:        id,
		Operation: op,
		Inputs:    inputs,
		Options:   []byte(options),
	})
	if err != nil {
		writeError(ctx, w, id, op, err)
		return
	}
	if job.Artifact == nil {
		writeJSON(ctx, w, http.StatusOK, job.Outcome(""))
		return
	}

	a, err := job.Detach(ctx, s.opts.Retention)
	if err != nil {
		job.Close(ctx)
		writeError(ctx, w, id, op, err)
		return
	}
	if err := s.registry.Put(ctx, a); err != nil {
		if rerr := artifact.Remove(a); rerr != nil {
			slog.WarnContext(ctx, "removing unregistered artifact has failed", "path", a.Path, "error", rerr)
		}
		writeError(ctx, w, id, op, fmt.Errorf("registering artifact: %w", err))
		return
	}
	writeJSON(ctx, w, http.StatusOK, job.Outcome(downloadPath+a.ID))
}

// foldOrder moves a separately posted merge order into the options object.
// Options that are not an object are returned unchanged, validation reports
// them.
func foldOrder(options, order string) (string, error) {
	if strings.TrimSpace(order) == "" {
		return options, nil
	}
	if !json.Valid([]byte(order)) {
		return "", model.NewError(model.ErrInvalidOption, "order is not valid JSON")
	}
	fields := map[string]json.RawMessage{}
	if strings.TrimSpace(options) != "" {
		if err := json.Unmarshal([]byte(options), &fields); err != nil || fields == nil {
			return options, nil
		}
	}
	fields["order"] = json.RawMessage(order)
	b, err := json.Marshal(fields)
	if err != nil {
		return "", model.NewError(model.ErrInvalidOption, "encoding options").Wrap(err)
	}
	return string(b), nil
}

// saveUploads persists the uploaded parts under the request work directory.
func (s *Server) saveUploads(id string, headers []*multipart.FileHeader) ([]model.InputFile, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	dir := filepath.Join(s.pipeline.WorkDir(id), "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	inputs := make([]model.InputFile, 0, len(headers))
	for i, fh := range headers {
		name := artifact.DisplayName(model.Artifact{Name: "upload"}, fh.Filename)
		path := filepath.Join(dir, strconv.Itoa(i)+"-"+name)
		n, err := saveUpload(fh, path)
		if err != nil {
			return nil, fmt.Errorf("saving upload %s: %w", name, err)
		}
		inputs = append(inputs, model.InputFile{Path: path, OriginalName: fh.Filename, Size: n})
	}
	return inputs, nil
}

func saveUpload(fh *multipart.FileHeader, path string) (int64, error) {
	src, err := fh.Open()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = src.Close()
	}()
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// download handles GET /api/tools/download/{id}?name=.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := log.ContextAttrs(r.Context(), slog.String("artifact_id", id))

	a, err := s.registry.Claim(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(ctx, w, http.StatusNotFound, model.Outcome{RequestID: id, Error: "file not found or expired"})
		return
	}
	if err != nil {
		writeError(ctx, w, id, "", fmt.Errorf("claiming artifact: %w", err))
		return
	}
	if !a.ExpiresAt.IsZero() && !s.now().Before(a.ExpiresAt) {
		s.remove(ctx, a)
		writeJSON(ctx, w, http.StatusNotFound, model.Outcome{RequestID: id, Error: "file not found or expired"})
		return
	}

	rc, name, err := artifact.Open(a, r.URL.Query().Get("name"))
	if err != nil {
		writeJSON(ctx, w, http.StatusNotFound, model.Outcome{RequestID: id, Error: "file not found or expired"})
		return
	}
	defer func() {
		_ = rc.Close()
	}()

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, rc)
	if err != nil {
		// the client may retry until the artifact expires
		slog.WarnContext(ctx, "download interrupted", "bytes", n, "error", err)
		if perr := s.registry.Put(context.WithoutCancel(ctx), a); perr != nil {
			slog.ErrorContext(ctx, "re-registering artifact has failed", "error", perr)
			s.remove(ctx, a)
		}
		return
	}
	_ = rc.Close()
	s.remove(ctx, a)
	slog.InfoContext(ctx, "artifact downloaded", "name", name, "bytes", n)
}

func (s *Server) remove(ctx context.Context, a model.Artifact) {
	if err := artifact.Remove(a); err != nil {
		slog.WarnContext(ctx, "removing artifact has failed", "path", a.Path, "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, id, op string, err error) {
	status := http.StatusInternalServerError
	if pe, ok := model.AsError(err); ok {
		status = pe.HTTPStatus()
	}
	out := model.OutcomeFromError(id, model.Operation(op), err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "status", status, "error", err)
	}
	writeJSON(ctx, w, status, out)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.DebugContext(ctx, "writing response has failed", "error", err)
	}
}
