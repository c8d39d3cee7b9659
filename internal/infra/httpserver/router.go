package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bryanwahyu/medgemma-tb/internal/application/xray"
	"github.com/bryanwahyu/medgemma-tb/internal/domain/inference"
	"github.com/bryanwahyu/medgemma-tb/internal/domain/tb"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/imaging"
	"github.com/bryanwahyu/medgemma-tb/internal/middleware"
)

const (
	disclaimer      = "This analysis is for research purposes only and should not be used for medical diagnosis."
	batchDisclaimer = "These analyses are for research purposes only and should not be used for medical diagnosis."
	notReadyDetail  = "API connection not established. Please check HUGGINGFACE_API_TOKEN environment variable."

	// multipart framing on top of the file bytes
	formOverhead = 1 << 20
	formMemory   = 32 << 20
)

var (
	errBadRequest   = errors.New("bad request")
	errFileTooLarge = errors.New("file too large")
)

type Options struct {
	CORSOrigins     []string
	MaxUploadBytes  int64
	MaxBatch        int
	AnalysisTimeout time.Duration
	RateLimiter     *middleware.RateLimiter
	Logger          *slog.Logger

	// Only set behind a proxy that overwrites X-Forwarded-For and X-Real-IP;
	// otherwise clients could pick their own rate limit key.
	TrustProxyHeaders bool
}

type Router struct {
	svc  *xray.Service
	opts Options
	log  *slog.Logger
}

func NewRouter(svc *xray.Service, opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = xray.DefaultMaxBatch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Router{svc: svc, opts: opts, log: opts.Logger}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		mux.Use(chimw.RealIP)
	}
	mux.Use(
		middleware.AccessLog(r.log),
		middleware.MetricsMiddleware,
		chimw.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)

	mux.Get("/", r.wrap(r.handleRoot))
	mux.Get("/health", middleware.HealthHandler(svc))
	mux.Handle("/metrics", middleware.MetricsHandler())

	mux.Group(func(rt chi.Router) {
		if opts.RateLimiter != nil {
			rt.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
		}
		rt.Use(middleware.Deadline(opts.AnalysisTimeout))
		rt.With(middleware.LimitBody(opts.MaxUploadBytes+formOverhead)).
			Post("/analyze", r.wrap(r.handleAnalyze))
		rt.With(middleware.LimitBody(opts.MaxUploadBytes*int64(opts.MaxBatch)+formOverhead)).
			Post("/batch-analyze", r.wrap(r.handleBatchAnalyze))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status, detail := r.classify(err)
			if errors.Is(req.Context().Err(), context.DeadlineExceeded) {
				status, detail = http.StatusGatewayTimeout, "Analysis timed out"
			}
			if status >= http.StatusInternalServerError {
				r.log.Error("request failed",
					"path", req.URL.Path,
					"request_id", middleware.GetRequestID(req.Context()),
					"error", err,
				)
			}
			writeJSON(w, status, map[string]string{"detail": detail})
		}
	}
}

func (r *Router) classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large, maximum %d MB per file", r.opts.MaxUploadBytes>>20)
	case errors.Is(err, inference.ErrNotReady):
		return http.StatusServiceUnavailable, notReadyDetail
	case errors.Is(err, xray.ErrTooManyFiles):
		return http.StatusBadRequest, fmt.Sprintf("Maximum %d files allowed", r.opts.MaxBatch)
	case errors.Is(err, xray.ErrNotImage), errors.Is(err, xray.ErrNoFiles), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, itemDetail(err)
	case errors.Is(err, inference.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "inference quota exceeded, please try again later"
	default:
		return http.StatusInternalServerError, "Analysis failed: " + err.Error()
	}
}

// itemDetail is the client facing message for a per-file failure.
func itemDetail(err error) string {
	switch {
	case errors.Is(err, xray.ErrNotImage):
		return "File must be an image"
	case errors.Is(err, xray.ErrNoFiles):
		return "No files provided"
	default:
		return err.Error()
	}
}

type analysisBody struct {
	RawReport      string            `json:"raw_report"`
	TBAnalysis     tb.RiskAssessment `json:"tb_analysis"`
	Confidence     float64           `json:"confidence"`
	Findings       []tb.Finding      `json:"findings"`
	Recommendation string            `json:"recommendation"`
}

type analyzeResponse struct {
	Success    bool         `json:"success"`
	Filename   string       `json:"filename"`
	AnalysisID string       `json:"analysis_id"`
	AnalyzedAt time.Time    `json:"analyzed_at"`
	Image      imaging.Info `json:"image"`
	Analysis   analysisBody `json:"analysis"`
	Disclaimer string       `json:"disclaimer"`
}

type batchAnalysisBody struct {
	RawReport  string            `json:"raw_report"`
	TBAnalysis tb.RiskAssessment `json:"tb_analysis"`
	Confidence float64           `json:"confidence"`
}

type batchItem struct {
	Filename   string             `json:"filename"`
	Success    bool               `json:"success"`
	AnalysisID string             `json:"analysis_id,omitempty"`
	Analysis   *batchAnalysisBody `json:"analysis,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type batchResponse struct {
	Success        bool        `json:"success"`
	Results        []batchItem `json:"results"`
	TotalProcessed int         `json:"total_processed"`
	Disclaimer     string      `json:"disclaimer"`
}

// GET /
func (r *Router) handleRoot(w http.ResponseWriter, _ *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]string{
		"message": "TB Detector API",
		"status":  "running",
	})
}

// POST /analyze
// Multipart form with one image in field "file".
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseMultipartForm(formMemory); err != nil {
		return formError(err)
	}
	defer req.MultipartForm.RemoveAll()

	headers := req.MultipartForm.File["file"]
	if len(headers) == 0 {
		return fmt.Errorf("%w: form field \"file\" is required", errBadRequest)
	}
	upload, err := r.readUpload(headers[0])
	if err != nil {
		return err
	}

	res, err := r.svc.Analyze(req.Context(), upload)
	if err != nil {
		return err
	}

	a := res.Assessment
	return writeJSON(w, http.StatusOK, analyzeResponse{
		Success:    true,
		Filename:   res.Filename,
		AnalysisID: res.ID,
		AnalyzedAt: res.AnalyzedAt,
		Image:      res.Image,
		Analysis: analysisBody{
			RawReport:      res.RawReport,
			TBAnalysis:     a,
			Confidence:     a.Confidence,
			Findings:       a.Findings,
			Recommendation: a.Recommendation,
		},
		Disclaimer: disclaimer,
	})
}

// POST /batch-analyze
// Multipart form with up to MaxBatch images in field "files".
func (r *Router) handleBatchAnalyze(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseMultipartForm(formMemory); err != nil {
		return formError(err)
	}
	defer req.MultipartForm.RemoveAll()

	headers := req.MultipartForm.File["files"]
	if len(headers) > r.opts.MaxBatch {
		return xray.ErrTooManyFiles
	}
	uploads := make([]xray.Upload, 0, len(headers))
	for _, fh := range headers {
		u, err := r.readUpload(fh)
		if err != nil {
			return err
		}
		uploads = append(uploads, u)
	}

	items, err := r.svc.AnalyzeBatch(req.Context(), uploads)
	if err != nil {
		return err
	}

	results := make([]batchItem, len(items))
	for i, it := range items {
		if it.Err != nil {
			results[i] = batchItem{Filename: it.Filename, Error: itemDetail(it.Err)}
			continue
		}
		results[i] = batchItem{
			Filename:   it.Filename,
			Success:    true,
			AnalysisID: it.Result.ID,
			Analysis: &batchAnalysisBody{
				RawReport:  it.Result.RawReport,
				TBAnalysis: it.Result.Assessment,
				Confidence: it.Result.Assessment.Confidence,
			},
		}
	}

	return writeJSON(w, http.StatusOK, batchResponse{
		Success:        true,
		Results:        results,
		TotalProcessed: len(results),
		Disclaimer:     batchDisclaimer,
	})
}

func (r *Router) readUpload(fh *multipart.FileHeader) (xray.Upload, error) {
	if fh.Size > r.opts.MaxUploadBytes {
		return xray.Upload{}, fmt.Errorf("%w: %s", errFileTooLarge, fh.Filename)
	}
	f, err := fh.Open()
	if err != nil {
		return xray.Upload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return xray.Upload{}, err
	}
	return xray.Upload{
		Filename:    middleware.SanitizeFilename(fh.Filename),
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fmt.Errorf("%w: invalid multipart form: %w", errBadRequest, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
