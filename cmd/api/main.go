package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanwahyu/medgemma-tb/internal/application"
	"github.com/bryanwahyu/medgemma-tb/internal/application/xray"
	"github.com/bryanwahyu/medgemma-tb/internal/config"
	"github.com/bryanwahyu/medgemma-tb/internal/domain/inference"
	"github.com/bryanwahyu/medgemma-tb/internal/domain/tb"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/httpserver"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/imaging"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/inference/huggingface"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/inference/openai"
	"github.com/bryanwahyu/medgemma-tb/internal/logging"
	"github.com/bryanwahyu/medgemma-tb/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)

	table, err := loadKeywords(cfg.Analysis.KeywordsPath)
	if err != nil {
		logger.Error("keyword table load error", "path", cfg.Analysis.KeywordsPath, "error", err)
		os.Exit(1)
	}

	client := newInferenceClient(cfg, logger)

	imgOpts := imaging.DefaultOptions()
	imgOpts.Size = cfg.Analysis.ImageSize
	imgOpts.Enhance = cfg.Analysis.Enhance
	imgOpts.MaxPixels = cfg.Analysis.MaxImagePixels

	svc := &xray.Service{
		Client:      client,
		Images:      imaging.NewProcessor(imgOpts),
		Analyzer:    tb.NewAnalyzer(table),
		Clock:       application.SystemClock{},
		Log:         logger,
		MaxBatch:    cfg.Analysis.MaxBatch,
		Concurrency: cfg.Analysis.BatchConcurrency,
		HasToken:    cfg.HasToken(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.HasToken() {
		logger.Warn("HUGGINGFACE_API_TOKEN is not set, remote calls will likely be rejected")
	}
	// the server starts even when the model endpoint is unreachable
	go svc.WatchConnection(ctx, cfg.Inference.ReconnectInterval)

	handler := httpserver.NewRouter(svc, httpserver.Options{
		CORSOrigins:       cfg.Server.CORSOrigins,
		MaxUploadBytes:    cfg.MaxUploadBytes(),
		MaxBatch:          cfg.Analysis.MaxBatch,
		AnalysisTimeout:   cfg.Server.AnalysisTimeout,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		RateLimiter:       middleware.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		Logger:            logger,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * 2,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr, "backend", cfg.Inference.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func newInferenceClient(cfg *config.Config, logger *slog.Logger) inference.Client {
	in := cfg.Inference
	if in.Backend == config.BackendOpenAI {
		return openai.NewClient(openai.Options{
			Token:             in.Token,
			Model:             in.Model,
			BaseURL:           in.BaseURL,
			Logger:            logger,
			RequestTimeout:    in.RequestTimeout,
			ProbeTimeout:      in.ProbeTimeout,
			LoadingBackoff:    in.LoadingBackoff,
			MaxLoadingRetries: in.MaxLoadingRetries,
		})
	}
	return huggingface.NewClient(huggingface.Options{
		Token:             in.Token,
		Model:             in.Model,
		BaseURL:           in.BaseURL,
		Logger:            logger,
		RequestTimeout:    in.RequestTimeout,
		ProbeTimeout:      in.ProbeTimeout,
		LoadingBackoff:    in.LoadingBackoff,
		MaxLoadingRetries: in.MaxLoadingRetries,
	})
}

func loadKeywords(path string) (*tb.KeywordTable, error) {
	if path == "" {
		return tb.DefaultTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tb.LoadTable(f)
}
