package xray

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/medgemma-tb/internal/application"
	"github.com/bryanwahyu/medgemma-tb/internal/domain/inference"
	"github.com/bryanwahyu/medgemma-tb/internal/domain/tb"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/imaging"
	"github.com/bryanwahyu/medgemma-tb/internal/metrics"
)

const (
	DefaultMaxBatch    = 10
	DefaultConcurrency = 4
)

// Preparer turns raw upload bytes into the canonical model input.
type Preparer interface {
	Prepare(data []byte) (*imaging.Prepared, error)
}

// Analyzer scores a free-text report.
type Analyzer interface {
	Analyze(report string) tb.RiskAssessment
}

// Service implements the X-ray screening use-cases.
// It keeps no per-request state and is safe for concurrent use.
type Service struct {
	Client   inference.Client
	Images   Preparer
	Analyzer Analyzer
	Clock    application.Clock
	Log      *slog.Logger

	MaxBatch    int
	Concurrency int
	HasToken    bool
}

// Upload is one file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Result is a completed analysis of one upload.
type Result struct {
	ID         string
	Filename   string
	AnalyzedAt time.Time
	Image      imaging.Info
	RawReport  string
	Assessment tb.RiskAssessment
}

// BatchItem is the independent outcome of one file in a batch.
type BatchItem struct {
	Filename string
	Result   *Result
	Err      error
}

// Health summarizes connectivity for the health endpoint.
type Health struct {
	Connected bool
	HasToken  bool
	Model     inference.Status
}

// Analyze screens a single upload.
func (s *Service) Analyze(ctx context.Context, u Upload) (*Result, error) {
	if !s.Client.Status().Ready {
		return nil, inference.ErrNotReady
	}
	return s.analyze(ctx, u)
}

// AnalyzeBatch screens up to MaxBatch uploads on a bounded worker pool.
// A failing item never aborts its siblings; items come back in input order.
func (s *Service) AnalyzeBatch(ctx context.Context, uploads []Upload) ([]BatchItem, error) {
	if !s.Client.Status().Ready {
		return nil, inference.ErrNotReady
	}
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}
	if max := s.maxBatch(); len(uploads) > max {
		return nil, fmt.Errorf("%w: got %d, maximum %d", ErrTooManyFiles, len(uploads), max)
	}

	items := make([]BatchItem, len(uploads))
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, u := range uploads {
		i, u := i, u
		g.Go(func() error {
			res, err := s.analyze(ctx, u)
			if err != nil {
				s.logger().Warn("batch item failed", "index", i, "filename", u.Filename, "error", err)
			}
			items[i] = BatchItem{Filename: u.Filename, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return items, nil
}

func (s *Service) analyze(ctx context.Context, u Upload) (*Result, error) {
	if !strings.HasPrefix(u.ContentType, "image/") {
		return nil, ErrNotImage
	}

	prepared, err := s.Images.Prepare(u.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	report, err := s.Client.AnalyzeImage(ctx, prepared.Image)
	if err != nil {
		return nil, err
	}

	assessment := s.Analyzer.Analyze(report)
	metrics.ObserveAssessment(string(assessment.RiskLevel))
	s.logger().Info("image analyzed",
		"filename", u.Filename,
		"risk_level", assessment.RiskLevel,
		"risk_score", assessment.RiskScore,
		"findings", len(assessment.Findings),
	)

	return &Result{
		ID:         uuid.NewString(),
		Filename:   u.Filename,
		AnalyzedAt: s.now(),
		Image:      prepared.Source,
		RawReport:  report,
		Assessment: assessment,
	}, nil
}

// Health is side-effect free.
func (s *Service) Health() Health {
	st := s.Client.Status()
	return Health{
		Connected: st.Ready,
		HasToken:  s.HasToken,
		Model:     st,
	}
}

// WatchConnection probes the inference endpoint until it succeeds, waiting
// retryEvery between failures. A non-positive interval probes once.
func (s *Service) WatchConnection(ctx context.Context, retryEvery time.Duration) {
	for {
		err := s.Client.Initialize(ctx)
		if err == nil {
			s.logger().Info("inference connection established")
			return
		}
		s.logger().Error("failed to establish inference connection", "error", err)
		if !s.HasToken {
			s.logger().Warn("HUGGINGFACE_API_TOKEN is not set")
		}
		if retryEvery <= 0 {
			return
		}

		t := time.NewTimer(retryEvery)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Service) maxBatch() int {
	if s.MaxBatch > 0 {
		return s.MaxBatch
	}
	return DefaultMaxBatch
}

func (s *Service) concurrency() int {
	n := s.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	return min(n, s.maxBatch())
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
