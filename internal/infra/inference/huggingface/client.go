package huggingface

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	domain "github.com/bryanwahyu/medgemma-tb/internal/domain/inference"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/imaging"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/inference/prompt"
	"github.com/bryanwahyu/medgemma-tb/internal/metrics"
)

const (
	backendName = "huggingface"
	deployment  = "huggingface_api"

	DefaultModel   = "google/medgemma-4b-it"
	DefaultBaseURL = "https://api-inference.huggingface.co/models"

	maxResponseBytes = 8 << 20
)

// Options configures the client. Zero values take the documented defaults.
type Options struct {
	Token      string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger

	RequestTimeout    time.Duration // per attempt, default 120s
	ProbeTimeout      time.Duration // default 30s
	LoadingBackoff    time.Duration // wait after a "loading" 503, default 30s
	MaxLoadingRetries int           // per payload format, default 3
}

// Client talks to the Hugging Face serverless inference API. It tries several
// request body formats because multimodal endpoints disagree on the schema.
type Client struct {
	token    string
	model    string
	endpoint string
	http     *http.Client
	log      *slog.Logger

	requestTimeout    time.Duration
	probeTimeout      time.Duration
	loadingBackoff    time.Duration
	maxLoadingRetries int

	ready atomic.Bool
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 30 * time.Second
	}
	if opts.LoadingBackoff <= 0 {
		opts.LoadingBackoff = 30 * time.Second
	}
	if opts.MaxLoadingRetries <= 0 {
		opts.MaxLoadingRetries = 3
	}

	return &Client{
		token:             opts.Token,
		model:             opts.Model,
		endpoint:          strings.TrimRight(opts.BaseURL, "/") + "/" + opts.Model,
		http:              opts.HTTPClient,
		log:               opts.Logger.With("component", backendName),
		requestTimeout:    opts.RequestTimeout,
		probeTimeout:      opts.ProbeTimeout,
		loadingBackoff:    opts.LoadingBackoff,
		maxLoadingRetries: opts.MaxLoadingRetries,
		sleep:             sleepContext,
	}
}

// Initialize sends a tiny image to the endpoint. HTTP 200 and 503 (model
// warming up) both mark the client ready.
func (c *Client) Initialize(ctx context.Context) error {
	c.log.Info("probing inference endpoint", "endpoint", c.endpoint)

	png, err := imaging.EncodePNG(imaging.Probe())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	body, err := probePayload(base64.StdEncoding.EncodeToString(png), prompt.ProbePrompt)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	status, resp, err := c.post(ctx, c.probeTimeout, body)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	switch status {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		c.log.Info("model is loading on the inference service, this may take a few minutes")
	default:
		return fmt.Errorf("%w: probe status %d: %s", domain.ErrConnection, status, truncate(resp))
	}

	c.ready.Store(true)
	metrics.SetModelReady(true)
	c.log.Info("inference endpoint reachable", "status", status)
	return nil
}

// AnalyzeImage returns the model's free-text report for img.
func (c *Client) AnalyzeImage(ctx context.Context, img image.Image) (text string, err error) {
	if !c.ready.Load() {
		return "", domain.ErrNotReady
	}

	start := time.Now()
	defer func() { metrics.ObserveInference(backendName, time.Since(start).Seconds(), err) }()

	png, err := imaging.EncodePNG(img)
	if err != nil {
		return "", err
	}
	payloads, err := diagnosticPayloads(base64.StdEncoding.EncodeToString(png), prompt.Diagnostic())
	if err != nil {
		return "", err
	}
	return c.run(ctx, payloads)
}

// run walks the payload formats in order. Each attempt resolves to one step:
// return the text, wait and retry the same format, advance, or fail.
func (c *Client) run(ctx context.Context, payloads [][]byte) (string, error) {
	var lastErr error
	for i, payload := range payloads {
		shape := i + 1
		last := i == len(payloads)-1
		retries := 0

	attempts:
		for {
			c.log.Info("trying API format", "format", shape, "total", len(payloads))
			a := c.try(ctx, shape, payload)
			metrics.ObserveAttempt(backendName, shape, a.outcome.String())

			switch nextStep(a.outcome, retries, c.maxLoadingRetries, last) {
			case stepReturn:
				c.log.Info("report generated", "format", shape, "rule", a.rule)
				return a.text, nil

			case stepRetry:
				retries++
				metrics.ObserveLoadingRetry(backendName)
				c.log.Info("model is loading, retrying", "format", shape, "retry", retries, "wait", c.loadingBackoff)
				if err := c.sleep(ctx, c.loadingBackoff); err != nil {
					return "", err
				}

			case stepAdvance:
				if err := ctx.Err(); err != nil {
					return "", err
				}
				lastErr = a.errFor(shape, retries)
				c.log.Warn("format failed, trying next format", "format", shape, "error", lastErr)
				break attempts

			case stepFail:
				if err := ctx.Err(); err != nil {
					return "", err
				}
				err := a.errFor(shape, retries)
				c.log.Error("last format failed", "format", shape, "error", err)
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w: %w", domain.ErrAllFormatsExhausted, lastErr)
}

func (c *Client) try(ctx context.Context, shape int, payload []byte) attempt {
	status, body, err := c.post(ctx, c.requestTimeout, payload)
	if err != nil {
		if isTimeout(err) {
			c.log.Warn("format timed out", "format", shape, "timeout", c.requestTimeout)
		}
		return attempt{outcome: outcomeFailed, err: fmt.Errorf("format %d: %w", shape, err)}
	}

	switch {
	case status == http.StatusOK:
		text, rule := Normalize(body)
		if rule == RuleFallback {
			c.log.Warn("unexpected response format", "format", shape, "body", truncate(body))
		}
		return attempt{outcome: outcomeSuccess, text: text, rule: rule}
	case status == http.StatusServiceUnavailable && bytes.Contains(bytes.ToLower(body), []byte("loading")):
		return attempt{outcome: outcomeLoading}
	case status == http.StatusUnprocessableEntity:
		return attempt{outcome: outcomeRejected, err: &domain.StatusError{Shape: shape, StatusCode: status, Body: truncate(body)}}
	default:
		return attempt{outcome: outcomeFailed, err: &domain.StatusError{Shape: shape, StatusCode: status, Body: truncate(body)}}
	}
}

func (c *Client) post(ctx context.Context, timeout time.Duration, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// Status is safe to call concurrently.
func (c *Client) Status() domain.Status {
	return domain.Status{
		ModelName:          c.model,
		EndpointURL:        c.endpoint,
		Ready:              c.ready.Load(),
		SupportsMultimodal: true,
		MaxTokens:          maxNewTokens,
		Deployment:         deployment,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(b))
	if len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// isTimeout reports whether err came from the per-attempt deadline.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
