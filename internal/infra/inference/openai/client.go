package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"

	domain "github.com/bryanwahyu/medgemma-tb/internal/domain/inference"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/imaging"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/inference/prompt"
	"github.com/bryanwahyu/medgemma-tb/internal/metrics"
)

const (
	backendName = "openai"
	deployment  = "openai_compatible"

	// DefaultBaseURL is the Hugging Face router, which speaks the OpenAI chat API.
	DefaultBaseURL = "https://router.huggingface.co/v1"
	DefaultModel   = "google/medgemma-4b-it"

	maxTokens      = 500
	probeMaxTokens = 10
	temperature    = 0.3
	topP           = 0.9
)

type Options struct {
	Token      string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger

	RequestTimeout    time.Duration
	ProbeTimeout      time.Duration
	LoadingBackoff    time.Duration
	MaxLoadingRetries int
}

// Client sends the X-ray as a base64 image part of a chat completion.
type Client struct {
	*openai.Client
	Model   string
	baseURL string
	log     *slog.Logger

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

	cfg := openai.DefaultConfig(opts.Token)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	return &Client{
		Client:            openai.NewClientWithConfig(cfg),
		Model:             opts.Model,
		baseURL:           cfg.BaseURL,
		log:               opts.Logger.With("component", backendName),
		requestTimeout:    opts.RequestTimeout,
		probeTimeout:      opts.ProbeTimeout,
		loadingBackoff:    opts.LoadingBackoff,
		maxLoadingRetries: opts.MaxLoadingRetries,
		sleep:             sleepContext,
	}
}

// Initialize accepts 200 and 503 (model warming up) as reachable.
func (c *Client) Initialize(ctx context.Context) error {
	c.log.Info("probing inference endpoint", "endpoint", c.baseURL, "model", c.Model)

	req, err := c.request(imaging.Probe(), prompt.ProbePrompt, probeMaxTokens)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	if _, err := c.CreateChatCompletion(ctx, req); err != nil {
		if statusOf(err) != http.StatusServiceUnavailable {
			return fmt.Errorf("%w: %w", domain.ErrConnection, err)
		}
		c.log.Info("model is loading on the inference service, this may take a few minutes")
	}

	c.ready.Store(true)
	metrics.SetModelReady(true)
	return nil
}

func (c *Client) AnalyzeImage(ctx context.Context, img image.Image) (text string, err error) {
	if !c.ready.Load() {
		return "", domain.ErrNotReady
	}

	start := time.Now()
	defer func() { metrics.ObserveInference(backendName, time.Since(start).Seconds(), err) }()

	req, err := c.request(img, prompt.GetUserPrompt(), maxTokens)
	if err != nil {
		return "", err
	}

	for retries := 0; ; retries++ {
		resp, err := c.complete(ctx, req)
		if err == nil {
			metrics.ObserveAttempt(backendName, 1, "success")
			if len(resp.Choices) == 0 {
				c.log.Warn("chat completion returned no choices", "id", resp.ID)
				return "", nil
			}
			return resp.Choices[0].Message.Content, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		status := statusOf(err)
		switch {
		case status == http.StatusServiceUnavailable && strings.Contains(strings.ToLower(err.Error()), "loading"):
			metrics.ObserveAttempt(backendName, 1, "loading")
			if retries >= c.maxLoadingRetries {
				return "", fmt.Errorf("%w after %d retries", domain.ErrTransientUnavailable, retries)
			}
			metrics.ObserveLoadingRetry(backendName)
			c.log.Info("model is loading, retrying", "retry", retries+1, "wait", c.loadingBackoff)
			if err := c.sleep(ctx, c.loadingBackoff); err != nil {
				return "", err
			}
		case status == http.StatusTooManyRequests:
			metrics.ObserveAttempt(backendName, 1, "failed")
			return "", fmt.Errorf("%w: %w", domain.ErrQuotaExceeded, err)
		default:
			metrics.ObserveAttempt(backendName, 1, "failed")
			return "", fmt.Errorf("failed to create chat completion: %w", err)
		}
	}
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return c.CreateChatCompletion(ctx, req)
}

func (c *Client) request(img image.Image, userText string, tokens int) (openai.ChatCompletionRequest, error) {
	png, err := imaging.EncodePNG(img)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: userText},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			}},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens and default sampling
	if isReasoningModel(c.Model) {
		req.MaxCompletionTokens = tokens
	} else {
		req.MaxTokens = tokens
		req.Temperature = temperature
		req.TopP = topP
	}
	return req, nil
}

func (c *Client) Status() domain.Status {
	return domain.Status{
		ModelName:          c.Model,
		EndpointURL:        c.baseURL + "/chat/completions",
		Ready:              c.ready.Load(),
		SupportsMultimodal: true,
		MaxTokens:          maxTokens,
		Deployment:         deployment,
	}
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// statusOf extracts the HTTP status from go-openai errors, 0 when absent.
func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
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
