package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const writeSlack = 30 * time.Second

const (
	BackendHuggingFace = "huggingface"
	BackendOpenAI      = "openai"

	// MaxBatchFiles is the hard ceiling on files per batch request.
	MaxBatchFiles = 10
)

type Config struct {
	Server struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		CORSOrigins     []string      `yaml:"corsOrigins"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		WriteTimeout    time.Duration `yaml:"writeTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
		MaxUploadMB     int           `yaml:"maxUploadMB"`
		AnalysisTimeout time.Duration `yaml:"analysisTimeout"`

		// Enable only behind a reverse proxy that overwrites X-Forwarded-For / X-Real-IP.
		TrustProxyHeaders bool `yaml:"trustProxyHeaders"`
	} `yaml:"server"`

	Inference struct {
		Backend           string        `yaml:"backend"`
		Token             string        `yaml:"-"`
		Model             string        `yaml:"model"`
		BaseURL           string        `yaml:"baseURL"`
		RequestTimeout    time.Duration `yaml:"requestTimeout"`
		ProbeTimeout      time.Duration `yaml:"probeTimeout"`
		LoadingBackoff    time.Duration `yaml:"loadingBackoff"`
		MaxLoadingRetries int           `yaml:"maxLoadingRetries"`
		ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	} `yaml:"inference"`

	Analysis struct {
		KeywordsPath     string `yaml:"keywordsPath"`
		MaxBatch         int    `yaml:"maxBatch"`
		BatchConcurrency int    `yaml:"batchConcurrency"`
		ImageSize        int    `yaml:"imageSize"`
		MaxImagePixels   int    `yaml:"maxImagePixels"`
		Enhance          bool   `yaml:"enhance"`
	} `yaml:"analysis"`

	RateLimit struct {
		PerMinute int `yaml:"perMinute"`
		Burst     int `yaml:"burst"`
	} `yaml:"rateLimit"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	var c Config
	c.Server.Host = "0.0.0.0"
	c.Server.Port = 8000
	c.Server.CORSOrigins = []string{"http://localhost:3000"}
	c.Server.ReadTimeout = 30 * time.Second
	// deadline for one analysis request; WriteTimeout is derived from it when unset
	c.Server.AnalysisTimeout = 10 * time.Minute
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Server.MaxUploadMB = 10

	c.Inference.Backend = BackendHuggingFace
	c.Inference.RequestTimeout = 120 * time.Second
	c.Inference.ProbeTimeout = 30 * time.Second
	c.Inference.LoadingBackoff = 30 * time.Second
	c.Inference.MaxLoadingRetries = 3
	c.Inference.ReconnectInterval = 60 * time.Second

	c.Analysis.MaxBatch = 10
	c.Analysis.BatchConcurrency = 4
	c.Analysis.ImageSize = 512
	c.Analysis.MaxImagePixels = 40_000_000
	c.Analysis.Enhance = true

	c.RateLimit.PerMinute = 30
	c.RateLimit.Burst = 10

	c.Log.Level = "info"
	c.Log.Format = "text"
	return &c
}

// Load reads .env, then the optional YAML file at path, then environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = cfg.Server.AnalysisTimeout + writeSlack
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Inference.Token = os.Getenv("HUGGINGFACE_API_TOKEN")

	setString(&c.Server.Host, "API_HOST")
	setString(&c.Inference.Backend, "INFERENCE_BACKEND")
	setString(&c.Inference.Model, "INFERENCE_MODEL")
	setString(&c.Inference.BaseURL, "INFERENCE_BASE_URL")
	setString(&c.Analysis.KeywordsPath, "KEYWORDS_PATH")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	// PORT is what most platforms inject; API_PORT wins when both are set.
	for _, key := range []string{"PORT", "API_PORT"} {
		if err := setInt(&c.Server.Port, key); err != nil {
			return err
		}
	}
	if err := setInt(&c.Analysis.BatchConcurrency, "BATCH_CONCURRENCY"); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Inference.Backend {
	case BackendHuggingFace, BackendOpenAI:
	default:
		return fmt.Errorf("unknown inference backend %q", c.Inference.Backend)
	}

	positive := map[string]int{
		"server.maxUploadMB":          c.Server.MaxUploadMB,
		"analysis.maxBatch":           c.Analysis.MaxBatch,
		"analysis.batchConcurrency":   c.Analysis.BatchConcurrency,
		"analysis.imageSize":          c.Analysis.ImageSize,
		"analysis.maxImagePixels":     c.Analysis.MaxImagePixels,
		"rateLimit.perMinute":         c.RateLimit.PerMinute,
		"rateLimit.burst":             c.RateLimit.Burst,
		"inference.maxLoadingRetries": c.Inference.MaxLoadingRetries,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	if c.Analysis.MaxBatch > MaxBatchFiles {
		return fmt.Errorf("analysis.maxBatch %d exceeds the limit of %d", c.Analysis.MaxBatch, MaxBatchFiles)
	}
	if c.Server.AnalysisTimeout <= 0 {
		return fmt.Errorf("server.analysisTimeout must be positive, got %s", c.Server.AnalysisTimeout)
	}
	// the response must still be writable once the analysis deadline fires
	if c.Server.WriteTimeout <= c.Server.AnalysisTimeout {
		return fmt.Errorf("server.writeTimeout %s must exceed server.analysisTimeout %s",
			c.Server.WriteTimeout, c.Server.AnalysisTimeout)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// HasToken reports whether a remote API credential is configured.
func (c *Config) HasToken() bool {
	return c.Inference.Token != ""
}

// MaxUploadBytes is the per-file body cap.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
