package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	BackendEcho   = "echo"
	BackendTGI    = "tgi"
	BackendOpenAI = "openai"
)

type Config struct {
	Server    HTTPServerConfig
	Generator GeneratorConfig
	Inference InferenceConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Telemetry TelemetryConfig
}

type HTTPServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// GeneratorConfig selects and configures the text-generation backend.
type GeneratorConfig struct {
	Backend     string
	Model       string
	BaseURL     string
	APIKey      string
	EchoSuffix  string
	Timeout     time.Duration // per HTTP call to the backend
	LoadTimeout time.Duration // readiness gate budget
}

type InferenceConfig struct {
	MaxAllowedLength int           // 0 disables the ceiling
	MaxConcurrent    int           // concurrent generator calls
	Timeout          time.Duration // 0 means no per-call deadline
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level      string
	Format     string // json|text
	File       string // optional rotating file, in addition to stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type MetricsConfig struct {
	// Addr starts a dedicated metrics listener when set; /metrics is always
	// served on the main router as well.
	Addr string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
}

// Default returns the configuration used when no file or env override is set.
func Default() *Config {
	return &Config{
		Server: HTTPServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Generator: GeneratorConfig{
			Backend:     BackendEcho,
			Model:       "distilgpt2",
			EchoSuffix:  " END",
			Timeout:     2 * time.Minute,
			LoadTimeout: 10 * time.Minute,
		},
		Inference: InferenceConfig{
			MaxAllowedLength: 1024,
			MaxConcurrent:    1,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "textgen",
		},
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server max_body_bytes must be positive"))
	}

	switch c.Generator.Backend {
	case BackendEcho:
	case BackendTGI:
		if c.Generator.BaseURL == "" {
			errs = append(errs, errors.New("generator base_url is required for the tgi backend"))
		}
	case BackendOpenAI:
		if c.Generator.APIKey == "" {
			errs = append(errs, errors.New("generator api_key is required for the openai backend"))
		}
		if c.Generator.Model == "" {
			errs = append(errs, errors.New("generator model is required for the openai backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown generator backend %q", c.Generator.Backend))
	}
	if c.Generator.LoadTimeout <= 0 {
		errs = append(errs, errors.New("generator load_timeout must be positive"))
	}

	if c.Inference.MaxAllowedLength < 0 {
		errs = append(errs, errors.New("inference max_allowed_length must not be negative"))
	}
	if c.Inference.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("inference max_concurrent must be positive"))
	}
	if c.Inference.Timeout < 0 {
		errs = append(errs, errors.New("inference timeout must not be negative"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit requires positive requests_per_second and burst"))
	}

	return errors.Join(errs...)
}
