package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// fileConfig mirrors Config in HCL. Every attribute is optional and only
// attributes present in the file override defaults.
type fileConfig struct {
	Server    *serverBlock    `hcl:"server,block"`
	Generator *generatorBlock `hcl:"generator,block"`
	Inference *inferenceBlock `hcl:"inference,block"`
	RateLimit *rateLimitBlock `hcl:"rate_limit,block"`
	CORS      *corsBlock      `hcl:"cors,block"`
	Log       *logBlock       `hcl:"log,block"`
	Metrics   *metricsBlock   `hcl:"metrics,block"`
	Telemetry *telemetryBlock `hcl:"telemetry,block"`
}

type serverBlock struct {
	Host            *string `hcl:"host,optional"`
	Port            *int    `hcl:"port,optional"`
	ReadTimeout     *string `hcl:"read_timeout,optional"`
	WriteTimeout    *string `hcl:"write_timeout,optional"`
	ShutdownTimeout *string `hcl:"shutdown_timeout,optional"`
	MaxBodyBytes    *int64  `hcl:"max_body_bytes,optional"`
}

type generatorBlock struct {
	Backend     *string `hcl:"backend,optional"`
	Model       *string `hcl:"model,optional"`
	BaseURL     *string `hcl:"base_url,optional"`
	APIKey      *string `hcl:"api_key,optional"`
	EchoSuffix  *string `hcl:"echo_suffix,optional"`
	Timeout     *string `hcl:"timeout,optional"`
	LoadTimeout *string `hcl:"load_timeout,optional"`
}

type inferenceBlock struct {
	MaxAllowedLength *int    `hcl:"max_allowed_length,optional"`
	MaxConcurrent    *int    `hcl:"max_concurrent,optional"`
	Timeout          *string `hcl:"timeout,optional"`
}

type rateLimitBlock struct {
	Enabled           *bool    `hcl:"enabled,optional"`
	RequestsPerSecond *float64 `hcl:"requests_per_second,optional"`
	Burst             *int     `hcl:"burst,optional"`
}

type corsBlock struct {
	AllowedOrigins []string `hcl:"allowed_origins,optional"`
}

type logBlock struct {
	Level      *string `hcl:"level,optional"`
	Format     *string `hcl:"format,optional"`
	File       *string `hcl:"file,optional"`
	MaxSizeMB  *int    `hcl:"max_size_mb,optional"`
	MaxBackups *int    `hcl:"max_backups,optional"`
	MaxAgeDays *int    `hcl:"max_age_days,optional"`
}

type metricsBlock struct {
	Addr *string `hcl:"addr,optional"`
}

type telemetryBlock struct {
	Enabled      *bool   `hcl:"enabled,optional"`
	ServiceName  *string `hcl:"service_name,optional"`
	OTLPEndpoint *string `hcl:"otlp_endpoint,optional"`
}

// Load builds the configuration from defaults, an optional HCL file at path
// and environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		var fc fileConfig
		if err := hclsimple.DecodeFile(path, nil, &fc); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
		if err := fc.apply(cfg); err != nil {
			return nil, fmt.Errorf("apply config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes HCL source held in memory. filename must end in .hcl or .json.
func Parse(filename string, src []byte) (*Config, error) {
	cfg := Default()

	var fc fileConfig
	if err := hclsimple.Decode(filename, src, nil, &fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	if s := fc.Server; s != nil {
		setString(&cfg.Server.Host, s.Host)
		setInt(&cfg.Server.Port, s.Port)
		if s.MaxBodyBytes != nil {
			cfg.Server.MaxBodyBytes = *s.MaxBodyBytes
		}
		if err := setDuration(&cfg.Server.ReadTimeout, s.ReadTimeout, "server.read_timeout"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Server.WriteTimeout, s.WriteTimeout, "server.write_timeout"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Server.ShutdownTimeout, s.ShutdownTimeout, "server.shutdown_timeout"); err != nil {
			return err
		}
	}

	if g := fc.Generator; g != nil {
		setString(&cfg.Generator.Backend, g.Backend)
		setString(&cfg.Generator.Model, g.Model)
		setString(&cfg.Generator.BaseURL, g.BaseURL)
		setString(&cfg.Generator.APIKey, g.APIKey)
		setString(&cfg.Generator.EchoSuffix, g.EchoSuffix)
		if err := setDuration(&cfg.Generator.Timeout, g.Timeout, "generator.timeout"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Generator.LoadTimeout, g.LoadTimeout, "generator.load_timeout"); err != nil {
			return err
		}
	}

	if i := fc.Inference; i != nil {
		setInt(&cfg.Inference.MaxAllowedLength, i.MaxAllowedLength)
		setInt(&cfg.Inference.MaxConcurrent, i.MaxConcurrent)
		if err := setDuration(&cfg.Inference.Timeout, i.Timeout, "inference.timeout"); err != nil {
			return err
		}
	}

	if r := fc.RateLimit; r != nil {
		if r.Enabled != nil {
			cfg.RateLimit.Enabled = *r.Enabled
		}
		if r.RequestsPerSecond != nil {
			cfg.RateLimit.RequestsPerSecond = *r.RequestsPerSecond
		}
		setInt(&cfg.RateLimit.Burst, r.Burst)
	}

	if c := fc.CORS; c != nil && c.AllowedOrigins != nil {
		cfg.CORS.AllowedOrigins = c.AllowedOrigins
	}

	if l := fc.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		setString(&cfg.Log.Format, l.Format)
		setString(&cfg.Log.File, l.File)
		setInt(&cfg.Log.MaxSizeMB, l.MaxSizeMB)
		setInt(&cfg.Log.MaxBackups, l.MaxBackups)
		setInt(&cfg.Log.MaxAgeDays, l.MaxAgeDays)
	}

	if m := fc.Metrics; m != nil {
		setString(&cfg.Metrics.Addr, m.Addr)
	}

	if t := fc.Telemetry; t != nil {
		if t.Enabled != nil {
			cfg.Telemetry.Enabled = *t.Enabled
		}
		setString(&cfg.Telemetry.ServiceName, t.ServiceName)
		setString(&cfg.Telemetry.OTLPEndpoint, t.OTLPEndpoint)
	}

	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Host = getEnv("TEXTGEN_HOST", cfg.Server.Host)
	if v := os.Getenv("TEXTGEN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TEXTGEN_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	cfg.Generator.Backend = getEnv("TEXTGEN_BACKEND", cfg.Generator.Backend)
	cfg.Generator.Model = getEnv("TEXTGEN_MODEL", cfg.Generator.Model)
	cfg.Generator.BaseURL = getEnv("TEXTGEN_BASE_URL", cfg.Generator.BaseURL)
	if cfg.Generator.Backend == BackendOpenAI {
		cfg.Generator.APIKey = getEnv("OPENAI_API_KEY", cfg.Generator.APIKey)
	}
	cfg.Generator.APIKey = getEnv("TEXTGEN_API_KEY", cfg.Generator.APIKey)

	if v := os.Getenv("TEXTGEN_MAX_ALLOWED_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TEXTGEN_MAX_ALLOWED_LENGTH: %w", err)
		}
		cfg.Inference.MaxAllowedLength = n
	}

	cfg.Log.Level = getEnv("TEXTGEN_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("TEXTGEN_LOG_FORMAT", cfg.Log.Format)
	cfg.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, name string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
