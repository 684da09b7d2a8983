package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-explainer/internal/platform/envutil"
)

// UnmarshalYAML accepts duration strings ("90s", "2m") or bare integers as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" || s == "null" || s == "~" {
		d.Duration = 0
		return nil
	}
	if dd, err := time.ParseDuration(s); err == nil {
		d.Duration = dd
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or integer seconds: %q", s)
	}
	d.Duration = time.Duration(n) * time.Second
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultEngineCommand renders with the manim CLI.
var DefaultEngineCommand = []string{
	"manim", "render",
	"-q{quality}",
	"--disable_caching",
	"--media_dir", "{media_dir}",
	"-o", "{output_name}",
	"{source}", "{scene}",
}

var DefaultSyntaxProbeCommand = []string{
	"python3", "-c", "import ast,sys; ast.parse(open(sys.argv[1]).read(), sys.argv[1])", "{source}",
}

func Default() *Config {
	return &Config{
		Env: "development",
		Log: LogConfig{Mode: "development", Redaction: true},
		Pipeline: PipelineConfig{
			AttemptBudget:             3,
			DurationTolerance:         0.05,
			CodeReentryOnRuntimeError: true,
			RequireDomainMatch:        true,
		},
		LLM: LLMConfig{
			Mode:              "http",
			BaseURL:           "https://api.openai.com",
			Model:             "gpt-4o-mini",
			ChatPath:          "/v1/chat/completions",
			Timeout:           D(120 * time.Second),
			Temperature:       0.2,
			MaxRetries:        2,
			RequestsPerMinute: 30,
		},
		Animation: AnimationConfig{
			SyntaxProbeCommand: append([]string(nil), DefaultSyntaxProbeCommand...),
			SyntaxProbeTimeout: D(20 * time.Second),
		},
		Render: RenderConfig{
			EngineCommand: append([]string(nil), DefaultEngineCommand...),
			Quality:       "m",
			OutputDir:     "media/explainers",
			Timeout:       D(5 * time.Minute),
			Isolation:     "auto",
			PassEnv:       []string{"PATH", "HOME", "LANG"},
			MemoryMax:     "4G",
			TasksMax:      256,
			TrialTimeout:  D(2 * time.Minute),
			Probe:         true,
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ShutdownTimeout:   D(15 * time.Second),
			MaxConcurrentRuns: 2,
			MaxRequestBytes:   1 << 20,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Store:  StoreConfig{Driver: "memory"},
		Events: EventsConfig{Channel: "explainer.events"},
		OTel:   OTelConfig{ServiceName: "neurobridge-explainer", SampleRatio: 0.1},
	}
}

// Load resolves configuration from defaults, an optional YAML file, an
// optional .env file and the process environment, in that order.
func Load() (*Config, error) {
	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := strings.TrimSpace(os.Getenv("EXPLAINER_CONFIG_PATH"))
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "explainer.yaml")
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	return LoadFile(path)
}

// LoadFile is Load without .env discovery; an empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("EXPLAINER_ENV", cfg.Env)
	cfg.Log.Mode = envutil.String("LOG_MODE", cfg.Log.Mode)
	cfg.Log.Redaction = envutil.Bool("LOG_REDACTION_ENABLED", cfg.Log.Redaction)
	cfg.Log.HashSalt = envutil.String("LOG_HASH_SALT", cfg.Log.HashSalt)

	cfg.Pipeline.AttemptBudget = envutil.Int("EXPLAINER_ATTEMPT_BUDGET", cfg.Pipeline.AttemptBudget)
	cfg.Pipeline.DurationTolerance = envutil.Float("EXPLAINER_DURATION_TOLERANCE", cfg.Pipeline.DurationTolerance)
	cfg.Pipeline.CodeReentryOnRuntimeError = envutil.Bool("EXPLAINER_CODE_REENTRY", cfg.Pipeline.CodeReentryOnRuntimeError)

	cfg.LLM.Mode = envutil.String("LLM_MODE", cfg.LLM.Mode)
	cfg.LLM.BaseURL = envutil.String("LLM_BASE_URL", envutil.String("OPENAI_BASE_URL", cfg.LLM.BaseURL))
	cfg.LLM.APIKey = envutil.String("LLM_API_KEY", envutil.String("OPENAI_API_KEY", cfg.LLM.APIKey))
	cfg.LLM.Model = envutil.String("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Timeout = D(envutil.Duration("LLM_TIMEOUT", cfg.LLM.Timeout.Duration))
	cfg.LLM.Temperature = envutil.Float("LLM_TEMPERATURE", cfg.LLM.Temperature)
	cfg.LLM.MaxRetries = envutil.Int("LLM_MAX_RETRIES", cfg.LLM.MaxRetries)
	cfg.LLM.RequestsPerMinute = envutil.Int("LLM_REQUESTS_PER_MINUTE", cfg.LLM.RequestsPerMinute)

	cfg.Animation.SyntaxProbe = envutil.Bool("ANIMATION_SYNTAX_PROBE", cfg.Animation.SyntaxProbe)

	cfg.Render.OutputDir = envutil.String("RENDER_OUTPUT_DIR", cfg.Render.OutputDir)
	cfg.Render.Quality = envutil.String("RENDER_QUALITY", cfg.Render.Quality)
	cfg.Render.Timeout = D(envutil.Duration("RENDER_TIMEOUT", cfg.Render.Timeout.Duration))
	cfg.Render.Isolation = envutil.String("RENDER_ISOLATION", cfg.Render.Isolation)
	cfg.Render.RequireIsolation = envutil.Bool("RENDER_REQUIRE_ISOLATION", cfg.Render.RequireIsolation)
	cfg.Render.TrialRender = envutil.Bool("RENDER_TRIAL", cfg.Render.TrialRender)
	cfg.Render.Poster = envutil.Bool("RENDER_POSTER", cfg.Render.Poster)

	cfg.HTTP.Addr = envutil.String("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.MaxConcurrentRuns = envutil.Int("HTTP_MAX_CONCURRENT_RUNS", cfg.HTTP.MaxConcurrentRuns)
	cfg.HTTP.JWTSecret = envutil.String("JWT_SECRET_KEY", cfg.HTTP.JWTSecret)

	cfg.Store.Driver = envutil.String("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = envutil.String("STORE_DSN", cfg.Store.DSN)

	cfg.Events.RedisAddr = envutil.String("REDIS_ADDR", cfg.Events.RedisAddr)
	cfg.Events.Channel = envutil.String("REDIS_CHANNEL", cfg.Events.Channel)

	cfg.Publish.GCSBucket = envutil.String("EXPLAINER_GCS_BUCKET", cfg.Publish.GCSBucket)
	cfg.Publish.PublicBaseURL = envutil.String("EXPLAINER_PUBLIC_BASE_URL", cfg.Publish.PublicBaseURL)
	cfg.Publish.CredentialsFile = envutil.String("GOOGLE_APPLICATION_CREDENTIALS", cfg.Publish.CredentialsFile)

	cfg.OTel.Enabled = envutil.Bool("OTEL_ENABLED", cfg.OTel.Enabled)
	cfg.OTel.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTel.Endpoint)
	cfg.OTel.Insecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTel.Insecure)
	cfg.OTel.SampleRatio = envutil.Float("OTEL_SAMPLER_RATIO", cfg.OTel.SampleRatio)
}

func normalize(cfg *Config) error {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Log.Mode == "" {
		cfg.Log.Mode = cfg.Env
	}

	if cfg.Pipeline.AttemptBudget < 0 {
		return fmt.Errorf("pipeline.attempt_budget must be >= 0 (got %d)", cfg.Pipeline.AttemptBudget)
	}
	if cfg.Pipeline.DurationTolerance < 0 {
		return fmt.Errorf("pipeline.duration_tolerance must be >= 0 (got %g)", cfg.Pipeline.DurationTolerance)
	}

	cfg.LLM.Mode = strings.ToLower(strings.TrimSpace(cfg.LLM.Mode))
	switch cfg.LLM.Mode {
	case "http":
		cfg.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.LLM.BaseURL), "/")
		if cfg.LLM.BaseURL == "" {
			return errors.New("llm.base_url required when llm.mode=http")
		}
		if strings.TrimSpace(cfg.LLM.Model) == "" {
			return errors.New("llm.model required when llm.mode=http")
		}
		if cfg.LLM.ChatPath == "" {
			cfg.LLM.ChatPath = "/v1/chat/completions"
		}
	case "stub":
	default:
		return fmt.Errorf("invalid llm.mode=%q", cfg.LLM.Mode)
	}
	if cfg.LLM.Timeout.Duration <= 0 {
		return errors.New("llm.timeout must be > 0")
	}
	if cfg.LLM.MaxRetries < 0 {
		cfg.LLM.MaxRetries = 0
	}

	if len(cfg.Render.EngineCommand) == 0 {
		return errors.New("render.engine_command required")
	}
	cfg.Render.Quality = strings.ToLower(strings.TrimSpace(cfg.Render.Quality))
	switch cfg.Render.Quality {
	case "l", "m", "h":
	default:
		return fmt.Errorf("invalid render.quality=%q (want l, m or h)", cfg.Render.Quality)
	}
	if strings.TrimSpace(cfg.Render.OutputDir) == "" {
		return errors.New("render.output_dir required")
	}
	if cfg.Render.Timeout.Duration <= 0 {
		return errors.New("render.timeout must be > 0")
	}
	cfg.Render.Isolation = strings.ToLower(strings.TrimSpace(cfg.Render.Isolation))
	switch cfg.Render.Isolation {
	case "", "auto":
		cfg.Render.Isolation = "auto"
	case "bwrap", "none":
	default:
		return fmt.Errorf("invalid render.isolation=%q", cfg.Render.Isolation)
	}
	if cfg.Render.Isolation == "none" && cfg.Render.RequireIsolation {
		return errors.New("render.require_isolation conflicts with render.isolation=none")
	}
	if cfg.Render.TrialTimeout.Duration <= 0 {
		cfg.Render.TrialTimeout = cfg.Render.Timeout
	}

	if cfg.Animation.SyntaxProbe && len(cfg.Animation.SyntaxProbeCommand) == 0 {
		return errors.New("animation.syntax_probe_command required when animation.syntax_probe is on")
	}
	if cfg.Animation.SyntaxProbeTimeout.Duration <= 0 {
		cfg.Animation.SyntaxProbeTimeout = D(20 * time.Second)
	}

	if cfg.HTTP.MaxConcurrentRuns < 1 {
		cfg.HTTP.MaxConcurrentRuns = 1
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = D(15 * time.Second)
	}
	if cfg.HTTP.MaxRequestBytes <= 0 {
		cfg.HTTP.MaxRequestBytes = 1 << 20
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	switch cfg.Store.Driver {
	case "", "memory":
		cfg.Store.Driver = "memory"
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return fmt.Errorf("store.dsn required for store.driver=%s", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("invalid store.driver=%q", cfg.Store.Driver)
	}

	if cfg.Events.Channel == "" {
		cfg.Events.Channel = "explainer.events"
	}
	if cfg.OTel.SampleRatio < 0 {
		cfg.OTel.SampleRatio = 0
	}
	if cfg.OTel.SampleRatio > 1 {
		cfg.OTel.SampleRatio = 1
	}
	return nil
}
