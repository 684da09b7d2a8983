package config

import "time"

// Duration wraps time.Duration so config files can say "90s".
type Duration struct {
	Duration time.Duration
}

func D(d time.Duration) Duration { return Duration{Duration: d} }

type LogConfig struct {
	Mode      string `yaml:"mode"`
	Redaction bool   `yaml:"redaction"`
	HashSalt  string `yaml:"hash_salt"`
}

type PipelineConfig struct {
	// AttemptBudget is the number of repair retries after the first attempt.
	// Total generator calls per stage = 1 + AttemptBudget.
	AttemptBudget int `yaml:"attempt_budget"`

	// DurationTolerance is the allowed relative overshoot of the summed step
	// durations over the document's total duration (0.05 = 5%).
	DurationTolerance float64 `yaml:"duration_tolerance"`

	// CodeReentryOnRuntimeError allows one return to code synthesis after the
	// renderer reports a runtime error.
	CodeReentryOnRuntimeError bool `yaml:"code_reentry_on_runtime_error"`

	// RequireDomainMatch rejects documents whose domain differs from the request.
	RequireDomainMatch bool `yaml:"require_domain_match"`
}

type LLMConfig struct {
	// Mode is "http" (OpenAI-compatible endpoint) or "stub" (offline, deterministic).
	Mode              string   `yaml:"mode"`
	BaseURL           string   `yaml:"base_url"`
	APIKey            string   `yaml:"api_key"`
	Model             string   `yaml:"model"`
	ChatPath          string   `yaml:"chat_path"`
	Timeout           Duration `yaml:"timeout"`
	Temperature       float64  `yaml:"temperature"`
	MaxRetries        int      `yaml:"max_retries"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

type AnimationConfig struct {
	// SyntaxProbe additionally parses generated code with the interpreter's
	// own parser, run through the sandbox.
	SyntaxProbe        bool     `yaml:"syntax_probe"`
	SyntaxProbeCommand []string `yaml:"syntax_probe_command"`
	SyntaxProbeTimeout Duration `yaml:"syntax_probe_timeout"`

	// ExtraPrimitives extends the built-in allow-list.
	ExtraPrimitives []string `yaml:"extra_primitives"`
}

type RenderConfig struct {
	// EngineCommand is the render command template. Placeholders: {source},
	// {scene}, {media_dir}, {output_name}, {quality}.
	EngineCommand []string `yaml:"engine_command"`
	Quality       string   `yaml:"quality"`
	OutputDir     string   `yaml:"output_dir"`
	Timeout       Duration `yaml:"timeout"`

	// Isolation is "auto", "bwrap" or "none". auto and bwrap both refuse to
	// start without bwrap; only an explicit none runs the engine unisolated.
	Isolation        string   `yaml:"isolation"`
	RequireIsolation bool     `yaml:"require_isolation"`
	ReadOnlyBinds    []string `yaml:"read_only_binds"`
	PassEnv          []string `yaml:"pass_env"`

	MemoryMax string `yaml:"memory_max"`
	TasksMax  int    `yaml:"tasks_max"`

	TrialRender  bool     `yaml:"trial_render"`
	TrialTimeout Duration `yaml:"trial_timeout"`

	Probe bool `yaml:"probe"`

	// Poster draws a title card PNG next to the video. PosterFont is a TTF
	// path; empty uses the bundled Go fonts.
	Poster     bool   `yaml:"poster"`
	PosterFont string `yaml:"poster_font"`
}

type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	MaxConcurrentRuns int      `yaml:"max_concurrent_runs"`
	MaxRequestBytes   int64    `yaml:"max_request_bytes"`
	JWTSecret         string   `yaml:"jwt_secret"`
	CORSOrigins       []string `yaml:"cors_origins"`
}

type StoreConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type EventsConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	Channel   string `yaml:"channel"`
}

type PublishConfig struct {
	GCSBucket       string `yaml:"gcs_bucket"`
	KeyPrefix       string `yaml:"key_prefix"`
	PublicBaseURL   string `yaml:"public_base_url"`
	CredentialsFile string `yaml:"credentials_file"`
}

type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type Config struct {
	Env       string          `yaml:"env"`
	Log       LogConfig       `yaml:"log"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	LLM       LLMConfig       `yaml:"llm"`
	Animation AnimationConfig `yaml:"animation"`
	Render    RenderConfig    `yaml:"render"`
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Events    EventsConfig    `yaml:"events"`
	Publish   PublishConfig   `yaml:"publish"`
	OTel      OTelConfig      `yaml:"otel"`
}
