package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is the agent instruction block. The current UTC time is
// appended as "System time: <iso8601>" when a session starts.
const DefaultSystemPrompt = `You have access to a tool that retrieves information from a web. Use the tool to help answer user queries if needed.
If you decide to use a tool, you MUST supply all required parameters. Never call a tool with missing or empty arguments.
Be concise and helpful.`

// Config is the top-level application configuration.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	LLM        LLMConfig        `yaml:"llm"`
	Search     SearchConfig     `yaml:"search"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// AgentConfig holds model and loop settings.
type AgentConfig struct {
	Model         string        `yaml:"model"`
	Temperature   float64       `yaml:"temperature"`
	MaxIterations int           `yaml:"max_iterations"`
	TurnTimeout   time.Duration `yaml:"turn_timeout"` // 0 = no timeout
	SystemPrompt  string        `yaml:"system_prompt"`
}

// LLMConfig holds settings for the OpenAI-compatible model provider.
type LLMConfig struct {
	Name           string               `yaml:"name"`
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	Pool           PoolConfig           `yaml:"pool"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the LLM provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// SearchConfig holds web search backend settings.
type SearchConfig struct {
	Backend     string        `yaml:"backend"` // "tavily" or "searxng"
	BaseURL     string        `yaml:"base_url"` // empty = public Tavily endpoint
	APIKey      string        `yaml:"api_key"`
	MaxResults  int           `yaml:"max_results"`
	SearchDepth string        `yaml:"search_depth"` // "basic" or "advanced"
	Timeout     time.Duration `yaml:"timeout"`
}

// CheckpointConfig selects and tunes the conversation memory store.
type CheckpointConfig struct {
	Backend       string        `yaml:"backend"` // "memory" or "sqlite"
	Path          string        `yaml:"path"`    // sqlite database file
	RetentionTTL  time.Duration `yaml:"retention_ttl"`
	PruneSchedule string        `yaml:"prune_schedule"` // cron spec, "" disables pruning
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or "" (open)
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig bounds HTTP requests per client IP.
type RateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"` // 0 disables
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
	Output   string `yaml:"output"`   // stdout exporter target: "" = stdout, or a file path
}

// defaultDataDir returns the persistent data directory under $HOME/.searchchat/data.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".searchchat", "data")
	}
	return filepath.Join(home, ".searchchat", "data")
}

// Defaults returns a Config populated with working defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:         "openai/gpt-oss-120b",
			Temperature:   0,
			MaxIterations: 10,
			SystemPrompt:  DefaultSystemPrompt,
		},
		LLM: LLMConfig{
			Name:        "groq",
			BaseURL:     "https://api.groq.com/openai/v1",
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Search: SearchConfig{
			Backend:     "tavily",
			MaxResults:  3,
			SearchDepth: "basic",
			Timeout:     15 * time.Second,
		},
		Checkpoint: CheckpointConfig{
			Backend:       "memory",
			Path:          filepath.Join(defaultDataDir(), "checkpoints.db"),
			RetentionTTL:  24 * time.Hour,
			PruneSchedule: "@every 15m",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8787",
			RateLimit: RateLimitConfig{
				RequestsPerMin: 120,
				Burst:          20,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, layers .env and environment overrides on
// top, decrypts "enc:" secrets, and validates the result. A missing file is
// not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := LoadDotEnv(dotEnvPath(path)); err != nil {
		return nil, err
	}
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("SEARCHCHAT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps provider credentials and SEARCHCHAT_* env vars to
// config fields. The SEARCHCHAT_* form wins over the bare provider names.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}

	setString(&cfg.Agent.Model, "SEARCHCHAT_AGENT_MODEL")
	setFloat(&cfg.Agent.Temperature, "SEARCHCHAT_AGENT_TEMPERATURE")
	setInt(&cfg.Agent.MaxIterations, "SEARCHCHAT_AGENT_MAX_ITERATIONS")
	setDuration(&cfg.Agent.TurnTimeout, "SEARCHCHAT_AGENT_TURN_TIMEOUT")

	setString(&cfg.LLM.BaseURL, "SEARCHCHAT_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "SEARCHCHAT_LLM_API_KEY")
	setBool(&cfg.LLM.CircuitBreaker.Enabled, "SEARCHCHAT_LLM_CIRCUIT_BREAKER_ENABLED")

	setString(&cfg.Search.Backend, "SEARCHCHAT_SEARCH_BACKEND")
	setString(&cfg.Search.BaseURL, "SEARCHCHAT_SEARCH_BASE_URL")
	setString(&cfg.Search.APIKey, "SEARCHCHAT_SEARCH_API_KEY")
	setInt(&cfg.Search.MaxResults, "SEARCHCHAT_SEARCH_MAX_RESULTS")
	setString(&cfg.Search.SearchDepth, "SEARCHCHAT_SEARCH_DEPTH")

	setString(&cfg.Checkpoint.Backend, "SEARCHCHAT_CHECKPOINT_BACKEND")
	setString(&cfg.Checkpoint.Path, "SEARCHCHAT_CHECKPOINT_PATH")
	setDuration(&cfg.Checkpoint.RetentionTTL, "SEARCHCHAT_CHECKPOINT_RETENTION_TTL")
	setString(&cfg.Checkpoint.PruneSchedule, "SEARCHCHAT_CHECKPOINT_PRUNE_SCHEDULE")

	setString(&cfg.Gateway.Addr, "SEARCHCHAT_GATEWAY_ADDR")
	if v := os.Getenv("SEARCHCHAT_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{Token: v, Name: "env"})
	}
	if v := os.Getenv("SEARCHCHAT_GATEWAY_TRUSTED_PROXIES"); v != "" {
		cfg.Gateway.RateLimit.TrustedProxies = splitAndTrim(v, ",")
	}

	setString(&cfg.Logger.Level, "SEARCHCHAT_LOGGER_LEVEL")
	setString(&cfg.Logger.Format, "SEARCHCHAT_LOGGER_FORMAT")
	setString(&cfg.Logger.Output, "SEARCHCHAT_LOGGER_OUTPUT")
	setBool(&cfg.Tracer.Enabled, "SEARCHCHAT_TRACER_ENABLED")
	setString(&cfg.Tracer.Exporter, "SEARCHCHAT_TRACER_EXPORTER")
}

// CheckCredentials reports missing provider credentials. Validate accepts a
// config without keys so that offline subcommands keep working.
func CheckCredentials(cfg *Config) error {
	ve := &ValidationError{}
	if cfg.LLM.APIKey == "" {
		ve.Add("llm.api_key is required (set GROQ_API_KEY)")
	}
	if cfg.Search.Backend == "tavily" && cfg.Search.APIKey == "" {
		ve.Add("search.api_key is required (set TAVILY_API_KEY)")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			*dst = d
		}
	}
}

// validatePermissions checks the config file is not writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

// dotEnvPath places .env next to the config file.
func dotEnvPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ".env")
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
