package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"searchchat/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Agent.Model != "openai/gpt-oss-120b" {
		t.Errorf("Model = %q, want %q", cfg.Agent.Model, "openai/gpt-oss-120b")
	}
	if cfg.Agent.Temperature != 0 {
		t.Errorf("Temperature = %g, want 0", cfg.Agent.Temperature)
	}
	if cfg.Search.MaxResults != 3 {
		t.Errorf("MaxResults = %d, want 3", cfg.Search.MaxResults)
	}
	if cfg.LLM.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("expected defaults, got MaxIterations=%d", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  max_iterations: 4
  turn_timeout: 90s
search:
  max_results: 5
  search_depth: advanced
checkpoint:
  backend: sqlite
  path: /tmp/cp.db
logger:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 4 {
		t.Errorf("MaxIterations = %d, want 4", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.TurnTimeout != 90*time.Second {
		t.Errorf("TurnTimeout = %v, want 90s", cfg.Agent.TurnTimeout)
	}
	if cfg.Search.MaxResults != 5 || cfg.Search.SearchDepth != "advanced" {
		t.Errorf("Search = %+v", cfg.Search)
	}
	if cfg.Checkpoint.Backend != "sqlite" || cfg.Checkpoint.Path != "/tmp/cp.db" {
		t.Errorf("Checkpoint = %+v", cfg.Checkpoint)
	}
	// Untouched sections keep their defaults.
	if cfg.Agent.Model != "openai/gpt-oss-120b" {
		t.Errorf("Model = %q", cfg.Agent.Model)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  max_iterations: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestLoadValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  max_iterations: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestLoadReadsDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	// Register cleanup for the vars godotenv will set.
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("TAVILY_API_KEY", "")
	os.Unsetenv("GROQ_API_KEY")
	os.Unsetenv("TAVILY_API_KEY")

	env := "GROQ_API_KEY=gsk-from-dotenv\nTAVILY_API_KEY=tvly-from-dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "gsk-from-dotenv" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Search.APIKey != "tvly-from-dotenv" {
		t.Errorf("Search.APIKey = %q", cfg.Search.APIKey)
	}
}

func TestLoadDotEnvKeepsExistingVars(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GROQ_API_KEY", "from-process")
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("GROQ_API_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("GROQ_API_KEY"); got != "from-process" {
		t.Errorf("GROQ_API_KEY = %q, want from-process", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-1")
	t.Setenv("TAVILY_API_KEY", "tvly-1")
	t.Setenv("SEARCHCHAT_AGENT_MODEL", "llama-3.3-70b-versatile")
	t.Setenv("SEARCHCHAT_AGENT_TEMPERATURE", "0.5")
	t.Setenv("SEARCHCHAT_AGENT_TURN_TIMEOUT", "45s")
	t.Setenv("SEARCHCHAT_SEARCH_MAX_RESULTS", "2")
	t.Setenv("SEARCHCHAT_LLM_CIRCUIT_BREAKER_ENABLED", "false")
	t.Setenv("SEARCHCHAT_LOGGER_LEVEL", "debug")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.APIKey != "gsk-1" || cfg.Search.APIKey != "tvly-1" {
		t.Errorf("keys = %q / %q", cfg.LLM.APIKey, cfg.Search.APIKey)
	}
	if cfg.Agent.Model != "llama-3.3-70b-versatile" {
		t.Errorf("Model = %q", cfg.Agent.Model)
	}
	if cfg.Agent.Temperature != 0.5 {
		t.Errorf("Temperature = %g", cfg.Agent.Temperature)
	}
	if cfg.Agent.TurnTimeout != 45*time.Second {
		t.Errorf("TurnTimeout = %v", cfg.Agent.TurnTimeout)
	}
	if cfg.Search.MaxResults != 2 {
		t.Errorf("MaxResults = %d", cfg.Search.MaxResults)
	}
	if cfg.LLM.CircuitBreaker.Enabled {
		t.Error("CircuitBreaker.Enabled should be false")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
}

func TestEnvOverridesPrefixedKeyWins(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "bare")
	t.Setenv("SEARCHCHAT_LLM_API_KEY", "prefixed")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.LLM.APIKey != "prefixed" {
		t.Errorf("APIKey = %q, want prefixed", cfg.LLM.APIKey)
	}
}

func TestEnvOverridesIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SEARCHCHAT_AGENT_MAX_ITERATIONS", "many")
	t.Setenv("SEARCHCHAT_AGENT_TURN_TIMEOUT", "-5s")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.TurnTimeout != 0 {
		t.Errorf("TurnTimeout = %v, want 0", cfg.Agent.TurnTimeout)
	}
}

func TestEnvOverridesGatewayToken(t *testing.T) {
	t.Setenv("SEARCHCHAT_GATEWAY_TOKEN", "tok-123")
	t.Setenv("SEARCHCHAT_GATEWAY_TRUSTED_PROXIES", " 10.0.0.1, ,192.168.0.0/16 ")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Gateway.Auth.Type != "static" {
		t.Errorf("Auth.Type = %q", cfg.Gateway.Auth.Type)
	}
	if len(cfg.Gateway.Auth.Tokens) != 1 || cfg.Gateway.Auth.Tokens[0].Token != "tok-123" {
		t.Errorf("Tokens = %+v", cfg.Gateway.Auth.Tokens)
	}
	want := []string{"10.0.0.1", "192.168.0.0/16"}
	got := cfg.Gateway.RateLimit.TrustedProxies
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("TrustedProxies = %v, want %v", got, want)
	}
}

func TestCheckCredentials(t *testing.T) {
	cfg := Defaults()
	err := CheckCredentials(cfg)
	if err == nil {
		t.Fatal("expected error for missing keys")
	}
	if !strings.Contains(err.Error(), "GROQ_API_KEY") || !strings.Contains(err.Error(), "TAVILY_API_KEY") {
		t.Errorf("error should name both variables: %v", err)
	}

	cfg.LLM.APIKey = "gsk"
	cfg.Search.APIKey = "tvly"
	if err := CheckCredentials(cfg); err != nil {
		t.Errorf("CheckCredentials: %v", err)
	}

	cfg.Search.Backend = "searxng"
	cfg.Search.APIKey = ""
	if err := CheckCredentials(cfg); err != nil {
		t.Errorf("searxng needs no search key: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "gsk_abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(encrypted, plaintext) {
		t.Error("ciphertext leaks plaintext")
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecryptValue(encrypted, "wrong-pass")
	if !errors.Is(err, domain.ErrDecryption) {
		t.Errorf("expected ErrDecryption, got %v", err)
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no separator", "abcdef"},
		{"bad salt hex", "zz:00"},
		{"bad data hex", "00:zz"},
		{"too short", "00112233445566778899aabbccddeeff:0011"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptValue(tt.input, "pass"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encLLM, err := EncryptValue("gsk-secret", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	encToken, err := EncryptValue("gw-secret", passphrase)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	cfg.LLM.APIKey = encPrefix + encLLM
	cfg.Search.APIKey = "tvly-plain"
	cfg.Gateway.Auth.Tokens = []TokenConfig{{Name: "web", Token: encPrefix + encToken}}

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.APIKey != "gsk-secret" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Search.APIKey != "tvly-plain" {
		t.Errorf("Search.APIKey = %q", cfg.Search.APIKey)
	}
	if cfg.Gateway.Auth.Tokens[0].Token != "gw-secret" {
		t.Errorf("token = %q", cfg.Gateway.Auth.Tokens[0].Token)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.Search.APIKey = encPrefix + "not-valid"
	err := decryptSecrets(cfg, "pass")
	if err == nil || !strings.Contains(err.Error(), "search.api_key") {
		t.Fatalf("expected error naming the field, got %v", err)
	}
}
