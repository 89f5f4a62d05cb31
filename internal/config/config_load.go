package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.4,
			Language:    DefaultAgentLanguage,
		},
		Debounce: DebounceConfig{
			WindowMS: 3000,
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18890,
			MaxMessageChars: 4000,
			RateLimitRPM:    30,
		},
		Sessions: SessionsConfig{
			Storage:     "~/.nutribot/sessions",
			MaxMessages: 40,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.nutribot/nutribot.db",
		},
		Retriever: RetrieverConfig{
			CorpusDir:      "~/.nutribot/corpus",
			ChunkSize:      1200,
			ChunkOverlap:   200,
			TopK:           4,
			MinScore:       0.25,
			EmbeddingModel: "text-embedding-3-small",
		},
		Reminders: RemindersConfig{
			Schedule: "0 9 * * *",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as runtime bugs.
func (c *Config) Validate() error {
	if c.Debounce.WindowMS == 0 || c.Debounce.WindowMS < -1 {
		return fmt.Errorf("debounce.window_ms must be positive or -1 to disable, got %d", c.Debounce.WindowMS)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	if c.Retriever.ChunkSize > 0 && c.Retriever.ChunkOverlap >= c.Retriever.ChunkSize {
		return fmt.Errorf("retriever.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Retriever.ChunkOverlap, c.Retriever.ChunkSize)
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("NUTRIBOT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("NUTRIBOT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("NUTRIBOT_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("NUTRIBOT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("NUTRIBOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("NUTRIBOT_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("NUTRIBOT_TWILIO_ACCOUNT_SID", &c.Channels.WhatsApp.AccountSID)
	envStr("NUTRIBOT_TWILIO_AUTH_TOKEN", &c.Channels.WhatsApp.AuthToken)
	envStr("NUTRIBOT_TWILIO_FROM", &c.Channels.WhatsApp.FromNumber)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.WhatsApp.AccountSID != "" && c.Channels.WhatsApp.AuthToken != "" {
		c.Channels.WhatsApp.Enabled = true
	}

	// Allow overriding default provider/model
	envStr("NUTRIBOT_PROVIDER", &c.Agent.Provider)
	envStr("NUTRIBOT_MODEL", &c.Agent.Model)
	envStr("NUTRIBOT_LANGUAGE", &c.Agent.Language)

	// Storage paths
	envStr("NUTRIBOT_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("NUTRIBOT_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("NUTRIBOT_CORPUS_DIR", &c.Retriever.CorpusDir)

	// Gateway host/port
	envStr("NUTRIBOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("NUTRIBOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Debounce window
	if v := os.Getenv("NUTRIBOT_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Debounce.WindowMS = ms
		}
	}

	// Database
	envStr("NUTRIBOT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("NUTRIBOT_MODE", &c.Database.Mode)

	// Telemetry
	envStr("NUTRIBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("NUTRIBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("NUTRIBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("NUTRIBOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("NUTRIBOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Debug endpoints
	if v := os.Getenv("NUTRIBOT_DEBUG_ENDPOINTS"); v != "" {
		c.Gateway.DebugEndpoints = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"`
// tags, so they never persist to disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
