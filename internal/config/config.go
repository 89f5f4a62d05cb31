package config

import (
	"sync"
	"time"
)

// DefaultAgentLanguage is used when the profile has no language preference.
const DefaultAgentLanguage = "es"

// Config is the root configuration for the NutriBot gateway.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Debounce  DebounceConfig  `json:"debounce"`
	Sessions  SessionsConfig  `json:"sessions"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Retriever RetrieverConfig `json:"retriever"`
	Reminders RemindersConfig `json:"reminders,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// AgentConfig holds LLM settings shared by the intake and dietitian roles.
type AgentConfig struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	Language       string  `json:"language,omitempty"`        // BCP 47-ish tag for reply language
	DietitianModel string  `json:"dietitian_model,omitempty"` // optional override for consults
}

// DebounceConfig controls per-sender message aggregation.
// WindowMS is the quiet period in milliseconds before buffered fragments
// are merged and processed. -1 disables debouncing entirely.
type DebounceConfig struct {
	WindowMS int `json:"window_ms"`
}

// Window returns the debounce duration and whether debouncing is enabled.
func (d DebounceConfig) Window() (time.Duration, bool) {
	if d.WindowMS == -1 {
		return 0, false
	}
	return time.Duration(d.WindowMS) * time.Millisecond, true
}

// ChannelsConfig holds per-channel settings.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
}

// WhatsAppConfig configures the Twilio-backed WhatsApp channel.
// AccountSID and AuthToken come from env only (never persisted).
type WhatsAppConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	AccountSID string `json:"-"` // from env NUTRIBOT_TWILIO_ACCOUNT_SID only
	AuthToken  string `json:"-"` // from env NUTRIBOT_TWILIO_AUTH_TOKEN only
	FromNumber string `json:"from_number,omitempty"` // e.g. "whatsapp:+14155238886"
	APIBase    string `json:"api_base,omitempty"`    // override for tests
}

// TelegramConfig configures the Telegram long-polling channel.
type TelegramConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"-"` // from env NUTRIBOT_TELEGRAM_TOKEN only
}

// DiscordConfig configures the Discord gateway channel.
type DiscordConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"-"` // from env NUTRIBOT_DISCORD_TOKEN only
}

// ProvidersConfig holds LLM provider credentials and endpoints.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai,omitempty"`
	Anthropic  ProviderConfig `json:"anthropic,omitempty"`
	OpenRouter ProviderConfig `json:"openrouter,omitempty"`
}

// ProviderConfig is a single provider's credentials.
type ProviderConfig struct {
	APIKey  string `json:"-"` // from env only
	APIBase string `json:"api_base,omitempty"`
}

// GatewayConfig configures the HTTP server.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Token           string `json:"-"` // from env NUTRIBOT_GATEWAY_TOKEN only
	MaxMessageChars int    `json:"max_message_chars,omitempty"`
	RateLimitRPM    int    `json:"rate_limit_rpm,omitempty"`
	DebugEndpoints  bool   `json:"debug_endpoints,omitempty"` // expose /debug/buffer
}

// SessionsConfig configures conversation history persistence.
type SessionsConfig struct {
	Storage     string `json:"storage"`
	MaxMessages int    `json:"max_messages,omitempty"` // history kept per session
}

// DatabaseConfig selects the profile store backend.
// PostgresDSN comes from env NUTRIBOT_POSTGRES_DSN only.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"`
}

// IsManagedMode reports whether profiles live in Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// RetrieverConfig configures the nutrition knowledge base.
type RetrieverConfig struct {
	CorpusDir      string  `json:"corpus_dir"`
	ChunkSize      int     `json:"chunk_size,omitempty"`
	ChunkOverlap   int     `json:"chunk_overlap,omitempty"`
	TopK           int     `json:"top_k,omitempty"`
	MinScore       float64 `json:"min_score,omitempty"`
	Watch          bool    `json:"watch,omitempty"` // reload corpus on file changes
	EmbeddingModel string  `json:"embedding_model,omitempty"`
}

// RemindersConfig configures scheduled check-in messages.
type RemindersConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"` // cron expression
	Message  string `json:"message,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agent = src.Agent
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Gateway = src.Gateway
	c.Debounce = src.Debounce
	c.Sessions = src.Sessions
	c.Database = src.Database
	c.Retriever = src.Retriever
	c.Reminders = src.Reminders
	c.Telemetry = src.Telemetry
}
