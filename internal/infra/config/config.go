package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "TEACHERAGENT_"

// Config is the top-level application configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Routing  RoutingConfig  `yaml:"routing"`
	Sessions SessionsConfig `yaml:"sessions"`
	Records  RecordsConfig  `yaml:"records"`
	Blob     BlobConfig     `yaml:"blob"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// AppConfig holds identity settings.
type AppConfig struct {
	Name string `yaml:"name"`
}

// ServerConfig holds HTTP and socket transport settings.
type ServerConfig struct {
	Addr           string          `yaml:"addr"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	ShutdownGrace  time.Duration   `yaml:"shutdown_grace"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	// MaxMessageBytes bounds a single inbound socket frame.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
}

// RateLimitConfig holds per-IP token bucket settings for the HTTP API.
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// OracleConfig holds generative backend settings.
type OracleConfig struct {
	DefaultProvider  string               `yaml:"default_provider"`
	LiveProvider     string               `yaml:"live_provider"`
	Providers        []ProviderConfig     `yaml:"providers"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
	Voice            string               `yaml:"voice"`
	MaxHistoryTokens int                  `yaml:"max_history_tokens"`
}

// CircuitBreakerConfig holds circuit breaker settings for oracle providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for oracle providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single oracle provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // gemini | bedrock
	BaseURL     string        `yaml:"base_url"`
	LiveURL     string        `yaml:"live_url,omitempty"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	LiveModel   string        `yaml:"live_model,omitempty"`
	ImageModel  string        `yaml:"image_model,omitempty"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// RoutingConfig selects and tunes the routing strategy.
type RoutingConfig struct {
	Strategy           string          `yaml:"strategy"` // keyword | classifier | embedding | chain
	Chain              []string        `yaml:"chain"`
	MinConfidence      float64         `yaml:"min_confidence"`
	ClassifierProvider string          `yaml:"classifier_provider"`
	Embedding          EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig holds embedding provider settings for the embedding strategy.
type EmbeddingConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// SessionsConfig controls the request/response session lifecycle.
type SessionsConfig struct {
	IdleTTL      time.Duration `yaml:"idle_ttl"` // 0 disables reaping
	ReapSchedule string        `yaml:"reap_schedule"`
}

// RecordsConfig selects the student records backend.
type RecordsConfig struct {
	Driver string    `yaml:"driver"` // sqlite | postgres | mcp | none
	DSN    string    `yaml:"dsn"`
	Seed   bool      `yaml:"seed"`
	MCP    MCPServer `yaml:"mcp"`
}

// MCPServer describes how to reach an MCP tool server.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // stdio | http
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
}

// BlobConfig holds the generated-artifact store settings.
type BlobConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the persistent data directory under $HOME/.teacheragent.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".teacheragent")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		App: AppConfig{Name: "Teacher Assistant ADK Production"},
		Server: ServerConfig{
			Addr:           ":8000",
			RequestTimeout: 60 * time.Second,
			ShutdownGrace:  10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 120,
				Burst:          20,
			},
			MaxMessageBytes: 8 << 20,
		},
		Oracle: OracleConfig{
			DefaultProvider: "gemini",
			LiveProvider:    "gemini",
			Providers: []ProviderConfig{{
				Name:       "gemini",
				Type:       "gemini",
				Model:      "gemini-2.0-flash",
				LiveModel:  "gemini-2.0-flash-live-001",
				ImageModel: "gemini-2.0-flash-preview-image-generation",
			}},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			Voice:            "Puck",
			MaxHistoryTokens: 8000,
		},
		Routing: RoutingConfig{
			Strategy:      "keyword",
			Chain:         []string{"keyword", "classifier"},
			MinConfidence: 0.55,
			Embedding: EmbeddingConfig{
				Model: "text-embedding-004",
			},
		},
		Sessions: SessionsConfig{
			IdleTTL:      0,
			ReapSchedule: "@every 5m",
		},
		Records: RecordsConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dataDir, "records.db"),
		},
		Blob: BlobConfig{
			Dir:     filepath.Join(dataDir, "media"),
			BaseURL: "/media",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
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

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(EnvPrefix + "CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps TEACHERAGENT_* env vars to config fields.
// GOOGLE_API_KEY fills the API key of every gemini provider that has none.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "SERVER_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}
	if v := os.Getenv(EnvPrefix + "SERVER_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv(EnvPrefix + "RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.RateLimit.Enabled = b
		}
	}
	if v := os.Getenv(EnvPrefix + "ORACLE_DEFAULT_PROVIDER"); v != "" {
		cfg.Oracle.DefaultProvider = v
	}
	if v := os.Getenv(EnvPrefix + "ORACLE_LIVE_PROVIDER"); v != "" {
		cfg.Oracle.LiveProvider = v
	}
	if v := os.Getenv(EnvPrefix + "ORACLE_VOICE"); v != "" {
		cfg.Oracle.Voice = v
	}
	if v := os.Getenv(EnvPrefix + "ROUTING_STRATEGY"); v != "" {
		cfg.Routing.Strategy = v
	}
	if v := os.Getenv(EnvPrefix + "ROUTING_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Routing.MinConfidence = f
		}
	}
	if v := os.Getenv(EnvPrefix + "SESSIONS_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sessions.IdleTTL = d
		}
	}
	if v := os.Getenv(EnvPrefix + "RECORDS_DRIVER"); v != "" {
		cfg.Records.Driver = v
	}
	if v := os.Getenv(EnvPrefix + "RECORDS_DSN"); v != "" {
		cfg.Records.DSN = v
	}
	if v := os.Getenv(EnvPrefix + "BLOB_DIR"); v != "" {
		cfg.Blob.Dir = v
	}
	if v := os.Getenv(EnvPrefix + "BLOB_BASE_URL"); v != "" {
		cfg.Blob.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv(EnvPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv(EnvPrefix + "TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	googleKey := os.Getenv("GOOGLE_API_KEY")
	for i := range cfg.Oracle.Providers {
		p := &cfg.Oracle.Providers[i]
		envName := EnvPrefix + "PROVIDER_" + strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_")) + "_API_KEY"
		if v := os.Getenv(envName); v != "" {
			p.APIKey = v
			continue
		}
		if p.Type == "gemini" && p.APIKey == "" && googleKey != "" {
			p.APIKey = googleKey
		}
	}
	if cfg.Routing.Embedding.APIKey == "" && googleKey != "" {
		cfg.Routing.Embedding.APIKey = googleKey
	}
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Oracle.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// splitAndTrim splits s by sep and trims whitespace from each element.
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

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"routing.embedding.api_key": &cfg.Routing.Embedding.APIKey,
		"records.dsn":               &cfg.Records.DSN,
	}
	for i := range cfg.Oracle.Providers {
		p := &cfg.Oracle.Providers[i]
		secrets["provider "+p.Name+" api_key"] = &p.APIKey
	}

	for field, fp := range secrets {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result has the form hex(salt) + ":" + hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
