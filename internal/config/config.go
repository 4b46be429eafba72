// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration. It is built once in main and passed
// to the components that need it.
type Config struct {
	Port           string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" validate:"omitempty,numeric"`
	FrontendURL    string `envconfig:"FRONTEND_URL"`
	AppEnv         string `envconfig:"APP_ENV" validate:"omitempty,oneof=development production test"`
	DatabaseURL    string `envconfig:"DATABASE_URL" default:"sqlite://./data/sagent.db" validate:"required"`
	CreditTimeZone string `envconfig:"CREDIT_TIMEZONE" default:"UTC" validate:"required"`

	Log       LogConfig       `envconfig:"LOG"`
	Privy     PrivyConfig     `envconfig:"PRIVY"`
	LLM       LLMConfig       `envconfig:"LLM"`
	Sandbox   SandboxConfig   `envconfig:"SANDBOX"`
	Jobs      JobsConfig      `envconfig:"JOB"`
	Chain     ChainConfig     `envconfig:"SAGENT"`
	Billing   BillingConfig   `envconfig:"BILLING"`
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
	Timeout   TimeoutConfig   `envconfig:"TIMEOUT"`

	Transcript TranscriptConfig `envconfig:"TRANSCRIPT_LOG"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `envconfig:"FORMAT" validate:"omitempty,oneof=json text"`
}

// PrivyConfig holds wallet-auth settings. VerificationKey is the PEM encoded ES256
// public key Privy publishes for the app.
type PrivyConfig struct {
	AppID           string `envconfig:"APP_ID"`
	AppSecret       string `envconfig:"APP_SECRET"`
	VerificationKey string `envconfig:"VERIFICATION_KEY"`
}

// LLMConfig selects the chat completion endpoint and models.
type LLMConfig struct {
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	BaseURL       string `envconfig:"BASE_URL" validate:"omitempty,url"`
	CodingModel   string `envconfig:"CODING_MODEL" default:"gemini-2.5-pro" validate:"required"`
	FastModel     string `envconfig:"FAST_MODEL" default:"gemini-2.5-flash" validate:"required"`
	MaxIterations int    `envconfig:"MAX_ITERATIONS" default:"15" validate:"min=1,max=100"`
	MaxTokens     int    `envconfig:"MAX_TOKENS" default:"8192" validate:"min=256"`

	// Tools restricts the coding agent's sandbox tools. Empty enables all of them.
	Tools            []string `envconfig:"TOOLS" validate:"dive,oneof=terminal createOrUpdateFiles readFiles makeDir removeFiles renameFiles listFiles"`
	SummarizeRequest bool     `envconfig:"SUMMARIZE_REQUEST" default:"true"`
}

// geminiOpenAIBaseURL is Gemini's OpenAI-compatible endpoint.
const geminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// APIKey returns the key for the configured endpoint, preferring Gemini.
func (c LLMConfig) APIKey() string {
	if c.GeminiAPIKey != "" {
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}

// Endpoint returns the chat completion base URL, or "" for the OpenAI default.
func (c LLMConfig) Endpoint() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.GeminiAPIKey != "" {
		return geminiOpenAIBaseURL
	}
	return ""
}

// SandboxConfig controls sandbox provisioning.
type SandboxConfig struct {
	Driver       string        `envconfig:"DRIVER" default:"docker" validate:"oneof=docker local"`
	Template     string        `envconfig:"TEMPLATE" default:"sagent-nextjs" validate:"required"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"1h" validate:"min=1m"`
	PublicHost   string        `envconfig:"PUBLIC_HOST" default:"localhost" validate:"required"`
	Runtime      string        `envconfig:"RUNTIME"` // "" = runc, "runsc" = gVisor
	APIKey       string        `envconfig:"API_KEY"`
	LocalRoot    string        `envconfig:"LOCAL_ROOT" default:"./data/sandboxes"`
	ReapInterval time.Duration `envconfig:"REAP_INTERVAL" default:"5m" validate:"min=1s"`
}

// JobsConfig controls the agent job worker.
type JobsConfig struct {
	Concurrency  int           `envconfig:"CONCURRENCY" default:"4" validate:"min=1,max=64"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"1s" validate:"min=10ms"`
}

// ChainConfig describes the Sagent chain and billing contract.
type ChainConfig struct {
	RPCURL          string        `envconfig:"RPC_URL" default:"https://sagent-2751288990640000-1.jsonrpc.sagarpc.io" validate:"required,url"`
	ChainID         uint64        `envconfig:"CHAIN_ID" default:"2751288990640000"`
	ContractAddress string        `envconfig:"CONTRACT_ADDRESS" validate:"omitempty,eth_addr"`
	RPCTimeout      time.Duration `envconfig:"RPC_TIMEOUT" default:"10s"`
	AdminPrivateKey string        `envconfig:"ADMIN_PRIVATE_KEY" validate:"omitempty,hexadecimal"`
}

// BillingConfig holds billing switches.
type BillingConfig struct {
	AllowPlanOverride bool `envconfig:"ALLOW_PLAN_OVERRIDE"`
}

// RateLimitConfig bounds how many prompts a user may submit per window.
type RateLimitConfig struct {
	Messages int           `envconfig:"MESSAGES" default:"10" validate:"min=1"`
	Window   time.Duration `envconfig:"WINDOW" default:"1m" validate:"min=1s"`
}

// TranscriptConfig controls per-thread agent transcripts on disk.
type TranscriptConfig struct {
	Enabled   bool   `envconfig:"ENABLED"`
	Dir       string `envconfig:"DIR" default:"./data/transcripts"`
	QueueSize int    `envconfig:"QUEUE_SIZE" default:"1024" validate:"min=1"`
}

// TimeoutConfig holds operation timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration `envconfig:"HEALTH_CHECK" default:"5s"`
	Shutdown    time.Duration `envconfig:"SHUTDOWN" default:"10s"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	// The chain and admin key keep their historical unprefixed names.
	if v, ok := os.LookupEnv("ADMIN_PRIVATE_KEY"); ok && cfg.Chain.AdminPrivateKey == "" {
		cfg.Chain.AdminPrivateKey = v
	}
	if v, ok := os.LookupEnv("GEMINI_API_KEY"); ok && cfg.LLM.GeminiAPIKey == "" {
		cfg.LLM.GeminiAPIKey = v
	}
	if v, ok := os.LookupEnv("OPENAI_API_KEY"); ok && cfg.LLM.OpenAIAPIKey == "" {
		cfg.LLM.OpenAIAPIKey = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.CreditTimeZone); err != nil {
		return fmt.Errorf("CREDIT_TIMEZONE: %w", err)
	}
	if c.LLM.APIKey() == "" {
		return errors.New("one of GEMINI_API_KEY or OPENAI_API_KEY must be set")
	}
	if c.IsDevelopment() {
		return nil
	}
	if c.Privy.AppID == "" || c.Privy.VerificationKey == "" {
		return errors.New("PRIVY_APP_ID and PRIVY_VERIFICATION_KEY are required outside development")
	}
	if c.Chain.ContractAddress == "" {
		return errors.New("SAGENT_CONTRACT_ADDRESS is required outside development")
	}
	return nil
}

// Location returns the time zone used to decide calendar days for credit refresh.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.CreditTimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" {
		return c.AppEnv == "development" || c.AppEnv == "test"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}
