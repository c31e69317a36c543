package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend identifies which database implementation backs the repositories.
const (
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	DatabaseBackend string `mapstructure:"DATABASE_BACKEND"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32  `mapstructure:"DB_MIN_CONNS"`
	MongoURL        string `mapstructure:"MONGO_URL"`
	MongoDatabase   string `mapstructure:"MONGO_DATABASE"`

	HL7Port              int `mapstructure:"HL7_PORT"`
	HL7MaxConnections    int `mapstructure:"HL7_MAX_CONNECTIONS"`
	HL7ClientTimeoutSecs int `mapstructure:"HL7_CLIENT_TIMEOUT_SECONDS"`
	HL7BufferSize        int `mapstructure:"HL7_BUFFER_SIZE"`
	HL7MaxProtocolErrors int `mapstructure:"HL7_MAX_PROTOCOL_ERRORS"`

	PayloadTimeoutSecs int `mapstructure:"PAYLOAD_TIMEOUT_SECONDS"`
	PayloadMaxFiles    int `mapstructure:"PAYLOAD_MAX_FILES"`
	PayloadMaxRetries  int `mapstructure:"PAYLOAD_MAX_RETRIES"`

	RetryMaxAttempts      int `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryInitialDelaySecs int `mapstructure:"RETRY_INITIAL_DELAY_SECONDS"`

	InferenceMaxRetries int `mapstructure:"INFERENCE_MAX_RETRIES"`

	NATSURL             string `mapstructure:"NATS_URL"`
	NATSSubjectWorkflow string `mapstructure:"NATS_SUBJECT_WORKFLOW"`

	StoragePath string `mapstructure:"STORAGE_PATH"`

	AuthSecret string `mapstructure:"AUTH_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATABASE_BACKEND", BackendPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MONGO_DATABASE", "medgate")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("HL7_PORT", 2575)
	v.SetDefault("HL7_MAX_CONNECTIONS", 10)
	v.SetDefault("HL7_CLIENT_TIMEOUT_SECONDS", 60)
	v.SetDefault("HL7_BUFFER_SIZE", 10240)
	v.SetDefault("HL7_MAX_PROTOCOL_ERRORS", 5)
	v.SetDefault("PAYLOAD_TIMEOUT_SECONDS", 5)
	v.SetDefault("PAYLOAD_MAX_FILES", 0) // 0 disables the count trigger
	v.SetDefault("PAYLOAD_MAX_RETRIES", 3)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_INITIAL_DELAY_SECONDS", 1)
	v.SetDefault("INFERENCE_MAX_RETRIES", 3)
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_SUBJECT_WORKFLOW", "medgate.workflow.request")
	v.SetDefault("STORAGE_PATH", "/var/lib/medgate/payloads")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("DATABASE_BACKEND")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MONGO_URL")
	v.BindEnv("MONGO_DATABASE")
	v.BindEnv("HL7_PORT")
	v.BindEnv("HL7_MAX_CONNECTIONS")
	v.BindEnv("HL7_CLIENT_TIMEOUT_SECONDS")
	v.BindEnv("HL7_BUFFER_SIZE")
	v.BindEnv("HL7_MAX_PROTOCOL_ERRORS")
	v.BindEnv("PAYLOAD_TIMEOUT_SECONDS")
	v.BindEnv("PAYLOAD_MAX_FILES")
	v.BindEnv("PAYLOAD_MAX_RETRIES")
	v.BindEnv("RETRY_MAX_ATTEMPTS")
	v.BindEnv("RETRY_INITIAL_DELAY_SECONDS")
	v.BindEnv("INFERENCE_MAX_RETRIES")
	v.BindEnv("NATS_URL")
	v.BindEnv("NATS_SUBJECT_WORKFLOW")
	v.BindEnv("STORAGE_PATH")
	v.BindEnv("AUTH_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the gateway is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HL7ClientTimeout is the idle read timeout for a clinical-message session.
func (c *Config) HL7ClientTimeout() time.Duration {
	return time.Duration(c.HL7ClientTimeoutSecs) * time.Second
}

// PayloadTimeout is how long a payload bucket waits after the last file
// before it is considered complete.
func (c *Config) PayloadTimeout() time.Duration {
	return time.Duration(c.PayloadTimeoutSecs) * time.Second
}

// RetryInitialDelay is the first backoff interval for persistence retries.
func (c *Config) RetryInitialDelay() time.Duration {
	return time.Duration(c.RetryInitialDelaySecs) * time.Second
}

// Validate checks that the configuration is safe to run. The configured
// database backend must have its connection settings, and production mode
// requires a signing secret for the admin API.
func (c *Config) Validate() error {
	switch c.DatabaseBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_BACKEND is %q", BackendPostgres)
		}
	case BackendMongoDB:
		if c.MongoURL == "" {
			return fmt.Errorf("MONGO_URL is required when DATABASE_BACKEND is %q", BackendMongoDB)
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("MONGO_DATABASE is required when DATABASE_BACKEND is %q", BackendMongoDB)
		}
	default:
		return fmt.Errorf("DATABASE_BACKEND must be %q or %q, got %q",
			BackendPostgres, BackendMongoDB, c.DatabaseBackend)
	}

	if c.HL7Port <= 0 || c.HL7Port > 65535 {
		return fmt.Errorf("HL7_PORT must be a valid port, got %d", c.HL7Port)
	}
	if c.HL7MaxConnections < 1 {
		return fmt.Errorf("HL7_MAX_CONNECTIONS must be at least 1, got %d", c.HL7MaxConnections)
	}
	if c.PayloadTimeoutSecs < 1 {
		return fmt.Errorf("PAYLOAD_TIMEOUT_SECONDS must be at least 1, got %d", c.PayloadTimeoutSecs)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}

	if c.IsProduction() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required in production")
	}

	return nil
}
