package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Search       SearchConfig       `mapstructure:"search"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Notification NotificationConfig `mapstructure:"notification"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	PublicURL       string        `mapstructure:"public_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig points at the Supabase Postgres instance.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	DirectURL       string        `mapstructure:"direct_url"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	Debug           bool          `mapstructure:"debug"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig is the Supabase S3-compatible bucket used for attachments.
type StorageConfig struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	PublicURL string `mapstructure:"public_url"`
}

type SearchConfig struct {
	ElasticsearchURL string `mapstructure:"elasticsearch_url"`
	Index            string `mapstructure:"index"`
}

type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	EventChannel string        `mapstructure:"event_channel"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	From     string `mapstructure:"from"`
	Password string `mapstructure:"password"`
}

type NotificationConfig struct {
	SMSWebhookURL      string        `mapstructure:"sms_webhook_url"`
	WhatsAppWebhookURL string        `mapstructure:"whatsapp_webhook_url"`
	RateLimit          int           `mapstructure:"rate_limit"`
	RateWindow         time.Duration `mapstructure:"rate_window"`
}

type WorkflowConfig struct {
	EscalationTimeout time.Duration `mapstructure:"escalation_timeout"`
	AuthorityRoles    []string      `mapstructure:"authority_roles"`
	AuthorityChain    []string      `mapstructure:"authority_chain"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config.yaml from ./configs or the working directory and lets
// environment variables override it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DirectURL == "" {
		return fmt.Errorf("env variable DIRECT_URL is empty")
	}
	if c.Workflow.EscalationTimeout <= 0 {
		return fmt.Errorf("workflow.escalation_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.public_url", "http://localhost:5173")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.migrations_path", "file://db/migrations")
	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("search.index", "documents")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.event_channel", "iaoms:events")
	v.SetDefault("redis.cache_ttl", 10*time.Minute)

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)

	v.SetDefault("notification.rate_limit", 10)
	v.SetDefault("notification.rate_window", time.Hour)

	v.SetDefault("workflow.escalation_timeout", 24*time.Hour)
	v.SetDefault("workflow.authority_roles", []string{"principal", "registrar", "dean", "chairman", "admin"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func bindEnvVariables(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.mode", "GIN_MODE")
	v.BindEnv("server.public_url", "PUBLIC_URL")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.direct_url", "DIRECT_URL")

	// Supabase storage
	v.BindEnv("storage.region", "SUPABASE_REGION")
	v.BindEnv("storage.endpoint", "SUPABASE_S3_ENDPOINT")
	v.BindEnv("storage.access_key", "SUPABASE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "SUPABASE_SECRET_KEY")
	v.BindEnv("storage.bucket", "SUPABASE_BUCKET")
	v.BindEnv("storage.public_url", "SUPABASE_S3_URL")

	// Search
	v.BindEnv("search.elasticsearch_url", "ELASTICSEARCH_URL")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Notifications
	v.BindEnv("smtp.from", "SMTP_FROM")
	v.BindEnv("smtp.password", "GMAIL_PASSWORD")
	v.BindEnv("notification.sms_webhook_url", "SMS_WEBHOOK_URL")
	v.BindEnv("notification.whatsapp_webhook_url", "WHATSAPP_WEBHOOK_URL")
}
