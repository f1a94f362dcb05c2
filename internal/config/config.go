package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MeteringProvider holds credentials for one external usage metering API.
// Each provider gets its own typed struct so a missing field fails loudly
// at startup instead of surfacing as a nil lookup inside the aggregator.
type MeteringProvider struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// InvoicingConfig holds the generation run defaults. Named so the
// generation service can take just this slice of the config.
type InvoicingConfig struct {
	Currency            string `mapstructure:"currency"`
	DueInDays           int    `mapstructure:"due_in_days"`
	AutoCreateCustomers bool   `mapstructure:"auto_create_customers"`
}

// ExportConfig points at the S3-compatible bucket that archives CSV
// exports. An empty bucket disables archiving.
type ExportConfig struct {
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Bucket    string `mapstructure:"s3_bucket"`
}

type Config struct {
	Server struct {
		Port               int      `mapstructure:"port"`
		MonitoringPort     int      `mapstructure:"monitoring_port"`
		CorsAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
		CorsAllowedMethods []string `mapstructure:"cors_allowed_methods"`
		CorsAllowedHeaders []string `mapstructure:"cors_allowed_headers"`
	} `mapstructure:"server"`

	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"database"`

	JWT struct {
		Secret          string `mapstructure:"secret"`
		ExpirationHours int    `mapstructure:"expiration_hours"`
		Issuer          string `mapstructure:"issuer"`
	} `mapstructure:"jwt"`

	Stripe struct {
		SecretKey     string `mapstructure:"secret_key"`
		WebhookSecret string `mapstructure:"webhook_secret"`
	} `mapstructure:"stripe"`

	Metering struct {
		SMS    MeteringProvider `mapstructure:"sms"`
		Voice  MeteringProvider `mapstructure:"voice"`
		ConvAI MeteringProvider `mapstructure:"conversational_ai"`
	} `mapstructure:"metering"`

	Invoicing InvoicingConfig `mapstructure:"invoicing"`

	Export ExportConfig `mapstructure:"export"`
}

func Load() *Config {
	// Load .env file if exists (ignore error in production)
	godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile("configs/config.yaml")

	// Auto bind environment variables
	v.AutomaticEnv()

	// Set sensible defaults (binary works without config file)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.monitoring_port", 9090)
	v.SetDefault("jwt.expiration_hours", 24)
	v.SetDefault("jwt.issuer", "billing-backend")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "billing_db")
	v.SetDefault("invoicing.currency", "cad")
	v.SetDefault("invoicing.due_in_days", 30)
	v.SetDefault("invoicing.auto_create_customers", true)
	v.SetDefault("export.s3_region", "auto")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		log.Printf("[Config] No config file found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("config unmarshal error: %v", err)
	}

	// Override database settings from DB_* environment variables
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Database.Port = n
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if pass := os.Getenv("DB_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Database.Name = name
	}

	// Override JWT secret from environment if not set
	if cfg.JWT.Secret == "" || cfg.JWT.Secret == "${JWT_SECRET}" {
		cfg.JWT.Secret = os.Getenv("JWT_SECRET")
		if cfg.JWT.Secret == "" {
			log.Fatal("JWT_SECRET not found in environment or config file")
		}
	}

	// Stripe credentials: environment beats config file. DB-backed system
	// settings override both at call time (see services.StripeService).
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		cfg.Stripe.SecretKey = key
	}
	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Stripe.WebhookSecret = secret
	}

	// Metering provider credentials from environment
	if key := os.Getenv("SMS_METERING_API_KEY"); key != "" {
		cfg.Metering.SMS.APIKey = key
	}
	if url := os.Getenv("SMS_METERING_BASE_URL"); url != "" {
		cfg.Metering.SMS.BaseURL = url
	}
	if key := os.Getenv("VOICE_METERING_API_KEY"); key != "" {
		cfg.Metering.Voice.APIKey = key
	}
	if url := os.Getenv("VOICE_METERING_BASE_URL"); url != "" {
		cfg.Metering.Voice.BaseURL = url
	}
	if key := os.Getenv("CONVAI_METERING_API_KEY"); key != "" {
		cfg.Metering.ConvAI.APIKey = key
	}
	if url := os.Getenv("CONVAI_METERING_BASE_URL"); url != "" {
		cfg.Metering.ConvAI.BaseURL = url
	}

	// Export archive credentials from environment
	if key := os.Getenv("EXPORT_S3_ACCESS_KEY"); key != "" {
		cfg.Export.S3AccessKey = key
	}
	if secret := os.Getenv("EXPORT_S3_SECRET_KEY"); secret != "" {
		cfg.Export.S3SecretKey = secret
	}
	if bucket := os.Getenv("EXPORT_S3_BUCKET"); bucket != "" {
		cfg.Export.S3Bucket = bucket
	}
	if endpoint := os.Getenv("EXPORT_S3_ENDPOINT"); endpoint != "" {
		cfg.Export.S3Endpoint = endpoint
	}

	return &cfg
}
