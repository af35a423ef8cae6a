package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	CatalogSupabase = "supabase"
	CatalogStatic   = "static"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	StoreDriver     string `envconfig:"STORE_DRIVER" default:"mongo"`
	MongoDBURI      string `envconfig:"MONGODB_URI"`
	MongoDBPassword string `envconfig:"MONGODB_PASSWORD"`
	MongoDBDatabase string `envconfig:"MONGODB_DATABASE" default:"fieldbook"`
	DatabaseURL     string `envconfig:"DATABASE_URL"`

	// Resource catalog and profiles
	CatalogDriver   string `envconfig:"CATALOG_DRIVER" default:"supabase"`
	CatalogFile     string `envconfig:"CATALOG_FILE" default:"fields.json"`
	SupabaseURL     string `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey string `envconfig:"SUPABASE_ANON_KEY"`

	// Auth
	JWTSecret    string `envconfig:"JWT_SECRET"`
	JWKSURL      string `envconfig:"JWKS_URL"`
	TicketSecret string `envconfig:"TICKET_SECRET" required:"true"`

	// Payment gateway
	VNPTmnCode    string `envconfig:"VNP_TMN_CODE"`
	VNPHashSecret string `envconfig:"VNP_HASH_SECRET"`
	VNPURL        string `envconfig:"VNP_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	VNPReturnURL  string `envconfig:"VNP_RETURN_URL"`
	FrontendURL   string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`

	Timezone      string        `envconfig:"TIMEZONE" default:"Asia/Ho_Chi_Minh"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	PaymentWindow time.Duration `envconfig:"PAYMENT_WINDOW" default:"0s"`

	// Notifications
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"fieldbook.events"`

	OTLPEndpoint string   `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	CORSOrigins  []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	location *time.Location
}

// LoadConfig reads .env.local when present, then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env.local")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.StoreDriver = strings.ToLower(c.StoreDriver)
	c.CatalogDriver = strings.ToLower(c.CatalogDriver)

	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoDBURI == "" {
			return fmt.Errorf("MONGODB_URI is required when STORE_DRIVER=mongo")
		}
		if strings.Contains(c.MongoDBURI, "<password>") && c.MongoDBPassword == "" {
			return fmt.Errorf("MONGODB_PASSWORD is required")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.CatalogDriver {
	case CatalogSupabase:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_ANON_KEY are required when CATALOG_DRIVER=supabase")
		}
	case CatalogStatic:
		if c.CatalogFile == "" {
			return fmt.Errorf("CATALOG_FILE is required when CATALOG_DRIVER=static")
		}
	default:
		return fmt.Errorf("unsupported CATALOG_DRIVER %q", c.CatalogDriver)
	}

	if c.JWTSecret == "" && c.JWKSURL == "" {
		return fmt.Errorf("JWT_SECRET or JWKS_URL is required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.PaymentWindow < 0 {
		return fmt.Errorf("PAYMENT_WINDOW must not be negative")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	c.location = loc
	return nil
}

// Location is the zone reservation dates and times are written in.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func (c *Config) PaymentConfigured() bool {
	return c.VNPTmnCode != "" && c.VNPHashSecret != "" && c.VNPReturnURL != ""
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
