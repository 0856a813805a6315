package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall application configuration.
type Config struct {
	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel      string `envconfig:"LOG_LEVEL"                    default:"info"`
	ServerConfig  ServerConfig
	GatewayConfig GatewayManagerConfig
	WorkerConfig  WorkerConfig
}

// ServerConfig holds inbound SMPP server configuration.
type ServerConfig struct {
	Addr         string        `envconfig:"SERVER_ADDR"          default:"0.0.0.0:2775"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT"  default:"1s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
	AuthTimeout  time.Duration `envconfig:"SERVER_AUTH_TIMEOUT"  default:"5s"`
}

// GatewayManagerConfig holds outbound gateway manager configuration.
type GatewayManagerConfig struct {
	ConnectTimeout  time.Duration `envconfig:"GATEWAY_CONNECT_TIMEOUT"  default:"5s"`
	ConnectCooldown time.Duration `envconfig:"GATEWAY_CONNECT_COOLDOWN" default:"10s"`
	DrainTimeout    time.Duration `envconfig:"GATEWAY_DRAIN_TIMEOUT"    default:"50ms"`
	SendPacing      time.Duration `envconfig:"GATEWAY_SEND_PACING"      default:"1s"`
	ThrottlePause   time.Duration `envconfig:"GATEWAY_THROTTLE_PAUSE"   default:"5s"`
	BindTimeout     time.Duration `envconfig:"GATEWAY_BIND_TIMEOUT"     default:"5s"`
}

// WorkerConfig holds polling loop intervals and batch sizes.
type WorkerConfig struct {
	DeliveryInterval  time.Duration `envconfig:"WORKER_DELIVERY_INTERVAL"   default:"1s"`
	DeliveryBatchSize int           `envconfig:"WORKER_DELIVERY_BATCH_SIZE" default:"10"`
	StoreTimeout      time.Duration `envconfig:"WORKER_STORE_TIMEOUT"       default:"5s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
