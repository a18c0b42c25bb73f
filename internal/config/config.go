package config

import (
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const envPrefix = "STOREFRONT"

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// Backend selects the store: "memory" or "mongo"
	Backend     string `envconfig:"BACKEND" default:"memory"`
	MongoURI    string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017/?replicaSet=rs0"`
	MongoDBName string `envconfig:"MONGO_DB_NAME" default:"storefront"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"order-events"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID" default:"order-history"`

	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"true"`

	CacheTTL           time.Duration `envconfig:"CACHE_TTL" default:"15m"`
	RatingDebounce     time.Duration `envconfig:"RATING_DEBOUNCE" default:"2s"`
	CancelWindow       time.Duration `envconfig:"CANCEL_WINDOW" default:"12h"`
	RetryAttempts      int           `envconfig:"RETRY_ATTEMPTS" default:"5"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`

	PaymentFailureRate float64 `envconfig:"PAYMENT_FAILURE_RATE" default:"0.1"`
}

// Load reads an optional .env file and then the process environment
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// A missing file is normal outside local development; later files still load
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, errors.Wrapf(err, "failed to load env file %s", f)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to process environment")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Backend {
	case "memory", "mongo":
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if c.RetryAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}
	if c.PaymentFailureRate < 0 || c.PaymentFailureRate > 1 {
		return errors.New("payment failure rate must be within [0, 1]")
	}
	return nil
}
