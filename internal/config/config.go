package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Env           string `env:"ENV" env-default:"prod"`
	GrpcPort      int    `env:"GRPC_PORT" env-default:"50030"`
	StorageDriver string `env:"STORAGE_DRIVER" env-default:"postgres"`
	// SeedUsers lists id:name pairs loaded into the memory driver.
	SeedUsers []string `env:"SEED_USERS" env-separator:","`
	HTTP      HTTPConfig
	DB        DBConfig
	S3        S3Config
	Redis     RedisConfig
	Auth      AuthConfig
	WS        WSConfig
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
}

type DBConfig struct {
	Host           string `env:"DB_HOST" env-default:"localhost"`
	Port           int    `env:"DB_PORT" env-default:"5222"`
	User           string `env:"DB_USER" env-default:"postgres"`
	Password       string `env:"DB_PASSWORD"`
	Name           string `env:"DB_NAME" env-default:"chat"`
	MinPools       int    `env:"DB_MIN_POOLS" env-default:"3"`
	MaxPools       int    `env:"DB_MAX_POOLS" env-default:"5"`
	MigrationsPath string `env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

type S3Config struct {
	Endpoint   string `env:"S3_ENDPOINT" env-default:"localhost:9000"`
	User       string `env:"S3_USER" env-default:"minioadmin"`
	Password   string `env:"S3_PASSWORD"`
	BucketName string `env:"S3_BUCKET_NAME" env-default:"chat-images"`
	IsUseSsl   bool   `env:"S3_USE_SSL" env-default:"false"`
	PublicURL  string `env:"S3_PUBLIC_URL" env-default:"http://localhost:9000"`
}

type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	User     string `env:"REDIS_USER"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" env-default:"10"`
}

type AuthConfig struct {
	Secret     string        `env:"JWT_SECRET" env-required:"true"`
	AccessTTL  time.Duration `env:"JWT_ACCESS_TTL" env-default:"15m"`
	RefreshTTL time.Duration `env:"JWT_REFRESH_TTL" env-default:"720h"`
}

type WSConfig struct {
	SendBuffer     int           `env:"WS_SEND_BUFFER" env-default:"256"`
	WriteWait      time.Duration `env:"WS_WRITE_WAIT" env-default:"10s"`
	PongWait       time.Duration `env:"WS_PONG_WAIT" env-default:"60s"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" env-default:"8388608"`
	HealthInterval time.Duration `env:"HEALTH_INTERVAL" env-default:"15s"`
}

func MustLoad() *Config {
	path := fetchPath()
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	cfg := &Config{}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DB.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the %s driver", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	return nil
}

// Profiles parses SeedUsers. An entry without a name uses the id.
func (c *Config) Profiles() []models.Profile {
	profiles := make([]models.Profile, 0, len(c.SeedUsers))
	for _, entry := range c.SeedUsers {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, name, ok := strings.Cut(entry, ":")
		if !ok {
			name = id
		}
		profiles = append(profiles, models.Profile{ID: id, Name: name})
	}
	return profiles
}

func fetchPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	return path
}
