package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	FeedMemory = "memory"
	FeedRedis  = "redis"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Env          string             `yaml:"env" env:"ENV" env-default:"local"`
	HTTP         HTTPConfig         `yaml:"http"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Feed         FeedConfig         `yaml:"feed"`
	Chat         ChatConfig         `yaml:"chat"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Auth         AuthConfig         `yaml:"auth"`
	AV           AVConfig           `yaml:"av"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DATABASE_DRIVER" env-default:"memory"`
	DSN    string `yaml:"dsn" env:"DATABASE_DSN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type FeedConfig struct {
	Backend string `yaml:"backend" env:"FEED_BACKEND" env-default:"memory"`
}

type ChatConfig struct {
	WindowSize       int `yaml:"window_size" env-default:"200"`
	MaxMessageLength int `yaml:"max_message_length" env-default:"500"`
}

type SubscriptionConfig struct {
	MaxRetries      int           `yaml:"max_retries" env-default:"5"`
	InitialInterval time.Duration `yaml:"initial_interval" env-default:"250ms"`
	MaxInterval     time.Duration `yaml:"max_interval" env-default:"5s"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	TokenTTL        time.Duration `yaml:"token_ttl" env-default:"24h"`
	FederatedSecret string        `yaml:"federated_secret" env:"AUTH_FEDERATED_SECRET"`
	FederatedIssuer string        `yaml:"federated_issuer" env:"AUTH_FEDERATED_ISSUER"`
	BcryptCost      int           `yaml:"bcrypt_cost" env-default:"10"`
}

type AVConfig struct {
	AppID           string        `yaml:"app_id" env:"AV_APP_ID" env-default:"streamroom"`
	ServerSecret    string        `yaml:"server_secret" env:"AV_SERVER_SECRET"`
	TokenTTL        time.Duration `yaml:"token_ttl" env-default:"1h"`
	SignalingURL    string        `yaml:"signaling_url" env:"AV_SIGNALING_URL"`
	STUNServers     []string      `yaml:"stun_servers"`
	MaxParticipants int           `yaml:"max_participants" env-default:"50"`
	Layout          string        `yaml:"layout" env-default:"Auto"`
	LinkOrigin      string        `yaml:"link_origin" env:"AV_LINK_ORIGIN"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

// Default returns a config built from defaults and the environment only.
func Default() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("cannot read config from env: " + err.Error())
	}
	cfg.setDefaults()
	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}
	if c.Feed.Backend == "" {
		c.Feed.Backend = FeedMemory
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMemory
	}
	if c.AV.SignalingURL == "" {
		addr := c.HTTP.Address
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		c.AV.SignalingURL = "ws://" + addr + "/api/signal"
	}
	if len(c.AV.STUNServers) == 0 {
		c.AV.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
}
