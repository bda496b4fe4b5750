package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" json:"env" env:"ENV" env-default:"local"`
	LogFile   string          `yaml:"log_file" json:"log_file" env:"LOG_FILE"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	API       APIConfig       `yaml:"api" json:"api"`
	Telegram  TelegramConfig  `yaml:"telegram" json:"telegram"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka" json:"kafka"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr" json:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// APIConfig points at the resource-management backend. Key and secret are the
// static integration credentials sent on the profile update.
type APIConfig struct {
	URL            string        `yaml:"url" json:"url" env:"API_URL" env-required:"true"`
	Key            string        `yaml:"key" json:"key" env:"API_KEY"`
	Secret         string        `yaml:"secret" json:"secret" env:"API_SECRET"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" env:"API_REQUEST_TIMEOUT" env-default:"10s"`
	// RequestsPerSecond paces outbound calls. Zero disables pacing.
	RequestsPerSecond int `yaml:"requests_per_second" json:"requests_per_second" env:"API_REQUESTS_PER_SECOND" env-default:"20"`
}

type TelegramConfig struct {
	// BotToken enables init data and login widget hash checks when set.
	BotToken    string        `yaml:"bot_token" json:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	InitDataTTL time.Duration `yaml:"init_data_ttl" json:"init_data_ttl" env:"TELEGRAM_INIT_DATA_TTL" env-default:"24h"`
	CloseDelay  time.Duration `yaml:"close_delay" json:"close_delay" env:"TELEGRAM_CLOSE_DELAY" env-default:"3s"`
}

type SessionConfig struct {
	// Key is the hex encoded 32 byte PASETO key, see cmd/genkey.
	Key           string        `yaml:"key" json:"key" env:"SESSION_KEY" env-required:"true"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" env:"SESSION_TTL" env-default:"15m"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" env:"SESSION_SWEEP_INTERVAL" env-default:"1m"`
	SecureCookie  bool          `yaml:"secure_cookie" json:"secure_cookie" env:"SESSION_SECURE_COOKIE" env-default:"true"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" json:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" json:"db" env:"REDIS_DB"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" json:"topic" env:"KAFKA_TOPIC" env-default:"tglink.link"`
}

type RateLimitConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" env:"LOGIN_MAX_ATTEMPTS" env-default:"10"`
	Window      time.Duration `yaml:"window" json:"window" env:"LOGIN_ATTEMPT_WINDOW" env-default:"10m"`
	BlockTime   time.Duration `yaml:"block_time" json:"block_time" env:"LOGIN_BLOCK_TIME" env-default:"1h"`
}

func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		return MustLoadEnv()
	}

	return MustLoadByPath(path)
}

func MustLoadByPath(path string) *Config {
	cfg, err := LoadByPath(path)
	if err != nil {
		panic("failed to read config: " + err.Error())
	}

	return cfg
}

func MustLoadEnv() *Config {
	cfg, err := LoadEnv()
	if err != nil {
		panic("failed to read config from env: " + err.Error())
	}

	return cfg
}

// LoadByPath reads a yaml or json file. Environment variables override it.
func LoadByPath(path string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadEnv() (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func fetchConfigPath() string {
	var res string

	// --config="path/to/config.yaml"
	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
