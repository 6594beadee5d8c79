package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации шлюза и консоли.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type GRPCConfig struct {
	Port int `mapstructure:"port"` // 0 — gRPC выключен
}

type MetricsConfig struct {
	Port int `mapstructure:"port"` // отдельный порт для /metrics
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	ConnectRetries int    `mapstructure:"connect_retries"`
}

// RedisConfig описывает подключение к Redis (политики и nonce входа).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console
	Issuer         string        `mapstructure:"issuer"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	NonceTTL       time.Duration `mapstructure:"nonce_ttl"`
	PublicKey      []byte
	PrivateKey     []byte
}

// PolicyConfig выбирает хранилище политик и режим дневного окна.
type PolicyConfig struct {
	Store       string `mapstructure:"store"`        // memory, redis, postgres
	DailyWindow string `mapstructure:"daily_window"` // calendar, rolling, lifetime
}

// GatewayConfig — защита /execute от шумного агента.
type GatewayConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"` // 0 — без лимита
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// AuditConfig — журнал решений.
type AuditConfig struct {
	Sink          string        `mapstructure:"sink"` // log, postgres
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// Circuit Breaker вокруг Postgres-синка
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    int           `mapstructure:"cb_failures"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()
	// Поиск config.yaml в . и ./configs
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	return loadConfig(v, false)
}

// LoadConfigFile читает конкретный файл (флаг -config), ENV по-прежнему перекрывает значения.
// Отсутствующий файл здесь ошибка, а не откат на дефолты.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	// SetConfigName сбросил бы явный путь, поэтому здесь его не вызываем
	v.SetConfigFile(path)
	return loadConfig(v, true)
}

func loadConfig(v *viper.Viper, explicit bool) (*Config, error) {
	// 1. ENV перекрывает конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 2. Дефолты
	setDefaults(v)

	// 3. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 4. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 5. PEM-ключ из ENV (Docker/K8s) или из файла по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("grpc.port", 50052)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.connect_retries", 30)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.issuer", "agentpay-console")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.nonce_ttl", 5*time.Minute)
	v.SetDefault("policy.store", "memory")
	v.SetDefault("policy.daily_window", "calendar")
	v.SetDefault("gateway.rate_limit_rps", 20)
	v.SetDefault("gateway.rate_limit_burst", 40)
	v.SetDefault("audit.sink", "log")
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 1*time.Second)
	v.SetDefault("audit.cb_max_requests", 3)
	v.SetDefault("audit.cb_interval", 5*time.Second)
	v.SetDefault("audit.cb_timeout", 30*time.Second)
	v.SetDefault("audit.cb_failures", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func (c *Config) validate() error {
	switch c.Policy.Store {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("config: policy.store %q (want memory|redis|postgres)", c.Policy.Store)
	}
	switch c.Audit.Sink {
	case "log", "postgres":
	default:
		return fmt.Errorf("config: audit.sink %q (want log|postgres)", c.Audit.Sink)
	}
	if (c.Policy.Store == "postgres" || c.Audit.Sink == "postgres") && c.Database.URL == "" {
		return errors.New("config: database.url is required for postgres store or sink")
	}
	return nil
}

// loadKeyResource ключ из ENV (PEM целиком) или из файла
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
