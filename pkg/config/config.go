package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all the configuration for the application.
// The mapstructure tags tell Viper which YAML field maps to which struct field.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Provider ProviderConfig `mapstructure:"provider"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Enabled  bool   `mapstructure:"enabled"`
}

// StorageConfig selects where users and usage records live.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "memory", "redis", "postgres"
}

// ProviderConfig holds upstream credential settings.
type ProviderConfig struct {
	OperatorKey    string `mapstructure:"operator_key"`
	RequestTimeout int    `mapstructure:"request_timeout_seconds"`
}

// BridgeConfig configures the free-tier worker subprocess.
type BridgeConfig struct {
	Command        string   `mapstructure:"command"`
	Args           []string `mapstructure:"args"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	PoolSize       int      `mapstructure:"pool_size"`
}

// PolicyConfig is the operator-controlled moderation and limits policy.
// It is read through policy.Source on every request, so editing the YAML
// takes effect on the next request via hot reload.
type PolicyConfig struct {
	BlockedKeywords     []string `mapstructure:"blocked_keywords"`
	MaxResponseLength   int      `mapstructure:"max_response_length"`
	BlockHarmfulContent bool     `mapstructure:"block_harmful_content"`
	RequestsPerMinute   int      `mapstructure:"requests_per_minute"`
	RequestsPerDay      int      `mapstructure:"requests_per_day"`
	DefaultModel        string   `mapstructure:"default_model"`
	DefaultSystemPrompt string   `mapstructure:"default_system_prompt"`
}

// GuardConfig is the coarse server-wide inbound limiter, separate from the
// per-identity limiter in pkg/limit.
type GuardConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"requests_per_second"`
	Burst   int     `mapstructure:"burst"`
}

type LoggingConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
}

type AuthConfig struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	AdminKey      string `mapstructure:"admin_key"`
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// NewStatic returns a store holding a fixed config. Used by tests and the
// admin CLI, which have no config file to watch.
func NewStatic(cfg *Config) *Store {
	s := &Store{}
	s.set(cfg)
	return s
}

// LoadAndWatch loads the config and watches for on-disk changes.
func LoadAndWatch() (*Store, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.AddConfigPath("./configs")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := refresh(v, store); err != nil {
			logrus.WithError(err).Error("config reload failed")
		} else {
			logrus.WithField("file", e.Name).Info("config reloaded")
		}
	})

	return store, nil
}

// Load loads once and does not watch.
func Load() (*Config, error) {
	store, err := LoadAndWatch()
	if err != nil {
		return nil, err
	}
	return store.Get(), nil
}

func refresh(v *viper.Viper, store *Store) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	store.set(&cfg)
	return nil
}
