package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Kernel    KernelConfig    `mapstructure:"kernel"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Handshake HandshakeConfig `mapstructure:"handshake"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// KernelConfig configures how worker processes are spawned. PythonPath
// overrides PATH search; it is applied as TWINSONG_PYTHON when that
// variable is not already set in the environment. WorkerArgs are
// appended after the interpreter, e.g. ["-m", "twinsong_worker"].
type KernelConfig struct {
	PythonPath string   `mapstructure:"python_path"`
	WorkerArgs []string `mapstructure:"worker_args"`
}

// StorageConfig names the directory QueryDir enumerates and notebooks
// are resolved relative to.
type StorageConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// HandshakeConfig configures the shared-secret token observers must
// present before being attached to a notebook.
type HandshakeConfig struct {
	Secret    string `mapstructure:"secret"`
	TTLSecond int    `mapstructure:"ttl_seconds"`
}

func (h *HandshakeConfig) GetTTL() time.Duration {
	return time.Duration(h.TTLSecond) * time.Second
}

// AuditConfig configures the optional Postgres-backed kernel lifecycle
// log. Disabled unless Enabled is set.
type AuditConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *AuditConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func (d *AuditConfig) GetConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetime) * time.Second
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Load initializes the configuration from config file and starts
// watching it for hot reload.
func Load(configPath string) (*Config, error) {
	var loadErr error

	once.Do(func() {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		viper.AutomaticEnv()
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		if err := viper.ReadInConfig(); err != nil {
			loadErr = fmt.Errorf("failed to read config file: %w", err)
			return
		}

		cfg = &Config{}
		if err := viper.Unmarshal(cfg); err != nil {
			loadErr = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}

		viper.WatchConfig()
		viper.OnConfigChange(func(e fsnotify.Event) {
			log.Info().Str("file", e.Name).Msg("config file changed, reloading")
			mu.Lock()
			defer mu.Unlock()
			if err := viper.Unmarshal(cfg); err != nil {
				log.Error().Err(err).Msg("failed to reload config")
			} else {
				log.Info().Msg("config reloaded")
			}
		})
	})

	return cfg, loadErr
}

// Get returns the current configuration (thread-safe).
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// GetAddress returns the server's listen address.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
