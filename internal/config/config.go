// Package config loads application configuration from YAML with environment
// overrides and hot reload.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/maildesk-io/maildesk-ce/internal/database"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config is the application configuration tree.
type Config struct {
	App      AppConfig       `mapstructure:"app"`
	Database database.Config `mapstructure:"database"`
	Fetch    FetchConfig     `mapstructure:"fetch"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Events   EventsConfig    `mapstructure:"events"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	Timezone string `mapstructure:"timezone"`
}

// FetchConfig controls the ingestion loop.
type FetchConfig struct {
	// Schedule is a cron expression for the poll command.
	Schedule string `mapstructure:"schedule"`
	// Window bounds how far back the unseen query reaches.
	Window time.Duration `mapstructure:"window"`
	// DialTimeout applies to mail server connections.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// StorageConfig locates the attachment blob store.
type StorageConfig struct {
	Path    string `mapstructure:"path"`
	URLBase string `mapstructure:"url_base"`
}

// EventsConfig configures outbound event delivery.
type EventsConfig struct {
	Webhook struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
		Secret  string `mapstructure:"secret"`
	} `mapstructure:"webhook"`
}

// Load initializes the configuration singleton with hot reload support.
func Load(configPath string) error {
	var err error
	once.Do(func() {
		v := viper.New()
		v.SetConfigType("yaml")
		v.SetConfigName("maildesk")
		v.AddConfigPath(configPath)

		setDefaults(v)

		if readErr := v.ReadInConfig(); readErr != nil {
			// A missing file is fine; defaults and env vars still apply.
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("read config: %w", readErr)
				return
			}
		}

		v.SetEnvPrefix("MAILDESK")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			err = fmt.Errorf("unmarshal config: %w", err)
			return
		}

		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			newCfg := &Config{}
			if reloadErr := v.Unmarshal(newCfg); reloadErr != nil {
				fmt.Printf("config reload failed: %v\n", reloadErr)
				return
			}
			mu.Lock()
			cfg = newCfg
			mu.Unlock()
		})
	})
	return err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "maildesk")
	v.SetDefault("app.env", "development")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.name", "maildesk")
	v.SetDefault("fetch.schedule", "@every 1m")
	v.SetDefault("fetch.window", 72*time.Hour)
	v.SetDefault("fetch.dial_timeout", 30*time.Second)
	v.SetDefault("storage.path", "storage/attachments")
	v.SetDefault("storage.url_base", "/storage/attachments")
}

// Get returns the current configuration (thread-safe).
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// LoadFromFile loads configuration from one specific file, mainly for tests.
func LoadFromFile(configFile string) error {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// MustLoad loads configuration and panics on error.
func MustLoad(configPath string) {
	if err := Load(configPath); err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
}
