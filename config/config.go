package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is built once at process start and passed by reference to every
// component that talks to the outside world.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Mediator MediatorConfig `yaml:"mediator"`
	Weather  WeatherConfig  `yaml:"weather"`
	News     NewsConfig     `yaml:"news"`
	Auth     AuthConfig     `yaml:"auth"`
	Notify   NotifyConfig   `yaml:"notify"`
	Sessions SessionsConfig `yaml:"sessions"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type MediatorConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type WeatherConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type NewsConfig struct {
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Query    string        `yaml:"query"`
	PageSize int           `yaml:"page_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type NotifyConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// SessionsConfig controls how long finished sessions stay in memory.
type SessionsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Load reads the YAML file at path, applies defaults and then environment
// overrides. A missing file is not an error so env-only deployments work.
func Load(path string) (*Config, error) {
	// Zero is a valid temperature, so its default is seeded before the
	// file is decoded rather than filled in afterwards.
	cfg := Config{Mediator: MediatorConfig{Temperature: 0.7}}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.Mediator.APIKey, "GROQ_API_KEY", "XAI_API_KEY")
	setString(&c.Weather.APIKey, "WEATHER_API_KEY", "OPENWEATHER_API_KEY")
	setString(&c.News.APIKey, "NEWS_API_KEY")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if v := getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.Timeout == 0 {
		c.Database.Timeout = 3 * time.Second
	}
	if c.Mediator.BaseURL == "" {
		c.Mediator.BaseURL = "https://api.groq.com/openai/v1"
	}
	if c.Mediator.Model == "" {
		c.Mediator.Model = "llama-3.3-70b-versatile"
	}
	if c.Mediator.MaxTokens == 0 {
		c.Mediator.MaxTokens = 1500
	}
	if c.Mediator.Timeout == 0 {
		c.Mediator.Timeout = 30 * time.Second
	}
	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://api.openweathermap.org/data/2.5"
	}
	if c.Weather.Timeout == 0 {
		c.Weather.Timeout = 5 * time.Second
	}
	if c.News.BaseURL == "" {
		c.News.BaseURL = "https://newsapi.org/v2"
	}
	if c.News.Query == "" {
		c.News.Query = "logistics OR freight OR transport"
	}
	if c.News.PageSize == 0 {
		c.News.PageSize = 5
	}
	if c.News.Timeout == 0 {
		c.News.Timeout = 5 * time.Second
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
	if c.Sessions.Retention == 0 {
		c.Sessions.Retention = time.Hour
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = time.Minute
	}
}

// MediatorEnabled reports whether the external mediator can be called.
func (c *Config) MediatorEnabled() bool { return c.Mediator.APIKey != "" }

// PersistenceEnabled reports whether a database URL was supplied.
func (c *Config) PersistenceEnabled() bool { return c.Database.URL != "" }
