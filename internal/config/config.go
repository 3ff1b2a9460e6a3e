package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const DefaultPort = 8080

// Config is the relay configuration.
type Config struct {
	ConfigFile string `mapstructure:"config"`
	EnvFile    string `mapstructure:"env_file"`
	Port       int    `mapstructure:"port"`
	Level      string `mapstructure:"level"`

	// SnapshotDelay is how long after accept a connection receives its first userList.
	SnapshotDelay   time.Duration `mapstructure:"snapshot_delay"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env_file", ".env")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("level", "info")
	v.SetDefault("snapshot_delay", time.Second)
	v.SetDefault("send_buffer", 256)
	v.SetDefault("write_wait", 10*time.Second)
	v.SetDefault("pong_wait", 60*time.Second)
	v.SetDefault("max_message_size", 64*1024)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Load resolves the configuration from flags, environment, an optional
// config file, an optional .env file and defaults, in that order of precedence.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("tutorchat", pflag.ContinueOnError)
	fs.String("config", "", "Config file location")
	fs.String("env_file", ".env", "Dotenv file loaded into the environment if present")
	fs.Int("port", DefaultPort, "Listen port")
	fs.String("level", "info", "Log level")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if err := loadEnvFile(v.GetString("env_file")); err != nil {
		return nil, err
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("level", "LOG_LEVEL", "LEVEL")

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate checks the values Load cannot coerce on its own.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err != nil {
		return fmt.Errorf("invalid level: %s", c.Level)
	}
	if c.SendBuffer <= 0 {
		return errors.New("send_buffer must be positive")
	}
	if c.SnapshotDelay < 0 {
		return errors.New("snapshot_delay must not be negative")
	}
	if c.PongWait <= 0 || c.WriteWait <= 0 {
		return errors.New("pong_wait and write_wait must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
