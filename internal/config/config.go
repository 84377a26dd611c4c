package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config covers both binaries: the demo client reads the meeting section, the
// dev signaling server reads the server section.
type Config struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Room        string        `mapstructure:"room"`
	Token       string        `mapstructure:"token"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`

	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectBase     time.Duration `mapstructure:"reconnect_base"`
	ReconnectCap      time.Duration `mapstructure:"reconnect_cap"`

	Port       int           `mapstructure:"port"`
	Mode       string        `mapstructure:"mode"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("endpoint", "ws://localhost:8080")
	v.SetDefault("room", "dev")
	v.SetDefault("join_timeout", "10s")
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_base", "500ms")
	v.SetDefault("reconnect_cap", "8s")
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
