package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ICEServer is one STUN/TURN entry handed to the peer-connection factory.
// Credentials are configuration data and never live in the orchestration code.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// Config holds everything the client needs to reach a room.
type Config struct {
	RelayURL     string        `mapstructure:"relay_url"`
	RoomID       string        `mapstructure:"room_id"`
	DisplayName  string        `mapstructure:"display_name"`
	Role         string        `mapstructure:"role"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	LogLevel     string        `mapstructure:"log_level"`
	ICEServers   []ICEServer   `mapstructure:"ice_servers"`
}

// Load reads stagecast.yaml (if present) and STAGECAST_* environment
// variables, env winning. A .env file is folded into the environment first
// and never overwrites variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("stagecast")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("STAGECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("relay_url", "ws://localhost:5000/ws")
	v.SetDefault("room_id", "")
	v.SetDefault("display_name", "User-"+uuid.NewString()[:8])
	v.SetDefault("role", "viewer")
	v.SetDefault("ping_interval", "25s")
	v.SetDefault("log_level", "info")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("relay_url is required")
	}
	return &cfg, nil
}
