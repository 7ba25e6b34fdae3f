package server

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// ServerConfig represents the complete server configuration
type ServerConfig struct {
	Server ServerSettings `hcl:"server,block"`
	Game   GameSettings   `hcl:"game,block"`
	Redis  *RedisSettings `hcl:"redis,block"`
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`
	LogFile  string `hcl:"log_file,optional"`
}

// GameSettings contains room and calling configuration
type GameSettings struct {
	CallIntervalSeconds int `hcl:"call_interval_seconds,optional"`
	RequiredPlayers     int `hcl:"required_players,optional"`
	DefaultCoins        int `hcl:"default_coins,optional"`
}

// RedisSettings enables redis-backed wallets and game history. When the
// block is absent everything is kept in memory.
type RedisSettings struct {
	Addr     string `hcl:"addr,optional"`
	Password string `hcl:"password,optional"`
	DB       int    `hcl:"db,optional"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSettings{
			Address:  "localhost",
			Port:     8080,
			LogLevel: "info",
			LogFile:  "housie-server.log",
		},
		Game: GameSettings{
			CallIntervalSeconds: 5,
			RequiredPlayers:     2,
			DefaultCoins:        100,
		},
	}
}

// LoadServerConfig loads server configuration from HCL file
func LoadServerConfig(filename string) (*ServerConfig, error) {
	// Check if file exists
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultServerConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config ServerConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	// Apply defaults for missing values
	if config.Server.Address == "" {
		config.Server.Address = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = "info"
	}
	if config.Server.LogFile == "" {
		config.Server.LogFile = "housie-server.log"
	}
	if config.Game.CallIntervalSeconds == 0 {
		config.Game.CallIntervalSeconds = 5
	}
	if config.Game.RequiredPlayers == 0 {
		config.Game.RequiredPlayers = 2
	}
	if config.Game.DefaultCoins == 0 {
		config.Game.DefaultCoins = 100
	}
	if config.Redis != nil && config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}

	return &config, nil
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Game.CallIntervalSeconds < 1 {
		return fmt.Errorf("call interval must be at least one second, got %d", c.Game.CallIntervalSeconds)
	}
	if c.Game.RequiredPlayers < 2 {
		return fmt.Errorf("required players must be at least 2, got %d", c.Game.RequiredPlayers)
	}
	if c.Game.DefaultCoins < 0 {
		return fmt.Errorf("default coins must not be negative, got %d", c.Game.DefaultCoins)
	}
	return nil
}

// GetServerAddress returns the full server address
func (c *ServerConfig) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
