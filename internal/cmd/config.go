package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the node configuration, loaded from a yaml file. Rooms are
// seeded administratively at startup; a room that already exists in the
// store is left untouched.
type Config struct {
	Rooms []RoomConfig `yaml:"rooms"`
}

type RoomConfig struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	BetAmount    float64 `yaml:"bet_amount"`
	MaxPlayers   int     `yaml:"max_players"`
	CardPoolSize int     `yaml:"card_pool_size"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for i := range config.Rooms {
		if config.Rooms[i].CardPoolSize == 0 {
			config.Rooms[i].CardPoolSize = 100
		}
		if config.Rooms[i].MaxPlayers == 0 {
			config.Rooms[i].MaxPlayers = 20
		}
	}
	return &config, nil
}
