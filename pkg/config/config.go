package config

// Package config provides a reusable loader for mesh peer configuration
// files and environment variables.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/cyberfly-mesh/meshpeer/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a mesh peer node. It
// mirrors the structure of the YAML files under cmd/meshnoded/config.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		RelayURL       string   `mapstructure:"relay_url" json:"relay_url"`
	} `mapstructure:"network" json:"network"`

	Mobile struct {
		Region     string `mapstructure:"region" json:"region"`
		EnableMQTT bool   `mapstructure:"enable_mqtt" json:"enable_mqtt"`
		EnableGeo  bool   `mapstructure:"enable_geo" json:"enable_geo"`

		// Reconnect* tune the §4.6 resilience policy; zero means "use the
		// package default" (see internal/resilience.Config).
		ReconnectMaxAttemptsPerCycle int `mapstructure:"reconnect_max_attempts_per_cycle" json:"reconnect_max_attempts_per_cycle"`
		ReconnectCycleSeconds        int `mapstructure:"reconnect_cycle_seconds" json:"reconnect_cycle_seconds"`
		ReconnectMaxBackoffSeconds   int `mapstructure:"reconnect_max_backoff_seconds" json:"reconnect_max_backoff_seconds"`
	} `mapstructure:"mobile" json:"mobile"`

	Storage struct {
		DataDir string `mapstructure:"data_dir" json:"data_dir"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/meshnoded/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // env vars named after the upper-cased keys override; no MESH_ prefix is set

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MESH_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MESH_ENV", ""))
}
