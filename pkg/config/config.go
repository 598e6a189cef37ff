package config

// Package config provides a reusable loader for THE CORE's configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"chaincore/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config represents the unified configuration for a THE CORE node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		ChainID        int      `mapstructure:"chain_id" json:"chain_id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		GenesisFile    string   `mapstructure:"genesis_file" json:"genesis_file"`
		RPCEnabled     bool     `mapstructure:"rpc_enabled" json:"rpc_enabled"`
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	// Core bundles the daemon options named in SPEC_FULL.md §6: where state
	// and genesis data live, how the fork tree resolves forks, and the
	// per-call resource ceilings the controller enforces.
	Core struct {
		BaseDir                   string `mapstructure:"basedir" json:"basedir"`
		StateDir                  string `mapstructure:"statedir" json:"statedir"`
		AMQPURL                   string `mapstructure:"amqp" json:"amqp"`
		Jobs                      int    `mapstructure:"jobs" json:"jobs"`
		GenesisData               string `mapstructure:"genesis_data" json:"genesis_data"`
		Reset                     bool   `mapstructure:"reset" json:"reset"`
		ForkAlgorithm             string `mapstructure:"fork_algorithm" json:"fork_algorithm"`
		ReadComputeBandwidthLimit uint64 `mapstructure:"read_compute_bandwidth_limit" json:"read_compute_bandwidth_limit"`
		SystemCallBufferSize      int    `mapstructure:"system_call_buffer_size" json:"system_call_buffer_size"`
	} `mapstructure:"core" json:"core"`

	VM struct {
		MaxGasPerBlock int  `mapstructure:"max_gas_per_block" json:"max_gas_per_block"`
		OpcodeDebug    bool `mapstructure:"opcode_debug" json:"opcode_debug"`
	} `mapstructure:"vm" json:"vm"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
		Prune  bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level      string `mapstructure:"level" json:"level"`
		Dir        string `mapstructure:"dir" json:"dir"`
		Color      bool   `mapstructure:"color" json:"color"`
		DateTime   bool   `mapstructure:"datetime" json:"datetime"`
		InstanceID string `mapstructure:"instance_id" json:"instance_id"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
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

	viper.SetEnvPrefix("CHAINCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // picks up CHAINCORE_* overrides

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CHAINCORE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CHAINCORE_ENV", ""))
}
