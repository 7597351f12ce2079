package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/MLTQ/OrbWeaver-sub000/pkg/utils"
)

// Config is the top-level configuration tree, one nested struct per
// concern (spec.md's ambient stack, SPEC_FULL.md §9).
type Config struct {
	Network   NetworkConfig   `mapstructure:"network" json:"network"`
	Storage   StorageConfig   `mapstructure:"storage" json:"storage"`
	Discovery DiscoveryConfig `mapstructure:"discovery" json:"discovery"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
}

// NetworkConfig controls the libp2p host and gossip fabric.
type NetworkConfig struct {
	ListenAddr       string `mapstructure:"listen_addr" json:"listen_addr"`
	DiscoveryTag     string `mapstructure:"discovery_tag" json:"discovery_tag"`
	IngestBufferSize int    `mapstructure:"ingest_buffer_size" json:"ingest_buffer_size"`
	OptedInGlobal    bool   `mapstructure:"opted_in_global" json:"opted_in_global"`
}

// StorageConfig controls the relational store and blob store locations.
type StorageConfig struct {
	DataDir  string `mapstructure:"data_dir" json:"data_dir"`
	DBPath   string `mapstructure:"db_path" json:"db_path"`
	BlobsDir string `mapstructure:"blobs_dir" json:"blobs_dir"`
}

// DiscoveryConfig controls the Kademlia DHT bootstrap.
type DiscoveryConfig struct {
	BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
}

// LoggingConfig controls logrus output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// AppConfig is the process-wide configuration, populated by Load or
// LoadFromEnv before the rest of the node is constructed.
var AppConfig Config

func defaults() Config {
	return Config{
		Network: NetworkConfig{
			ListenAddr:       "/ip4/0.0.0.0/tcp/0",
			DiscoveryTag:     "orbweaver-mdns",
			IngestBufferSize: 128,
			OptedInGlobal:    false,
		},
		Storage: StorageConfig{
			DataDir:  "./data",
			DBPath:   "./data/orbweaver.db",
			BlobsDir: "./data/blobs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads default.yaml from the config search path, merges an
// optional <env>.yaml override, applies environment variable overrides,
// and unmarshals the result into AppConfig.
func Load(env string) (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	v.AddConfigPath("cmd/config")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	v.SetDefault("network.listen_addr", cfg.Network.ListenAddr)
	v.SetDefault("network.discovery_tag", cfg.Network.DiscoveryTag)
	v.SetDefault("network.ingest_buffer_size", cfg.Network.IngestBufferSize)
	v.SetDefault("network.opted_in_global", cfg.Network.OptedInGlobal)
	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.db_path", cfg.Storage.DBPath)
	v.SetDefault("storage.blobs_dir", cfg.Storage.BlobsDir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "config.load: read default config")
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, utils.Wrap(err, fmt.Sprintf("config.load: merge %s config", env))
			}
		}
	}

	v.SetEnvPrefix("ORBWEAVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "config.load: unmarshal")
	}
	AppConfig = cfg
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the environment named by
// ORBWEAVER_ENV, defaulting to no environment-specific override file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ORBWEAVER_ENV", ""))
}
