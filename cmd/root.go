// Package cmd holds the pickindex command line.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	pickindex "github.com/ghyeongl/pickindex/sync"
)

var (
	// Set at build time.
	version = "dev"
	commit  = "none"

	cfgFile string
	verbose bool
)

// StoreConfig selects the name index backend.
type StoreConfig struct {
	Kind      string `mapstructure:"kind" yaml:"kind"`
	File      string `mapstructure:"file" yaml:"file"`
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPass string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB   int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisKey  string `mapstructure:"redis_key" yaml:"redis_key"`
}

// RemoteConfig selects where listings and links come from.
type RemoteConfig struct {
	Kind     string `mapstructure:"kind" yaml:"kind"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Cookies  string `mapstructure:"cookies" yaml:"cookies"`
	Root     string `mapstructure:"root" yaml:"root"`
	LinkBase string `mapstructure:"link_base" yaml:"link_base"`
}

// PageConfig holds listing page sizes.
type PageConfig struct {
	Bulk  int `mapstructure:"bulk" yaml:"bulk"`
	Small int `mapstructure:"small" yaml:"small"`
}

// Config is the effective configuration of a pickindex process.
type Config struct {
	CIDs         []string     `mapstructure:"cids" yaml:"cids"`
	Interval     string       `mapstructure:"interval" yaml:"interval"`
	Store        StoreConfig  `mapstructure:"store" yaml:"store"`
	Host         string       `mapstructure:"host" yaml:"host"`
	Port         int          `mapstructure:"port" yaml:"port"`
	Secret       string       `mapstructure:"secret" yaml:"secret,omitempty"`
	LogDir       string       `mapstructure:"log_dir" yaml:"log_dir"`
	Remote       RemoteConfig `mapstructure:"remote" yaml:"remote"`
	TargetsFile  string       `mapstructure:"targets_file" yaml:"targets_file"`
	Page         PageConfig   `mapstructure:"page" yaml:"page"`
	LinkTTL      string       `mapstructure:"link_ttl" yaml:"link_ttl"`
	ResolveLimit int          `mapstructure:"resolve_limit" yaml:"resolve_limit"`
}

// IntervalDuration parses Interval.
func (c *Config) IntervalDuration() (time.Duration, error) {
	return pickindex.ParseInterval(c.Interval)
}

// LinkTTLDuration parses LinkTTL.
func (c *Config) LinkTTLDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.LinkTTL)
	if err != nil {
		return 0, fmt.Errorf("link_ttl: %w", err)
	}
	return d, nil
}

// Validate checks values that cannot be checked by type alone.
func (c *Config) Validate() error {
	if _, err := c.IntervalDuration(); err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	if _, err := c.LinkTTLDuration(); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Remote.Kind {
	case "http":
	case "local":
		if c.Remote.Root == "" {
			return errors.New("remote.root is required for a local remote")
		}
	default:
		return fmt.Errorf("unknown remote kind %q", c.Remote.Kind)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "pickindex",
	Short: "Keep a name to pickcode index of remote directories",
	Long: `pickindex periodically lists a set of remote directories, remembers the
pickcode of every file by name, and redirects lookups by name or pickcode to a
direct download link.

Only entries newer than what was seen last are fetched: a warm directory costs
one small listing page per sweep.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	setDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/pickindex/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log debug output to the console")
	pf.StringSlice("cids", nil, "directory ids swept by the batch scheduler")
	pf.String("interval", "", `time between sweeps ("30s", "inf", negative for none)`)
	pf.String("store-kind", "", "index backend: memory, sqlite, bolt or redis")
	pf.String("store-file", "", "index file for sqlite and bolt")
	pf.String("log-dir", "", "directory for rotating log files")

	bindFlags(viper.GetViper(), pf, map[string]string{
		"cids":       "cids",
		"interval":   "interval",
		"store.kind": "store-kind",
		"store.file": "store-file",
		"log_dir":    "log-dir",
	})

	rootCmd.AddCommand(serveCmd, tokenCmd, configCmd, versionCmd)
}

// setDefaults registers every key, so that each can also come from the
// environment when the config is unmarshalled.
func setDefaults(v *viper.Viper) {
	v.SetDefault("cids", []string{pickindex.RootID})
	v.SetDefault("interval", "30s")
	v.SetDefault("store.kind", "")
	v.SetDefault("store.file", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_key", pickindex.DefaultRedisKey)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("secret", "")
	v.SetDefault("log_dir", "")
	v.SetDefault("remote.kind", "http")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.cookies", "")
	v.SetDefault("remote.root", "")
	v.SetDefault("remote.link_base", "")
	v.SetDefault("targets_file", "")
	v.SetDefault("page.bulk", pickindex.DefaultBulkPageSize)
	v.SetDefault("page.small", pickindex.DefaultSmallPageSize)
	v.SetDefault("link_ttl", pickindex.DefaultLinkTTL.String())
	v.SetDefault("resolve_limit", pickindex.DefaultResolveLimit)
}

// bindFlags binds config keys to the named flags of fs.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		v.BindPFlag(key, fs.Lookup(name)) //nolint:errcheck
	}
}

// initConfig reads the config file, if any, and the PICKINDEX_ environment.
func initConfig() error {
	viper.SetEnvPrefix("pickindex")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return err
		}
		viper.SetConfigFile(path)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			viper.AddConfigPath(home + "/.config/pickindex")
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// loadConfig decodes the merged configuration from v.
func loadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
