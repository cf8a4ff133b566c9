// Package config loads and decodes swiftdns's YAML configuration file,
// following coremain's viper + mapstructure loading convention: viper
// reads the raw document and github.com/go-viper/mapstructure/v2 decodes
// it into typed Go structs with strict unused-key checking.
package config

import (
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// UpstreamResolver is one configured upstream DNS server, optionally
// reached through a SOCKS5 proxy.
type UpstreamResolver struct {
	Addr  string `yaml:"addr" mapstructure:"addr"`
	Proxy string `yaml:"proxy" mapstructure:"proxy"`
}

// LocalDomain is one precompiled local-answer entry.
type LocalDomain struct {
	Domain string `yaml:"domain" mapstructure:"domain"`
	IP     string `yaml:"ip" mapstructure:"ip"`
}

// LogConfig configures internal/mlog.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

// MetricsConfig configures the optional prometheus HTTP endpoint.
type MetricsConfig struct {
	HTTP string `yaml:"http" mapstructure:"http"`
}

// ReloadConfig toggles fsnotify watching of the config file. A change is
// logged; running values are not reloaded in place.
type ReloadConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SnapshotConfig configures warm-restart cache persistence.
type SnapshotConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RuleConfig is one operator policy rule, decoded before being compiled
// by internal/rules.
type RuleConfig struct {
	Expr   string `yaml:"expr" mapstructure:"expr"`
	Action string `yaml:"action" mapstructure:"action"`
	IP     string `yaml:"ip" mapstructure:"ip"`
}

// L2CacheConfig configures the optional shared Redis tier.
type L2CacheConfig struct {
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
}

// Config is the full decoded configuration surface.
type Config struct {
	Port                int                `yaml:"port" mapstructure:"port"`
	CacheTotalCapacity  int                `yaml:"cache_total_capacity" mapstructure:"cache_total_capacity"`
	CacheShards         int                `yaml:"cache_shards" mapstructure:"cache_shards"`
	DefaultTTLSeconds   int                `yaml:"default_ttl_seconds" mapstructure:"default_ttl_seconds"`
	ReservoirCap        int                `yaml:"reservoir_cap" mapstructure:"reservoir_cap"`
	ReservoirTrim       int                `yaml:"reservoir_trim" mapstructure:"reservoir_trim"`
	UpstreamResolvers   []UpstreamResolver `yaml:"upstream_resolvers" mapstructure:"upstream_resolvers"`
	LocalDomains        []LocalDomain      `yaml:"local_domains" mapstructure:"local_domains"`
	Log                 LogConfig          `yaml:"log" mapstructure:"log"`
	Metrics             MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	Reload              ReloadConfig       `yaml:"reload" mapstructure:"reload"`
	Snapshot            SnapshotConfig     `yaml:"snapshot" mapstructure:"snapshot"`
	Rules               []RuleConfig       `yaml:"rules" mapstructure:"rules"`
	L2Cache             L2CacheConfig      `yaml:"l2_cache" mapstructure:"l2_cache"`
}

// Default returns a Config matching spec.md's stated defaults, for use
// when no file is present or a field is left unset.
func Default() Config {
	return Config{
		Port:               5353,
		CacheTotalCapacity: 8192,
		CacheShards:        16,
		DefaultTTLSeconds:  300,
		ReservoirCap:       10000,
		ReservoirTrim:      5000,
		Log:                LogConfig{Level: "info"},
	}
}

// DefaultUpstreamResolvers seeds a fileless Config, mirroring the
// hardcoded resolver list the original C++ main() falls back to when
// it's started without a config path.
var DefaultUpstreamResolvers = []UpstreamResolver{
	{Addr: "8.8.8.8:53"},
	{Addr: "1.1.1.1:53"},
	{Addr: "208.67.222.222:53"},
}

// DefaultLocalDomains seeds a fileless Config with a handful of example
// local answers, so a fileless start has something to demonstrate the
// precompiled fast path with.
var DefaultLocalDomains = []LocalDomain{
	{Domain: "localhost", IP: "127.0.0.1"},
	{Domain: "router.local", IP: "192.168.1.1"},
	{Domain: "dns.local", IP: "127.0.0.1"},
	{Domain: "server.local", IP: "192.168.1.1"},
}

// Load reads filePath (or searches the working directory for a file
// named "config.*" if filePath is empty) and decodes it into a Config
// seeded with Default's values. ErrorUnused mirrors the teacher's
// decoderOpt: an unrecognized key is a load failure, not a silent skip.
//
// When filePath is empty and no config file is found in the working
// directory, Load does not fail: it returns Default() seeded with
// DefaultUpstreamResolvers and DefaultLocalDomains, so swiftdns can
// start fileless. An explicitly named filePath that doesn't exist is
// still an error.
func Load(filePath string) (*Config, string, error) {
	v := viper.New()

	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if len(filePath) == 0 && errors.As(err, &notFound) {
			cfg := Default()
			cfg.UpstreamResolvers = DefaultUpstreamResolvers
			cfg.LocalDomains = DefaultLocalDomains
			return &cfg, "", nil
		}
		return nil, "", fmt.Errorf("config: read: %w", err)
	}

	cfg := Default()
	decoderOpt := func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}
	if err := v.Unmarshal(&cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, v.ConfigFileUsed(), nil
}
