package config

import (
	"time"

	"github.com/spf13/pflag"
)

// DiscoverConfig holds settings for a full factory walk.
type DiscoverConfig struct {
	Chain     ChainConfig
	PGDSN     string
	BatchSize int
	Delay     time.Duration
	LogLevel  string
}

// LoadDiscover merges config file, environment variables, and flags into
// DiscoverConfig.
func LoadDiscover(cfgFile string, flags *pflag.FlagSet) (DiscoverConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return DiscoverConfig{}, err
	}

	chainDefaults(v)
	v.SetDefault("batch-size", 20)
	v.SetDefault("delay", time.Second)
	v.SetDefault("log-level", "info")

	return DiscoverConfig{
		Chain:     chainFromViper(v),
		PGDSN:     v.GetString("pg-dsn"),
		BatchSize: v.GetInt("batch-size"),
		Delay:     v.GetDuration("delay"),
		LogLevel:  v.GetString("log-level"),
	}, nil
}
