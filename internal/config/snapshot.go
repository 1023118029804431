package config

import (
	"github.com/spf13/pflag"
)

// SnapshotConfig holds settings for a one-shot analytics pass.
type SnapshotConfig struct {
	Chain    ChainConfig
	PGDSN    string
	LogLevel string
}

// LoadSnapshot merges config file, environment variables, and flags into
// SnapshotConfig.
func LoadSnapshot(cfgFile string, flags *pflag.FlagSet) (SnapshotConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return SnapshotConfig{}, err
	}

	chainDefaults(v)
	v.SetDefault("log-level", "info")

	return SnapshotConfig{
		Chain:    chainFromViper(v),
		PGDSN:    v.GetString("pg-dsn"),
		LogLevel: v.GetString("log-level"),
	}, nil
}
