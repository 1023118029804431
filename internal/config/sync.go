package config

import (
	"time"

	"github.com/spf13/pflag"
)

// SyncConfig holds settings for a one-shot backfill.
type SyncConfig struct {
	Chain     ChainConfig
	PGDSN     string
	FromBlock uint64
	ToBlock   uint64
	HoursAgo  uint64
	ChunkSize uint64
	Delay     time.Duration
	LogLevel  string
}

// LoadSync merges config file, environment variables, and flags into
// SyncConfig.
func LoadSync(cfgFile string, flags *pflag.FlagSet) (SyncConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return SyncConfig{}, err
	}

	chainDefaults(v)
	v.SetDefault("chunk-size", uint64(500))
	v.SetDefault("delay", 200*time.Millisecond)
	v.SetDefault("log-level", "info")

	return SyncConfig{
		Chain:     chainFromViper(v),
		PGDSN:     v.GetString("pg-dsn"),
		FromBlock: v.GetUint64("from"),
		ToBlock:   v.GetUint64("to"),
		HoursAgo:  v.GetUint64("hours-ago"),
		ChunkSize: v.GetUint64("chunk-size"),
		Delay:     v.GetDuration("delay"),
		LogLevel:  v.GetString("log-level"),
	}, nil
}
