package config

import (
	"time"

	"github.com/spf13/pflag"
)

// ServeConfig holds settings for the long-running trigger server.
type ServeConfig struct {
	Chain        ChainConfig
	PGDSN        string
	Listen       string
	APIKey       string
	ChunkSize    uint64
	BatchSize    int
	Delay        time.Duration
	SnapshotCron string
	LogLevel     string
}

// LoadServe merges config file, environment variables, and flags into
// ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ServeConfig{}, err
	}

	chainDefaults(v)
	v.SetDefault("listen", ":8080")
	v.SetDefault("chunk-size", uint64(500))
	v.SetDefault("batch-size", 20)
	v.SetDefault("delay", 200*time.Millisecond)
	v.SetDefault("snapshot-cron", "0 * * * *")
	v.SetDefault("log-level", "info")

	return ServeConfig{
		Chain:        chainFromViper(v),
		PGDSN:        v.GetString("pg-dsn"),
		Listen:       v.GetString("listen"),
		APIKey:       v.GetString("api-key"),
		ChunkSize:    v.GetUint64("chunk-size"),
		BatchSize:    v.GetInt("batch-size"),
		Delay:        v.GetDuration("delay"),
		SnapshotCron: v.GetString("snapshot-cron"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}
