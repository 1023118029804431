// Package config loads per-command settings by merging a config file,
// PAIRSCOPE_-prefixed environment variables, and command-line flags, in
// ascending precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ChainConfig identifies the chain endpoint and the reference contracts
// every command shares.
type ChainConfig struct {
	RPCURL         string
	Factory        string
	WrappedNative  string
	StableToken    string
	StableDecimals uint8
	BlockTime      time.Duration
}

func chainDefaults(v *viper.Viper) {
	v.SetDefault("block-time", time.Second)
	v.SetDefault("stable-decimals", 6)
}

func chainFromViper(v *viper.Viper) ChainConfig {
	return ChainConfig{
		RPCURL:         v.GetString("rpc"),
		Factory:        v.GetString("factory"),
		WrappedNative:  v.GetString("wrapped-native"),
		StableToken:    v.GetString("stable-token"),
		StableDecimals: uint8(v.GetInt("stable-decimals")),
		BlockTime:      v.GetDuration("block-time"),
	}
}

// newViper builds a viper instance with env binding, flag binding, and
// an optional config file applied.
func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("PAIRSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}
