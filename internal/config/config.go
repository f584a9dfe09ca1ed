// Package config loads the server's runtime configuration from an
// optional file plus environment overrides, grounded on the teacher's
// preference for viper-backed configuration over ad hoc flag parsing
// wherever more than a couple of settings are involved.
package config

import (
	"strings"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/spf13/viper"
)

// Load reads server configuration from path (if non-empty and present)
// and from BACKTEST_-prefixed environment variables, falling back to
// sane defaults for anything unset.
func Load(path string) (*types.ServerConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("backtest")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8080)
	v.SetDefault("websocketPath", "/ws")
	v.SetDefault("readTimeout", 30*time.Second)
	v.SetDefault("writeTimeout", 30*time.Second)
	v.SetDefault("maxConnections", 100)
	v.SetDefault("enableMetrics", true)
	v.SetDefault("metricsPort", 9090)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, types.Wrap(types.CodeConfigDeserialization, err)
			}
		}
	}

	cfg := &types.ServerConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, types.Wrap(types.CodeConfigDeserialization, err)
	}
	return cfg, nil
}
