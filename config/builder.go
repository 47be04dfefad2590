package config

import (
	"os"

	"github.com/jpalmerr/serialbridge"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The logger is not part of the result; callers add [serialbridge.WithLogger]
// with a handler built from [Config.SlogLevel].
func BuildOptions(cfg *Config) []serialbridge.Option {
	opts := []serialbridge.Option{
		serialbridge.WithDevice(cfg.Device.Name),
		serialbridge.WithBaudRate(cfg.Device.BaudRate),
		serialbridge.WithReadTimeout(cfg.Device.ReadTimeout.Duration()),
		serialbridge.WithPort(cfg.Port),
		serialbridge.WithPollInterval(cfg.PollInterval.Duration()),
		serialbridge.WithDatabase(cfg.Database),
		serialbridge.WithQueryTimeout(cfg.QueryTimeout.Duration()),
	}

	if cfg.AssetsDir != "" {
		opts = append(opts, serialbridge.WithAssets(os.DirFS(cfg.AssetsDir)))
	}

	return opts
}
