package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/gophpaste/internal/flagx"
)

// parseFlags overlays cfg with command-line flags. Flags owned by other
// parsers (such as -c) are ignored.
func parseFlags(cfg *Config) {
	err := flagx.Parse(os.Args[1:], func(fs *flag.FlagSet) {
		fs.IntVar(&cfg.Port, "p", cfg.Port, "port of the peer sync server")
		fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
		fs.StringVar(&cfg.DeviceName, "n", cfg.DeviceName, "device name advertised to peers")
		fs.StringVar(&cfg.ControlAddr, "a", cfg.ControlAddr, "control API listen address")
		fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
		fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	})
	if err != nil {
		panic(err)
	}
}
