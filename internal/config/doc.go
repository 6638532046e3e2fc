// Package config loads runtime configuration for the gophpaste daemon and
// its control CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config. Files ending in
//     ".toml" are decoded as TOML, anything else as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-p int      port of the peer sync HTTP server
//	-d string   data directory (database, received files, icons, secrets)
//	-n string   device name advertised to peers
//	-a string   listen address of the local control API
//	-m string   listen address of the Prometheus endpoint ("" disables it)
//	-l string   log level (debug, info, warn, error)
//
// # File schema
//
// Intervals use timex.Duration, so they can be strings like "3s" or integer
// nanoseconds:
//
//	{
//	  "port": 13129,
//	  "data_dir": "/var/lib/gophpaste",
//	  "resolve_interval": "1m",
//	  "chunk_size": 4194304,
//	  "task_max_attempts": 3
//	}
package config
