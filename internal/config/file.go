package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dmitrijs2005/gophpaste/internal/flagx"
	"github.com/dmitrijs2005/gophpaste/internal/timex"
)

// FileConfig is a DTO used exclusively for decoding config files. Zero
// values mean "not set" and leave the current Config value untouched.
type FileConfig struct {
	DataDir      string `json:"data_dir" toml:"data_dir"`
	DatabaseFile string `json:"database_file" toml:"database_file"`
	Port         int    `json:"port" toml:"port"`
	DeviceName   string `json:"device_name" toml:"device_name"`
	LogLevel     string `json:"log_level" toml:"log_level"`

	DiscoveryGroup    string         `json:"discovery_group" toml:"discovery_group"`
	DiscoveryPort     int            `json:"discovery_port" toml:"discovery_port"`
	DiscoveryInterval timex.Duration `json:"discovery_interval" toml:"discovery_interval"`

	ResolveInterval   timex.Duration `json:"resolve_interval" toml:"resolve_interval"`
	HeartbeatInterval timex.Duration `json:"heartbeat_interval" toml:"heartbeat_interval"`
	RequestTimeout    timex.Duration `json:"request_timeout" toml:"request_timeout"`

	PairingFreshness timex.Duration `json:"pairing_freshness" toml:"pairing_freshness"`
	TokenTTL         timex.Duration `json:"token_ttl" toml:"token_ttl"`

	ChunkSize       int64          `json:"chunk_size" toml:"chunk_size"`
	Workers         int            `json:"workers" toml:"workers"`
	TaskMaxAttempts int            `json:"task_max_attempts" toml:"task_max_attempts"`
	RetryDelay      timex.Duration `json:"retry_delay" toml:"retry_delay"`

	RetentionDays   int            `json:"retention_days" toml:"retention_days"`
	MaxPastes       int            `json:"max_pastes" toml:"max_pastes"`
	CleanupInterval timex.Duration `json:"cleanup_interval" toml:"cleanup_interval"`

	ControlAddr   string `json:"control_addr" toml:"control_addr"`
	MetricsAddr   string `json:"metrics_addr" toml:"metrics_addr"`
	JWTSecretFile string `json:"jwt_secret_file" toml:"jwt_secret_file"`
	TokenFile     string `json:"token_file" toml:"token_file"`
}

// parseFile overlays cfg with values from the file named by -c/-config.
// Read or decode errors panic; the caller decides whether to recover.
func parseFile(cfg *Config) {
	path := flagx.ConfigFileFlag(os.Args[1:])
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var fc FileConfig
	if strings.HasSuffix(strings.ToLower(path), ".toml") {
		if _, err := toml.Decode(string(data), &fc); err != nil {
			panic(err)
		}
	} else if err := json.Unmarshal(data, &fc); err != nil {
		panic(err)
	}

	fc.apply(cfg)
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.DatabaseFile, fc.DatabaseFile)
	setInt(&cfg.Port, fc.Port)
	setString(&cfg.DeviceName, fc.DeviceName)
	setString(&cfg.LogLevel, fc.LogLevel)

	setString(&cfg.DiscoveryGroup, fc.DiscoveryGroup)
	setInt(&cfg.DiscoveryPort, fc.DiscoveryPort)
	setDuration(&cfg.DiscoveryInterval, fc.DiscoveryInterval)

	setDuration(&cfg.ResolveInterval, fc.ResolveInterval)
	setDuration(&cfg.HeartbeatInterval, fc.HeartbeatInterval)
	setDuration(&cfg.RequestTimeout, fc.RequestTimeout)

	setDuration(&cfg.PairingFreshness, fc.PairingFreshness)
	setDuration(&cfg.TokenTTL, fc.TokenTTL)

	if fc.ChunkSize > 0 {
		cfg.ChunkSize = fc.ChunkSize
	}
	setInt(&cfg.Workers, fc.Workers)
	setInt(&cfg.TaskMaxAttempts, fc.TaskMaxAttempts)
	setDuration(&cfg.RetryDelay, fc.RetryDelay)

	setInt(&cfg.RetentionDays, fc.RetentionDays)
	setInt(&cfg.MaxPastes, fc.MaxPastes)
	setDuration(&cfg.CleanupInterval, fc.CleanupInterval)

	setString(&cfg.ControlAddr, fc.ControlAddr)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.JWTSecretFile, fc.JWTSecretFile)
	setString(&cfg.TokenFile, fc.TokenFile)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
