package config

import (
	"path/filepath"
	"time"
)

// Config holds runtime settings for the daemon.
type Config struct {
	DataDir      string
	DatabaseFile string
	Port         int
	DeviceName   string
	LogLevel     string

	DiscoveryGroup    string
	DiscoveryPort     int
	DiscoveryInterval time.Duration

	ResolveInterval   time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration

	// PairingFreshness bounds how old a PairingRequest/TrustRequest timestamp may be.
	PairingFreshness time.Duration
	// TokenTTL is how long a shown pairing token stays usable.
	TokenTTL time.Duration

	ChunkSize       int64
	Workers         int
	TaskMaxAttempts int
	RetryDelay      time.Duration

	RetentionDays   int
	MaxPastes       int
	CleanupInterval time.Duration

	ControlAddr   string
	MetricsAddr   string
	JWTSecretFile string
	TokenFile     string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "gophpaste-data"
	c.DatabaseFile = "gophpaste.db"
	c.Port = 13129
	c.DeviceName = ""
	c.LogLevel = "info"

	c.DiscoveryGroup = "239.255.77.77"
	c.DiscoveryPort = 13130
	c.DiscoveryInterval = 10 * time.Second

	c.ResolveInterval = time.Minute
	c.HeartbeatInterval = 30 * time.Second
	c.RequestTimeout = 5 * time.Second

	c.PairingFreshness = 30 * time.Second
	c.TokenTTL = 5 * time.Minute

	c.ChunkSize = 4 << 20
	c.Workers = 4
	c.TaskMaxAttempts = 3
	c.RetryDelay = 2 * time.Second

	c.RetentionDays = 30
	c.MaxPastes = 2000
	c.CleanupInterval = time.Hour

	c.ControlAddr = "127.0.0.1:13131"
	c.MetricsAddr = ""
	c.JWTSecretFile = "control.secret"
	c.TokenFile = "control.token"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the config file (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}

// Path joins name onto DataDir unless name is already absolute.
func (c *Config) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}
