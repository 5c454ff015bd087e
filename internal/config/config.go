package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete camlink agent configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	HealthPort       string          `yaml:"health_port"`        // Health check HTTP port (default: 8080)
	Collector        CollectorConfig `yaml:"collector"`
	Chunk            ChunkConfig     `yaml:"chunk"`
	Loop             LoopConfig      `yaml:"loop"`
	Camera           CameraConfig    `yaml:"camera"`
	TimeSync         TimeSyncConfig  `yaml:"timesync"`
	Netwatch         NetwatchConfig  `yaml:"netwatch"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
}

// CollectorConfig contains upstream collector settings
type CollectorConfig struct {
	URL       string `yaml:"url"`        // Upload endpoint, e.g. http://host:5000/upload
	AuthToken string `yaml:"auth_token"` // Optional bearer token (CAMLINK_AUTH_TOKEN overrides)
	TimeoutS  int    `yaml:"timeout_s"`  // Per-request timeout in seconds (default: 10)
}

// ChunkConfig contains chunk timing settings
type ChunkConfig struct {
	DurationMS  uint32 `yaml:"duration_ms"`  // Chunk window length (default: 1000)
	JournalPath string `yaml:"journal_path"` // Chunk-counter journal file ("" disables persistence)
}

// LoopConfig contains capture loop pacing settings
type LoopConfig struct {
	IdleIntervalMS   int `yaml:"idle_interval_ms"`   // Sleep between iterations (default: 10)
	OfflineBackoffMS int `yaml:"offline_backoff_ms"` // Sleep while disconnected (default: 1000)
}

// CameraConfig contains camera settings
type CameraConfig struct {
	Source      string `yaml:"source"`       // v4l2 device path or rtsp:// URL; empty selects the mock provider
	Resolution  string `yaml:"resolution"`   // 480p, 512p, 720p, 1080p
	JPEGQuality int    `yaml:"jpeg_quality"` // jpegenc quality 1-100 (default: 85)
}

// TimeSyncConfig contains wall-clock synchronization settings
type TimeSyncConfig struct {
	Mode            string `yaml:"mode"`              // "sntp" or "system" (default: system)
	Server          string `yaml:"server"`            // NTP server host:port (default: pool.ntp.org:123)
	ResyncIntervalS int    `yaml:"resync_interval_s"` // Periodic resync interval (default: 3600)
}

// NetwatchConfig contains connectivity probe settings
type NetwatchConfig struct {
	ProbeAddr      string `yaml:"probe_addr"`       // host:port to dial; defaults to the collector host
	IntervalS      int    `yaml:"interval_s"`       // Probe interval in seconds (default: 5)
	ProbeTimeoutMS int    `yaml:"probe_timeout_ms"` // Dial timeout (default: 2000)
	FlapSettleMS   int    `yaml:"flap_settle_ms"`   // Debounce window for state-change events (default: 3000)
}

// MQTTConfig contains MQTT broker settings for the control plane and telemetry.
// An empty broker disables MQTT entirely.
type MQTTConfig struct {
	Broker   string          `yaml:"broker"`
	Username string          `yaml:"username"` // CAMLINK_MQTT_USERNAME overrides
	Password string          `yaml:"password"` // CAMLINK_MQTT_PASSWORD overrides
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control string `yaml:"control"`
	Health  string `yaml:"health"`
	Events  string `yaml:"events"`
}

// Load reads and parses a YAML configuration file, applies environment
// overrides for secrets, and validates the result.
func Load(path string) (*Config, error) {
	// Best-effort .env load; direct environment variables still apply.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets secrets live outside the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAMLINK_AUTH_TOKEN"); v != "" {
		cfg.Collector.AuthToken = v
	}
	if v := os.Getenv("CAMLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("CAMLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}
