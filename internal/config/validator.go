package config

import (
	"fmt"
	"net/url"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// Validate collector
	if cfg.Collector.URL == "" {
		return fmt.Errorf("collector.url is required")
	}
	u, err := url.Parse(cfg.Collector.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("collector.url must be an absolute URL, got %q", cfg.Collector.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("collector.url scheme must be http or https, got %q", u.Scheme)
	}
	if cfg.Collector.TimeoutS <= 0 {
		cfg.Collector.TimeoutS = 10
	}

	// Chunk timing defaults
	if cfg.Chunk.DurationMS == 0 {
		cfg.Chunk.DurationMS = 1000
	}

	// Loop pacing defaults
	if cfg.Loop.IdleIntervalMS <= 0 {
		cfg.Loop.IdleIntervalMS = 10
	}
	if cfg.Loop.OfflineBackoffMS <= 0 {
		cfg.Loop.OfflineBackoffMS = 1000
	}
	if cfg.Loop.OfflineBackoffMS < cfg.Loop.IdleIntervalMS {
		return fmt.Errorf("loop.offline_backoff_ms (%d) must not be shorter than loop.idle_interval_ms (%d)",
			cfg.Loop.OfflineBackoffMS, cfg.Loop.IdleIntervalMS)
	}

	// Camera defaults
	if cfg.Camera.Resolution == "" {
		cfg.Camera.Resolution = "480p"
	}
	switch cfg.Camera.Resolution {
	case "320p", "480p", "512p", "720p", "1080p":
	default:
		return fmt.Errorf("camera.resolution %q not supported (320p/480p/512p/720p/1080p)", cfg.Camera.Resolution)
	}
	if cfg.Camera.JPEGQuality == 0 {
		cfg.Camera.JPEGQuality = 85
	}
	if cfg.Camera.JPEGQuality < 1 || cfg.Camera.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpeg_quality must be 1-100, got %d", cfg.Camera.JPEGQuality)
	}

	// Time synchronization defaults
	if cfg.TimeSync.Mode == "" {
		cfg.TimeSync.Mode = "system"
	}
	switch cfg.TimeSync.Mode {
	case "system":
	case "sntp":
		if cfg.TimeSync.Server == "" {
			cfg.TimeSync.Server = "pool.ntp.org:123"
		}
	default:
		return fmt.Errorf("timesync.mode must be 'sntp' or 'system', got %q", cfg.TimeSync.Mode)
	}
	if cfg.TimeSync.ResyncIntervalS <= 0 {
		cfg.TimeSync.ResyncIntervalS = 3600
	}

	// Netwatch defaults: probe the collector host when no explicit target
	if cfg.Netwatch.ProbeAddr == "" {
		host := u.Host
		if u.Port() == "" {
			if u.Scheme == "https" {
				host += ":443"
			} else {
				host += ":80"
			}
		}
		cfg.Netwatch.ProbeAddr = host
	}
	if cfg.Netwatch.IntervalS <= 0 {
		cfg.Netwatch.IntervalS = 5
	}
	if cfg.Netwatch.ProbeTimeoutMS <= 0 {
		cfg.Netwatch.ProbeTimeoutMS = 2000
	}
	if cfg.Netwatch.FlapSettleMS <= 0 {
		cfg.Netwatch.FlapSettleMS = 3000
	}

	// Health server default
	if cfg.HealthPort == "" {
		cfg.HealthPort = "8080"
	}

	// MQTT defaults only matter when a broker is configured
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("camlink/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("camlink/health/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = fmt.Sprintf("camlink/events/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control": 1,
				"health":  0,
				"events":  1,
			}
		}
	}

	return nil
}
