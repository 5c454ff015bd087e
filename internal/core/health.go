package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/visiona/camlink/internal/uplink"
)

// HealthStatus represents the health state of the agent.
type HealthStatus struct {
	Status           string  `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds    int64   `json:"uptime_seconds"`
	Connected        bool    `json:"connected"`
	Paused           bool    `json:"paused"`
	ChunkID          uint64  `json:"chunk_id"`
	ChunkStart       float64 `json:"chunk_start"`
	ChunkDurationMS  uint32  `json:"chunk_duration_ms"`
	Iterations       uint64  `json:"iterations"`
	Rollovers        uint64  `json:"rollovers"`
	FramesSent       uint64  `json:"frames_sent"`
	CaptureFailures  uint64  `json:"capture_failures"`
	TransmitFailures uint64  `json:"transmit_failures"`
	OfflineIters     uint64  `json:"offline_iterations"`
	MQTTConnected    bool    `json:"mqtt_connected"`
}

// HealthCheck returns the current health status of the agent.
func (s *Service) HealthCheck() HealthStatus {
	chunkID, chunkStart := s.timer.Snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := HealthStatus{
		Status:           "healthy",
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		Connected:        s.conn.Connected(),
		Paused:           s.isPaused,
		ChunkID:          chunkID,
		ChunkStart:       chunkStart,
		ChunkDurationMS:  s.timer.DurationMS(),
		Iterations:       s.stats.iterations,
		Rollovers:        s.stats.rollovers,
		FramesSent:       s.stats.framesSent,
		CaptureFailures:  s.stats.captureFailures,
		TransmitFailures: s.stats.transmitFailures,
		OfflineIters:     s.stats.offlineIterations,
	}

	if s.emitter != nil {
		status.MQTTConnected = s.emitter.EmitterStats().Connected
	}

	if !s.isRunning {
		status.Status = "unhealthy"
	} else if !status.Connected {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health (simple liveness check).
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	s.mu.RLock()
	uptime := int64(time.Since(s.started).Seconds())
	s.mu.RUnlock()

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": uptime,
	})
}

// ReadinessHandler handles /readiness (detailed readiness check).
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// StatsHandler handles /stats (collaborator statistics).
func (s *Service) StatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	payload := map[string]interface{}{
		"camera": s.camera.Stats(),
		"health": s.HealthCheck(),
	}
	if c, ok := s.uplink.(interface{ Stats() uplink.Stats }); ok {
		payload["uplink"] = c.Stats()
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

// StartHealthServer starts the HTTP health server on the given port.
// Runs in its own goroutine and does not block.
func (s *Service) StartHealthServer(port string) error {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readiness", s.ReadinessHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.StatsHandler).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/stats"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	return nil
}

// healthReporter publishes a health snapshot to MQTT every 30 seconds.
func (s *Service) healthReporter(ctx context.Context) {
	if s.emitter == nil {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.HealthCheck())
			if err != nil {
				slog.Error("failed to marshal health snapshot", "error", err)
				continue
			}
			if err := s.emitter.PublishHealth(payload); err != nil {
				slog.Debug("health publish skipped", "error", err)
			}
		}
	}
}
