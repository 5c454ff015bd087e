// Package core wires the collaborators together and drives the
// capture/upload loop.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/visiona/camlink/internal/camera"
	"github.com/visiona/camlink/internal/chunk"
	"github.com/visiona/camlink/internal/config"
	"github.com/visiona/camlink/internal/control"
	"github.com/visiona/camlink/internal/emitter"
	"github.com/visiona/camlink/internal/netwatch"
	"github.com/visiona/camlink/internal/timesync"
	"github.com/visiona/camlink/internal/uplink"
)

// Service is the agent orchestrator: it owns the collaborators, the chunk
// timer, and the single-threaded capture/upload loop.
type Service struct {
	cfg *config.Config

	// Collaborators
	clock    chunk.Clock
	timer    *chunk.Timer
	journal  *chunk.Journal
	camera   camera.Provider
	uplink   uplink.Sender
	conn     netwatch.Connectivity
	watcher  *netwatch.Watcher // nil when conn is injected (tests)
	timeSrc  timesync.Source
	emitter  *emitter.MQTTEmitter
	ctrl     *control.Handler

	// Loop pacing
	idleInterval   time.Duration
	offlineBackoff time.Duration

	// Lifecycle
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	isPaused  bool
	cancelCtx context.CancelFunc // for control-plane shutdown

	stats loopStats
}

// loopStats counts loop outcomes. Guarded by Service.mu.
type loopStats struct {
	iterations        uint64
	offlineIterations uint64
	rollovers         uint64
	framesSent        uint64
	captureFailures   uint64
	transmitFailures  uint64
}

// NewService builds a Service from configuration, constructing the real
// collaborators.
func NewService(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"collector", cfg.Collector.URL,
		"chunk_duration_ms", cfg.Chunk.DurationMS,
	)

	client, err := uplink.NewClient(uplink.Config{
		URL:       cfg.Collector.URL,
		AuthToken: cfg.Collector.AuthToken,
		Timeout:   time.Duration(cfg.Collector.TimeoutS) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create uplink client: %w", err)
	}

	cam, err := buildCamera(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera provider: %w", err)
	}

	var timeSrc timesync.Source
	switch cfg.TimeSync.Mode {
	case "sntp":
		timeSrc = timesync.NewSNTPSource(cfg.TimeSync.Server,
			time.Duration(cfg.TimeSync.ResyncIntervalS)*time.Second)
		slog.Info("using sntp time source", "server", cfg.TimeSync.Server)
	default:
		timeSrc = timesync.NewSystemSource()
		slog.Info("using system time source")
	}

	s := &Service{
		cfg:            cfg,
		clock:          chunk.NewSystemClock(),
		journal:        chunk.NewJournal(cfg.Chunk.JournalPath),
		camera:         cam,
		uplink:         client,
		timeSrc:        timeSrc,
		emitter:        emitter.NewMQTTEmitter(cfg),
		idleInterval:   time.Duration(cfg.Loop.IdleIntervalMS) * time.Millisecond,
		offlineBackoff: time.Duration(cfg.Loop.OfflineBackoffMS) * time.Millisecond,
	}
	s.timer = chunk.NewTimer(s.clock, timeSrc, cfg.Chunk.DurationMS)

	watcher := netwatch.NewWatcher(netwatch.Config{
		ProbeAddr:  cfg.Netwatch.ProbeAddr,
		Interval:   time.Duration(cfg.Netwatch.IntervalS) * time.Second,
		Timeout:    time.Duration(cfg.Netwatch.ProbeTimeoutMS) * time.Millisecond,
		FlapSettle: time.Duration(cfg.Netwatch.FlapSettleMS) * time.Millisecond,
		OnChange:   s.connectivityChanged,
	})
	s.watcher = watcher
	s.conn = watcher

	return s, nil
}

// buildCamera selects the provider implementation from config. An empty
// source runs the synthetic provider, which keeps the agent useful on
// hosts without camera hardware.
func buildCamera(cfg *config.Config) (camera.Provider, error) {
	if cfg.Camera.Source == "" {
		slog.Info("using mock camera (no camera.source configured)")
		return camera.NewMockProvider(32 * 1024), nil
	}

	width, height := parseResolution(cfg.Camera.Resolution)
	return camera.NewGstProvider(camera.GstConfig{
		Source:      cfg.Camera.Source,
		Width:       width,
		Height:      height,
		JPEGQuality: cfg.Camera.JPEGQuality,
	})
}

// Run starts the agent and blocks until ctx is cancelled. The startup
// sequence is: connectivity, time sync, camera, first chunk rollover,
// then the loop. Time sync is the only stage allowed to block forever.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelCtx = cancel
	s.mu.Unlock()

	slog.Info("camlink agent starting", "instance_id", s.cfg.InstanceID)

	// Connectivity watcher runs for the whole agent lifetime.
	if s.watcher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watcher.Run(ctx)
		}()

		slog.Info("waiting for connectivity", "probe_addr", s.cfg.Netwatch.ProbeAddr)
		if err := s.watcher.WaitConnected(ctx); err != nil {
			return fmt.Errorf("startup aborted while waiting for connectivity: %w", err)
		}
		slog.Info("connectivity established")
	}

	// Clock synchronization gates everything downstream: chunk labels
	// must be plausible before the first rollover.
	slog.Info("waiting for time synchronization")
	if err := s.timeSrc.WaitSync(ctx); err != nil {
		return fmt.Errorf("startup aborted while waiting for time sync: %w", err)
	}
	if sntp, ok := s.timeSrc.(*timesync.SNTPSource); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sntp.Run(ctx)
		}()
	}

	if err := s.camera.Start(ctx); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}

	// Continue the persisted chunk sequence, then open the first chunk
	// before any capture happens.
	if lastID, err := s.journal.Load(); err != nil {
		slog.Warn("failed to load chunk journal, starting from zero", "error", err)
	} else if lastID > 0 {
		s.timer.Seed(lastID)
		slog.Info("chunk sequence restored", "last_chunk_id", lastID)
	}
	st := s.timer.StartNewChunk()
	s.noteRollover(st)
	slog.Info("first chunk opened", "chunk_id", st.ChunkID, "chunk_start", st.ChunkStart)

	if err := s.startControlPlane(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.healthReporter(ctx)
	}()

	slog.Info("camlink agent running",
		"chunk_duration_ms", s.timer.DurationMS(),
		"idle_interval", s.idleInterval,
		"offline_backoff", s.offlineBackoff,
	)

	s.runLoop(ctx)

	slog.Info("camlink agent run loop exiting")
	return nil
}

// startControlPlane connects MQTT and subscribes the command handler.
// Both are skipped when no broker is configured.
func (s *Service) startControlPlane(ctx context.Context) error {
	if s.emitter == nil {
		return nil
	}

	if err := s.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	s.ctrl = control.NewHandler(s.cfg, s.emitter.Client, control.Callbacks{
		OnGetStatus:        s.statusMap,
		OnPause:            s.pause,
		OnResume:           s.resume,
		OnSetChunkDuration: s.setChunkDuration,
		OnShutdown:         s.shutdownViaControl,
	})
	if err := s.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	return nil
}

// Shutdown performs graceful shutdown of all components.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down camlink agent")

	if s.ctrl != nil {
		if err := s.ctrl.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	if err := s.camera.Stop(); err != nil {
		slog.Error("failed to stop camera", "error", err)
	}

	slog.Info("waiting for goroutines to finish")
	s.wg.Wait()

	if s.emitter != nil {
		if err := s.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("camlink agent shutdown complete", "uptime", uptime)
	return nil
}

// HealthPort returns the configured health server port.
func (s *Service) HealthPort() string {
	return s.cfg.HealthPort
}

// ShutdownTimeout returns the configured graceful shutdown timeout.
func (s *Service) ShutdownTimeout() time.Duration {
	timeout := time.Duration(s.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}

func (s *Service) pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isPaused {
		return fmt.Errorf("capture already paused")
	}
	s.isPaused = true
	slog.Info("capture paused via control plane")
	return nil
}

func (s *Service) resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isPaused {
		return fmt.Errorf("capture not paused")
	}
	s.isPaused = false
	slog.Info("capture resumed via control plane")
	return nil
}

func (s *Service) paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPaused
}

func (s *Service) setChunkDuration(ms uint32) error {
	if ms < 100 {
		return fmt.Errorf("chunk duration %dms too short (min 100ms)", ms)
	}
	s.timer.SetDurationMS(ms)
	slog.Info("chunk duration updated", "duration_ms", ms)
	return nil
}

func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	cancel := s.cancelCtx
	s.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("service not running")
	}
	slog.Info("shutdown requested via control plane")
	cancel()
	return nil
}

// statusMap is the control-plane status payload.
func (s *Service) statusMap() map[string]interface{} {
	chunkID, chunkStart := s.timer.Snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"instance_id":       s.cfg.InstanceID,
		"uptime_s":          time.Since(s.started).Seconds(),
		"running":           s.isRunning,
		"paused":            s.isPaused,
		"connected":         s.conn.Connected(),
		"chunk_id":          chunkID,
		"chunk_start":       chunkStart,
		"chunk_duration_ms": s.timer.DurationMS(),
		"frames_sent":       s.stats.framesSent,
		"capture_failures":  s.stats.captureFailures,
		"transmit_failures": s.stats.transmitFailures,
	}
}

// parseResolution converts a resolution label to width/height.
func parseResolution(res string) (width, height int) {
	switch res {
	case "320p":
		return 426, 320
	case "480p":
		return 640, 480
	case "512p":
		return 640, 512
	case "720p":
		return 1280, 720
	case "1080p":
		return 1920, 1080
	default:
		slog.Warn("unknown resolution, using default", "resolution", res, "default", "640x480")
		return 640, 480
	}
}
