package camera

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstProvider captures JPEG snapshots through a GStreamer pipeline
// terminated in an appsink configured to hold only the freshest sample
// (max-buffers=1, drop=true). Capture pulls whatever frame is current,
// so a slow uplink never builds a backlog inside the pipeline.
type GstProvider struct {
	source      string
	width       int
	height      int
	jpegQuality int

	pipeline *gst.Pipeline
	appsink  *app.Sink

	mu        sync.Mutex
	isRunning bool

	statsMu        sync.RWMutex
	framesCaptured uint64
	captureErrors  uint64
	bytesCaptured  uint64
	lastCaptureAt  time.Time
}

// GstConfig contains GStreamer capture configuration.
type GstConfig struct {
	// Source is a v4l2 device path (/dev/video0) or an rtsp:// URL.
	Source      string
	Width       int
	Height      int
	JPEGQuality int
}

// NewGstProvider creates a GStreamer snapshot provider.
func NewGstProvider(cfg GstConfig) (*GstProvider, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("camera source is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}

	return &GstProvider{
		source:      cfg.Source,
		width:       cfg.Width,
		height:      cfg.Height,
		jpegQuality: cfg.JPEGQuality,
	}, nil
}

// Start builds the pipeline and sets it playing.
func (p *GstProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("camera already started")
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	elements, src, err := p.buildSourceElements()
	if err != nil {
		return err
	}

	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	capsfilter, _ := gst.NewElement("capsfilter")
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,width=%d,height=%d", p.width, p.height,
	))
	capsfilter.SetProperty("caps", caps)

	jpegenc, _ := gst.NewElement("jpegenc")
	jpegenc.SetProperty("quality", p.jpegQuality)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)
	p.appsink = appsink

	all := append(elements, videoconvert, videoscale, capsfilter, jpegenc, appsink.Element)
	pipeline.AddMany(all...)
	gst.ElementLinkMany(videoconvert, videoscale, capsfilter, jpegenc, appsink.Element)

	if err := p.linkSource(src, elements, videoconvert); err != nil {
		return err
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	p.pipeline = pipeline
	p.isRunning = true

	slog.Info("camera pipeline started",
		"source", p.source,
		"resolution", fmt.Sprintf("%dx%d", p.width, p.height),
		"jpeg_quality", p.jpegQuality,
	)

	return nil
}

// buildSourceElements creates the source-side chain for v4l2 or rtsp inputs.
func (p *GstProvider) buildSourceElements() ([]*gst.Element, *gst.Element, error) {
	if strings.HasPrefix(p.source, "rtsp://") {
		rtspsrc, err := gst.NewElement("rtspsrc")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rtspsrc: %w", err)
		}
		rtspsrc.SetProperty("location", p.source)
		rtspsrc.SetProperty("protocols", 4) // TCP
		rtspsrc.SetProperty("latency", 200)

		rtph264depay, _ := gst.NewElement("rtph264depay")
		avdec, _ := gst.NewElement("avdec_h264")

		return []*gst.Element{rtspsrc, rtph264depay, avdec}, rtspsrc, nil
	}

	v4l2src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	v4l2src.SetProperty("device", p.source)

	return []*gst.Element{v4l2src}, v4l2src, nil
}

// linkSource links the source chain into videoconvert. rtspsrc exposes
// dynamic pads, so its depayloader is linked in the pad-added callback.
func (p *GstProvider) linkSource(src *gst.Element, elements []*gst.Element, videoconvert *gst.Element) error {
	if strings.HasPrefix(p.source, "rtsp://") {
		depay, avdec := elements[1], elements[2]
		gst.ElementLinkMany(depay, avdec, videoconvert)

		src.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			slog.Debug("rtspsrc pad added", "pad", srcPad.GetName())
			sinkPad := depay.GetStaticPad("sink")
			if sinkPad != nil {
				srcPad.Link(sinkPad)
			}
		})
		return nil
	}

	if err := src.Link(videoconvert); err != nil {
		return fmt.Errorf("failed to link camera source: %w", err)
	}
	return nil
}

// Capture pulls the freshest encoded frame from the appsink.
func (p *GstProvider) Capture(ctx context.Context) (*Frame, error) {
	p.mu.Lock()
	sink := p.appsink
	running := p.isRunning
	p.mu.Unlock()

	if !running || sink == nil {
		return nil, fmt.Errorf("camera not started")
	}

	sample := sink.PullSample()
	if sample == nil {
		p.noteError()
		return nil, fmt.Errorf("no frame available")
	}
	defer sample.Unref()

	buffer := sample.GetBuffer()
	if buffer == nil {
		p.noteError()
		return nil, fmt.Errorf("sample carries no buffer")
	}

	mapped := buffer.Map(gst.MapRead)
	if mapped == nil {
		p.noteError()
		return nil, fmt.Errorf("failed to map frame buffer")
	}
	defer buffer.Unmap()

	raw := mapped.Bytes()
	data := acquireBuffer(len(raw))
	copy(data, raw)

	p.statsMu.Lock()
	p.framesCaptured++
	p.bytesCaptured += uint64(len(data))
	p.lastCaptureAt = time.Now()
	p.statsMu.Unlock()

	return &Frame{
		Data:       data,
		CapturedAt: time.Now(),
		TraceID:    uuid.New().String(),
	}, nil
}

// Stop tears the pipeline down.
func (p *GstProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning {
		return nil
	}

	if p.pipeline != nil {
		p.pipeline.SetState(gst.StateNull)
		p.pipeline = nil
	}
	p.appsink = nil
	p.isRunning = false

	slog.Info("camera pipeline stopped")
	return nil
}

// Stats returns capture statistics.
func (p *GstProvider) Stats() Stats {
	p.mu.Lock()
	running := p.isRunning
	p.mu.Unlock()

	p.statsMu.RLock()
	defer p.statsMu.RUnlock()

	return Stats{
		FramesCaptured: p.framesCaptured,
		CaptureErrors:  p.captureErrors,
		BytesCaptured:  p.bytesCaptured,
		LastCaptureAt:  p.lastCaptureAt,
		IsRunning:      running,
	}
}

func (p *GstProvider) noteError() {
	p.statsMu.Lock()
	p.captureErrors++
	p.statsMu.Unlock()
}
