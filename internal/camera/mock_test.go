package camera

import (
	"bytes"
	"context"
	"testing"
)

func TestMockProviderLifecycle(t *testing.T) {
	m := NewMockProvider(64)

	if _, err := m.Capture(context.Background()); err == nil {
		t.Fatal("Capture before Start must fail")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start must fail")
	}

	frame, err := m.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(frame.Data) != 64 {
		t.Errorf("frame size = %d, want 64", len(frame.Data))
	}
	if !bytes.HasPrefix(frame.Data, []byte{0xFF, 0xD8}) {
		t.Error("frame missing JPEG SOI marker")
	}
	if frame.TraceID == "" {
		t.Error("frame missing trace id")
	}
	frame.Release()

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestMockProviderScriptedFailures(t *testing.T) {
	m := NewMockProvider(16)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.FailNext(2)

	for i := 0; i < 2; i++ {
		if _, err := m.Capture(context.Background()); err == nil {
			t.Fatalf("capture %d: expected scripted failure", i)
		}
	}
	if _, err := m.Capture(context.Background()); err != nil {
		t.Fatalf("capture after failures exhausted: %v", err)
	}

	stats := m.Stats()
	if stats.CaptureErrors != 2 || stats.FramesCaptured != 1 {
		t.Errorf("stats = %+v, want 2 errors and 1 frame", stats)
	}
}

func TestFrameReleaseIdempotent(t *testing.T) {
	m := NewMockProvider(16)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	frame, err := m.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	frame.Release()
	if frame.Data != nil {
		t.Error("frame data still reachable after Release")
	}
	frame.Release() // must not panic or double-recycle

	var nilFrame *Frame
	nilFrame.Release() // nil-safe
}
