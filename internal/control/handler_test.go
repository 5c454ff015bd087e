package control

import (
	"fmt"
	"testing"

	"github.com/visiona/camlink/internal/config"
)

func newTestHandler(callbacks Callbacks, sink *[]Response) *Handler {
	cfg := &config.Config{InstanceID: "test"}
	cfg.MQTT.Broker = "localhost:1883"
	h := NewHandler(cfg, nil, callbacks)
	h.respond = func(r Response) {
		*sink = append(*sink, r)
	}
	return h
}

func TestHandleGetStatus(t *testing.T) {
	var responses []Response
	h := newTestHandler(Callbacks{
		OnGetStatus: func() map[string]interface{} {
			return map[string]interface{}{"chunk_id": uint64(7)}
		},
	}, &responses)

	h.handleCommand(Command{Command: "get_status"})

	if len(responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(responses))
	}
	if responses[0].Status != "success" || responses[0].CommandAck != "get_status" {
		t.Errorf("response = %+v", responses[0])
	}
	if responses[0].Data["chunk_id"] != uint64(7) {
		t.Errorf("data = %v", responses[0].Data)
	}
}

func TestHandlePauseResume(t *testing.T) {
	var paused bool
	var responses []Response
	h := newTestHandler(Callbacks{
		OnPause:  func() error { paused = true; return nil },
		OnResume: func() error { paused = false; return nil },
	}, &responses)

	h.handleCommand(Command{Command: "pause"})
	if !paused {
		t.Error("pause callback not invoked")
	}
	h.handleCommand(Command{Command: "resume"})
	if paused {
		t.Error("resume callback not invoked")
	}

	for i, want := range []string{"pause", "resume"} {
		if responses[i].CommandAck != want || responses[i].Status != "success" {
			t.Errorf("response %d = %+v", i, responses[i])
		}
	}
}

func TestHandleSetChunkDuration(t *testing.T) {
	var gotMS uint32
	var responses []Response
	h := newTestHandler(Callbacks{
		OnSetChunkDuration: func(ms uint32) error {
			if ms < 100 {
				return fmt.Errorf("duration too short")
			}
			gotMS = ms
			return nil
		},
	}, &responses)

	h.handleCommand(Command{Command: "set_chunk_duration", Params: map[string]interface{}{"duration_ms": 2000.0}})
	if gotMS != 2000 {
		t.Errorf("duration = %d, want 2000", gotMS)
	}
	if responses[0].Status != "success" {
		t.Errorf("response = %+v", responses[0])
	}

	h.handleCommand(Command{Command: "set_chunk_duration", Params: map[string]interface{}{"duration_ms": "fast"}})
	if responses[1].Status != "error" {
		t.Errorf("non-numeric duration accepted: %+v", responses[1])
	}

	h.handleCommand(Command{Command: "set_chunk_duration", Params: map[string]interface{}{"duration_ms": 50.0}})
	if responses[2].Status != "error" || responses[2].Error != "duration too short" {
		t.Errorf("callback error not surfaced: %+v", responses[2])
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	var responses []Response
	h := newTestHandler(Callbacks{}, &responses)

	h.handleCommand(Command{Command: "reboot_flux_capacitor"})

	if responses[0].Status != "error" {
		t.Errorf("unknown command accepted: %+v", responses[0])
	}
}
