package netwatch

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherDetectsReachableEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	w := NewWatcher(Config{
		ProbeAddr:  ln.Addr().String(),
		Interval:   10 * time.Millisecond,
		Timeout:    time.Second,
		FlapSettle: time.Millisecond,
	})

	if w.Connected() {
		t.Fatal("watcher must start disconnected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := w.WaitConnected(waitCtx); err != nil {
		t.Fatalf("WaitConnected: %v", err)
	}
}

func TestWatcherReportsUnreachableEndpoint(t *testing.T) {
	// Grab a free port and close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	w := NewWatcher(Config{
		ProbeAddr:  addr,
		Interval:   10 * time.Millisecond,
		Timeout:    100 * time.Millisecond,
		FlapSettle: time.Millisecond,
	})

	w.probe()
	if w.Connected() {
		t.Error("watcher reports connected against a closed port")
	}
}

func TestWatcherNotifiesOnSettledStateChange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	var events atomic.Int32
	w := NewWatcher(Config{
		ProbeAddr:  ln.Addr().String(),
		Interval:   10 * time.Millisecond,
		Timeout:    time.Second,
		FlapSettle: 5 * time.Millisecond,
		OnChange: func(up bool) {
			if up {
				events.Add(1)
			}
		},
	})

	w.probe()
	// Repeated probes in the same state must not re-notify.
	w.probe()
	w.probe()

	deadline := time.Now().Add(time.Second)
	for events.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := events.Load(); got != 1 {
		t.Errorf("state-change events = %d, want 1", got)
	}
}
