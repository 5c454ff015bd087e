package timesync

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Seconds between the NTP epoch (1900-01-01) and the Unix epoch.
const ntpUnixDelta = 2208988800

// SNTPSource aligns the local clock against an NTP server with simple
// SNTP queries. The measured offset is applied to every Now() reading;
// the local clock itself is never touched.
type SNTPSource struct {
	server       string
	queryTimeout time.Duration
	resyncEvery  time.Duration

	mu     sync.RWMutex
	offset float64
	synced bool
}

// NewSNTPSource creates an SNTP source for server ("host:123").
func NewSNTPSource(server string, resyncEvery time.Duration) *SNTPSource {
	return &SNTPSource{
		server:       server,
		queryTimeout: 5 * time.Second,
		resyncEvery:  resyncEvery,
	}
}

// Now returns local time corrected by the last measured offset.
func (s *SNTPSource) Now() float64 {
	s.mu.RLock()
	offset := s.offset
	s.mu.RUnlock()
	return float64(time.Now().UnixNano())/1e9 + offset
}

// Synchronized reports whether at least one query has succeeded.
func (s *SNTPSource) Synchronized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// WaitSync queries the server until one exchange succeeds or ctx is done.
func (s *SNTPSource) WaitSync(ctx context.Context) error {
	retry := time.Second
	for {
		if err := s.sync(); err != nil {
			slog.Warn("time sync failed, retrying",
				"server", s.server,
				"retry_in", retry,
				"error", err,
			)
		} else {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
		if retry < 30*time.Second {
			retry *= 2
		}
	}
}

// Run periodically refreshes the offset until ctx is done. Failed resyncs
// keep the previous offset; the source stays synchronized.
func (s *SNTPSource) Run(ctx context.Context) {
	ticker := time.NewTicker(s.resyncEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sync(); err != nil {
				slog.Warn("periodic time resync failed, keeping previous offset",
					"server", s.server,
					"error", err,
				)
			}
		}
	}
}

// sync performs one SNTP exchange and stores the resulting offset.
func (s *SNTPSource) sync() error {
	conn, err := net.DialTimeout("udp", s.server, s.queryTimeout)
	if err != nil {
		return fmt.Errorf("failed to reach ntp server: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.queryTimeout)); err != nil {
		return fmt.Errorf("failed to set ntp deadline: %w", err)
	}

	t1 := float64(time.Now().UnixNano()) / 1e9
	if _, err := conn.Write(sntpRequest()); err != nil {
		return fmt.Errorf("failed to send ntp request: %w", err)
	}

	resp := make([]byte, 48)
	if _, err := conn.Read(resp); err != nil {
		return fmt.Errorf("failed to read ntp response: %w", err)
	}
	t4 := float64(time.Now().UnixNano()) / 1e9

	serverTime, err := sntpTransmitTime(resp)
	if err != nil {
		return err
	}

	// Symmetric-path assumption: the server timestamp is valid at the
	// midpoint of the exchange.
	offset := serverTime - (t1+t4)/2

	s.mu.Lock()
	s.offset = offset
	s.synced = true
	s.mu.Unlock()

	slog.Info("time synchronized",
		"server", s.server,
		"offset_ms", int64(offset*1000),
		"rtt_ms", int64((t4-t1)*1000),
	)

	return nil
}

// sntpRequest builds a 48-byte SNTPv4 client request.
func sntpRequest() []byte {
	req := make([]byte, 48)
	req[0] = 0x23 // LI=0, VN=4, Mode=3 (client)
	return req
}

// sntpTransmitTime extracts the server transmit timestamp (bytes 40-47)
// as epoch seconds.
func sntpTransmitTime(resp []byte) (float64, error) {
	if len(resp) < 48 {
		return 0, fmt.Errorf("short ntp response: %d bytes", len(resp))
	}

	mode := resp[0] & 0x07
	if mode != 4 && mode != 5 {
		return 0, fmt.Errorf("unexpected ntp mode %d", mode)
	}

	secs := binary.BigEndian.Uint32(resp[40:44])
	frac := binary.BigEndian.Uint32(resp[44:48])
	if secs == 0 {
		return 0, fmt.Errorf("ntp response carries zero transmit timestamp")
	}

	return float64(secs) - ntpUnixDelta + float64(frac)/(1<<32), nil
}
