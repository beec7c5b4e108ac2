package main

import (
	"errors"
	"fmt"
	"net"
	"os"
)

const (
	sdReady    = "READY=1"
	sdStopping = "STOPPING=1"
)

var errNoNotifySocket = errors.New("NOTIFY_SOCKET not set, skipping systemd notify")

// sdNotify sends a state string to the systemd notify socket. Without
// Type=notify there is no socket and errNoNotifySocket is returned.
func sdNotify(state string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errNoNotifySocket
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd; unixgram dial has no context variant
	if err != nil {
		return fmt.Errorf("systemd notify %s: dial failed: %w", state, err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("systemd notify %s: write failed: %w", state, err)
	}
	return nil
}
