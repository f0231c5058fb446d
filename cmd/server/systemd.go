package main

import (
	"fmt"
	"net"
	"os"
)

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify: close: %w", err)
	}
	return nil
}
