package net

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

func GetEphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, fmt.Errorf("resolving localhost:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// GetEphemeralTCPAddr returns a loopback host:port that was free a moment ago.
func GetEphemeralTCPAddr() (string, error) {
	port, err := GetEphemeralTCPPort()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("127.0.0.1:%d", port), nil
}

// TempSocketPath returns a short Unix socket path that does not exist yet.
// Test temp dirs can exceed the ~104 byte sun_path limit, so this uses os.TempDir directly.
func TempSocketPath(name string) (string, error) {
	dir, err := os.MkdirTemp("", "hana")
	if err != nil {
		return "", fmt.Errorf("creating socket dir: %w", err)
	}
	return filepath.Join(dir, name+".sock"), nil
}
