//go:build !windows

package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUnixRoundTrip(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	path := filepath.Join(tempDir(t), "rt.sock")

	l, err := ListenUnix(path, WithLogger(log))
	require.NoError(t, err)
	defer l.Close()

	roundTrip(t, l, NewUnixConnector(path, WithLogger(log)))
}

func TestUnixCloseRemovesSocket(t *testing.T) {
	path := filepath.Join(tempDir(t), "close.sock")
	l, err := ListenUnix(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, l.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestUnixRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(tempDir(t), "stale.sock")

	// leave a socket file behind with nobody listening on it
	stale, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	stale.SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)

	l, err := ListenUnix(path)
	require.NoError(t, err)
	defer l.Close()

	roundTrip(t, l, NewUnixConnector(path))
}

func TestUnixRefusesLiveSocket(t *testing.T) {
	path := filepath.Join(tempDir(t), "live.sock")
	l, err := ListenUnix(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = ListenUnix(path)
	require.ErrorIs(t, err, ErrIo)
	assert.ErrorContains(t, err, "in use")
}

func TestUnixRefusesRegularFile(t *testing.T) {
	path := filepath.Join(tempDir(t), "file.sock")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := ListenUnix(path)
	require.ErrorIs(t, err, ErrIo)
	assert.ErrorContains(t, err, "not a socket")
}

func TestUnixConnectMissing(t *testing.T) {
	path := filepath.Join(tempDir(t), "missing.sock")
	c := NewUnixConnector(path, WithMaxAttempts(2), WithRetryDelay(time.Millisecond))
	_, err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionTimeout)
}

func TestIPCResolvesToUnix(t *testing.T) {
	assert.Equal(t, KindUnix, KindIPC.Resolve())
	assert.Equal(t, DefaultUnixPath, KindIPC.DefaultAddress())

	_, err := Config{Kind: KindPipe}.Connector()
	require.ErrorIs(t, err, ErrUnsupported)
}
