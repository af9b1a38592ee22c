package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTransport struct{ net.Conn }

func (fakeTransport) String() string { return "fake" }

func TestConnectWithRetry(t *testing.T) {
	errRefused := errors.New("connection refused")
	cases := []struct {
		name         string
		maxAttempts  int
		succeedAt    int
		expAttempts  int
		expConnected bool
	}{
		{name: "first attempt", maxAttempts: 15, succeedAt: 1, expAttempts: 1, expConnected: true},
		{name: "succeeds at attempt k", maxAttempts: 15, succeedAt: 4, expAttempts: 4, expConnected: true},
		{name: "succeeds at last attempt", maxAttempts: 5, succeedAt: 5, expAttempts: 5, expConnected: true},
		{name: "never succeeds", maxAttempts: 5, succeedAt: 0, expAttempts: 5},
		{name: "single attempt", maxAttempts: 1, succeedAt: 0, expAttempts: 1},
		{name: "non-positive max means one", maxAttempts: 0, succeedAt: 0, expAttempts: 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			log := zaptest.NewLogger(t).Sugar()
			dials := 0
			dial := func(ctx context.Context) (Transport, error) {
				dials++
				if dials == c.succeedAt {
					return fakeTransport{}, nil
				}
				return nil, errRefused
			}

			tr, err := connectWithRetry(context.Background(), log, "test", c.maxAttempts, time.Millisecond, dial)
			assert.Equal(t, c.expAttempts, dials)
			if c.expConnected {
				require.NoError(t, err)
				assert.Equal(t, "fake", tr.String())
				return
			}
			require.ErrorIs(t, err, ErrConnectionTimeout)
			require.ErrorIs(t, err, errRefused)
			var connErr *ConnectError
			require.ErrorAs(t, err, &connErr)
			assert.Equal(t, c.expAttempts, connErr.Attempts)
		})
	}
}

func TestConnectWithRetryWaitsBetweenAttempts(t *testing.T) {
	delay := 20 * time.Millisecond
	start := time.Now()
	_, err := connectWithRetry(context.Background(), zaptest.NewLogger(t).Sugar(), "test", 4, delay, func(ctx context.Context) (Transport, error) {
		return nil, errors.New("nope")
	})
	require.ErrorIs(t, err, ErrConnectionTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 3*delay)
}

func TestConnectWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dials := 0
	_, err := connectWithRetry(ctx, zaptest.NewLogger(t).Sugar(), "test", 100, time.Millisecond, func(ctx context.Context) (Transport, error) {
		dials++
		if dials == 3 {
			cancel()
		}
		return nil, errors.New("nope")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrConnectionTimeout)
	var connErr *ConnectError
	assert.False(t, errors.As(err, &connErr))
	assert.Less(t, dials, 100)
}
