package transport

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

type Kind string

const (
	// KindIPC is the platform's local transport: Unix domain sockets, or named pipes on Windows.
	KindIPC  Kind = "ipc"
	KindTCP  Kind = "tcp"
	KindUnix Kind = "unix"
	KindPipe Kind = "pipe"
	KindWS   Kind = "ws"
)

const (
	EnvTransport = "HANA_TRANSPORT"
	EnvAddress   = "HANA_ADDR"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindIPC, nil
	case KindIPC, KindTCP, KindUnix, KindPipe, KindWS:
		return k, nil
	default:
		return "", fmt.Errorf("unknown transport kind %q", s)
	}
}

// Resolve maps KindIPC onto the platform's concrete kind.
func (k Kind) Resolve() Kind {
	if k == KindIPC || k == "" {
		return ipcKind
	}
	return k
}

func (k Kind) DefaultAddress() string {
	switch k = k.Resolve(); k {
	case KindTCP, KindWS:
		return DefaultTCPAddress
	default:
		return platformDefaultAddress(k)
	}
}

// Config selects a transport implementation and its connect policy.
// Zero values mean defaults.
type Config struct {
	Kind        Kind
	Address     string
	MaxAttempts int
	RetryDelay  time.Duration
}

// ConfigFromEnv reads HANA_TRANSPORT and HANA_ADDR.
func ConfigFromEnv() (Config, error) {
	k, err := ParseKind(os.Getenv(EnvTransport))
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", EnvTransport, err)
	}
	return Config{Kind: k, Address: os.Getenv(EnvAddress)}, nil
}

func (c Config) address() string {
	if c.Address != "" {
		return c.Address
	}
	return c.Kind.DefaultAddress()
}

func (c Config) options(opts []Option) []Option {
	var o []Option
	if c.MaxAttempts > 0 {
		o = append(o, WithMaxAttempts(c.MaxAttempts))
	}
	if c.RetryDelay > 0 {
		o = append(o, WithRetryDelay(c.RetryDelay))
	}
	return append(o, opts...)
}

// Env returns the environment entries that make ConfigFromEnv reproduce c in a child process.
func (c Config) Env() []string {
	return []string{
		EnvTransport + "=" + string(c.Kind.Resolve()),
		EnvAddress + "=" + c.address(),
	}
}

func (c Config) String() string {
	return fmt.Sprintf("%s://%s", c.Kind.Resolve(), c.address())
}

func (c Config) Connector(opts ...Option) (Connector, error) {
	opts = c.options(opts)
	switch k := c.Kind.Resolve(); k {
	case KindTCP:
		return NewTCPConnector(c.address(), opts...), nil
	case KindWS:
		return NewWebSocketConnector(c.address(), opts...), nil
	default:
		return platformConnector(k, c.address(), opts)
	}
}

func (c Config) Listener(ctx context.Context, opts ...Option) (Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = c.options(opts)
	switch k := c.Kind.Resolve(); k {
	case KindTCP:
		l, err := ListenTCP(c.address(), opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	case KindWS:
		l, err := ListenWebSocket(c.address(), opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return platformListener(k, c.address(), opts)
	}
}
