//go:build !windows

package transport

import "fmt"

// KindIPC resolves to Unix domain sockets here.
const ipcKind = KindUnix

func platformConnector(kind Kind, addr string, opts []Option) (Connector, error) {
	if kind == KindUnix {
		return NewUnixConnector(addr, opts...), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
}

func platformListener(kind Kind, addr string, opts []Option) (Listener, error) {
	if kind == KindUnix {
		l, err := ListenUnix(addr, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
}

func platformDefaultAddress(kind Kind) string {
	if kind == KindUnix {
		return DefaultUnixPath
	}
	return ""
}
