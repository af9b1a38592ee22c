//go:build windows

package transport

import "fmt"

// KindIPC resolves to named pipes here.
const ipcKind = KindPipe

func platformConnector(kind Kind, addr string, opts []Option) (Connector, error) {
	if kind == KindPipe {
		return NewPipeConnector(addr, opts...), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
}

func platformListener(kind Kind, addr string, opts []Option) (Listener, error) {
	if kind == KindPipe {
		l, err := ListenPipe(addr, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
}

func platformDefaultAddress(kind Kind) string {
	if kind == KindPipe {
		return DefaultPipeName
	}
	return ""
}
