package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrSerialization is wrapped by every encode or decode failure.
var ErrSerialization = errors.New("serialization error")

const (
	fieldKind protowire.Number = 1
	fieldBody protowire.Number = 2
)

func serializationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSerialization, fmt.Sprintf(format, args...))
}

// Encode produces the payload for m.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, serializationError("nil message")
	}
	if _, ok := lookupKind(m.Kind()); !ok {
		return nil, serializationError("unregistered kind %d", uint32(m.Kind()))
	}

	b := protowire.AppendTag(nil, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind()))
	if body := m.AppendBody(nil); len(body) > 0 {
		b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}
	return b, nil
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (Message, error) {
	var (
		kind     uint64
		haveKind bool
		body     []byte
	)
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return nil, serializationError("reading field tag: %s", protowire.ParseError(n))
		}
		payload = payload[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return nil, serializationError("reading kind: %s", protowire.ParseError(n))
			}
			kind, haveKind = v, true
			payload = payload[n:]
		case num == fieldBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return nil, serializationError("reading body: %s", protowire.ParseError(n))
			}
			body = v
			payload = payload[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return nil, serializationError("skipping field %d: %s", num, protowire.ParseError(n))
			}
			payload = payload[n:]
		}
	}

	if !haveKind {
		return nil, serializationError("missing message kind")
	}
	if kind > uint64(^uint32(0)) {
		return nil, serializationError("kind %d out of range", kind)
	}
	info, ok := lookupKind(Kind(kind))
	if !ok {
		return nil, serializationError("unknown kind %d", kind)
	}
	m, err := info.decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrSerialization, info.name, err)
	}
	return m, nil
}
