package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/guseggert/hana/transport"
)

const (
	frameHeaderSize = 4
	MaxFrameSize    = 16 << 20
)

// WriteFrame writes payload behind its length prefix in a single Write.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return serializationError("frame of %d bytes exceeds limit of %d", len(payload), MaxFrameSize)
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: writing frame: %w", transport.ErrIo, err)
	}
	return nil
}

// ReadFrame reads one frame, reassembling it from as many reads as needed.
// A stream that ends cleanly before the length prefix yields (nil, nil).
// A stream that ends anywhere inside a frame is an I/O error wrapping io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading frame length: %w", transport.ErrIo, err)
	}

	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, serializationError("frame of %d bytes exceeds limit of %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: reading frame payload of %d bytes: %w", transport.ErrIo, n, err)
	}
	return payload, nil
}
