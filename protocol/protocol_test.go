package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"testing/iotest"

	"github.com/guseggert/hana/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protowire"
)

const kindStatus Kind = 200

// status is a visualization-to-controller message used to exercise custom kinds.
type status struct{ text string }

func (status) Kind() Kind { return kindStatus }
func (s status) AppendBody(b []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	return protowire.AppendString(b, s.text)
}

func decodeStatus(body []byte) (Message, error) {
	var s status
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			s.text = v
			body = body[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]
	}
	return s, nil
}

func init() {
	RegisterKind(kindStatus, "Status", VisualizationRole, decodeStatus)
}

type pipeTransport struct {
	net.Conn
	name string
}

func (p pipeTransport) String() string { return p.name }

func pipe() (transport.Transport, transport.Transport) {
	a, b := net.Pipe()
	return pipeTransport{Conn: a, name: "pipe-a"}, pipeTransport{Conn: b, name: "pipe-b"}
}

func frame(payload []byte) []byte {
	b := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{name: "ping", msg: Ping{}},
		{name: "shutdown", msg: Shutdown{}},
		{name: "custom kind with body", msg: status{text: "rendering"}},
		{name: "custom kind with empty body", msg: status{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload, err := Encode(c.msg)
			require.NoError(t, err)
			decoded, err := Decode(payload)
			require.NoError(t, err)
			assert.Equal(t, c.msg, decoded)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	kindOnly := func(k uint64) []byte {
		b := protowire.AppendTag(nil, fieldKind, protowire.VarintType)
		return protowire.AppendVarint(b, k)
	}
	cases := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "unknown kind", payload: kindOnly(99)},
		{name: "zero kind", payload: kindOnly(0)},
		{name: "kind out of range", payload: kindOnly(1 << 40)},
		{name: "truncated varint", payload: []byte{0x08, 0x80}},
		{name: "garbage tag", payload: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{name: "body without kind", payload: protowire.AppendBytes(protowire.AppendTag(nil, fieldBody, protowire.BytesType), []byte("x"))},
		{name: "truncated body", payload: append(kindOnly(uint64(KindPing)), 0x12, 0x05, 'a')},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(c.payload)
			require.ErrorIs(t, err, ErrSerialization)
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, 7, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer peer")
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(KindShutdown))
	b = protowire.AppendTag(b, 9, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 42)

	m, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, Shutdown{}, m)
}

func TestEncodeUnregisteredKind(t *testing.T) {
	_, err := Encode(unregistered{})
	require.ErrorIs(t, err, ErrSerialization)
	_, err = Encode(nil)
	require.ErrorIs(t, err, ErrSerialization)
}

type unregistered struct{}

func (unregistered) Kind() Kind                 { return 4242 }
func (unregistered) AppendBody(b []byte) []byte { return b }

func TestReadFrame(t *testing.T) {
	ping, err := Encode(Ping{})
	require.NoError(t, err)
	full := frame(ping)

	cases := []struct {
		name       string
		input      []byte
		expPayload []byte
		expErr     error
	}{
		{name: "clean close", input: nil},
		{name: "whole frame", input: full, expPayload: ping},
		{name: "empty frame", input: frame(nil), expPayload: []byte{}},
		{name: "partial prefix", input: full[:2], expErr: io.ErrUnexpectedEOF},
		{name: "partial payload", input: full[:len(full)-1], expErr: io.ErrUnexpectedEOF},
		{name: "prefix only", input: full[:4], expErr: io.ErrUnexpectedEOF},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload, err := ReadFrame(bytes.NewReader(c.input))
			if c.expErr != nil {
				require.ErrorIs(t, err, c.expErr)
				require.ErrorIs(t, err, transport.ErrIo)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expPayload, payload)
		})
	}
}

func TestReadFrameReassemblesSplitReads(t *testing.T) {
	var stream []byte
	msgs := []Message{Ping{}, status{text: "a longer body that spans many single-byte reads"}, Shutdown{}}
	for _, m := range msgs {
		payload, err := Encode(m)
		require.NoError(t, err)
		stream = append(stream, frame(payload)...)
	}

	r := iotest.OneByteReader(bytes.NewReader(stream))
	for _, exp := range msgs {
		payload, err := ReadFrame(r)
		require.NoError(t, err)
		m, err := Decode(payload)
		require.NoError(t, err)
		assert.Equal(t, exp, m)
	}
	payload, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestFrameSizeLimit(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(hdr[:]))
	require.ErrorIs(t, err, ErrSerialization)

	err = WriteFrame(io.Discard, make([]byte, MaxFrameSize+1))
	require.ErrorIs(t, err, ErrSerialization)
}

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role       Role
		kind       Kind
		canSend    bool
		canReceive bool
	}{
		{role: ControllerRole, kind: KindPing, canSend: true},
		{role: ControllerRole, kind: KindShutdown, canSend: true},
		{role: ControllerRole, kind: kindStatus, canReceive: true},
		{role: VisualizationRole, kind: KindPing, canReceive: true},
		{role: VisualizationRole, kind: KindShutdown, canReceive: true},
		{role: VisualizationRole, kind: kindStatus, canSend: true},
		{role: VisualizationRole, kind: 4242},
	}
	for _, c := range cases {
		t.Run(c.role.String()+"/"+c.kind.String(), func(t *testing.T) {
			assert.Equal(t, c.canSend, c.role.CanSend(c.kind))
			assert.Equal(t, c.canReceive, c.role.CanReceive(c.kind))
		})
	}
}

func TestEndpointSendReceive(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	a, b := pipe()
	ctrl := NewControllerEndpoint(a, WithLogger(log))
	viz := NewVisualizationEndpoint(b, WithLogger(log))
	defer ctrl.Close()
	defer viz.Close()

	var g errgroup.Group
	g.Go(func() error {
		if err := ctrl.Send(Ping{}); err != nil {
			return err
		}
		if err := ctrl.Send(Shutdown{}); err != nil {
			return err
		}
		return ctrl.Close()
	})

	m, err := viz.Receive()
	require.NoError(t, err)
	assert.Equal(t, Ping{}, m)
	m, err = viz.Receive()
	require.NoError(t, err)
	assert.Equal(t, Shutdown{}, m)
	m, err = viz.Receive()
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, g.Wait())
}

func TestEndpointRejectsUnpermittedKinds(t *testing.T) {
	a, b := pipe()
	ctrl := NewEndpoint(a, ControllerRole)
	viz := NewEndpoint(b, VisualizationRole)
	defer ctrl.Close()
	defer viz.Close()

	require.ErrorIs(t, viz.Send(Ping{}), ErrNotPermitted)
	require.ErrorIs(t, ctrl.Send(status{text: "nope"}), ErrNotPermitted)

	// a visualization-sent kind arriving at a visualization is refused on receipt
	payload, err := Encode(status{text: "x"})
	require.NoError(t, err)
	go func() { _ = WriteFrame(a, payload) }()
	_, err = viz.Receive()
	require.ErrorIs(t, err, ErrNotPermitted)

	// and the reverse direction works
	go func() { _ = viz.Send(status{text: "ready"}) }()
	m, err := ctrl.Receive()
	require.NoError(t, err)
	assert.Equal(t, status{text: "ready"}, m)
}

func TestEndpointConcurrentSendsDoNotInterleave(t *testing.T) {
	a, b := pipe()
	ctrl := NewEndpoint(a, ControllerRole)
	viz := NewEndpoint(b, VisualizationRole)
	defer viz.Close()

	const n = 200
	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		msg := Message(Ping{})
		if i%2 == 0 {
			msg = Shutdown{}
		}
		g.Go(func() error { return ctrl.Send(msg) })
	}
	go func() {
		_ = g.Wait()
		ctrl.Close()
	}()

	counts := map[Kind]int{}
	for {
		m, err := viz.Receive()
		require.NoError(t, err)
		if m == nil {
			break
		}
		counts[m.Kind()]++
	}
	assert.Equal(t, n/2, counts[KindPing])
	assert.Equal(t, n/2, counts[KindShutdown])
	require.NoError(t, g.Wait())
}

func TestEndpointSendAfterPeerCloseIsIoError(t *testing.T) {
	a, b := pipe()
	ctrl := NewControllerEndpoint(a)
	require.NoError(t, b.Close())

	err := ctrl.Send(Ping{})
	require.ErrorIs(t, err, transport.ErrIo)
	assert.ErrorContains(t, err, "Ping")
	require.NoError(t, ctrl.Close())
	require.NoError(t, ctrl.Close())
}
