package mtk

import (
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/mftio"
)

// fakeSerialTransport models BROM's echo-every-byte handshake: ReadExact
// drains a pre-seeded response stream in order, Write is recorded but never
// consulted by the fake (the seeded stream already encodes what BROM would
// echo back for each written byte).
type fakeSerialTransport struct {
	readBuf []byte
	pos     int
	writes  [][]byte
}

func (f *fakeSerialTransport) Write(ctx context.Context, data []byte, deadline time.Duration) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), data...))
	return len(data), nil
}

func (f *fakeSerialTransport) ReadExact(ctx context.Context, n int, deadline time.Duration) ([]byte, error) {
	if f.pos+n > len(f.readBuf) {
		return nil, io.ErrUnexpectedEOF
	}
	b := f.readBuf[f.pos : f.pos+n]
	f.pos += n
	return b, nil
}

func (f *fakeSerialTransport) Close() error    { return nil }
func (f *fakeSerialTransport) Address() string { return "fake-serial" }

func TestBromHandshakeEchoesStartSequence(t *testing.T) {
	ft := &fakeSerialTransport{readBuf: []byte{0xA0, 0x0A, 0x50, 0x05}}
	s := NewBromSession(ft)

	require.NoError(t, s.Handshake(context.Background()))
	require.Len(t, ft.writes, 4)
	assert.Equal(t, []byte{0xA0}, ft.writes[0])
	assert.Equal(t, []byte{0x05}, ft.writes[3])
}

func TestBromHandshakeEchoMismatchFails(t *testing.T) {
	ft := &fakeSerialTransport{readBuf: []byte{0xFF, 0x0A, 0x50, 0x05}}
	s := NewBromSession(ft)

	err := s.Handshake(context.Background())
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestBromGetHWCode(t *testing.T) {
	resp := make([]byte, 2)
	binary.BigEndian.PutUint16(resp, 0x0766)

	stream := append([]byte{opCmdGetHwCode}, resp...)
	ft := &fakeSerialTransport{readBuf: stream}
	s := NewBromSession(ft)

	hwCode, err := s.GetHWCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0766), hwCode)
}

func TestBromGetHWVersion(t *testing.T) {
	resp := make([]byte, 2)
	binary.BigEndian.PutUint16(resp, 0xCB00)

	stream := append([]byte{opCmdGetHwVersion}, resp...)
	ft := &fakeSerialTransport{readBuf: stream}
	s := NewBromSession(ft)

	hwVer, err := s.GetHWVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(0xCB00), hwVer)
}

func TestBromSendDASuccess(t *testing.T) {
	payload := make([]byte, 2500) // spans more than 2 1024-byte chunks
	for i := range payload {
		payload[i] = byte(i)
	}

	var stream []byte
	stream = append(stream, opCmdSendDA)        // echo
	stream = append(stream, ackByte)            // header ack
	stream = append(stream, 0x00, 0x00)         // checksum (not enforced)
	stream = append(stream, ackByte)            // final ack

	ft := &fakeSerialTransport{readBuf: stream}
	s := NewBromSession(ft)

	require.NoError(t, s.SendDA(context.Background(), 0x40000000, payload, 0))
	// echo + 12-byte header + 3 payload chunks (1024,1024,452)
	require.Len(t, ft.writes, 5)
	assert.Len(t, ft.writes[1], 12)
	assert.Equal(t, payload[0:1024], ft.writes[2])
	assert.Equal(t, payload[2048:2500], ft.writes[4])
}

func TestBromSendDARejectsHeaderNAK(t *testing.T) {
	stream := []byte{opCmdSendDA, 0x00} // NAK instead of ACK
	ft := &fakeSerialTransport{readBuf: stream}
	s := NewBromSession(ft)

	err := s.SendDA(context.Background(), 0, []byte("x"), 0)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestBromJumpDA(t *testing.T) {
	stream := []byte{opCmdJumpDA, ackByte}
	ft := &fakeSerialTransport{readBuf: stream}
	s := NewBromSession(ft)

	require.NoError(t, s.JumpDA(context.Background(), 0x40000000))
	require.Len(t, ft.writes, 2)
	assert.Equal(t, uint32(0x40000000), binary.BigEndian.Uint32(ft.writes[1]))
}

func TestBromRequestSLAChallenge(t *testing.T) {
	nonce := []byte{1, 2, 3, 4}
	stream := append([]byte{opCmdSLAChallenge}, nonce...)
	ft := &fakeSerialTransport{readBuf: stream}
	s := NewBromSession(ft)

	got, err := s.RequestSLAChallenge(context.Background(), len(nonce))
	require.NoError(t, err)
	assert.Equal(t, nonce, got)
}

func TestBromSendSLAResponseRejected(t *testing.T) {
	ft := &fakeSerialTransport{readBuf: []byte{0x00}}
	s := NewBromSession(ft)

	err := s.SendSLAResponse(context.Background(), []byte{0xAB, 0xCD})
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindAuthFailed))
}
