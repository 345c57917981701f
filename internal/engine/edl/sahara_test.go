package edl

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

// fakeTransport is a buffer-backed transport.Transport: ReadExact drains a
// pre-seeded byte stream and Write captures every outbound packet for
// assertions, with no real I/O involved.
type fakeTransport struct {
	readBuf []byte
	pos     int
	writes  [][]byte
}

func (f *fakeTransport) Write(ctx context.Context, data []byte, deadline time.Duration) (int, error) {
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, cp)
	return len(data), nil
}

// ReadExact returns up to n bytes from the remaining seeded stream: for
// sahara's fixed header/body sizes that's always exactly n, but firehose
// reads with a generous fixed ceiling (one XML "page" per call) and expects
// a short read when less than that is available, the same way a real bulk
// USB transfer would yield less than the requested max.
func (f *fakeTransport) ReadExact(ctx context.Context, n int, deadline time.Duration) ([]byte, error) {
	if n > 0 && f.pos >= len(f.readBuf) {
		return nil, io.ErrUnexpectedEOF
	}
	end := f.pos + n
	if end > len(f.readBuf) {
		end = len(f.readBuf)
	}
	b := f.readBuf[f.pos:end]
	f.pos = end
	return b, nil
}

func (f *fakeTransport) Close() error     { return nil }
func (f *fakeTransport) Address() string  { return "fake" }

func helloPacket(version, mode uint32) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint32(body[0:4], version)
	binary.LittleEndian.PutUint32(body[12:16], mode)
	return encodePacket(cmdHello, body)
}

func readDataPacket(offset, length uint32) []byte {
	body := make([]byte, 12)
	binary.LittleEndian.PutUint32(body[4:8], offset)
	binary.LittleEndian.PutUint32(body[8:12], length)
	return encodePacket(cmdReadData, body)
}

func doneRespPacket(status uint32) []byte {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body[0:4], status)
	return encodePacket(cmdDoneResp, body)
}

func endImageTxPacket(imageID, status uint32) []byte {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:4], imageID)
	binary.LittleEndian.PutUint32(body[4:8], status)
	return encodePacket(cmdEndImageTx, body)
}

func TestAwaitHelloParsesVersionAndMode(t *testing.T) {
	ft := &fakeTransport{readBuf: helloPacket(2, modeImageTxPending)}
	s := NewSaharaSession(ft)

	version, mode, err := s.AwaitHello(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), version)
	assert.Equal(t, modeImageTxPending, mode)
}

func TestAwaitHelloRejectsWrongCommand(t *testing.T) {
	ft := &fakeTransport{readBuf: encodePacket(cmdDoneResp, nil)}
	s := NewSaharaSession(ft)

	_, _, err := s.AwaitHello(context.Background())
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestAwaitHelloShortBody(t *testing.T) {
	ft := &fakeTransport{readBuf: encodePacket(cmdHello, []byte{1, 2, 3})}
	s := NewSaharaSession(ft)

	_, _, err := s.AwaitHello(context.Background())
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindFraming))
}

func TestSendHelloResponseWritesExpectedPacket(t *testing.T) {
	ft := &fakeTransport{}
	s := NewSaharaSession(ft)

	require.NoError(t, s.SendHelloResponse(context.Background()))
	require.Len(t, ft.writes, 1)

	hdr, err := decodeHeader(ft.writes[0][:8])
	require.NoError(t, err)
	assert.Equal(t, cmdHelloResp, hdr.Cmd)

	body := ft.writes[0][8:]
	assert.Equal(t, saharaVersion, binary.LittleEndian.Uint32(body[0:4]))
	assert.Equal(t, saharaVersion, binary.LittleEndian.Uint32(body[4:8]))
	assert.Equal(t, modeImageTxPending, binary.LittleEndian.Uint32(body[8:12]))
}

func TestUploadImageServesChunkAndFinishes(t *testing.T) {
	image := []byte("0123456789abcdef")

	var stream []byte
	stream = append(stream, readDataPacket(2, 5)...)
	stream = append(stream, endImageTxPacket(0, 0)...)
	stream = append(stream, doneRespPacket(1)...)

	ft := &fakeTransport{readBuf: stream}
	s := NewSaharaSession(ft)

	require.NoError(t, s.UploadImage(context.Background(), image))
	require.Len(t, ft.writes, 2) // the served chunk, then the Done packet

	assert.Equal(t, image[2:7], ft.writes[0])

	hdr, err := decodeHeader(ft.writes[1][:8])
	require.NoError(t, err)
	assert.Equal(t, cmdDone, hdr.Cmd)
}

func TestUploadImageRejectsOutOfRangeChunk(t *testing.T) {
	image := []byte("short")
	stream := readDataPacket(0, 100)

	ft := &fakeTransport{readBuf: stream}
	s := NewSaharaSession(ft)

	err := s.UploadImage(context.Background(), image)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestUploadImageFinishRejectsIncompleteStatus(t *testing.T) {
	var stream []byte
	stream = append(stream, endImageTxPacket(0, 0)...)
	stream = append(stream, doneRespPacket(0)...)

	ft := &fakeTransport{readBuf: stream}
	s := NewSaharaSession(ft)

	err := s.UploadImage(context.Background(), []byte("image"))
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestUploadImageRejectsNonZeroEndImageTxStatus(t *testing.T) {
	stream := endImageTxPacket(0, 7)

	ft := &fakeTransport{readBuf: stream}
	s := NewSaharaSession(ft)

	err := s.UploadImage(context.Background(), []byte("image"))
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestUploadImageRejectsShortEndImageTxBody(t *testing.T) {
	stream := encodePacket(cmdEndImageTx, []byte{0x01, 0x02})

	ft := &fakeTransport{readBuf: stream}
	s := NewSaharaSession(ft)

	err := s.UploadImage(context.Background(), []byte("image"))
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindFraming))
}

func TestUploadImageUnexpectedCommand(t *testing.T) {
	ft := &fakeTransport{readBuf: encodePacket(cmdResetReq, nil)}
	s := NewSaharaSession(ft)

	err := s.UploadImage(context.Background(), []byte("image"))
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}
