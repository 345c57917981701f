package adb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/mftio"
)

func TestEncodeDecodeSyncFrame(t *testing.T) {
	frame := EncodeSyncFrame(SyncData, []byte("hello"))
	op, length, err := DecodeSyncHeader(frame[:8])
	require.NoError(t, err)
	assert.Equal(t, SyncData, op)
	assert.Equal(t, uint32(5), length)
	assert.Equal(t, []byte("hello"), frame[8:])
}

func TestDecodeSyncHeaderShort(t *testing.T) {
	_, _, err := DecodeSyncHeader([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindFraming))
}

func TestEncodeSendPath(t *testing.T) {
	frame := EncodeSendPath("/data/local/tmp/x", 0o644)
	op, length, err := DecodeSyncHeader(frame[:8])
	require.NoError(t, err)
	assert.Equal(t, SyncSend, op)
	assert.Equal(t, "/data/local/tmp/x,420", string(frame[8:8+length]))
}

func TestChunkPushDataSplitsOnBoundary(t *testing.T) {
	data := make([]byte, MaxSyncChunk+100)
	for i := range data {
		data[i] = byte(i)
	}
	frames := ChunkPushData(data)
	require.Len(t, frames, 2)

	op, length, err := DecodeSyncHeader(frames[0][:8])
	require.NoError(t, err)
	assert.Equal(t, SyncData, op)
	assert.Equal(t, uint32(MaxSyncChunk), length)

	_, length, err = DecodeSyncHeader(frames[1][:8])
	require.NoError(t, err)
	assert.Equal(t, uint32(100), length)
}

func TestChunkPushDataEmpty(t *testing.T) {
	assert.Empty(t, ChunkPushData(nil))
}

func TestEncodeDone(t *testing.T) {
	frame := EncodeDone(12345)
	op, length, err := DecodeSyncHeader(frame[:8])
	require.NoError(t, err)
	assert.Equal(t, SyncDone, op)
	assert.Equal(t, uint32(4), length)
}
