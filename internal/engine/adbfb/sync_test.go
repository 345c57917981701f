package adbfb

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/framing/adb"
	"mft/internal/mftio"
)

func openMsg() adb.Message { return adb.Message{Cmd: adb.CmdOKAY, Arg0: 9} }

func TestSyncPushSendsSendDataDoneAndExpectsOkay(t *testing.T) {
	stream := seedMessages(
		openMsg(),
		adb.Message{Cmd: adb.CmdOKAY}, // ack for SEND
		adb.Message{Cmd: adb.CmdOKAY}, // ack for DATA
		adb.Message{Cmd: adb.CmdOKAY}, // ack for DONE
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncOkay, nil)},
	)
	tr := &queueTransport{stream: stream}
	s := NewSession(tr, nil)

	sync, err := OpenSync(context.Background(), s)
	require.NoError(t, err)

	mtime := time.Unix(1700000000, 0)
	require.NoError(t, sync.Push(context.Background(), "/data/local/tmp/x", 0644, []byte("hello world"), mtime))

	require.Len(t, tr.writes, 5) // OPEN, WRTE(SEND), WRTE(DATA), WRTE(DONE), OKAY ack
	assert.Equal(t, adb.CmdOKAY, tr.writes[4].Cmd)
}

func TestSyncPushRejectsFail(t *testing.T) {
	stream := seedMessages(
		openMsg(),
		adb.Message{Cmd: adb.CmdOKAY},
		adb.Message{Cmd: adb.CmdOKAY},
		adb.Message{Cmd: adb.CmdOKAY},
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncFail, []byte("no space"))},
	)
	tr := &queueTransport{stream: stream}
	s := NewSession(tr, nil)

	sync, err := OpenSync(context.Background(), s)
	require.NoError(t, err)

	err = sync.Push(context.Background(), "/x", 0644, []byte("d"), time.Unix(1, 0))
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestSyncPullAccumulatesDataUntilDone(t *testing.T) {
	stream := seedMessages(
		openMsg(),
		adb.Message{Cmd: adb.CmdOKAY}, // ack for RECV
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncData, []byte("part1"))},
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncData, []byte("part2"))},
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncDone, nil)},
	)
	tr := &queueTransport{stream: stream}
	s := NewSession(tr, nil)

	sync, err := OpenSync(context.Background(), s)
	require.NoError(t, err)

	got, err := sync.Pull(context.Background(), "/data/local/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "part1part2", string(got))
}

func TestSyncPullFailReturnsError(t *testing.T) {
	stream := seedMessages(
		openMsg(),
		adb.Message{Cmd: adb.CmdOKAY},
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncFail, []byte("not found"))},
	)
	tr := &queueTransport{stream: stream}
	s := NewSession(tr, nil)

	sync, err := OpenSync(context.Background(), s)
	require.NoError(t, err)

	_, err = sync.Pull(context.Background(), "/missing")
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestSyncStatParsesModeSizeMtime(t *testing.T) {
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload[0:4], 0100644)
	binary.LittleEndian.PutUint32(payload[4:8], 1234)
	binary.LittleEndian.PutUint32(payload[8:12], 1700000000)

	stream := seedMessages(
		openMsg(),
		adb.Message{Cmd: adb.CmdOKAY},
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncStat, payload)},
	)
	tr := &queueTransport{stream: stream}
	s := NewSession(tr, nil)

	sync, err := OpenSync(context.Background(), s)
	require.NoError(t, err)

	mode, size, mtime, err := sync.Stat(context.Background(), "/data/local/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, uint32(0100644), mode)
	assert.Equal(t, uint32(1234), size)
	assert.Equal(t, uint32(1700000000), mtime)
}

func TestSyncStatMalformedReply(t *testing.T) {
	stream := seedMessages(
		openMsg(),
		adb.Message{Cmd: adb.CmdOKAY},
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncStat, []byte("x"))},
	)
	tr := &queueTransport{stream: stream}
	s := NewSession(tr, nil)

	sync, err := OpenSync(context.Background(), s)
	require.NoError(t, err)

	_, _, _, err = sync.Stat(context.Background(), "/x")
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestSyncListCollectsDentRecords(t *testing.T) {
	dent := make([]byte, 16)
	binary.LittleEndian.PutUint32(dent[0:4], 0100644)
	binary.LittleEndian.PutUint32(dent[4:8], 42)
	binary.LittleEndian.PutUint32(dent[8:12], 1700000000)
	binary.LittleEndian.PutUint32(dent[12:16], 4)
	dent = append(dent, []byte("boot")...)

	stream := seedMessages(
		openMsg(),
		adb.Message{Cmd: adb.CmdOKAY},
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncDent, dent)},
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncDone, nil)},
	)
	tr := &queueTransport{stream: stream}
	s := NewSession(tr, nil)

	sync, err := OpenSync(context.Background(), s)
	require.NoError(t, err)

	entries, err := sync.List(context.Background(), "/data/local/tmp")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "boot", entries[0].Name)
	assert.Equal(t, uint32(42), entries[0].Size)
}

func TestSyncListShortDentRecord(t *testing.T) {
	stream := seedMessages(
		openMsg(),
		adb.Message{Cmd: adb.CmdOKAY},
		adb.Message{Cmd: adb.CmdWRTE, Payload: adb.EncodeSyncFrame(adb.SyncDent, []byte("short"))},
	)
	tr := &queueTransport{stream: stream}
	s := NewSession(tr, nil)

	sync, err := OpenSync(context.Background(), s)
	require.NoError(t, err)

	_, err = sync.List(context.Background(), "/x")
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindFraming))
}
