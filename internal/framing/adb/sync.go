// SYNC sub-protocol framing: ASCII 4-byte opcode + little-endian length,
// then payload (spec.md §4.2).
package adb

import (
	"encoding/binary"

	"mft/internal/mftio"
)

type SyncOp string

const (
	SyncSend SyncOp = "SEND"
	SyncRecv SyncOp = "RECV"
	SyncData SyncOp = "DATA"
	SyncDone SyncOp = "DONE"
	SyncOkay SyncOp = "OKAY"
	SyncFail SyncOp = "FAIL"
	SyncStat SyncOp = "STAT"
	SyncList SyncOp = "LIST"
	SyncDent SyncOp = "DENT"
)

// MaxSyncChunk is the host-side push chunk ceiling (spec.md §4.9: "≤ 64 KiB").
const MaxSyncChunk = 64 * 1024

// EncodeSyncFrame builds a SYNC opcode+length+payload frame.
func EncodeSyncFrame(op SyncOp, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	copy(out[0:4], op)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[8:], payload)
	return out
}

// DecodeSyncHeader parses the 8-byte opcode+length prefix.
func DecodeSyncHeader(header []byte) (SyncOp, uint32, error) {
	const op = "adb.DecodeSyncHeader"
	if len(header) != 8 {
		return "", 0, mftio.New(mftio.KindFraming, op, "short sync header")
	}
	return SyncOp(header[0:4]), binary.LittleEndian.Uint32(header[4:8]), nil
}

// EncodeSendPath builds the SEND argument: "path,mode" encoded as a
// length-prefixed string payload per the SYNC protocol.
func EncodeSendPath(path string, mode uint32) []byte {
	arg := path + "," + itoa(mode)
	return EncodeSyncFrame(SyncSend, []byte(arg))
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ChunkPushData splits data into DATA frames no larger than MaxSyncChunk,
// followed implicitly by a DONE frame the caller appends with the mtime.
func ChunkPushData(data []byte) [][]byte {
	var frames [][]byte
	for off := 0; off < len(data); off += MaxSyncChunk {
		end := off + MaxSyncChunk
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, EncodeSyncFrame(SyncData, data[off:end]))
	}
	return frames
}

// EncodeDone builds the DONE frame carrying the file's mtime (SEND) or is
// ignored as a terminator for RECV, per the SYNC protocol.
func EncodeDone(mtime uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, mtime)
	return EncodeSyncFrame(SyncDone, buf)
}
