// SYNC sub-protocol driver: PUSH/PULL/STAT/LIST over an opened "sync:"
// stream, using internal/framing/adb's sync primitives (spec.md §4.9).
package adbfb

import (
	"context"
	"time"

	"mft/internal/framing/adb"
	"mft/internal/mftio"
)

// SyncSession wraps a Stream opened against "sync:".
type SyncSession struct {
	st *Stream
}

// OpenSync opens a new sync: stream on sess.
func OpenSync(ctx context.Context, sess *AdbSession) (*SyncSession, error) {
	st, err := sess.Open(ctx, "sync:")
	if err != nil {
		return nil, err
	}
	return &SyncSession{st: st}, nil
}

func (s *SyncSession) sendFrame(ctx context.Context, frame []byte) error {
	return s.st.Write(ctx, frame)
}

// readSyncReply reads one SYNC-framed reply from the device stream.
func (s *SyncSession) readSyncReply(ctx context.Context) (adb.SyncOp, []byte, error) {
	const op = "adbfb.SyncSession.readSyncReply"
	raw, err := s.st.ReadOnce(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(raw) < 8 {
		return "", nil, mftio.New(mftio.KindFraming, op, "short sync reply")
	}
	opcode, length, err := adb.DecodeSyncHeader(raw[:8])
	if err != nil {
		return "", nil, err
	}
	payload := raw[8:]
	if uint32(len(payload)) < length {
		return opcode, payload, mftio.New(mftio.KindFraming, op, "truncated sync payload")
	}
	return opcode, payload[:length], nil
}

// Push streams data to remotePath on the device with the given file mode,
// chunking at adb.MaxSyncChunk per spec.md §4.9.
func (s *SyncSession) Push(ctx context.Context, remotePath string, mode uint32, data []byte, mtime time.Time) error {
	const op = "adbfb.SyncSession.Push"
	if err := s.sendFrame(ctx, adb.EncodeSendPath(remotePath, mode)); err != nil {
		return err
	}
	for _, frame := range adb.ChunkPushData(data) {
		if err := s.sendFrame(ctx, frame); err != nil {
			return err
		}
	}
	if err := s.sendFrame(ctx, adb.EncodeDone(uint32(mtime.Unix()))); err != nil {
		return err
	}
	op_, payload, err := s.readSyncReply(ctx)
	if err != nil {
		return err
	}
	if op_ != adb.SyncOkay {
		return mftio.New(mftio.KindProtocolReject, op, "push failed: "+string(payload))
	}
	return nil
}

// Pull reads remotePath from the device in full.
func (s *SyncSession) Pull(ctx context.Context, remotePath string) ([]byte, error) {
	const op = "adbfb.SyncSession.Pull"
	if err := s.sendFrame(ctx, adb.EncodeSyncFrame(adb.SyncRecv, []byte(remotePath))); err != nil {
		return nil, err
	}
	var out []byte
	for {
		opcode, payload, err := s.readSyncReply(ctx)
		if err != nil {
			return nil, err
		}
		switch opcode {
		case adb.SyncData:
			out = append(out, payload...)
		case adb.SyncDone:
			return out, nil
		case adb.SyncFail:
			return nil, mftio.New(mftio.KindProtocolReject, op, "pull failed: "+string(payload))
		default:
			return nil, mftio.New(mftio.KindProtocolReject, op, "unexpected opcode during pull")
		}
	}
}

// Stat requests file metadata for remotePath; returns mode, size, mtime.
func (s *SyncSession) Stat(ctx context.Context, remotePath string) (mode, size, mtime uint32, err error) {
	const op = "adbfb.SyncSession.Stat"
	if err := s.sendFrame(ctx, adb.EncodeSyncFrame(adb.SyncStat, []byte(remotePath))); err != nil {
		return 0, 0, 0, err
	}
	opcode, payload, err := s.readSyncReply(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	if opcode != adb.SyncStat || len(payload) < 12 {
		return 0, 0, 0, mftio.New(mftio.KindProtocolReject, op, "malformed STAT reply")
	}
	mode = le32(payload[0:4])
	size = le32(payload[4:8])
	mtime = le32(payload[8:12])
	return mode, size, mtime, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Entry is one DENT record from a LIST response.
type Entry struct {
	Name  string
	Mode  uint32
	Size  uint32
	MTime uint32
}

// List enumerates remoteDir's contents.
func (s *SyncSession) List(ctx context.Context, remoteDir string) ([]Entry, error) {
	const op = "adbfb.SyncSession.List"
	if err := s.sendFrame(ctx, adb.EncodeSyncFrame(adb.SyncList, []byte(remoteDir))); err != nil {
		return nil, err
	}
	var out []Entry
	for {
		opcode, payload, err := s.readSyncReply(ctx)
		if err != nil {
			return nil, err
		}
		switch opcode {
		case adb.SyncDent:
			if len(payload) < 16 {
				return nil, mftio.New(mftio.KindFraming, op, "short DENT record")
			}
			nameLen := le32(payload[12:16])
			if int(16+nameLen) > len(payload) {
				return nil, mftio.New(mftio.KindFraming, op, "DENT name overruns payload")
			}
			out = append(out, Entry{
				Mode:  le32(payload[0:4]),
				Size:  le32(payload[4:8]),
				MTime: le32(payload[8:12]),
				Name:  string(payload[16 : 16+nameLen]),
			})
		case adb.SyncDone:
			return out, nil
		default:
			return nil, mftio.New(mftio.KindProtocolReject, op, "unexpected opcode during list")
		}
	}
}

// Close ends the sync stream.
func (s *SyncSession) Close(ctx context.Context) error {
	return s.st.Close(ctx)
}
