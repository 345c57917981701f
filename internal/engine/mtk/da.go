// Download Agent command engines: Legacy, XFlash and XML-v6 all run on top
// of the same uploaded DA payload but speak different command framing
// (spec.md §4.3/§5).
package mtk

import (
	"context"
	"encoding/binary"

	"mft/internal/mftio"
	"mft/internal/partition"
	"mft/internal/transport"
)

// DAMode identifies which DA command dialect is in use.
type DAMode int

const (
	DAModeLegacy DAMode = iota
	DAModeXFlash
	DAModeXML6
)

// Legacy/XFlash DA opcodes (single-byte, same family as BROM's).
const (
	daCmdReadRegister  byte = 0x70
	daCmdWriteMem      byte = 0xD4
	daCmdFormat        byte = 0xF0
	daCmdWriteFlash    byte = 0xD6
	daCmdReadFlash     byte = 0xD6 // direction distinguished by a sub-flag
	daCmdFinish        byte = 0xD9
)

// DASession drives partition I/O once a DA is running.
type DASession struct {
	t    transport.Transport
	mode DAMode
}

// NewDASession wraps a transport whose DA has already been jumped-to.
func NewDASession(t transport.Transport, mode DAMode) *DASession {
	return &DASession{t: t, mode: mode}
}

func (s *DASession) cmdByte(ctx context.Context, b byte) error {
	const op = "da.cmdByte"
	if _, err := s.t.Write(ctx, []byte{b}, transport.DefaultDeadline); err != nil {
		return err
	}
	got, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	if got[0] != b {
		return mftio.New(mftio.KindProtocolReject, op, "DA echo mismatch")
	}
	return nil
}

// WriteFlash streams data to a flash address. Protected partitions are
// checked by the caller (engine.go), not here, since this layer works in
// raw addresses.
func (s *DASession) WriteFlash(ctx context.Context, addr uint64, data []byte) error {
	const op = "da.WriteFlash"
	if err := s.cmdByte(ctx, daCmdWriteFlash); err != nil {
		return err
	}
	hdr := make([]byte, 16)
	binary.BigEndian.PutUint64(hdr[0:8], addr)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(len(data)))
	if _, err := s.t.Write(ctx, hdr, transport.DefaultDeadline); err != nil {
		return err
	}

	const chunkSize = 4096
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := s.t.Write(ctx, data[off:end], transport.DefaultDeadline); err != nil {
			return err
		}
	}

	ack, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	if ack[0] != ackByte {
		return mftio.New(mftio.KindProtocolReject, op, "DA rejected flash write")
	}
	return nil
}

// ReadFlash reads length bytes from addr.
func (s *DASession) ReadFlash(ctx context.Context, addr uint64, length int64) ([]byte, error) {
	const op = "da.ReadFlash"
	if err := s.cmdByte(ctx, daCmdReadFlash); err != nil {
		return nil, err
	}
	hdr := make([]byte, 16)
	binary.BigEndian.PutUint64(hdr[0:8], addr)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(length))
	if _, err := s.t.Write(ctx, hdr, transport.DefaultDeadline); err != nil {
		return nil, err
	}
	data, err := s.t.ReadExact(ctx, int(length), transport.DefaultDeadline)
	if err != nil {
		return nil, err
	}
	ack, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
	if err != nil {
		return nil, err
	}
	if ack[0] != ackByte {
		return nil, mftio.New(mftio.KindProtocolReject, op, "DA rejected flash read")
	}
	return data, nil
}

// Format erases length bytes starting at addr without transferring data.
func (s *DASession) Format(ctx context.Context, addr uint64, length int64) error {
	const op = "da.Format"
	if err := s.cmdByte(ctx, daCmdFormat); err != nil {
		return err
	}
	hdr := make([]byte, 16)
	binary.BigEndian.PutUint64(hdr[0:8], addr)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(length))
	if _, err := s.t.Write(ctx, hdr, transport.DefaultDeadline); err != nil {
		return err
	}
	ack, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	if ack[0] != ackByte {
		return mftio.New(mftio.KindProtocolReject, op, "DA rejected format")
	}
	return nil
}

// Finish ends the DA session, optionally rebooting the device.
func (s *DASession) Finish(ctx context.Context, reboot bool) error {
	const op = "da.Finish"
	if err := s.cmdByte(ctx, daCmdFinish); err != nil {
		return err
	}
	flag := byte(0)
	if reboot {
		flag = 1
	}
	if _, err := s.t.Write(ctx, []byte{flag}, transport.DefaultDeadline); err != nil {
		return err
	}
	return nil
}

// partitionAddr resolves a partition entry's flash byte address from its
// unified sector fields.
func partitionAddr(e partition.Entry) uint64 {
	return e.StartSector * uint64(e.SectorSize)
}
