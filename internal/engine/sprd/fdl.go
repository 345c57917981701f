// Unisoc/Spreadtrum FDL1/FDL2 bootstrap: BSL packets framed with the same
// 0x7E HDLC scheme Firehose uses, carrying CMD_START_DATA/CMD_MID_DATA/
// CMD_END_DATA/CMD_EXEC_DATA and answered with BSL_REP_ACK (spec.md §4.4/§5).
package sprd

import (
	"context"
	"encoding/binary"

	"mft/internal/framing/hdlc"
	"mft/internal/mftio"
	"mft/internal/transport"
)

// BSL command/response type codes.
const (
	cmdConnect      uint16 = 0x00
	cmdStartData    uint16 = 0x01
	cmdMidData      uint16 = 0x02
	cmdEndData      uint16 = 0x03
	cmdExecData     uint16 = 0x04
	cmdReadFlash    uint16 = 0x06
	cmdEraseFlash   uint16 = 0x0A
	cmdNormalReset  uint16 = 0x05
	cmdPowerOff     uint16 = 0x0B
	cmdKeepCharge   uint16 = 0x11

	repAck          uint16 = 0x80
	repNak          uint16 = 0x81
)

// FDLSession drives the BSL (Boot Strap Loader) protocol used by both FDL1
// (running from boot ROM, accepting FDL2) and FDL2 (running from SRAM,
// accepting partition I/O commands).
type FDLSession struct {
	t   transport.Transport
	dec hdlc.Decoder
}

// NewFDLSession wraps an open serial transport.
func NewFDLSession(t transport.Transport) *FDLSession {
	return &FDLSession{t: t}
}

func bslPacket(cmd uint16, payload []byte) []byte {
	body := make([]byte, 2+2+len(payload))
	binary.BigEndian.PutUint16(body[0:2], cmd)
	binary.BigEndian.PutUint16(body[2:4], uint16(len(payload)))
	copy(body[4:], payload)
	return hdlc.Encode(body)
}

// readFrame blocks reading single bytes from the transport until the HDLC
// decoder yields a complete frame or the read fails.
func (s *FDLSession) readFrame(ctx context.Context) ([]byte, error) {
	const op = "fdl.readFrame"
	for {
		b, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
		if err != nil {
			return nil, err
		}
		frames, errs := s.dec.Feed(b)
		if len(errs) > 0 {
			return nil, errs[0]
		}
		if len(frames) > 0 {
			return frames[0], nil
		}
		_ = op
	}
}

func decodeBSLResponse(frame []byte) (cmd uint16, payload []byte, err error) {
	const op = "fdl.decodeBSLResponse"
	if len(frame) < 4 {
		return 0, nil, mftio.New(mftio.KindFraming, op, "short BSL frame")
	}
	cmd = binary.BigEndian.Uint16(frame[0:2])
	length := binary.BigEndian.Uint16(frame[2:4])
	if int(length) > len(frame)-4 {
		return 0, nil, mftio.New(mftio.KindFraming, op, "BSL length exceeds frame")
	}
	return cmd, frame[4 : 4+length], nil
}

func (s *FDLSession) roundTrip(ctx context.Context, cmd uint16, payload []byte) ([]byte, error) {
	const op = "fdl.roundTrip"
	pkt := bslPacket(cmd, payload)
	if _, err := s.t.Write(ctx, pkt, transport.DefaultDeadline); err != nil {
		return nil, err
	}
	frame, err := s.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	respCmd, respPayload, err := decodeBSLResponse(frame)
	if err != nil {
		return nil, err
	}
	if respCmd == repNak {
		return nil, mftio.New(mftio.KindProtocolReject, op, "target NAKed BSL command")
	}
	if respCmd != repAck {
		return nil, mftio.New(mftio.KindProtocolReject, op, "unexpected BSL response")
	}
	return respPayload, nil
}

// Connect sends the initial BSL handshake.
func (s *FDLSession) Connect(ctx context.Context) error {
	_, err := s.roundTrip(ctx, cmdConnect, nil)
	return err
}

// UploadStage uploads an FDL image (FDL1 or FDL2) in start/mid*/end/exec
// sequence to the given load address.
func (s *FDLSession) UploadStage(ctx context.Context, addr uint32, image []byte, chunkSize int) error {
	startBody := make([]byte, 8)
	binary.BigEndian.PutUint32(startBody[0:4], addr)
	binary.BigEndian.PutUint32(startBody[4:8], uint32(len(image)))
	if _, err := s.roundTrip(ctx, cmdStartData, startBody); err != nil {
		return err
	}

	if chunkSize <= 0 {
		chunkSize = 2048
	}
	for off := 0; off < len(image); off += chunkSize {
		end := off + chunkSize
		if end > len(image) {
			end = len(image)
		}
		if _, err := s.roundTrip(ctx, cmdMidData, image[off:end]); err != nil {
			return err
		}
	}

	if _, err := s.roundTrip(ctx, cmdEndData, nil); err != nil {
		return err
	}
	execBody := make([]byte, 4)
	binary.BigEndian.PutUint32(execBody, addr)
	_, err := s.roundTrip(ctx, cmdExecData, execBody)
	return err
}

// ReadFlash reads length bytes from a Download-mode partition address
// (spec.md §4.4's Download-mode partition I/O).
func (s *FDLSession) ReadFlash(ctx context.Context, addr uint32, length int64) ([]byte, error) {
	req := make([]byte, 8)
	binary.BigEndian.PutUint32(req[0:4], addr)
	binary.BigEndian.PutUint32(req[4:8], uint32(length))
	return s.roundTrip(ctx, cmdReadFlash, req)
}

// WriteFlash writes data via CMD_MID_DATA-style chunks after a
// CMD_START_DATA targeting addr, mirroring UploadStage but for partition
// images rather than bootloader stages.
func (s *FDLSession) WriteFlash(ctx context.Context, addr uint32, data []byte, chunkSize int) error {
	return s.UploadStage(ctx, addr, data, chunkSize)
}

// EraseFlash erases length bytes at addr without writing new data.
func (s *FDLSession) EraseFlash(ctx context.Context, addr uint32, length int64) error {
	req := make([]byte, 8)
	binary.BigEndian.PutUint32(req[0:4], addr)
	binary.BigEndian.PutUint32(req[4:8], uint32(length))
	_, err := s.roundTrip(ctx, cmdEraseFlash, req)
	return err
}

// NormalReset reboots the device out of Download mode.
func (s *FDLSession) NormalReset(ctx context.Context) error {
	_, err := s.roundTrip(ctx, cmdNormalReset, nil)
	return err
}

// PowerOff powers the device down.
func (s *FDLSession) PowerOff(ctx context.Context) error {
	_, err := s.roundTrip(ctx, cmdPowerOff, nil)
	return err
}

// KeepCharge tells the target to keep charging after reset instead of
// powering fully off. The SPRD engine does not call it; its Keep-NV
// option only skips nv*/runtime* partitions.
func (s *FDLSession) KeepCharge(ctx context.Context) error {
	_, err := s.roundTrip(ctx, cmdKeepCharge, nil)
	return err
}
