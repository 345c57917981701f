// MediaTek BROM: the single-byte opcode command set the mask ROM answers
// before any Download Agent is running (spec.md §4.3/§5).
package mtk

import (
	"context"
	"encoding/binary"

	"mft/internal/mftio"
	"mft/internal/transport"
)

// BROM opcodes (spec.md §4.7's command table; single-byte opcodes followed
// by parameters, every command echoed back for synchronisation).
const (
	opCmdGetHwCode    byte = 0xA0
	opCmdGetHwSubCode byte = 0xA1
	opCmdGetHwVersion byte = 0xA2
	opCmdGetSwVersion byte = 0xA3
	opCmdGetMeId      byte = 0xB1
	opCmdJumpDA       byte = 0xD0
	opCmdSendDA       byte = 0xD5
	opCmdReadReg32    byte = 0xE1
	opCmdWriteReg32   byte = 0xE2
	opCmdGetChipId    byte = 0xFE
	opCmdSLAChallenge byte = 0xD1
)

const ackByte byte = 0x5A

// BromSession drives the handshake and loader handoff against the BROM.
type BromSession struct {
	t transport.Transport
}

// NewBromSession wraps an open serial/USB transport.
func NewBromSession(t transport.Transport) *BromSession {
	return &BromSession{t: t}
}

// echo writes b and expects the BROM to echo it back (the documented BROM
// handshake idiom: every byte sent is echoed before the reply follows).
func (s *BromSession) echo(ctx context.Context, b byte) error {
	const op = "brom.echo"
	if _, err := s.t.Write(ctx, []byte{b}, transport.DefaultDeadline); err != nil {
		return err
	}
	got, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	if got[0] != b {
		return mftio.New(mftio.KindProtocolReject, op, "echo mismatch")
	}
	return nil
}

// Handshake sends the 0xA0 0x0A 0x50 0x05 start sequence BROM expects
// before any other command is accepted; the leading byte is the same
// GetHwCode opcode the table documents, doubling as the sync marker.
func (s *BromSession) Handshake(ctx context.Context) error {
	for _, b := range []byte{0xA0, 0x0A, 0x50, 0x05} {
		if err := s.echo(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// readU16 issues a single-opcode, u16-reply BROM command.
func (s *BromSession) readU16(ctx context.Context, op byte, opName string) (uint16, error) {
	if err := s.echo(ctx, op); err != nil {
		return 0, err
	}
	resp, err := s.t.ReadExact(ctx, 2, transport.DefaultDeadline)
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 {
		return 0, mftio.New(mftio.KindFraming, "brom."+opName, "short response")
	}
	return binary.BigEndian.Uint16(resp), nil
}

// GetHWCode issues the 0xA0 GetHwCode command.
func (s *BromSession) GetHWCode(ctx context.Context) (uint16, error) {
	return s.readU16(ctx, opCmdGetHwCode, "GetHWCode")
}

// GetHWVersion issues the 0xA2 GetHwVersion command.
func (s *BromSession) GetHWVersion(ctx context.Context) (uint16, error) {
	return s.readU16(ctx, opCmdGetHwVersion, "GetHWVersion")
}

// SendDA uploads the Download Agent payload in a length-prefixed block to
// the given target address; BROM replies ACK/NAK to the header, returns a
// 16-bit checksum of the payload, then a final ACK/NAK.
func (s *BromSession) SendDA(ctx context.Context, addr uint32, payload []byte, sigLen uint32) error {
	const op = "brom.SendDA"
	if err := s.echo(ctx, opCmdSendDA); err != nil {
		return err
	}
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint32(hdr[0:4], addr)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[8:12], sigLen)
	if _, err := s.t.Write(ctx, hdr, transport.DefaultDeadline); err != nil {
		return err
	}
	ackStage, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	if ackStage[0] != ackByte {
		return mftio.New(mftio.KindProtocolReject, op, "target rejected SendDA header")
	}

	const chunkSize = 1024
	for off := 0; off < len(payload); off += chunkSize {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if _, err := s.t.Write(ctx, payload[off:end], transport.DefaultDeadline); err != nil {
			return err
		}
	}

	checksum, err := s.t.ReadExact(ctx, 2, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	_ = checksum // BROM returns a 16-bit XOR checksum; read and discarded, not verified

	final, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	if final[0] != ackByte {
		return mftio.New(mftio.KindProtocolReject, op, "target rejected DA payload")
	}
	return nil
}

// JumpDA tells BROM to begin executing the uploaded DA at addr.
func (s *BromSession) JumpDA(ctx context.Context, addr uint32) error {
	const op = "brom.JumpDA"
	if err := s.echo(ctx, opCmdJumpDA); err != nil {
		return err
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, addr)
	if _, err := s.t.Write(ctx, buf, transport.DefaultDeadline); err != nil {
		return err
	}
	ack, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	if ack[0] != ackByte {
		return mftio.New(mftio.KindProtocolReject, op, "target rejected JumpDA")
	}
	return nil
}

// RequestSLAChallenge asks BROM for the random challenge bytes an SLA
// (Secure Lock Authentication) bootloader requires signing back.
func (s *BromSession) RequestSLAChallenge(ctx context.Context, nonceLen int) ([]byte, error) {
	if err := s.echo(ctx, opCmdSLAChallenge); err != nil {
		return nil, err
	}
	return s.t.ReadExact(ctx, nonceLen, transport.DefaultDeadline)
}

// SendSLAResponse returns the signed challenge to BROM.
func (s *BromSession) SendSLAResponse(ctx context.Context, signed []byte) error {
	const op = "brom.SendSLAResponse"
	if _, err := s.t.Write(ctx, signed, transport.DefaultDeadline); err != nil {
		return err
	}
	ack, err := s.t.ReadExact(ctx, 1, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	if ack[0] != ackByte {
		return mftio.New(mftio.KindAuthFailed, op, "target rejected SLA signature")
	}
	return nil
}
