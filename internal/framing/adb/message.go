// Package adb implements the ADB message framing of spec.md §4.2: a
// 24-byte header (cmd, arg0, arg1, data_len, data_crc, magic) where
// magic == ^cmd, plus the length-prefixed SYNC sub-protocol.
//
// Grounded on the teacher's fixed-header-plus-trailing-checksum packet
// shape in internal/driver/device/usb_device.go (BuildTxTaskFromHeader /
// ParseRxNonce), and on protocol semantics from
// other_examples/...zach-klippenstein-adbfs__adb_filesystem.go.go.
package adb

import (
	"encoding/binary"

	"mft/internal/mftio"
)

// Command values from the ADB wire protocol.
const (
	CmdSYNC Command = 0x434e5953
	CmdCNXN Command = 0x4e584e43
	CmdAUTH Command = 0x48545541
	CmdOPEN Command = 0x4e45504f
	CmdOKAY Command = 0x59414b4f
	CmdCLSE Command = 0x45534c43
	CmdWRTE Command = 0x45545257
)

type Command uint32

func (c Command) String() string {
	switch c {
	case CmdSYNC:
		return "SYNC"
	case CmdCNXN:
		return "CNXN"
	case CmdAUTH:
		return "AUTH"
	case CmdOPEN:
		return "OPEN"
	case CmdOKAY:
		return "OKAY"
	case CmdCLSE:
		return "CLSE"
	case CmdWRTE:
		return "WRTE"
	default:
		return "UNKNOWN"
	}
}

// AuthType values carried in a Message's Arg0 when Command == CmdAUTH.
const (
	AuthToken     uint32 = 1
	AuthSignature uint32 = 2
	AuthPublicKey uint32 = 3
)

const HeaderSize = 24

// MaxDataSize is the default per-message payload ceiling advertised in
// CNXN (spec.md §4.2: "typically 256 KiB").
const MaxDataSize = 256 * 1024

// Message is one ADB protocol frame: a 24-byte header plus an optional
// payload.
type Message struct {
	Cmd     Command
	Arg0    uint32
	Arg1    uint32
	Payload []byte
}

// sumCRC is the "sum-of-bytes as used historically" data_crc definition
// spec.md insists be preserved exactly for interop, despite not being a
// real CRC.
func sumCRC(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// Encode serialises m into its 24-byte header followed by its payload.
func (m Message) Encode() []byte {
	out := make([]byte, HeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint32(out[0:4], uint32(m.Cmd))
	binary.LittleEndian.PutUint32(out[4:8], m.Arg0)
	binary.LittleEndian.PutUint32(out[8:12], m.Arg1)
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(m.Payload)))
	binary.LittleEndian.PutUint32(out[16:20], sumCRC(m.Payload))
	binary.LittleEndian.PutUint32(out[20:24], ^uint32(m.Cmd))
	copy(out[HeaderSize:], m.Payload)
	return out
}

// DecodeHeader parses the fixed 24-byte header and returns the command,
// args and the payload length the caller must then read. It validates
// magic == ^cmd per spec.md's invariant.
func DecodeHeader(header []byte) (cmd Command, arg0, arg1, dataLen uint32, err error) {
	const op = "adb.DecodeHeader"
	if len(header) != HeaderSize {
		return 0, 0, 0, 0, mftio.New(mftio.KindFraming, op, "short header")
	}
	rawCmd := binary.LittleEndian.Uint32(header[0:4])
	arg0 = binary.LittleEndian.Uint32(header[4:8])
	arg1 = binary.LittleEndian.Uint32(header[8:12])
	dataLen = binary.LittleEndian.Uint32(header[12:16])
	magic := binary.LittleEndian.Uint32(header[20:24])

	if magic != ^rawCmd {
		return 0, 0, 0, 0, mftio.New(mftio.KindFraming, op, "magic != ^cmd")
	}
	return Command(rawCmd), arg0, arg1, dataLen, nil
}

// VerifyPayload checks data_crc against the payload per the sum-of-bytes
// definition.
func VerifyPayload(header []byte, payload []byte) error {
	const op = "adb.VerifyPayload"
	wantCRC := binary.LittleEndian.Uint32(header[16:20])
	if sumCRC(payload) != wantCRC {
		return mftio.New(mftio.KindFraming, op, "data_crc mismatch")
	}
	return nil
}

// Banner builds the CNXN host banner, e.g. "host::features=cmd,shell_v2".
func Banner(features ...string) string {
	out := "host::"
	for i, f := range features {
		if i == 0 {
			out += "features=" + f
		} else {
			out += "," + f
		}
	}
	return out
}
