// Sahara: the Qualcomm EDL bring-up protocol that hands a Firehose or
// programmer loader to the ROM (spec.md §4.2/§5).
package edl

import (
	"context"
	"encoding/binary"

	"mft/internal/mftio"
	"mft/internal/transport"
)

// Sahara command IDs.
const (
	cmdHello           uint32 = 0x01
	cmdHelloResp       uint32 = 0x02
	cmdReadData        uint32 = 0x03
	cmdEndImageTx      uint32 = 0x04
	cmdDone            uint32 = 0x05
	cmdDoneResp        uint32 = 0x06
	cmdResetReq        uint32 = 0x07
	cmdResetResp       uint32 = 0x08
	cmdCmdReady        uint32 = 0x0B
	cmdCmdExecReq      uint32 = 0x0C
	cmdCmdExecResp     uint32 = 0x0D
	cmdReadData64      uint32 = 0x12
)

// Sahara modes (sent in HelloResp).
const (
	modeImageTxPending uint32 = 0x0
	modeImageTxComplete uint32 = 0x1
	modeMemoryDebug     uint32 = 0x2
	modeCommand         uint32 = 0x3
)

const saharaVersion uint32 = 2

// SaharaSession drives the image-transfer state machine: the target sends
// Hello, we answer HelloResp, then it issues a sequence of ReadData
// (or ReadData64) requests we satisfy from the loader image until
// EndImageTransfer, at which point we send Done and expect DoneResp.
type SaharaSession struct {
	t transport.Transport
}

// NewSaharaSession wraps an open transport.
func NewSaharaSession(t transport.Transport) *SaharaSession {
	return &SaharaSession{t: t}
}

type saharaHeader struct {
	Cmd    uint32
	Length uint32
}

func decodeHeader(b []byte) (saharaHeader, error) {
	if len(b) < 8 {
		return saharaHeader{}, mftio.New(mftio.KindFraming, "sahara.decodeHeader", "short header")
	}
	return saharaHeader{
		Cmd:    binary.LittleEndian.Uint32(b[0:4]),
		Length: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

func (s *SaharaSession) readPacket(ctx context.Context) (saharaHeader, []byte, error) {
	hdrBytes, err := s.t.ReadExact(ctx, 8, transport.DefaultDeadline)
	if err != nil {
		return saharaHeader{}, nil, err
	}
	hdr, err := decodeHeader(hdrBytes)
	if err != nil {
		return saharaHeader{}, nil, err
	}
	if hdr.Length < 8 {
		return hdr, nil, mftio.New(mftio.KindFraming, "sahara.readPacket", "length underflows header")
	}
	body, err := s.t.ReadExact(ctx, int(hdr.Length)-8, transport.DefaultDeadline)
	if err != nil {
		return hdr, nil, err
	}
	return hdr, body, nil
}

// AwaitHello blocks until the target sends its initial Hello packet,
// returning the mode it offers.
func (s *SaharaSession) AwaitHello(ctx context.Context) (version, mode uint32, err error) {
	hdr, body, err := s.readPacket(ctx)
	if err != nil {
		return 0, 0, err
	}
	if hdr.Cmd != cmdHello {
		return 0, 0, mftio.New(mftio.KindProtocolReject, "sahara.AwaitHello", "unexpected command, not Hello")
	}
	if len(body) < 16 {
		return 0, 0, mftio.New(mftio.KindFraming, "sahara.AwaitHello", "short Hello body")
	}
	version = binary.LittleEndian.Uint32(body[0:4])
	mode = binary.LittleEndian.Uint32(body[12:16])
	return version, mode, nil
}

// SendHelloResponse answers Hello with HelloResp, requesting mode
// modeImageTxPending (the normal loader-upload path).
func (s *SaharaSession) SendHelloResponse(ctx context.Context) error {
	body := make([]byte, 40)
	binary.LittleEndian.PutUint32(body[0:4], saharaVersion)
	binary.LittleEndian.PutUint32(body[4:8], saharaVersion)
	binary.LittleEndian.PutUint32(body[8:12], modeImageTxPending)
	pkt := encodePacket(cmdHelloResp, body)
	_, err := s.t.Write(ctx, pkt, transport.DefaultDeadline)
	return err
}

func encodePacket(cmd uint32, body []byte) []byte {
	out := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint32(out[0:4], cmd)
	binary.LittleEndian.PutUint32(out[4:8], uint32(8+len(body)))
	copy(out[8:], body)
	return out
}

// ReadDataRequest is a ReadData/ReadData64 ask from the target: send
// image[offset:offset+length] back.
type ReadDataRequest struct {
	ImageID uint64
	Offset  uint64
	Length  uint64
	Is64    bool
}

// UploadImage runs the ReadData/ReadData64 loop for a single image,
// answering each request until EndImageTransfer arrives (success case) or
// a rejecting packet is seen.
func (s *SaharaSession) UploadImage(ctx context.Context, image []byte) error {
	const op = "sahara.UploadImage"
	for {
		hdr, body, err := s.readPacket(ctx)
		if err != nil {
			return err
		}
		switch hdr.Cmd {
		case cmdReadData:
			if len(body) < 12 {
				return mftio.New(mftio.KindFraming, op, "short ReadData body")
			}
			offset := uint64(binary.LittleEndian.Uint32(body[4:8]))
			length := uint64(binary.LittleEndian.Uint32(body[8:12]))
			if err := s.serveChunk(ctx, image, offset, length); err != nil {
				return err
			}
		case cmdReadData64:
			if len(body) < 24 {
				return mftio.New(mftio.KindFraming, op, "short ReadData64 body")
			}
			offset := binary.LittleEndian.Uint64(body[8:16])
			length := binary.LittleEndian.Uint64(body[16:24])
			if err := s.serveChunk(ctx, image, offset, length); err != nil {
				return err
			}
		case cmdEndImageTx:
			if len(body) < 8 {
				return mftio.New(mftio.KindFraming, op, "short EndImageTransfer body")
			}
			if status := binary.LittleEndian.Uint32(body[4:8]); status != 0 {
				return mftio.New(mftio.KindProtocolReject, op, "target reported EndImageTransfer failure")
			}
			return s.finish(ctx)
		default:
			return mftio.New(mftio.KindProtocolReject, op, "unexpected command during image transfer")
		}
	}
}

func (s *SaharaSession) serveChunk(ctx context.Context, image []byte, offset, length uint64) error {
	const op = "sahara.serveChunk"
	if offset > uint64(len(image)) || offset+length > uint64(len(image)) {
		return mftio.New(mftio.KindProtocolReject, op, "requested range exceeds image")
	}
	chunk := image[offset : offset+length]
	_, err := s.t.Write(ctx, chunk, transport.DefaultDeadline)
	return err
}

func (s *SaharaSession) finish(ctx context.Context) error {
	const op = "sahara.finish"
	pkt := encodePacket(cmdDone, nil)
	if _, err := s.t.Write(ctx, pkt, transport.DefaultDeadline); err != nil {
		return err
	}
	hdr, body, err := s.readPacket(ctx)
	if err != nil {
		return err
	}
	if hdr.Cmd != cmdDoneResp {
		return mftio.New(mftio.KindProtocolReject, op, "expected DoneResp")
	}
	if len(body) >= 4 && binary.LittleEndian.Uint32(body[0:4]) == 0 {
		return mftio.New(mftio.KindProtocolReject, op, "target reports image transfer incomplete")
	}
	return nil
}
