// Package hdlc implements the HDLC-style byte framing Qualcomm Firehose
// runs its XML documents over: 0x7E frame delimiters, 0x7D escaping, and a
// trailing CRC-16/CCITT over the payload (spec.md §4.2).
//
// Grounded on the teacher's table-driven CRC shape in
// internal/driver/device/usb_device.go (CalculateCRC16) — re-derived here
// for the CRC-16/CCITT polynomial Firehose actually specifies, since the
// teacher's table implements Modbus CRC-16, a different polynomial.
package hdlc

import "mft/internal/mftio"

const (
	FrameDelimiter byte = 0x7E
	EscapeByte     byte = 0x7D
	EscapeXOR      byte = 0x20
)

// crc16CCITT computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF) over
// data, matching Firehose's framing checksum.
func crc16CCITT(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Encode frames payload as escaped bytes between two 0x7E delimiters,
// trailed by its CRC-16/CCITT (big-endian), itself escaped.
func Encode(payload []byte) []byte {
	crc := crc16CCITT(payload)
	withCRC := make([]byte, len(payload)+2)
	copy(withCRC, payload)
	withCRC[len(payload)] = byte(crc >> 8)
	withCRC[len(payload)+1] = byte(crc)

	out := make([]byte, 0, len(withCRC)+4)
	out = append(out, FrameDelimiter)
	for _, b := range withCRC {
		if b == FrameDelimiter || b == EscapeByte {
			out = append(out, EscapeByte, b^EscapeXOR)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, FrameDelimiter)
	return out
}

// Decoder consumes a byte stream one Feed() call at a time and yields
// decoded payloads as frames complete. A bad CRC reports FramingError and
// resynchronises by discarding bytes up to the next 0x7E, per spec.md
// §4.2/§8.
type Decoder struct {
	buf      []byte
	escaping bool
	inFrame  bool
}

// Feed appends raw bytes to the decoder and returns every payload frame
// that completed as a result, in arrival order. A malformed frame (bad
// CRC, too short) is reported via errs in the same order as the good
// frames it's interleaved with.
func (d *Decoder) Feed(data []byte) (frames [][]byte, errs []error) {
	for _, b := range data {
		switch {
		case b == FrameDelimiter:
			if d.inFrame && len(d.buf) > 0 {
				frame, err := d.finish()
				if err != nil {
					errs = append(errs, err)
				} else {
					frames = append(frames, frame)
				}
			}
			d.buf = d.buf[:0]
			d.escaping = false
			d.inFrame = true
		case b == EscapeByte && d.inFrame:
			d.escaping = true
		default:
			if !d.inFrame {
				continue // waiting for a delimiter to resync
			}
			if d.escaping {
				b ^= EscapeXOR
				d.escaping = false
			}
			d.buf = append(d.buf, b)
		}
	}
	return frames, errs
}

func (d *Decoder) finish() ([]byte, error) {
	if len(d.buf) < 2 {
		return nil, mftio.New(mftio.KindFraming, "hdlc.Decode", "frame shorter than CRC")
	}
	payload := d.buf[:len(d.buf)-2]
	gotCRC := uint16(d.buf[len(d.buf)-2])<<8 | uint16(d.buf[len(d.buf)-1])
	wantCRC := crc16CCITT(payload)
	if gotCRC != wantCRC {
		return nil, mftio.New(mftio.KindFraming, "hdlc.Decode", "crc mismatch")
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
