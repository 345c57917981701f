// Diag mode: IMEI read/write and factory reset over the same BSL framing,
// a separate command namespace from Download mode's partition I/O
// (spec.md §4.4).
package sprd

import (
	"context"
	"encoding/binary"

	"mft/internal/mftio"
)

// Diag command codes (distinct namespace from the Download-mode BSL ids).
const (
	diagCmdReadNV    uint16 = 0x30
	diagCmdWriteNV   uint16 = 0x31
	diagCmdFactoryReset uint16 = 0x32
)

// nvIMEIItem is the NV item index Unisoc firmwares use for the primary IMEI.
const nvIMEIItem uint16 = 0x0001

// DiagSession reuses an FDLSession's BSL transport but targets Diag-mode
// command ids.
type DiagSession struct {
	fdl *FDLSession
}

// NewDiagSession wraps an FDL2-connected session once Diag mode has been
// entered (typically via a vendor-specific AT command sequence out of
// scope here; spec.md treats Diag entry as a precondition).
func NewDiagSession(fdl *FDLSession) *DiagSession {
	return &DiagSession{fdl: fdl}
}

// ReadIMEI reads the primary IMEI NV item.
func (d *DiagSession) ReadIMEI(ctx context.Context) (string, error) {
	const op = "diag.ReadIMEI"
	req := make([]byte, 2)
	binary.BigEndian.PutUint16(req, nvIMEIItem)
	resp, err := d.fdl.roundTrip(ctx, diagCmdReadNV, req)
	if err != nil {
		return "", err
	}
	if len(resp) == 0 {
		return "", mftio.New(mftio.KindProtocolReject, op, "empty IMEI response")
	}
	return bcdDecode(resp), nil
}

// WriteIMEI writes imei (15 decimal digits) to the primary IMEI NV item.
func (d *DiagSession) WriteIMEI(ctx context.Context, imei string) error {
	const op = "diag.WriteIMEI"
	if len(imei) != 15 {
		return mftio.New(mftio.KindInternal, op, "IMEI must be 15 digits")
	}
	encoded := bcdEncode(imei)
	body := make([]byte, 2+len(encoded))
	binary.BigEndian.PutUint16(body[0:2], nvIMEIItem)
	copy(body[2:], encoded)
	_, err := d.fdl.roundTrip(ctx, diagCmdWriteNV, body)
	return err
}

// FactoryReset requests the target wipe userdata/cache NV state.
func (d *DiagSession) FactoryReset(ctx context.Context) error {
	_, err := d.fdl.roundTrip(ctx, diagCmdFactoryReset, nil)
	return err
}

func bcdEncode(digits string) []byte {
	out := make([]byte, (len(digits)+1)/2)
	for i, c := range digits {
		nibble := byte(c - '0')
		if i%2 == 0 {
			out[i/2] |= nibble
		} else {
			out[i/2] |= nibble << 4
		}
	}
	if len(digits)%2 == 1 {
		out[len(out)-1] |= 0xF0 // filler nibble, skipped by bcdDecode
	}
	return out
}

func bcdDecode(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, by := range b {
		lo := by & 0x0F
		hi := (by >> 4) & 0x0F
		if lo <= 9 {
			out = append(out, '0'+lo)
		}
		if hi <= 9 {
			out = append(out, '0'+hi)
		}
	}
	return string(out)
}
