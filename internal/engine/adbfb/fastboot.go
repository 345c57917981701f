// Fastboot command engine: issues command/response frames over a plain
// transport and drives the bulk DATA phase for download (spec.md
// §4.2/§4.9/§4.10).
package adbfb

import (
	"context"

	"mft/internal/framing/fastboot"
	"mft/internal/mftio"
	"mft/internal/transport"
)

// FastbootSession drives one Fastboot command/response exchange at a time;
// the protocol is strictly half-duplex.
type FastbootSession struct {
	t transport.Transport
}

// NewFastbootSession wraps an open transport.
func NewFastbootSession(t transport.Transport) *FastbootSession {
	return &FastbootSession{t: t}
}

// command sends a command and reads INFO lines followed by a terminal
// OKAY/FAIL/DATA response.
func (f *FastbootSession) command(ctx context.Context, cmd string) (fastboot.Response, []string, error) {
	const op = "adbfb.FastbootSession.command"
	frame, err := fastboot.EncodeCommand(cmd)
	if err != nil {
		return fastboot.Response{}, nil, err
	}
	if _, err := f.t.Write(ctx, frame, transport.DefaultDeadline); err != nil {
		return fastboot.Response{}, nil, err
	}

	var infos []string
	for {
		raw, err := f.t.ReadExact(ctx, fastboot.MaxCommandSize, transport.DefaultDeadline)
		if err != nil {
			return fastboot.Response{}, nil, err
		}
		resp, err := fastboot.DecodeResponse(trimNUL(raw))
		if err != nil {
			return fastboot.Response{}, nil, err
		}
		if resp.Kind == fastboot.RespInfo {
			infos = append(infos, resp.Message)
			continue
		}
		if resp.Kind == fastboot.RespFail {
			return resp, infos, mftio.New(mftio.KindProtocolReject, op, cmd+": "+resp.Message)
		}
		return resp, infos, nil
	}
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// Download uploads data to the device's download buffer.
func (f *FastbootSession) Download(ctx context.Context, data []byte) error {
	const op = "adbfb.FastbootSession.Download"
	resp, _, err := f.command(ctx, fastboot.EncodeDownload(int64(len(data))))
	if err != nil {
		return err
	}
	if resp.Kind != fastboot.RespData {
		return mftio.New(mftio.KindProtocolReject, op, "device did not ACK download with DATA")
	}
	if resp.Size != int64(len(data)) {
		return mftio.New(mftio.KindProtocolReject, op, "device advertised different download size")
	}
	if _, err := f.t.Write(ctx, data, transport.DefaultDeadline); err != nil {
		return err
	}
	final, err := f.t.ReadExact(ctx, fastboot.MaxCommandSize, transport.DefaultDeadline)
	if err != nil {
		return err
	}
	r, err := fastboot.DecodeResponse(trimNUL(final))
	if err != nil {
		return err
	}
	if r.Kind != fastboot.RespOkay {
		return mftio.New(mftio.KindProtocolReject, op, "device rejected downloaded data")
	}
	return nil
}

// GetVar queries a named bootloader variable.
func (f *FastbootSession) GetVar(ctx context.Context, name string) (string, error) {
	resp, _, err := f.command(ctx, fastboot.EncodeGetVar(name))
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Flash writes the most recently downloaded buffer to partitionName.
func (f *FastbootSession) Flash(ctx context.Context, partitionName string) error {
	_, _, err := f.command(ctx, fastboot.EncodeFlash(partitionName))
	return err
}

// Erase erases partitionName.
func (f *FastbootSession) Erase(ctx context.Context, partitionName string) error {
	_, _, err := f.command(ctx, fastboot.EncodeErase(partitionName))
	return err
}

// SetActive marks slot as the active A/B slot.
func (f *FastbootSession) SetActive(ctx context.Context, slot string) error {
	_, _, err := f.command(ctx, fastboot.EncodeSetActive(slot))
	return err
}

// CreateLogicalPartition creates a dynamic/super sub-partition.
func (f *FastbootSession) CreateLogicalPartition(ctx context.Context, name string, size int64) error {
	_, _, err := f.command(ctx, fastboot.EncodeCreateLogicalPartition(name, size))
	return err
}

// ResizeLogicalPartition resizes a dynamic/super sub-partition.
func (f *FastbootSession) ResizeLogicalPartition(ctx context.Context, name string, size int64) error {
	_, _, err := f.command(ctx, fastboot.EncodeResizeLogicalPartition(name, size))
	return err
}

// DeleteLogicalPartition deletes a dynamic/super sub-partition.
func (f *FastbootSession) DeleteLogicalPartition(ctx context.Context, name string) error {
	_, _, err := f.command(ctx, fastboot.EncodeDeleteLogicalPartition(name))
	return err
}

// Reboot sends the Fastboot reboot variant matching target.
func (f *FastbootSession) Reboot(ctx context.Context, target string) error {
	_, _, err := f.command(ctx, fastboot.EncodeReboot(target))
	return err
}
