package edl

import (
	"context"
	"os"

	"github.com/google/gousb"

	"mft/internal/engine"
	"mft/internal/logevent"
	"mft/internal/mftio"
	"mft/internal/partition"
	"mft/internal/transport"
)

// usbVID/usbPID are the well-known EDL (Emergency Download/Sahara) Qualcomm
// identifiers (spec.md §4.1's device classification table).
const (
	usbVID = gousb.ID(0x05C6)
	usbPID = gousb.ID(0x9008)
)

// Engine implements engine.Engine for Qualcomm EDL (Sahara + Firehose).
type Engine struct {
	cfg     transport.USBConfig
	t       transport.Transport
	log     *logevent.Ring
	fh      *FirehoseSession
	loader  []byte // the programmer image to hand over via Sahara
}

// New constructs an unconnected EDL engine. loader is the Firehose
// programmer image bytes, normally resolved via internal/loader.
func New(cfg transport.USBConfig, loader []byte, log *logevent.Ring) *Engine {
	return &Engine{cfg: cfg, loader: loader, log: log}
}

func (e *Engine) Name() string         { return "qualcomm-edl" }
func (e *Engine) Vendor() engine.Vendor { return engine.VendorEDL }

// IsAvailable reports whether the engine is configured with the Qualcomm
// EDL VID/PID (05C6:9008); it does not probe the USB bus. Connect does the
// actual claim.
func (e *Engine) IsAvailable() bool {
	return e.cfg.VID == usbVID && e.cfg.PID == usbPID
}

func (e *Engine) Connect(ctx context.Context) error {
	const op = "edl.Engine.Connect"
	t, err := transport.OpenUSB(e.cfg)
	if err != nil {
		return err
	}
	e.t = t

	sess := NewSaharaSession(t)
	_, mode, err := sess.AwaitHello(ctx)
	if err != nil {
		_ = t.Close()
		return err
	}
	if err := sess.SendHelloResponse(ctx); err != nil {
		_ = t.Close()
		return err
	}
	if mode != modeImageTxPending {
		_ = t.Close()
		return mftio.New(mftio.KindProtocolReject, op, "target not in image-transfer mode")
	}
	if len(e.loader) == 0 {
		_ = t.Close()
		return mftio.New(mftio.KindInternal, op, "no loader image supplied")
	}
	if err := sess.UploadImage(ctx, e.loader); err != nil {
		_ = t.Close()
		return err
	}

	e.fh = NewFirehoseSession(t, e.log, 4096)
	if _, err := e.fh.Configure(ctx, "UFS"); err != nil {
		if _, err2 := e.fh.Configure(ctx, "eMMC"); err2 != nil {
			_ = t.Close()
			return err
		}
	}
	return nil
}

func (e *Engine) Identify(ctx context.Context) (engine.DeviceInfo, error) {
	info := engine.DeviceInfo{Vendor: engine.VendorEDL, IsEDL: true}
	if e.fh == nil {
		return info, mftio.New(mftio.KindInternal, "edl.Engine.Identify", "not connected")
	}
	storageInfo, err := e.fh.GetStorageInfo(ctx)
	if err != nil {
		return info, err
	}
	info.Extra = map[string]string{"storage_info": storageInfo}
	return info, nil
}

func (e *Engine) ReadPartition(ctx context.Context, entry partition.Entry, numBytes int64, progress engine.ProgressFunc) ([]byte, error) {
	if e.fh == nil {
		return nil, mftio.New(mftio.KindInternal, "edl.Engine.ReadPartition", "not connected")
	}
	return e.fh.Read(ctx, entry, numBytes)
}

func (e *Engine) WritePartition(ctx context.Context, entry partition.Entry, progress engine.ProgressFunc) error {
	const op = "edl.Engine.WritePartition"
	if e.fh == nil {
		return mftio.New(mftio.KindInternal, op, "not connected")
	}
	path := entry.EffectiveImagePath()
	if path == "" {
		return mftio.New(mftio.KindImageInvalid, op, "entry "+entry.Name+" has no source image")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mftio.Wrap(mftio.KindIo, op, err)
	}
	return e.fh.Program(ctx, entry, data, func(done, total int64) {
		if progress != nil {
			progress(engine.Progress{Partition: entry.Name, Op: "write", Done: done, Total: total})
		}
	})
}

func (e *Engine) Erase(ctx context.Context, entry partition.Entry) error {
	if e.fh == nil {
		return mftio.New(mftio.KindInternal, "edl.Engine.Erase", "not connected")
	}
	return e.fh.Erase(ctx, entry)
}

func (e *Engine) Reboot(ctx context.Context, mode string) error {
	if e.fh == nil {
		return mftio.New(mftio.KindInternal, "edl.Engine.Reboot", "not connected")
	}
	action := "reset"
	if mode == "edl" {
		action = "edl"
	} else if mode == "poweroff" {
		action = "off"
	}
	return e.fh.Power(ctx, action)
}

func (e *Engine) Close() error {
	if e.t == nil {
		return nil
	}
	return e.t.Close()
}

// Capabilities reports this engine's feature set for status surfaces.
func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		Vendor:            engine.VendorEDL,
		Name:              e.Name(),
		Available:         e.IsAvailable(),
		SupportsRead:      true,
		SupportsErase:     true,
		SupportsSuperMeta: true,
	}
}

var _ engine.CapableEngine = (*Engine)(nil)
