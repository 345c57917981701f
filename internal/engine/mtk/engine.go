package mtk

import (
	"context"
	"fmt"
	"os"

	"github.com/google/gousb"

	"mft/internal/engine"
	"mft/internal/logevent"
	"mft/internal/mftio"
	"mft/internal/partition"
	"mft/internal/transport"
)

// usbVID/BROM+preloader PIDs per spec.md §4.1's classification table.
const (
	usbVID        = gousb.ID(0x0E8D)
	pidBROM       = gousb.ID(0x0003)
	pidPreloader  = gousb.ID(0x2000)
)

// Engine implements engine.Engine for MediaTek BROM/DA.
type Engine struct {
	cfg       transport.USBConfig
	daPayload []byte
	daAddr    uint32
	mode      DAMode
	keySource SLAKeySource
	log       *logevent.Ring

	t      transport.Transport
	brom   *BromSession
	da     *DASession
	hwCode uint16
}

// New constructs an unconnected MTK engine. daPayload/daAddr describe the
// Download Agent to upload via SendDA; mode selects its command dialect.
func New(cfg transport.USBConfig, daPayload []byte, daAddr uint32, mode DAMode, keySource SLAKeySource, log *logevent.Ring) *Engine {
	if keySource == nil {
		keySource = DefaultSLAKeySource
	}
	return &Engine{cfg: cfg, daPayload: daPayload, daAddr: daAddr, mode: mode, keySource: keySource, log: log}
}

func (e *Engine) Name() string          { return "mediatek-brom-da" }
func (e *Engine) Vendor() engine.Vendor { return engine.VendorMTK }

func (e *Engine) IsAvailable() bool {
	return e.cfg.VID == usbVID && (e.cfg.PID == pidBROM || e.cfg.PID == pidPreloader)
}

func (e *Engine) Connect(ctx context.Context) error {
	const op = "mtk.Engine.Connect"
	t, err := transport.OpenUSB(e.cfg)
	if err != nil {
		return err
	}
	e.t = t
	e.brom = NewBromSession(t)

	if err := e.brom.Handshake(ctx); err != nil {
		_ = t.Close()
		return err
	}
	hwCode, err := e.brom.GetHWCode(ctx)
	if err != nil {
		_ = t.Close()
		return err
	}
	e.hwCode = hwCode

	if key, kerr := e.keySource.Key(hwCode); kerr == nil {
		challenge, cerr := e.brom.RequestSLAChallenge(ctx, 32)
		if cerr == nil {
			signed, serr := SignBROMChallenge(key, challenge)
			if serr != nil {
				_ = t.Close()
				return serr
			}
			if err := e.brom.SendSLAResponse(ctx, signed); err != nil {
				_ = t.Close()
				return err
			}
		}
	}

	if len(e.daPayload) == 0 {
		_ = t.Close()
		return mftio.New(mftio.KindInternal, op, "no DA payload supplied")
	}
	if err := e.brom.SendDA(ctx, e.daAddr, e.daPayload, 0); err != nil {
		_ = t.Close()
		return err
	}
	if err := e.brom.JumpDA(ctx, e.daAddr); err != nil {
		_ = t.Close()
		return err
	}

	e.da = NewDASession(t, e.mode)
	return nil
}

func (e *Engine) Identify(ctx context.Context) (engine.DeviceInfo, error) {
	return engine.DeviceInfo{
		Vendor:   engine.VendorMTK,
		ChipName: fmt.Sprintf("0x%04X", e.hwCode),
		Extra:    map[string]string{"da_mode": fmt.Sprint(e.mode)},
	}, nil
}

func (e *Engine) ReadPartition(ctx context.Context, entry partition.Entry, numBytes int64, progress engine.ProgressFunc) ([]byte, error) {
	if e.da == nil {
		return nil, mftio.New(mftio.KindInternal, "mtk.Engine.ReadPartition", "not connected")
	}
	return e.da.ReadFlash(ctx, partitionAddr(entry), numBytes)
}

func (e *Engine) WritePartition(ctx context.Context, entry partition.Entry, progress engine.ProgressFunc) error {
	const op = "mtk.Engine.WritePartition"
	if e.da == nil {
		return mftio.New(mftio.KindInternal, op, "not connected")
	}
	if entry.IsProtected {
		return mftio.New(mftio.KindPartitionProtected, op, "refusing to write protected partition "+entry.Name)
	}
	path := entry.EffectiveImagePath()
	if path == "" {
		return mftio.New(mftio.KindImageInvalid, op, "entry "+entry.Name+" has no source image")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mftio.Wrap(mftio.KindIo, op, err)
	}
	if err := e.da.WriteFlash(ctx, partitionAddr(entry), data); err != nil {
		return err
	}
	if progress != nil {
		progress(engine.Progress{Partition: entry.Name, Op: "write", Done: int64(len(data)), Total: int64(len(data))})
	}
	return nil
}

func (e *Engine) Erase(ctx context.Context, entry partition.Entry) error {
	const op = "mtk.Engine.Erase"
	if e.da == nil {
		return mftio.New(mftio.KindInternal, op, "not connected")
	}
	if entry.IsProtected {
		return mftio.New(mftio.KindPartitionProtected, op, "refusing to erase protected partition "+entry.Name)
	}
	return e.da.Format(ctx, partitionAddr(entry), int64(entry.NumSectors)*int64(entry.SectorSize))
}

func (e *Engine) Reboot(ctx context.Context, mode string) error {
	if e.da == nil {
		return mftio.New(mftio.KindInternal, "mtk.Engine.Reboot", "not connected")
	}
	return e.da.Finish(ctx, mode != "stay")
}

func (e *Engine) Close() error {
	if e.t == nil {
		return nil
	}
	return e.t.Close()
}

func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		Vendor:            engine.VendorMTK,
		Name:              e.Name(),
		Available:         e.IsAvailable(),
		SupportsRead:      true,
		SupportsErase:     true,
		SupportsSuperMeta: true,
	}
}

var _ engine.CapableEngine = (*Engine)(nil)
