package sprd

import (
	"context"
	"os"

	"mft/internal/engine"
	"mft/internal/logevent"
	"mft/internal/mftio"
	"mft/internal/partition"
	"mft/internal/transport"
)

// Config bundles the FDL1/FDL2 stage images and load addresses this engine
// uploads during Connect, whether to skip NV-item partitions, and an
// RSABypass flag. RSABypass is only reported by Identify: the engine never
// verifies FDL signatures, so uploads are unverified whether or not it is
// set.
type Config struct {
	Serial       transport.SerialConfig
	FDL1, FDL2   []byte
	FDL1Addr     uint32
	FDL2Addr     uint32
	RSABypass    bool
	KeepNV       bool
}

// Engine implements engine.Engine for Unisoc/Spreadtrum SPRD devices.
type Engine struct {
	cfg Config
	log *logevent.Ring

	t   transport.Transport
	fdl *FDLSession
}

// New constructs an unconnected SPRD engine.
func New(cfg Config, log *logevent.Ring) *Engine {
	return &Engine{cfg: cfg, log: log}
}

func (e *Engine) Name() string          { return "unisoc-sprd" }
func (e *Engine) Vendor() engine.Vendor { return engine.VendorSPRD }

// IsAvailable reports whether a serial port path was configured; actual
// device presence is confirmed during Connect.
func (e *Engine) IsAvailable() bool {
	return e.cfg.Serial.Port != ""
}

func (e *Engine) Connect(ctx context.Context) error {
	const op = "sprd.Engine.Connect"
	t, err := transport.OpenSerial(e.cfg.Serial)
	if err != nil {
		return err
	}
	e.t = t
	e.fdl = NewFDLSession(t)

	if err := e.fdl.Connect(ctx); err != nil {
		_ = t.Close()
		return err
	}
	if len(e.cfg.FDL1) > 0 {
		if err := e.fdl.UploadStage(ctx, e.cfg.FDL1Addr, e.cfg.FDL1, 528); err != nil {
			_ = t.Close()
			return err
		}
	}
	if len(e.cfg.FDL2) == 0 {
		_ = t.Close()
		return mftio.New(mftio.KindInternal, op, "no FDL2 stage supplied")
	}
	if err := e.fdl.UploadStage(ctx, e.cfg.FDL2Addr, e.cfg.FDL2, 2048); err != nil {
		_ = t.Close()
		return err
	}
	return nil
}

func (e *Engine) Identify(ctx context.Context) (engine.DeviceInfo, error) {
	return engine.DeviceInfo{
		Vendor: engine.VendorSPRD,
		Extra:  map[string]string{"rsa_bypass": boolStr(e.cfg.RSABypass)},
	}, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (e *Engine) ReadPartition(ctx context.Context, entry partition.Entry, numBytes int64, progress engine.ProgressFunc) ([]byte, error) {
	if e.fdl == nil {
		return nil, mftio.New(mftio.KindInternal, "sprd.Engine.ReadPartition", "not connected")
	}
	return e.fdl.ReadFlash(ctx, uint32(entry.StartSector*uint64(entry.SectorSize)), numBytes)
}

func (e *Engine) WritePartition(ctx context.Context, entry partition.Entry, progress engine.ProgressFunc) error {
	const op = "sprd.Engine.WritePartition"
	if e.fdl == nil {
		return mftio.New(mftio.KindInternal, op, "not connected")
	}
	if entry.IsProtected {
		return mftio.New(mftio.KindPartitionProtected, op, "refusing to write protected partition "+entry.Name)
	}
	if e.cfg.KeepNV && partition.IsKeepNVName(entry.Name) {
		if e.log != nil {
			e.log.Infof(logevent.CategorySPRD, "keep-nv: skipping %s", entry.Name)
		}
		return nil
	}
	path := entry.EffectiveImagePath()
	if path == "" {
		return mftio.New(mftio.KindImageInvalid, op, "entry "+entry.Name+" has no source image")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mftio.Wrap(mftio.KindIo, op, err)
	}
	addr := uint32(entry.StartSector * uint64(entry.SectorSize))
	if err := e.fdl.WriteFlash(ctx, addr, data, 2048); err != nil {
		return err
	}
	if progress != nil {
		progress(engine.Progress{Partition: entry.Name, Op: "write", Done: int64(len(data)), Total: int64(len(data))})
	}
	return nil
}

func (e *Engine) Erase(ctx context.Context, entry partition.Entry) error {
	const op = "sprd.Engine.Erase"
	if e.fdl == nil {
		return mftio.New(mftio.KindInternal, op, "not connected")
	}
	if entry.IsProtected {
		return mftio.New(mftio.KindPartitionProtected, op, "refusing to erase protected partition "+entry.Name)
	}
	addr := uint32(entry.StartSector * uint64(entry.SectorSize))
	return e.fdl.EraseFlash(ctx, addr, int64(entry.NumSectors)*int64(entry.SectorSize))
}

func (e *Engine) Reboot(ctx context.Context, mode string) error {
	if e.fdl == nil {
		return mftio.New(mftio.KindInternal, "sprd.Engine.Reboot", "not connected")
	}
	if mode == "poweroff" {
		return e.fdl.PowerOff(ctx)
	}
	return e.fdl.NormalReset(ctx)
}

func (e *Engine) Close() error {
	if e.t == nil {
		return nil
	}
	return e.t.Close()
}

func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		Vendor:            engine.VendorSPRD,
		Name:              e.Name(),
		Available:         e.IsAvailable(),
		SupportsRead:      true,
		SupportsErase:     true,
		SupportsSuperMeta: false,
	}
}

var _ engine.CapableEngine = (*Engine)(nil)
