package adbfb

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"mft/internal/engine"
	"mft/internal/logevent"
	"mft/internal/mftio"
	"mft/internal/partition"
	"mft/internal/transport"
)

// AdbEngine implements engine.Engine for a device already booted into
// Android and reachable over ADB (push+dd partition writes rather than a
// native flashing protocol, spec.md §4.9).
type AdbEngine struct {
	cfg transport.USBConfig
	key *rsa.PrivateKey
	log *logevent.Ring

	t    transport.Transport
	sess *AdbSession
}

// NewAdbEngine constructs an unconnected ADB engine. key signs the AUTH
// challenge; nil relies on the device already trusting an unauthenticated
// connection (emulator/dev builds only).
func NewAdbEngine(cfg transport.USBConfig, key *rsa.PrivateKey, log *logevent.Ring) *AdbEngine {
	return &AdbEngine{cfg: cfg, key: key, log: log}
}

func (e *AdbEngine) Name() string          { return "adb" }
func (e *AdbEngine) Vendor() engine.Vendor  { return engine.VendorADB }
func (e *AdbEngine) IsAvailable() bool      { return true }

func (e *AdbEngine) Connect(ctx context.Context) error {
	t, err := transport.OpenUSB(e.cfg)
	if err != nil {
		return err
	}
	e.t = t
	e.sess = NewSession(t, e.key)
	if err := e.sess.Connect(ctx); err != nil {
		_ = t.Close()
		return err
	}
	return nil
}

// Session exposes the underlying AdbSession for callers that need the
// sync: or raw stream subprotocols directly (push/pull/install verbs)
// rather than the partition-oriented Engine methods.
func (e *AdbEngine) Session() *AdbSession { return e.sess }

func (e *AdbEngine) Identify(ctx context.Context) (engine.DeviceInfo, error) {
	if e.sess == nil {
		return engine.DeviceInfo{}, mftio.New(mftio.KindInternal, "adbfb.AdbEngine.Identify", "not connected")
	}
	return engine.DeviceInfo{
		Vendor: engine.VendorADB,
		Extra:  map[string]string{"banner": e.sess.DeviceBanner()},
	}, nil
}

// Shell runs a single command via "shell:<cmd>" and returns its combined
// output.
func (e *AdbEngine) Shell(ctx context.Context, cmd string) ([]byte, error) {
	st, err := e.sess.Open(ctx, "shell:"+cmd)
	if err != nil {
		return nil, err
	}
	defer st.Close(ctx)

	var out []byte
	for {
		chunk, err := st.ReadOnce(ctx)
		if err != nil {
			if mftio.IsKind(err, mftio.KindEndOfStream) {
				return out, nil
			}
			return out, err
		}
		out = append(out, chunk...)
	}
}

func (e *AdbEngine) ReadPartition(ctx context.Context, entry partition.Entry, numBytes int64, progress engine.ProgressFunc) ([]byte, error) {
	cmd := fmt.Sprintf("dd if=/dev/block/by-name/%s bs=4096 count=%d 2>/dev/null", entry.Name, (numBytes+4095)/4096)
	return e.Shell(ctx, cmd)
}

func (e *AdbEngine) WritePartition(ctx context.Context, entry partition.Entry, progress engine.ProgressFunc) error {
	const op = "adbfb.AdbEngine.WritePartition"
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

	sync, err := OpenSync(ctx, e.sess)
	if err != nil {
		return err
	}
	defer sync.Close(ctx)

	remote := "/data/local/tmp/mft-" + entry.Name + ".img"
	if err := sync.Push(ctx, remote, 0o644, data, time.Now()); err != nil {
		return err
	}
	if progress != nil {
		progress(engine.Progress{Partition: entry.Name, Op: "write", Done: int64(len(data)), Total: int64(len(data))})
	}

	cmd := fmt.Sprintf("dd if=%s of=/dev/block/by-name/%s bs=4096 && rm -f %s", remote, entry.Name, remote)
	_, err = e.Shell(ctx, cmd)
	return err
}

func (e *AdbEngine) Erase(ctx context.Context, entry partition.Entry) error {
	const op = "adbfb.AdbEngine.Erase"
	if entry.IsProtected {
		return mftio.New(mftio.KindPartitionProtected, op, "refusing to erase protected partition "+entry.Name)
	}
	cmd := fmt.Sprintf("dd if=/dev/zero of=/dev/block/by-name/%s bs=4096 count=%d", entry.Name, entry.NumSectors)
	_, err := e.Shell(ctx, cmd)
	return err
}

func (e *AdbEngine) Reboot(ctx context.Context, mode string) error {
	target := "reboot"
	if mode != "" {
		target = "reboot " + mode
	}
	_, err := e.Shell(ctx, target)
	return err
}

func (e *AdbEngine) Close() error {
	if e.t == nil {
		return nil
	}
	return e.t.Close()
}

func (e *AdbEngine) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		Vendor:       engine.VendorADB,
		Name:         e.Name(),
		Available:    true,
		SupportsRead: true,
		SupportsErase: true,
	}
}

var _ engine.CapableEngine = (*AdbEngine)(nil)

// FastbootEngine implements engine.Engine for a device in the Fastboot
// bootloader, addressing partitions by name (spec.md §4.9/§4.10).
type FastbootEngine struct {
	cfg transport.USBConfig
	log *logevent.Ring

	t  transport.Transport
	fb *FastbootSession
}

// NewFastbootEngine constructs an unconnected Fastboot engine.
func NewFastbootEngine(cfg transport.USBConfig, log *logevent.Ring) *FastbootEngine {
	return &FastbootEngine{cfg: cfg, log: log}
}

func (e *FastbootEngine) Name() string          { return "fastboot" }
func (e *FastbootEngine) Vendor() engine.Vendor { return engine.VendorFastboot }
func (e *FastbootEngine) IsAvailable() bool     { return true }

func (e *FastbootEngine) Connect(ctx context.Context) error {
	t, err := transport.OpenUSB(e.cfg)
	if err != nil {
		return err
	}
	e.t = t
	e.fb = NewFastbootSession(t)
	return nil
}

// Session exposes the underlying FastbootSession for CLI verbs
// (set-active, create-lp, ...) that map directly onto raw commands rather
// than the partition-oriented Engine methods.
func (e *FastbootEngine) Session() *FastbootSession { return e.fb }

func (e *FastbootEngine) Identify(ctx context.Context) (engine.DeviceInfo, error) {
	const op = "adbfb.FastbootEngine.Identify"
	if e.fb == nil {
		return engine.DeviceInfo{}, mftio.New(mftio.KindInternal, op, "not connected")
	}
	product, _ := e.fb.GetVar(ctx, "product")
	serial, _ := e.fb.GetVar(ctx, "serialno")
	current, _ := e.fb.GetVar(ctx, "current-slot")
	info := engine.DeviceInfo{
		Vendor:     engine.VendorFastboot,
		ChipName:   product,
		Serial:     serial,
		ActiveSlot: current,
	}
	if slotCount, err := e.fb.GetVar(ctx, "slot-count"); err == nil && slotCount == "2" {
		info.Slots = []string{"a", "b"}
	}
	return info, nil
}

func (e *FastbootEngine) ReadPartition(ctx context.Context, entry partition.Entry, numBytes int64, progress engine.ProgressFunc) ([]byte, error) {
	return nil, mftio.New(mftio.KindNotImplemented, "adbfb.FastbootEngine.ReadPartition", "fastboot does not support partition readback")
}

func (e *FastbootEngine) WritePartition(ctx context.Context, entry partition.Entry, progress engine.ProgressFunc) error {
	const op = "adbfb.FastbootEngine.WritePartition"
	if e.fb == nil {
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
	if err := e.fb.Download(ctx, data); err != nil {
		return err
	}
	if err := e.fb.Flash(ctx, entry.Name); err != nil {
		return err
	}
	if progress != nil {
		progress(engine.Progress{Partition: entry.Name, Op: "write", Done: int64(len(data)), Total: int64(len(data))})
	}
	return nil
}

func (e *FastbootEngine) Erase(ctx context.Context, entry partition.Entry) error {
	const op = "adbfb.FastbootEngine.Erase"
	if e.fb == nil {
		return mftio.New(mftio.KindInternal, op, "not connected")
	}
	if entry.IsProtected {
		return mftio.New(mftio.KindPartitionProtected, op, "refusing to erase protected partition "+entry.Name)
	}
	return e.fb.Erase(ctx, entry.Name)
}

func (e *FastbootEngine) Reboot(ctx context.Context, mode string) error {
	if e.fb == nil {
		return mftio.New(mftio.KindInternal, "adbfb.FastbootEngine.Reboot", "not connected")
	}
	return e.fb.Reboot(ctx, mode)
}

func (e *FastbootEngine) Close() error {
	if e.t == nil {
		return nil
	}
	return e.t.Close()
}

func (e *FastbootEngine) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		Vendor:       engine.VendorFastboot,
		Name:         e.Name(),
		Available:    true,
		SupportsRead: false,
		SupportsErase: true,
	}
}

var _ engine.CapableEngine = (*FastbootEngine)(nil)
