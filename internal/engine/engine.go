// Package engine defines the capability interface every vendor flashing
// engine (EDL, MTK, SPRD, ADB/Fastboot) implements, plus the factory that
// detects and selects among them. Grounded on the strategy+factory split in
// pkg/hashing/core.HashMethod / pkg/hashing/factory.HashMethodFactory.
package engine

import (
	"context"
	"fmt"
	"sort"

	"mft/internal/logevent"
	"mft/internal/partition"
)

// Vendor identifies the protocol family an engine speaks.
type Vendor string

const (
	VendorEDL      Vendor = "edl"
	VendorMTK      Vendor = "mtk"
	VendorSPRD     Vendor = "sprd"
	VendorADB      Vendor = "adb"
	VendorFastboot Vendor = "fastboot"
)

// DeviceInfo is what Identify returns once a handshake succeeds.
type DeviceInfo struct {
	Vendor       Vendor
	ChipName     string
	Serial       string
	HWVersion    string
	SWVersion    string
	Slots        []string
	ActiveSlot   string
	IsEDL        bool
	Extra        map[string]string
}

// Progress reports incremental flashing progress for UI consumption.
type Progress struct {
	Partition string
	Op        string // "write", "erase", "read", "verify"
	Done      int64
	Total     int64
}

// ProgressFunc is invoked by engines during long operations; nil is valid
// and must be tolerated.
type ProgressFunc func(Progress)

// Engine is the capability interface every vendor-specific flashing engine
// implements (spec.md §5: Sahara+Firehose, BROM/DA, PAC/FDL, ADB/Fastboot).
type Engine interface {
	// Name returns a human-readable engine identifier.
	Name() string

	// Vendor returns the protocol family this engine speaks.
	Vendor() Vendor

	// IsAvailable reports whether this engine's transport/prerequisites
	// are present on the current system (not whether a device is attached).
	IsAvailable() bool

	// Connect opens the transport and performs the protocol-specific
	// bring-up handshake (Sahara hello, BROM handshake, FDL1 handoff,
	// ADB CNXN, fastboot no-op).
	Connect(ctx context.Context) error

	// Identify queries device/chip identity once connected.
	Identify(ctx context.Context) (DeviceInfo, error)

	// ReadPartition reads numBytes starting at the partition's configured
	// offset and returns them.
	ReadPartition(ctx context.Context, entry partition.Entry, numBytes int64, progress ProgressFunc) ([]byte, error)

	// WritePartition streams an image into entry's on-device location.
	WritePartition(ctx context.Context, entry partition.Entry, progress ProgressFunc) error

	// Erase zeroes or TRIMs entry without writing new data.
	Erase(ctx context.Context, entry partition.Entry) error

	// Reboot ends the session, optionally to a named mode ("system",
	// "bootloader", "edl", "recovery"); "" means normal reboot.
	Reboot(ctx context.Context, mode string) error

	// Close releases the underlying transport without rebooting the device.
	Close() error
}

// Capabilities mirrors pkg/hashing/core.Capabilities's role: a
// serializable snapshot of what an engine can do, used for reporting.
type Capabilities struct {
	Vendor            Vendor `json:"vendor"`
	Name              string `json:"name"`
	Available         bool   `json:"available"`
	SupportsRead      bool   `json:"supports_read"`
	SupportsErase     bool   `json:"supports_erase"`
	SupportsSuperMeta bool   `json:"supports_super_meta"`
	Reason            string `json:"reason,omitempty"`
}

// CapableEngine is an optional extension engines may implement to describe
// themselves beyond the base Engine interface.
type CapableEngine interface {
	Engine
	Capabilities() Capabilities
}

// Detector probes a transport description and returns an Engine if its
// vendor's handshake condition is satisfied. Each vendor package
// (engine/edl, engine/mtk, engine/sprd, engine/adbfb) registers one.
type Detector func(ctx context.Context, log *logevent.Ring) (Engine, bool)

// Factory detects and selects among the registered vendor engines, the way
// factory.HashMethodFactory detects and ranks hash methods.
type Factory struct {
	detectors []namedDetector
	log       *logevent.Ring
}

type namedDetector struct {
	name     string
	priority int
	detect   Detector
}

// NewFactory constructs an empty factory; call Register for each vendor.
func NewFactory(log *logevent.Ring) *Factory {
	return &Factory{log: log}
}

// Register adds a vendor detector at the given priority (lower runs first).
func (f *Factory) Register(name string, priority int, d Detector) {
	f.detectors = append(f.detectors, namedDetector{name: name, priority: priority, detect: d})
	sort.SliceStable(f.detectors, func(i, j int) bool {
		return f.detectors[i].priority < f.detectors[j].priority
	})
}

// Detect runs every registered detector in priority order and returns the
// first engine that claims a live device.
func (f *Factory) Detect(ctx context.Context) (Engine, error) {
	for _, d := range f.detectors {
		eng, ok := d.detect(ctx, f.log)
		if ok {
			if f.log != nil {
				f.log.Infof(logevent.CategoryOrchestrator, "detected %s engine: %s", d.name, eng.Name())
			}
			return eng, nil
		}
	}
	return nil, fmt.Errorf("engine: no supported device detected")
}
