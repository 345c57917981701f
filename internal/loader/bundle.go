// Package loader resolves and caches the vendor bootloader/programmer
// images (EDL Firehose programmers, MTK DA payloads, SPRD FDL stages) a
// flashing session needs, per spec.md §4.3/§9's loader-acquisition
// component.
package loader

// AuthStrategy identifies how a loader authenticates itself to the device
// (or is expected to be pre-authorized by the vendor).
type AuthStrategy string

const (
	AuthNone    AuthStrategy = "none"
	AuthSLA     AuthStrategy = "sla"
	AuthSigned  AuthStrategy = "signed"
	AuthOEMUnlock AuthStrategy = "oem-unlock"
)

// Bundle describes one resolved loader artifact on disk.
type Bundle struct {
	LoaderPath   string
	DigestPath   string // optional detached hash/signature sidecar
	SignPath     string // optional detached signature
	StorageType  string // "emmc", "ufs", "nand"
	Vendor       string // "qualcomm", "mediatek", "unisoc"
	Chip         string
	AuthStrategy AuthStrategy
}

// Key identifies a cache slot for a resolved bundle.
type Key struct {
	Vendor       string
	Chip         string
	StorageType  string
	AuthStrategy AuthStrategy
}
