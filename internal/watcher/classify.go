// Device classification: the VID/PID (and, for ADB/Fastboot, USB interface
// descriptor) table spec.md §4.1 uses to tell which engine should claim a
// newly arrived device.
package watcher

import "github.com/google/gousb"

// Kind identifies which protocol family a detected device speaks.
type Kind string

const (
	KindEDL        Kind = "edl"
	KindMTKBrom    Kind = "mtk-brom"
	KindMTKPreloader Kind = "mtk-preloader"
	KindSPRDDownload Kind = "sprd-download"
	KindSPRDDiag   Kind = "sprd-diag"
	KindFastboot   Kind = "fastboot"
	KindADB        Kind = "adb"
	KindUnknown    Kind = "unknown"
)

// ifaceDescriptor narrows interface-class-based matches (Fastboot and ADB
// share a vendor-specific class and are told apart by subclass/protocol).
type ifaceDescriptor struct {
	class, subclass, protocol uint8
}

var adbInterface = ifaceDescriptor{class: 0xFF, subclass: 0x42, protocol: 0x01}
var fastbootInterface = ifaceDescriptor{class: 0xFF, subclass: 0x42, protocol: 0x03}

// vidPidEntry is one row of the static VID/PID classification table.
type vidPidEntry struct {
	vid, pid gousb.ID
	kind     Kind
}

var vidPidTable = []vidPidEntry{
	{vid: 0x05C6, pid: 0x9008, kind: KindEDL},
	{vid: 0x0E8D, pid: 0x0003, kind: KindMTKBrom},
	{vid: 0x0E8D, pid: 0x2000, kind: KindMTKPreloader},
	{vid: 0x1782, pid: 0x4D00, kind: KindSPRDDownload},
}

// ClassifyVIDPID matches against the static VID/PID table. It returns
// KindUnknown for entries needing interface-descriptor disambiguation
// (ADB/Fastboot, and SPRD Diag which shares vendor 0x1782 across modes).
func ClassifyVIDPID(vid, pid gousb.ID) Kind {
	for _, e := range vidPidTable {
		if e.vid == vid && e.pid == pid {
			return e.kind
		}
	}
	if vid == 0x1782 {
		return KindSPRDDiag
	}
	return KindUnknown
}

// ClassifyInterface disambiguates ADB vs Fastboot on vendor-specific-class
// devices by interface subclass/protocol (spec.md §4.1).
func ClassifyInterface(class, subclass, protocol uint8) Kind {
	d := ifaceDescriptor{class: class, subclass: subclass, protocol: protocol}
	switch d {
	case adbInterface:
		return KindADB
	case fastbootInterface:
		return KindFastboot
	default:
		return KindUnknown
	}
}
