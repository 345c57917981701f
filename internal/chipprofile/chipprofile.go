// Package chipprofile holds the static MediaTek chip catalogue keyed by
// hw_code: BROM/DA addresses, exploit-support flags and the SLA key
// plug-point, per spec.md §4.3/§9.
package chipprofile

import (
	"context"

	"mft/internal/engine/mtk"
	"mft/internal/mftio"
)

// ExploitKind enumerates the BROM-stage exploit hooks a chip may support.
// These are capability-gated: the engine only attempts one when the
// profile marks it supported, and a caller must still opt in explicitly
// (spec.md's Non-goals exclude shipping exploit payloads by default).
type ExploitKind string

const (
	ExploitKamakiri  ExploitKind = "kamakiri"
	ExploitKamakiri2 ExploitKind = "kamakiri2"
	ExploitCqdma     ExploitKind = "cqdma"
	ExploitGcpu      ExploitKind = "gcpu"
)

// Profile describes one MediaTek chip's BROM/DA bring-up parameters.
type Profile struct {
	HWCode        uint16
	Name          string
	WatchdogAddr  uint32
	UARTAddr      uint32
	BromPayloadAddr uint32
	DAPayloadAddr uint32
	CqdmaBase     uint32 // 0 if unsupported
	GcpuBase      uint32 // 0 if unsupported
	SejBase       uint32 // 0 if unsupported
	DxccBase      uint32 // 0 if unsupported
	EfuseBase     uint32 // 0 if unsupported
	MeidAddr      uint32 // 0 if unsupported
	SocidAddr     uint32 // 0 if unsupported
	Var1Byte      byte
	DAMode        mtk.DAMode
	Exploits      []ExploitKind
}

// SupportsExploit reports whether k is among p's capability-gated exploit
// hooks.
func (p Profile) SupportsExploit(k ExploitKind) bool {
	for _, e := range p.Exploits {
		if e == k {
			return true
		}
	}
	return false
}

// catalogue is a representative subset of publicly documented MediaTek
// hw_codes; real deployments extend this via RegisterProfile rather than
// requiring an exhaustive built-in table.
var catalogue = map[uint16]Profile{
	0x0766: {
		HWCode: 0x0766, Name: "MT6765", WatchdogAddr: 0x10007000, UARTAddr: 0x11002000,
		BromPayloadAddr: 0x100A00, DAPayloadAddr: 0x40000000,
		Var1Byte: 0x82, DAMode: mtk.DAModeXFlash,
		Exploits: []ExploitKind{ExploitKamakiri, ExploitCqdma},
	},
	0x0788: {
		HWCode: 0x0788, Name: "MT6779", WatchdogAddr: 0x10007000, UARTAddr: 0x11002000,
		BromPayloadAddr: 0x100A00, DAPayloadAddr: 0x40000000,
		Var1Byte: 0x82, DAMode: mtk.DAModeXFlash,
		Exploits: []ExploitKind{ExploitKamakiri2, ExploitCqdma, ExploitGcpu},
	},
	0x0816: {
		HWCode: 0x0816, Name: "MT6877", WatchdogAddr: 0x10007000, UARTAddr: 0x11002000,
		BromPayloadAddr: 0x200000, DAPayloadAddr: 0x68000000,
		Var1Byte: 0xC2, DAMode: mtk.DAModeXML6,
		Exploits: nil, // SLA+DAA enforced, no known BROM-stage exploit
	},
	0x0690: {
		HWCode: 0x0690, Name: "MT6580", WatchdogAddr: 0x10007000, UARTAddr: 0x11005000,
		BromPayloadAddr: 0xA00, DAPayloadAddr: 0x40000000,
		Var1Byte: 0x82, DAMode: mtk.DAModeLegacy,
		Exploits: []ExploitKind{ExploitKamakiri},
	},
}

var extra = map[uint16]Profile{}

// Lookup returns the profile for hwCode, preferring a runtime-registered
// override over the built-in catalogue.
func Lookup(hwCode uint16) (Profile, bool) {
	if p, ok := extra[hwCode]; ok {
		return p, true
	}
	p, ok := catalogue[hwCode]
	return p, ok
}

// RegisterProfile adds or overrides a chip profile at runtime (new chips,
// corrected addresses) without requiring a rebuild.
func RegisterProfile(p Profile) {
	extra[p.HWCode] = p
}

// All returns every known profile (built-in plus registered overrides),
// built-ins last so an override always wins on HWCode collision.
func All() []Profile {
	out := make([]Profile, 0, len(catalogue)+len(extra))
	seen := make(map[uint16]bool, len(catalogue)+len(extra))
	for _, p := range extra {
		out = append(out, p)
		seen[p.HWCode] = true
	}
	for code, p := range catalogue {
		if !seen[code] {
			out = append(out, p)
		}
	}
	return out
}

// ExploitResult is the outcome of an Exploiter.TryUnlock call.
type ExploitResult int

const (
	// Unlocked means the hook forced BROM into an unsigned-DA state.
	Unlocked ExploitResult = iota
	// NotSupported means the profile doesn't advertise the exploit the
	// caller asked for, or no Exploiter is registered.
	NotSupported
	// Failed means the hook ran but didn't achieve an unsigned-DA state;
	// the accompanying error carries the reason.
	Failed
)

// Exploiter is the BROM-stage unlock plug-point spec.md §4.7 declares: a
// chip-specific payload that lifts BROM into an unsigned-DA state by
// forcing register writes or payload staging at addresses this package's
// Profile fields describe (CqdmaBase, GcpuBase, and friends). The core
// only specifies the interface; implementers supply per-chip payloads
// out-of-band, and no other component depends on TryUnlock succeeding.
type Exploiter interface {
	// TryUnlock attempts k against p over session. Callers must still
	// check p.SupportsExploit(k) before calling; an Exploiter is free to
	// assume that's already been done.
	TryUnlock(ctx context.Context, session *mtk.BromSession, p Profile, k ExploitKind) (ExploitResult, error)
}

type noExploiter struct{}

// DefaultExploiter reports NotSupported for every chip: no exploit
// payload ships with this package (spec.md's Non-goals exclude shipping
// exploit payloads by default), so real deployments register their own
// Exploiter via RegisterExploiter.
var DefaultExploiter Exploiter = noExploiter{}

func (noExploiter) TryUnlock(ctx context.Context, session *mtk.BromSession, p Profile, k ExploitKind) (ExploitResult, error) {
	return NotSupported, mftio.New(mftio.KindNotImplemented, "chipprofile.TryUnlock", "no exploit provider registered for "+string(k))
}

// RegisterExploiter replaces DefaultExploiter with a vendor-supplied
// implementation.
func RegisterExploiter(e Exploiter) {
	DefaultExploiter = e
}
