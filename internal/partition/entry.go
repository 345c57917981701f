// Package partition implements the unified PartitionEntry model and its
// three source parsers (Qualcomm rawprogram+patch, MTK scatter, PAC TOC)
// per spec.md §4.5.
package partition

import (
	"regexp"
	"strings"

	"mft/internal/mftio"
)

// Entry is the unified partition-plan row every parser converges on
// (spec.md §3).
type Entry struct {
	Name              string
	LUN               int // physical_partition_number; 0..N
	StartSector       uint64
	NumSectors        uint64
	SectorSize        uint32 // 512 or 4096
	SourceImagePath   string
	CustomImagePath   string
	IsSelected        bool
	IsProtected       bool
	IsSparse          bool
}

// EffectiveImagePath returns CustomImagePath when set, else SourceImagePath.
func (e Entry) EffectiveImagePath() string {
	if e.CustomImagePath != "" {
		return e.CustomImagePath
	}
	return e.SourceImagePath
}

var nameSepRe = regexp.MustCompile(`[\\/]`)

// Validate checks the invariants spec.md §3 states for a PartitionEntry.
func (e Entry) Validate() error {
	const op = "partition.Entry.Validate"
	if e.Name == "" {
		return mftio.New(mftio.KindInternal, op, "empty name")
	}
	if !isASCII(e.Name) || nameSepRe.MatchString(e.Name) {
		return mftio.New(mftio.KindInternal, op, "name must be ASCII without path separators: "+e.Name)
	}
	if e.IsSelected && e.NumSectors == 0 {
		return mftio.New(mftio.KindInternal, op, "selected entry "+e.Name+" has zero sectors")
	}
	return nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// multiSegmentRe matches image filenames like "system_1.img", "system_2.img"
// that spec.md §4.5 says must each become an independent entry.
var multiSegmentRe = regexp.MustCompile(`_\d+\.img$`)

// IsMultiSegment reports whether filename looks like a numbered image
// segment.
func IsMultiSegment(filename string) bool {
	return multiSegmentRe.MatchString(filename)
}

// DedupeKey identifies an entry for the (name, lun, start_sector)
// de-duplication rule in spec.md §4.5.
func DedupeKey(e Entry) string {
	return e.Name + "|" + itoa(e.LUN) + "|" + uitoa(e.StartSector)
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Dedupe removes duplicate entries keyed by (name, lun, start_sector),
// keeping the first occurrence.
func Dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		key := DedupeKey(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// Select applies a --select selector (csv of names, "all", or
// "unprotected") to the parsed entries, toggling IsSelected.
func Select(entries []Entry, selector string) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)

	switch selector {
	case "", "all":
		for i := range out {
			out[i].IsSelected = true
		}
	case "unprotected":
		for i := range out {
			out[i].IsSelected = !out[i].IsProtected
		}
	default:
		want := make(map[string]bool)
		for _, n := range strings.Split(selector, ",") {
			want[strings.TrimSpace(n)] = true
		}
		for i := range out {
			out[i].IsSelected = want[out[i].Name]
		}
	}
	return out
}
