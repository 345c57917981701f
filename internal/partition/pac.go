// Unisoc PAC container TOC conversion into unified entries (spec.md §4.5,
// §4.7).
package partition

import (
	"strings"

	"mft/internal/framing/pac"
)

// FDLEntries picks the FDL1/FDL2 rows out of a parsed PAC TOC by name and
// flag, since the fixed-size TOC entry carries no explicit FDL-stage field.
func FDLEntries(f *pac.File) (fdl1, fdl2 *pac.Entry) {
	for i := range f.Entries {
		e := &f.Entries[i]
		if !e.IsFDL {
			continue
		}
		lower := strings.ToLower(e.Name)
		switch {
		case strings.Contains(lower, "fdl1"):
			fdl1 = e
		case strings.Contains(lower, "fdl2"):
			fdl2 = e
		}
	}
	return fdl1, fdl2
}

// FromPAC converts a parsed PAC TOC's non-FDL rows into unified partition
// entries, addressed on-device by name (Unisoc Download mode writes by
// partition name rather than LUN/start_sector, spec.md §4.7).
func FromPAC(f *pac.File) []Entry {
	var entries []Entry
	for _, e := range f.Entries {
		if e.IsFDL {
			continue // bootstrap stages, not flashed as partitions
		}
		name := e.Name
		entries = append(entries, Entry{
			Name:        name,
			NumSectors:  (uint64(e.Length) + 511) / 512,
			SectorSize:  512,
			IsProtected: IsProtectedName(name),
			IsSelected:  true,
		})
	}
	return Dedupe(entries)
}
