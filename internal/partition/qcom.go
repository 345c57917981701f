// Qualcomm rawprogram*.xml + patch*.xml parsing (spec.md §4.5, §6).
package partition

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"mft/internal/mftio"
)

// attrs is a case-insensitive view over an XML start element's attributes,
// matching spec.md's "case-insensitive element/attribute access".
type attrs map[string]string

func newAttrs(el xml.StartElement) attrs {
	a := make(attrs, len(el.Attr))
	for _, at := range el.Attr {
		a[strings.ToLower(at.Name.Local)] = at.Value
	}
	return a
}

func (a attrs) get(key string) (string, bool) {
	v, ok := a[strings.ToLower(key)]
	return v, ok
}

func (a attrs) getBool(key string, def bool) bool {
	v, ok := a.get(key)
	if !ok {
		return def
	}
	return strings.EqualFold(v, "true")
}

// PatchRow is one row of a patch*.xml document (spec.md §4.6: "<patch ...>
// applied per patch*.xml row after writes").
type PatchRow struct {
	SectorSize uint32
	ByteOffset uint64
	Filename   string
	LUN        int
	SizeBytes  uint64
	StartSector uint64
	Value      string
	What       string
}

// numDiskSectorsRe detects a start_sector expression referencing the
// dynamic NUM_DISK_SECTORS token (spec.md §4.5: skip these).
var numDiskSectorsRe = regexp.MustCompile(`(?i)NUM_DISK_SECTORS`)

// ParseRawprogram parses a single rawprogram*.xml document into unified
// entries. firmwareDir is used to resolve image paths.
func ParseRawprogram(r io.Reader, firmwareDir string) ([]Entry, error) {
	const op = "partition.ParseRawprogram"
	dec := xml.NewDecoder(r)
	var entries []Entry

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mftio.Wrap(mftio.KindImageInvalid, op, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !strings.EqualFold(start.Name.Local, "program") {
			continue
		}
		a := newAttrs(start)

		label, _ := a.get("label")
		if IsSkippedName(label) {
			continue
		}

		startSectorRaw, _ := a.get("start_sector")
		if numDiskSectorsRe.MatchString(startSectorRaw) {
			continue // dynamic expression, not a concrete sector
		}
		startSector, err := strconv.ParseUint(strings.TrimSpace(startSectorRaw), 10, 64)
		if err != nil {
			continue
		}

		sectorSize := uint32(4096)
		if v, ok := a.get("SECTOR_SIZE_IN_BYTES"); ok {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				sectorSize = uint32(n)
			}
		}

		var numSectors uint64
		if v, ok := a.get("num_partition_sectors"); ok && v != "" {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				numSectors = n
			}
		}
		if numSectors == 0 {
			if v, ok := a.get("size_in_KB"); ok {
				if kb, err := strconv.ParseFloat(v, 64); err == nil {
					bytesTotal := kb * 1024
					numSectors = uint64(math.Ceil(bytesTotal / float64(sectorSize)))
				}
			}
		}

		lun := 0
		if v, ok := a.get("physical_partition_number"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				lun = n
			}
		}

		filename, _ := a.get("filename")

		baseEntry := Entry{
			Name:        label,
			LUN:         lun,
			StartSector: startSector,
			NumSectors:  numSectors,
			SectorSize:  sectorSize,
			IsProtected: IsProtectedName(label),
			IsSelected:  true,
		}
		if filename == "" {
			entries = append(entries, baseEntry)
			continue
		}

		baseEntry.SourceImagePath = filepath.Join(firmwareDir, filename)
		entries = append(entries, baseEntry)
	}

	return Dedupe(entries), nil
}

// ParsePatch parses a patch*.xml document into PatchRows.
func ParsePatch(r io.Reader) ([]PatchRow, error) {
	const op = "partition.ParsePatch"
	dec := xml.NewDecoder(r)
	var rows []PatchRow

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mftio.Wrap(mftio.KindImageInvalid, op, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, "patch") {
			continue
		}
		a := newAttrs(start)

		sectorSize := uint32(4096)
		if v, ok := a.get("SECTOR_SIZE_IN_BYTES"); ok {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				sectorSize = uint32(n)
			}
		}
		byteOffset, _ := strconv.ParseUint(first(a.get("byte_offset")), 10, 64)
		lun, _ := strconv.Atoi(first(a.get("physical_partition_number")))
		sizeBytes, _ := strconv.ParseUint(first(a.get("size_in_bytes")), 10, 64)
		startSector, _ := strconv.ParseUint(first(a.get("start_sector")), 10, 64)
		filename, _ := a.get("filename")
		value, _ := a.get("value")
		what, _ := a.get("what")

		rows = append(rows, PatchRow{
			SectorSize:  sectorSize,
			ByteOffset:  byteOffset,
			Filename:    filename,
			LUN:         lun,
			SizeBytes:   sizeBytes,
			StartSector: startSector,
			Value:       value,
			What:        what,
		})
	}
	return rows, nil
}

func first(s string, _ bool) string { return s }

// rawprogramVariant ranks the firmware-directory file variants spec.md §6
// and §9 describe, in precedence order (standard unsparse wins over
// save_persist per the Open Question decision in DESIGN.md).
type rawprogramVariant struct {
	pattern  *regexp.Regexp
	priority int
}

var rawprogramVariants = []rawprogramVariant{
	{regexp.MustCompile(`^rawprogram_unsparse(\d+)\.xml$`), 0},
	{regexp.MustCompile(`^rawprogram_save_persist_unsparse(\d+)\.xml$`), 1},
	{regexp.MustCompile(`^rawprogram(\d+)\.xml$`), 2},
}

// DiscoverRawprogramFiles lists firmwareDir for rawprogram*.xml variants,
// applying the Lenovo unsparse/save_persist precedence from spec.md §9.
// preferSavePersist flips the tie-break when both unsparse variants exist
// for the same index, per the Open Question decision in DESIGN.md.
func DiscoverRawprogramFiles(firmwareDir string, preferSavePersist bool) ([]string, error) {
	const op = "partition.DiscoverRawprogramFiles"
	entries, err := os.ReadDir(firmwareDir)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindNotFound, op, err)
	}

	type candidate struct {
		index    string
		priority int
		path     string
	}
	byIndex := make(map[string]candidate)

	for _, e := range entries {
		name := e.Name()
		for _, v := range rawprogramVariants {
			m := v.pattern.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			priority := v.priority
			if preferSavePersist && priority == 1 {
				priority = -1 // save_persist now wins its tie
			}
			idx := m[1]
			if existing, ok := byIndex[idx]; !ok || priority < existing.priority {
				byIndex[idx] = candidate{index: idx, priority: priority, path: filepath.Join(firmwareDir, name)}
			}
		}
	}

	if len(byIndex) == 0 {
		return nil, mftio.New(mftio.KindNotFound, op, "no rawprogram*.xml found in "+firmwareDir)
	}

	var out []string
	for _, c := range byIndex {
		out = append(out, c.path)
	}
	sort.Strings(out)
	return out, nil
}

// DiscoverPatchFiles lists firmwareDir for patch*.xml files.
func DiscoverPatchFiles(firmwareDir string) ([]string, error) {
	entries, err := os.ReadDir(firmwareDir)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindNotFound, "partition.DiscoverPatchFiles", err)
	}
	patchRe := regexp.MustCompile(`^patch\d*\.xml$`)
	var out []string
	for _, e := range entries {
		if patchRe.MatchString(e.Name()) {
			out = append(out, filepath.Join(firmwareDir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// SplitMultiSegment returns a per-segment identifier for e: "name@file"
// when its image filename matches the "_\d+.img" multi-segment pattern,
// else the plain name. spec.md §4.5 treats such segments as independent
// entries; the identifier lets plan construction check name uniqueness
// per segment rather than per partition label.
func SplitMultiSegment(e Entry) string {
	if e.SourceImagePath == "" {
		return e.Name
	}
	base := filepath.Base(e.SourceImagePath)
	if IsMultiSegment(base) {
		return fmt.Sprintf("%s@%s", e.Name, base)
	}
	return e.Name
}
