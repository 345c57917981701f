// MediaTek scatter file parsing: TXT v3 and XML v6 (spec.md §4.5, §6).
package partition

import (
	"bufio"
	"encoding/xml"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"mft/internal/mftio"
)

// ScatterInfo carries the scatter-file-level metadata spec.md §4.5/§3
// ("Scatter/rawprogram entity") attaches beside the partition rows.
type ScatterInfo struct {
	IsV6            bool
	SkipPartitionTable bool
	StorageType     string // EMMC/UFS
	Platform        string
	Project         string
	ProtectedNames  []string
}

// mtkProtectedDefaults are the protected rows MTK scatter v6 always
// declares regardless of its own protected-partition list (spec.md §4.5).
var mtkProtectedDefaults = []string{"preloader", "persistent", "sec1", "seccfg"}

// ParseScatterTXT parses a v3 TXT scatter file: sequential
// "- partition_index:... partition_name:... file_name:... is_download:true|false
// operation_type:..." blocks.
func ParseScatterTXT(r io.Reader, firmwareDir string) ([]Entry, ScatterInfo, error) {
	const op = "partition.ParseScatterTXT"
	info := ScatterInfo{ProtectedNames: append([]string(nil), mtkProtectedDefaults...)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var entries []Entry
	var cur map[string]string
	flush := func() {
		if cur == nil {
			return
		}
		name := cur["partition_name"]
		if name == "" || strings.EqualFold(cur["is_download"], "false") {
			cur = nil
			return
		}
		e := Entry{
			Name:        name,
			IsProtected: IsProtectedName(name),
			IsSelected:  true,
			SectorSize:  512,
		}
		if fn := cur["file_name"]; fn != "" {
			e.SourceImagePath = filepath.Join(firmwareDir, fn)
		}
		if v := cur["linear_start_addr"]; v != "" {
			if n, err := parseScatterInt(v); err == nil {
				e.StartSector = n / 512
			}
		}
		if v := cur["partition_size"]; v != "" {
			if n, err := parseScatterInt(v); err == nil {
				e.NumSectors = (n + 511) / 512
			}
		}
		entries = append(entries, e)
		cur = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "-" {
			flush()
			cur = make(map[string]string)
			continue
		}
		if strings.HasPrefix(line, "- ") {
			flush()
			cur = make(map[string]string)
			line = strings.TrimPrefix(line, "- ")
		}
		if cur == nil {
			if strings.HasPrefix(line, "project:") {
				info.Project = strings.TrimSpace(strings.TrimPrefix(line, "project:"))
			}
			if strings.HasPrefix(line, "platform:") {
				info.Platform = strings.TrimSpace(strings.TrimPrefix(line, "platform:"))
			}
			if strings.HasPrefix(line, "storage:") {
				info.StorageType = strings.TrimSpace(strings.TrimPrefix(line, "storage:"))
			}
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		cur[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, info, mftio.Wrap(mftio.KindImageInvalid, op, err)
	}

	return Dedupe(entries), info, nil
}

func parseScatterInt(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// ParseScatterXML parses a v6 XML scatter file: <data>/<partition>
// children.
func ParseScatterXML(r io.Reader, firmwareDir string) ([]Entry, ScatterInfo, error) {
	const op = "partition.ParseScatterXML"
	info := ScatterInfo{IsV6: true}

	dec := xml.NewDecoder(r)
	var entries []Entry
	var protectedNames []string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, info, mftio.Wrap(mftio.KindImageInvalid, op, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch strings.ToLower(start.Name.Local) {
		case "partition":
			a := newAttrs(start)
			name, _ := a.get("partition_name")
			if name == "" {
				continue
			}
			isUpgradable := a.getBool("is_upgradable", true)
			e := Entry{
				Name:        name,
				IsProtected: IsProtectedName(name),
				IsSelected:  isUpgradable,
				SectorSize:  512,
			}
			if fn, ok := a.get("file_name"); ok && fn != "" {
				e.SourceImagePath = filepath.Join(firmwareDir, fn)
			}
			if opType, ok := a.get("operation_type"); ok && strings.EqualFold(opType, "protected") {
				e.IsProtected = true
			}
			if e.IsProtected {
				protectedNames = append(protectedNames, name)
			}
			entries = append(entries, e)
		case "option":
			a := newAttrs(start)
			if v, ok := a.get("skip_partition_table"); ok {
				info.SkipPartitionTable = strings.EqualFold(v, "true")
			}
			if v, ok := a.get("storage_type"); ok {
				info.StorageType = v
			}
			if v, ok := a.get("platform"); ok {
				info.Platform = v
			}
			if v, ok := a.get("project"); ok {
				info.Project = v
			}
		}
	}

	info.ProtectedNames = append(append([]string(nil), mtkProtectedDefaults...), protectedNames...)
	return Dedupe(entries), info, nil
}

// DetectScatterFormat peeks at the first non-whitespace byte to tell a v3
// TXT scatter file from a v6 XML one.
func DetectScatterFormat(r *bufio.Reader) (isXML bool, err error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return false, err
		}
		if b[0] == ' ' || b[0] == '\t' || b[0] == '\n' || b[0] == '\r' {
			if _, err := r.Discard(1); err != nil {
				return false, err
			}
			continue
		}
		return b[0] == '<', nil
	}
}
