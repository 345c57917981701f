// Package supermeta discovers and parses the OPLUS-style Super-Meta
// descriptor (spec.md §3/§4.4): a META/super_def.<nv_id>.json sibling of
// the firmware directory, describing the dynamic-partition (`super`)
// sub-partition layout.
package supermeta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"mft/internal/mftio"
)

// SubPartition is one logical partition packed inside super_meta.raw.
type SubPartition struct {
	Name string `json:"name"`
	Slot string `json:"slot"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// VersionInfo mirrors an optional sibling version_info.txt used to pick
// among multiple super_def.*.json candidates.
type VersionInfo struct {
	NVID        string
	VersionName string
	ProductName string
	MarketName  string
	Platform    string
}

// Descriptor is the parsed Super-Meta manifest.
type Descriptor struct {
	NVID          string         `json:"nv_id"`
	NVText        string         `json:"nv_text"`
	SuperMetaPath string         `json:"super_meta_path"`
	SubPartitions []SubPartition `json:"sub_partitions"`
	IsSupported   bool           `json:"is_supported"`
}

// ParseVersionInfo parses a version_info.txt's "key: value" or
// "key=value" lines.
func ParseVersionInfo(data []byte) VersionInfo {
	var v VersionInfo
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sep := "="
		if strings.Contains(line, ":") && !strings.Contains(line, "=") {
			sep = ":"
		}
		parts := strings.SplitN(line, sep, 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		switch key {
		case "nv_id":
			v.NVID = val
		case "version_name":
			v.VersionName = val
		case "product_name":
			v.ProductName = val
		case "market_name":
			v.MarketName = val
		case "platform":
			v.Platform = val
		}
	}
	return v
}

// Discover searches firmwareDir/META for super_def.*.json candidates and
// returns the parsed Descriptor whose NV-ID matches version_info.txt when
// present, otherwise the first candidate whose NV-ID isn't all zeroes
// (spec.md §4.4).
func Discover(firmwareDir string) (*Descriptor, error) {
	const op = "supermeta.Discover"
	metaDir := filepath.Join(firmwareDir, "META")
	entries, err := os.ReadDir(metaDir)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindNotFound, op, err)
	}

	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "super_def.") && strings.HasSuffix(name, ".json") {
			candidates = append(candidates, filepath.Join(metaDir, name))
		}
	}
	if len(candidates) == 0 {
		return nil, mftio.New(mftio.KindNotFound, op, "no super_def.*.json found")
	}

	var wantNVID string
	if data, err := os.ReadFile(filepath.Join(firmwareDir, "version_info.txt")); err == nil {
		wantNVID = ParseVersionInfo(data).NVID
	}

	var fallback *Descriptor
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var d Descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}
		if wantNVID != "" && d.NVID == wantNVID {
			return &d, nil
		}
		if fallback == nil && d.NVID != "00000000" {
			dCopy := d
			fallback = &dCopy
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, mftio.New(mftio.KindNotFound, op, "no non-zero NV-ID candidate found")
}
