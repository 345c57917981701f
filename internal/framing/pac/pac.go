// Package pac decodes Spreadtrum/Unisoc PAC firmware containers: a
// fixed-size little-endian header followed by a table of file entries
// with UTF-16 name strings (spec.md §4.2/§4.8).
package pac

import (
	"encoding/binary"
	"unicode/utf16"

	"mft/internal/mftio"
)

const (
	magicString   = "SPRD-PAC"
	headerSize    = 4 + 4 + 4 + 4 + 4 + 4 + 128 + 128 // see Header layout below
	nameFieldLen  = 64 // UTF-16 code units per name field
	entryFixedLen = 4 + 4 + 4 + 4
	entrySize     = nameFieldLen*2 + entryFixedLen
)

// FileFlag bits carried in a TOC entry.
const (
	FlagIsFDL       uint32 = 1 << 0
	FlagIsPartition uint32 = 1 << 1
)

// Header is the PAC container's fixed-size preamble.
type Header struct {
	Version      uint32
	HeaderSize   uint32
	FileCount    uint32
	TOCOffset    uint32
	TOCEntrySize uint32
	TotalSize    uint32
	ProductName  string
	FirmwareName string
}

// Entry is one TOC row: a file within the container, which may be an FDL
// stage loader or a partition image addressed by on-device name.
type Entry struct {
	Name     string
	Offset   uint32
	Length   uint32
	Addr     uint32
	IsFDL    bool
	IsPart   bool
}

// File is the parsed container: header plus TOC.
type File struct {
	Header  Header
	Entries []Entry
}

func utf16Decode(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	// trim at first NUL code unit
	for i, v := range u16 {
		if v == 0 {
			u16 = u16[:i]
			break
		}
	}
	return string(utf16.Decode(u16))
}

func utf16Encode(s string, fieldUnits int) []byte {
	units := utf16.Encode([]rune(s))
	if len(units) > fieldUnits-1 {
		units = units[:fieldUnits-1]
	}
	out := make([]byte, fieldUnits*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}

// Parse decodes a PAC container from raw bytes.
func Parse(data []byte) (*File, error) {
	const op = "pac.Parse"
	if len(data) < 8 || string(data[:8]) != magicString {
		return nil, mftio.New(mftio.KindImageInvalid, op, "bad PAC magic")
	}
	if len(data) < 8+headerSize {
		return nil, mftio.New(mftio.KindImageInvalid, op, "truncated header")
	}

	h := data[8:]
	hdr := Header{
		Version:      binary.LittleEndian.Uint32(h[0:4]),
		HeaderSize:   binary.LittleEndian.Uint32(h[4:8]),
		FileCount:    binary.LittleEndian.Uint32(h[8:12]),
		TOCOffset:    binary.LittleEndian.Uint32(h[12:16]),
		TOCEntrySize: binary.LittleEndian.Uint32(h[16:20]),
		TotalSize:    binary.LittleEndian.Uint32(h[20:24]),
		ProductName:  utf16Decode(h[24 : 24+128]),
		FirmwareName: utf16Decode(h[24+128 : 24+256]),
	}

	if hdr.TOCEntrySize == 0 {
		hdr.TOCEntrySize = entrySize
	}
	entries := make([]Entry, 0, hdr.FileCount)
	for i := uint32(0); i < hdr.FileCount; i++ {
		off := int(hdr.TOCOffset) + int(i*hdr.TOCEntrySize)
		if off+int(hdr.TOCEntrySize) > len(data) {
			return nil, mftio.New(mftio.KindImageInvalid, op, "TOC entry out of bounds")
		}
		row := data[off : off+int(hdr.TOCEntrySize)]
		name := utf16Decode(row[:nameFieldLen*2])
		rest := row[nameFieldLen*2:]
		fileOffset := binary.LittleEndian.Uint32(rest[0:4])
		length := binary.LittleEndian.Uint32(rest[4:8])
		addr := binary.LittleEndian.Uint32(rest[8:12])
		flags := binary.LittleEndian.Uint32(rest[12:16])

		entries = append(entries, Entry{
			Name:   name,
			Offset: fileOffset,
			Length: length,
			Addr:   addr,
			IsFDL:  flags&FlagIsFDL != 0,
			IsPart: flags&FlagIsPartition != 0,
		})
	}

	return &File{Header: hdr, Entries: entries}, nil
}

// Data returns the raw bytes of entry e within the container.
func (f *File) Data(container []byte, e Entry) ([]byte, error) {
	end := int(e.Offset) + int(e.Length)
	if end > len(container) || int(e.Offset) < 0 {
		return nil, mftio.New(mftio.KindImageInvalid, "pac.Data", "entry out of bounds")
	}
	return container[e.Offset:end], nil
}

// Encode serialises a File's header+TOC (not the file payloads) — used by
// tests to round-trip Parse.
func Encode(f *File) []byte {
	out := make([]byte, 8+headerSize)
	copy(out[0:8], magicString)
	h := out[8:]
	binary.LittleEndian.PutUint32(h[0:4], f.Header.Version)
	binary.LittleEndian.PutUint32(h[4:8], f.Header.HeaderSize)
	binary.LittleEndian.PutUint32(h[8:12], uint32(len(f.Entries)))
	tocOffset := uint32(8 + headerSize)
	binary.LittleEndian.PutUint32(h[12:16], tocOffset)
	binary.LittleEndian.PutUint32(h[16:20], entrySize)
	binary.LittleEndian.PutUint32(h[20:24], f.Header.TotalSize)
	copy(h[24:24+128], utf16Encode(f.Header.ProductName, 64))
	copy(h[24+128:24+256], utf16Encode(f.Header.FirmwareName, 64))

	for _, e := range f.Entries {
		row := make([]byte, entrySize)
		copy(row[:nameFieldLen*2], utf16Encode(e.Name, nameFieldLen))
		rest := row[nameFieldLen*2:]
		binary.LittleEndian.PutUint32(rest[0:4], e.Offset)
		binary.LittleEndian.PutUint32(rest[4:8], e.Length)
		binary.LittleEndian.PutUint32(rest[8:12], e.Addr)
		var flags uint32
		if e.IsFDL {
			flags |= FlagIsFDL
		}
		if e.IsPart {
			flags |= FlagIsPartition
		}
		binary.LittleEndian.PutUint32(rest[12:16], flags)
		out = append(out, row...)
	}
	return out
}
