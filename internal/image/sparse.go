// Package image implements the sparse-aware image pipeline of spec.md
// §4.4: Android sparse image detection/streaming expansion, and a plain
// chunked reader for raw images. Grounded on the teacher's streaming-
// channel-of-chunks idiom (pkg/hashing/jitter/server.go's progressive
// batch delivery), generalized to file I/O.
package image

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"mft/internal/mftio"
)

// SparseMagic is the Android sparse image magic number (spec.md §3, §8).
const SparseMagic uint32 = 0xED26FF3A

const sparseHeaderSize = 28
const chunkHeaderSize = 12

type chunkType uint16

const (
	chunkRaw    chunkType = 0xCAC1
	chunkFill   chunkType = 0xCAC2
	chunkDontCare chunkType = 0xCAC3
	chunkCRC32  chunkType = 0xCAC4
)

// ChunkKind distinguishes the four sparse chunk kinds spec.md §3/§8 name.
type ChunkKind int

const (
	KindRaw ChunkKind = iota
	KindFill
	KindSkip
	KindCRC
)

// Chunk is one decoded sparse (or raw-source) unit. DstOffset is the byte
// offset into the logical output image. For KindFill, FillValue is the
// repeated little-endian uint32; Length is the output byte length (a
// multiple of 4).
type Chunk struct {
	DstOffset int64
	Kind      ChunkKind
	Data      []byte // KindRaw only
	FillValue uint32 // KindFill only
	Length    int64
	CRC       uint32 // KindCRC only
}

type sparseHeader struct {
	Magic         uint32
	MajorVersion  uint16
	MinorVersion  uint16
	FileHdrSize   uint16
	ChunkHdrSize  uint16
	BlockSize     uint32
	TotalBlocks   uint32
	TotalChunks   uint32
	ImageChecksum uint32
}

// IsSparse reports whether the first 4 bytes of data are the sparse magic.
func IsSparse(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(data[:4]) == SparseMagic
}

// SparseDecoder streams the chunks of an Android sparse image in file
// order without materialising the expanded image in memory.
type SparseDecoder struct {
	r         *bufio.Reader
	hdr       sparseHeader
	chunksLeft uint32
	dstOffset int64
	totalSize int64
}

// OpenSparse parses the sparse header from r and returns a decoder
// positioned at the first chunk.
func OpenSparse(r io.Reader) (*SparseDecoder, error) {
	const op = "image.OpenSparse"
	br := bufio.NewReader(r)
	raw := make([]byte, sparseHeaderSize)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, mftio.Wrap(mftio.KindImageInvalid, op, err)
	}

	h := sparseHeader{
		Magic:         binary.LittleEndian.Uint32(raw[0:4]),
		MajorVersion:  binary.LittleEndian.Uint16(raw[4:6]),
		MinorVersion:  binary.LittleEndian.Uint16(raw[6:8]),
		FileHdrSize:   binary.LittleEndian.Uint16(raw[8:10]),
		ChunkHdrSize:  binary.LittleEndian.Uint16(raw[10:12]),
		BlockSize:     binary.LittleEndian.Uint32(raw[12:16]),
		TotalBlocks:   binary.LittleEndian.Uint32(raw[16:20]),
		TotalChunks:   binary.LittleEndian.Uint32(raw[20:24]),
		ImageChecksum: binary.LittleEndian.Uint32(raw[24:28]),
	}
	if h.Magic != SparseMagic {
		return nil, mftio.New(mftio.KindImageInvalid, op, "bad sparse magic")
	}

	return &SparseDecoder{
		r:          br,
		hdr:        h,
		chunksLeft: h.TotalChunks,
		totalSize:  int64(h.TotalBlocks) * int64(h.BlockSize),
	}, nil
}

// TotalSize is the logical (expanded) size of the image in bytes.
func (d *SparseDecoder) TotalSize() int64 { return d.totalSize }

// Next returns the next chunk, or io.EOF once all chunks are consumed.
func (d *SparseDecoder) Next() (Chunk, error) {
	const op = "image.SparseDecoder.Next"
	if d.chunksLeft == 0 {
		return Chunk{}, io.EOF
	}
	d.chunksLeft--

	raw := make([]byte, chunkHeaderSize)
	if _, err := io.ReadFull(d.r, raw); err != nil {
		return Chunk{}, mftio.Wrap(mftio.KindImageInvalid, op, err)
	}
	ct := chunkType(binary.LittleEndian.Uint16(raw[0:2]))
	chunkSizeBlocks := binary.LittleEndian.Uint32(raw[4:8])
	totalSizeBytes := binary.LittleEndian.Uint32(raw[8:12])
	outLen := int64(chunkSizeBlocks) * int64(d.hdr.BlockSize)

	c := Chunk{DstOffset: d.dstOffset, Length: outLen}

	switch ct {
	case chunkRaw:
		dataLen := int64(totalSizeBytes) - chunkHeaderSize
		buf := make([]byte, dataLen)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return Chunk{}, mftio.Wrap(mftio.KindImageInvalid, op, err)
		}
		c.Kind = KindRaw
		c.Data = buf
	case chunkFill:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return Chunk{}, mftio.Wrap(mftio.KindImageInvalid, op, err)
		}
		c.Kind = KindFill
		c.FillValue = binary.LittleEndian.Uint32(buf)
	case chunkDontCare:
		c.Kind = KindSkip
	case chunkCRC32:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return Chunk{}, mftio.Wrap(mftio.KindImageInvalid, op, err)
		}
		c.Kind = KindCRC
		c.CRC = binary.LittleEndian.Uint32(buf)
	default:
		return Chunk{}, mftio.New(mftio.KindImageInvalid, op, "unknown chunk type")
	}

	d.dstOffset += outLen
	return c, nil
}

// ExpandFill materialises a KindFill chunk's bytes: Length/4 little-endian
// copies of FillValue (spec.md §8).
func ExpandFill(c Chunk) []byte {
	out := make([]byte, c.Length)
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], c.FillValue)
	for off := int64(0); off < c.Length; off += 4 {
		copy(out[off:], v[:])
	}
	return out
}

// Source is the common contract for raw and sparse image sources: a
// stream of fixed- or chunk-sized byte ranges plus the logical total size.
type Source interface {
	// Next returns the next chunk's raw bytes and destination offset, or
	// io.EOF when exhausted. Fill/Skip chunks are expanded to concrete
	// bytes so callers never need sparse awareness.
	Next() (offset int64, data []byte, err error)
	TotalSize() int64
	Close() error
}

const defaultRawChunkSize = 1 << 20 // 1 MiB

type rawSource struct {
	f         *os.File
	size      int64
	chunkSize int
	offset    int64
}

// OpenRaw wraps a non-sparse file as a Source yielding fixed-size chunks.
func OpenRaw(path string) (Source, error) {
	const op = "image.OpenRaw"
	f, err := os.Open(path)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindImageInvalid, op, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mftio.Wrap(mftio.KindImageInvalid, op, err)
	}
	return &rawSource{f: f, size: info.Size(), chunkSize: defaultRawChunkSize}, nil
}

func (s *rawSource) TotalSize() int64 { return s.size }

func (s *rawSource) Next() (int64, []byte, error) {
	if s.offset >= s.size {
		return 0, nil, io.EOF
	}
	n := int64(s.chunkSize)
	if s.offset+n > s.size {
		n = s.size - s.offset
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.f, buf); err != nil {
		return 0, nil, mftio.Wrap(mftio.KindIo, "image.rawSource.Next", err)
	}
	off := s.offset
	s.offset += n
	return off, buf, nil
}

func (s *rawSource) Close() error { return s.f.Close() }

type sparseSource struct {
	f   *os.File
	dec *SparseDecoder
}

// OpenSparseFile opens path and wraps it as a sparse-aware Source, with
// Fill/Skip chunks expanded/omitted so the caller only ever sees concrete
// bytes to write (Skip chunks are simply not returned — callers must not
// assume every destination byte range is covered contiguously by Raw/Fill
// data alone when computing total bytes written for sparse images; see
// spec.md §8: "sum of non-skip chunk lengths").
func OpenSparseFile(path string) (Source, error) {
	const op = "image.OpenSparseFile"
	f, err := os.Open(path)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindImageInvalid, op, err)
	}
	dec, err := OpenSparse(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &sparseSource{f: f, dec: dec}, nil
}

func (s *sparseSource) TotalSize() int64 { return s.dec.TotalSize() }

func (s *sparseSource) Next() (int64, []byte, error) {
	for {
		c, err := s.dec.Next()
		if err != nil {
			return 0, nil, err
		}
		switch c.Kind {
		case KindRaw:
			return c.DstOffset, c.Data, nil
		case KindFill:
			return c.DstOffset, ExpandFill(c), nil
		case KindSkip, KindCRC:
			continue // no bytes to write for these
		}
	}
}

func (s *sparseSource) Close() error { return s.f.Close() }

// Open inspects the first 4 bytes of path and returns the matching Source
// variant (spec.md §4.4).
func Open(path string) (Source, error) {
	const op = "image.Open"
	f, err := os.Open(path)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindImageInvalid, op, err)
	}
	magic := make([]byte, 4)
	n, _ := io.ReadFull(f, magic)
	f.Close()
	if n == 4 && IsSparse(magic) {
		return OpenSparseFile(path)
	}
	return OpenRaw(path)
}
