package image

import (
	"crypto/sha256"
	"hash/crc32"
	"io"
)

// SHA256File streams src and returns its SHA-256 digest without loading
// the whole file into memory.
func SHA256File(src io.Reader) ([32]byte, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, src)
	if err != nil {
		return [32]byte{}, n, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, n, nil
}

// CRC32File streams src and returns its IEEE CRC-32.
func CRC32File(src io.Reader) (uint32, int64, error) {
	h := crc32.NewIEEE()
	n, err := io.Copy(h, src)
	if err != nil {
		return 0, n, err
	}
	return h.Sum32(), n, nil
}
