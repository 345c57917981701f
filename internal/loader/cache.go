// Local disk cache for resolved loader bundles, keyed by
// <cache>/<vendor>/<chip>/<storage_type>/<auth_strategy>/, so repeated
// flashes of the same device don't re-fetch a loader already on disk.
package loader

import (
	"os"
	"path/filepath"

	"mft/internal/mftio"
)

// Cache stores loader bundles under a root directory, one subdirectory
// per Key.
type Cache struct {
	root string
}

// NewCache opens (creating if necessary) a cache rooted at dir.
func NewCache(dir string) (*Cache, error) {
	const op = "loader.NewCache"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mftio.Wrap(mftio.KindIo, op, err)
	}
	return &Cache{root: dir}, nil
}

func (c *Cache) dirFor(key Key) string {
	return filepath.Join(c.root, key.Vendor, key.Chip, key.StorageType, string(key.AuthStrategy))
}

// Lookup returns the cached Bundle for key if its loader file exists.
func (c *Cache) Lookup(key Key) (Bundle, bool) {
	dir := c.dirFor(key)
	loaderPath := filepath.Join(dir, "loader.bin")
	if _, err := os.Stat(loaderPath); err != nil {
		return Bundle{}, false
	}
	b := Bundle{
		LoaderPath:   loaderPath,
		StorageType:  key.StorageType,
		Vendor:       key.Vendor,
		Chip:         key.Chip,
		AuthStrategy: key.AuthStrategy,
	}
	if _, err := os.Stat(filepath.Join(dir, "digest.bin")); err == nil {
		b.DigestPath = filepath.Join(dir, "digest.bin")
	}
	if _, err := os.Stat(filepath.Join(dir, "sign.bin")); err == nil {
		b.SignPath = filepath.Join(dir, "sign.bin")
	}
	return b, true
}

// Store writes loader (and optional digest/sign sidecars) into the cache
// slot for key, returning the stored Bundle.
func (c *Cache) Store(key Key, loader, digest, sign []byte) (Bundle, error) {
	const op = "loader.Cache.Store"
	dir := c.dirFor(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Bundle{}, mftio.Wrap(mftio.KindIo, op, err)
	}
	loaderPath := filepath.Join(dir, "loader.bin")
	if err := os.WriteFile(loaderPath, loader, 0o644); err != nil {
		return Bundle{}, mftio.Wrap(mftio.KindIo, op, err)
	}
	b := Bundle{LoaderPath: loaderPath, StorageType: key.StorageType, Vendor: key.Vendor, Chip: key.Chip, AuthStrategy: key.AuthStrategy}
	if len(digest) > 0 {
		digestPath := filepath.Join(dir, "digest.bin")
		if err := os.WriteFile(digestPath, digest, 0o644); err != nil {
			return Bundle{}, mftio.Wrap(mftio.KindIo, op, err)
		}
		b.DigestPath = digestPath
	}
	if len(sign) > 0 {
		signPath := filepath.Join(dir, "sign.bin")
		if err := os.WriteFile(signPath, sign, 0o644); err != nil {
			return Bundle{}, mftio.Wrap(mftio.KindIo, op, err)
		}
		b.SignPath = signPath
	}
	return b, nil
}

// Evict removes a cached bundle's directory entirely.
func (c *Cache) Evict(key Key) error {
	return os.RemoveAll(c.dirFor(key))
}
