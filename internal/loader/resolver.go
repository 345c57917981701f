// HTTPS loader resolver: fetches a bundle from a remote catalogue when the
// local cache misses. Deliberately net/http only — no gRPC client, see
// DESIGN.md's dropped-dependency entry for why.
package loader

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"mft/internal/mftio"
)

// Resolver fetches loader bundles from a remote HTTPS catalogue and stores
// them in a local Cache.
type Resolver struct {
	baseURL string
	client  *http.Client
	cache   *Cache
}

// NewResolver constructs a Resolver against baseURL (e.g.
// "https://loaders.example.internal"), caching results in cache.
func NewResolver(baseURL string, cache *Cache) *Resolver {
	return &Resolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
	}
}

// Resolve returns a cached bundle for key if present, otherwise fetches it
// from the catalogue and populates the cache.
func (r *Resolver) Resolve(ctx context.Context, key Key) (Bundle, error) {
	const op = "loader.Resolver.Resolve"
	if b, ok := r.cache.Lookup(key); ok {
		return b, nil
	}

	loaderURL, err := r.assetURL(key, "loader.bin")
	if err != nil {
		return Bundle{}, err
	}
	loader, err := r.fetch(ctx, loaderURL)
	if err != nil {
		return Bundle{}, err
	}

	var digest, sign []byte
	if digestURL, err := r.assetURL(key, "digest.bin"); err == nil {
		if d, ferr := r.fetch(ctx, digestURL); ferr == nil {
			digest = d
		}
	}
	if signURL, err := r.assetURL(key, "sign.bin"); err == nil {
		if s, ferr := r.fetch(ctx, signURL); ferr == nil {
			sign = s
		}
	}

	b, err := r.cache.Store(key, loader, digest, sign)
	if err != nil {
		return Bundle{}, mftio.Wrap(mftio.KindIo, op, err)
	}
	b.AuthStrategy = key.AuthStrategy
	return b, nil
}

func (r *Resolver) assetURL(key Key, asset string) (string, error) {
	const op = "loader.Resolver.assetURL"
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return "", mftio.Wrap(mftio.KindInternal, op, err)
	}
	u.Path = path(u.Path, key.Vendor, key.Chip, key.StorageType, string(key.AuthStrategy), asset)
	return u.String(), nil
}

func path(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out == "" || out[len(out)-1] != '/' {
			out += "/"
		}
		out += p
	}
	return out
}

func (r *Resolver) fetch(ctx context.Context, assetURL string) ([]byte, error) {
	const op = "loader.Resolver.fetch"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindInternal, op, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindIo, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, mftio.New(mftio.KindNotFound, op, assetURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mftio.New(mftio.KindIo, op, "unexpected status "+resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindIo, op, err)
	}
	return data, nil
}
