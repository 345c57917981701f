package supermeta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/mftio"
)

func writeDescriptor(t *testing.T, metaDir, name string, d Descriptor) {
	t.Helper()
	data, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(metaDir, name), data, 0o644))
}

func TestParseVersionInfoColonForm(t *testing.T) {
	data := []byte("nv_id: 12345678\nversion_name: S1.0\nproduct_name: widget\n")
	v := ParseVersionInfo(data)
	assert.Equal(t, "12345678", v.NVID)
	assert.Equal(t, "S1.0", v.VersionName)
	assert.Equal(t, "widget", v.ProductName)
}

func TestParseVersionInfoEqualsForm(t *testing.T) {
	data := []byte("nv_id=87654321\nmarket_name=Pro\nplatform=sc9863a\n")
	v := ParseVersionInfo(data)
	assert.Equal(t, "87654321", v.NVID)
	assert.Equal(t, "Pro", v.MarketName)
	assert.Equal(t, "sc9863a", v.Platform)
}

func TestParseVersionInfoIgnoresBlankAndMalformed(t *testing.T) {
	data := []byte("\n\nnot-a-kv-line\nnv_id: abc\n")
	v := ParseVersionInfo(data)
	assert.Equal(t, "abc", v.NVID)
}

func TestDiscoverMatchesVersionInfoNVID(t *testing.T) {
	dir := t.TempDir()
	metaDir := filepath.Join(dir, "META")
	require.NoError(t, os.MkdirAll(metaDir, 0o755))

	writeDescriptor(t, metaDir, "super_def.11111111.json", Descriptor{NVID: "11111111", IsSupported: true})
	writeDescriptor(t, metaDir, "super_def.22222222.json", Descriptor{NVID: "22222222", IsSupported: true})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version_info.txt"), []byte("nv_id: 22222222\n"), 0o644))

	d, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, "22222222", d.NVID)
}

func TestDiscoverFallsBackToFirstNonZero(t *testing.T) {
	dir := t.TempDir()
	metaDir := filepath.Join(dir, "META")
	require.NoError(t, os.MkdirAll(metaDir, 0o755))

	writeDescriptor(t, metaDir, "super_def.00000000.json", Descriptor{NVID: "00000000"})
	writeDescriptor(t, metaDir, "super_def.33333333.json", Descriptor{NVID: "33333333"})

	d, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, "33333333", d.NVID)
}

func TestDiscoverNoCandidates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "META"), 0o755))

	_, err := Discover(dir)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindNotFound))
}

func TestDiscoverMissingMetaDir(t *testing.T) {
	dir := t.TempDir()
	_, err := Discover(dir)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindNotFound))
}

func TestDiscoverAllZeroNVIDsFail(t *testing.T) {
	dir := t.TempDir()
	metaDir := filepath.Join(dir, "META")
	require.NoError(t, os.MkdirAll(metaDir, 0o755))
	writeDescriptor(t, metaDir, "super_def.00000000.json", Descriptor{NVID: "00000000"})

	_, err := Discover(dir)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindNotFound))
}
