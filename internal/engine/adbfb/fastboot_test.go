package adbfb

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/mftio"
)

// pageTransport hands back one pre-seeded page per ReadExact call regardless
// of n, matching fastboot's half-duplex one-response-per-read assumption.
type pageTransport struct {
	pages  [][]byte
	idx    int
	writes [][]byte
}

func (p *pageTransport) Write(ctx context.Context, data []byte, deadline time.Duration) (int, error) {
	p.writes = append(p.writes, append([]byte(nil), data...))
	return len(data), nil
}

func (p *pageTransport) ReadExact(ctx context.Context, n int, deadline time.Duration) ([]byte, error) {
	if p.idx >= len(p.pages) {
		return nil, io.ErrUnexpectedEOF
	}
	page := p.pages[p.idx]
	p.idx++
	return page, nil
}

func (p *pageTransport) Close() error    { return nil }
func (p *pageTransport) Address() string { return "fake-fastboot" }

func TestFastbootGetVarReturnsValue(t *testing.T) {
	pt := &pageTransport{pages: [][]byte{[]byte("OKAY0.5")}}
	f := NewFastbootSession(pt)

	v, err := f.GetVar(context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, "0.5", v)
	require.Len(t, pt.writes, 1)
	assert.Equal(t, "getvar:version", string(pt.writes[0]))
}

func TestFastbootCommandCollectsInfoLines(t *testing.T) {
	pt := &pageTransport{pages: [][]byte{[]byte("INFOstep one"), []byte("INFOstep two"), []byte("OKAY")}}
	f := NewFastbootSession(pt)

	resp, infos, err := f.command(context.Background(), "oem something")
	require.NoError(t, err)
	assert.Equal(t, []string{"step one", "step two"}, infos)
	assert.Equal(t, 0, int(resp.Kind)) // RespOkay
}

func TestFastbootCommandFailPropagatesMessage(t *testing.T) {
	pt := &pageTransport{pages: [][]byte{[]byte("FAILnot allowed")}}
	f := NewFastbootSession(pt)

	_, _, err := f.command(context.Background(), "flash:frp")
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
	assert.Contains(t, err.Error(), "not allowed")
}

func TestFastbootDownloadSuccess(t *testing.T) {
	data := []byte("image-bytes")
	pt := &pageTransport{pages: [][]byte{[]byte("DATA0000000b"), []byte("OKAY")}}
	f := NewFastbootSession(pt)

	require.NoError(t, f.Download(context.Background(), data))
	require.Len(t, pt.writes, 2)
	assert.Equal(t, data, pt.writes[1])
}

func TestFastbootDownloadSizeMismatch(t *testing.T) {
	pt := &pageTransport{pages: [][]byte{[]byte("DATA00000005")}}
	f := NewFastbootSession(pt)

	err := f.Download(context.Background(), []byte("twelve-bytes"))
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestFastbootDownloadRejectedFinalResponse(t *testing.T) {
	data := []byte("abc")
	pt := &pageTransport{pages: [][]byte{[]byte("DATA00000003"), []byte("FAILcrc")}}
	f := NewFastbootSession(pt)

	err := f.Download(context.Background(), data)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindProtocolReject))
}

func TestFastbootFlashEraseSetActiveLogicalPartitions(t *testing.T) {
	calls := []struct {
		name string
		run  func(*FastbootSession) error
		want string
	}{
		{"flash", func(f *FastbootSession) error { return f.Flash(context.Background(), "boot") }, "flash:boot"},
		{"erase", func(f *FastbootSession) error { return f.Erase(context.Background(), "userdata") }, "erase:userdata"},
		{"set_active", func(f *FastbootSession) error { return f.SetActive(context.Background(), "b") }, "set_active:b"},
		{"create-logical", func(f *FastbootSession) error { return f.CreateLogicalPartition(context.Background(), "sub", 1024) }, "create-logical-partition:sub:400"},
		{"resize-logical", func(f *FastbootSession) error { return f.ResizeLogicalPartition(context.Background(), "sub", 2048) }, "resize-logical-partition:sub:800"},
		{"delete-logical", func(f *FastbootSession) error { return f.DeleteLogicalPartition(context.Background(), "sub") }, "delete-logical-partition:sub"},
		{"reboot-bootloader", func(f *FastbootSession) error { return f.Reboot(context.Background(), "bootloader") }, "reboot-bootloader"},
	}
	for _, c := range calls {
		pt := &pageTransport{pages: [][]byte{[]byte("OKAY")}}
		f := NewFastbootSession(pt)
		require.NoError(t, c.run(f), c.name)
		require.Len(t, pt.writes, 1, c.name)
		assert.Equal(t, c.want, string(pt.writes[0]), c.name)
	}
}

func TestTrimNUL(t *testing.T) {
	assert.Equal(t, []byte("OKAY"), trimNUL([]byte("OKAY\x00\x00\x00")))
	assert.Equal(t, []byte("OKAY"), trimNUL([]byte("OKAY")))
}
