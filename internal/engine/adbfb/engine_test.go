package adbfb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/engine"
	"mft/internal/framing/adb"
	"mft/internal/mftio"
	"mft/internal/partition"
	"mft/internal/transport"
)

func TestAdbEngineNameVendorAvailable(t *testing.T) {
	e := NewAdbEngine(transport.USBConfig{}, nil, nil)
	assert.Equal(t, "adb", e.Name())
	assert.Equal(t, engine.VendorADB, e.Vendor())
	assert.True(t, e.IsAvailable())
}

func TestAdbEngineCloseWithoutConnectIsNoop(t *testing.T) {
	e := NewAdbEngine(transport.USBConfig{}, nil, nil)
	assert.NoError(t, e.Close())
}

func TestAdbEngineIdentifyFailsBeforeConnect(t *testing.T) {
	e := NewAdbEngine(transport.USBConfig{}, nil, nil)
	_, err := e.Identify(context.Background())
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindInternal))
}

func TestAdbEngineWritePartitionRejectsProtected(t *testing.T) {
	e := NewAdbEngine(transport.USBConfig{}, nil, nil)
	err := e.WritePartition(context.Background(), partition.Entry{Name: "frp", IsProtected: true}, nil)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindPartitionProtected))
}

func TestAdbEngineWritePartitionRejectsMissingSourceImage(t *testing.T) {
	e := NewAdbEngine(transport.USBConfig{}, nil, nil)
	err := e.WritePartition(context.Background(), partition.Entry{Name: "boot"}, nil)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindImageInvalid))
}

func TestAdbEngineEraseRejectsProtected(t *testing.T) {
	e := NewAdbEngine(transport.USBConfig{}, nil, nil)
	err := e.Erase(context.Background(), partition.Entry{Name: "persist", IsProtected: true})
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindPartitionProtected))
}

func TestAdbEngineShellAccumulatesUntilEndOfStream(t *testing.T) {
	stream := seedMessages(
		adb.Message{Cmd: adb.CmdOKAY, Arg0: 3},
		adb.Message{Cmd: adb.CmdWRTE, Payload: []byte("out")},
		adb.Message{Cmd: adb.CmdCLSE},
	)
	tr := &queueTransport{stream: stream}
	e := &AdbEngine{sess: NewSession(tr, nil)}

	out, err := e.Shell(context.Background(), "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "out", string(out))
}

func TestAdbEngineCapabilities(t *testing.T) {
	e := NewAdbEngine(transport.USBConfig{}, nil, nil)
	caps := e.Capabilities()
	assert.Equal(t, engine.VendorADB, caps.Vendor)
	assert.True(t, caps.SupportsRead)
}

func TestFastbootEngineNameVendorAvailable(t *testing.T) {
	e := NewFastbootEngine(transport.USBConfig{}, nil)
	assert.Equal(t, "fastboot", e.Name())
	assert.Equal(t, engine.VendorFastboot, e.Vendor())
	assert.True(t, e.IsAvailable())
}

func TestFastbootEngineCloseWithoutConnectIsNoop(t *testing.T) {
	e := NewFastbootEngine(transport.USBConfig{}, nil)
	assert.NoError(t, e.Close())
}

func TestFastbootEngineReadPartitionNotImplemented(t *testing.T) {
	e := NewFastbootEngine(transport.USBConfig{}, nil)
	_, err := e.ReadPartition(context.Background(), partition.Entry{}, 0, nil)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindNotImplemented))
}

func TestFastbootEngineOperationsFailBeforeConnect(t *testing.T) {
	e := NewFastbootEngine(transport.USBConfig{}, nil)
	ctx := context.Background()

	_, err := e.Identify(ctx)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindInternal))

	err = e.WritePartition(ctx, partition.Entry{Name: "boot"}, nil)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindInternal))

	err = e.Erase(ctx, partition.Entry{})
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindInternal))

	err = e.Reboot(ctx, "normal")
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindInternal))
}

func TestFastbootEngineWritePartitionRejectsProtected(t *testing.T) {
	pt := &pageTransport{}
	e := &FastbootEngine{fb: NewFastbootSession(pt)}

	err := e.WritePartition(context.Background(), partition.Entry{Name: "seccfg", IsProtected: true}, nil)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindPartitionProtected))
}

func TestFastbootEngineWritePartitionRejectsMissingSourceImage(t *testing.T) {
	pt := &pageTransport{}
	e := &FastbootEngine{fb: NewFastbootSession(pt)}

	err := e.WritePartition(context.Background(), partition.Entry{Name: "boot"}, nil)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindImageInvalid))
}

func TestFastbootEngineIdentifyReadsGetVars(t *testing.T) {
	pt := &pageTransport{pages: [][]byte{
		[]byte("OKAYpixel"),
		[]byte("OKAYABCDEF123456"),
		[]byte("OKAYa"),
		[]byte("OKAY2"),
	}}
	e := &FastbootEngine{fb: NewFastbootSession(pt)}

	info, err := e.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pixel", info.ChipName)
	assert.Equal(t, "ABCDEF123456", info.Serial)
	assert.Equal(t, "a", info.ActiveSlot)
	assert.Equal(t, []string{"a", "b"}, info.Slots)
}

func TestFastbootEngineCapabilities(t *testing.T) {
	e := NewFastbootEngine(transport.USBConfig{}, nil)
	caps := e.Capabilities()
	assert.Equal(t, engine.VendorFastboot, caps.Vendor)
	assert.False(t, caps.SupportsRead)
}
