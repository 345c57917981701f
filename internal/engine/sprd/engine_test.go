package sprd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/engine"
	"mft/internal/mftio"
	"mft/internal/partition"
	"mft/internal/transport"
)

func TestSPRDEngineNameAndVendor(t *testing.T) {
	e := New(Config{Serial: transport.SerialConfig{Port: "/dev/ttyUSB0"}}, nil)
	assert.Equal(t, "unisoc-sprd", e.Name())
	assert.Equal(t, engine.VendorSPRD, e.Vendor())
}

func TestSPRDEngineIsAvailableRequiresSerialPort(t *testing.T) {
	e := New(Config{Serial: transport.SerialConfig{Port: "/dev/ttyUSB0"}}, nil)
	assert.True(t, e.IsAvailable())

	empty := New(Config{}, nil)
	assert.False(t, empty.IsAvailable())
}

func TestSPRDEngineCloseWithoutConnectIsNoop(t *testing.T) {
	e := New(Config{}, nil)
	assert.NoError(t, e.Close())
}

func TestSPRDEngineOperationsFailBeforeConnect(t *testing.T) {
	e := New(Config{}, nil)
	ctx := context.Background()

	_, err := e.ReadPartition(ctx, partition.Entry{}, 0, nil)
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

func TestSPRDEngineWritePartitionRejectsProtected(t *testing.T) {
	ft := &byteTransport{}
	e := &Engine{fdl: NewFDLSession(ft)}

	err := e.WritePartition(context.Background(), partition.Entry{Name: "persist", IsProtected: true}, nil)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindPartitionProtected))
}

func TestSPRDEngineWritePartitionSkipsKeepNV(t *testing.T) {
	ft := &byteTransport{}
	e := &Engine{fdl: NewFDLSession(ft), cfg: Config{KeepNV: true}}

	require.NoError(t, e.WritePartition(context.Background(), partition.Entry{Name: "nvram"}, nil))
	assert.Empty(t, ft.writes)
}

func TestSPRDEngineWritePartitionRejectsMissingSourceImage(t *testing.T) {
	ft := &byteTransport{}
	e := &Engine{fdl: NewFDLSession(ft)}

	err := e.WritePartition(context.Background(), partition.Entry{Name: "boot"}, nil)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindImageInvalid))
}

func TestSPRDEngineEraseRejectsProtected(t *testing.T) {
	ft := &byteTransport{}
	e := &Engine{fdl: NewFDLSession(ft)}

	err := e.Erase(context.Background(), partition.Entry{Name: "seccfg", IsProtected: true})
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindPartitionProtected))
}

func TestSPRDEngineIdentifyReportsRSABypassFlag(t *testing.T) {
	e := &Engine{cfg: Config{RSABypass: true}}
	info, err := e.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "true", info.Extra["rsa_bypass"])
}

func TestSPRDEngineCapabilities(t *testing.T) {
	e := New(Config{Serial: transport.SerialConfig{Port: "/dev/ttyUSB0"}}, nil)
	caps := e.Capabilities()
	assert.Equal(t, engine.VendorSPRD, caps.Vendor)
	assert.False(t, caps.SupportsSuperMeta)
}
