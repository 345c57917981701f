package chipprofile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/engine/mtk"
	"mft/internal/mftio"
)

func TestLookupBuiltin(t *testing.T) {
	p, ok := Lookup(0x0766)
	require.True(t, ok)
	assert.Equal(t, "MT6765", p.Name)
	assert.Equal(t, mtk.DAModeXFlash, p.DAMode)
}

func TestLookupUnknown(t *testing.T) {
	_, ok := Lookup(0xFFFF)
	assert.False(t, ok)
}

func TestSupportsExploit(t *testing.T) {
	p, ok := Lookup(0x0766)
	require.True(t, ok)
	assert.True(t, p.SupportsExploit(ExploitKamakiri))
	assert.False(t, p.SupportsExploit(ExploitGcpu))

	noExploit, ok := Lookup(0x0816)
	require.True(t, ok)
	assert.False(t, noExploit.SupportsExploit(ExploitKamakiri))
}

func TestRegisterProfileOverridesLookup(t *testing.T) {
	const testHWCode = 0x7E57 // reserved for this test, never a real catalogue entry
	RegisterProfile(Profile{HWCode: testHWCode, Name: "TEST_CHIP", DAMode: mtk.DAModeXML6})

	p, ok := Lookup(testHWCode)
	require.True(t, ok)
	assert.Equal(t, "TEST_CHIP", p.Name)

	found := false
	for _, all := range All() {
		if all.HWCode == testHWCode {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAllIncludesBuiltins(t *testing.T) {
	all := All()
	names := make(map[string]bool, len(all))
	for _, p := range all {
		names[p.Name] = true
	}
	assert.True(t, names["MT6765"])
	assert.True(t, names["MT6779"])
}

func TestDefaultExploiterReportsNotSupported(t *testing.T) {
	p, ok := Lookup(0x0766)
	require.True(t, ok)

	result, err := DefaultExploiter.TryUnlock(context.Background(), nil, p, ExploitKamakiri)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindNotImplemented))
	assert.Equal(t, NotSupported, result)
}

type stubExploiter struct{}

func (stubExploiter) TryUnlock(ctx context.Context, session *mtk.BromSession, p Profile, k ExploitKind) (ExploitResult, error) {
	return Unlocked, nil
}

func TestRegisterExploiterReplacesDefault(t *testing.T) {
	orig := DefaultExploiter
	defer func() { DefaultExploiter = orig }()

	RegisterExploiter(stubExploiter{})

	p, ok := Lookup(0x0766)
	require.True(t, ok)
	result, err := DefaultExploiter.TryUnlock(context.Background(), nil, p, ExploitKamakiri)
	require.NoError(t, err)
	assert.Equal(t, Unlocked, result)
}
