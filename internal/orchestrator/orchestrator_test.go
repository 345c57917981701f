package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/engine"
	"mft/internal/logevent"
	"mft/internal/mftio"
	"mft/internal/partition"
)

// fakeEngine is a minimal engine.Engine stand-in driven entirely by
// pre-programmed errors, used to exercise Session.Run's state machine
// without any real transport.
type fakeEngine struct {
	connectErr  error
	identifyErr error
	identifyRes engine.DeviceInfo
	writeErr    error
	eraseErr    error
	rebootErr   error

	writeCalls int
	rebootMode string
}

func (f *fakeEngine) Name() string        { return "fake" }
func (f *fakeEngine) Vendor() engine.Vendor { return engine.VendorEDL }
func (f *fakeEngine) IsAvailable() bool   { return true }

func (f *fakeEngine) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeEngine) Identify(ctx context.Context) (engine.DeviceInfo, error) {
	return f.identifyRes, f.identifyErr
}

func (f *fakeEngine) ReadPartition(ctx context.Context, entry partition.Entry, numBytes int64, progress engine.ProgressFunc) ([]byte, error) {
	return nil, mftio.New(mftio.KindNotImplemented, "fakeEngine.ReadPartition", "unused")
}

func (f *fakeEngine) WritePartition(ctx context.Context, entry partition.Entry, progress engine.ProgressFunc) error {
	f.writeCalls++
	if progress != nil {
		progress(engine.Progress{Partition: entry.Name, Op: "write", Done: 1, Total: 1})
	}
	return f.writeErr
}

func (f *fakeEngine) Erase(ctx context.Context, entry partition.Entry) error {
	return f.eraseErr
}

func (f *fakeEngine) Reboot(ctx context.Context, mode string) error {
	f.rebootMode = mode
	return f.rebootErr
}

func (f *fakeEngine) Close() error { return nil }

func simplePlan() FlashPlan {
	return FlashPlan{
		Steps: []FlashStep{
			{Entry: partition.Entry{Name: "boot"}, Op: OpWrite, ImageSize: 10},
		},
		TotalBytes: 10,
	}
}

func TestSessionRunSucceeds(t *testing.T) {
	eng := &fakeEngine{identifyRes: engine.DeviceInfo{Vendor: engine.VendorEDL, ChipName: "sm8150"}}
	s := New(eng, logevent.NewRing(), Policy{RebootMode: "system"})

	report, err := s.Run(context.Background(), simplePlan())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, "sm8150", report.Device.ChipName)
	assert.Equal(t, 1, eng.writeCalls)
	assert.Equal(t, "system", eng.rebootMode)
	require.Len(t, report.Steps, 1)
	assert.False(t, report.Steps[0].Skipped)
	assert.NoError(t, report.Steps[0].Err)
}

func TestSessionRunConnectFailureFaults(t *testing.T) {
	connectErr := mftio.New(mftio.KindIo, "fakeEngine.Connect", "no device")
	eng := &fakeEngine{connectErr: connectErr}
	s := New(eng, logevent.NewRing(), Policy{})

	report, err := s.Run(context.Background(), simplePlan())
	require.Error(t, err)
	assert.Equal(t, StateFaulted, report.State)
	assert.Equal(t, "connect", report.FaultReason)
}

func TestSessionRunEmptyPlanFaults(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, logevent.NewRing(), Policy{})

	report, err := s.Run(context.Background(), FlashPlan{})
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindInternal))
	assert.Equal(t, StateFaulted, report.State)
}

func TestSessionRunProtectedStepAbortsByDefault(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, logevent.NewRing(), Policy{SkipProtected: false})

	plan := FlashPlan{Steps: []FlashStep{
		{Entry: partition.Entry{Name: "frp"}, Op: OpWrite, Protected: true},
	}}
	report, err := s.Run(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindPartitionProtected))
	assert.Equal(t, StateFaulted, report.State)
	assert.Equal(t, 0, eng.writeCalls)
}

func TestSessionRunProtectedStepSkippedWhenPolicyAllows(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, logevent.NewRing(), Policy{SkipProtected: true})

	plan := FlashPlan{Steps: []FlashStep{
		{Entry: partition.Entry{Name: "frp"}, Op: OpWrite, Protected: true},
		{Entry: partition.Entry{Name: "boot"}, Op: OpWrite, ImageSize: 10},
	}}
	report, err := s.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	require.Len(t, report.Steps, 2)
	assert.True(t, report.Steps[0].Skipped)
	assert.False(t, report.Steps[1].Skipped)
	assert.Equal(t, 1, eng.writeCalls)
}

func TestSessionRunDeviceLostIsFatalRegardlessOfPolicy(t *testing.T) {
	lostErr := mftio.New(mftio.KindDeviceLost, "fakeEngine.WritePartition", "unplugged")
	eng := &fakeEngine{writeErr: lostErr}
	s := New(eng, logevent.NewRing(), Policy{SkipProtected: true})

	report, err := s.Run(context.Background(), simplePlan())
	require.Error(t, err)
	assert.Equal(t, "device-lost", report.FaultReason)
	assert.True(t, mftio.IsKind(err, mftio.KindDeviceLost))
	require.Len(t, report.Steps, 1)
	assert.True(t, mftio.IsKind(report.Steps[0].Err, mftio.KindDeviceLost))
}

func TestSessionRunRebootFailureFaults(t *testing.T) {
	rebootErr := mftio.New(mftio.KindIo, "fakeEngine.Reboot", "no ack")
	eng := &fakeEngine{rebootErr: rebootErr}
	s := New(eng, logevent.NewRing(), Policy{})

	report, err := s.Run(context.Background(), simplePlan())
	require.Error(t, err)
	assert.Equal(t, "reboot", report.FaultReason)
	assert.Equal(t, StateFaulted, report.State)
}

func TestSessionRunCancelledBeforeExecuting(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, logevent.NewRing(), Policy{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.Run(ctx, simplePlan())
	require.Error(t, err)
	assert.True(t, mftio.IsKind(err, mftio.KindCancelled))
	assert.Equal(t, StateFaulted, report.State)
	assert.Equal(t, 0, eng.writeCalls)
}

func TestSessionCancelBeforeRunIsNoOp(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, logevent.NewRing(), Policy{})

	s.Cancel() // no-op before Run starts; must not panic

	report, err := s.Run(context.Background(), simplePlan())
	// Run completes normally since Cancel fired before cancel was wired up.
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
}

func TestSessionProgressReflectsLastTick(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, logevent.NewRing(), Policy{})

	_, err := s.Run(context.Background(), simplePlan())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Progress().Total)
	assert.Equal(t, "boot", s.Progress().Partition)
}
