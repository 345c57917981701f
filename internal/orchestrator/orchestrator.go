// Package orchestrator drives the flash session state machine of spec.md
// §4.10: Disconnected → Connecting → Authenticating → Identifying →
// Planning → Executing → Rebooting → Done, with a Faulted sink reachable
// from any state and a user-triggered retry back to Connecting. Grounded
// on the teacher's Orchestrator type in cmd/driver/hasher-host/main.go,
// generalized from an inference-request dispatcher to a step executor.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"mft/internal/engine"
	"mft/internal/logevent"
	"mft/internal/mftio"
)

// State is one node of the flash session state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateIdentifying
	StatePlanning
	StateExecuting
	StateRebooting
	StateDone
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateIdentifying:
		return "identifying"
	case StatePlanning:
		return "planning"
	case StateExecuting:
		return "executing"
	case StateRebooting:
		return "rebooting"
	case StateDone:
		return "done"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// StepResult records the outcome of one executed FlashStep.
type StepResult struct {
	Entry    string
	Op       StepOp
	Skipped  bool
	Err      error
}

// Report is the final session summary, surfaced over the gin status API
// and the CLI's exit-code mapping.
type Report struct {
	State        State
	Device       engine.DeviceInfo
	Steps        []StepResult
	FaultReason  string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Policy controls per-step failure handling.
type Policy struct {
	// SkipProtected lets a protected-and-protect-toggled step be skipped
	// with an INFO log instead of aborting the whole plan.
	SkipProtected bool
	// RebootMode is passed to Engine.Reboot once execution completes.
	RebootMode string
}

// Session drives exactly one engine through the state machine. It owns no
// concurrency beyond the single goroutine that calls Run: per spec.md §5,
// each session serialises all commands on its own transport.
type Session struct {
	eng    engine.Engine
	log    *logevent.Ring
	policy Policy

	mu       sync.Mutex
	state    State
	progress engine.Progress
	device   engine.DeviceInfo

	cancel context.CancelFunc
}

// New constructs a Session bound to an already-detected engine.
func New(eng engine.Engine, log *logevent.Ring, policy Policy) *Session {
	return &Session{eng: eng, log: log, policy: policy, state: StateDisconnected}
}

// State returns the session's current state (safe for concurrent reads
// from the status HTTP surface while Run is in progress).
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the most recent progress tick.
func (s *Session) Progress() engine.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Device returns the identity captured at the Identifying step.
func (s *Session) Device() engine.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.log != nil {
		s.log.Infof(logevent.CategoryOrchestrator, "state -> %s", st)
	}
}

// Cancel fires the cancellation token passed to Run, observed at every
// transport suspension point per spec.md §5.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the full state machine against plan, returning the final
// Report. A non-nil error on return always corresponds to StateFaulted.
func (s *Session) Run(ctx context.Context, plan FlashPlan) (Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	report := Report{StartedAt: time.Now()}

	fault := func(reason string, err error) (Report, error) {
		s.setState(StateFaulted)
		report.State = StateFaulted
		report.FaultReason = reason
		report.FinishedAt = time.Now()
		if s.log != nil {
			s.log.Errorf(logevent.CategoryOrchestrator, "faulted: %s: %v", reason, err)
		}
		return report, err
	}

	s.setState(StateConnecting)
	if err := s.eng.Connect(ctx); err != nil {
		return fault("connect", err)
	}

	// Authenticating is folded into Connect for engines whose handshake
	// includes auth (Sahara/SLA/CNXN-AUTH); it is still a distinct,
	// observable state for the status surface.
	s.setState(StateAuthenticating)
	if err := ctx.Err(); err != nil {
		return fault("authenticating", mftio.New(mftio.KindCancelled, "orchestrator.Run", "cancelled"))
	}

	s.setState(StateIdentifying)
	info, err := s.eng.Identify(ctx)
	if err != nil {
		return fault("identify", err)
	}
	s.mu.Lock()
	s.device = info
	s.mu.Unlock()
	report.Device = info

	s.setState(StatePlanning)
	if len(plan.Steps) == 0 {
		return fault("planning", mftio.New(mftio.KindInternal, "orchestrator.Run", "empty plan"))
	}

	s.setState(StateExecuting)
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return fault("cancelled", mftio.New(mftio.KindCancelled, "orchestrator.Run", "cancelled before step "+step.Entry.Name))
		}

		result := StepResult{Entry: step.Entry.Name, Op: step.Op}

		if step.Protected {
			if s.policy.SkipProtected {
				result.Skipped = true
				if s.log != nil {
					s.log.Infof(logevent.CategoryOrchestrator, "skipping protected partition %s", step.Entry.Name)
				}
				report.Steps = append(report.Steps, result)
				continue
			}
			result.Err = mftio.New(mftio.KindPartitionProtected, "orchestrator.Run", step.Entry.Name)
			report.Steps = append(report.Steps, result)
			return fault("protected-partition", result.Err)
		}

		progress := func(p engine.Progress) {
			s.mu.Lock()
			s.progress = p
			s.mu.Unlock()
		}

		var stepErr error
		switch step.Op {
		case OpWrite:
			stepErr = s.eng.WritePartition(ctx, step.Entry, progress)
		case OpErase:
			stepErr = s.eng.Erase(ctx, step.Entry)
		}

		if stepErr != nil {
			result.Err = stepErr
			report.Steps = append(report.Steps, result)
			if mftio.IsKind(stepErr, mftio.KindDeviceLost) {
				return fault("device-lost", stepErr)
			}
			return fault("step "+itoa(i)+": "+step.Entry.Name, stepErr)
		}
		report.Steps = append(report.Steps, result)
	}

	s.setState(StateRebooting)
	if err := s.eng.Reboot(ctx, s.policy.RebootMode); err != nil {
		return fault("reboot", err)
	}

	s.setState(StateDone)
	report.State = StateDone
	report.FinishedAt = time.Now()
	return report, nil
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
