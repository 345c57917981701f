// Plan construction: turns a selected partition list into an ordered
// FlashPlan of steps, per spec.md §4.10 ("orchestrator consumes a
// FlashPlan from partition plan + image pipeline").
package orchestrator

import (
	"os"

	"mft/internal/mftio"
	"mft/internal/partition"
)

// StepOp is the action a FlashStep performs.
type StepOp string

const (
	OpWrite StepOp = "write"
	OpErase StepOp = "erase"
)

// FlashStep is one unit of work the executor drives through the engine.
type FlashStep struct {
	Entry      partition.Entry
	Op         StepOp
	ImageSize  int64 // 0 for erase
	Protected  bool
}

// FlashPlan is the ordered, sized work list Execute drives.
type FlashPlan struct {
	Steps      []FlashStep
	TotalBytes int64
}

// BuildPlan converts the selected entries into a FlashPlan. Unselected
// entries are dropped. When protect is true, protected entries become
// steps marked Protected with no image sizing, which Session.Run skips or
// refuses according to its Policy; when protect is false they're written
// like any other entry. eraseOnly marks every selected entry as an erase
// step instead of write; the CLI's flash verbs always pass false.
func BuildPlan(entries []partition.Entry, protect bool, eraseOnly bool) (FlashPlan, error) {
	const op = "orchestrator.BuildPlan"
	var plan FlashPlan

	for _, e := range entries {
		if !e.IsSelected {
			continue
		}
		protected := e.IsProtected && protect
		step := FlashStep{Entry: e, Protected: protected}

		if eraseOnly {
			step.Op = OpErase
			plan.Steps = append(plan.Steps, step)
			continue
		}

		step.Op = OpWrite
		if !protected {
			path := e.EffectiveImagePath()
			if path == "" {
				return FlashPlan{}, mftio.New(mftio.KindImageInvalid, op, "entry "+e.Name+" has no image path")
			}
			info, err := os.Stat(path)
			if err != nil {
				return FlashPlan{}, mftio.Wrap(mftio.KindImageInvalid, op, err)
			}
			step.ImageSize = info.Size()
			plan.TotalBytes += step.ImageSize
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}
