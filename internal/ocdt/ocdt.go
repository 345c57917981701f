// Package ocdt is the proprietary configuration-partition plug-point
// spec.md §6 describes: core treats the absence of a real implementation
// as "feature disabled" and every call returns NotImplemented.
package ocdt

import (
	"context"

	"mft/internal/mftio"
	"mft/internal/partition"
)

// RepairResult reports what a repair_ocdt call did.
type RepairResult struct {
	PartitionsTouched []string
	ProjectID         string
	Detail            string
}

// Provider is the capability every OCDT implementation exposes. Core code
// only ever holds a Provider behind this interface and never assumes one
// is registered.
type Provider interface {
	// BackupOCDT extracts a vendor configuration blob from the given
	// partitions, or reports NotImplemented.
	BackupOCDT(ctx context.Context, partitions []partition.Entry) ([]byte, error)

	// RepairOCDT regenerates/repairs configuration partitions, optionally
	// scoped to a vendor project ID.
	RepairOCDT(ctx context.Context, partitions []partition.Entry, projectID string) (RepairResult, error)
}

// none is the default Provider: every call is NotImplemented, matching
// spec.md's "core treats the absence of an implementation as feature
// disabled" rule.
type none struct{}

// Default is the plug-point's out-of-the-box Provider.
var Default Provider = none{}

func (none) BackupOCDT(ctx context.Context, partitions []partition.Entry) ([]byte, error) {
	return nil, mftio.New(mftio.KindNotImplemented, "ocdt.BackupOCDT", "no OCDT provider registered")
}

func (none) RepairOCDT(ctx context.Context, partitions []partition.Entry, projectID string) (RepairResult, error) {
	return RepairResult{}, mftio.New(mftio.KindNotImplemented, "ocdt.RepairOCDT", "no OCDT provider registered")
}
