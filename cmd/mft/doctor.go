package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"mft/internal/watcher"
)

type doctorCmd struct{}

func (*doctorCmd) Name() string     { return "doctor" }
func (*doctorCmd) Synopsis() string { return "report attached devices and their classification" }
func (*doctorCmd) Usage() string    { return "Usage: doctor\n" }
func (*doctorCmd) SetFlags(f *flag.FlagSet) {}

func (c *doctorCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	log := logFromContext(ctx)
	w := watcher.New(log)
	snap := w.Snapshot()

	if len(snap) == 0 {
		fmt.Println("no classified devices attached")
		return exitOK
	}
	for key, kind := range snap {
		fmt.Printf("%-16s vid=%s pid=%s port=%s\n", kind, key.VID, key.PID, key.Port)
	}
	return exitOK
}
