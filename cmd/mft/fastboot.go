package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/google/gousb"
	"github.com/google/subcommands"

	"mft/internal/engine/adbfb"
	"mft/internal/mftio"
	"mft/internal/transport"
)

type fastbootCmd struct{}

func (*fastbootCmd) Name() string     { return "fastboot" }
func (*fastbootCmd) Synopsis() string { return "talk to a device in fastboot mode" }
func (*fastbootCmd) Usage() string {
	return `Usage: fastboot getvar <name>|flash <part> <img>|erase <part>|reboot <target>|set-active a|b|create-lp <name> <size>|resize-lp <name> <size>|delete-lp <name>
`
}
func (*fastbootCmd) SetFlags(f *flag.FlagSet) {}

func (c *fastbootCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return exitUsage
	}
	log := logFromContext(ctx)

	cfg := transport.USBConfig{VID: gousb.ID(0x18D1), PID: gousb.ID(0x4EE0),
		ConfigNum: defaultConfigNum, InterfaceNum: defaultInterfaceNum, AltSetting: defaultAltSetting,
		EndpointOutAddr: defaultEPOut, EndpointInAddr: defaultEPIn}
	eng := adbfb.NewFastbootEngine(cfg, log)
	if err := eng.Connect(ctx); err != nil {
		return reportErr(err)
	}
	defer eng.Close()
	fb := eng.Session()

	switch args[0] {
	case "getvar":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "fastboot getvar: <name>")
			return exitUsage
		}
		v, err := fb.GetVar(ctx, args[1])
		if err != nil {
			return reportErr(err)
		}
		fmt.Println(v)
		return exitOK

	case "flash":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "fastboot flash: <part> <img>")
			return exitUsage
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return reportErr(mftio.Wrap(mftio.KindImageInvalid, "fastboot flash", err))
		}
		if err := fb.Download(ctx, data); err != nil {
			return reportErr(err)
		}
		if err := fb.Flash(ctx, args[1]); err != nil {
			return reportErr(err)
		}
		return exitOK

	case "erase":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "fastboot erase: <part>")
			return exitUsage
		}
		if err := fb.Erase(ctx, args[1]); err != nil {
			return reportErr(err)
		}
		return exitOK

	case "reboot":
		target := ""
		if len(args) > 1 {
			target = args[1]
		}
		if err := fb.Reboot(ctx, target); err != nil {
			return reportErr(err)
		}
		return exitOK

	case "set-active":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "fastboot set-active: a|b")
			return exitUsage
		}
		if err := fb.SetActive(ctx, args[1]); err != nil {
			return reportErr(err)
		}
		return exitOK

	case "create-lp":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "fastboot create-lp: <name> <size>")
			return exitUsage
		}
		size, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return exitUsage
		}
		if err := fb.CreateLogicalPartition(ctx, args[1], size); err != nil {
			return reportErr(err)
		}
		return exitOK

	case "resize-lp":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "fastboot resize-lp: <name> <size>")
			return exitUsage
		}
		size, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return exitUsage
		}
		if err := fb.ResizeLogicalPartition(ctx, args[1], size); err != nil {
			return reportErr(err)
		}
		return exitOK

	case "delete-lp":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "fastboot delete-lp: <name>")
			return exitUsage
		}
		if err := fb.DeleteLogicalPartition(ctx, args[1]); err != nil {
			return reportErr(err)
		}
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "fastboot: unknown subcommand %q\n", args[0])
		return exitUsage
	}
}
