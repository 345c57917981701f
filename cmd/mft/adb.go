package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/gousb"
	"github.com/google/subcommands"

	"mft/internal/engine/adbfb"
	"mft/internal/mftio"
	"mft/internal/transport"
	"mft/internal/watcher"
)

type adbCmd struct{}

func (*adbCmd) Name() string     { return "adb" }
func (*adbCmd) Synopsis() string { return "talk to a device over ADB" }
func (*adbCmd) Usage() string {
	return `Usage: adb devices|shell <cmd>|push <local> <remote>|pull <remote> <local>|install <apk>|reboot <target>
`
}
func (*adbCmd) SetFlags(f *flag.FlagSet) {}

func (c *adbCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return exitUsage
	}
	log := logFromContext(ctx)

	if args[0] == "devices" {
		w := watcher.New(log)
		snap := w.Snapshot()
		for key, kind := range snap {
			if kind == watcher.KindADB {
				fmt.Printf("%s\t%s\n", key.Port, kind)
			}
		}
		return exitOK
	}

	eng := adbfb.NewAdbEngine(adbUSBConfig(), nil, log)
	if err := eng.Connect(ctx); err != nil {
		return reportErr(err)
	}
	defer eng.Close()

	switch args[0] {
	case "shell":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "adb shell: missing command")
			return exitUsage
		}
		out, err := eng.Shell(ctx, args[1])
		if err != nil {
			return reportErr(err)
		}
		os.Stdout.Write(out)
		return exitOK

	case "push":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "adb push: <local> <remote>")
			return exitUsage
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return reportErr(mftio.Wrap(mftio.KindImageInvalid, "adb push", err))
		}
		sess := eng.Session()
		sync, err := adbfb.OpenSync(ctx, sess)
		if err != nil {
			return reportErr(err)
		}
		defer sync.Close(ctx)
		if err := sync.Push(ctx, args[2], 0o644, data, time.Now()); err != nil {
			return reportErr(err)
		}
		return exitOK

	case "pull":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "adb pull: <remote> <local>")
			return exitUsage
		}
		sess := eng.Session()
		sync, err := adbfb.OpenSync(ctx, sess)
		if err != nil {
			return reportErr(err)
		}
		defer sync.Close(ctx)
		data, err := sync.Pull(ctx, args[1])
		if err != nil {
			return reportErr(err)
		}
		if err := os.WriteFile(args[2], data, 0o644); err != nil {
			return reportErr(mftio.Wrap(mftio.KindIo, "adb pull", err))
		}
		return exitOK

	case "install":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "adb install: <apk>")
			return exitUsage
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return reportErr(mftio.Wrap(mftio.KindImageInvalid, "adb install", err))
		}
		sess := eng.Session()
		sync, err := adbfb.OpenSync(ctx, sess)
		if err != nil {
			return reportErr(err)
		}
		remote := "/data/local/tmp/mft-install.apk"
		if err := sync.Push(ctx, remote, 0o644, data, time.Now()); err != nil {
			sync.Close(ctx)
			return reportErr(err)
		}
		sync.Close(ctx)
		if _, err := eng.Shell(ctx, "pm install -r "+remote); err != nil {
			return reportErr(err)
		}
		return exitOK

	case "reboot":
		target := ""
		if len(args) > 1 {
			target = args[1]
		}
		if err := eng.Reboot(ctx, target); err != nil {
			return reportErr(err)
		}
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "adb: unknown subcommand %q\n", args[0])
		return exitUsage
	}
}

func adbUSBConfig() transport.USBConfig {
	return transport.USBConfig{VID: gousb.ID(0x18D1), PID: gousb.ID(0x4EE7),
		ConfigNum: defaultConfigNum, InterfaceNum: defaultInterfaceNum, AltSetting: defaultAltSetting,
		EndpointOutAddr: defaultEPOut, EndpointInAddr: defaultEPIn}
}
