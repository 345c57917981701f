package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/gousb"
	"github.com/google/subcommands"

	"mft/internal/chipprofile"
	"mft/internal/engine"
	"mft/internal/engine/edl"
	"mft/internal/engine/mtk"
	"mft/internal/engine/sprd"
	"mft/internal/framing/pac"
	"mft/internal/logevent"
	"mft/internal/mftio"
	"mft/internal/orchestrator"
	"mft/internal/partition"
	"mft/internal/transport"
)

// defaultBulkEndpoints are the conventional bulk in/out endpoint addresses
// for EDL/BROM-class USB composite devices; a real deployment would read
// these from the device's interface descriptor, but the engines only need
// one pair and every known EDL/BROM image exposes 0x01/0x81.
const (
	defaultConfigNum    = 1
	defaultInterfaceNum = 0
	defaultAltSetting   = 0
	defaultEPOut        = 0x01
	defaultEPIn         = 0x81
)

type flashCmd struct{}

func (*flashCmd) Name() string     { return "flash" }
func (*flashCmd) Synopsis() string { return "flash a device over EDL, MTK BROM/DA, or SPRD BSL" }
func (*flashCmd) Usage() string {
	return `Usage: flash <qcom|mtk|sprd> [flags]

  flash qcom --xml <dir> [--loader <path>] [--storage emmc|ufs] [--protect] [--select <csv|all|unprotected>] [--dry-run]
             (no authentication-strategy option: the loader is sent as given)
  flash mtk  --scatter <path> [--da <path>] [--da-addr <hex>] [--protect] [--select ...] [--dry-run]
  flash sprd --pac <path> [--keep-nv] [--rsa-bypass] [--select ...] [--dry-run]
`
}

func (*flashCmd) SetFlags(f *flag.FlagSet) {}

func (c *flashCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return exitUsage
	}
	vendor, rest := args[0], args[1:]

	log := logFromContext(ctx)

	switch vendor {
	case "qcom":
		return c.runQcom(ctx, log, rest)
	case "mtk":
		return c.runMTK(ctx, log, rest)
	case "sprd":
		return c.runSPRD(ctx, log, rest)
	default:
		fmt.Fprintf(os.Stderr, "flash: unknown vendor %q\n", vendor)
		return exitUsage
	}
}

func (c *flashCmd) runQcom(ctx context.Context, log *logevent.Ring, args []string) subcommands.ExitStatus {
	fs := flag.NewFlagSet("flash qcom", flag.ContinueOnError)
	xmlDir := fs.String("xml", "", "directory containing rawprogram*.xml/patch*.xml and images")
	loaderPath := fs.String("loader", "", "path to a Firehose programmer image")
	storage := fs.String("storage", "ufs", "emmc|ufs")
	protect := fs.Bool("protect", true, "skip protected partitions; false writes them like any other")
	selector := fs.String("select", "all", "csv of names, all, or unprotected")
	dryRun := fs.Bool("dry-run", false, "parse and print the plan without flashing")
	preferSavePersist := fs.Bool("prefer-save-persist", false, "prefer rawprogram_save_persist_unsparse*.xml over the standard unsparse variant")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *xmlDir == "" {
		fmt.Fprintln(os.Stderr, "flash qcom: --xml is required")
		return exitUsage
	}

	rawFiles, err := partition.DiscoverRawprogramFiles(*xmlDir, *preferSavePersist)
	if err != nil {
		return reportErr(err)
	}
	var entries []partition.Entry
	for _, path := range rawFiles {
		f, err := os.Open(path)
		if err != nil {
			return reportErr(mftio.Wrap(mftio.KindImageInvalid, "flash qcom", err))
		}
		parsed, err := partition.ParseRawprogram(f, *xmlDir)
		f.Close()
		if err != nil {
			return reportErr(err)
		}
		entries = append(entries, parsed...)
	}
	entries = partition.Dedupe(entries)
	entries = partition.Select(entries, *selector)

	var patches []partition.PatchRow
	if patchFiles, err := partition.DiscoverPatchFiles(*xmlDir); err == nil {
		for _, path := range patchFiles {
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			rows, err := partition.ParsePatch(f)
			f.Close()
			if err == nil {
				patches = append(patches, rows...)
			}
		}
	}
	_ = patches // applied by the Firehose session itself once connected

	plan, err := orchestrator.BuildPlan(entries, *protect, false)
	if err != nil {
		return reportErr(err)
	}
	if *dryRun {
		printPlan(plan, *storage)
		return exitOK
	}

	var loaderBytes []byte
	if *loaderPath != "" {
		loaderBytes, err = os.ReadFile(*loaderPath)
		if err != nil {
			return reportErr(mftio.Wrap(mftio.KindImageInvalid, "flash qcom", err))
		}
	}

	cfg := edlUSBConfig()
	eng := edl.New(cfg, loaderBytes, log)
	return runPlan(ctx, eng, log, plan, "")
}

func edlUSBConfig() transport.USBConfig {
	return transport.USBConfig{VID: gousb.ID(0x05C6), PID: gousb.ID(0x9008),
		ConfigNum: defaultConfigNum, InterfaceNum: defaultInterfaceNum, AltSetting: defaultAltSetting,
		EndpointOutAddr: defaultEPOut, EndpointInAddr: defaultEPIn}
}

func (c *flashCmd) runMTK(ctx context.Context, log *logevent.Ring, args []string) subcommands.ExitStatus {
	fs := flag.NewFlagSet("flash mtk", flag.ContinueOnError)
	scatterPath := fs.String("scatter", "", "scatter file (.txt v3 or .xml v6)")
	daPath := fs.String("da", "", "Download Agent payload")
	daAddr := fs.Uint64("da-addr", 0x40000000, "DA load address")
	hwCode := fs.Uint64("hw-code", 0, "hw_code for chip profile lookup (overrides --da-addr)")
	protect := fs.Bool("protect", true, "skip protected partitions; false writes them like any other")
	selector := fs.String("select", "all", "csv of names, all, or unprotected")
	dryRun := fs.Bool("dry-run", false, "parse and print the plan without flashing")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *scatterPath == "" {
		fmt.Fprintln(os.Stderr, "flash mtk: --scatter is required")
		return exitUsage
	}

	firmwareDir := dirOf(*scatterPath)
	f, err := os.Open(*scatterPath)
	if err != nil {
		return reportErr(mftio.Wrap(mftio.KindImageInvalid, "flash mtk", err))
	}
	defer f.Close()

	br := bufio.NewReader(f)
	isXML, err := partition.DetectScatterFormat(br)
	if err != nil {
		return reportErr(err)
	}
	var entries []partition.Entry
	if isXML {
		entries, _, err = partition.ParseScatterXML(br, firmwareDir)
	} else {
		entries, _, err = partition.ParseScatterTXT(br, firmwareDir)
	}
	if err != nil {
		return reportErr(err)
	}
	entries = partition.Select(entries, *selector)

	plan, err := orchestrator.BuildPlan(entries, *protect, false)
	if err != nil {
		return reportErr(err)
	}
	if *dryRun {
		printPlan(plan, "emmc")
		return exitOK
	}

	mode := mtk.DAModeXFlash
	addr := uint32(*daAddr)
	if *hwCode != 0 {
		if p, ok := chipprofile.Lookup(uint16(*hwCode)); ok {
			mode = p.DAMode
			addr = p.DAPayloadAddr
		}
	}

	var daBytes []byte
	if *daPath != "" {
		daBytes, err = os.ReadFile(*daPath)
		if err != nil {
			return reportErr(mftio.Wrap(mftio.KindImageInvalid, "flash mtk", err))
		}
	}

	cfg := transport.USBConfig{VID: gousb.ID(0x0E8D), PID: gousb.ID(0x0003),
		ConfigNum: defaultConfigNum, InterfaceNum: defaultInterfaceNum, AltSetting: defaultAltSetting,
		EndpointOutAddr: defaultEPOut, EndpointInAddr: defaultEPIn}
	eng := mtk.New(cfg, daBytes, addr, mode, nil, log)
	return runPlan(ctx, eng, log, plan, "")
}

func (c *flashCmd) runSPRD(ctx context.Context, log *logevent.Ring, args []string) subcommands.ExitStatus {
	fs := flag.NewFlagSet("flash sprd", flag.ContinueOnError)
	pacPath := fs.String("pac", "", "Unisoc .pac container")
	port := fs.String("port", "", "serial port (e.g. /dev/ttyUSB0); empty autodetects")
	keepNV := fs.Bool("keep-nv", true, "skip nv*/runtime* partitions")
	rsaBypass := fs.Bool("rsa-bypass", false, "mark the session RSA-bypass (reported by Identify; FDL signatures are never verified)")
	selector := fs.String("select", "all", "csv of names, all, or unprotected")
	dryRun := fs.Bool("dry-run", false, "parse and print the plan without flashing")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *pacPath == "" {
		fmt.Fprintln(os.Stderr, "flash sprd: --pac is required")
		return exitUsage
	}

	data, err := os.ReadFile(*pacPath)
	if err != nil {
		return reportErr(mftio.Wrap(mftio.KindImageInvalid, "flash sprd", err))
	}
	pacFile, err := pac.Parse(data)
	if err != nil {
		return reportErr(mftio.Wrap(mftio.KindImageInvalid, "flash sprd", err))
	}

	entries := partition.FromPAC(pacFile)
	entries = partition.Select(entries, *selector)

	// Unisoc partition images live inside the .pac container rather than
	// as standalone files; materialize each selected entry to a temp file
	// so WritePartition's os.ReadFile(EffectiveImagePath) path works the
	// same way it does for the qcom/mtk on-disk layouts.
	tmpDir, err := os.MkdirTemp("", "mft-sprd-*")
	if err != nil {
		return reportErr(mftio.Wrap(mftio.KindIo, "flash sprd", err))
	}
	defer os.RemoveAll(tmpDir)
	for i, e := range entries {
		if !e.IsSelected {
			continue
		}
		for _, pe := range pacFile.Entries {
			if pe.Name == e.Name {
				blob, err := pacFile.Data(data, pe)
				if err != nil {
					return reportErr(mftio.Wrap(mftio.KindImageInvalid, "flash sprd", err))
				}
				path := tmpDir + "/" + e.Name + ".bin"
				if err := os.WriteFile(path, blob, 0o644); err != nil {
					return reportErr(mftio.Wrap(mftio.KindIo, "flash sprd", err))
				}
				entries[i].SourceImagePath = path
				break
			}
		}
	}

	plan, err := orchestrator.BuildPlan(entries, true, false)
	if err != nil {
		return reportErr(err)
	}
	if *dryRun {
		printPlan(plan, "emmc")
		return exitOK
	}

	fdl1, fdl2 := partition.FDLEntries(pacFile)
	var fdl1Bytes, fdl2Bytes []byte
	var fdl1Addr, fdl2Addr uint32 = 0x40004000, 0x9efe0000
	if fdl1 != nil {
		fdl1Bytes, _ = pacFile.Data(data, *fdl1)
	}
	if fdl2 != nil {
		fdl2Bytes, _ = pacFile.Data(data, *fdl2)
	}

	cfg := sprd.Config{
		Serial:    transport.SerialConfig{Port: *port, BaudRate: 115200},
		FDL1:      fdl1Bytes, FDL2: fdl2Bytes,
		FDL1Addr: fdl1Addr, FDL2Addr: fdl2Addr,
		RSABypass: *rsaBypass, KeepNV: *keepNV,
	}
	eng := sprd.New(cfg, log)
	return runPlan(ctx, eng, log, plan, "")
}

func runPlan(ctx context.Context, eng engine.Engine, log *logevent.Ring, plan orchestrator.FlashPlan, rebootMode string) subcommands.ExitStatus {
	sess := orchestrator.New(eng, log, orchestrator.Policy{SkipProtected: true, RebootMode: rebootMode})
	report, err := sess.Run(ctx, plan)
	anySkipped := false
	for _, s := range report.Steps {
		if s.Skipped {
			anySkipped = true
		}
	}
	if err != nil {
		return exitFor(err)
	}
	if anySkipped {
		return exitPartialFailure
	}
	return exitOK
}

func printPlan(plan orchestrator.FlashPlan, storage string) {
	fmt.Printf("storage=%s steps=%d total_bytes=%d\n", storage, len(plan.Steps), plan.TotalBytes)
	for _, s := range plan.Steps {
		fmt.Printf("  %-8s %-24s protected=%v size=%d\n", s.Op, s.Entry.Name, s.Protected, s.ImageSize)
	}
}

func reportErr(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return exitFor(err)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
