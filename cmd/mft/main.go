// Command mft is the multi-vendor mobile-device flashing core's CLI
// front-end, grounded on the teacher's cmd/cli subcommand-dispatch style
// and generalized to github.com/google/subcommands (already used across
// the retrieval pack for exactly this kind of verb-per-command tool).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"mft/internal/config"
	"mft/internal/logevent"
)

// exitCode mirrors spec.md §6's table; each subcommand returns one of
// these as its subcommands.ExitStatus.
const (
	exitOK              = 0
	exitUsage           = 2
	exitDeviceNotFound  = 10
	exitAuthFailed      = 11
	exitProtocolReject  = 12
	exitIOTimeout       = 13
	exitImageInvalid    = 14
	exitCancelled       = 15
	exitPartialFailure  = 20
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&flashCmd{}, "")
	subcommands.Register(&adbCmd{}, "")
	subcommands.Register(&fastbootCmd{}, "")
	subcommands.Register(&watchCmd{}, "")
	subcommands.Register(&doctorCmd{}, "")

	flag.Parse()

	cfg := config.Load()
	log := logevent.NewRing()
	log.Infof(logevent.CategoryOrchestrator, "loader cache dir: %s", cfg.LoaderCacheDir)

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		cancel()
	}()

	ctx = withLog(ctx, log)
	os.Exit(int(subcommands.Execute(ctx)))
}

type logKey struct{}

func withLog(ctx context.Context, log *logevent.Ring) context.Context {
	return context.WithValue(ctx, logKey{}, log)
}

func logFromContext(ctx context.Context) *logevent.Ring {
	l, _ := ctx.Value(logKey{}).(*logevent.Ring)
	return l
}
