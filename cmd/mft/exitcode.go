package main

import (
	"errors"

	"github.com/google/subcommands"

	"mft/internal/mftio"
)

// exitFor maps a returned error onto spec.md §6's exit-code table.
func exitFor(err error) subcommands.ExitStatus {
	if err == nil {
		return exitOK
	}
	var mErr *mftio.Error
	if !errors.As(err, &mErr) {
		return subcommands.ExitFailure
	}
	switch mErr.Kind {
	case mftio.KindNotFound, mftio.KindDeviceLost:
		return exitDeviceNotFound
	case mftio.KindAuthFailed:
		return exitAuthFailed
	case mftio.KindProtocolReject:
		return exitProtocolReject
	case mftio.KindTimeout:
		return exitIOTimeout
	case mftio.KindImageInvalid:
		return exitImageInvalid
	case mftio.KindCancelled:
		return exitCancelled
	default:
		return subcommands.ExitFailure
	}
}
