package main

import (
	"errors"
	"testing"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"

	"mft/internal/mftio"
)

func TestExitForNil(t *testing.T) {
	assert.Equal(t, subcommands.ExitStatus(exitOK), exitFor(nil))
}

func TestExitForUnknownErrorIsGenericFailure(t *testing.T) {
	assert.Equal(t, subcommands.ExitFailure, exitFor(errors.New("boom")))
}

func TestExitForMapsKnownKinds(t *testing.T) {
	cases := []struct {
		kind mftio.Kind
		want subcommands.ExitStatus
	}{
		{mftio.KindNotFound, subcommands.ExitStatus(exitDeviceNotFound)},
		{mftio.KindDeviceLost, subcommands.ExitStatus(exitDeviceNotFound)},
		{mftio.KindAuthFailed, subcommands.ExitStatus(exitAuthFailed)},
		{mftio.KindProtocolReject, subcommands.ExitStatus(exitProtocolReject)},
		{mftio.KindTimeout, subcommands.ExitStatus(exitIOTimeout)},
		{mftio.KindImageInvalid, subcommands.ExitStatus(exitImageInvalid)},
		{mftio.KindCancelled, subcommands.ExitStatus(exitCancelled)},
		{mftio.KindInternal, subcommands.ExitFailure},
	}
	for _, c := range cases {
		err := mftio.New(c.kind, "test", "detail")
		assert.Equal(t, c.want, exitFor(err), "kind %s", c.kind)
	}
}
