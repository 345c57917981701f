// Package transport implements the USB-bulk and serial transport variants
// of spec.md §4.1: open/write/read_exact/close with deadlines and
// idempotent, cancel-safe close. Grounded on the teacher's
// internal/driver/device/usb_device.go open/claim/release/Close lifecycle.
package transport

import (
	"context"
	"time"

	"mft/internal/mftio"
)

// Transport is the capability every engine drives commands over. Exactly
// one engine owns a Transport for the lifetime of a session (spec.md §5).
type Transport interface {
	// Write sends bytes, blocking until deadline. It never short-writes
	// without returning an error.
	Write(ctx context.Context, data []byte, deadline time.Duration) (int, error)

	// ReadExact reads exactly n bytes, blocking until deadline.
	ReadExact(ctx context.Context, n int, deadline time.Duration) ([]byte, error)

	// Close is idempotent; any outstanding I/O is aborted before it
	// returns.
	Close() error

	// Address identifies the underlying port/device for logging.
	Address() string
}

// DefaultDeadline is used when a caller doesn't specify a per-command
// deadline (spec.md §5: "every transport read has a per-call deadline
// (default 5 s, ...)").
const DefaultDeadline = 5 * time.Second

// deadlineCtx derives a context bound by both the caller's ctx and a
// deadline duration, so cancellation and timeout share one suspension
// point as spec.md §5 requires.
func deadlineCtx(ctx context.Context, deadline time.Duration) (context.Context, context.CancelFunc) {
	if deadline <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, deadline)
}

func classifyCtxErr(op string, err error) error {
	switch err {
	case context.DeadlineExceeded:
		return mftio.New(mftio.KindTimeout, op, "deadline exceeded")
	case context.Canceled:
		return mftio.New(mftio.KindCancelled, op, "context cancelled")
	default:
		return mftio.Wrap(mftio.KindIo, op, err)
	}
}
