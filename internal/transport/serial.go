// Serial port transport for MTK BROM/Preloader and SPRD BootROM/Diag,
// which enumerate as CDC-ACM serial ports before (or instead of) a USB
// bulk interface is claimed. Shaped after USBTransport's claim/release/
// deadline-bound-read idiom; see DESIGN.md for why go.bug.st/serial (not
// a pack repo) backs it.
package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"mft/internal/mftio"
)

// SerialConfig describes how to open a serial port. FlowControl is always
// off per spec.md §4.1.
type SerialConfig struct {
	Port     string
	BaudRate int
}

type SerialTransport struct {
	mu     sync.Mutex
	port   serial.Port
	addr   string
	closed bool
}

func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	const op = "transport.OpenSerial"

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, classifySerialErr(op, err)
	}

	return &SerialTransport{port: port, addr: "serial:" + cfg.Port}, nil
}

func classifySerialErr(op string, err error) error {
	if portErr, ok := err.(serial.PortError); ok {
		switch portErr.Code() {
		case serial.PortNotFound:
			return mftio.New(mftio.KindNotFound, op, err.Error())
		case serial.PortBusy:
			return mftio.New(mftio.KindBusy, op, err.Error())
		case serial.PermissionDenied:
			return mftio.New(mftio.KindPermissionDenied, op, err.Error())
		}
	}
	return mftio.Wrap(mftio.KindIo, op, err)
}

func (t *SerialTransport) Address() string { return t.addr }

func (t *SerialTransport) Write(ctx context.Context, data []byte, deadline time.Duration) (int, error) {
	const op = "SerialTransport.Write"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, mftio.New(mftio.KindClosed, op, "transport closed")
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := t.port.Write(data)
		done <- result{n, err}
	}()

	cctx, cancel := deadlineCtx(ctx, deadline)
	defer cancel()

	select {
	case r := <-done:
		if r.err != nil {
			return r.n, mftio.Wrap(mftio.KindIo, op, r.err)
		}
		if r.n != len(data) {
			return r.n, mftio.New(mftio.KindIo, op, "short write")
		}
		return r.n, nil
	case <-cctx.Done():
		return 0, classifyCtxErr(op, cctx.Err())
	}
}

func (t *SerialTransport) ReadExact(ctx context.Context, n int, deadline time.Duration) ([]byte, error) {
	const op = "SerialTransport.ReadExact"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, mftio.New(mftio.KindClosed, op, "transport closed")
	}

	cctx, cancel := deadlineCtx(ctx, deadline)
	defer cancel()

	// go.bug.st/serial has no context-aware read; emulate cancellation by
	// setting a short poll timeout and re-checking ctx between polls, the
	// same "suspension point per chunk" shape as the USB bulk read.
	_ = t.port.SetReadTimeout(50 * time.Millisecond)

	buf := make([]byte, n)
	got := 0
	for got < n {
		select {
		case <-cctx.Done():
			return buf[:got], classifyCtxErr(op, cctx.Err())
		default:
		}

		read, err := t.port.Read(buf[got:])
		if err != nil {
			if err == io.EOF {
				return buf[:got], mftio.New(mftio.KindEndOfStream, op, "eof")
			}
			return buf[:got], mftio.Wrap(mftio.KindIo, op, err)
		}
		got += read
	}
	return buf, nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}
