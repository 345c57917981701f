// USB bulk-endpoint transport, grounded directly on
// internal/driver/device/usb_device.go's OpenUSBDevice/Close/SendPacket/
// ReadPacket shape (context-scoped reads via gousb's ReadContext, exact
// claim/release ordering on every error path).
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"mft/internal/mftio"
)

// USBConfig selects the device, configuration and bulk endpoint pair to
// open.
type USBConfig struct {
	VID, PID           gousb.ID
	ConfigNum          int
	InterfaceNum       int
	AltSetting         int
	EndpointOutAddr    int
	EndpointInAddr     int
}

// USBTransport wraps a claimed gousb interface and its bulk endpoint pair.
type USBTransport struct {
	mu     sync.Mutex
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	out    *gousb.OutEndpoint
	in     *gousb.InEndpoint
	addr   string
	closed bool
}

// OpenUSB opens a device by VID/PID, claims the requested interface and
// resolves its bulk endpoint pair. Fails with NotFound/Busy/PermissionDenied
// classified from the gousb error per spec.md §4.1.
func OpenUSB(cfg USBConfig) (*USBTransport, error) {
	const op = "transport.OpenUSB"

	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(cfg.VID, cfg.PID)
	if err != nil {
		ctx.Close()
		return nil, mftio.Wrap(mftio.KindIo, op, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, mftio.New(mftio.KindNotFound, op, fmt.Sprintf("no device %s:%s", cfg.VID, cfg.PID))
	}

	config, err := dev.Config(cfg.ConfigNum)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, classifyUSBErr(op, "set config", err)
	}

	intf, err := config.Interface(cfg.InterfaceNum, cfg.AltSetting)
	if err != nil {
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, classifyUSBErr(op, "claim interface", err)
	}

	out, err := intf.OutEndpoint(cfg.EndpointOutAddr)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, classifyUSBErr(op, "open out endpoint", err)
	}

	in, err := intf.InEndpoint(cfg.EndpointInAddr)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, classifyUSBErr(op, "open in endpoint", err)
	}

	return &USBTransport{
		ctx:    ctx,
		dev:    dev,
		config: config,
		intf:   intf,
		out:    out,
		in:     in,
		addr:   fmt.Sprintf("usb:%s:%s", cfg.VID, cfg.PID),
	}, nil
}

func classifyUSBErr(op, detail string, err error) error {
	// gousb doesn't expose typed errors for permission/busy; classify by
	// substring into KindPermissionDenied / KindBusy.
	msg := err.Error()
	switch {
	case contains(msg, "permission"):
		return mftio.New(mftio.KindPermissionDenied, op, detail+": "+msg)
	case contains(msg, "busy") || contains(msg, "resource"):
		return mftio.New(mftio.KindBusy, op, detail+": "+msg)
	default:
		return mftio.Wrap(mftio.KindIo, op, fmt.Errorf("%s: %w", detail, err))
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func (t *USBTransport) Address() string { return t.addr }

func (t *USBTransport) Write(ctx context.Context, data []byte, deadline time.Duration) (int, error) {
	const op = "USBTransport.Write"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, mftio.New(mftio.KindClosed, op, "transport closed")
	}

	cctx, cancel := deadlineCtx(ctx, deadline)
	defer cancel()

	n, err := t.out.WriteContext(cctx, data)
	if err != nil {
		if cctx.Err() != nil {
			return n, classifyCtxErr(op, cctx.Err())
		}
		return n, mftio.Wrap(mftio.KindIo, op, err)
	}
	if n != len(data) {
		return n, mftio.New(mftio.KindIo, op, "short write")
	}
	return n, nil
}

func (t *USBTransport) ReadExact(ctx context.Context, n int, deadline time.Duration) ([]byte, error) {
	const op = "USBTransport.ReadExact"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, mftio.New(mftio.KindClosed, op, "transport closed")
	}

	cctx, cancel := deadlineCtx(ctx, deadline)
	defer cancel()

	buf := make([]byte, n)
	got := 0
	for got < n {
		read, err := t.in.ReadContext(cctx, buf[got:])
		got += read
		if err != nil {
			if cctx.Err() != nil {
				return buf[:got], classifyCtxErr(op, cctx.Err())
			}
			return buf[:got], mftio.Wrap(mftio.KindIo, op, err)
		}
		if read == 0 {
			return buf[:got], mftio.New(mftio.KindEndOfStream, op, "zero-length read")
		}
	}
	return buf, nil
}

// Close releases the interface, config, device and context in reverse
// acquisition order; safe to call more than once.
func (t *USBTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.intf != nil {
		t.intf.Close()
	}
	if t.config != nil {
		t.config.Close()
	}
	if t.dev != nil {
		t.dev.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}
