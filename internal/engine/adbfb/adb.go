// ADB transport session: CNXN handshake, RSA AUTH, and OPEN/OKAY/WRTE/CLSE
// stream multiplexing over a single transport (spec.md §4.2/§4.9).
package adbfb

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"sync"
	"sync/atomic"

	"mft/internal/framing/adb"
	"mft/internal/mftio"
	"mft/internal/transport"
)

const adbVersion uint32 = 0x01000001

// AdbSession owns one ADB transport connection and multiplexes logical
// streams (shells, sync sessions) over it by local/remote id pair.
type AdbSession struct {
	t        transport.Transport
	mu       sync.Mutex
	streams  map[uint32]*Stream
	nextID   uint32
	key      *rsa.PrivateKey // nil: an AUTH challenge cannot be answered and fails the connect
	deviceBanner string
}

// Stream is one OPEN'd logical connection (a shell invocation, a sync
// session, push/pull).
type Stream struct {
	sess       *AdbSession
	localID    uint32
	remoteID   uint32
	incoming   chan []byte
	closed     chan struct{}
}

// NewSession wraps an open transport. key, if non-nil, signs the AUTH
// token challenge (ADB's public-key pairing flow); with nil, no AUTH reply
// is sent, so only a device that answers CNXN without an AUTH challenge
// can be connected.
func NewSession(t transport.Transport, key *rsa.PrivateKey) *AdbSession {
	return &AdbSession{t: t, streams: make(map[uint32]*Stream), key: key}
}

func (s *AdbSession) readMessage(ctx context.Context) (adb.Message, error) {
	const op = "adbfb.readMessage"
	header, err := s.t.ReadExact(ctx, adb.HeaderSize, transport.DefaultDeadline)
	if err != nil {
		return adb.Message{}, err
	}
	cmd, arg0, arg1, dataLen, err := adb.DecodeHeader(header)
	if err != nil {
		return adb.Message{}, err
	}
	var payload []byte
	if dataLen > 0 {
		if dataLen > adb.MaxDataSize {
			return adb.Message{}, mftio.New(mftio.KindFraming, op, "data_len exceeds MaxDataSize")
		}
		payload, err = s.t.ReadExact(ctx, int(dataLen), transport.DefaultDeadline)
		if err != nil {
			return adb.Message{}, err
		}
		if err := adb.VerifyPayload(header, payload); err != nil {
			return adb.Message{}, err
		}
	}
	return adb.Message{Cmd: cmd, Arg0: arg0, Arg1: arg1, Payload: payload}, nil
}

func (s *AdbSession) writeMessage(ctx context.Context, m adb.Message) error {
	_, err := s.t.Write(ctx, m.Encode(), transport.DefaultDeadline)
	return err
}

// Connect performs CNXN and, if challenged, the AUTH handshake.
func (s *AdbSession) Connect(ctx context.Context) error {
	const op = "adbfb.Connect"
	banner := []byte(adb.Banner("cmd", "shell_v2"))
	if err := s.writeMessage(ctx, adb.Message{Cmd: adb.CmdCNXN, Arg0: adbVersion, Arg1: adb.MaxDataSize, Payload: banner}); err != nil {
		return err
	}

	msg, err := s.readMessage(ctx)
	if err != nil {
		return err
	}
	for msg.Cmd == adb.CmdAUTH {
		if msg.Arg0 != adb.AuthToken {
			return mftio.New(mftio.KindProtocolReject, op, "unexpected AUTH sub-type")
		}
		if s.key == nil {
			return mftio.New(mftio.KindAuthFailed, op, "device requires key auth and none was supplied")
		}
		digest := sha1.Sum(msg.Payload)
		sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, digest[:])
		if err != nil {
			return mftio.Wrap(mftio.KindAuthFailed, op, err)
		}
		if err := s.writeMessage(ctx, adb.Message{Cmd: adb.CmdAUTH, Arg0: adb.AuthSignature, Payload: sig}); err != nil {
			return err
		}
		msg, err = s.readMessage(ctx)
		if err != nil {
			return err
		}
	}
	if msg.Cmd != adb.CmdCNXN {
		return mftio.New(mftio.KindAuthFailed, op, "device rejected authentication")
	}
	s.deviceBanner = string(msg.Payload)
	return nil
}

// DeviceBanner returns the device's CNXN banner string (product/model/device).
func (s *AdbSession) DeviceBanner() string { return s.deviceBanner }

// Open starts a new logical stream against destination (e.g. "shell:ls",
// "sync:").
func (s *AdbSession) Open(ctx context.Context, destination string) (*Stream, error) {
	const op = "adbfb.Open"
	s.mu.Lock()
	localID := atomic.AddUint32(&s.nextID, 1)
	st := &Stream{sess: s, localID: localID, incoming: make(chan []byte, 16), closed: make(chan struct{})}
	s.streams[localID] = st
	s.mu.Unlock()

	payload := append([]byte(destination), 0)
	if err := s.writeMessage(ctx, adb.Message{Cmd: adb.CmdOPEN, Arg0: localID, Payload: payload}); err != nil {
		return nil, err
	}

	msg, err := s.readMessage(ctx)
	if err != nil {
		return nil, err
	}
	switch msg.Cmd {
	case adb.CmdOKAY:
		st.remoteID = msg.Arg0
		return st, nil
	case adb.CmdCLSE:
		return nil, mftio.New(mftio.KindProtocolReject, op, "device closed stream on open: "+destination)
	default:
		return nil, mftio.New(mftio.KindProtocolReject, op, "unexpected response to OPEN")
	}
}

// Write sends a WRTE frame and waits for the matching OKAY.
func (st *Stream) Write(ctx context.Context, data []byte) error {
	const op = "adbfb.Stream.Write"
	if err := st.sess.writeMessage(ctx, adb.Message{Cmd: adb.CmdWRTE, Arg0: st.localID, Arg1: st.remoteID, Payload: data}); err != nil {
		return err
	}
	msg, err := st.sess.readMessage(ctx)
	if err != nil {
		return err
	}
	if msg.Cmd != adb.CmdOKAY {
		return mftio.New(mftio.KindProtocolReject, op, "expected OKAY after WRTE")
	}
	return nil
}

// ReadOnce blocks for the next WRTE frame addressed to this stream and
// answers it with OKAY, per ADB's flow-controlled stream protocol.
func (st *Stream) ReadOnce(ctx context.Context) ([]byte, error) {
	const op = "adbfb.Stream.ReadOnce"
	msg, err := st.sess.readMessage(ctx)
	if err != nil {
		return nil, err
	}
	switch msg.Cmd {
	case adb.CmdWRTE:
		if err := st.sess.writeMessage(ctx, adb.Message{Cmd: adb.CmdOKAY, Arg0: st.localID, Arg1: st.remoteID}); err != nil {
			return nil, err
		}
		return msg.Payload, nil
	case adb.CmdCLSE:
		close(st.closed)
		return nil, mftio.New(mftio.KindEndOfStream, op, "stream closed by device")
	default:
		return nil, mftio.New(mftio.KindProtocolReject, op, "unexpected message on stream")
	}
}

// Close sends CLSE for this stream.
func (st *Stream) Close(ctx context.Context) error {
	st.sess.mu.Lock()
	delete(st.sess.streams, st.localID)
	st.sess.mu.Unlock()
	return st.sess.writeMessage(ctx, adb.Message{Cmd: adb.CmdCLSE, Arg0: st.localID, Arg1: st.remoteID})
}
