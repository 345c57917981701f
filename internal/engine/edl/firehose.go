// Firehose: the Qualcomm EDL programmer protocol. XML commands and the
// <response>/<log> elements that answer them run over HDLC framing
// (escape/delimiter/CRC-16 per internal/framing/hdlc); the raw sector data a
// program/read transfers after its ACK is unframed per spec.md §4.2/§5/§6.
package edl

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"

	"mft/internal/framing/hdlc"
	"mft/internal/logevent"
	"mft/internal/mftio"
	"mft/internal/partition"
	"mft/internal/transport"
)

// FirehoseSession issues <configure>/<program>/<erase>/<patch>/<read>/
// <power>/<getstorageinfo> commands and parses the streamed <response>/<log>
// elements that answer them.
type FirehoseSession struct {
	t          transport.Transport
	log        *logevent.Ring
	sectorSize uint32
	maxPayload int
}

// NewFirehoseSession wraps an open transport; sectorSize must match the
// rawprogram entries being applied (512 or 4096).
func NewFirehoseSession(t transport.Transport, log *logevent.Ring, sectorSize uint32) *FirehoseSession {
	return &FirehoseSession{t: t, log: log, sectorSize: sectorSize, maxPayload: 1 << 20}
}

type fhResponse struct {
	XMLName xml.Name `xml:"data"`
	Resp    *struct {
		Value       string `xml:"value,attr"`
		RawMode     string `xml:"rawmode,attr"`
		MaxPayload  string `xml:"max_payload_size_to_target_in_bytes,attr"`
	} `xml:"response"`
	Log *struct {
		Value string `xml:"value,attr"`
	} `xml:"log"`
}

// send writes an XML command element wrapped in <data>...</data>, HDLC-framed.
func (s *FirehoseSession) send(ctx context.Context, inner string) error {
	doc := fmt.Sprintf("<?xml version=\"1.0\" ?><data>%s</data>", inner)
	frame := hdlc.Encode([]byte(doc))
	_, err := s.t.Write(ctx, frame, transport.DefaultDeadline)
	return err
}

// recvResponses reads one HDLC-framed page and returns every <response>
// ACK/NAK and <log> element carried by the frame(s) it decodes to. Firehose
// doesn't length-prefix pages, so this relies on the transport yielding one
// write-sized read per call — true for the bulk USB transport this engine
// is built on.
func (s *FirehoseSession) recvResponses(ctx context.Context, maxBytes int) ([]fhResponse, error) {
	const op = "firehose.recvResponses"
	raw, err := s.t.ReadExact(ctx, maxBytes, transport.DefaultDeadline)
	if err != nil {
		return nil, err
	}

	dec := &hdlc.Decoder{}
	frames, errs := dec.Feed(raw)
	if len(errs) > 0 {
		return nil, mftio.Wrap(mftio.KindFraming, op, errs[0])
	}
	if len(frames) == 0 {
		return nil, mftio.New(mftio.KindFraming, op, "no HDLC frame decoded")
	}

	var out []fhResponse
	for _, payload := range frames {
		payload = bytes.TrimRight(payload, "\x00")
		xdec := xml.NewDecoder(bytes.NewReader(payload))
		for {
			var r fhResponse
			if err := xdec.Decode(&r); err != nil {
				break
			}
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, mftio.New(mftio.KindFraming, op, "no response elements parsed")
	}
	return out, nil
}

func ackOf(responses []fhResponse) (ok bool, rawMode bool, maxPayload int) {
	maxPayload = 1 << 20
	for _, r := range responses {
		if r.Resp != nil {
			ok = r.Resp.Value == "ACK"
			rawMode = r.Resp.RawMode == "true"
			if mp := r.Resp.MaxPayload; mp != "" {
				if n, err := strconv.Atoi(mp); err == nil {
					maxPayload = n
				}
			}
		}
	}
	return ok, rawMode, maxPayload
}

// Configure negotiates sector size / memory type and returns the target's
// advertised max payload size.
func (s *FirehoseSession) Configure(ctx context.Context, memoryName string) (int, error) {
	const op = "firehose.Configure"
	cmd := fmt.Sprintf(
		`<configure MemoryName="%s" Verbose="0" AlwaysValidate="0" MaxDigestTableSizeInBytes="8192" MaxPayloadSizeToTargetInBytes="1048576" ZLPAwareHost="1"/>`,
		memoryName)
	if err := s.send(ctx, cmd); err != nil {
		return 0, err
	}
	resp, err := s.recvResponses(ctx, 8192)
	if err != nil {
		return 0, err
	}
	ok, _, maxPayload := ackOf(resp)
	if !ok {
		return 0, mftio.New(mftio.KindProtocolReject, op, "target NAKed configure")
	}
	s.maxPayload = maxPayload
	return maxPayload, nil
}

// Program writes an unsparsed image to entry's sector range. Protected
// partitions are rejected before any I/O (spec.md §4.8).
func (s *FirehoseSession) Program(ctx context.Context, entry partition.Entry, data []byte, progress func(done, total int64)) error {
	const op = "firehose.Program"
	if entry.IsProtected {
		return mftio.New(mftio.KindPartitionProtected, op, "refusing to write protected partition "+entry.Name)
	}
	numSectors := (uint64(len(data)) + uint64(s.sectorSize) - 1) / uint64(s.sectorSize)
	cmd := fmt.Sprintf(
		`<program SECTOR_SIZE_IN_BYTES="%d" physical_partition_number="%d" start_sector="%d" num_partition_sectors="%d" filename="%s"/>`,
		s.sectorSize, entry.LUN, entry.StartSector, numSectors, entry.Name)
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	resp, err := s.recvResponses(ctx, 8192)
	if err != nil {
		return err
	}
	ok, rawMode, _ := ackOf(resp)
	if !ok {
		return mftio.New(mftio.KindProtocolReject, op, "target NAKed program for "+entry.Name)
	}
	if !rawMode {
		return mftio.New(mftio.KindProtocolReject, op, "target did not enter raw mode for "+entry.Name)
	}

	total := int64(len(data))
	var sent int64
	for sent < total {
		end := sent + int64(s.maxPayload)
		if end > total {
			end = total
		}
		chunk := data[sent:end]
		if _, err := s.t.Write(ctx, chunk, transport.DefaultDeadline); err != nil {
			return err
		}
		sent = end
		if progress != nil {
			progress(sent, total)
		}
	}
	// pad to sector boundary with zeros if the image isn't sector-aligned
	if pad := int64(numSectors)*int64(s.sectorSize) - total; pad > 0 {
		if _, err := s.t.Write(ctx, make([]byte, pad), transport.DefaultDeadline); err != nil {
			return err
		}
	}

	final, err := s.recvResponses(ctx, 8192)
	if err != nil {
		return err
	}
	if ok, _, _ := ackOf(final); !ok {
		return mftio.New(mftio.KindProtocolReject, op, "target NAKed program completion for "+entry.Name)
	}
	return nil
}

// Read pulls numBytes starting at entry's start sector.
func (s *FirehoseSession) Read(ctx context.Context, entry partition.Entry, numBytes int64) ([]byte, error) {
	const op = "firehose.Read"
	numSectors := (uint64(numBytes) + uint64(s.sectorSize) - 1) / uint64(s.sectorSize)
	cmd := fmt.Sprintf(
		`<read SECTOR_SIZE_IN_BYTES="%d" physical_partition_number="%d" start_sector="%d" num_partition_sectors="%d" filename="stream"/>`,
		s.sectorSize, entry.LUN, entry.StartSector, numSectors)
	if err := s.send(ctx, cmd); err != nil {
		return nil, err
	}
	resp, err := s.recvResponses(ctx, 8192)
	if err != nil {
		return nil, err
	}
	if ok, _, _ := ackOf(resp); !ok {
		return nil, mftio.New(mftio.KindProtocolReject, op, "target NAKed read for "+entry.Name)
	}

	out := make([]byte, 0, numBytes)
	total := int64(numSectors) * int64(s.sectorSize)
	for int64(len(out)) < total {
		want := int(total - int64(len(out)))
		if want > s.maxPayload {
			want = s.maxPayload
		}
		chunk, err := s.t.ReadExact(ctx, want, transport.DefaultDeadline)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}

	final, err := s.recvResponses(ctx, 8192)
	if err != nil {
		return nil, err
	}
	if ok, _, _ := ackOf(final); !ok {
		return nil, mftio.New(mftio.KindProtocolReject, op, "target NAKed read completion for "+entry.Name)
	}
	return out[:numBytes], nil
}

// Erase zeroes entry's sector range without transferring data.
func (s *FirehoseSession) Erase(ctx context.Context, entry partition.Entry) error {
	const op = "firehose.Erase"
	if entry.IsProtected {
		return mftio.New(mftio.KindPartitionProtected, op, "refusing to erase protected partition "+entry.Name)
	}
	cmd := fmt.Sprintf(
		`<erase SECTOR_SIZE_IN_BYTES="%d" physical_partition_number="%d" start_sector="%d" num_partition_sectors="%d"/>`,
		s.sectorSize, entry.LUN, entry.StartSector, entry.NumSectors)
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	resp, err := s.recvResponses(ctx, 8192)
	if err != nil {
		return err
	}
	if ok, _, _ := ackOf(resp); !ok {
		return mftio.New(mftio.KindProtocolReject, op, "target NAKed erase for "+entry.Name)
	}
	return nil
}

// ApplyPatch applies one patch*.xml row post-write (spec.md §4.6).
func (s *FirehoseSession) ApplyPatch(ctx context.Context, row partition.PatchRow) error {
	const op = "firehose.ApplyPatch"
	cmd := fmt.Sprintf(
		`<patch SECTOR_SIZE_IN_BYTES="%d" byte_offset="%d" physical_partition_number="%d" size_in_bytes="%d" start_sector="%d" value="%s" what="%s"/>`,
		row.SectorSize, row.ByteOffset, row.LUN, row.SizeBytes, row.StartSector, row.Value, row.What)
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	resp, err := s.recvResponses(ctx, 8192)
	if err != nil {
		return err
	}
	if ok, _, _ := ackOf(resp); !ok {
		return mftio.New(mftio.KindProtocolReject, op, "target NAKed patch")
	}
	return nil
}

// Power issues a reset/poweroff/edl action (spec.md §5).
func (s *FirehoseSession) Power(ctx context.Context, action string) error {
	const op = "firehose.Power"
	cmd := fmt.Sprintf(`<power value="%s"/>`, action)
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	// The target may power down before answering; a response isn't required.
	_, _ = s.recvResponses(ctx, 8192)
	return nil
}

// GetStorageInfo requests the target's eMMC/UFS geometry report.
func (s *FirehoseSession) GetStorageInfo(ctx context.Context) (string, error) {
	const op = "firehose.GetStorageInfo"
	if err := s.send(ctx, `<getstorageinfo physical_partition_number="0"/>`); err != nil {
		return "", err
	}
	resp, err := s.recvResponses(ctx, 16384)
	if err != nil {
		return "", err
	}
	var logs string
	for _, r := range resp {
		if r.Log != nil {
			logs += r.Log.Value + "\n"
		}
	}
	if logs == "" {
		return "", mftio.New(mftio.KindProtocolReject, op, "no storage info logged")
	}
	return logs, nil
}
