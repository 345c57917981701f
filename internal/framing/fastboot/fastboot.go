// Package fastboot implements the Fastboot ASCII command/response framing
// of spec.md §4.2/§4.9: ≤64-byte command frames, OKAY/FAIL/INFO/DATA<hex>
// responses, and a raw bulk data phase of exactly the negotiated size.
package fastboot

import (
	"fmt"
	"strconv"
	"strings"

	"mft/internal/mftio"
)

const MaxCommandSize = 64

// ResponseKind classifies a decoded Fastboot response.
type ResponseKind int

const (
	RespOkay ResponseKind = iota
	RespFail
	RespInfo
	RespData
)

type Response struct {
	Kind    ResponseKind
	Message string // FAIL/INFO text, or the hex size for DATA
	Size    int64  // parsed size for RespData
}

// EncodeCommand builds a Fastboot command frame, verifying the 64-byte
// ceiling.
func EncodeCommand(cmd string) ([]byte, error) {
	if len(cmd) > MaxCommandSize {
		return nil, mftio.New(mftio.KindInternal, "fastboot.EncodeCommand", "command exceeds 64 bytes")
	}
	return []byte(cmd), nil
}

// DecodeResponse parses a raw response frame into its kind and payload.
func DecodeResponse(raw []byte) (Response, error) {
	const op = "fastboot.DecodeResponse"
	s := string(raw)
	switch {
	case strings.HasPrefix(s, "OKAY"):
		return Response{Kind: RespOkay, Message: s[4:]}, nil
	case strings.HasPrefix(s, "FAIL"):
		return Response{Kind: RespFail, Message: s[4:]}, nil
	case strings.HasPrefix(s, "INFO"):
		return Response{Kind: RespInfo, Message: s[4:]}, nil
	case strings.HasPrefix(s, "DATA"):
		hexSize := s[4:]
		size, err := strconv.ParseInt(hexSize, 16, 64)
		if err != nil {
			return Response{}, mftio.Wrap(mftio.KindFraming, op, err)
		}
		return Response{Kind: RespData, Message: hexSize, Size: size}, nil
	default:
		return Response{}, mftio.New(mftio.KindFraming, op, "unrecognised response prefix")
	}
}

// EncodeDownload builds the "download:<hex-size>" command.
func EncodeDownload(size int64) string {
	return fmt.Sprintf("download:%x", size)
}

// EncodeGetVar builds "getvar:<name>".
func EncodeGetVar(name string) string { return "getvar:" + name }

// EncodeFlash builds "flash:<partition>".
func EncodeFlash(partition string) string { return "flash:" + partition }

// EncodeErase builds "erase:<partition>".
func EncodeErase(partition string) string { return "erase:" + partition }

// EncodeSetActive builds "set_active:<slot>".
func EncodeSetActive(slot string) string { return "set_active:" + slot }

// EncodeCreateLogicalPartition builds "create-logical-partition:<name>:<hex-size>".
func EncodeCreateLogicalPartition(name string, size int64) string {
	return fmt.Sprintf("create-logical-partition:%s:%x", name, size)
}

// EncodeResizeLogicalPartition builds "resize-logical-partition:<name>:<hex-size>".
func EncodeResizeLogicalPartition(name string, size int64) string {
	return fmt.Sprintf("resize-logical-partition:%s:%x", name, size)
}

// EncodeDeleteLogicalPartition builds "delete-logical-partition:<name>".
func EncodeDeleteLogicalPartition(name string) string {
	return "delete-logical-partition:" + name
}

// EncodeReboot maps a spec.md §4.10 reboot target onto its Fastboot
// command text.
func EncodeReboot(target string) string {
	switch target {
	case "bootloader":
		return "reboot-bootloader"
	case "fastboot", "fastbootd":
		return "reboot-fastboot"
	case "recovery":
		return "reboot recovery" // handled via oem/boot on most bootloaders; see engine
	default:
		return "reboot"
	}
}
