// Package pdu implements the binary framing used by the gateway engine: the
// fixed 16-byte SMPP header and the command bodies the engine exchanges with
// tenant clients and vendor gateways.
//
// This is deliberately a minimal SMPP 3.4 subset, not a complete
// implementation. Bind bodies are parsed down to system_id and password only,
// submit_sm assumes the mandatory-parameter ordering with no TLV handling,
// and null-terminated strings are read permissively: a missing terminator
// consumes the remainder of the buffer instead of raising an error.
package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLength is the size of the fixed PDU header in bytes.
const HeaderLength = 16

// MaxPDUSize bounds a single frame; anything larger is a framing error.
const MaxPDUSize = 4096

// CommandID identifies the operation carried by a PDU.
type CommandID uint32

// Command ids exercised by the engine.
const (
	BindReceiver    CommandID = 0x00000001
	BindTransmitter CommandID = 0x00000002
	SubmitSM        CommandID = 0x00000004
	DeliverSM       CommandID = 0x00000005
	BindTransceiver CommandID = 0x00000009
	Unbind          CommandID = 0x00000006
	EnquireLink     CommandID = 0x00000015
	GenericNack     CommandID = 0x80000000
)

const respBit = 0x80000000

// Resp returns the response command id for a request id.
func (c CommandID) Resp() CommandID {
	return c | respBit
}

// IsResponse reports whether the id carries the response bit.
func (c CommandID) IsResponse() bool {
	return uint32(c)&respBit != 0 && c != GenericNack
}

// IsBind reports whether the id is one of the three bind variants.
func (c CommandID) IsBind() bool {
	return c == BindReceiver || c == BindTransmitter || c == BindTransceiver
}

func (c CommandID) String() string {
	switch c {
	case BindReceiver:
		return "bind_receiver"
	case BindTransmitter:
		return "bind_transmitter"
	case BindTransceiver:
		return "bind_transceiver"
	case SubmitSM:
		return "submit_sm"
	case DeliverSM:
		return "deliver_sm"
	case Unbind:
		return "unbind"
	case EnquireLink:
		return "enquire_link"
	case GenericNack:
		return "generic_nack"
	}
	if c.IsResponse() {
		return (c &^ respBit).String() + "_resp"
	}
	return fmt.Sprintf("0x%08X", uint32(c))
}

// Status is the command_status header field.
type Status uint32

// Status values used on the wire.
const (
	StatusOK              Status = 0x00000000
	StatusInvalidCommand  Status = 0x00000003 // unknown command id
	StatusInvalidBindStat Status = 0x00000004 // operation requires a completed bind
	StatusSubmitFailed    Status = 0x00000045 // vendor submit failure, used for balance/speed caps
	StatusBindFailed      Status = 0x0000000F // authentication rejected
	StatusThrottled       Status = 0x00000058
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidCommand:
		return "invalid_command"
	case StatusInvalidBindStat:
		return "invalid_bind_status"
	case StatusBindFailed:
		return "bind_failed"
	case StatusSubmitFailed:
		return "submit_failed"
	case StatusThrottled:
		return "throttled"
	}
	return fmt.Sprintf("0x%08X", uint32(s))
}

// Header is the fixed 16-byte PDU header. All fields are big-endian u32 on
// the wire.
type Header struct {
	Length   uint32
	ID       CommandID
	Status   Status
	Sequence uint32
}

// DecodeHeader parses the fixed header from the first 16 bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLength {
		return Header{}, fmt.Errorf("pdu: header needs %d bytes, have %d", HeaderLength, len(buf))
	}
	h := Header{
		Length:   binary.BigEndian.Uint32(buf[0:4]),
		ID:       CommandID(binary.BigEndian.Uint32(buf[4:8])),
		Status:   Status(binary.BigEndian.Uint32(buf[8:12])),
		Sequence: binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Length < HeaderLength {
		return Header{}, errors.New("pdu: length under lower limit")
	}
	if h.Length > MaxPDUSize {
		return Header{}, errors.New("pdu: length over upper limit")
	}
	return h, nil
}

// Encode frames a complete PDU: header with the computed total length,
// followed by body.
func Encode(id CommandID, status Status, sequence uint32, body []byte) []byte {
	buf := make([]byte, HeaderLength+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(id))
	binary.BigEndian.PutUint32(buf[8:12], uint32(status))
	binary.BigEndian.PutUint32(buf[12:16], sequence)
	copy(buf[HeaderLength:], body)
	return buf
}

// ReadPDU reads one complete frame from r: the header, then Length-16 bytes
// of body. Deadline handling belongs to the caller; a timeout surfaces as the
// underlying net error.
func ReadPDU(r io.Reader) (Header, []byte, error) {
	var hbuf [HeaderLength]byte
	if _, err := io.ReadFull(r, hbuf[:]); err != nil {
		return Header{}, nil, err
	}
	h, err := DecodeHeader(hbuf[:])
	if err != nil {
		return Header{}, nil, err
	}
	body := make([]byte, h.Length-HeaderLength)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Header{}, nil, fmt.Errorf("pdu: short body for %s: %w", h.ID, err)
		}
	}
	return h, body, nil
}
