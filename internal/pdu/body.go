package pdu

import (
	"fmt"
)

// ReadCString reads a null-terminated ASCII string starting at offset and
// returns it with the offset advanced past the terminator. When no terminator
// exists before the end of data, the remainder is consumed and the offset
// lands at len(data). This mirrors the peers the engine talks to, which do
// not always terminate trailing fields.
func ReadCString(data []byte, offset int) (string, int) {
	if offset >= len(data) {
		return "", len(data)
	}
	for i := offset; i < len(data); i++ {
		if data[i] == 0x00 {
			return string(data[offset:i]), i + 1
		}
	}
	return string(data[offset:]), len(data)
}

func appendCString(buf []byte, s string) []byte {
	return append(append(buf, s...), 0x00)
}

// BindBody carries the fields of a bind request. Inbound parsing reads only
// system_id and password; the remaining SMPP bind fields are emitted on
// outbound binds but ignored when received.
type BindBody struct {
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion byte
	AddrTON          byte
	AddrNPI          byte
	AddressRange     string
}

// DecodeBindBody extracts system_id and password from a bind request body.
func DecodeBindBody(body []byte) BindBody {
	var b BindBody
	offset := 0
	b.SystemID, offset = ReadCString(body, offset)
	b.Password, _ = ReadCString(body, offset)
	return b
}

// Marshal emits the full bind body for outbound binds toward a vendor.
func (b BindBody) Marshal() []byte {
	buf := make([]byte, 0, len(b.SystemID)+len(b.Password)+len(b.SystemType)+len(b.AddressRange)+7)
	buf = appendCString(buf, b.SystemID)
	buf = appendCString(buf, b.Password)
	buf = appendCString(buf, b.SystemType)
	buf = append(buf, b.InterfaceVersion, b.AddrTON, b.AddrNPI)
	buf = appendCString(buf, b.AddressRange)
	return buf
}

// BindResp carries the echoed system id of a successful bind response.
type BindResp struct {
	SystemID string
}

// DecodeBindResp parses a bind response body.
func DecodeBindResp(body []byte) BindResp {
	id, _ := ReadCString(body, 0)
	return BindResp{SystemID: id}
}

// Marshal emits the bind response body.
func (b BindResp) Marshal() []byte {
	return appendCString(nil, b.SystemID)
}

// SubmitSMBody is the mandatory-parameter layout shared by submit_sm and
// deliver_sm. ShortMessage holds the raw sm_length bytes; interpretation
// depends on DataCoding and the UDHI bit of ESMClass.
type SubmitSMBody struct {
	ServiceType          string
	SourceTON            byte
	SourceNPI            byte
	SourceAddr           string
	DestTON              byte
	DestNPI              byte
	DestAddr             string
	ESMClass             byte
	ProtocolID           byte
	PriorityFlag         byte
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   byte
	ReplaceIfPresent     byte
	DataCoding           byte
	SMDefaultMsgID       byte
	ShortMessage         []byte
}

// DecodeSubmitSM parses the fixed-order mandatory parameters of a submit_sm
// (or deliver_sm) body. Length is validated before every fixed-offset read so
// a truncated frame fails cleanly instead of indexing out of bounds.
func DecodeSubmitSM(body []byte) (SubmitSMBody, error) {
	var p SubmitSMBody
	offset := 0

	p.ServiceType, offset = ReadCString(body, offset)
	if err := need(body, offset, 2); err != nil {
		return p, err
	}
	p.SourceTON = body[offset]
	p.SourceNPI = body[offset+1]
	offset += 2
	p.SourceAddr, offset = ReadCString(body, offset)

	if err := need(body, offset, 2); err != nil {
		return p, err
	}
	p.DestTON = body[offset]
	p.DestNPI = body[offset+1]
	offset += 2
	p.DestAddr, offset = ReadCString(body, offset)

	if err := need(body, offset, 3); err != nil {
		return p, err
	}
	p.ESMClass = body[offset]
	p.ProtocolID = body[offset+1]
	p.PriorityFlag = body[offset+2]
	offset += 3

	p.ScheduleDeliveryTime, offset = ReadCString(body, offset)
	p.ValidityPeriod, offset = ReadCString(body, offset)

	if err := need(body, offset, 5); err != nil {
		return p, err
	}
	p.RegisteredDelivery = body[offset]
	p.ReplaceIfPresent = body[offset+1]
	p.DataCoding = body[offset+2]
	p.SMDefaultMsgID = body[offset+3]
	smLength := int(body[offset+4])
	offset += 5

	if err := need(body, offset, smLength); err != nil {
		return p, err
	}
	p.ShortMessage = make([]byte, smLength)
	copy(p.ShortMessage, body[offset:offset+smLength])
	return p, nil
}

// Marshal emits the mandatory-parameter body. Optional TLVs are not written.
func (p SubmitSMBody) Marshal() ([]byte, error) {
	if len(p.ShortMessage) > 255 {
		return nil, fmt.Errorf("pdu: short_message %d bytes exceeds sm_length limit", len(p.ShortMessage))
	}
	buf := make([]byte, 0, 32+len(p.ShortMessage))
	buf = appendCString(buf, p.ServiceType)
	buf = append(buf, p.SourceTON, p.SourceNPI)
	buf = appendCString(buf, p.SourceAddr)
	buf = append(buf, p.DestTON, p.DestNPI)
	buf = appendCString(buf, p.DestAddr)
	buf = append(buf, p.ESMClass, p.ProtocolID, p.PriorityFlag)
	buf = appendCString(buf, p.ScheduleDeliveryTime)
	buf = appendCString(buf, p.ValidityPeriod)
	buf = append(buf, p.RegisteredDelivery, p.ReplaceIfPresent, p.DataCoding, p.SMDefaultMsgID, byte(len(p.ShortMessage)))
	buf = append(buf, p.ShortMessage...)
	return buf, nil
}

// SubmitSMResp carries the message id assigned by the receiving SMSC.
type SubmitSMResp struct {
	MessageID string
}

// DecodeSubmitSMResp parses a submit_sm_resp body.
func DecodeSubmitSMResp(body []byte) SubmitSMResp {
	id, _ := ReadCString(body, 0)
	return SubmitSMResp{MessageID: id}
}

// Marshal emits the submit_sm_resp body.
func (r SubmitSMResp) Marshal() []byte {
	return appendCString(nil, r.MessageID)
}

func need(body []byte, offset, n int) error {
	if offset+n > len(body) {
		return fmt.Errorf("pdu: body truncated, need %d bytes at offset %d of %d", n, offset, len(body))
	}
	return nil
}
