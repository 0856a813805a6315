package pdu

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	frame := Encode(SubmitSM, StatusOK, 42, []byte{0x01, 0x02, 0x03})
	require.Len(t, frame, 19)

	h, err := DecodeHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(19), h.Length)
	assert.Equal(t, SubmitSM, h.ID)
	assert.Equal(t, StatusOK, h.Status)
	assert.Equal(t, uint32(42), h.Sequence)
}

func TestDecodeHeaderRejectsBadLengths(t *testing.T) {
	short := make([]byte, 16)
	binary.BigEndian.PutUint32(short, 8) // below the fixed header size
	_, err := DecodeHeader(short)
	assert.Error(t, err)

	huge := make([]byte, 16)
	binary.BigEndian.PutUint32(huge, MaxPDUSize+1)
	_, err = DecodeHeader(huge)
	assert.Error(t, err)
}

func TestResponseCommandIDs(t *testing.T) {
	assert.Equal(t, CommandID(0x80000002), BindTransmitter.Resp())
	assert.Equal(t, CommandID(0x80000004), SubmitSM.Resp())
	assert.Equal(t, CommandID(0x80000015), EnquireLink.Resp())
	assert.True(t, SubmitSM.Resp().IsResponse())
	assert.False(t, SubmitSM.IsResponse())
	assert.False(t, GenericNack.IsResponse())
	assert.True(t, BindTransceiver.IsBind())
	assert.False(t, SubmitSM.IsBind())
}

func TestReadCString(t *testing.T) {
	data := []byte("abc\x00def\x00")

	s, off := ReadCString(data, 0)
	assert.Equal(t, "abc", s)
	assert.Equal(t, 4, off)

	s, off = ReadCString(data, off)
	assert.Equal(t, "def", s)
	assert.Equal(t, 8, off)

	// Missing terminator consumes the remainder.
	s, off = ReadCString([]byte("tail"), 0)
	assert.Equal(t, "tail", s)
	assert.Equal(t, 4, off)

	// Offset past the end yields an empty string.
	s, off = ReadCString(data, 99)
	assert.Equal(t, "", s)
	assert.Equal(t, len(data), off)
}

func TestBindBodyRoundTrip(t *testing.T) {
	b := BindBody{
		SystemID:         "squad01",
		Password:         "s3cret",
		SystemType:       "SMPP",
		InterfaceVersion: 0x34,
		AddrTON:          1,
		AddrNPI:          1,
		AddressRange:     "",
	}
	got := DecodeBindBody(b.Marshal())
	assert.Equal(t, "squad01", got.SystemID)
	assert.Equal(t, "s3cret", got.Password)
}

func TestBindBodyTwoFieldsOnly(t *testing.T) {
	// Inbound parsing reads system_id and password; trailing fields are
	// left alone.
	body := []byte("user\x00pass\x00extra-stuff\x00\x34\x01\x01\x00")
	got := DecodeBindBody(body)
	assert.Equal(t, "user", got.SystemID)
	assert.Equal(t, "pass", got.Password)
}

func TestSubmitSMRoundTrip(t *testing.T) {
	in := SubmitSMBody{
		ServiceType:          "",
		SourceTON:            1,
		SourceNPI:            1,
		SourceAddr:           "SQUAD",
		DestTON:              1,
		DestNPI:              1,
		DestAddr:             "9779841000000",
		ESMClass:             0x40,
		ProtocolID:           0,
		PriorityFlag:         0,
		ScheduleDeliveryTime: "",
		ValidityPeriod:       "",
		RegisteredDelivery:   1,
		ReplaceIfPresent:     0,
		DataCoding:           0x08,
		SMDefaultMsgID:       0,
		ShortMessage:         []byte{0x05, 0x00, 0x03, 0xAB, 0x02, 0x01, 'h', 'i'},
	}

	body, err := in.Marshal()
	require.NoError(t, err)

	out, err := DecodeSubmitSM(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeSubmitSMTruncated(t *testing.T) {
	in := SubmitSMBody{
		SourceAddr:   "a",
		DestAddr:     "b",
		ShortMessage: []byte("hello"),
	}
	body, err := in.Marshal()
	require.NoError(t, err)

	for cut := 1; cut < len(body); cut++ {
		_, err := DecodeSubmitSM(body[:len(body)-cut])
		if err == nil {
			// Cstring fields parse permissively, so some truncations
			// still decode; the decoder just must never panic.
			continue
		}
	}
}

func TestSubmitSMRespRoundTrip(t *testing.T) {
	r := SubmitSMResp{MessageID: "ID17"}
	got := DecodeSubmitSMResp(r.Marshal())
	assert.Equal(t, "ID17", got.MessageID)
}

func TestReadPDU(t *testing.T) {
	body, err := SubmitSMBody{SourceAddr: "a", DestAddr: "b", ShortMessage: []byte("x")}.Marshal()
	require.NoError(t, err)
	frame := Encode(SubmitSM, StatusOK, 7, body)

	h, gotBody, err := ReadPDU(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, SubmitSM, h.ID)
	assert.Equal(t, uint32(7), h.Sequence)
	assert.Equal(t, body, gotBody)

	// Truncated body is an error, not a hang or a panic.
	_, _, err = ReadPDU(bytes.NewReader(frame[:len(frame)-1]))
	assert.Error(t, err)
}

func TestEncodeEmptyBody(t *testing.T) {
	frame := Encode(EnquireLink, StatusOK, 3, nil)
	require.Len(t, frame, HeaderLength)
	h, err := DecodeHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(HeaderLength), h.Length)
	assert.Equal(t, EnquireLink, h.ID)
}
