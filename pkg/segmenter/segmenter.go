// Package segmenter splits message text into SMS parts following GSM 03.38
// rules: GSM 7-bit default alphabet when every rune fits it, UCS-2 otherwise,
// with a 6-byte concatenation UDH on multipart messages.
package segmenter

import (
	"encoding/binary"
	"errors"
	"math/rand"
)

// DataCoding values carried in the submit_sm data_coding field.
type DataCoding byte

const (
	DataCodingGSM7 DataCoding = 0x00
	DataCodingUCS2 DataCoding = 0x08
)

// Name returns the human-readable encoding name stored on message rows.
func (d DataCoding) Name() string {
	if d == DataCodingUCS2 {
		return "UCS2"
	}
	return "GSM7"
}

// Part limits per GSM 03.38. Multipart limits leave room for the 6-byte UDH.
const (
	maxGSM7Single    = 160
	maxGSM7Multipart = 153
	maxUCS2Single    = 70
	maxUCS2Multipart = 67
)

// udhiFlag is the esm_class bit announcing a UDH at the start of the payload.
const udhiFlag = 0x40

// Result holds the wire-ready payloads for one message.
type Result struct {
	// Parts are the short_message payloads, UDH included when multipart.
	Parts [][]byte
	// Coding is the data_coding value to set on every part.
	Coding DataCoding
	// ESMClass carries the UDHI bit when Parts have a UDH prefix.
	ESMClass byte
	// CharacterCount is the length of the original text in characters.
	CharacterCount int
}

// Segmenter is the splitting contract injected into the outbound sender.
type Segmenter interface {
	Split(message string) (Result, error)
}

// GSMSegmenter implements Segmenter with the default alphabet tables.
type GSMSegmenter struct{}

func New() *GSMSegmenter {
	return &GSMSegmenter{}
}

var _ Segmenter = (*GSMSegmenter)(nil)

// Split segments message and reports the detected data coding.
func (s *GSMSegmenter) Split(message string) (Result, error) {
	if message == "" {
		return Result{}, errors.New("empty message")
	}

	if fitsGSM7(message) {
		return splitGSM7(message), nil
	}
	return splitUCS2(message), nil
}

func fitsGSM7(text string) bool {
	for _, r := range text {
		if _, ok := gsm7Default[r]; ok {
			continue
		}
		if _, ok := gsm7Ext[r]; ok {
			continue
		}
		return false
	}
	return true
}

// toSeptets maps runes to default-alphabet code points, escaping extension
// characters. Payloads carry one septet per byte; packing is left to the
// receiving SMSC, matching how the vendors accept data_coding 0.
func toSeptets(text string) []byte {
	septets := make([]byte, 0, len(text))
	for _, r := range text {
		if code, ok := gsm7Default[r]; ok {
			septets = append(septets, code)
		} else if ext, ok := gsm7Ext[r]; ok {
			septets = append(septets, 0x1B, ext)
		} else {
			septets = append(septets, gsm7Default['?'])
		}
	}
	return septets
}

// chunkSeptets splits septets into size-limited slices, never ending one on
// a lone escape byte.
func chunkSeptets(septets []byte, max int) [][]byte {
	var out [][]byte
	i := 0
	for i < len(septets) {
		limit := max
		if rest := len(septets) - i; rest < limit {
			limit = rest
		}
		if limit > 1 && septets[i+limit-1] == 0x1B {
			limit--
		}
		out = append(out, septets[i:i+limit])
		i += limit
	}
	return out
}

func splitGSM7(text string) Result {
	res := Result{Coding: DataCodingGSM7, CharacterCount: len([]rune(text))}
	septets := toSeptets(text)

	if len(septets) <= maxGSM7Single {
		res.Parts = [][]byte{septets}
		return res
	}

	chunks := chunkSeptets(septets, maxGSM7Multipart)
	ref := byte(rand.Intn(256))
	for i, chunk := range chunks {
		res.Parts = append(res.Parts, append(udh(ref, len(chunks), i+1), chunk...))
	}
	res.ESMClass = udhiFlag
	return res
}

func splitUCS2(text string) Result {
	runes := []rune(text)
	res := Result{Coding: DataCodingUCS2, CharacterCount: len(runes)}

	if len(runes) <= maxUCS2Single {
		res.Parts = [][]byte{encodeUCS2(runes)}
		return res
	}

	total := (len(runes) + maxUCS2Multipart - 1) / maxUCS2Multipart
	ref := byte(rand.Intn(256))
	for i := 0; i < total; i++ {
		start, end := i*maxUCS2Multipart, (i+1)*maxUCS2Multipart
		if end > len(runes) {
			end = len(runes)
		}
		res.Parts = append(res.Parts, append(udh(ref, total, i+1), encodeUCS2(runes[start:end])...))
	}
	res.ESMClass = udhiFlag
	return res
}

func encodeUCS2(runes []rune) []byte {
	buf := make([]byte, len(runes)*2)
	for i, r := range runes {
		binary.BigEndian.PutUint16(buf[i*2:], uint16(r))
	}
	return buf
}

// udh builds the 6-byte concatenation header: IEI 0x00, one-byte reference,
// total part count, and this part's 1-based sequence.
func udh(ref byte, total, seq int) []byte {
	return []byte{0x05, 0x00, 0x03, ref, byte(total), byte(seq)}
}
