/*
TapRelay
Copyright (C) 2023, 2024 Callan Barrett

This file is part of TapRelay.

TapRelay is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TapRelay is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TapRelay.  If not, see <http://www.gnu.org/licenses/>.
*/

package tokens

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hsanjuan/go-ndef"
)

const (
	tlvNull       = 0x00
	tlvNdef       = 0x03
	tlvTerminator = 0xFE

	PayloadMimeType = "application/json"
)

var (
	ErrNoRecords    = errors.New("ndef message has no records")
	ErrNoNdefTlv    = errors.New("ndef tlv not found")
	ErrTlvTruncated = errors.New("ndef tlv is truncated")
)

// BlankMessage is a single empty record (TNF 0x00) with the MB, ME and SR
// flags set, used to format a tag that has no NDEF data.
var BlankMessage = []byte{0xD0, 0x00, 0x00}

// FirstRecordPayload decodes an NDEF message and returns the raw payload of
// its first record.
func FirstRecordPayload(message []byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, ErrNoRecords
	}

	msg := &ndef.Message{}
	_, err := msg.Unmarshal(message)
	if err != nil {
		return nil, fmt.Errorf("error decoding ndef message: %w", err)
	}

	if len(msg.Records) == 0 {
		return nil, ErrNoRecords
	}

	rp, err := msg.Records[0].Payload()
	if err != nil {
		return nil, fmt.Errorf("error decoding first record: %w", err)
	}
	if rp == nil {
		return []byte{}, nil
	}

	return rp.Marshal(), nil
}

// BuildIdMessage returns an NDEF message with a single application/json
// record holding {"id": n}.
func BuildIdMessage(id Identifier) ([]byte, error) {
	payload, err := json.Marshal(map[string]int64{"id": int64(id)})
	if err != nil {
		return nil, err
	}

	return BuildPayloadMessage(payload)
}

// BuildPayloadMessage wraps a raw payload in a single application/json
// record.
func BuildPayloadMessage(payload []byte) ([]byte, error) {
	msg := ndef.NewMediaMessage(PayloadMimeType, payload)
	return msg.Marshal()
}

// BuildBlankMessage returns a copy of BlankMessage.
func BuildBlankMessage() []byte {
	return append([]byte{}, BlankMessage...)
}

// WrapTLV wraps an NDEF message in a Type 2 tag NDEF TLV block followed by
// a terminator TLV, ready to be written from page 4.
func WrapTLV(message []byte) ([]byte, error) {
	header, err := tlvHeader(len(message))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(header)+len(message)+1)
	out = append(out, header...)
	out = append(out, message...)
	out = append(out, tlvTerminator)
	return out, nil
}

func tlvHeader(length int) ([]byte, error) {
	if length < 0xFF {
		return []byte{tlvNdef, byte(length)}, nil
	}

	if length > 0xFFFE {
		return nil, fmt.Errorf("ndef message too long: %d bytes", length)
	}

	// NFCForum-TS-Type-2-Tag_1.1 three byte length format
	buf := new(bytes.Buffer)
	err := binary.Write(buf, binary.BigEndian, uint16(length))
	if err != nil {
		return nil, err
	}

	return append([]byte{tlvNdef, 0xFF}, buf.Bytes()...), nil
}

// UnwrapTLV walks the TLV blocks of a Type 2 tag data area and returns the
// value of the first NDEF TLV.
func UnwrapTLV(data []byte) ([]byte, error) {
	i := 0
	for i < len(data) {
		t := data[i]
		i++

		switch t {
		case tlvNull:
			continue
		case tlvTerminator:
			return nil, ErrNoNdefTlv
		}

		if i >= len(data) {
			return nil, ErrTlvTruncated
		}

		length := int(data[i])
		i++
		if length == 0xFF {
			if i+2 > len(data) {
				return nil, ErrTlvTruncated
			}
			length = int(binary.BigEndian.Uint16(data[i : i+2]))
			i += 2
		}

		if i+length > len(data) {
			return nil, ErrTlvTruncated
		}

		if t == tlvNdef {
			return data[i : i+length], nil
		}

		// lock control, memory control or proprietary TLV
		i += length
	}

	return nil, ErrNoNdefTlv
}

// HasTerminator reports whether a partial read of tag memory already contains
// a complete NDEF TLV, so readers can stop fetching pages early.
func HasTerminator(data []byte) bool {
	_, err := UnwrapTLV(data)
	return err == nil || errors.Is(err, ErrNoNdefTlv) && bytes.IndexByte(data, tlvTerminator) >= 0
}
