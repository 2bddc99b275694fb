/*
TapRelay
Copyright (C) 2023 Gareth Jones
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

package readers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

const (
	ccPage        = 0x03
	firstDataPage = 0x04
	ccMagic       = 0xE1
)

// PageIO is raw page access to an NFC Forum Type 2 tag (NTAG21x,
// Ultralight). Pages are 4 bytes.
type PageIO interface {
	// ReadPages returns 16 bytes starting at page.
	ReadPages(page byte) ([]byte, error)
	// WritePage writes exactly 4 bytes to page.
	WritePage(page byte, data []byte) error
}

// ReadCapabilityContainer decodes page 3 of a Type 2 tag.
func ReadCapabilityContainer(pio PageIO) (NdefStatus, int, error) {
	blocks, err := pio.ReadPages(ccPage)
	if err != nil {
		return NdefNotSupported, 0, err
	}
	if len(blocks) < 4 {
		return NdefNotSupported, 0, fmt.Errorf("short capability container read: %d bytes", len(blocks))
	}

	if blocks[0] != ccMagic {
		return NdefNotSupported, 0, nil
	}

	// https://github.com/adafruit/Adafruit_MFRC630/blob/master/docs/NTAG.md#capability-container
	capacity := int(blocks[2]) * 8
	access := blocks[3]

	if access>>4 != 0 {
		return NdefNotSupported, capacity, nil
	} else if access&0x0F == 0 {
		return NdefReadWrite, capacity, nil
	}

	return NdefReadOnly, capacity, nil
}

// ReadType2Ndef reads the data area until the NDEF TLV is complete and
// returns the message inside it.
func ReadType2Ndef(pio PageIO, capacity int) ([]byte, error) {
	data := make([]byte, 0, capacity+16)
	maxPage := firstDataPage + capacity/4

	for page := firstDataPage; page <= maxPage && page <= 0xFF; page += 4 {
		blocks, err := pio.ReadPages(byte(page))
		if err != nil {
			return nil, err
		}

		data = append(data, blocks...)

		if tokens.HasTerminator(data) {
			// no need to read the rest of the tag
			log.Debug().Msg("found end of ndef tlv")
			break
		}
	}

	msg, err := tokens.UnwrapTLV(data)
	if errors.Is(err, tokens.ErrNoNdefTlv) {
		return nil, ErrNoNdef
	} else if err != nil {
		return nil, err
	}

	if len(msg) == 0 {
		return nil, ErrNoNdef
	}

	return msg, nil
}

// WriteType2Ndef writes a message to the data area wrapped in a TLV block.
func WriteType2Ndef(pio PageIO, capacity int, message []byte) error {
	payload, err := tokens.WrapTLV(message)
	if err != nil {
		return err
	}

	if len(payload) > capacity {
		return fmt.Errorf("payload too big for tag: [%d/%d] bytes used", len(payload), capacity)
	}

	for i, chunk := range chunkBy(payload, 4) {
		for len(chunk) < 4 {
			chunk = append(chunk, 0x00)
		}
		err := pio.WritePage(byte(firstDataPage+i), chunk)
		if err != nil {
			return fmt.Errorf("error writing page %d: %w", firstDataPage+i, err)
		}
	}

	return nil
}

func chunkBy[T any](items []T, chunkSize int) (chunks [][]T) {
	for chunkSize < len(items) {
		items, chunks = items[chunkSize:], append(chunks, items[0:chunkSize:chunkSize])
	}
	return append(chunks, items)
}

// Type2Tag is a Tag backed by page access, used by the libnfc and PC/SC
// readers.
type Type2Tag struct {
	uid     string
	tagType string
	pio     PageIO

	mu       sync.Mutex
	queried  bool
	status   NdefStatus
	capacity int
}

func NewType2Tag(uid string, tagType string, pio PageIO) *Type2Tag {
	return &Type2Tag{
		uid:     uid,
		tagType: tagType,
		pio:     pio,
	}
}

func (t *Type2Tag) UID() string {
	return t.uid
}

func (t *Type2Tag) Type() string {
	return t.tagType
}

func (t *Type2Tag) QueryNdefStatus() (NdefStatus, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queried = false
	if err := t.ensureQueried(); err != nil {
		return NdefNotSupported, 0, err
	}

	return t.status, t.capacity, nil
}

func (t *Type2Tag) ensureQueried() error {
	if t.queried {
		return nil
	}

	status, capacity, err := ReadCapabilityContainer(t.pio)
	if err != nil {
		return err
	}

	t.queried = true
	t.status = status
	t.capacity = capacity
	return nil
}

func (t *Type2Tag) ReadNdef() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureQueried(); err != nil {
		return nil, err
	}
	if t.status == NdefNotSupported {
		return nil, ErrTagNotSupported
	}

	return ReadType2Ndef(t.pio, t.capacity)
}

func (t *Type2Tag) WriteNdef(message []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureQueried(); err != nil {
		return err
	}

	switch t.status {
	case NdefNotSupported:
		return ErrTagNotSupported
	case NdefReadOnly:
		return ErrTagReadOnly
	}

	return WriteType2Ndef(t.pio, t.capacity, message)
}
