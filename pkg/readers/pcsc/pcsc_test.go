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

package pcsc

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

// fakeCard answers ACR122 pseudo APDUs from an in-memory NTAG213.
type fakeCard struct {
	uid []byte
	mem [256 * 4]byte
}

func newFakeCard() *fakeCard {
	c := &fakeCard{uid: []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}}
	copy(c.mem[12:], []byte{0xE1, 0x10, 0x12, 0x00})
	return c
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) {
	switch {
	case bytes.Equal(cmd, apduGetUID):
		return append(append([]byte{}, c.uid...), 0x90, 0x00), nil
	case len(cmd) == 5 && cmd[0] == 0xFF && cmd[1] == 0xB0:
		start := int(cmd[3]) * 4
		out := append([]byte{}, c.mem[start:start+int(cmd[4])]...)
		return append(out, 0x90, 0x00), nil
	case len(cmd) == 9 && cmd[0] == 0xFF && cmd[1] == 0xD6:
		copy(c.mem[int(cmd[3])*4:], cmd[5:9])
		return []byte{0x90, 0x00}, nil
	}
	return []byte{0x6A, 0x81}, nil
}

type deadCard struct{}

func (deadCard) Transmit([]byte) ([]byte, error) {
	return []byte{0x63, 0x00}, nil
}

func TestGetUID(t *testing.T) {
	uid, err := getUID(newFakeCard())
	require.NoError(t, err)
	assert.Equal(t, "04112233445566", uid)

	_, err = getUID(deadCard{})
	assert.ErrorContains(t, err, "apdu failed: 6300")
}

func TestTransmitShortResponse(t *testing.T) {
	_, err := transmit(transmitterFunc(func([]byte) ([]byte, error) {
		return []byte{0x90}, nil
	}), apduGetUID)
	assert.ErrorContains(t, err, "short apdu response")
}

type transmitterFunc func([]byte) ([]byte, error)

func (f transmitterFunc) Transmit(cmd []byte) ([]byte, error) {
	return f(cmd)
}

func TestPageIOWriteRead(t *testing.T) {
	card := newFakeCard()
	r := &Reader{}
	tag := readers.NewType2Tag("04112233445566", tokens.TypeNTAG, &pageIO{r: r, card: card})

	status, capacity, err := tag.QueryNdefStatus()
	require.NoError(t, err)
	assert.Equal(t, readers.NdefReadWrite, status)
	assert.Equal(t, 144, capacity)

	msg, err := tokens.BuildIdMessage(1234)
	require.NoError(t, err)
	require.NoError(t, tag.WriteNdef(msg))

	got, err := tag.ReadNdef()
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestWritePageSize(t *testing.T) {
	assert.Error(t, writePage(newFakeCard(), 4, []byte{1, 2, 3}))
}

func TestClosedReader(t *testing.T) {
	r := NewReader(nil)
	assert.False(t, r.ReadingAvailable())

	_, err := r.Poll(context.Background())
	assert.ErrorIs(t, err, readers.ErrDeviceGone)

	assert.ErrorIs(t, r.ConnectTag(readers.NewType2Tag("01", tokens.TypeNTAG, nil)), readers.ErrNoTag)
	assert.NoError(t, r.Close())
}
