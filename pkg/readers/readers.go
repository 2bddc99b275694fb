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

package readers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wizzomafizzo/taprelay/pkg/tokens"
	"golang.org/x/exp/slices"
)

type NdefStatus int

const (
	NdefNotSupported NdefStatus = iota
	NdefReadWrite
	NdefReadOnly
)

func (s NdefStatus) String() string {
	switch s {
	case NdefReadWrite:
		return "read/write"
	case NdefReadOnly:
		return "read only"
	default:
		return "not supported"
	}
}

// Tag is a handle to a tag currently in the field of a reader.
type Tag interface {
	UID() string
	Type() string
	// QueryNdefStatus reports whether the tag holds NDEF data and its
	// capacity in bytes.
	QueryNdefStatus() (NdefStatus, int, error)
	// ReadNdef returns the raw NDEF message stored on the tag. A tag with
	// no message returns ErrNoNdef.
	ReadNdef() ([]byte, error)
	// WriteNdef replaces the NDEF message stored on the tag.
	WriteNdef(message []byte) error
}

// Scan is one detection cycle of a session. Tags may be empty.
type Scan struct {
	Session Session
	Tags    []Tag
}

// Invalidation is delivered exactly once when a session ends, for any
// reason. Err is always a *ReaderError.
type Invalidation struct {
	Session Session
	Err     error
}

// Sink is where a session delivers its messages. Sends are abandoned once
// Done is closed.
type Sink struct {
	Scans         chan<- Scan
	Invalidations chan<- Invalidation
	Done          <-chan struct{}
}

type SessionOptions struct {
	// Timeout ends the session with CodeSessionTimeout. Zero uses
	// DefaultSessionTimeout.
	Timeout time.Duration
	// StopAfterFirstRead ends the session with CodeFirstNDEFTagRead on
	// the first CompleteRead instead of resuming.
	StopAfterFirstRead bool
	// PollInterval is the delay between polls. Zero uses
	// DefaultPollInterval.
	PollInterval time.Duration
	// Message is shown to the user by readers with a display.
	Message string
}

const (
	DefaultSessionTimeout = 60 * time.Second
	DefaultPollInterval   = 250 * time.Millisecond
	MaxPollErrors         = 5
)

type Session interface {
	Id() string
	// Begin starts polling. Scans are paused after each delivery until
	// RestartPolling is called.
	Begin() error
	// Connect prepares a detected tag for I/O.
	Connect(tag Tag) error
	// RestartPolling resumes after a scan that produced no read.
	RestartPolling()
	// CompleteRead resumes after a tag was read successfully, or ends the
	// session with CodeFirstNDEFTagRead in first-read mode.
	CompleteRead()
	// Invalidate ends the session with CodeUserCanceled.
	Invalidate(msg string)
}

type Reader interface {
	// Ids returns the device string prefixes this reader handles.
	Ids() []string
	// Open any necessary connections to the device.
	// Takes a device connection string.
	Open(string) error
	// Close any open connections to the device. Any live session is
	// invalidated.
	Close() error
	// Detect attempts to search for a connected device and returns the device
	// connection string. If no device is found, an empty string is returned.
	// Takes a list of currently connected device strings.
	Detect([]string) string
	// Device returns the device connection string.
	Device() string
	// ReadingAvailable returns true if the device is connected and can run
	// scan sessions.
	ReadingAvailable() bool
	// Info returns a string with information about the connected device.
	Info() string
	// NewSession creates a scan session which is not started until Begin.
	// Only one session may be live per reader.
	NewSession(opts SessionOptions, sink Sink) (Session, error)
	// Write waits for a tag and writes an NDEF message to it. Blocking.
	Write(ctx context.Context, message []byte) (*tokens.Token, error)
}

// ParseDevice splits a device connection string into its reader id and path,
// checking the id is one of ids.
func ParseDevice(device string, ids []string) (string, string, error) {
	ps := strings.SplitN(device, ":", 2)
	if len(ps) != 2 {
		return "", "", errors.New("invalid device string: " + device)
	}

	if !slices.Contains(ids, ps[0]) {
		return "", "", errors.New("invalid reader id: " + ps[0])
	}

	return ps[0], ps[1], nil
}
