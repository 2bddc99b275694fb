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
	"errors"
	"fmt"
)

// ErrorCode values follow the reader session error codes used by mobile
// NFC stacks, so sessions from any driver can be classified the same way.
type ErrorCode int

const (
	CodeUserCanceled                  ErrorCode = 200
	CodeSessionTimeout                ErrorCode = 201
	CodeSessionTerminatedUnexpectedly ErrorCode = 202
	CodeSystemIsBusy                  ErrorCode = 203
	CodeFirstNDEFTagRead              ErrorCode = 204
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUserCanceled:
		return "user canceled"
	case CodeSessionTimeout:
		return "session timeout"
	case CodeSessionTerminatedUnexpectedly:
		return "session terminated unexpectedly"
	case CodeSystemIsBusy:
		return "system is busy"
	case CodeFirstNDEFTagRead:
		return "first ndef tag read"
	default:
		return fmt.Sprintf("code %d", int(c))
	}
}

// ReaderError is the error carried by a session invalidation.
type ReaderError struct {
	Code    ErrorCode
	Message string
}

func NewReaderError(code ErrorCode, msg string) *ReaderError {
	return &ReaderError{Code: code, Message: msg}
}

func (e *ReaderError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrNoNdef             = errors.New("tag has no ndef message")
	ErrSessionInvalidated = errors.New("session has been invalidated")
	ErrDeviceGone         = errors.New("device disconnected")
	ErrNotConnected       = errors.New("reader is not connected")
	ErrWriteNotSupported  = errors.New("writing not supported on this reader")
	ErrTagReadOnly        = errors.New("tag is read only")
	ErrTagNotSupported    = errors.New("tag type does not support ndef")
	ErrNoTag              = errors.New("no tag detected")
)
