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
	"time"
)

const (
	TypeNTAG   = "NTAG"
	TypeMifare = "MIFARE"
	TypeISO    = "ISO14443"
	TypeFile   = "File"
	TypeSerial = "Serial"
)

// Token is a tag that was successfully read and parsed during a scan cycle.
type Token struct {
	Type      string
	UID       string
	Data      string
	ID        Identifier
	ScanTime  time.Time
	Source    string
	SessionID string
}

func TokensEqual(a, b *Token) bool {
	if a == nil && b == nil {
		return true
	} else if a == nil || b == nil {
		return false
	}

	return a.UID == b.UID && a.Data == b.Data
}
