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
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Identifier is the value of the "id" field stored on a tag.
type Identifier int64

func (id Identifier) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type ParseErrorKind int

const (
	ParseEncoding ParseErrorKind = iota
	ParseMalformed
	ParseMissingId
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParseEncoding:
		return "encoding"
	case ParseMalformed:
		return "malformed"
	case ParseMissingId:
		return "missing id"
	default:
		return "unknown"
	}
}

type ParseError struct {
	Kind   ParseErrorKind
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return "payload parse error: " + e.Kind.String()
	}
	return fmt.Sprintf("payload parse error: %s: %s", e.Kind, e.Reason)
}

// Is matches any *ParseError of the same kind, so callers can test against
// the exported sentinels with errors.Is.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrPayloadEncoding  = &ParseError{Kind: ParseEncoding}
	ErrPayloadMalformed = &ParseError{Kind: ParseMalformed}
	ErrPayloadMissingId = &ParseError{Kind: ParseMissingId}
)

// ParseIdentifier decodes a record payload as a UTF-8 JSON object and
// returns its integer "id" field. Numeric strings, floats and values that
// overflow an int64 are rejected. Zero and negative values are returned
// as-is.
func ParseIdentifier(payload []byte) (Identifier, error) {
	if !utf8.Valid(payload) {
		return 0, &ParseError{Kind: ParseEncoding, Reason: "payload is not valid utf-8"}
	}
	if !json.Valid(payload) {
		return 0, &ParseError{Kind: ParseMalformed, Reason: "payload is not valid json"}
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return 0, &ParseError{Kind: ParseMalformed, Reason: err.Error()}
	}
	if obj == nil {
		// a bare null decodes into a nil map
		return 0, &ParseError{Kind: ParseMalformed, Reason: "payload is not a json object"}
	}

	raw, ok := obj["id"]
	if !ok {
		return 0, &ParseError{Kind: ParseMissingId, Reason: "no id field"}
	}

	num, ok := raw.(json.Number)
	if !ok {
		return 0, &ParseError{Kind: ParseMissingId, Reason: fmt.Sprintf("id is %T, not an integer", raw)}
	}

	// json.Number keeps the literal, so 1.0 and 1e3 fail here as floats
	id, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return 0, &ParseError{Kind: ParseMissingId, Reason: "id is not an integer: " + num.String()}
	}

	return Identifier(id), nil
}
