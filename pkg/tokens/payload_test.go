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
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifierRoundTrip(t *testing.T) {
	values := []int64{0, 1, 42, 255, 65536, math.MaxInt32, math.MaxInt64}

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		values = append(values, r.Int63())
	}

	for _, n := range values {
		payload := []byte(fmt.Sprintf(`{"id": %d}`, n))
		id, err := ParseIdentifier(payload)
		require.NoError(t, err, "payload %s", payload)
		assert.Equal(t, Identifier(n), id)
	}
}

func TestParseIdentifierAcceptsNegative(t *testing.T) {
	id, err := ParseIdentifier([]byte(`{"id": -7, "name": "fish"}`))
	require.NoError(t, err)
	assert.Equal(t, Identifier(-7), id)
}

func TestParseIdentifierRejects(t *testing.T) {
	tests := map[string]struct {
		input []byte
		want  error
	}{
		"invalid utf8":     {input: []byte{'{', '"', 0xff, 0xfe, '"', '}'}, want: ErrPayloadEncoding},
		"empty":            {input: []byte{}, want: ErrPayloadMalformed},
		"not json":         {input: []byte("id=5"), want: ErrPayloadMalformed},
		"truncated":        {input: []byte(`{"id": 5`), want: ErrPayloadMalformed},
		"array":            {input: []byte(`[{"id": 5}]`), want: ErrPayloadMalformed},
		"string":           {input: []byte(`"5"`), want: ErrPayloadMalformed},
		"number":           {input: []byte(`5`), want: ErrPayloadMalformed},
		"null":             {input: []byte(`null`), want: ErrPayloadMalformed},
		"trailing object":  {input: []byte(`{"id": 5} {"id": 6}`), want: ErrPayloadMalformed},
		"stray brace":      {input: []byte(`{"id": 5}}`), want: ErrPayloadMalformed},
		"stray bracket":    {input: []byte(`{"id": 5}]`), want: ErrPayloadMalformed},
		"stray closers":    {input: []byte(`{"id": 5}]]}`), want: ErrPayloadMalformed},
		"trailing garbage": {input: []byte(`{"id": 5}x`), want: ErrPayloadMalformed},
		"missing id":       {input: []byte(`{"uid": 5}`), want: ErrPayloadMissingId},
		"numeric string":   {input: []byte(`{"id": "5"}`), want: ErrPayloadMissingId},
		"float":            {input: []byte(`{"id": 5.5}`), want: ErrPayloadMissingId},
		"whole float":      {input: []byte(`{"id": 5.0}`), want: ErrPayloadMissingId},
		"exponent":         {input: []byte(`{"id": 1e3}`), want: ErrPayloadMissingId},
		"null id":          {input: []byte(`{"id": null}`), want: ErrPayloadMissingId},
		"bool id":          {input: []byte(`{"id": true}`), want: ErrPayloadMissingId},
		"overflow":         {input: []byte(`{"id": 9223372036854775808}`), want: ErrPayloadMissingId},
		"nested id":        {input: []byte(`{"data": {"id": 5}}`), want: ErrPayloadMissingId},
		"object id":        {input: []byte(`{"id": {"value": 5}}`), want: ErrPayloadMissingId},
		"case mismatch id": {input: []byte(`{"ID": 5}`), want: ErrPayloadMissingId},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			id, err := ParseIdentifier(tc.input)
			require.Error(t, err)
			assert.Zero(t, id)
			assert.True(t, errors.Is(err, tc.want), "got %v, want kind %v", err, tc.want)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
		})
	}
}

func TestIdentifierString(t *testing.T) {
	assert.Equal(t, "42", Identifier(42).String())
	assert.Equal(t, "-3", Identifier(-3).String())
	assert.Equal(t, "0", Identifier(0).String())
}
