// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package types

import (
	"fmt"
	"strconv"

	"github.com/amazon-ion/ion-go/ion"
)

// NullText is the text form of a null value.
const NullText = "NULL"

// Format returns the text form of v as a column of type t.
// The result can be turned back into an identical value
// with t.Parse.
func (t Type) Format(v any) (string, error) {
	if v == nil {
		if !t.Nullable {
			return "", fmt.Errorf("types: null value for non-nullable %s", t)
		}
		return NullText, nil
	}
	switch t.Kind {
	case Bool:
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b), nil
		}
	case Int:
		if n, ok := v.(int64); ok {
			return strconv.FormatInt(n, 10), nil
		}
	case Float:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
	case String:
		if s, ok := v.(string); ok {
			// quote strings so that the literal
			// string "NULL" survives a round-trip
			return strconv.Quote(s), nil
		}
	case Decimal:
		if d, ok := v.(*ion.Decimal); ok {
			return d.String(), nil
		}
	}
	return "", fmt.Errorf("types: cannot format %T as %s", v, t)
}

// Parse parses the result of Format.
func (t Type) Parse(s string) (any, error) {
	if s == NullText {
		if !t.Nullable {
			return nil, fmt.Errorf("types: null value for non-nullable %s", t)
		}
		return nil, nil
	}
	switch t.Kind {
	case Bool:
		return strconv.ParseBool(s)
	case Int:
		return strconv.ParseInt(s, 10, 64)
	case Float:
		return strconv.ParseFloat(s, 64)
	case String:
		if len(s) > 0 && s[0] == '"' {
			return strconv.Unquote(s)
		}
		return s, nil
	case Decimal:
		d, err := ion.ParseDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("types: parsing decimal %q: %w", s, err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("types: cannot parse values of kind %s", t.Kind)
}

// FormatTuple formats every column of tup
// with the corresponding column type in s.
func (s Schema) FormatTuple(tup Tuple) ([]string, error) {
	if len(tup) != len(s) {
		return nil, fmt.Errorf("types: tuple has %d columns; schema has %d", len(tup), len(s))
	}
	out := make([]string, len(tup))
	for i := range tup {
		str, err := s[i].Type.Format(tup[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", s[i].Name, err)
		}
		out[i] = str
	}
	return out, nil
}

// ParseTuple is the inverse of FormatTuple.
func (s Schema) ParseTuple(text []string) (Tuple, error) {
	if len(text) != len(s) {
		return nil, fmt.Errorf("types: %d values for %d columns", len(text), len(s))
	}
	out := make(Tuple, len(text))
	for i := range text {
		v, err := s[i].Type.Parse(text[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", s[i].Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// ConvertTuple applies Type.Convert to every column.
func (s Schema) ConvertTuple(tup []any) (Tuple, error) {
	if len(tup) != len(s) {
		return nil, fmt.Errorf("types: %d values for %d columns", len(tup), len(s))
	}
	out := make(Tuple, len(tup))
	for i := range tup {
		v, err := s[i].Type.Convert(tup[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", s[i].Name, err)
		}
		out[i] = v
	}
	return out, nil
}
