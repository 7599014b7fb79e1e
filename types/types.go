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

// Package types defines the row types and tuple
// codecs shared by the planner, the runtime and
// the storage collaborator.
//
// A Tuple is a slice of column values. The only
// legal column values are nil, bool, int64, float64,
// string and *ion.Decimal; decimals are kept exact
// through every codec in this package.
package types

import (
	"fmt"
	"strings"

	"github.com/amazon-ion/ion-go/ion"
)

// Kind is the kind of a column value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Int
	Float
	String
	Decimal
)

var kindNames = [...]string{
	Null:    "null",
	Bool:    "bool",
	Int:     "int",
	Float:   "float",
	String:  "string",
	Decimal: "decimal",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses the result of Kind.String.
func ParseKind(s string) (Kind, error) {
	for i := range kindNames {
		if kindNames[i] == s {
			return Kind(i), nil
		}
	}
	return Null, fmt.Errorf("types: unknown kind %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Type is the type of a column.
type Type struct {
	Kind     Kind `json:"kind"`
	Nullable bool `json:"nullable,omitempty"`
}

func (t Type) String() string {
	if t.Nullable {
		return t.Kind.String() + "?"
	}
	return t.Kind.String()
}

// KindOf returns the kind of a column value,
// or an error if v is not a legal column value.
func KindOf(v any) (Kind, error) {
	switch v.(type) {
	case nil:
		return Null, nil
	case bool:
		return Bool, nil
	case int64:
		return Int, nil
	case float64:
		return Float, nil
	case string:
		return String, nil
	case *ion.Decimal:
		return Decimal, nil
	default:
		return Null, fmt.Errorf("types: %T is not a column value", v)
	}
}

// Convert coerces v into the representation used
// for columns of type t. Go integer and float types
// are widened; strings are parsed with Parse.
func (t Type) Convert(v any) (any, error) {
	if v == nil {
		if !t.Nullable {
			return nil, fmt.Errorf("types: null value for non-nullable %s", t)
		}
		return nil, nil
	}
	if s, ok := v.(string); ok && t.Kind != String {
		return t.Parse(s)
	}
	switch t.Kind {
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		}
	case Float:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Decimal:
		switch n := v.(type) {
		case *ion.Decimal:
			return n, nil
		case int64:
			return ion.NewDecimalInt(n), nil
		case int:
			return ion.NewDecimalInt(int64(n)), nil
		}
	}
	return nil, fmt.Errorf("types: cannot use %T as %s", v, t)
}

// Column is a named, typed column.
type Column struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Schema is an ordered list of columns.
type Schema []Column

// Select returns the sub-schema made up
// of the given column positions.
func (s Schema) Select(cols []int) Schema {
	out := make(Schema, len(cols))
	for i, c := range cols {
		out[i] = s[c]
	}
	return out
}

// Check returns an error if t does not
// have the shape and kinds described by s.
func (s Schema) Check(t Tuple) error {
	if len(t) != len(s) {
		return fmt.Errorf("types: tuple has %d columns; schema has %d", len(t), len(s))
	}
	for i := range t {
		k, err := KindOf(t[i])
		if err != nil {
			return err
		}
		if k == Null {
			if !s[i].Type.Nullable {
				return fmt.Errorf("types: column %q is not nullable", s[i].Name)
			}
			continue
		}
		if k != s[i].Type.Kind {
			return fmt.Errorf("types: column %q: got %s, want %s", s[i].Name, k, s[i].Type.Kind)
		}
	}
	return nil
}

func (s Schema) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i := range s {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(s[i].Name)
		b.WriteByte(' ')
		b.WriteString(s[i].Type.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Tuple is one row of column values.
type Tuple []any

// Select returns the columns of t at the given positions.
func (t Tuple) Select(cols []int) Tuple {
	out := make(Tuple, len(cols))
	for i, c := range cols {
		out[i] = t[c]
	}
	return out
}

// Equal compares two tuples column by column.
// Decimals are equal only if they have the same
// digits and the same scale.
func (t Tuple) Equal(o Tuple) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if !valueEqual(t[i], o[i]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	da, ok := a.(*ion.Decimal)
	if ok {
		db, ok := b.(*ion.Decimal)
		return ok && da.String() == db.String()
	}
	return a == b
}

func (t Tuple) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i := range t {
		if i > 0 {
			b.WriteString(", ")
		}
		switch v := t[i].(type) {
		case nil:
			b.WriteString("NULL")
		case string:
			fmt.Fprintf(&b, "%q", v)
		case *ion.Decimal:
			b.WriteString(v.String())
		default:
			fmt.Fprint(&b, v)
		}
	}
	b.WriteByte(']')
	return b.String()
}
