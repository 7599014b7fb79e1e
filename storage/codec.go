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

package storage

import (
	"fmt"

	"github.com/SnellerInc/distexec/types"
)

// Codec maps tuples of a table onto key/value
// pairs. The key holds the columns listed in Keys
// (in that order); the value holds every other
// column in schema order.
type Codec struct {
	Schema types.Schema
	Keys   []int

	values []int
}

// NewCodec builds a Codec and validates the key mapping.
func NewCodec(schema types.Schema, keys []int) (*Codec, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("storage: codec needs at least one key column")
	}
	iskey := make([]bool, len(schema))
	for _, k := range keys {
		if k < 0 || k >= len(schema) {
			return nil, fmt.Errorf("storage: key column %d out of range", k)
		}
		if iskey[k] {
			return nil, fmt.Errorf("storage: duplicate key column %d", k)
		}
		iskey[k] = true
	}
	c := &Codec{Schema: schema, Keys: keys}
	for i := range schema {
		if !iskey[i] {
			c.values = append(c.values, i)
		}
	}
	return c, nil
}

// Encode converts a full tuple into a KeyValue.
func (c *Codec) Encode(t types.Tuple) (KeyValue, error) {
	if err := c.Schema.Check(t); err != nil {
		return KeyValue{}, err
	}
	key, err := types.AppendTuple(nil, t.Select(c.Keys))
	if err != nil {
		return KeyValue{}, err
	}
	val, err := types.AppendTuple(nil, t.Select(c.values))
	if err != nil {
		return KeyValue{}, err
	}
	return KeyValue{Key: key, Value: val}, nil
}

// EncodeKey encodes only the key columns, given
// in the order listed by Keys.
func (c *Codec) EncodeKey(key types.Tuple) ([]byte, error) {
	if len(key) != len(c.Keys) {
		return nil, fmt.Errorf("storage: key has %d columns; want %d", len(key), len(c.Keys))
	}
	return types.AppendTuple(nil, key)
}

// Decode is the inverse of Encode.
func (c *Codec) Decode(kv KeyValue) (types.Tuple, error) {
	key, rest, err := types.ReadTuple(kv.Key)
	if err != nil {
		return nil, fmt.Errorf("storage: decoding key: %w", err)
	}
	if len(rest) != 0 || len(key) != len(c.Keys) {
		return nil, fmt.Errorf("storage: malformed key")
	}
	val, rest, err := types.ReadTuple(kv.Value)
	if err != nil {
		return nil, fmt.Errorf("storage: decoding value: %w", err)
	}
	if len(rest) != 0 || len(val) != len(c.values) {
		return nil, fmt.Errorf("storage: malformed value")
	}
	out := make(types.Tuple, len(c.Schema))
	for i, k := range c.Keys {
		out[k] = key[i]
	}
	for i, v := range c.values {
		out[v] = val[i]
	}
	return out, nil
}
