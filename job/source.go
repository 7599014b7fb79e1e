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

package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/storage"
	"github.com/SnellerInc/distexec/types"
)

// DefaultBlockSize is the number of rows
// a scan returns from one call to Next.
const DefaultBlockSize = 256

// leaf implements the input side of sources,
// which have no input slots.
type leaf struct {
	Base
}

func (l *leaf) Push(slot int, t types.Tuple) error {
	return fmt.Errorf("operator %s has no inputs", l.id)
}

// Fin is called by the runtime once
// the unit driving the source ends.
func (l *leaf) Fin(slot int, st *Status) { l.finish(st) }

// ValuesOperator produces a fixed set of rows.
type ValuesOperator struct {
	leaf
	Schema types.Schema
	Rows   []types.Tuple

	done bool
}

func (v *ValuesOperator) Kind() Kind { return KindValues }

func (v *ValuesOperator) Init(env *Env) error {
	for i := range v.Rows {
		if err := v.Schema.Check(v.Rows[i]); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

func (v *ValuesOperator) Reset(types.Tuple) { v.done = false }

func (v *ValuesOperator) Next(ctx context.Context) ([]types.Tuple, error) {
	if v.done {
		return nil, io.EOF
	}
	v.done = true
	return v.Rows, nil
}

func (v *ValuesOperator) describe(func(Id) string) string {
	return fmt.Sprintf("values %s (%d rows)", v.Schema, len(v.Rows))
}

type valuesSpec struct {
	Schema types.Schema `json:"schema"`
	Rows   [][]string   `json:"rows,omitempty"`
}

func (v *ValuesOperator) MarshalJSON() ([]byte, error) {
	spec := valuesSpec{Schema: v.Schema, Rows: make([][]string, len(v.Rows))}
	for i := range v.Rows {
		text, err := v.Schema.FormatTuple(v.Rows[i])
		if err != nil {
			return nil, err
		}
		spec.Rows[i] = text
	}
	return json.Marshal(&spec)
}

func (v *ValuesOperator) UnmarshalJSON(b []byte) error {
	var spec valuesSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return err
	}
	v.Schema = spec.Schema
	v.Rows = make([]types.Tuple, len(spec.Rows))
	for i := range spec.Rows {
		t, err := v.Schema.ParseTuple(spec.Rows[i])
		if err != nil {
			return err
		}
		v.Rows[i] = t
	}
	return nil
}

// PartScanOperator scans one partition of a table.
type PartScanOperator struct {
	leaf
	Table     string               `json:"table"`
	Part      storage.PartID       `json:"part"`
	Schema    types.Schema         `json:"schema"`
	Keys      []int                `json:"keys"`
	Filter    []physical.Predicate `json:"filter,omitempty"`
	Selection []int                `json:"selection,omitempty"`
	BlockSize int                  `json:"blockSize,omitempty"`

	codec   *storage.Codec
	preds   []boundPred
	bindErr error
	iter    storage.Iterator
	eof     bool
}

func (s *PartScanOperator) Kind() Kind { return KindPartScan }

func (s *PartScanOperator) Init(env *Env) error {
	if env == nil || env.Store == nil {
		return fmt.Errorf("no store for partition %s", s.Part)
	}
	c, err := storage.NewCodec(s.Schema, s.Keys)
	if err != nil {
		return err
	}
	s.codec = c
	if err := checkPredicates(s.Schema, s.Filter); err != nil {
		return err
	}
	return checkColumns(s.Schema, s.Selection)
}

func (s *PartScanOperator) Reset(params types.Tuple) {
	if s.iter != nil {
		s.iter.Close()
		s.iter = nil
	}
	s.eof = false
	s.preds, s.bindErr = bindPredicates(s.Schema, s.Filter, params)
}

func (s *PartScanOperator) Next(ctx context.Context) ([]types.Tuple, error) {
	if s.bindErr != nil {
		return nil, s.bindErr
	}
	if s.eof {
		return nil, io.EOF
	}
	if s.iter == nil {
		it, err := s.env.Store.Scan(ctx, s.Part, nil, nil)
		if err != nil {
			return nil, err
		}
		s.iter = it
	}
	size := s.BlockSize
	if size <= 0 {
		size = DefaultBlockSize
	}
	var block []types.Tuple
	for len(block) < size {
		kv, err := s.iter.Next()
		if errors.Is(err, io.EOF) {
			s.eof = true
			s.iter.Close()
			s.iter = nil
			break
		}
		if err != nil {
			return nil, err
		}
		t, err := s.codec.Decode(kv)
		if err != nil {
			return nil, err
		}
		ok, err := matchAll(s.preds, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if s.Selection != nil {
			t = t.Select(s.Selection)
		}
		block = append(block, t)
	}
	if len(block) == 0 && s.eof {
		return nil, io.EOF
	}
	return block, nil
}

func (s *PartScanOperator) describe(func(Id) string) string {
	str := fmt.Sprintf("partScan %s/%s", s.Table, s.Part)
	return str + filterSuffix(s.Filter, s.Selection)
}

// GetByKeysOperator looks up rows of one
// partition by primary key.
type GetByKeysOperator struct {
	leaf
	Table  string         `json:"table"`
	Part   storage.PartID `json:"part"`
	Schema types.Schema   `json:"schema"`
	Keys   []int          `json:"keys"`
	// Lookup holds one operand per key column
	// for every key to look up.
	Lookup    [][]physical.Operand `json:"lookup"`
	Filter    []physical.Predicate `json:"filter,omitempty"`
	Selection []int                `json:"selection,omitempty"`

	codec   *storage.Codec
	keys    []types.Tuple
	preds   []boundPred
	bindErr error
	done    bool
}

func (g *GetByKeysOperator) Kind() Kind { return KindGetByKeys }

func (g *GetByKeysOperator) Init(env *Env) error {
	if env == nil || env.Store == nil {
		return fmt.Errorf("no store for partition %s", g.Part)
	}
	c, err := storage.NewCodec(g.Schema, g.Keys)
	if err != nil {
		return err
	}
	g.codec = c
	for i := range g.Lookup {
		if len(g.Lookup[i]) != len(g.Keys) {
			return fmt.Errorf("lookup key %d has %d columns; table key has %d", i, len(g.Lookup[i]), len(g.Keys))
		}
	}
	if err := checkPredicates(g.Schema, g.Filter); err != nil {
		return err
	}
	return checkColumns(g.Schema, g.Selection)
}

func (g *GetByKeysOperator) Reset(params types.Tuple) {
	g.done = false
	g.preds, g.bindErr = bindPredicates(g.Schema, g.Filter, params)
	if g.bindErr != nil {
		return
	}
	keySchema := g.Schema.Select(g.Keys)
	g.keys = make([]types.Tuple, len(g.Lookup))
	for i, lookup := range g.Lookup {
		key := make(types.Tuple, len(lookup))
		for j := range lookup {
			v, err := bindOperand(keySchema[j].Type, lookup[j], params)
			if err != nil {
				g.bindErr = fmt.Errorf("lookup key %d: %w", i, err)
				return
			}
			key[j] = v
		}
		g.keys[i] = key
	}
}

func (g *GetByKeysOperator) Next(ctx context.Context) ([]types.Tuple, error) {
	if g.bindErr != nil {
		return nil, g.bindErr
	}
	if g.done {
		return nil, io.EOF
	}
	g.done = true
	var block []types.Tuple
	for _, key := range g.keys {
		kb, err := g.codec.EncodeKey(key)
		if err != nil {
			return nil, err
		}
		val, err := g.env.Store.Get(ctx, g.Part, kb)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		t, err := g.codec.Decode(storage.KeyValue{Key: kb, Value: val})
		if err != nil {
			return nil, err
		}
		ok, err := matchAll(g.preds, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if g.Selection != nil {
			t = t.Select(g.Selection)
		}
		block = append(block, t)
	}
	return block, nil
}

func (g *GetByKeysOperator) describe(func(Id) string) string {
	str := fmt.Sprintf("getByKeys %s/%s (%d keys)", g.Table, g.Part, len(g.Lookup))
	return str + filterSuffix(g.Filter, g.Selection)
}
