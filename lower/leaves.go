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

package lower

import (
	"github.com/SnellerInc/distexec/job"
	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/types"
)

func checkCols(n physical.Node, cols []int, width int) error {
	for _, c := range cols {
		if c < 0 || c >= width {
			return reject(n, "column %d out of range for %d columns", c, width)
		}
	}
	return nil
}

func checkPreds(n physical.Node, preds []physical.Predicate, width int) error {
	for i := range preds {
		if !preds[i].Op.Valid() {
			return reject(n, "unknown comparison %q", preds[i].Op)
		}
		if err := checkCols(n, []int{preds[i].Column}, width); err != nil {
			return err
		}
	}
	return nil
}

func checkTable(n physical.Node, tbl *physical.Table) error {
	if tbl == nil {
		return reject(n, "no table")
	}
	if len(tbl.Keys) == 0 {
		return reject(n, "table %s has no key columns", tbl.ID)
	}
	return checkCols(n, tbl.Keys, len(tbl.Schema))
}

func (c *Context) tableScan(n *physical.TableScan) ([]stream, error) {
	tbl := n.Table
	if err := checkTable(n, tbl); err != nil {
		return nil, err
	}
	if err := checkPreds(n, n.Filter, len(tbl.Schema)); err != nil {
		return nil, err
	}
	schema := tbl.Schema
	if n.Selection != nil {
		if err := checkCols(n, n.Selection, len(schema)); err != nil {
			return nil, err
		}
		schema = schema.Select(n.Selection)
	}
	parts, err := c.partitions(n, tbl.ID)
	if err != nil {
		return nil, err
	}
	out := make([]stream, 0, len(parts))
	for i := range parts {
		p := &parts[i]
		t := c.taskAt(p.Location)
		op := c.put(t, &job.PartScanOperator{
			Table:     tbl.ID,
			Part:      p.ID,
			Schema:    tbl.Schema,
			Keys:      tbl.Keys,
			Filter:    n.Filter,
			Selection: n.Selection,
		})
		out = append(out, stream{task: t, op: op, part: p, schema: schema})
	}
	return out, nil
}

// getByKeys sends each constant key to the
// partition that owns it; keys that reference
// parameters go to every partition.
func (c *Context) getByKeys(n *physical.GetByKeys) ([]stream, error) {
	tbl := n.Table
	if err := checkTable(n, tbl); err != nil {
		return nil, err
	}
	if err := checkPreds(n, n.Filter, len(tbl.Schema)); err != nil {
		return nil, err
	}
	schema := tbl.Schema
	if n.Selection != nil {
		if err := checkCols(n, n.Selection, len(schema)); err != nil {
			return nil, err
		}
		schema = schema.Select(n.Selection)
	}
	parts, err := c.partitions(n, tbl.ID)
	if err != nil {
		return nil, err
	}
	keySchema := tbl.Schema.Select(tbl.Keys)
	keyCols := make([]int, len(keySchema))
	for i := range keyCols {
		keyCols[i] = i
	}
	lookups := make([][][]physical.Operand, len(parts))
	for _, key := range n.Keys {
		if len(key) != len(keySchema) {
			return nil, reject(n, "key %v has %d columns; table key has %d", key, len(key), len(keySchema))
		}
		tup := make(types.Tuple, len(key))
		constant := true
		for i := range key {
			if key[i].Param > 0 {
				constant = false
				break
			}
			v, err := keySchema[i].Type.Parse(key[i].Const)
			if err != nil {
				return nil, reject(n, "key column %d: %s", i, err)
			}
			tup[i] = v
		}
		if !constant {
			for i := range lookups {
				lookups[i] = append(lookups[i], key)
			}
			continue
		}
		b, err := types.Bucket(tup, keyCols, len(parts))
		if err != nil {
			return nil, reject(n, "hashing key: %s", err)
		}
		lookups[b] = append(lookups[b], key)
	}
	var out []stream
	for i := range parts {
		if len(lookups[i]) == 0 && (len(out) > 0 || i < len(parts)-1) {
			continue
		}
		p := &parts[i]
		t := c.taskAt(p.Location)
		op := c.put(t, &job.GetByKeysOperator{
			Table:     tbl.ID,
			Part:      p.ID,
			Schema:    tbl.Schema,
			Keys:      tbl.Keys,
			Lookup:    lookups[i],
			Filter:    n.Filter,
			Selection: n.Selection,
		})
		out = append(out, stream{task: t, op: op, part: p, schema: schema})
	}
	return out, nil
}

func (c *Context) values(n *physical.Values) ([]stream, error) {
	for i := range n.Rows {
		if err := n.Schema.Check(n.Rows[i]); err != nil {
			return nil, reject(n, "row %d: %s", i, err)
		}
	}
	if n.Table != nil {
		if err := checkTable(n, n.Table); err != nil {
			return nil, err
		}
		return c.distribute(n, n.Schema, n.Rows, n.Table, n.Table.Keys)
	}
	t := c.taskAt(c.opts.Coordinator)
	op := c.put(t, &job.ValuesOperator{Schema: n.Schema, Rows: n.Rows})
	return []stream{{task: t, op: op, schema: n.Schema}}, nil
}

// distribute places literal rows directly at the
// partitions of tbl that own them. If no partition
// owns any row, an empty feed is placed at the last
// partition so that the stream is not lost.
func (c *Context) distribute(n physical.Node, schema types.Schema, rows []types.Tuple, tbl *physical.Table, keys []int) ([]stream, error) {
	if err := checkCols(n, keys, len(schema)); err != nil {
		return nil, err
	}
	parts, err := c.partitions(n, tbl.ID)
	if err != nil {
		return nil, err
	}
	buckets := make([][]types.Tuple, len(parts))
	for _, row := range rows {
		b, err := types.Bucket(row, keys, len(parts))
		if err != nil {
			return nil, reject(n, "hashing row %s: %s", row, err)
		}
		buckets[b] = append(buckets[b], row)
	}
	var out []stream
	for i := range parts {
		if len(buckets[i]) == 0 && (len(out) > 0 || i < len(parts)-1) {
			continue
		}
		p := &parts[i]
		t := c.taskAt(p.Location)
		op := c.put(t, &job.ValuesOperator{Schema: schema, Rows: buckets[i]})
		out = append(out, stream{task: t, op: op, part: p, schema: schema})
	}
	return out, nil
}

// hash adds a router per input stream.
// Literal rows are routed right away.
func (c *Context) hash(n *physical.Hash) ([]stream, error) {
	if err := checkTable(n, n.Table); err != nil {
		return nil, err
	}
	keys := n.Keys
	if len(keys) == 0 {
		keys = n.Table.Keys
	}
	if v, ok := n.Input.(*physical.Values); ok && v.Table == nil {
		for i := range v.Rows {
			if err := v.Schema.Check(v.Rows[i]); err != nil {
				return nil, reject(v, "row %d: %s", i, err)
			}
		}
		return c.distribute(n, v.Schema, v.Rows, n.Table, keys)
	}
	in, err := c.walk(n.Input)
	if err != nil {
		return nil, err
	}
	if err := plain(n, in); err != nil {
		return nil, err
	}
	parts, err := c.partitions(n, n.Table.ID)
	if err != nil {
		return nil, err
	}
	out := make([]stream, len(in))
	for i := range in {
		s := &in[i]
		if err := checkCols(n, keys, len(s.schema)); err != nil {
			return nil, err
		}
		op := c.put(s.task, &job.HashOperator{Keys: keys, Buckets: len(parts)})
		attach(s, op, 0)
		out[i] = stream{task: s.task, op: op, part: s.part, schema: s.schema, hashed: parts}
	}
	return out, nil
}
