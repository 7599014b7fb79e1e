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
	"strings"

	"github.com/SnellerInc/distexec/job"
	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/storage"
	"github.com/SnellerInc/distexec/types"
)

// chain appends one operator per stream,
// made by mk, in the stream's own task.
func (c *Context) chain(in []stream, schema types.Schema, mk func(s *stream) job.Operator) []stream {
	out := make([]stream, len(in))
	for i := range in {
		s := &in[i]
		op := c.put(s.task, mk(s))
		attach(s, op, 0)
		sc := schema
		if sc == nil {
			sc = s.schema
		}
		out[i] = stream{task: s.task, op: op, part: s.part, schema: sc}
	}
	return out
}

func width(in []stream) int {
	if len(in) == 0 {
		return 0
	}
	return len(in[0].schema)
}

func (c *Context) filter(n *physical.Filter, in []stream) ([]stream, error) {
	if err := checkPreds(n, n.Preds, width(in)); err != nil {
		return nil, err
	}
	return c.chain(in, nil, func(s *stream) job.Operator {
		return &job.FilterOperator{Schema: s.schema, Preds: n.Preds}
	}), nil
}

func (c *Context) project(n *physical.Project, in []stream) ([]stream, error) {
	if err := checkCols(n, n.Selection, width(in)); err != nil {
		return nil, err
	}
	var schema types.Schema
	if len(in) > 0 {
		schema = in[0].schema.Select(n.Selection)
	}
	return c.chain(in, schema, func(*stream) job.Operator {
		return &job.ProjectOperator{Selection: n.Selection}
	}), nil
}

// aggSchema returns the output type of n
// over rows of type in.
func aggSchema(n *physical.Aggregate, in types.Schema) (types.Schema, error) {
	if n.Reduce {
		if len(in) != len(n.GroupBy)+len(n.Calls) {
			return nil, reject(n, "reduce input has %d columns; want %d", len(in), len(n.GroupBy)+len(n.Calls))
		}
		return in, nil
	}
	if err := checkCols(n, n.GroupBy, len(in)); err != nil {
		return nil, err
	}
	out := append(types.Schema{}, in.Select(n.GroupBy)...)
	for _, call := range n.Calls {
		name := strings.ToLower(string(call.Func))
		if call.Func == physical.Count {
			out = append(out, types.Column{Name: name, Type: types.Type{Kind: types.Int}})
			continue
		}
		if err := checkCols(n, []int{call.Column}, len(in)); err != nil {
			return nil, err
		}
		typ := in[call.Column].Type
		typ.Nullable = true
		switch call.Func {
		case physical.Sum:
			switch typ.Kind {
			case types.Int, types.Float, types.Decimal:
			default:
				return nil, reject(n, "cannot sum %s column %d", typ.Kind, call.Column)
			}
		case physical.Min, physical.Max:
		default:
			return nil, reject(n, "unknown aggregate %q", call.Func)
		}
		out = append(out, types.Column{Name: name, Type: typ})
	}
	return out, nil
}

func (c *Context) aggregate(n *physical.Aggregate, in []stream) ([]stream, error) {
	var schema types.Schema
	if len(in) > 0 {
		var err error
		schema, err = aggSchema(n, in[0].schema)
		if err != nil {
			return nil, err
		}
	}
	return c.chain(in, schema, func(*stream) job.Operator {
		return &job.AggregateOperator{GroupBy: n.GroupBy, Calls: n.Calls, Reduce: n.Reduce}
	}), nil
}

func (c *Context) sort(n *physical.Sort, in []stream) ([]stream, error) {
	for _, col := range n.Columns {
		if err := checkCols(n, []int{col.Column}, width(in)); err != nil {
			return nil, err
		}
	}
	if n.Limit < 0 || n.Offset < 0 {
		return nil, reject(n, "negative limit or offset")
	}
	return c.chain(in, nil, func(*stream) job.Operator {
		return &job.SortOperator{Columns: n.Columns, Limit: n.Limit, Offset: n.Offset}
	}), nil
}

// colocation identifies streams that may be combined
// without moving data: same task, same partition.
type colocation struct {
	task job.Id
	part storage.PartID
}

func (s *stream) colocation() colocation {
	return colocation{task: s.task.ID, part: s.hint()}
}

func (c *Context) join(n *physical.HashJoin, left, right []stream) ([]stream, error) {
	if len(n.LeftKeys) == 0 || len(n.LeftKeys) != len(n.RightKeys) {
		return nil, reject(n, "join needs matching key lists")
	}
	if err := checkCols(n, n.LeftKeys, width(left)); err != nil {
		return nil, err
	}
	if err := checkCols(n, n.RightKeys, width(right)); err != nil {
		return nil, err
	}
	index := func(lst []stream) (map[colocation]*stream, error) {
		m := make(map[colocation]*stream, len(lst))
		for i := range lst {
			k := lst[i].colocation()
			if m[k] != nil {
				return nil, reject(n, "several input streams in task %s for partition %q; they must be coalesced", k.task, k.part)
			}
			m[k] = &lst[i]
		}
		return m, nil
	}
	rights, err := index(right)
	if err != nil {
		return nil, err
	}
	if _, err := index(left); err != nil {
		return nil, err
	}
	out := make([]stream, 0, len(left))
	for i := range left {
		l := &left[i]
		r := rights[l.colocation()]
		if r == nil {
			return nil, reject(n, "left input in task %s (partition %q) has no co-located right input", l.task.ID, l.hint())
		}
		delete(rights, l.colocation())
		op := c.put(l.task, &job.HashJoinOperator{LeftKeys: n.LeftKeys, RightKeys: n.RightKeys})
		attach(l, op, 0)
		attach(r, op, 1)
		schema := append(append(types.Schema{}, l.schema...), r.schema...)
		out = append(out, stream{task: l.task, op: op, part: l.part, schema: schema})
	}
	for k := range rights {
		return nil, reject(n, "right input in task %s (partition %q) has no co-located left input", k.task, k.part)
	}
	return out, nil
}

// ship connects s to a new send operator that
// targets a new receive operator in dst, and
// returns the receive side as a stream.
func (c *Context) ship(s *stream, dst *job.Task) stream {
	recv := c.put(dst, &job.ReceiveOperator{From: s.task.Location})
	send := c.put(s.task, &job.SendOperator{
		Target:      dst.Location,
		TargetTask:  dst.ID,
		TargetOp:    recv.ID(),
		Compression: c.compression(),
		BatchSize:   c.opts.BatchSize,
	})
	attach(s, send, 0)
	return stream{task: dst, op: recv, schema: s.schema}
}

func (c *Context) exchange(n *physical.Exchange, in []stream) ([]stream, error) {
	var out []stream
	if n.Root {
		coord := c.opts.Coordinator
		for i := range in {
			s := in[i]
			if s.hashed != nil {
				return nil, reject(n, "cannot gather the output of a Hash")
			}
			if s.task.Location == coord {
				s.part = nil
				out = append(out, s)
				continue
			}
			out = append(out, c.ship(&s, c.taskAt(coord)))
		}
		return out, nil
	}
	for i := range in {
		s := &in[i]
		if s.hashed == nil {
			// already placed by partition
			if s.part == nil {
				return nil, reject(n, "input must be a Hash")
			}
			out = append(out, *s)
			continue
		}
		for b := range s.hashed {
			p := &s.hashed[b]
			src := stream{task: s.task, op: s.op, out: b, schema: s.schema}
			if s.task.Location == p.Location {
				src.part = p
				out = append(out, src)
				continue
			}
			r := c.ship(&src, c.taskAt(p.Location))
			r.part = p
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Context) coalesce(n *physical.Coalesce, in []stream) ([]stream, error) {
	return c.merge(in), nil
}

// merge joins the streams of each (task, partition)
// group with two or more members into one coalesce;
// other streams pass.
func (c *Context) merge(in []stream) []stream {
	var order []colocation
	groups := make(map[colocation][]*stream)
	for i := range in {
		k := in[i].colocation()
		if groups[k] == nil {
			order = append(order, k)
		}
		groups[k] = append(groups[k], &in[i])
	}
	out := make([]stream, 0, len(order))
	for _, k := range order {
		g := groups[k]
		if len(g) == 1 {
			out = append(out, *g[0])
			continue
		}
		op := c.put(g[0].task, &job.CoalesceOperator{Inputs: len(g)})
		for i := range g {
			attach(g[i], op, i)
		}
		out = append(out, stream{task: g[0].task, op: op, part: g[0].part, schema: g[0].schema})
	}
	return out
}

var countSchema = types.Schema{{Name: "count", Type: types.Type{Kind: types.Int}}}

func (c *Context) modify(n *physical.PartModify, in []stream) ([]stream, error) {
	tbl := n.Table
	if err := checkTable(n, tbl); err != nil {
		return nil, err
	}
	switch n.Op {
	case physical.Insert, physical.Update, physical.Delete:
	default:
		return nil, reject(n, "unknown modification %q", n.Op)
	}
	for i := range in {
		s := &in[i]
		if s.part == nil {
			return nil, reject(n, "input is not bound to a partition of %s", tbl.ID)
		}
		if s.part.Location != s.task.Location {
			return nil, reject(n, "partition %s is served at %s, not %s", s.part.ID, s.part.Location, s.task.Location)
		}
		if n.Op == physical.Delete {
			if err := checkCols(n, tbl.Keys, len(s.schema)); err != nil {
				return nil, err
			}
		} else if len(s.schema) != len(tbl.Schema) {
			return nil, reject(n, "input has %d columns; %s has %d", len(s.schema), tbl.ID, len(tbl.Schema))
		}
	}
	// one sink per partition
	in = c.merge(in)
	out := make([]stream, len(in))
	for i := range in {
		s := &in[i]
		op := c.put(s.task, &job.PartModifyOperator{
			Table:  tbl.ID,
			Part:   s.part.ID,
			Schema: tbl.Schema,
			Keys:   tbl.Keys,
			Op:     n.Op,
		})
		attach(s, op, 0)
		out[i] = stream{task: s.task, op: op, part: s.part, schema: countSchema}
	}
	return out, nil
}

func (c *Context) rootNode(n *physical.Root) ([]stream, error) {
	if c.root {
		return nil, reject(n, "a job has at most one Root")
	}
	c.root = true
	in, err := c.walk(n.Input)
	if err != nil {
		return nil, err
	}
	if err := plain(n, in); err != nil {
		return nil, err
	}
	if len(in) != 1 {
		return nil, reject(n, "input has %d streams; want exactly one", len(in))
	}
	s := &in[0]
	if s.task.Location != c.opts.Coordinator {
		return nil, reject(n, "input is at %s, not at the coordinator %s", s.task.Location, c.opts.Coordinator)
	}
	op := c.put(s.task, &job.RootOperator{Schema: s.schema})
	attach(s, op, 0)
	return nil, nil
}
