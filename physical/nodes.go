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

package physical

import (
	"fmt"
	"strings"

	"github.com/SnellerInc/distexec/types"
)

// TableScan reads every partition of a table.
type TableScan struct {
	Placement
	Table *Table
	// Filter, if non-empty, is applied while scanning.
	Filter []Predicate
	// Selection, if non-nil, projects the scanned rows.
	Selection []int
}

func (s *TableScan) Inputs() []Node { return nil }

func (s *TableScan) String() string {
	str := "TableScan " + s.Table.ID
	if len(s.Filter) > 0 {
		str += " WHERE " + predString(s.Filter)
	}
	if s.Selection != nil {
		str += " SELECT " + ints(s.Selection)
	}
	return str
}

// GetByKeys performs primary-key lookups.
// Each element of Keys is one key tuple with
// one Operand per table key column.
type GetByKeys struct {
	Placement
	Table     *Table
	Keys      [][]Operand
	Filter    []Predicate
	Selection []int
}

func (g *GetByKeys) Inputs() []Node { return nil }

func (g *GetByKeys) String() string {
	return fmt.Sprintf("GetByKeys %s (%d keys)", g.Table.ID, len(g.Keys))
}

// Values is a literal row feed. If Table is set, the
// rows are distributed to the partitions of Table by
// primary key when the plan is lowered.
type Values struct {
	Placement
	Schema types.Schema
	Rows   []types.Tuple
	Table  *Table
}

func (v *Values) Inputs() []Node { return nil }

func (v *Values) String() string {
	if v.Table != nil {
		return fmt.Sprintf("Values (%d rows) INTO %s", len(v.Rows), v.Table.ID)
	}
	return fmt.Sprintf("Values (%d rows)", len(v.Rows))
}

// Filter keeps the rows that satisfy
// every predicate.
type Filter struct {
	Placement
	Input Node
	Preds []Predicate
}

func (f *Filter) Inputs() []Node { return []Node{f.Input} }

func (f *Filter) String() string { return "Filter " + predString(f.Preds) }

// Project selects columns by position.
type Project struct {
	Placement
	Input     Node
	Selection []int
}

func (p *Project) Inputs() []Node { return []Node{p.Input} }

func (p *Project) String() string { return "Project " + ints(p.Selection) }

// Aggregate groups rows by the GroupBy columns
// and computes Calls. Output rows are the group
// columns followed by one column per call.
//
// When Reduce is set, the input rows are the output
// of another Aggregate with the same shape, and the
// partial results are combined instead of recomputed.
type Aggregate struct {
	Placement
	Input   Node
	GroupBy []int
	Calls   []AggCall
	Reduce  bool
}

func (a *Aggregate) Inputs() []Node { return []Node{a.Input} }

func (a *Aggregate) String() string {
	calls := make([]string, len(a.Calls))
	for i := range a.Calls {
		calls[i] = a.Calls[i].String()
	}
	str := "Aggregate " + strings.Join(calls, ", ")
	if len(a.GroupBy) > 0 {
		str += " GROUP BY " + ints(a.GroupBy)
	}
	if a.Reduce {
		str += " (reduce)"
	}
	return str
}

// Sort orders rows, with an optional Limit
// (zero means unlimited) and Offset.
type Sort struct {
	Placement
	Input   Node
	Columns []SortColumn
	Limit   int
	Offset  int
}

func (s *Sort) Inputs() []Node { return []Node{s.Input} }

func (s *Sort) String() string {
	var b strings.Builder
	b.WriteString("Sort")
	for i := range s.Columns {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, " $%d", s.Columns[i].Column)
		if s.Columns[i].Desc {
			b.WriteString(" DESC")
		}
	}
	if s.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
	}
	if s.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", s.Offset)
	}
	return b.String()
}

// HashJoin is an inner equi-join. Output rows are
// the left columns followed by the right columns.
// Both inputs must already be co-located.
type HashJoin struct {
	Placement
	Left, Right         Node
	LeftKeys, RightKeys []int
}

func (j *HashJoin) Inputs() []Node { return []Node{j.Left, j.Right} }

func (j *HashJoin) String() string {
	return fmt.Sprintf("HashJoin %s = %s", ints(j.LeftKeys), ints(j.RightKeys))
}

// Hash routes every row to one of the partitions
// of Table by hashing Keys. When Keys is empty,
// the primary key of Table is used.
type Hash struct {
	Placement
	Input Node
	Keys  []int
	Table *Table
}

func (h *Hash) Inputs() []Node { return []Node{h.Input} }

func (h *Hash) String() string {
	return fmt.Sprintf("Hash %s BY %s", h.Table.ID, ints(h.Keys))
}

// Exchange moves data between locations. With Root set,
// everything goes to the coordinator; otherwise the input
// must be a Hash and each row goes to its hash destination.
type Exchange struct {
	Placement
	Input Node
	Root  bool
}

func (e *Exchange) Inputs() []Node { return []Node{e.Input} }

func (e *Exchange) String() string {
	if e.Root {
		return "Exchange ROOT"
	}
	return "Exchange"
}

// Coalesce merges co-located streams into one.
// The merged stream has no ordering guarantee.
type Coalesce struct {
	Placement
	Input Node
}

func (c *Coalesce) Inputs() []Node { return []Node{c.Input} }

func (c *Coalesce) String() string { return "Coalesce" }

// PartModify applies a mutation to the partitions
// of Table. For DELETE, the input rows must carry
// at least the key columns at their table positions.
type PartModify struct {
	Placement
	Input Node
	Table *Table
	Op    ModifyOp
}

func (p *PartModify) Inputs() []Node { return []Node{p.Input} }

func (p *PartModify) String() string {
	return fmt.Sprintf("PartModify %s %s", p.Op, p.Table.ID)
}

// Root collects the final result on the coordinator.
type Root struct {
	Placement
	Input Node
}

func (r *Root) Inputs() []Node { return []Node{r.Input} }

func (r *Root) String() string { return "Root" }
