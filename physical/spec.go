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

	"github.com/SnellerInc/distexec/types"

	"sigs.k8s.io/yaml"
)

// ParseTrait parses the result of Trait.String.
func ParseTrait(s string) (Trait, error) {
	for t := Single; t <= Coordinator; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return Single, fmt.Errorf("unknown trait %q", s)
}

// Spec is the declarative form of a plan,
// as found in plan files. Op selects the node
// kind; the other fields apply to the kinds
// that use them.
type Spec struct {
	Op string `json:"op"`
	// Trait overrides the default placement of Op.
	Trait string `json:"trait,omitempty"`

	Input *Spec `json:"input,omitempty"`
	Left  *Spec `json:"left,omitempty"`
	Right *Spec `json:"right,omitempty"`

	// scan, lookup, values (distribute into),
	// hash and modify
	Table  string      `json:"table,omitempty"`
	Filter []Predicate `json:"filter,omitempty"`
	Select []int       `json:"select,omitempty"`
	Keys   [][]Operand `json:"keys,omitempty"`

	// values
	Schema types.Schema `json:"schema,omitempty"`
	Rows   [][]string   `json:"rows,omitempty"`

	// aggregate
	GroupBy []int     `json:"groupBy,omitempty"`
	Calls   []AggCall `json:"calls,omitempty"`
	Reduce  bool      `json:"reduce,omitempty"`

	// sort
	Order  []SortColumn `json:"order,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`

	// join and hash
	LeftKeys  []int `json:"leftKeys,omitempty"`
	RightKeys []int `json:"rightKeys,omitempty"`
	HashKeys  []int `json:"hashKeys,omitempty"`

	// exchange
	Root bool `json:"root,omitempty"`

	// modify
	Modify ModifyOp `json:"modify,omitempty"`
}

// ParsePlan decodes a YAML plan file and builds
// it against the given catalog.
func ParsePlan(data []byte, catalog map[string]*Table) (Node, error) {
	var s Spec
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	return s.Build(catalog)
}

// specError names the op of the plan node that failed.
func specError(s *Spec, err error) error {
	return fmt.Errorf("%s: %w", s.Op, err)
}

func (s *Spec) child(which string, in *Spec, catalog map[string]*Table) (Node, error) {
	if in == nil {
		return nil, specError(s, fmt.Errorf("missing %s", which))
	}
	return in.Build(catalog)
}

func (s *Spec) table(catalog map[string]*Table, required bool) (*Table, error) {
	if s.Table == "" {
		if required {
			return nil, specError(s, fmt.Errorf("missing table"))
		}
		return nil, nil
	}
	t, ok := catalog[s.Table]
	if !ok {
		return nil, specError(s, fmt.Errorf("unknown table %q", s.Table))
	}
	return t, nil
}

func (s *Spec) placement(def Trait) (Placement, error) {
	if s.Trait == "" {
		return Placement{Placed: def}, nil
	}
	t, err := ParseTrait(s.Trait)
	if err != nil {
		return Placement{}, specError(s, err)
	}
	return Placement{Placed: t}, nil
}

// Build returns the plan described by s.
func (s *Spec) Build(catalog map[string]*Table) (Node, error) {
	def := Distributed
	switch s.Op {
	case "scan", "lookup", "join", "filter", "project", "aggregate", "sort", "coalesce", "modify":
	case "values":
		def = Single
	case "hash":
		def = Partitioned
	case "root":
		def = Coordinator
	case "exchange":
		def = Partitioned
		if s.Root {
			def = Coordinator
		}
	default:
		return nil, fmt.Errorf("unknown plan op %q", s.Op)
	}
	pl, err := s.placement(def)
	if err != nil {
		return nil, err
	}
	switch s.Op {
	case "scan":
		t, err := s.table(catalog, true)
		if err != nil {
			return nil, err
		}
		return &TableScan{Placement: pl, Table: t, Filter: s.Filter, Selection: s.Select}, nil
	case "lookup":
		t, err := s.table(catalog, true)
		if err != nil {
			return nil, err
		}
		return &GetByKeys{Placement: pl, Table: t, Keys: s.Keys, Filter: s.Filter, Selection: s.Select}, nil
	case "values":
		t, err := s.table(catalog, false)
		if err != nil {
			return nil, err
		}
		v := &Values{Placement: pl, Schema: s.Schema, Table: t}
		for i := range s.Rows {
			row, err := s.Schema.ParseTuple(s.Rows[i])
			if err != nil {
				return nil, specError(s, fmt.Errorf("row %d: %w", i, err))
			}
			v.Rows = append(v.Rows, row)
		}
		return v, nil
	}

	if s.Op == "join" {
		left, err := s.child("left", s.Left, catalog)
		if err != nil {
			return nil, err
		}
		right, err := s.child("right", s.Right, catalog)
		if err != nil {
			return nil, err
		}
		return &HashJoin{Placement: pl, Left: left, Right: right, LeftKeys: s.LeftKeys, RightKeys: s.RightKeys}, nil
	}
	in, err := s.child("input", s.Input, catalog)
	if err != nil {
		return nil, err
	}
	switch s.Op {
	case "filter":
		return &Filter{Placement: pl, Input: in, Preds: s.Filter}, nil
	case "project":
		return &Project{Placement: pl, Input: in, Selection: s.Select}, nil
	case "aggregate":
		return &Aggregate{Placement: pl, Input: in, GroupBy: s.GroupBy, Calls: s.Calls, Reduce: s.Reduce}, nil
	case "sort":
		return &Sort{Placement: pl, Input: in, Columns: s.Order, Limit: s.Limit, Offset: s.Offset}, nil
	case "hash":
		t, err := s.table(catalog, true)
		if err != nil {
			return nil, err
		}
		return &Hash{Placement: pl, Input: in, Keys: s.HashKeys, Table: t}, nil
	case "exchange":
		return &Exchange{Placement: pl, Input: in, Root: s.Root}, nil
	case "coalesce":
		return &Coalesce{Placement: pl, Input: in}, nil
	case "modify":
		t, err := s.table(catalog, true)
		if err != nil {
			return nil, err
		}
		return &PartModify{Placement: pl, Input: in, Table: t, Op: s.Modify}, nil
	case "root":
		return &Root{Placement: pl, Input: in}, nil
	}
	return nil, fmt.Errorf("unknown plan op %q", s.Op)
}
