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

// Package physical describes the annotated physical
// plan produced by the optimizer. Every Node carries
// a placement Trait; the lower package turns a tree
// of Nodes into an executable job.
//
// The set of node kinds is closed: lowering dispatches
// on the concrete type and rejects anything else.
package physical

import (
	"fmt"
	"strings"

	"github.com/SnellerInc/distexec/types"
)

// Trait describes where the output of a Node lives.
type Trait uint8

const (
	// Single output on one (arbitrary) node
	Single Trait = iota
	// Distributed output, one stream per partition
	Distributed
	// Partitioned output, hash partitioned by key
	Partitioned
	// Coordinator output, on the node
	// that initiated the statement
	Coordinator
)

func (t Trait) String() string {
	switch t {
	case Single:
		return "SINGLE"
	case Distributed:
		return "DISTRIBUTED"
	case Partitioned:
		return "PARTITIONED"
	case Coordinator:
		return "ROOT"
	}
	return fmt.Sprintf("Trait(%d)", int(t))
}

// Table is the catalog description of a table.
type Table struct {
	ID     string       `json:"id"`
	Schema types.Schema `json:"schema"`
	// Keys lists the primary key columns.
	Keys []int `json:"keys"`
}

// Node is one node of a physical plan.
type Node interface {
	fmt.Stringer
	// Trait returns the placement of the output.
	Trait() Trait
	// Inputs returns the child nodes in order.
	Inputs() []Node
}

// Placement can be embedded in a Node
// to implement Trait.
type Placement struct {
	Placed Trait
}

func (p Placement) Trait() Trait { return p.Placed }

// Walk calls fn for n and every descendant
// of n, parents before children.
func Walk(n Node, fn func(Node)) {
	fn(n)
	for _, in := range n.Inputs() {
		Walk(in, fn)
	}
}

// Explain returns an indented description of the tree.
func Explain(n Node) string {
	var b strings.Builder
	var walk func(n Node, depth int)
	walk = func(n Node, depth int) {
		for i := 0; i < depth; i++ {
			b.WriteByte('\t')
		}
		b.WriteString(n.String())
		b.WriteString(" [")
		b.WriteString(n.Trait().String())
		b.WriteString("]\n")
		for _, in := range n.Inputs() {
			walk(in, depth+1)
		}
	}
	walk(n, 0)
	return b.String()
}
