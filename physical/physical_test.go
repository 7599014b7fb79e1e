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
	"testing"

	"github.com/SnellerInc/distexec/types"
)

func TestExplain(t *testing.T) {
	tbl := &Table{ID: "t1"}
	root := &Root{
		Placement: Placement{Coordinator},
		Input: &Coalesce{
			Placement: Placement{Coordinator},
			Input: &Exchange{
				Placement: Placement{Partitioned},
				Root:      true,
				Input: &Filter{
					Placement: Placement{Distributed},
					Preds:     []Predicate{{Column: 1, Op: Gt, Operand: Param(1)}},
					Input:     &TableScan{Placement: Placement{Distributed}, Table: tbl},
				},
			},
		},
	}
	want := strings.Join([]string{
		"Root [ROOT]",
		"\tCoalesce [ROOT]",
		"\t\tExchange ROOT [PARTITIONED]",
		"\t\t\tFilter $1 > ?1 [DISTRIBUTED]",
		"\t\t\t\tTableScan t1 [DISTRIBUTED]",
		"",
	}, "\n")
	if got := Explain(root); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
	n := 0
	Walk(root, func(Node) { n++ })
	if n != 5 {
		t.Fatalf("walked %d nodes", n)
	}
}

var catalog = map[string]*Table{
	"users": {
		ID:     "users",
		Schema: types.Schema{{Name: "id", Type: types.Type{Kind: types.Int}}, {Name: "name", Type: types.Type{Kind: types.String}}},
		Keys:   []int{0},
	},
	"orders": {
		ID:     "orders",
		Schema: types.Schema{{Name: "user", Type: types.Type{Kind: types.Int}}},
		Keys:   []int{0},
	},
}

const joinPlan = `
op: root
input:
  op: coalesce
  input:
    op: exchange
    root: true
    input:
      op: aggregate
      groupBy: [1]
      calls:
        - func: COUNT
      input:
        op: join
        leftKeys: [0]
        rightKeys: [0]
        left:
          op: scan
          table: users
          filter:
            - {column: 0, op: ">", operand: {param: 1}}
        right:
          op: coalesce
          input:
            op: exchange
            input:
              op: hash
              table: users
              input: {op: scan, table: orders}
`

func TestParsePlan(t *testing.T) {
	n, err := ParsePlan([]byte(joinPlan), catalog)
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"Root [ROOT]",
		"\tCoalesce [DISTRIBUTED]",
		"\t\tExchange ROOT [ROOT]",
		"\t\t\tAggregate COUNT(*) GROUP BY [1] [DISTRIBUTED]",
		"\t\t\t\tHashJoin [0] = [0] [DISTRIBUTED]",
		"\t\t\t\t\tTableScan users WHERE $0 > ?1 [DISTRIBUTED]",
		"\t\t\t\t\tCoalesce [DISTRIBUTED]",
		"\t\t\t\t\t\tExchange [PARTITIONED]",
		"\t\t\t\t\t\t\tHash users BY [] [PARTITIONED]",
		"\t\t\t\t\t\t\t\tTableScan orders [DISTRIBUTED]",
		"",
	}, "\n")
	if got := Explain(n); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}

	vals := `{op: values, trait: DISTRIBUTED, table: users, schema: [{name: id, type: {kind: int}}, {name: name, type: {kind: string}}], rows: [["1", "a"], ["2", "b"]]}`
	n, err = ParsePlan([]byte(vals), catalog)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := n.(*Values)
	if !ok {
		t.Fatalf("got %T", n)
	}
	if v.Trait() != Distributed || v.Table != catalog["users"] || len(v.Rows) != 2 {
		t.Fatalf("got %s [%s]", v, v.Trait())
	}
	if id, ok := v.Rows[1][0].(int64); !ok || id != 2 {
		t.Errorf("row 1 is %s", v.Rows[1])
	}
}

func TestParsePlanErrors(t *testing.T) {
	cases := []string{
		`{op: nope}`,
		`{op: scan}`,
		`{op: scan, table: missing}`,
		`{op: filter}`,
		`{op: scan, table: users, trait: EVERYWHERE}`,
		`{op: scan, table: users, bogus: 1}`,
		`{op: join, left: {op: scan, table: users}}`,
		`{op: values, schema: [{name: id, type: {kind: int}}], rows: [["x"]]}`,
		`{op: root, input: {op: coalesce, input: {op: nope}}}`,
	}
	for i := range cases {
		t.Run(fmt.Sprintf("case-%d", i+1), func(t *testing.T) {
			n, err := ParsePlan([]byte(cases[i]), catalog)
			if err == nil {
				t.Fatalf("expected an error; got %v", n)
			}
			t.Log(err)
		})
	}
}

func TestTraitText(t *testing.T) {
	for tr := Single; tr <= Coordinator; tr++ {
		got, err := ParseTrait(tr.String())
		if err != nil || got != tr {
			t.Errorf("%s: got %s, %v", tr, got, err)
		}
	}
}
