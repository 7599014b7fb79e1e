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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/types"

	"github.com/amazon-ion/ion-go/ion"
)

var priceSchema = types.Schema{
	{Name: "id", Type: types.Type{Kind: types.Int}},
	{Name: "price", Type: types.Type{Kind: types.Decimal, Nullable: true}},
	{Name: "name", Type: types.Type{Kind: types.String}},
}

// kitchenSink builds a job that uses every
// operator kind, with ids starting at base.
func kitchenSink(t *testing.T, base int) *Job {
	j := New("kitchen")
	j.ParamsType = types.Schema{
		{Name: "min", Type: types.Type{Kind: types.Decimal}},
		{Name: "who", Type: types.Type{Kind: types.String, Nullable: true}},
	}
	ct := create(t, j, base, coord)
	recv := put(t, ct, base+1, &ReceiveOperator{From: node1})
	merge := put(t, ct, base+2, &CoalesceOperator{Inputs: 2})
	vals := put(t, ct, base+3, &ValuesOperator{
		Schema: priceSchema,
		Rows: []types.Tuple{
			{int64(1), ion.MustParseDecimal("10.50"), "a \"quoted\" name"},
			{int64(2), nil, "NULL"},
		},
	})
	reduce := put(t, ct, base+4, &AggregateOperator{
		GroupBy: []int{0},
		Calls:   []physical.AggCall{{Func: physical.Sum, Column: 1}},
		Reduce:  true,
	})
	order := put(t, ct, base+5, &SortOperator{
		Columns: []physical.SortColumn{{Column: 1, Desc: true}}, Limit: 10, Offset: 1,
	})
	root := put(t, ct, base+6, &RootOperator{Schema: priceSchema.Select([]int{0, 1})})
	Connect(recv, 0, merge, 0)
	Connect(vals, 0, merge, 1)
	Connect(merge, 0, reduce, 0)
	Connect(reduce, 0, order, 0)
	Connect(order, 0, root, 0)

	nt := create(t, j, base+10, node1)
	scan := put(t, nt, base+11, &PartScanOperator{
		Table: "prices", Part: "p0", Schema: priceSchema, Keys: []int{0},
		Filter: []physical.Predicate{
			{Column: 1, Op: physical.Ge, Operand: physical.Param(1)},
			{Column: 2, Op: physical.Ne, Operand: physical.Const("\"x\"")},
		},
		Selection: []int{0, 1, 2},
		BlockSize: 32,
	})
	lookup := put(t, nt, base+12, &GetByKeysOperator{
		Table: "prices", Part: "p0", Schema: priceSchema, Keys: []int{0},
		Lookup: [][]physical.Operand{{physical.Const("7")}, {physical.Param(1)}},
	})
	join := put(t, nt, base+13, &HashJoinOperator{LeftKeys: []int{0}, RightKeys: []int{0}})
	proj := put(t, nt, base+14, &ProjectOperator{Selection: []int{0, 1}})
	filter := put(t, nt, base+15, &FilterOperator{
		Schema: priceSchema.Select([]int{0, 1}),
		Preds:  []physical.Predicate{{Column: 0, Op: physical.Lt, Operand: physical.Const("100")}},
	})
	agg := put(t, nt, base+16, &AggregateOperator{
		GroupBy: []int{0},
		Calls:   []physical.AggCall{{Func: physical.Sum, Column: 1}},
	})
	hash := put(t, nt, base+17, &HashOperator{Keys: []int{0}, Buckets: 2})
	send := put(t, nt, base+18, &SendOperator{
		Target: coord, TargetTask: ct.ID, TargetOp: recv.ID(), Compression: "zstd",
	})
	modify := put(t, nt, base+19, &PartModifyOperator{
		Table: "audit", Part: "a0", Schema: priceSchema.Select([]int{0, 1}), Keys: []int{0}, Op: physical.Update,
	})
	Connect(scan, 0, join, 0)
	Connect(lookup, 0, join, 1)
	Connect(join, 0, proj, 0)
	Connect(proj, 0, filter, 0)
	Connect(filter, 0, agg, 0)
	Connect(agg, 0, hash, 0)
	Connect(hash, 0, send, 0)
	Connect(hash, 1, modify, 0)

	if err := j.SetParams(types.Tuple{ion.MustParseDecimal("2.500"), nil}); err != nil {
		t.Fatal(err)
	}
	return j
}

func TestJobRoundTrip(t *testing.T) {
	j := kitchenSink(t, 1)
	text, err := j.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("%s", text)
	j2, err := UnmarshalJob(text)
	if err != nil {
		t.Fatal(err)
	}
	text2, err := j2.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(text, text2) {
		t.Fatalf("re-encoded job differs:\n%s\n---\n%s", text, text2)
	}
	if j.String() != j2.String() {
		t.Fatalf("explain differs:\n%s\n---\n%s", j, j2)
	}
	if j.Fingerprint() != j2.Fingerprint() {
		t.Fatal("fingerprint differs")
	}
	// exact decimals survive
	ct := j2.Tasks[Seq(1)]
	vals := ct.Operators[Seq(4)].(*ValuesOperator)
	if got := vals.Rows[0][1].(*ion.Decimal).String(); got != "10.50" {
		t.Errorf("decimal came back as %s", got)
	}
	if got := vals.Rows[1][2]; got != "NULL" {
		t.Errorf("string NULL came back as %v", got)
	}
	if vals.Rows[1][1] != nil {
		t.Errorf("null came back as %v", vals.Rows[1][1])
	}
	if got := ct.Params[0].(*ion.Decimal).String(); got != "2.500" {
		t.Errorf("param came back as %s", got)
	}
	if len(ct.RunList) != 2 {
		t.Errorf("run-list %v", ct.RunList)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	j := kitchenSink(t, 1)
	for _, task := range j.SortedTasks() {
		text, err := task.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		got, err := UnmarshalTask(text)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != task.ID || got.JobID != task.JobID || got.Location != task.Location {
			t.Errorf("identity changed: %s %s %s", got.ID, got.JobID, got.Location)
		}
		text2, err := got.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(text, text2) {
			t.Errorf("re-encoded task differs:\n%s\n---\n%s", text, text2)
		}
	}
}

func TestUnmarshalErrors(t *testing.T) {
	inputs := []string{
		"id: [",
		"id: j\ntasks:\n- id: '0001'\n  jobId: other\n  location: a:1\n  operators: []\n",
		"id: j\ntasks:\n- id: '0001'\n  jobId: j\n  location: nowhere\n  operators: []\n",
		"id: j\ntasks:\n- id: '0001'\n  jobId: j\n  location: a:1\n  operators:\n  - id: '0002'\n    kind: bogus\n",
		"id: j\ntasks:\n- id: '0001'\n  jobId: j\n  location: a:1\n  runList: ['0002']\n  operators:\n  - id: '0002'\n    kind: root\n",
		"id: j\ntasks:\n- id: '0001'\n  jobId: j\n  location: a:1\n  operators:\n  - id: '0002'\n    kind: project\n    outputs: [{op: '0009'}]\n",
		"id: j\nextra: 1\ntasks: []\n",
	}
	for i, in := range inputs {
		_, err := UnmarshalJob([]byte(in))
		if !errors.Is(err, ErrSerialization) {
			t.Errorf("case %d: got %v", i, err)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a, b := kitchenSink(t, 1), kitchenSink(t, 0x101)
	if a.String() == b.String() {
		t.Fatal("expected different ids")
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprints differ:\n%s\n%s", a, b)
	}
	c := kitchenSink(t, 1)
	c.Tasks[Seq(1)].Operators[Seq(6)].(*SortOperator).Limit = 11
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("changing a limit did not change the fingerprint")
	}
	if !strings.Contains(a.String(), "send coord:7000 00000001:00000002") {
		t.Errorf("explain output:\n%s", a)
	}
}
