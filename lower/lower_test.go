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
	"errors"
	"fmt"
	"testing"

	"github.com/SnellerInc/distexec/job"
	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/types"
)

var (
	loc0 = job.Location{Host: "coord", Port: 7000}
	loc1 = job.Location{Host: "node1", Port: 7001}
	loc2 = job.Location{Host: "node2", Port: 7002}
)

var users = &physical.Table{
	ID: "users",
	Schema: types.Schema{
		{Name: "id", Type: types.Type{Kind: types.Int}},
		{Name: "name", Type: types.Type{Kind: types.String}},
	},
	Keys: []int{0},
}

var orders = &physical.Table{
	ID: "orders",
	Schema: types.Schema{
		{Name: "user", Type: types.Type{Kind: types.Int}},
		{Name: "total", Type: types.Type{Kind: types.Int}},
	},
	Keys: []int{0},
}

var resolver = Static{
	"users":  {{ID: "u1", Location: loc2}, {ID: "u0", Location: loc1}},
	"orders": {{ID: "o0", Location: loc1}, {ID: "o1", Location: loc2}},
	"single": {{ID: "s0", Location: loc1}},
}

func dist() physical.Placement  { return physical.Placement{Placed: physical.Distributed} }
func coord() physical.Placement { return physical.Placement{Placed: physical.Coordinator} }

func scan(tbl *physical.Table) *physical.TableScan {
	return &physical.TableScan{Placement: dist(), Table: tbl}
}

func lowerAt(t *testing.T, n physical.Node, at job.Location) *job.Job {
	t.Helper()
	j, err := Lower(n, &Options{JobID: "test", Coordinator: at, Resolver: resolver})
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("%s", j)
	return j
}

func kinds(task *job.Task) map[job.Kind]int {
	m := make(map[job.Kind]int)
	for _, op := range task.Operators {
		m[op.Kind()]++
	}
	return m
}

func connected(op job.Operator) []job.Edge {
	var out []job.Edge
	for _, e := range op.Outputs() {
		if e.Op != "" {
			out = append(out, e)
		}
	}
	return out
}

// checkTopology verifies the structural
// properties every lowered job has.
func checkTopology(t *testing.T, j *job.Job) {
	t.Helper()
	roots := 0
	for _, task := range j.SortedTasks() {
		sources := 0
		for id, op := range task.Operators {
			if op.Task() != task {
				t.Errorf("operator %s: bad task back-reference", id)
			}
			for _, e := range connected(op) {
				if task.Op(e.Op) == nil {
					t.Errorf("task %s: edge %s -> %s leaves the task", task.ID, id, e.Op)
				}
			}
			if _, ok := op.(job.Source); ok {
				sources++
			}
			switch op := op.(type) {
			case *job.SendOperator:
				dst := j.Tasks[op.TargetTask]
				if dst == nil || dst.Location != op.Target {
					t.Errorf("send %s targets a missing task", id)
					continue
				}
				if _, ok := dst.Op(op.TargetOp).(*job.ReceiveOperator); !ok {
					t.Errorf("send %s does not target a receive", id)
				}
			case *job.RootOperator:
				roots++
			}
		}
		if sources != len(task.RunList) || sources == 0 {
			t.Errorf("task %s: %d sources, run-list %v", task.ID, sources, task.RunList)
		}
		for _, id := range task.RunList {
			if _, ok := task.Op(id).(job.Source); !ok {
				t.Errorf("task %s: run-list entry %s is not a source", task.ID, id)
			}
		}
	}
	if roots > 1 {
		t.Errorf("%d roots", roots)
	}
}

func TestScanPerPartition(t *testing.T) {
	j := lowerAt(t, scan(users), loc1)
	checkTopology(t, j)
	tasks := j.SortedTasks()
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	seen := make(map[job.Location]bool)
	for _, task := range tasks {
		seen[task.Location] = true
		if len(task.Operators) != 1 {
			t.Fatalf("task %s has %d operators", task.ID, len(task.Operators))
		}
		op := task.Op(task.RunList[0])
		if op.Kind() != job.KindPartScan {
			t.Errorf("task %s: got %s", task.ID, op.Kind())
		}
		if len(connected(op)) != 0 {
			t.Errorf("scan %s has outputs", op.ID())
		}
	}
	if !seen[loc1] || !seen[loc2] {
		t.Errorf("tasks at %v", seen)
	}
	// partitions are visited in id order
	first := tasks[0].Op(tasks[0].RunList[0]).(*job.PartScanOperator)
	if first.Part != "u0" || tasks[0].Location != loc1 {
		t.Errorf("first task scans %s at %s", first.Part, tasks[0].Location)
	}
}

func TestExchangeRoot(t *testing.T) {
	plan := &physical.Exchange{Placement: coord(), Input: scan(users), Root: true}
	j := lowerAt(t, plan, loc1)
	checkTopology(t, j)
	if len(j.Tasks) != 2 {
		t.Fatalf("got %d tasks", len(j.Tasks))
	}
	local, remote := j.TaskAt(loc1), j.TaskAt(loc2)
	if k := kinds(remote); len(remote.Operators) != 2 || k[job.KindPartScan] != 1 || k[job.KindSend] != 1 {
		t.Errorf("remote task: %v", k)
	}
	scanOp := remote.Op(remote.RunList[0])
	out := connected(scanOp)
	if len(out) != 1 || remote.Op(out[0].Op).Kind() != job.KindSend {
		t.Errorf("remote scan feeds %v", out)
	}
	if len(local.RunList) != 2 || len(local.Operators) != 2 {
		t.Fatalf("local task: run-list %v, %d operators", local.RunList, len(local.Operators))
	}
	k := kinds(local)
	if k[job.KindPartScan] != 1 || k[job.KindReceive] != 1 {
		t.Errorf("local task: %v", k)
	}
	for _, op := range local.Operators {
		if len(connected(op)) != 0 {
			t.Errorf("local %s %s has a consumer", op.Kind(), op.ID())
		}
	}
}

func TestCoalesceAfterExchange(t *testing.T) {
	plan := &physical.Coalesce{
		Placement: coord(),
		Input:     &physical.Exchange{Placement: coord(), Input: scan(users), Root: true},
	}
	j := lowerAt(t, plan, loc1)
	checkTopology(t, j)
	local := j.TaskAt(loc1)
	var merge *job.CoalesceOperator
	for _, op := range local.Operators {
		if m, ok := op.(*job.CoalesceOperator); ok {
			if merge != nil {
				t.Fatal("more than one coalesce")
			}
			merge = m
		}
	}
	if merge == nil {
		t.Fatal("no coalesce")
	}
	if merge.Inputs != 2 {
		t.Errorf("coalesce has %d inputs", merge.Inputs)
	}
	slots := make(map[int]bool)
	for _, id := range local.RunList {
		out := connected(local.Op(id))
		if len(out) != 1 || out[0].Op != merge.ID() {
			t.Fatalf("source %s feeds %v", id, out)
		}
		slots[out[0].Slot] = true
	}
	if !slots[0] || !slots[1] {
		t.Errorf("coalesce slots %v", slots)
	}
}

func TestInsertValues(t *testing.T) {
	single := &physical.Table{ID: "single", Schema: users.Schema, Keys: []int{0}}
	plan := &physical.PartModify{
		Placement: dist(),
		Table:     single,
		Op:        physical.Insert,
		Input: &physical.Exchange{
			Placement: physical.Placement{Placed: physical.Partitioned},
			Input: &physical.Hash{
				Placement: physical.Placement{Placed: physical.Partitioned},
				Table:     single,
				Input: &physical.Values{
					Placement: physical.Placement{Placed: physical.Single},
					Schema:    users.Schema,
					Rows:      []types.Tuple{{int64(1), "a"}, {int64(2), "b"}},
				},
			},
		},
	}
	j := lowerAt(t, plan, loc0)
	checkTopology(t, j)
	tasks := j.SortedTasks()
	if len(tasks) != 1 || tasks[0].Location != loc1 {
		t.Fatalf("got %d tasks", len(tasks))
	}
	task := tasks[0]
	if len(task.Operators) != 2 || len(task.RunList) != 1 {
		t.Fatalf("task has %d operators, run-list %v", len(task.Operators), task.RunList)
	}
	vals, ok := task.Op(task.RunList[0]).(*job.ValuesOperator)
	if !ok {
		t.Fatalf("source is %T", task.Op(task.RunList[0]))
	}
	if len(vals.Rows) != 2 {
		t.Errorf("values has %d rows", len(vals.Rows))
	}
	out := connected(vals)
	if len(out) != 1 {
		t.Fatalf("values feeds %v", out)
	}
	m, ok := task.Op(out[0].Op).(*job.PartModifyOperator)
	if !ok || m.Op != physical.Insert || m.Part != "s0" {
		t.Errorf("values feeds %v", task.Op(out[0].Op))
	}
}

func TestDistributeValues(t *testing.T) {
	var rows []types.Tuple
	for i := 0; i < 20; i++ {
		rows = append(rows, types.Tuple{int64(i), fmt.Sprint(i)})
	}
	plan := &physical.PartModify{
		Placement: dist(),
		Table:     users,
		Op:        physical.Insert,
		Input:     &physical.Values{Placement: dist(), Schema: users.Schema, Rows: rows, Table: users},
	}
	j := lowerAt(t, plan, loc0)
	checkTopology(t, j)
	if j.TaskAt(loc0) != nil {
		t.Error("a task was created at the unused coordinator")
	}
	total := 0
	for _, task := range j.SortedTasks() {
		for _, op := range task.Operators {
			v, ok := op.(*job.ValuesOperator)
			if !ok {
				continue
			}
			m := task.Op(connected(v)[0].Op).(*job.PartModifyOperator)
			want := 0
			if m.Part == "u1" {
				want = 1
			}
			for _, row := range v.Rows {
				b, _ := types.Bucket(row, users.Keys, 2)
				if b != want {
					t.Errorf("row %s placed in %s", row, m.Part)
				}
			}
			total += len(v.Rows)
		}
	}
	if total != len(rows) {
		t.Errorf("%d rows placed, want %d", total, len(rows))
	}
}

func TestRepartition(t *testing.T) {
	// orders are re-hashed onto the partitions of users
	plan := &physical.Coalesce{
		Placement: dist(),
		Input: &physical.Exchange{
			Placement: dist(),
			Input: &physical.Hash{
				Placement: dist(),
				Input:     scan(orders),
				Table:     users,
			},
		},
	}
	j := lowerAt(t, plan, loc0)
	checkTopology(t, j)
	for _, task := range j.SortedTasks() {
		k := kinds(task)
		// one local bucket, one shipped in, one shipped out
		if k[job.KindHash] != 1 || k[job.KindSend] != 1 || k[job.KindReceive] != 1 || k[job.KindCoalesce] != 1 {
			t.Errorf("task %s at %s: %v", task.ID, task.Location, k)
		}
		for _, op := range task.Operators {
			if h, ok := op.(*job.HashOperator); ok && len(h.Outputs()) != 2 {
				t.Errorf("hash %s has %d outputs", h.ID(), len(h.Outputs()))
			}
		}
	}
}

func TestModifyOneSinkPerPartition(t *testing.T) {
	// every partition of users receives rows from
	// both locations; they share a single sink
	plan := &physical.PartModify{
		Placement: dist(),
		Table:     users,
		Op:        physical.Insert,
		Input: &physical.Exchange{
			Placement: dist(),
			Input: &physical.Hash{
				Placement: dist(),
				Input:     scan(orders),
				Table:     users,
			},
		},
	}
	j := lowerAt(t, plan, loc0)
	checkTopology(t, j)
	sinks := make(map[string]int)
	for _, task := range j.SortedTasks() {
		for _, op := range task.Operators {
			switch op := op.(type) {
			case *job.PartModifyOperator:
				sinks[string(op.Part)]++
				if len(connected(op)) != 0 {
					t.Errorf("sink %s has a consumer", op.ID())
				}
			case *job.CoalesceOperator:
				if op.Inputs != 2 {
					t.Errorf("coalesce %s has %d inputs", op.ID(), op.Inputs)
				}
				out := connected(op)
				if len(out) != 1 || task.Op(out[0].Op).Kind() != job.KindPartModify {
					t.Errorf("coalesce %s feeds %v", op.ID(), out)
				}
			}
		}
		if k := kinds(task); k[job.KindPartModify] != 1 || k[job.KindCoalesce] != 1 {
			t.Errorf("task %s at %s: %v", task.ID, task.Location, k)
		}
	}
	if len(sinks) != 2 || sinks["u0"] != 1 || sinks["u1"] != 1 {
		t.Errorf("sinks per partition: %v", sinks)
	}
}

func TestJoinAndAggregate(t *testing.T) {
	joined := &physical.HashJoin{
		Placement: dist(),
		Left:      scan(users),
		Right: &physical.Coalesce{
			Placement: dist(),
			Input: &physical.Exchange{
				Placement: dist(),
				Input:     &physical.Hash{Placement: dist(), Input: scan(orders), Table: users},
			},
		},
		LeftKeys:  []int{0},
		RightKeys: []int{0},
	}
	partial := &physical.Aggregate{
		Placement: dist(),
		Input:     joined,
		GroupBy:   []int{1},
		Calls:     []physical.AggCall{{Func: physical.Sum, Column: 3}, {Func: physical.Count}},
	}
	plan := &physical.Root{
		Placement: coord(),
		Input: &physical.Sort{
			Placement: coord(),
			Columns:   []physical.SortColumn{{Column: 1, Desc: true}},
			Limit:     5,
			Input: &physical.Aggregate{
				Placement: coord(),
				GroupBy:   []int{1},
				Calls:     partial.Calls,
				Reduce:    true,
				Input: &physical.Coalesce{
					Placement: coord(),
					Input:     &physical.Exchange{Placement: coord(), Input: partial, Root: true},
				},
			},
		},
	}
	j := lowerAt(t, plan, loc0)
	checkTopology(t, j)
	if len(j.Tasks) != 3 {
		t.Fatalf("got %d tasks", len(j.Tasks))
	}
	r := j.Root()
	if r == nil || r.Task().Location != loc0 {
		t.Fatal("no root at the coordinator")
	}
	want := types.Schema{
		{Name: "name", Type: types.Type{Kind: types.String}},
		{Name: "sum", Type: types.Type{Kind: types.Int, Nullable: true}},
		{Name: "count", Type: types.Type{Kind: types.Int}},
	}
	if r.Schema.String() != want.String() {
		t.Errorf("root schema %s, want %s", r.Schema, want)
	}
	for _, loc := range []job.Location{loc1, loc2} {
		if k := kinds(j.TaskAt(loc)); k[job.KindHashJoin] != 1 || k[job.KindAggregate] != 1 {
			t.Errorf("task at %s: %v", loc, k)
		}
	}
}

func TestGetByKeysRouting(t *testing.T) {
	plan := &physical.GetByKeys{
		Placement: dist(),
		Table:     users,
		Keys: [][]physical.Operand{
			{physical.Const("1")}, {physical.Const("2")}, {physical.Const("3")}, {physical.Param(1)},
		},
	}
	j := lowerAt(t, plan, loc0)
	checkTopology(t, j)
	parts := []string{"u0", "u1"}
	for _, task := range j.SortedTasks() {
		for _, op := range task.Operators {
			g := op.(*job.GetByKeysOperator)
			params := 0
			for _, key := range g.Lookup {
				if key[0].Param > 0 {
					params++
					continue
				}
				v, _ := users.Schema[0].Type.Parse(key[0].Const)
				b, _ := types.Bucket(types.Tuple{v}, []int{0}, 2)
				if parts[b] != string(g.Part) {
					t.Errorf("key %s looked up in %s", key[0], g.Part)
				}
			}
			if params != 1 {
				t.Errorf("partition %s has %d parameter keys", g.Part, params)
			}
		}
	}
}

func TestDeterministic(t *testing.T) {
	plan := &physical.Root{
		Placement: coord(),
		Input: &physical.Coalesce{
			Placement: coord(),
			Input: &physical.Exchange{
				Placement: coord(),
				Root:      true,
				Input: &physical.Filter{
					Placement: dist(),
					Input:     scan(users),
					Preds:     []physical.Predicate{{Column: 0, Op: physical.Gt, Operand: physical.Param(1)}},
				},
			},
		},
	}
	a := lowerAt(t, plan, loc1)
	b := lowerAt(t, plan, loc1)
	if a.String() != b.String() {
		t.Errorf("explain differs:\n%s\n%s", a, b)
	}
	opts := &Options{Coordinator: loc1, Resolver: resolver}
	c, err := Lower(plan, opts)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Lower(plan, opts)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == d.ID {
		t.Error("expected distinct job ids")
	}
	if a.Fingerprint() != c.Fingerprint() || c.Fingerprint() != d.Fingerprint() {
		t.Error("fingerprints differ")
	}
}

func TestReject(t *testing.T) {
	missing := &physical.Table{ID: "missing", Schema: users.Schema, Keys: []int{0}}
	gather := func(n physical.Node) physical.Node {
		return &physical.Exchange{Placement: coord(), Input: n, Root: true}
	}
	cases := []physical.Node{
		// unknown table
		scan(missing),
		// two streams into a root
		&physical.Root{Placement: coord(), Input: scan(users)},
		// root away from the coordinator
		&physical.Root{Placement: coord(), Input: scan(&physical.Table{ID: "single", Schema: users.Schema, Keys: []int{0}})},
		// two roots
		&physical.Root{Placement: coord(), Input: &physical.Root{Placement: coord(), Input: gather(scan(users))}},
		// join inputs never co-located
		&physical.HashJoin{
			Placement: dist(), Left: scan(users), Right: gather(scan(orders)),
			LeftKeys: []int{0}, RightKeys: []int{0},
		},
		// exchange to partitions without a hash
		&physical.Exchange{Placement: dist(), Input: gather(scan(users))},
		// hash output consumed without an exchange
		&physical.Filter{Placement: dist(), Input: &physical.Hash{Placement: dist(), Input: scan(orders), Table: users}},
		// mutation of a stream that is not partition-bound
		&physical.PartModify{Placement: dist(), Table: users, Op: physical.Insert, Input: gather(scan(users))},
		// column out of range
		&physical.Project{Placement: dist(), Input: scan(users), Selection: []int{5}},
		// sum over a string
		&physical.Aggregate{Placement: dist(), Input: scan(users), Calls: []physical.AggCall{{Func: physical.Sum, Column: 1}}},
	}
	for i, n := range cases {
		t.Run(fmt.Sprintf("case-%d", i+1), func(t *testing.T) {
			j, err := Lower(n, &Options{Coordinator: loc0, Resolver: resolver})
			if err == nil {
				t.Fatalf("expected an error; got\n%s", j)
			}
			if j != nil {
				t.Error("partial job returned")
			}
			if !errors.Is(err, ErrLowering) {
				t.Fatalf("error %v does not wrap ErrLowering", err)
			}
			var le *Error
			if !errors.As(err, &le) || le.Node == nil {
				t.Fatalf("error %v does not name a node", err)
			}
			t.Log(err)
		})
	}
}
