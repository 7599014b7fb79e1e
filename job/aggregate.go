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
	"fmt"
	"strings"
	"sync"

	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/types"
)

// AggregateOperator groups its input and emits
// one row per group when the input finishes.
//
// Output rows are the group columns followed by
// one column per call. With Reduce set, the input
// is the output of an AggregateOperator with the
// same GroupBy and Calls, and partial results are
// combined: group column i is input column i and
// call i reads input column len(GroupBy)+i.
type AggregateOperator struct {
	Base
	GroupBy []int              `json:"groupBy,omitempty"`
	Calls   []physical.AggCall `json:"calls"`
	Reduce  bool               `json:"reduce,omitempty"`

	lock   sync.Mutex
	groups map[string]*aggGroup
	order  []string
}

type aggGroup struct {
	key types.Tuple
	acc []any
}

func (a *AggregateOperator) Kind() Kind { return KindAggregate }

func (a *AggregateOperator) Init(env *Env) error {
	for _, c := range a.Calls {
		switch c.Func {
		case physical.Count, physical.Sum, physical.Min, physical.Max:
		default:
			return fmt.Errorf("unknown aggregate %q", c.Func)
		}
	}
	return nil
}

func (a *AggregateOperator) Reset(types.Tuple) {
	a.lock.Lock()
	a.groups = make(map[string]*aggGroup)
	a.order = nil
	a.lock.Unlock()
}

func (a *AggregateOperator) keyColumns() []int {
	if !a.Reduce {
		return a.GroupBy
	}
	cols := make([]int, len(a.GroupBy))
	for i := range cols {
		cols[i] = i
	}
	return cols
}

func (a *AggregateOperator) argColumn(i int) int {
	if a.Reduce {
		return len(a.GroupBy) + i
	}
	return a.Calls[i].Column
}

func (a *AggregateOperator) newGroup(key types.Tuple) *aggGroup {
	g := &aggGroup{key: key, acc: make([]any, len(a.Calls))}
	for i, c := range a.Calls {
		if c.Func == physical.Count {
			g.acc[i] = int64(0)
		}
	}
	return g
}

func (a *AggregateOperator) Push(slot int, t types.Tuple) error {
	cols := a.keyColumns()
	if err := checkWidth(cols, len(t)); err != nil {
		return err
	}
	key := t.Select(cols)
	kb, err := types.AppendTuple(nil, key)
	if err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	g := a.groups[string(kb)]
	if g == nil {
		g = a.newGroup(key)
		a.groups[string(kb)] = g
		a.order = append(a.order, string(kb))
	}
	for i, c := range a.Calls {
		if c.Func == physical.Count && !a.Reduce {
			g.acc[i] = g.acc[i].(int64) + 1
			continue
		}
		col := a.argColumn(i)
		if col < 0 || col >= len(t) {
			return fmt.Errorf("%s: column %d out of range", c, col)
		}
		v := t[col]
		if v == nil {
			continue
		}
		switch c.Func {
		case physical.Count, physical.Sum:
			g.acc[i], err = types.Add(g.acc[i], v)
		case physical.Min, physical.Max:
			g.acc[i], err = extreme(c.Func, g.acc[i], v)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	return nil
}

func extreme(fn physical.AggFunc, acc, v any) (any, error) {
	if acc == nil {
		return v, nil
	}
	c, err := types.Compare(v, acc)
	if err != nil {
		return nil, err
	}
	if (fn == physical.Min && c < 0) || (fn == physical.Max && c > 0) {
		return v, nil
	}
	return acc, nil
}

func (a *AggregateOperator) Fin(slot int, st *Status) {
	a.lock.Lock()
	groups, order := a.groups, a.order
	a.groups, a.order = make(map[string]*aggGroup), nil
	a.lock.Unlock()
	if st != nil {
		a.finish(st)
		return
	}
	if len(order) == 0 && len(a.GroupBy) == 0 {
		g := a.newGroup(types.Tuple{})
		groups = map[string]*aggGroup{"": g}
		order = []string{""}
	}
	for _, k := range order {
		g := groups[k]
		row := make(types.Tuple, 0, len(g.key)+len(g.acc))
		row = append(row, g.key...)
		row = append(row, g.acc...)
		if err := a.emit(row); err != nil {
			st = failure(a, err)
			break
		}
	}
	a.finish(st)
}

func (a *AggregateOperator) describe(func(Id) string) string {
	calls := make([]string, len(a.Calls))
	for i := range a.Calls {
		calls[i] = a.Calls[i].String()
	}
	str := "aggregate " + strings.Join(calls, " ")
	if len(a.GroupBy) > 0 {
		str += " by " + intsText(a.GroupBy)
	}
	if a.Reduce {
		str += " reduce"
	}
	return str
}
