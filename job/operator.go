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
	"fmt"

	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/types"
)

// Kind names an operator type.
type Kind string

const (
	KindValues     Kind = "values"
	KindPartScan   Kind = "partScan"
	KindGetByKeys  Kind = "getByKeys"
	KindReceive    Kind = "receive"
	KindFilter     Kind = "filter"
	KindProject    Kind = "project"
	KindAggregate  Kind = "aggregate"
	KindSort       Kind = "sort"
	KindHashJoin   Kind = "hashJoin"
	KindCoalesce   Kind = "coalesce"
	KindHash       Kind = "hash"
	KindSend       Kind = "send"
	KindRoot       Kind = "root"
	KindPartModify Kind = "partModify"
)

// Edge is the target of one output of an operator:
// the input Slot of the operator Op in the same Task.
// The zero Edge is not connected.
type Edge struct {
	Op   Id  `json:"op,omitempty"`
	Slot int `json:"slot,omitempty"`
}

func (e Edge) connected() bool { return e.Op != "" }

func (e Edge) String() string {
	if !e.connected() {
		return "-"
	}
	return fmt.Sprintf("%s:%d", e.Op, e.Slot)
}

// Operator is one node of a Task graph.
//
// Push delivers one tuple on an input slot and
// returns an error if the tuple could not be
// processed. Fin marks the end of an input slot;
// a nil st means the input completed normally.
// Every input slot receives exactly one Fin,
// after all of its Push calls.
//
// The set of operator kinds is closed;
// every implementation embeds Base.
type Operator interface {
	ID() Id
	Kind() Kind
	// Task returns the Task the operator belongs to.
	Task() *Task
	// Outputs returns the output edges by output slot.
	Outputs() []Edge
	// Init prepares the operator to run in env.
	// Init is called once, before Reset.
	Init(env *Env) error
	Push(slot int, t types.Tuple) error
	Fin(slot int, st *Status)
	// Reset discards accumulated state and binds
	// params to the operator's parameter operands.
	Reset(params types.Tuple)

	base() *Base
	describe(name func(Id) string) string
}

// Source is an operator at the head of a Task's
// run-list. Next returns the next block of output
// tuples and io.EOF once the source is exhausted.
// Next may return an empty block.
type Source interface {
	Operator
	Next(ctx context.Context) ([]types.Tuple, error)
}

// Base holds the identity and edges of an operator.
type Base struct {
	id   Id
	out  []Edge
	task *Task
	env  *Env
	next []Operator
}

func (b *Base) ID() Id          { return b.id }
func (b *Base) Task() *Task     { return b.task }
func (b *Base) Outputs() []Edge { return b.out }
func (b *Base) base() *Base     { return b }

// Connect routes output slot out of from
// into input slot in of to. Both operators
// must belong to the same Task.
func Connect(from Operator, out int, to Operator, in int) {
	b := from.base()
	for len(b.out) <= out {
		b.out = append(b.out, Edge{})
	}
	b.out[out] = Edge{Op: to.ID(), Slot: in}
}

// resolve looks up the targets of every edge.
func (b *Base) resolve(ops map[Id]Operator) error {
	b.next = make([]Operator, len(b.out))
	for i, e := range b.out {
		if !e.connected() {
			continue
		}
		op, ok := ops[e.Op]
		if !ok {
			return fmt.Errorf("output %d targets unknown operator %s", i, e.Op)
		}
		b.next[i] = op
	}
	return nil
}

func (b *Base) sink() bool {
	for _, e := range b.out {
		if e.connected() {
			return false
		}
	}
	return true
}

// emitTo pushes t to output i. A failure is
// attributed to the operator that raised it.
func (b *Base) emitTo(i int, t types.Tuple) error {
	op := b.next[i]
	if op == nil {
		return fmt.Errorf("output %d is not connected", i)
	}
	if err := op.Push(b.out[i].Slot, t); err != nil {
		return failure(op, err)
	}
	return nil
}

// emit pushes t to every connected output.
func (b *Base) emit(t types.Tuple) error {
	for i := range b.next {
		if b.next[i] == nil {
			continue
		}
		if err := b.emitTo(i, t); err != nil {
			return err
		}
	}
	return nil
}

// finish forwards Fin to every connected output;
// an operator without outputs reports to its Task.
func (b *Base) finish(st *Status) {
	if b.sink() {
		b.task.sinkDone(b.id, st)
		return
	}
	for i, op := range b.next {
		if op != nil {
			op.Fin(b.out[i].Slot, st)
		}
	}
}

// fail builds a Status naming this operator.
func (b *Base) fail(err error) *Status {
	st := &Status{OperatorID: b.id, Message: err.Error()}
	if b.task != nil {
		st.TaskID = b.task.ID
	}
	return st
}

func checkSlot(op Operator, slot, inputs int) error {
	if slot < 0 || slot >= inputs {
		return fmt.Errorf("%s operator %s has no input slot %d", op.Kind(), op.ID(), slot)
	}
	return nil
}

// bindOperand resolves o for a column of type typ.
func bindOperand(typ types.Type, o physical.Operand, params types.Tuple) (any, error) {
	if o.Param > 0 {
		if o.Param > len(params) {
			return nil, fmt.Errorf("parameter ?%d is not bound", o.Param)
		}
		v := params[o.Param-1]
		if v == nil {
			return nil, nil
		}
		return typ.Convert(v)
	}
	return typ.Parse(o.Const)
}
