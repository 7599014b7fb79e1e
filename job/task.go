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
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/SnellerInc/distexec/types"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Task is the part of a Job that runs
// at one Location.
type Task struct {
	ID         Id
	JobID      Id
	Location   Location
	Operators  map[Id]Operator
	RunList    []Id
	ParamsType types.Schema
	Params     types.Tuple

	env      *Env
	inited   bool
	resolved bool
	initErr  *Status
	ran      bool
	ctx      context.Context

	lock     sync.Mutex
	pending  int
	first    *Status
	outcomes map[Id]*Status
	done     chan struct{}
}

// NewTask returns an empty task of job at loc.
func NewTask(job, id Id, loc Location) *Task {
	return &Task{
		ID:        id,
		JobID:     job,
		Location:  loc,
		Operators: make(map[Id]Operator),
	}
}

// Put adds op to t under id. Sources are
// appended to the run-list.
func (t *Task) Put(id Id, op Operator) error {
	if _, ok := t.Operators[id]; ok {
		return fmt.Errorf("task %s: duplicate operator id %s", t.ID, id)
	}
	b := op.base()
	b.id, b.task = id, t
	t.Operators[id] = op
	if _, ok := op.(Source); ok {
		t.RunList = append(t.RunList, id)
	}
	return nil
}

// Op returns the operator with the given id, or nil.
func (t *Task) Op(id Id) Operator { return t.Operators[id] }

// ids returns the operator ids in order.
func (t *Task) ids() []Id {
	ids := maps.Keys(t.Operators)
	slices.Sort(ids)
	return ids
}

// Init binds every operator of t to env and
// initializes it. Failures do not stop the
// remaining operators from being initialized;
// they are all returned, and the first one
// is reported by every sink of t when it runs.
func (t *Task) Init(env *Env) error {
	if t.inited {
		return fmt.Errorf("task %s: already initialized", t.ID)
	}
	t.inited, t.env = true, env
	var errs []error
	record := func(st *Status) {
		if t.initErr == nil {
			t.initErr = st
		}
		errs = append(errs, st)
	}
	t.resolved = true
	ids := t.ids()
	for _, id := range ids {
		op := t.Operators[id]
		b := op.base()
		b.task, b.env = t, env
		if err := b.resolve(t.Operators); err != nil {
			t.resolved = false
			record(b.fail(err))
		}
	}
	for _, id := range t.RunList {
		if _, ok := t.Operators[id].(Source); !ok {
			t.resolved = false
			record(&Status{TaskID: t.ID, OperatorID: id, Message: "run-list entry is not a source"})
		}
	}
	if t.resolved {
		for _, id := range ids {
			op := t.Operators[id]
			if err := op.Init(env); err != nil {
				record(op.base().fail(err))
			}
		}
	}
	if len(errs) > 0 {
		env.metrics().initFailure()
		env.errorf("task %s: init: %s", t.ID, t.initErr)
	}
	t.Reset()
	return errors.Join(errs...)
}

// Reset discards the state of a previous run
// and re-binds the current parameters.
func (t *Task) Reset() {
	if t.resolved {
		for _, id := range t.ids() {
			t.Operators[id].Reset(t.Params)
		}
	}
	sinks := 0
	for _, op := range t.Operators {
		if op.base().sink() {
			sinks++
		}
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	t.pending, t.first, t.ran = sinks, nil, false
	t.outcomes = make(map[Id]*Status, sinks)
	t.done = make(chan struct{})
	if sinks == 0 {
		close(t.done)
	}
}

// SetParams converts params to ParamsType
// and re-binds them.
func (t *Task) SetParams(params types.Tuple) error {
	if t.ParamsType != nil {
		conv, err := t.ParamsType.ConvertTuple(params)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
		params = conv
	}
	t.Params = params
	if t.inited {
		t.Reset()
	}
	return nil
}

func (t *Task) context() context.Context {
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// Run starts one unit per run-list source.
// Each unit drains its source, pushing every
// block downstream, and then fins the source
// with nil or with the failure that ended it.
// A task whose Init failed fins its sources
// with the init failure instead.
//
// Run does not wait; see Wait.
func (t *Task) Run(ctx context.Context) error {
	if !t.inited {
		return fmt.Errorf("task %s: Run before Init", t.ID)
	}
	if t.ran {
		return fmt.Errorf("task %s: Run without Reset", t.ID)
	}
	t.ran, t.ctx = true, ctx
	if t.initErr != nil && !t.resolved {
		t.failAll(t.initErr)
		return nil
	}
	pool := t.env.pool()
	for _, id := range t.RunList {
		src := t.Operators[id].(Source)
		if t.initErr != nil {
			t.fin(src, t.initErr)
			continue
		}
		if err := pool.Submit(func() { t.unit(ctx, src) }); err != nil {
			t.env.errorf("task %s: submit %s: %s", t.ID, id, err)
			t.fin(src, src.base().fail(err))
		}
	}
	return nil
}

func (t *Task) unit(ctx context.Context, src Source) {
	st := t.drain(ctx, src)
	t.env.metrics().unit(st)
	if st != nil {
		t.env.logf("task %s: unit %s: %s", t.ID, src.ID(), st)
	}
	t.fin(src, st)
}

func (t *Task) drain(ctx context.Context, src Source) (st *Status) {
	defer func() {
		if p := recover(); p != nil {
			st = src.base().fail(fmt.Errorf("panic: %v", p))
		}
	}()
	b := src.base()
	for {
		block, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return failure(src, err)
		}
		for i := range block {
			if err := b.emit(block[i]); err != nil {
				return failure(src, err)
			}
		}
	}
}

// fin delivers the terminal Fin of a unit.
// A panic while finishing is contained to
// this task and fails every pending sink.
func (t *Task) fin(src Source, st *Status) {
	defer func() {
		if p := recover(); p != nil {
			t.failAll(src.base().fail(fmt.Errorf("panic in fin: %v", p)))
		}
	}()
	src.Fin(0, st)
}

func (t *Task) sinkDone(id Id, st *Status) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.outcomes[id]; ok || t.pending == 0 {
		return
	}
	t.outcomes[id] = st
	if st != nil && t.first == nil {
		t.first = st
	}
	t.pending--
	if t.pending == 0 {
		close(t.done)
	}
}

// failAll completes every sink that has
// not yet finished with st.
func (t *Task) failAll(st *Status) {
	for _, id := range t.ids() {
		if t.Operators[id].base().sink() {
			t.sinkDone(id, st)
		}
	}
}

// Wait blocks until every sink of t has finished
// or ctx is done, and returns the task's status.
func (t *Task) Wait(ctx context.Context) (TaskStatus, error) {
	t.lock.Lock()
	done := t.done
	t.lock.Unlock()
	select {
	case <-done:
	case <-ctx.Done():
		return TaskStatus{TaskID: t.ID}, ctx.Err()
	}
	return t.Status(), nil
}

// Status returns the status of t so far.
// A task whose Init failed is never OK.
func (t *Task) Status() TaskStatus {
	t.lock.Lock()
	defer t.lock.Unlock()
	first := t.first
	if first == nil {
		first = t.initErr
	}
	return TaskStatus{TaskID: t.ID, OK: first == nil, Failure: first}
}

// Outcome reports whether the sink id has
// finished and the status it finished with.
func (t *Task) Outcome(id Id) (done bool, st *Status) {
	t.lock.Lock()
	defer t.lock.Unlock()
	st, done = t.outcomes[id]
	return done, st
}

// Close releases the transport registrations
// of the task's receive operators.
func (t *Task) Close() {
	if !t.inited {
		return
	}
	for _, op := range t.Operators {
		if r, ok := op.(*ReceiveOperator); ok {
			r.close()
		}
	}
}
