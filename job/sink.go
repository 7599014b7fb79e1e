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
	"sync"

	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/storage"
	"github.com/SnellerInc/distexec/types"
)

// RootOperator collects the result of a job
// on the coordinator.
type RootOperator struct {
	Base
	Schema types.Schema `json:"schema,omitempty"`

	lock sync.Mutex
	rows []types.Tuple
	st   *Status
	done chan struct{}
}

func (r *RootOperator) Kind() Kind          { return KindRoot }
func (r *RootOperator) Init(env *Env) error { return nil }

func (r *RootOperator) Reset(types.Tuple) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.rows, r.st = nil, nil
	r.done = make(chan struct{})
}

func (r *RootOperator) Push(slot int, t types.Tuple) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.rows = append(r.rows, t)
	return nil
}

func (r *RootOperator) Fin(slot int, st *Status) {
	r.lock.Lock()
	r.st = st
	close(r.done)
	r.lock.Unlock()
	r.finish(st)
}

// Result waits for the input of r to finish and
// returns the collected rows, or the failure
// that ended the input.
func (r *RootOperator) Result(ctx context.Context) ([]types.Tuple, error) {
	r.lock.Lock()
	done := r.done
	r.lock.Unlock()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.st != nil {
		return r.rows, r.st
	}
	return r.rows, nil
}

func (r *RootOperator) describe(func(Id) string) string { return "root" }

var errDuplicateKey = errors.New("duplicate key")

// PartModifyOperator applies a mutation to one
// partition. If it has an output, it emits a
// single row holding the number of affected
// rows once its input finishes.
type PartModifyOperator struct {
	Base
	Table  string            `json:"table"`
	Part   storage.PartID    `json:"part"`
	Schema types.Schema      `json:"schema"`
	Keys   []int             `json:"keys"`
	Op     physical.ModifyOp `json:"op"`

	codec *storage.Codec
	lock  sync.Mutex
	count int64
}

func (m *PartModifyOperator) Kind() Kind { return KindPartModify }

func (m *PartModifyOperator) Init(env *Env) error {
	if env == nil || env.Store == nil {
		return fmt.Errorf("no store for partition %s", m.Part)
	}
	switch m.Op {
	case physical.Insert, physical.Update, physical.Delete:
	default:
		return fmt.Errorf("unknown modification %q", m.Op)
	}
	c, err := storage.NewCodec(m.Schema, m.Keys)
	if err != nil {
		return err
	}
	m.codec = c
	return nil
}

func (m *PartModifyOperator) Reset(types.Tuple) {
	m.lock.Lock()
	m.count = 0
	m.lock.Unlock()
}

func (m *PartModifyOperator) Push(slot int, t types.Tuple) error {
	ctx := m.task.context()
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Op == physical.Delete {
		if err := checkWidth(m.Keys, len(t)); err != nil {
			return err
		}
		key, err := m.codec.EncodeKey(t.Select(m.Keys))
		if err != nil {
			return err
		}
		n, err := m.env.Store.Delete(ctx, m.Part, key)
		m.count += int64(n)
		return err
	}
	kv, err := m.codec.Encode(t)
	if err != nil {
		return err
	}
	_, err = m.env.Store.Get(ctx, m.Part, kv.Key)
	switch {
	case err == nil && m.Op == physical.Insert:
		return fmt.Errorf("%w in %s: %s", errDuplicateKey, m.Table, t.Select(m.Keys))
	case errors.Is(err, storage.ErrNotFound) && m.Op == physical.Update:
		return nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return err
	}
	if err := m.env.Store.Put(ctx, m.Part, kv); err != nil {
		return err
	}
	m.count++
	return nil
}

func (m *PartModifyOperator) Fin(slot int, st *Status) {
	if st == nil && !m.sink() {
		m.lock.Lock()
		n := m.count
		m.lock.Unlock()
		if err := m.emit(types.Tuple{n}); err != nil {
			st = failure(m, err)
		}
	}
	m.finish(st)
}

func (m *PartModifyOperator) describe(func(Id) string) string {
	return fmt.Sprintf("partModify %s %s/%s", m.Op, m.Table, m.Part)
}
