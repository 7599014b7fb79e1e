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
	"sync"

	"github.com/SnellerInc/distexec/types"
)

// HashJoinOperator is an inner equi-join of
// input slot 0 (left) and slot 1 (right).
//
// The right input is built into a hash table;
// left rows that arrive before the right input
// has finished are held until it does. Rows
// with a NULL key never match. Output rows are
// the left columns followed by the right columns.
type HashJoinOperator struct {
	Base
	LeftKeys  []int `json:"leftKeys"`
	RightKeys []int `json:"rightKeys"`

	lock    sync.Mutex
	table   map[string][]types.Tuple
	pending []types.Tuple
	built   bool
	done    [2]bool
	first   *Status
}

func (j *HashJoinOperator) Kind() Kind { return KindHashJoin }

func (j *HashJoinOperator) Init(env *Env) error {
	if len(j.LeftKeys) != len(j.RightKeys) || len(j.LeftKeys) == 0 {
		return fmt.Errorf("join needs matching key lists; have %d and %d columns", len(j.LeftKeys), len(j.RightKeys))
	}
	return nil
}

func (j *HashJoinOperator) Reset(types.Tuple) {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.table = make(map[string][]types.Tuple)
	j.pending = nil
	j.built = false
	j.done = [2]bool{}
	j.first = nil
}

// joinKey encodes the key columns of t; ok is
// false if any of them is NULL.
func joinKey(t types.Tuple, cols []int) (key string, ok bool, err error) {
	if err := checkWidth(cols, len(t)); err != nil {
		return "", false, err
	}
	for _, c := range cols {
		if t[c] == nil {
			return "", false, nil
		}
	}
	b, err := types.AppendTuple(nil, t.Select(cols))
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

func (j *HashJoinOperator) Push(slot int, t types.Tuple) error {
	if err := checkSlot(j, slot, 2); err != nil {
		return err
	}
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.first != nil {
		// the stream already failed; drop the rest
		return nil
	}
	if slot == 1 {
		key, ok, err := joinKey(t, j.RightKeys)
		if err != nil || !ok {
			return err
		}
		j.table[key] = append(j.table[key], t)
		return nil
	}
	if !j.built {
		j.pending = append(j.pending, t)
		return nil
	}
	return j.probe(t)
}

func (j *HashJoinOperator) probe(left types.Tuple) error {
	key, ok, err := joinKey(left, j.LeftKeys)
	if err != nil || !ok {
		return err
	}
	for _, right := range j.table[key] {
		row := make(types.Tuple, 0, len(left)+len(right))
		row = append(row, left...)
		row = append(row, right...)
		if err := j.emit(row); err != nil {
			return err
		}
	}
	return nil
}

func (j *HashJoinOperator) Fin(slot int, st *Status) {
	if checkSlot(j, slot, 2) != nil {
		return
	}
	j.lock.Lock()
	j.done[slot] = true
	if st != nil && j.first == nil {
		j.first = st
	}
	if slot == 1 && j.first == nil {
		j.built = true
		for _, t := range j.pending {
			if err := j.probe(t); err != nil {
				j.first = failure(j, err)
				break
			}
		}
		j.pending = nil
	}
	all := j.done[0] && j.done[1]
	first := j.first
	j.lock.Unlock()
	if all {
		j.finish(first)
	}
}

func (j *HashJoinOperator) describe(func(Id) string) string {
	return fmt.Sprintf("hashJoin %s = %s", intsText(j.LeftKeys), intsText(j.RightKeys))
}
